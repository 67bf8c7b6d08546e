package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/qmsched/internal/retry"
	"github.com/tonimelisma/qmsched/internal/scheduling"
)

// maxParallelRequests bounds the fan-out of multi-ID get and rm.
const maxParallelRequests = 4

// dateLayouts are the accepted --date formats, tried in order. Layouts
// without a zone are read in local time.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List exam schedules",
		Args:  cobra.NoArgs,
		RunE:  runLs,
	}
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get ID...",
		Short: "Show one or more exam schedules",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runGet,
	}
}

func newBoardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "board",
		Short: "Show the tenant's schedule board",
		Args:  cobra.NoArgs,
		RunE:  runBoard,
	}
}

// scheduleFlags holds the field flags shared by add and update.
type scheduleFlags struct {
	examName string
	date     string
	location string
	active   bool
}

func (f *scheduleFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.examName, "exam", "", "exam name")
	cmd.Flags().StringVar(&f.date, "date", "", "exam date (RFC 3339, YYYY-MM-DD HH:MM, or YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.location, "location", "", "exam location")
	cmd.Flags().BoolVar(&f.active, "active", false, "whether the schedule is active")
}

func newAddCmd() *cobra.Command {
	var f scheduleFlags

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create an exam schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAdd(cmd, &f)
		},
	}

	f.bind(cmd)
	_ = cmd.MarkFlagRequired("exam")
	_ = cmd.MarkFlagRequired("date")

	return cmd
}

func newUpdateCmd() *cobra.Command {
	var f scheduleFlags

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Change fields of an exam schedule",
		Long:  "Change fields of an exam schedule. Only the flags given are sent; other fields keep their values.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(cmd, args[0], &f)
		},
	}

	f.bind(cmd)

	return cmd
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm ID...",
		Short: "Delete one or more exam schedules",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRm,
	}
}

func runLs(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := commandContext(cmd, logger)

	sess, err := openSession(resolvedCfg, logger)
	if err != nil {
		return err
	}

	list, err := retry.Do(ctx, sess.queries, "list schedules", sess.client.ListSchedules)
	if err != nil {
		return notLoggedIn(err)
	}

	return printSchedules(cmd.OutOrStdout(), list)
}

func runBoard(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := commandContext(cmd, logger)

	sess, err := openSession(resolvedCfg, logger)
	if err != nil {
		return err
	}

	board, err := retry.Do(ctx, sess.queries, "schedule board", sess.client.ScheduleBoard)
	if err != nil {
		return notLoggedIn(err)
	}

	return printSchedules(cmd.OutOrStdout(), board)
}

func runGet(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}

	logger := buildLogger()
	ctx := commandContext(cmd, logger)

	sess, err := openSession(resolvedCfg, logger)
	if err != nil {
		return err
	}

	out := make([]scheduling.Schedule, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelRequests)

	for i, id := range ids {
		g.Go(func() error {
			s, err := retry.Do(gctx, sess.queries, "get schedule", func(ctx context.Context) (*scheduling.Schedule, error) {
				return sess.client.GetSchedule(ctx, id)
			})
			if err != nil {
				return fmt.Errorf("schedule %d: %w", id, err)
			}

			out[i] = *s

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return notLoggedIn(err)
	}

	return printSchedules(cmd.OutOrStdout(), out)
}

func runAdd(cmd *cobra.Command, f *scheduleFlags) error {
	date, err := parseDate(f.date)
	if err != nil {
		return err
	}

	req := scheduling.CreateScheduleRequest{
		ExamName: f.examName,
		Date:     date,
		Location: f.location,
		Active:   f.active,
	}

	logger := buildLogger()
	ctx := commandContext(cmd, logger)

	sess, err := openSession(resolvedCfg, logger)
	if err != nil {
		return err
	}

	created, err := retry.Do(ctx, sess.mutations, "create schedule", func(ctx context.Context) (*scheduling.Schedule, error) {
		return sess.client.CreateSchedule(ctx, req)
	})
	if err != nil {
		return notLoggedIn(err)
	}

	logger.Info("schedule created", slog.Int64("id", created.ID))

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), created)
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Created schedule %d.\n", created.ID)

	return err
}

func runUpdate(cmd *cobra.Command, arg string, f *scheduleFlags) error {
	id, err := parseID(arg)
	if err != nil {
		return err
	}

	upd, err := f.update(cmd)
	if err != nil {
		return err
	}

	logger := buildLogger()
	ctx := commandContext(cmd, logger)

	sess, err := openSession(resolvedCfg, logger)
	if err != nil {
		return err
	}

	err = retry.Run(ctx, sess.mutations, "update schedule", func(ctx context.Context) error {
		return sess.client.UpdateSchedule(ctx, id, upd)
	})
	if err != nil {
		return notLoggedIn(err)
	}

	statusf(flagQuiet, "Updated schedule %d.\n", id)

	return nil
}

// update builds a partial update from the flags the user actually passed.
func (f *scheduleFlags) update(cmd *cobra.Command) (scheduling.ScheduleUpdate, error) {
	var upd scheduling.ScheduleUpdate

	flags := cmd.Flags()

	if flags.Changed("exam") {
		upd.ExamName = &f.examName
	}

	if flags.Changed("date") {
		date, err := parseDate(f.date)
		if err != nil {
			return upd, err
		}

		upd.Date = &date
	}

	if flags.Changed("location") {
		upd.Location = &f.location
	}

	if flags.Changed("active") {
		upd.Active = &f.active
	}

	if upd.IsEmpty() {
		return upd, errors.New("nothing to update: pass at least one of --exam, --date, --location, --active")
	}

	return upd, nil
}

func runRm(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}

	logger := buildLogger()
	ctx := commandContext(cmd, logger)

	sess, err := openSession(resolvedCfg, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelRequests)

	for _, id := range ids {
		g.Go(func() error {
			err := retry.Run(gctx, sess.mutations, "delete schedule", func(ctx context.Context) error {
				return sess.client.DeleteSchedule(ctx, id)
			})
			if err != nil {
				return fmt.Errorf("schedule %d: %w", id, err)
			}

			statusf(flagQuiet, "Deleted schedule %d.\n", id)

			return nil
		})
	}

	return notLoggedIn(g.Wait())
}

func printSchedules(w io.Writer, list []scheduling.Schedule) error {
	if flagJSON {
		if list == nil {
			list = []scheduling.Schedule{}
		}

		return printJSON(w, list)
	}

	rows := make([][]string, 0, len(list))
	for _, s := range list {
		rows = append(rows, []string{
			strconv.FormatInt(s.ID, 10),
			s.ExamName,
			formatTime(s.Date),
			s.Location,
			formatActive(s.Active),
		})
	}

	printTable(w, []string{"ID", "EXAM", "DATE", "LOCATION", "ACTIVE"}, rows)

	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid schedule ID %q", s)
	}

	return id, nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))

	for _, a := range args {
		id, err := parseID(a)
		if err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	return ids, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid date %q: use RFC 3339, YYYY-MM-DD HH:MM, or YYYY-MM-DD", s)
}
