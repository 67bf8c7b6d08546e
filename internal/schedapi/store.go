package schedapi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"

	"github.com/tonimelisma/qmsched/internal/scheduling"
)

// ErrNotFound is returned when a scheduler or schedule does not exist.
var ErrNotFound = errors.New("schedapi: not found")

const (
	sqlSchedulerByRefreshToken = `SELECT user_id, name, permissions FROM schedulers
		WHERE refresh_token = ?` //nolint:gosec // G101: lookup by value, no credential embedded

	sqlListSchedules = `SELECT id, exam_name, date, location, active FROM schedules ORDER BY id`

	sqlGetSchedule = `SELECT id, exam_name, date, location, active FROM schedules WHERE id = ?`

	sqlCountSchedules = `SELECT COUNT(*) FROM schedules`

	sqlInsertSchedule = `INSERT INTO schedules (exam_name, date, location, active) VALUES (?, ?, ?, ?)`

	sqlUpdateSchedule = `UPDATE schedules SET exam_name = ?, date = ?, location = ?, active = ? WHERE id = ?`

	sqlDeleteSchedule = `DELETE FROM schedules WHERE id = ?`
)

// Scheduler is a user who can obtain tokens with a refresh token.
type Scheduler struct {
	UserID      string
	Name        string
	Permissions []string
}

// Store keeps schedulers and schedules in SQLite. It is the sole writer
// to its database.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// OpenStore opens the SQLite database at dbPath, runs migrations, and seeds
// the demo schedules when the table is empty.
func OpenStore(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("schedapi: opening database %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger, nowFunc: time.Now}

	if err := s.seedSchedules(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("schedule store initialized", slog.String("db_path", dbPath))

	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// seedSchedules inserts the demo schedules, dated relative to now, into an
// empty table.
func (s *Store) seedSchedules(ctx context.Context) error {
	var n int
	if err := s.db.QueryRowContext(ctx, sqlCountSchedules).Scan(&n); err != nil {
		return fmt.Errorf("schedapi: counting schedules: %w", err)
	}

	if n > 0 {
		return nil
	}

	now := s.nowFunc().UTC()
	day := 24 * time.Hour

	seed := []scheduling.CreateScheduleRequest{
		{ExamName: "Math Exam", Date: now.Add(day), Location: "Small Room 1", Active: true},
		{ExamName: "Science Exam", Date: now.Add(2 * day), Location: "Room 202"},
		{ExamName: "History Exam", Date: now.Add(3 * day), Location: "Big Room 3", Active: true},
	}

	for _, req := range seed {
		if _, err := s.CreateSchedule(ctx, req); err != nil {
			return err
		}
	}

	s.logger.Info("seeded schedules", slog.Int("count", len(seed)))

	return nil
}

// SchedulerByRefreshToken finds the scheduler holding refreshToken.
func (s *Store) SchedulerByRefreshToken(ctx context.Context, refreshToken string) (*Scheduler, error) {
	var (
		sch   Scheduler
		perms string
	)

	err := s.db.QueryRowContext(ctx, sqlSchedulerByRefreshToken, refreshToken).Scan(&sch.UserID, &sch.Name, &perms)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("schedapi: looking up scheduler: %w", err)
	}

	for _, p := range strings.Split(perms, ",") {
		if p = strings.TrimSpace(p); p != "" {
			sch.Permissions = append(sch.Permissions, p)
		}
	}

	return &sch, nil
}

// ListSchedules returns every schedule ordered by id. The result is never nil.
func (s *Store) ListSchedules(ctx context.Context) ([]scheduling.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, sqlListSchedules)
	if err != nil {
		return nil, fmt.Errorf("schedapi: listing schedules: %w", err)
	}
	defer rows.Close()

	out := []scheduling.Schedule{}

	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, *sched)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schedapi: iterating schedules: %w", err)
	}

	return out, nil
}

// GetSchedule returns schedule id or ErrNotFound.
func (s *Store) GetSchedule(ctx context.Context, id int64) (*scheduling.Schedule, error) {
	return getSchedule(ctx, s.db, id)
}

// CreateSchedule inserts a schedule and returns it with its new id.
func (s *Store) CreateSchedule(ctx context.Context, req scheduling.CreateScheduleRequest) (*scheduling.Schedule, error) {
	res, err := s.db.ExecContext(ctx, sqlInsertSchedule,
		req.ExamName, formatDate(req.Date), req.Location, req.Active)
	if err != nil {
		return nil, fmt.Errorf("schedapi: inserting schedule: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("schedapi: reading schedule id: %w", err)
	}

	return &scheduling.Schedule{
		ID:       id,
		ExamName: req.ExamName,
		Date:     req.Date.UTC(),
		Location: req.Location,
		Active:   req.Active,
	}, nil
}

// UpdateSchedule merges upd into schedule id inside one transaction.
func (s *Store) UpdateSchedule(ctx context.Context, id int64, upd scheduling.ScheduleUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("schedapi: beginning update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	sched, err := getSchedule(ctx, tx, id)
	if err != nil {
		return err
	}

	ApplyUpdate(sched, upd)

	if _, err := tx.ExecContext(ctx, sqlUpdateSchedule,
		sched.ExamName, formatDate(sched.Date), sched.Location, sched.Active, id); err != nil {
		return fmt.Errorf("schedapi: updating schedule %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("schedapi: committing update: %w", err)
	}

	return nil
}

// DeleteSchedule removes schedule id or returns ErrNotFound.
func (s *Store) DeleteSchedule(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, sqlDeleteSchedule, id)
	if err != nil {
		return fmt.Errorf("schedapi: deleting schedule %d: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("schedapi: deleting schedule %d: %w", id, err)
	}

	if n == 0 {
		return ErrNotFound
	}

	return nil
}

// ApplyUpdate copies every non-nil field of upd onto sched.
func ApplyUpdate(sched *scheduling.Schedule, upd scheduling.ScheduleUpdate) {
	if upd.ExamName != nil {
		sched.ExamName = *upd.ExamName
	}

	if upd.Date != nil {
		sched.Date = upd.Date.UTC()
	}

	if upd.Location != nil {
		sched.Location = *upd.Location
	}

	if upd.Active != nil {
		sched.Active = *upd.Active
	}
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getSchedule(ctx context.Context, q queryRower, id int64) (*scheduling.Schedule, error) {
	sched, err := scanSchedule(q.QueryRowContext(ctx, sqlGetSchedule, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	return sched, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*scheduling.Schedule, error) {
	var (
		sched scheduling.Schedule
		date  string
	)

	if err := row.Scan(&sched.ID, &sched.ExamName, &date, &sched.Location, &sched.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("schedapi: scanning schedule: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, date)
	if err != nil {
		return nil, fmt.Errorf("schedapi: schedule %d has invalid date %q: %w", sched.ID, date, err)
	}

	sched.Date = t

	return &sched, nil
}

func formatDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
