package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/qmsched/internal/scheduling"
	"github.com/tonimelisma/qmsched/internal/sessionfile"
	"github.com/tonimelisma/qmsched/internal/tokens"
)

var flagRefreshToken string

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a tenant URL and refresh token and fetch a first access token",
		Long: `Store the tenant URL and refresh token in the session file, then exchange
the refresh token for an access token to prove the session works.

Pass --refresh-token - to read the refresh token from stdin.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}

	cmd.Flags().StringVar(&flagRefreshToken, "refresh-token", "", "refresh token issued for this tenant (- reads stdin)")
	_ = cmd.MarkFlagRequired("refresh-token")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved session",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the scheduler the session is authenticated as",
		Args:  cobra.NoArgs,
		RunE:  runWhoami,
	}
}

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print a usable access token, refreshing it if needed",
		Args:  cobra.NoArgs,
		RunE:  runToken,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := commandContext(cmd, logger)

	if resolvedCfg.TenantURL == "" {
		return errors.New("login needs a tenant URL: pass --tenant-url or set tenant_url")
	}

	refreshToken, err := readSecret(flagRefreshToken, cmd.InOrStdin())
	if err != nil {
		return err
	}

	sess, err := openSession(resolvedCfg, logger)
	if err != nil {
		return err
	}

	logger.Info("login started", slog.String("tenant", sess.store.Tenant()))

	// A new refresh token invalidates whatever access token the file held.
	if err := sess.store.ClearAccessToken(); err != nil {
		return err
	}

	if err := sess.store.SetRefreshToken(refreshToken); err != nil {
		return err
	}

	tok, err := sess.coord.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("exchanging refresh token: %w", err)
	}

	claims, err := tokens.Decode(tok)
	if err != nil {
		return fmt.Errorf("reading issued token: %w", err)
	}

	logger.Info("login successful", slog.String("tenant", sess.store.Tenant()), slog.String("subject", claims.Subject))
	statusf(flagQuiet, "Logged in as %s on tenant %s.\n", displayName(claims), sess.store.Tenant())

	return nil
}

// readSecret returns v, or the first line of r when v is "-".
func readSecret(v string, r io.Reader) (string, error) {
	if v != "-" {
		return strings.TrimSpace(v), nil
	}

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading refresh token: %w", err)
	}

	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("empty refresh token on stdin")
	}

	return line, nil
}

func runLogout(_ *cobra.Command, _ []string) error {
	logger := buildLogger()

	logger.Info("logout started", slog.String("session_file", resolvedCfg.SessionFile))

	if err := sessionfile.Remove(resolvedCfg.SessionFile); err != nil {
		return err
	}

	statusf(flagQuiet, "Logged out.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	Subject     string    `json:"subject"`
	Name        string    `json:"name,omitempty"`
	Tenant      string    `json:"tenant"`
	Permissions []string  `json:"permissions"`
	Expires     time.Time `json:"expires,omitzero"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := commandContext(cmd, logger)

	sess, err := openSession(resolvedCfg, logger)
	if err != nil {
		return err
	}

	tok, err := sess.client.Token(ctx)
	if err != nil {
		return notLoggedIn(err)
	}

	claims, err := tokens.Decode(tok)
	if err != nil {
		return fmt.Errorf("reading access token: %w", err)
	}

	out := whoamiOutput{
		Subject:     claims.Subject,
		Name:        claims.Name,
		Tenant:      sess.store.Tenant(),
		Permissions: claims.Permissions,
		Expires:     claims.Expiry,
	}

	if out.Permissions == nil {
		out.Permissions = []string{}
	}

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), out)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "User:        %s (%s)\n", displayName(claims), claims.Subject)
	fmt.Fprintf(w, "Tenant:      %s\n", out.Tenant)
	fmt.Fprintf(w, "Permissions: %s\n", strings.Join(out.Permissions, ", "))

	if !claims.Expiry.IsZero() {
		fmt.Fprintf(w, "Expires:     %s\n", claims.Expiry.Local().Format(time.RFC3339))
	}

	return nil
}

func runToken(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := commandContext(cmd, logger)

	sess, err := openSession(resolvedCfg, logger)
	if err != nil {
		return err
	}

	tok, err := sess.client.TokenSource(ctx).Token()
	if err != nil {
		return notLoggedIn(err)
	}

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), tok)
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), tok.AccessToken)

	return err
}

// notLoggedIn adds a hint to errors that only a new login can fix.
func notLoggedIn(err error) error {
	if errors.Is(err, scheduling.ErrAuthRequired) || errors.Is(err, scheduling.ErrTenantMismatch) {
		return fmt.Errorf("%w (run 'qmsched login')", err)
	}

	return err
}

func displayName(c *tokens.Claims) string {
	if c.Name != "" {
		return c.Name
	}

	return c.Subject
}
