package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/qmsched/internal/schedapi"
)

const (
	serverReadHeaderTimeout = 10 * time.Second
	serverShutdownTimeout   = 10 * time.Second
	ephemeralKeyBytes       = 32
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local scheduling API server",
		Long: `Run a local scheduling API server backed by SQLite. It issues short-lived
access tokens for the seeded refresh tokens and serves the schedule endpoints
for any tenant, so the client commands can be exercised end to end.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().String("listen", "", "listen address (host:port)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := commandContext(cmd, logger)

	key, err := signingKey(resolvedCfg.SigningKey, logger)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(resolvedCfg.DatabasePath), 0o700); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}

	store, err := schedapi.OpenStore(ctx, resolvedCfg.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	srv := schedapi.NewServer(store, schedapi.NewIssuer(key, resolvedCfg.TokenTTL), logger)

	ln, err := net.Listen("tcp", resolvedCfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", resolvedCfg.ListenAddr, err)
	}

	statusf(flagQuiet, "Serving scheduling API on http://%s\n", ln.Addr())

	return serveUntilDone(ctx, ln, srv.Handler(), logger)
}

// serveUntilDone serves h on ln until ctx is canceled, then drains
// in-flight requests.
func serveUntilDone(ctx context.Context, ln net.Listener, h http.Handler, logger *slog.Logger) error {
	httpSrv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: serverReadHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- httpSrv.Serve(ln)
	}()

	logger.Info("server started", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverShutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving: %w", err)
	}

	return nil
}

// signingKey returns the configured key, or a random one when none is set.
// Tokens signed with a random key do not survive a restart.
func signingKey(configured string, logger *slog.Logger) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}

	key := make([]byte, ephemeralKeyBytes)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}

	logger.Warn("no signing_key configured, using an ephemeral key")

	return key, nil
}
