// Package refresh obtains new access tokens for a scheduling session and
// collapses concurrent refresh requests into a single in-flight operation.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultTimeout bounds one refresh round trip.
const DefaultTimeout = 15 * time.Second

// ErrRefreshFailed wraps every refresh failure. The stored access token has
// been cleared by the time a caller sees it.
var ErrRefreshFailed = errors.New("refresh: token refresh failed")

// ErrNoRefreshToken is the cause when the session holds no refresh token.
var ErrNoRefreshToken = errors.New("refresh: no refresh token in session")

// State is the coordinator's refresh state.
type State int

const (
	Idle State = iota
	Refreshing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Refreshing:
		return "refreshing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Credentials is the part of the credential store the coordinator needs.
// It is the only writer of the access token.
type Credentials interface {
	RefreshToken() (string, bool)
	SetAccessToken(token string) error
	ClearAccessToken() error
}

// flight is one refresh operation. done is closed exactly once, after token
// and err are final, so every waiter reads the same outcome.
type flight struct {
	done    chan struct{}
	token   string
	err     error
	waiters int
}

// Coordinator runs at most one refresh at a time. Callers arriving while a
// refresh is running join it instead of starting another.
type Coordinator struct {
	creds   Credentials
	fetcher Fetcher
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	current *flight // nil when Idle
}

// NewCoordinator creates a Coordinator. A non-positive timeout selects
// DefaultTimeout.
func NewCoordinator(creds Credentials, fetcher Fetcher, timeout time.Duration, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Coordinator{
		creds:   creds,
		fetcher: fetcher,
		timeout: timeout,
		logger:  logger,
	}
}

// State reports whether a refresh is currently in flight.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		return Refreshing
	}

	return Idle
}

// Refresh returns a new access token, starting a refresh if none is running
// or joining the running one. All callers joined to the same refresh get the
// same token or the same error. Canceling ctx only stops this caller from
// waiting; the refresh itself runs to completion for the others.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	c.mu.Lock()

	f := c.current
	if f == nil {
		f = &flight{done: make(chan struct{})}
		c.current = f

		c.logger.Info("starting token refresh")

		go c.run(context.WithoutCancel(ctx), f)
	} else {
		c.logger.Debug("token refresh already in progress, joining")
	}

	f.waiters++
	c.mu.Unlock()

	select {
	case <-f.done:
		return f.token, f.err
	case <-ctx.Done():
		return "", fmt.Errorf("refresh: waiting for token: %w", ctx.Err())
	}
}

// run performs one refresh and publishes its outcome.
func (c *Coordinator) run(ctx context.Context, f *flight) {
	defer c.release(f)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()

	token, err := c.fetch(ctx)
	if err != nil {
		c.logger.Error("token refresh failed, clearing access token",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)),
		)

		if clearErr := c.creds.ClearAccessToken(); clearErr != nil {
			c.logger.Warn("failed to clear access token", slog.String("error", clearErr.Error()))
		}

		f.err = fmt.Errorf("%w: %w", ErrRefreshFailed, err)

		return
	}

	if storeErr := c.creds.SetAccessToken(token); storeErr != nil {
		c.logger.Error("failed to store refreshed token", slog.String("error", storeErr.Error()))
		f.err = fmt.Errorf("%w: %w", ErrRefreshFailed, storeErr)

		return
	}

	c.logger.Info("token refreshed", slog.Duration("elapsed", time.Since(start)))
	f.token = token
}

func (c *Coordinator) fetch(ctx context.Context) (string, error) {
	rt, ok := c.creds.RefreshToken()
	if !ok {
		return "", ErrNoRefreshToken
	}

	return c.fetcher.Fetch(ctx, rt)
}

// release returns the coordinator to Idle and wakes the waiters. Idle is
// restored first so a woken waiter that needs another refresh starts a new
// one rather than re-reading this outcome.
func (c *Coordinator) release(f *flight) {
	c.mu.Lock()
	c.current = nil
	waiters := f.waiters
	c.mu.Unlock()

	c.logger.Debug("token refresh settled", slog.Int("waiters", waiters))
	close(f.done)
}
