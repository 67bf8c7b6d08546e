// Package retry decides whether a failed scheduling operation is attempted
// again and how long to wait before doing so.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/qmsched/internal/scheduling"
)

// Defaults shared by the query and mutation policies.
const (
	DefaultMaxRetries = 3
	DefaultStep       = 10 * time.Second
	DefaultCap        = 30 * time.Second
)

// Policy is a linear backoff retry policy: the n-th retry waits
// min(n*Step, Cap).
type Policy struct {
	MaxRetries int
	Step       time.Duration
	Cap        time.Duration

	logger *slog.Logger

	// sleepFunc waits between attempts. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewPolicy creates a policy. Non-positive step or cap fall back to the
// defaults; a negative maxRetries means no retries.
func NewPolicy(maxRetries int, step, capDelay time.Duration, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}

	if maxRetries < 0 {
		maxRetries = 0
	}

	if step <= 0 {
		step = DefaultStep
	}

	if capDelay <= 0 {
		capDelay = DefaultCap
	}

	return &Policy{
		MaxRetries: maxRetries,
		Step:       step,
		Cap:        capDelay,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// Default returns the 3 retries, 10s step, 30s cap policy.
func Default(logger *slog.Logger) *Policy {
	return NewPolicy(DefaultMaxRetries, DefaultStep, DefaultCap, logger)
}

// ShouldRetry reports whether an operation that has already been retried
// `retries` times and just failed with err gets another attempt.
func (p *Policy) ShouldRetry(retries int, err error) bool {
	if err == nil || retries >= p.MaxRetries {
		return false
	}

	return Retryable(err)
}

// Retryable reports whether err is worth another attempt regardless of the
// retry budget: a 401 (the pipeline has refreshed the token by the time it
// returns one), any 5xx, or a request that got no response.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, scheduling.ErrAuthRequired), errors.Is(err, scheduling.ErrTenantMismatch):
		return false
	case scheduling.IsClientRejected(err):
		return false
	}

	if scheduling.StatusCode(err) == http.StatusUnauthorized {
		return true
	}

	return scheduling.IsTransportOrServer(err)
}

// Delay returns the wait before the n-th retry (1-based).
func (p *Policy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}

	d := time.Duration(n) * p.Step
	if d > p.Cap || d <= 0 {
		return p.Cap
	}

	return d
}

// Do runs op under policy p. Every attempt shares one operation id, which
// the scheduling client adds to its log lines. Each failure is logged before
// it is retried or returned.
func Do[T any](ctx context.Context, p *Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	opID := uuid.NewString()
	ctx = scheduling.WithOperationID(ctx, opID)

	logger := p.logger.With(slog.String("operation", name), slog.String("op_id", opID))

	for retries := 0; ; retries++ {
		result, err := op(ctx)
		if err == nil {
			if retries > 0 {
				logger.Info("operation succeeded after retries", slog.Int("retries", retries))
			}

			return result, nil
		}

		if !p.ShouldRetry(retries, err) {
			logger.Error("operation failed",
				slog.Int("attempts", retries+1),
				slog.Int("status", scheduling.StatusCode(err)),
				slog.String("error", err.Error()),
			)

			var zero T

			return zero, err
		}

		delay := p.Delay(retries + 1)
		logger.Warn("operation failed, retrying",
			slog.Int("attempt", retries+1),
			slog.Int("status", scheduling.StatusCode(err)),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)

		if sleepErr := p.sleepFunc(ctx, delay); sleepErr != nil {
			var zero T

			return zero, fmt.Errorf("retry: %s canceled: %w", name, sleepErr)
		}
	}
}

// Run is Do for operations that return only an error.
func Run(ctx context.Context, p *Policy, name string, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})

	return err
}

// timeSleep waits for d or until ctx is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
