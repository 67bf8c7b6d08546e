package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tonimelisma/qmsched/internal/config"
	"github.com/tonimelisma/qmsched/internal/refresh"
	"github.com/tonimelisma/qmsched/internal/retry"
	"github.com/tonimelisma/qmsched/internal/scheduling"
	"github.com/tonimelisma/qmsched/internal/session"
	"github.com/tonimelisma/qmsched/internal/tokens"
)

// apiSession bundles everything a command needs to talk to the scheduling
// API: the persisted credentials, the refresh coordinator, the client, and
// the retry policies for reads and writes.
type apiSession struct {
	backend   *session.FileBackend
	store     *session.Store
	coord     *refresh.Coordinator
	client    *scheduling.Client
	validator *tokens.Validator

	queries   *retry.Policy
	mutations *retry.Policy
}

// openSession wires the client stack for cfg. A tenant URL from config or
// flags replaces the one stored in the session file.
func openSession(cfg *config.Resolved, logger *slog.Logger) (*apiSession, error) {
	backend, err := session.OpenFileBackend(cfg.SessionFile)
	if err != nil {
		return nil, err
	}

	if cfg.TenantURL != "" {
		if stored, _ := backend.Get(session.KeyTenantURL); stored != cfg.TenantURL {
			if err := backend.Set(session.KeyTenantURL, cfg.TenantURL); err != nil {
				return nil, fmt.Errorf("saving tenant URL: %w", err)
			}
		}
	}

	store, err := session.NewStore(backend)
	if err != nil {
		if errors.Is(err, session.ErrConfig) {
			return nil, fmt.Errorf("%w (run 'qmsched login' or set tenant_url)", err)
		}

		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.RequestTimeout}

	fetcher := refresh.NewHTTPFetcher(store.BaseURL(), httpClient, cfg.UserAgent, logger)
	coord := refresh.NewCoordinator(store, fetcher, cfg.RefreshTimeout, logger)
	validator := tokens.NewValidator(cfg.TokenLeeway)

	client := scheduling.NewClient(store, coord, validator, httpClient, cfg.UserAgent, logger)
	client.SetRequestRate(cfg.RequestsPerSecond, 1)

	return &apiSession{
		backend:   backend,
		store:     store,
		coord:     coord,
		client:    client,
		validator: validator,
		queries:   newPolicy(cfg.QueryRetry, logger),
		mutations: newPolicy(cfg.MutationRetry, logger),
	}, nil
}

func newPolicy(s config.RetrySettings, logger *slog.Logger) *retry.Policy {
	return retry.NewPolicy(s.MaxRetries, s.Step, s.Cap, logger)
}
