package scheduling

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/tonimelisma/qmsched/internal/tokens"
)

// maxErrorBody caps how much of an error response is kept on APIError.
const maxErrorBody = 64 << 10

const defaultUserAgent = "qmsched/0.1"

// Credentials is the read side of the credential store.
type Credentials interface {
	AccessToken() (string, bool)
	BaseURL() string
	Tenant() string
}

// Refresher obtains a new access token, joining any refresh already running.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// TokenValidator decides whether a held token may be sent.
type TokenValidator interface {
	IsUsable(token string) bool
	TenantMatches(token, tenant string) bool
}

// Client sends authenticated requests to the scheduling API. It never
// re-sends a request on its own: on 401 it refreshes the token once and
// returns the failure, leaving replay to the caller's retry policy.
type Client struct {
	creds      Credentials
	refresher  Refresher
	validator  TokenValidator
	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger

	// limiter paces outgoing requests. Nil means unlimited.
	limiter *rate.Limiter
}

// NewClient creates a scheduling API client.
func NewClient(
	creds Credentials,
	refresher Refresher,
	validator TokenValidator,
	httpClient *http.Client,
	userAgent string,
	logger *slog.Logger,
) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &Client{
		creds:      creds,
		refresher:  refresher,
		validator:  validator,
		httpClient: httpClient,
		userAgent:  userAgent,
		logger:     logger,
	}
}

// SetRequestRate limits outgoing API requests to rps per second with the
// given burst. rps <= 0 removes the limit. Not safe to call concurrently
// with Do.
func (c *Client) SetRequestRate(rps float64, burst int) {
	if rps <= 0 {
		c.limiter = nil
		return
	}

	if burst < 1 {
		burst = 1
	}

	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// BaseURL returns the scheduling API root requests are sent to.
func (c *Client) BaseURL() string {
	return c.creds.BaseURL()
}

// Do executes one authenticated request. path is appended to the session's
// scheduling base URL. For non-nil bodies, Content-Type is set to
// application/json. The caller closes the response body on success.
//
// A 401 is returned only after the refresh it triggers has settled, so it
// can take up to the coordinator's refresh timeout to come back.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	logger := c.requestLogger(ctx, method, path)
	logger.Info("api request")

	token, err := c.acquireToken(ctx, logger)
	if err != nil {
		return nil, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("scheduling: waiting for request slot: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.creds.BaseURL()+path, body)
	if err != nil {
		return nil, fmt.Errorf("scheduling: creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("scheduling: request canceled: %w", ctx.Err())
		}

		logger.Warn("request failed without response", slog.String("error", err.Error()))

		return nil, fmt.Errorf("%w: %s %s: %w", ErrTransport, method, path, err)
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		logger.Debug("request succeeded", slog.Int("status", resp.StatusCode))

		return resp, nil
	}

	errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()

	if readErr != nil {
		errBody = []byte("(failed to read response body)")
	}

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Method:     method,
		Path:       path,
		Message:    string(errBody),
		Err:        classifyStatus(resp.StatusCode),
	}

	if resp.StatusCode == http.StatusUnauthorized {
		logger.Warn("received 401, refreshing token")
		c.refreshAfterUnauthorized(ctx, logger)

		return nil, apiErr
	}

	logger.Warn("request failed", slog.Int("status", resp.StatusCode))

	return nil, apiErr
}

// Token returns a token the next request would be sent with, refreshing
// first if the held one is not usable.
func (c *Client) Token(ctx context.Context) (string, error) {
	return c.acquireToken(ctx, c.logger)
}

// acquireToken returns the held token if it can be sent, otherwise refreshes.
// A refresh failure becomes ErrAuthRequired: nothing is sent without a token.
func (c *Client) acquireToken(ctx context.Context, logger *slog.Logger) (string, error) {
	tok, ok := c.creds.AccessToken()

	switch {
	case !ok:
		logger.Info("no access token, refreshing")
	case !c.validator.IsUsable(tok):
		logger.Info("access token expired or unreadable, refreshing")
	case c.tenantConflict(tok):
		logger.Warn("access token belongs to another tenant, refreshing",
			slog.String("tenant", c.creds.Tenant()),
		)
	default:
		return tok, nil
	}

	tok, err := c.refresher.Refresh(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("scheduling: request canceled: %w", ctx.Err())
		}

		logger.Error("cannot obtain access token, request not sent", slog.String("error", err.Error()))

		return "", fmt.Errorf("%w: %w", ErrAuthRequired, err)
	}

	if c.tenantConflict(tok) {
		logger.Error("refreshed token belongs to another tenant, request not sent",
			slog.String("tenant", c.creds.Tenant()),
		)

		return "", ErrTenantMismatch
	}

	return tok, nil
}

// tenantConflict reports whether tok names a tenant other than the session's.
// Tokens without a readable tenantId claim are left for the server to judge.
func (c *Client) tenantConflict(tok string) bool {
	claims, err := tokens.Decode(tok)
	if err != nil || claims.TenantID == "" {
		return false
	}

	return !c.validator.TenantMatches(tok, c.creds.Tenant())
}

// refreshAfterUnauthorized runs one coordinated refresh. Its outcome is only
// logged: the caller gets the original 401 either way, and a retry picks up
// whatever token the refresh stored.
func (c *Client) refreshAfterUnauthorized(ctx context.Context, logger *slog.Logger) {
	if _, err := c.refresher.Refresh(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			logger.Debug("refresh after 401 abandoned", slog.String("error", err.Error()))
			return
		}

		logger.Warn("refresh after 401 failed", slog.String("error", err.Error()))

		return
	}

	logger.Info("token refreshed after 401")
}

func (c *Client) requestLogger(ctx context.Context, method, path string) *slog.Logger {
	logger := c.logger.With(
		slog.String("method", method),
		slog.String("target", c.creds.BaseURL()+path),
	)

	if id := OperationID(ctx); id != "" {
		logger = logger.With(slog.String("op_id", id))
	}

	return logger
}
