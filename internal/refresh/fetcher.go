package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// maxErrorBody caps how much of a failed response is kept for the error.
const maxErrorBody = 4 << 10

// ErrEmptyToken is returned when the auth endpoint answers 2xx without a token.
var ErrEmptyToken = errors.New("refresh: response carried no token")

// StatusError reports a non-2xx answer from the auth endpoint.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("refresh: HTTP %d: %s", e.StatusCode, e.Message)
}

// Fetcher exchanges a refresh token for a new access token.
type Fetcher interface {
	Fetch(ctx context.Context, refreshToken string) (string, error)
}

// tokenResponse is the body returned by the auth endpoint.
type tokenResponse struct {
	Token string `json:"token"`
}

// HTTPFetcher calls GET {baseURL}/auth/token?refreshToken=... . The request
// is anonymous: no bearer token is attached.
type HTTPFetcher struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger
}

// NewHTTPFetcher creates a fetcher for the given scheduling API root.
func NewHTTPFetcher(baseURL string, httpClient *http.Client, userAgent string, logger *slog.Logger) *HTTPFetcher {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &HTTPFetcher{
		baseURL:    baseURL,
		httpClient: httpClient,
		userAgent:  userAgent,
		logger:     logger,
	}
}

// Fetch performs the refresh round trip.
func (f *HTTPFetcher) Fetch(ctx context.Context, refreshToken string) (string, error) {
	endpoint := f.baseURL + "/auth/token?refreshToken=" + url.QueryEscape(refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("refresh: creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	f.logger.Debug("calling refresh token endpoint", slog.String("url", f.baseURL+"/auth/token"))

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh: calling auth endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if readErr != nil {
			body = []byte("(failed to read response body)")
		}

		return "", &StatusError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("refresh: decoding response: %w", err)
	}

	if tr.Token == "" {
		return "", ErrEmptyToken
	}

	return tr.Token, nil
}
