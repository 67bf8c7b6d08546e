package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/qmsched/internal/refresh"
	"github.com/tonimelisma/qmsched/internal/session"
	"github.com/tonimelisma/qmsched/internal/tokens"
)

const apiPrefix = "/scheduling/acme/api"

// fakeAPI serves the auth endpoint and the protected API for one tenant,
// counting calls to each.
type fakeAPI struct {
	refreshStatus int    // 0 means 200
	issue         string // token handed out by the auth endpoint
	refreshDelay  time.Duration
	apiHandler    http.HandlerFunc

	refreshCalls atomic.Int32
	apiCalls     atomic.Int32
	lastAuth     atomic.Value
	lastMethod   atomic.Value
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == apiPrefix+"/auth/token" {
		f.refreshCalls.Add(1)
		time.Sleep(f.refreshDelay)

		if f.refreshStatus != 0 {
			http.Error(w, "Invalid refresh token.", f.refreshStatus)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"token": f.issue})

		return
	}

	f.apiCalls.Add(1)
	f.lastAuth.Store(r.Header.Get("Authorization"))
	f.lastMethod.Store(r.Method)

	if f.apiHandler != nil {
		f.apiHandler(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`[]`))
}

type testEnv struct {
	api    *fakeAPI
	srv    *httptest.Server
	store  *session.Store
	coord  *refresh.Coordinator
	client *Client
}

func newTestEnv(t *testing.T, api *fakeAPI) *testEnv {
	t.Helper()

	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	store, err := session.NewStore(session.NewMemoryBackend(map[string]string{
		session.KeyTenantURL:    srv.URL + "/portal/acme",
		session.KeyRefreshToken: "VeryLongRefreshToken-123",
	}))
	require.NoError(t, err)

	logger := slog.Default()
	fetcher := refresh.NewHTTPFetcher(store.BaseURL(), srv.Client(), "test-agent", logger)
	coord := refresh.NewCoordinator(store, fetcher, time.Second, logger)
	client := NewClient(store, coord, tokens.NewValidator(0), srv.Client(), "test-agent", logger)

	return &testEnv{api: api, srv: srv, store: store, coord: coord, client: client}
}

var testKey = []byte("scheduling-test-key-0123456789abcdef")

func testJWT(t *testing.T, tenant string, exp time.Time) string {
	t.Helper()

	tok, err := jwt.NewBuilder().
		Subject("12345").
		Expiration(exp).
		Claim("tenantId", tenant).
		Build()
	require.NoError(t, err)

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, testKey))
	require.NoError(t, err)

	return string(signed)
}

func TestDo_AbsentTokenRefreshesFirst(t *testing.T) {
	env := newTestEnv(t, &fakeAPI{issue: "token123"})

	resp, err := env.client.Do(context.Background(), http.MethodGet, "/schedules", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(1), env.api.refreshCalls.Load())
	assert.Equal(t, int32(1), env.api.apiCalls.Load())
	assert.Equal(t, "Bearer token123", env.api.lastAuth.Load())

	stored, ok := env.store.AccessToken()
	assert.True(t, ok)
	assert.Equal(t, "token123", stored)
}

func TestDo_UsableTokenSkipsRefresh(t *testing.T) {
	env := newTestEnv(t, &fakeAPI{issue: "unused"})
	held := testJWT(t, "acme", time.Now().Add(time.Hour))
	require.NoError(t, env.store.SetAccessToken(held))

	resp, err := env.client.Do(context.Background(), http.MethodGet, "/schedules", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(0), env.api.refreshCalls.Load())
	assert.Equal(t, "Bearer "+held, env.api.lastAuth.Load())
}

func TestDo_ExpiredTokenRefreshedProactively(t *testing.T) {
	fresh := testJWT(t, "acme", time.Now().Add(time.Hour))
	env := newTestEnv(t, &fakeAPI{issue: fresh})
	require.NoError(t, env.store.SetAccessToken(testJWT(t, "acme", time.Now().Add(-time.Minute))))

	resp, err := env.client.Do(context.Background(), http.MethodGet, "/schedules", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(1), env.api.refreshCalls.Load())
	assert.Equal(t, "Bearer "+fresh, env.api.lastAuth.Load())
}

func TestDo_TenantCaseInsensitive(t *testing.T) {
	env := newTestEnv(t, &fakeAPI{issue: "unused"})
	require.NoError(t, env.store.SetAccessToken(testJWT(t, "ACME", time.Now().Add(time.Hour))))

	resp, err := env.client.Do(context.Background(), http.MethodGet, "/schedules", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(0), env.api.refreshCalls.Load())
}

func TestDo_TenantMismatchAfterRefresh(t *testing.T) {
	env := newTestEnv(t, &fakeAPI{issue: testJWT(t, "globex", time.Now().Add(time.Hour))})
	require.NoError(t, env.store.SetAccessToken(testJWT(t, "globex", time.Now().Add(time.Hour))))

	_, err := env.client.Do(context.Background(), http.MethodGet, "/schedules", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTenantMismatch)
	assert.NotErrorIs(t, err, ErrAuthRequired)
	assert.Equal(t, int32(1), env.api.refreshCalls.Load())
	assert.Equal(t, int32(0), env.api.apiCalls.Load())
}

func TestDo_RefreshNotFoundThenAuthRequired(t *testing.T) {
	env := newTestEnv(t, &fakeAPI{refreshStatus: http.StatusNotFound})
	require.NoError(t, env.store.SetAccessToken("stale-token"))

	_, err := env.client.Do(context.Background(), http.MethodGet, "/schedules", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthRequired)
	assert.ErrorIs(t, err, refresh.ErrRefreshFailed)

	_, ok := env.store.AccessToken()
	assert.False(t, ok, "failed refresh must clear the stored token")

	_, err = env.client.Do(context.Background(), http.MethodDelete, "/schedules/1", nil)
	assert.ErrorIs(t, err, ErrAuthRequired)

	assert.Equal(t, int32(0), env.api.apiCalls.Load(), "no API request may be sent without a token")
}

func TestDo_UnauthorizedOnDeleteRefreshesOnceAndDoesNotResend(t *testing.T) {
	fresh := testJWT(t, "acme", time.Now().Add(time.Hour))
	env := newTestEnv(t, &fakeAPI{
		issue: fresh,
		apiHandler: func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "token revoked", http.StatusUnauthorized)
		},
	})
	require.NoError(t, env.store.SetAccessToken(testJWT(t, "acme", time.Now().Add(time.Hour))))

	err := env.client.DeleteSchedule(context.Background(), 7)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))

	assert.Equal(t, int32(1), env.api.apiCalls.Load(), "DELETE must not be re-sent")
	assert.Equal(t, http.MethodDelete, env.api.lastMethod.Load())
	assert.Equal(t, int32(1), env.api.refreshCalls.Load())

	stored, _ := env.store.AccessToken()
	assert.Equal(t, fresh, stored, "refresh after 401 stores the new token for the next attempt")
}

func TestDo_UnauthorizedWaitsForRefreshToSettle(t *testing.T) {
	const delay = 200 * time.Millisecond

	fresh := testJWT(t, "acme", time.Now().Add(time.Hour))
	env := newTestEnv(t, &fakeAPI{
		issue:        fresh,
		refreshDelay: delay,
		apiHandler: func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "token revoked", http.StatusUnauthorized)
		},
	})
	require.NoError(t, env.store.SetAccessToken(testJWT(t, "acme", time.Now().Add(time.Hour))))

	start := time.Now()
	_, err := env.client.ListSchedules(context.Background())
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrUnauthorized)
	assert.GreaterOrEqual(t, elapsed, delay, "401 returns after the refresh completes")
	assert.Equal(t, refresh.Idle, env.coord.State())
	assert.Equal(t, int32(1), env.api.refreshCalls.Load())
	assert.Equal(t, int32(1), env.api.apiCalls.Load())

	stored, _ := env.store.AccessToken()
	assert.Equal(t, fresh, stored)
}

func TestDo_ConcurrentCallersShareOneRefresh(t *testing.T) {
	const callers = 16

	fresh := testJWT(t, "acme", time.Now().Add(time.Hour))
	// The delay keeps the refresh in flight while every caller arrives.
	env := newTestEnv(t, &fakeAPI{issue: fresh, refreshDelay: 50 * time.Millisecond})

	var g errgroup.Group
	for range callers {
		g.Go(func() error {
			_, err := env.client.ListSchedules(context.Background())
			return err
		})
	}

	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), env.api.refreshCalls.Load())
	assert.Equal(t, int32(callers), env.api.apiCalls.Load())
}

func TestDo_ErrorClassification(t *testing.T) {
	tests := []struct {
		name           string
		status         int
		sentinel       error
		clientRejected bool
		serverError    bool
	}{
		{"bad request", http.StatusBadRequest, ErrBadRequest, true, false},
		{"forbidden", http.StatusForbidden, ErrForbidden, true, false},
		{"not found", http.StatusNotFound, ErrNotFound, true, false},
		{"conflict", http.StatusConflict, ErrConflict, true, false},
		{"server error", http.StatusInternalServerError, ErrServerError, false, true},
		{"bad gateway", http.StatusBadGateway, ErrServerError, false, true},
		{"teapot", http.StatusTeapot, ErrUnexpected, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, &fakeAPI{
				issue: "unused",
				apiHandler: func(w http.ResponseWriter, _ *http.Request) {
					http.Error(w, "nope", tt.status)
				},
			})
			require.NoError(t, env.store.SetAccessToken(testJWT(t, "acme", time.Now().Add(time.Hour))))

			_, err := env.client.Do(context.Background(), http.MethodGet, "/schedules/1", nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, tt.clientRejected, IsClientRejected(err))
			assert.Equal(t, tt.serverError, IsTransportOrServer(err))

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, "/schedules/1", apiErr.Path)
			assert.Contains(t, apiErr.Message, "nope")
			assert.Equal(t, int32(0), env.api.refreshCalls.Load())
		})
	}
}

func TestDo_TransportError(t *testing.T) {
	env := newTestEnv(t, &fakeAPI{issue: "unused"})
	require.NoError(t, env.store.SetAccessToken(testJWT(t, "acme", time.Now().Add(time.Hour))))
	env.srv.Close()

	_, err := env.client.Do(context.Background(), http.MethodGet, "/schedules", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.True(t, IsTransportOrServer(err))
	assert.Equal(t, 0, StatusCode(err))
}

func TestDo_CanceledContext(t *testing.T) {
	env := newTestEnv(t, &fakeAPI{issue: "unused"})
	require.NoError(t, env.store.SetAccessToken(testJWT(t, "acme", time.Now().Add(time.Hour))))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.client.Do(ctx, http.MethodGet, "/schedules", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTransport)
}

func TestDo_SetsHeaders(t *testing.T) {
	var gotCT, gotUA string

	env := newTestEnv(t, &fakeAPI{
		issue: "token123",
		apiHandler: func(w http.ResponseWriter, r *http.Request) {
			gotCT = r.Header.Get("Content-Type")
			gotUA = r.Header.Get("User-Agent")
			w.WriteHeader(http.StatusNoContent)
		},
	})

	resp, err := env.client.Do(context.Background(), http.MethodPost, "/schedules", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "application/json", gotCT)
	assert.Equal(t, "test-agent", gotUA)
}

func TestSetRequestRate(t *testing.T) {
	env := newTestEnv(t, &fakeAPI{issue: "token123"})
	env.client.SetRequestRate(1000, 1)
	require.NotNil(t, env.client.limiter)

	_, err := env.client.ListSchedules(context.Background())
	require.NoError(t, err)

	env.client.SetRequestRate(0, 0)
	assert.Nil(t, env.client.limiter)
}

func TestTokenSource(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	fresh := testJWT(t, "acme", exp)
	env := newTestEnv(t, &fakeAPI{issue: fresh})

	tok, err := env.client.TokenSource(context.Background()).Token()
	require.NoError(t, err)
	assert.Equal(t, fresh, tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.True(t, tok.Expiry.Equal(exp))
	assert.True(t, tok.Valid())
}

func TestTokenSource_AuthRequired(t *testing.T) {
	env := newTestEnv(t, &fakeAPI{refreshStatus: http.StatusNotFound})

	_, err := env.client.TokenSource(context.Background()).Token()
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func TestOperationID(t *testing.T) {
	ctx := WithOperationID(context.Background(), "op-1")
	assert.Equal(t, "op-1", OperationID(ctx))
	assert.Empty(t, OperationID(context.Background()))
}

func TestAPIError_Message(t *testing.T) {
	err := &APIError{StatusCode: 404, Method: "GET", Path: "/schedules/9", Err: ErrNotFound}
	assert.Equal(t, "scheduling: GET /schedules/9: HTTP 404", err.Error())
	assert.True(t, errors.Is(err, ErrNotFound))

	err.Message = "missing"
	assert.Contains(t, err.Error(), "missing")
}
