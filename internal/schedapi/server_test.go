package schedapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/qmsched/internal/scheduling"
)

const (
	fullAccessRefresh = "VeryLongRefreshToken-123"
	readOnlyRefresh   = "VeryLongRefreshToken-456"
)

type testServer struct {
	srv    *Server
	http   *httptest.Server
	issuer *Issuer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	issuer := NewIssuer(testSigningKey, time.Minute)
	srv := NewServer(newTestStore(t), issuer, nil)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testServer{srv: srv, http: ts, issuer: issuer}
}

func (ts *testServer) do(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, ts.http.URL+path, rd)
	require.NoError(t, err)

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.http.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func (ts *testServer) token(t *testing.T, tenant, refresh string) string {
	t.Helper()

	resp := ts.do(t, http.MethodGet, "/scheduling/"+tenant+"/api/auth/token?refreshToken="+refresh, "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.Token)

	return out.Token
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return string(b)
}

func TestHandleToken_InvalidRefreshToken(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/scheduling/acme/api/auth/token?refreshToken=bogus", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "Invalid refresh token.")
}

func TestListSchedules_RequiresBearer(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/scheduling/acme/api/schedules", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestListSchedules_WithToken(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(t, "acme", readOnlyRefresh)

	resp := ts.do(t, http.MethodGet, "/scheduling/acme/api/schedules", tok, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list []scheduling.Schedule
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Len(t, list, 3)
}

func TestTenantCheck_IsCaseInsensitive(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(t, "Acme", readOnlyRefresh)

	resp := ts.do(t, http.MethodGet, "/scheduling/ACME/api/schedules", tok, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/scheduling/globex/api/schedules", tok, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestExpiredToken_Unauthorized(t *testing.T) {
	ts := newTestServer(t)

	past := NewIssuer(testSigningKey, time.Minute)
	past.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }

	tok, err := past.Issue("acme", &Scheduler{UserID: "67890", Permissions: []string{PermRead}})
	require.NoError(t, err)

	resp := ts.do(t, http.MethodGet, "/scheduling/acme/api/schedules", tok, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMutations_RequireAllPolicy(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(t, "acme", readOnlyRefresh)

	resp := ts.do(t, http.MethodDelete, "/scheduling/acme/api/schedules/1", tok, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/scheduling/acme/api/schedules", tok,
		`{"examName":"Chem","date":"2026-11-01T09:00:00Z","location":"Lab","active":true}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestScheduleCRUD(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(t, "acme", fullAccessRefresh)

	resp := ts.do(t, http.MethodPost, "/scheduling/acme/api/schedules", tok,
		`{"examName":"Chemistry Exam","date":"2026-11-01T09:00:00Z","location":"Lab 2","active":false}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "/scheduling/acme/api/schedules/4", resp.Header.Get("Location"))

	var created scheduling.Schedule
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, int64(4), created.ID)

	resp = ts.do(t, http.MethodPatch, "/scheduling/acme/api/schedules/4", tok, `{"active":true}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/scheduling/acme/api/schedules/4", tok, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got scheduling.Schedule
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "Chemistry Exam", got.ExamName)
	assert.Equal(t, "Lab 2", got.Location)
	assert.True(t, got.Active)

	resp = ts.do(t, http.MethodDelete, "/scheduling/acme/api/schedules/4", tok, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodDelete, "/scheduling/acme/api/schedules/4", tok, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, http.MethodPatch, "/scheduling/acme/api/schedules/4", tok, `{"active":false}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBadRequests(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(t, "acme", fullAccessRefresh)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"non-numeric id", http.MethodGet, "/scheduling/acme/api/schedules/abc", ""},
		{"malformed json", http.MethodPost, "/scheduling/acme/api/schedules", `{"examName":`},
		{"missing exam name", http.MethodPost, "/scheduling/acme/api/schedules", `{"location":"x"}`},
		{"unknown field", http.MethodPatch, "/scheduling/acme/api/schedules/1", `{"room":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, tt.method, tt.path, tok, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestScheduleBoard_IncludesTenant(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(t, "acme", readOnlyRefresh)

	resp := ts.do(t, http.MethodGet, "/scheduling/acme/api/scheduleList", tok, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var board []scheduling.Schedule
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&board))
	require.Len(t, board, 4)
	assert.Equal(t, "Room 101", board[0].Location)
	assert.Equal(t, "acme", board[3].ExamName)
	assert.Equal(t, "acme", board[3].Location)
}

func TestHealthzAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", readBody(t, resp))

	ts.token(t, "acme", readOnlyRefresh)
	ts.do(t, http.MethodGet, "/scheduling/acme/api/schedules", "", "")

	resp = ts.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := readBody(t, resp)
	assert.Contains(t, body, `qmsched_auth_tokens_issued_total{tenant="acme"} 1`)
	assert.Contains(t, body, `qmsched_api_auth_failures_total{reason="missing_bearer"} 1`)
	assert.Contains(t, body, `route="/scheduling/{tenantId}/api/auth/token"`)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}

		got, ok := bearerToken(r)
		assert.Equal(t, tt.want, got, tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
	}
}
