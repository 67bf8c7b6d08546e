// Package schedapi is a stand-in for the tenant scheduling API: refresh
// token exchange, JWT-protected schedule CRUD, and a schedule board. It backs
// "qmsched serve" and the end-to-end tests of the client.
package schedapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tonimelisma/qmsched/internal/scheduling"
	"github.com/tonimelisma/qmsched/internal/tokens"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Server serves the scheduling API.
type Server struct {
	store     *Store
	issuer    *Issuer
	validator *tokens.Validator
	metrics   *metrics
	logger    *slog.Logger
	nowFunc   func() time.Time
}

// NewServer creates a server over store, issuing tokens with issuer.
func NewServer(store *Store, issuer *Issuer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		store:     store,
		issuer:    issuer,
		validator: tokens.NewValidator(0),
		metrics:   newMetrics(),
		logger:    logger,
		nowFunc:   time.Now,
	}
}

// Handler returns the HTTP handler for all routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", s.metrics.handler())

	r.Route("/scheduling/{tenantId}/api", func(r chi.Router) {
		r.Get("/auth/token", s.handleToken)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.With(s.require(readPolicy)).Get("/schedules", s.handleListSchedules)
			r.With(s.require(readPolicy)).Get("/schedules/{id}", s.handleGetSchedule)
			r.With(s.require(allPolicy)).Post("/schedules", s.handleCreateSchedule)
			r.With(s.require(allPolicy)).Patch("/schedules/{id}", s.handleUpdateSchedule)
			r.With(s.require(allPolicy)).Delete("/schedules/{id}", s.handleDeleteSchedule)
			r.With(s.require(readPolicy)).Get("/scheduleList", s.handleScheduleBoard)
		})
	})

	return r
}

// instrument counts every request by its matched route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		s.metrics.requests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		s.logger.Debug("handled request",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenantId")

	sch, err := s.store.SchedulerByRefreshToken(r.Context(), r.URL.Query().Get("refreshToken"))
	if errors.Is(err, ErrNotFound) {
		s.metrics.authFailures.WithLabelValues("invalid_refresh_token").Inc()
		http.Error(w, "Invalid refresh token.", http.StatusNotFound)

		return
	}

	if err != nil {
		s.internalError(w, err)
		return
	}

	tok, err := s.issuer.Issue(tenant, sch)
	if err != nil {
		s.internalError(w, err)
		return
	}

	s.metrics.tokensIssued.WithLabelValues(tenant).Inc()
	s.logger.Info("issued access token", slog.String("tenant", tenant), slog.String("sub", sch.UserID))

	writeJSON(w, http.StatusOK, map[string]string{"token": tok})
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListSchedules(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := scheduleID(w, r)
	if !ok {
		return
	}

	sched, err := s.store.GetSchedule(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	if err != nil {
		s.internalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sched)
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduling.CreateScheduleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if req.ExamName == "" {
		http.Error(w, "examName is required", http.StatusBadRequest)
		return
	}

	sched, err := s.store.CreateSchedule(r.Context(), req)
	if err != nil {
		s.internalError(w, err)
		return
	}

	w.Header().Set("Location",
		fmt.Sprintf("/scheduling/%s/api/schedules/%d", chi.URLParam(r, "tenantId"), sched.ID))
	writeJSON(w, http.StatusCreated, sched)
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := scheduleID(w, r)
	if !ok {
		return
	}

	var upd scheduling.ScheduleUpdate
	if !decodeBody(w, r, &upd) {
		return
	}

	err := s.store.UpdateSchedule(r.Context(), id, upd)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	if err != nil {
		s.internalError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := scheduleID(w, r)
	if !ok {
		return
	}

	err := s.store.DeleteSchedule(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	if err != nil {
		s.internalError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleScheduleBoard returns a fixed board whose last entry names the
// caller's tenant.
func (s *Server) handleScheduleBoard(w http.ResponseWriter, r *http.Request) {
	tenant := ""
	if c := claimsFrom(r.Context()); c != nil {
		tenant = c.TenantID
	}

	now := s.nowFunc().UTC()
	day := 24 * time.Hour

	writeJSON(w, http.StatusOK, []scheduling.Schedule{
		{ID: 1, ExamName: "Math Exam", Date: now.Add(day), Location: "Room 101"},
		{ID: 2, ExamName: "Science Exam", Date: now.Add(2 * day), Location: "Room 202"},
		{ID: 3, ExamName: "History Exam", Date: now.Add(3 * day), Location: "Room 303"},
		{ID: 4, ExamName: tenant, Date: now.Add(4 * day), Location: tenant},
	})
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.logger.Error("request failed", slog.String("error", err.Error()))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func scheduleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid schedule id", http.StatusBadRequest)
		return 0, false
	}

	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}

	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
