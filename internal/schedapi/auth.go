package schedapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tonimelisma/qmsched/internal/tokens"
)

// Permissions granted to schedulers.
const (
	PermRead   = "schedule:read"
	PermCreate = "schedule:create"
	PermUpdate = "schedule:update"
	PermDelete = "schedule:delete"
)

// Authorization policies: read access, and full access for mutations.
var (
	readPolicy = []string{PermRead}
	allPolicy  = []string{PermRead, PermCreate, PermUpdate, PermDelete}
)

type claimsKey struct{}

func claimsFrom(ctx context.Context) *tokens.Claims {
	c, _ := ctx.Value(claimsKey{}).(*tokens.Claims)
	return c
}

// authenticate requires a valid bearer token whose tenantId claim matches
// the route tenant, ignoring case. Every failure is a 401.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			s.reject(w, r, http.StatusUnauthorized, "missing_bearer")
			return
		}

		if err := s.issuer.Verify(raw); err != nil {
			s.logger.Debug("token rejected", slog.String("error", err.Error()))
			s.reject(w, r, http.StatusUnauthorized, "invalid_token")

			return
		}

		claims, err := tokens.Decode(raw)
		if err != nil {
			s.reject(w, r, http.StatusUnauthorized, "invalid_token")
			return
		}

		if !s.validator.TenantMatches(raw, chi.URLParam(r, "tenantId")) {
			s.reject(w, r, http.StatusUnauthorized, "tenant_mismatch")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

// require rejects with 403 unless the caller holds every permission.
func (s *Server) require(perms []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := claimsFrom(r.Context())
			if claims == nil {
				s.reject(w, r, http.StatusUnauthorized, "missing_claims")
				return
			}

			for _, p := range perms {
				if !claims.HasPermission(p) {
					s.reject(w, r, http.StatusForbidden, "missing_permission")
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request, status int, reason string) {
	s.metrics.authFailures.WithLabelValues(reason).Inc()
	s.logger.Info("request rejected",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("reason", reason),
	)

	http.Error(w, http.StatusText(status), status)
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if len(h) < len("Bearer ") || !strings.EqualFold(h[:len("Bearer ")], "bearer ") {
		return "", false
	}

	tok := strings.TrimSpace(h[len("Bearer "):])

	return tok, tok != ""
}
