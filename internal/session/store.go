// Package session implements the credential store: the tenant URL, access
// token, and refresh token of one scheduling session, held behind a
// pluggable Backend so tests can substitute an in-memory one.
package session

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// ErrConfig is returned by NewStore when the tenant URL is missing or cannot
// be turned into a scheduling API root. No API call is possible without it.
var ErrConfig = errors.New("session: base URL not configured")

// tenantSegment is the index of the tenant in the tenant URL path,
// e.g. https://qm.example.com/portal/<tenant>/...
const tenantSegment = 1

// Store is the credential store for one session. The scheduling base URL is
// derived once at construction; tokens are read and written through the
// backend on every call.
type Store struct {
	// mu serializes read-modify-write sequences across keys.
	mu      sync.RWMutex
	backend Backend

	tenantURL string
	baseURL   string
	tenant    string
}

// NewStore creates a Store over backend. It fails with ErrConfig when the
// backend holds no usable tenant URL.
func NewStore(backend Backend) (*Store, error) {
	tenantURL, ok := backend.Get(KeyTenantURL)
	if !ok || strings.TrimSpace(tenantURL) == "" {
		return nil, ErrConfig
	}

	baseURL, tenant, err := DeriveBaseURL(tenantURL)
	if err != nil {
		return nil, err
	}

	return &Store{
		backend:   backend,
		tenantURL: tenantURL,
		baseURL:   baseURL,
		tenant:    tenant,
	}, nil
}

// DeriveBaseURL splits a tenant URL into its domain and tenant segment and
// rewrites it to the scheduling API root:
//
//	https://qm.example.com/portal/acme/home -> https://qm.example.com/scheduling/acme/api
func DeriveBaseURL(tenantURL string) (baseURL, tenant string, err error) {
	u, err := url.Parse(strings.TrimSpace(tenantURL))
	if err != nil {
		return "", "", fmt.Errorf("%w: parsing %q: %w", ErrConfig, tenantURL, err)
	}

	if u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("%w: %q is not an absolute URL", ErrConfig, tenantURL)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) <= tenantSegment || segments[tenantSegment] == "" {
		return "", "", fmt.Errorf("%w: %q has no tenant segment", ErrConfig, tenantURL)
	}

	tenant = segments[tenantSegment]

	return fmt.Sprintf("%s://%s/scheduling/%s/api", u.Scheme, u.Host, url.PathEscape(tenant)), tenant, nil
}

// BaseURL returns the scheduling API root for this session.
func (s *Store) BaseURL() string { return s.baseURL }

// Tenant returns the tenant segment the base URL was derived from.
func (s *Store) Tenant() string { return s.tenant }

// TenantURL returns the tenant URL as stored.
func (s *Store) TenantURL() string { return s.tenantURL }

// AccessToken returns the current access token, if any.
func (s *Store) AccessToken() (string, bool) {
	return s.get(KeyAccessToken)
}

// SetAccessToken replaces the stored access token.
func (s *Store) SetAccessToken(token string) error {
	return s.set(KeyAccessToken, token)
}

// ClearAccessToken removes the stored access token.
func (s *Store) ClearAccessToken() error {
	return s.remove(KeyAccessToken)
}

// RefreshToken returns the stored refresh token, if any.
func (s *Store) RefreshToken() (string, bool) {
	return s.get(KeyRefreshToken)
}

// SetRefreshToken replaces the stored refresh token.
func (s *Store) SetRefreshToken(token string) error {
	return s.set(KeyRefreshToken, token)
}

// ClearRefreshToken removes the stored refresh token.
func (s *Store) ClearRefreshToken() error {
	return s.remove(KeyRefreshToken)
}

func (s *Store) get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.backend.Get(key)
	if !ok || v == "" {
		return "", false
	}

	return v, true
}

func (s *Store) set(key, value string) error {
	if value == "" {
		return s.remove(key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Set(key, value); err != nil {
		return fmt.Errorf("session: storing %s: %w", key, err)
	}

	return nil
}

func (s *Store) remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Remove(key); err != nil {
		return fmt.Errorf("session: removing %s: %w", key, err)
	}

	return nil
}
