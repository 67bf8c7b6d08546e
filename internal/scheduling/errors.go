// Package scheduling provides the authenticated HTTP client for the tenant
// scheduling API: token acquisition, coordinated refresh on 401, and error
// classification.
package scheduling

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, scheduling.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("scheduling: bad request")
	ErrUnauthorized = errors.New("scheduling: unauthorized")
	ErrForbidden    = errors.New("scheduling: forbidden")
	ErrNotFound     = errors.New("scheduling: not found")
	ErrConflict     = errors.New("scheduling: conflict")
	ErrServerError  = errors.New("scheduling: server error")
	ErrUnexpected   = errors.New("scheduling: unexpected status")
)

// Failures raised before or instead of an HTTP response.
var (
	// ErrAuthRequired means no usable token was held and a refresh could not
	// produce one. The request was never sent.
	ErrAuthRequired = errors.New("scheduling: authentication required")

	// ErrTenantMismatch means the only available token belongs to another
	// tenant than the one the request targets. The request was never sent.
	ErrTenantMismatch = errors.New("scheduling: token tenant does not match request tenant")

	// ErrTransport means the request got no response (connection refused,
	// reset, timeout).
	ErrTransport = errors.New("scheduling: transport error")

	// ErrInvalidResponse means a 2xx body could not be decoded as expected.
	ErrInvalidResponse = errors.New("scheduling: invalid response")
)

// APIError wraps a sentinel error with the HTTP status code, the request
// that produced it, and the response body for debugging and display.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("scheduling: %s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
	}

	return fmt.Sprintf("scheduling: %s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	default:
		if code >= http.StatusOK && code < http.StatusMultipleChoices {
			return nil
		}

		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return ErrUnexpected
	}
}

// StatusCode extracts the HTTP status from err, or 0 when err carries none
// (transport failures, auth failures raised before sending).
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}

	return 0
}

// IsClientRejected reports whether the server rejected the request for a
// reason a retry cannot fix (400, 403, 404, 409).
func IsClientRejected(err error) bool {
	return errors.Is(err, ErrBadRequest) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict)
}

// IsTransportOrServer reports whether err is a network failure or a 5xx.
func IsTransportOrServer(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrServerError)
}
