package cloud

import (
	"errors"
	"fmt"

	"github.com/nerrad567/beacon/internal/device"
)

var (
	// ErrCircuitOpen is returned without contacting the cloud while the
	// breaker is open.
	ErrCircuitOpen = errors.New("cloud: circuit open")

	// ErrTokenExpired is returned when the bearer token has expired or the
	// cloud answered 401. It matches device.ErrSinkUnauthorized so the state
	// store can log it quietly.
	ErrTokenExpired = fmt.Errorf("cloud: token expired: %w", device.ErrSinkUnauthorized)

	// ErrNotFound is returned for a 404 response.
	ErrNotFound = errors.New("cloud: not found")

	// ErrUnexpectedStatus is returned for any other non-2xx response.
	ErrUnexpectedStatus = errors.New("cloud: unexpected status")

	// ErrNotConfigured is returned when the client has no base URL.
	ErrNotConfigured = errors.New("cloud: not configured")
)

// StatusError carries the HTTP status of a failed request.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("cloud: %s %s: status %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("cloud: %s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Unwrap maps the status onto the package sentinels.
func (e *StatusError) Unwrap() error {
	switch e.Code {
	case 401:
		return ErrTokenExpired
	case 404:
		return ErrNotFound
	default:
		return ErrUnexpectedStatus
	}
}
