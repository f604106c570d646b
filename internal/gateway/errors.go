// Package gateway provides the authenticated-request layer shared by every
// remote service family: token caching, status-aware retry, path-shape
// fallback and bounded long-polling.
package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Static errors surfaced by the gateway.
var (
	// ErrAuthenticationFailed indicates two consecutive 401 responses,
	// meaning a forced token refresh did not restore access.
	ErrAuthenticationFailed = errors.New("authentication failed after token refresh")
)

// RemoteError is a non-success HTTP status response from a remote service.
// Status errors are never retried by the gateway; they propagate immediately.
type RemoteError struct {
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote service error (status %d): %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a RemoteError with a 404 status.
func IsNotFound(err error) bool {
	var remoteErr *RemoteError

	return errors.As(err, &remoteErr) && remoteErr.StatusCode == http.StatusNotFound
}

// IsConflict reports whether err is a RemoteError with a 409 status. Avatar
// training readiness is reported this way and retried on its own schedule.
func IsConflict(err error) bool {
	var remoteErr *RemoteError

	return errors.As(err, &remoteErr) && remoteErr.StatusCode == http.StatusConflict
}

// TimeoutError indicates that a long-poll wait exceeded its budget.
type TimeoutError struct {
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("poll wait exceeded budget of %s", e.Budget)
}
