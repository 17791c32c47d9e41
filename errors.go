package gplus

import (
	"errors"
	"fmt"
)

// APIError is the error envelope the service returns alongside non-2xx
// responses.
type APIError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

var (
	// ErrOfflineNoCache is returned when a read is attempted offline and no
	// cached response exists for the derived cache key.
	ErrOfflineNoCache = errors.New("gplus: offline and no cached data available")

	// ErrSessionExpired is returned when credential refresh fails
	// unrecoverably. The caller must re-authenticate.
	ErrSessionExpired = errors.New("gplus: session expired, re-authentication required")

	// ErrStoreUnavailable wraps durable store failures (quota, corruption,
	// locked data directory) so callers can degrade instead of crashing the
	// request.
	ErrStoreUnavailable = errors.New("gplus: durable store unavailable")

	// ErrChannelClosed is returned when the realtime channel has been closed
	// by the application.
	ErrChannelClosed = errors.New("gplus: realtime channel closed")
)

// StatusError is a non-2xx response that was not resolved by the interceptor
// pipeline (server errors and validation failures).
type StatusError struct {
	StatusCode int
	API        *APIError // server envelope, when one was decodable
}

func (e *StatusError) Error() string {
	if e.API != nil {
		return fmt.Sprintf("gplus: request failed (%d): %s", e.StatusCode, e.API.Error())
	}
	return fmt.Sprintf("gplus: request failed (%d)", e.StatusCode)
}

// IsServerError reports whether the response carried a 5xx status.
func (e *StatusError) IsServerError() bool { return e.StatusCode >= 500 }

// NetworkError indicates that no response was received at all while the
// network monitor still believed the client was online.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "gplus: network error: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }
