// ABOUTME: Typed errors for backend REST calls, carrying status codes and server messages.
// ABOUTME: Classifies failures as retryable (5xx, 429, network) or permanent for callers that retry.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error is returned for any non-success response other than 401/403, which
// surface as auth.ErrUnauthorized instead.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return e.Message
}

// IsRetryable reports whether the request may succeed if sent again.
func (e *Error) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode >= 500
}

// NetworkError wraps a transport failure (connection refused, timeout, ...).
type NetworkError struct {
	Op    string
	Cause error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *NetworkError) Unwrap() error { return e.Cause }

// IsRetryable is always true: the request never reached a verdict.
func (e *NetworkError) IsRetryable() bool { return true }

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsRetryable reports whether err is classified as retryable.
func IsRetryable(err error) bool {
	var r interface{ IsRetryable() bool }
	return errors.As(err, &r) && r.IsRetryable()
}

// errorFromBody builds an *Error, preferring the server's {"message": ...}.
func errorFromBody(status int, body []byte) *Error {
	msg := fmt.Sprintf("API request failed with status %d", status)
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
		msg = payload.Message
	}
	return &Error{StatusCode: status, Message: msg}
}
