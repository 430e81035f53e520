package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Common API errors that can be checked with errors.Is.
var (
	// ErrUnauthorized indicates the bearer token was rejected.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRateLimited indicates the server rate limit was exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrMissingBaseURL is returned when no base URL is configured.
	ErrMissingBaseURL = errors.New("base URL is required")
	// ErrMissingTokenSource is returned when no token source is configured.
	ErrMissingTokenSource = errors.New("token source is required")
)

// APIError represents an HTTP error from the mailbox API.
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
	Route      string
	Retryable  bool
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("API error %d", e.StatusCode)
	if e.Route != "" {
		msg += " on " + e.Route
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.RequestID != "" {
		msg += " (request_id: " + e.RequestID + ")"
	}
	return msg
}

// Is implements errors.Is for sentinel error matching.
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return target == ErrUnauthorized
	case http.StatusNotFound:
		return target == ErrNotFound
	case http.StatusTooManyRequests:
		return target == ErrRateLimited
	}
	return false
}

// NetworkError represents a network-level failure.
type NetworkError struct {
	Err     error
	URL     string
	Attempt int
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error after %d attempt(s): %v", e.Attempt, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
