package upstream

import (
	"errors"
	"fmt"
	"time"
)

// Category sentinels. The typed errors below unwrap to one of these so
// callers can branch with errors.Is without caring about the details.
var (
	// ErrRateLimited marks an upstream 429.
	ErrRateLimited = errors.New("upstream: rate limited")

	// ErrAuth marks a rejected credential (401 or 403).
	ErrAuth = errors.New("upstream: authentication failed")

	// ErrUpstreamTimeout marks a request that exceeded its deadline.
	ErrUpstreamTimeout = errors.New("upstream: request timeout")

	// ErrUnavailable marks a 5xx or transport-level failure.
	ErrUnavailable = errors.New("upstream: service unavailable")
)

// RateLimitError is returned for HTTP 429. RetryAfter carries the
// server's Retry-After hint when present.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("upstream rate limit exceeded (retry after %s): %s", e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("upstream rate limit exceeded: %s", e.Message)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// AuthError is returned for HTTP 401 and 403. KeyID names the rejected
// credential; the secret itself never appears in errors or logs.
type AuthError struct {
	KeyID      string
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("upstream rejected key %q (status %d)", e.KeyID, e.StatusCode)
}

func (e *AuthError) Unwrap() error { return ErrAuth }

// TimeoutError is returned when the request deadline elapses.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("upstream request timed out after %s", e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return ErrUpstreamTimeout }

// APIError is returned for any other non-success status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream error (status %d): %s", e.StatusCode, e.Message)
}

// Unwrap maps server-side failures to ErrUnavailable so they flow into
// the retry policy; client-side statuses stay terminal.
func (e *APIError) Unwrap() error {
	if e.StatusCode >= 500 {
		return ErrUnavailable
	}
	return nil
}

// ParseError is returned when the response body cannot be decoded.
type ParseError struct {
	Cause error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("upstream response parse error: %v", e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// Retryable reports whether a fresh attempt could plausibly succeed.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrUpstreamTimeout) ||
		errors.Is(err, ErrUnavailable)
}
