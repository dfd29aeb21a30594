package fetch

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// maxErrorBody is how much of a failed response body is kept in HTTPError.
const maxErrorBody = 512

// AuthError is a 401 answer. Bad credentials do not heal, so it is never retried.
type AuthError struct {
	Endpoint string
	URL      string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("unauthorized (401) - check API key for %s", e.Endpoint)
}

// RateLimitError is a 429 answer carrying the server-requested wait.
type RateLimitError struct {
	URL        string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited - retry after %s", e.RetryAfter)
}

// HTTPError is any other non-2xx answer.
type HTTPError struct {
	URL    string
	Body   string
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// TimeoutError is an attempt that exceeded its deadline.
type TimeoutError struct {
	Err     error
	URL     string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request to %s timed out after %s", e.URL, e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt against the same source may succeed.
func Retryable(err error) bool {
	var auth *AuthError
	return !errors.As(err, &auth)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}

	return s[:n] + "..."
}
