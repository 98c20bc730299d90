package slack

import (
	"errors"
	"fmt"
	"time"
)

// APIError is a permanent error reported by the Slack API, for example
// channel_not_found or invalid_auth.
type APIError struct {
	Code    int
	Method  string
	Message string
}

func (e *APIError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("slack %s error %d: %s", e.Method, e.Code, e.Message)
	}
	return fmt.Sprintf("slack %s error: %s", e.Method, e.Message)
}

// IsRetryable returns false as permanent errors should not be retried.
func (e *APIError) IsRetryable() bool { return false }

// RetryableError indicates a temporary error that can be retried.
type RetryableError struct {
	Code    int
	Message string
}

func (e *RetryableError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("slack error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("slack error: %s", e.Message)
}

// IsRetryable returns true as these errors are temporary.
func (e *RetryableError) IsRetryable() bool { return true }

// RateLimitError indicates that Slack throttled the request.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("slack rate limited, retry after %s: %s", e.RetryAfter, e.Message)
}

// IsRetryable returns true as rate limits are temporary.
func (e *RateLimitError) IsRetryable() bool { return true }

// IsRetryable reports whether err is worth retrying on a later cycle.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}

// GetRetryAfter returns the server-suggested delay for rate limit errors.
func GetRetryAfter(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}
