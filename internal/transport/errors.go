package transport

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrUnauthorized is returned when the network or the intermediary rejects our credentials.
var ErrUnauthorized = errors.New("transport: unauthorized")

// RateLimitError is returned when the remote side asks us to slow down.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s: %s", e.RetryAfter, e.Message)
}

// IsRetryable returns true.
func (e *RateLimitError) IsRetryable() bool { return true }

// PermanentError is a rejection that will not succeed on retry.
type PermanentError struct {
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent error %d: %s", e.Code, e.Message)
}

// IsRetryable returns false.
func (e *PermanentError) IsRetryable() bool { return false }

// Unwrap exposes ErrUnauthorized for credential rejections.
func (e *PermanentError) Unwrap() error {
	if e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden {
		return ErrUnauthorized
	}
	return nil
}

// RetryableError is a transient failure (5xx, timeout, network).
type RetryableError struct {
	Code    int
	Message string
}

func (e *RetryableError) Error() string {
	if e.Code == 0 {
		return "temporary error: " + e.Message
	}
	return fmt.Sprintf("temporary error %d: %s", e.Code, e.Message)
}

// IsRetryable returns true.
func (e *RetryableError) IsRetryable() bool { return true }

// IsRetryable reports whether err is marked retryable.
func IsRetryable(err error) bool {
	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}

// GetRetryAfter returns the server-requested delay, or zero.
func GetRetryAfter(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}

// ClassifyStatus maps a non-2xx HTTP status to a typed error.
func ClassifyStatus(status int, message string, retryAfter time.Duration) error {
	switch {
	case status == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: retryAfter, Message: message}
	case status >= 500:
		return &RetryableError{Code: status, Message: message}
	default:
		return &PermanentError{Code: status, Message: message}
	}
}
