package push

import (
	"errors"
	"fmt"
	"time"
)

// ErrTokenNotRegistered is returned when the gateway no longer knows the device token.
var ErrTokenNotRegistered = errors.New("device token not registered")

// PermanentError is a rejection that will not succeed on retry.
type PermanentError struct {
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	return "push rejected: " + e.Reason
}

// IsRetryable returns false.
func (e *PermanentError) IsRetryable() bool { return false }

func (e *PermanentError) Unwrap() error { return e.Err }

// RetryableError is a transient gateway failure.
type RetryableError struct {
	Code       int
	Reason     string
	RetryAfter time.Duration
}

func (e *RetryableError) Error() string {
	if e.Code == 0 {
		return "push temporarily failed: " + e.Reason
	}
	return fmt.Sprintf("push temporarily failed (%d): %s", e.Code, e.Reason)
}

// IsRetryable returns true.
func (e *RetryableError) IsRetryable() bool { return true }
