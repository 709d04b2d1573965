package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// ErrRateLimitExceeded is the sentinel error for denied requests.
// Use errors.Is to match it regardless of the concrete error type.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// RateLimitError is returned when a client has exhausted its budget.
// It carries the client identifier and the duration after which a retry
// may succeed.
type RateLimitError struct {
	ClientID   string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for client %q: retry after %s", e.ClientID, e.RetryAfter)
}

// Unwrap returns the sentinel so errors.Is(err, ErrRateLimitExceeded) matches.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimitExceeded
}

// AsRateLimitError returns the typed error if err is one.
func AsRateLimitError(err error) (*RateLimitError, bool) {
	var rlErr *RateLimitError
	ok := errors.As(err, &rlErr)
	return rlErr, ok
}
