package ratelimit

import (
	"context"
	"time"
)

// Limiter defines the admission interface shared by the in-memory
// bucket limiter and the store-backed limiter.
type Limiter interface {
	// Allow consumes one token for the client and reports the outcome.
	Allow(ctx context.Context, clientID string) (*Result, error)

	// Check consumes one token and returns a *RateLimitError when the
	// client is over budget; nil otherwise.
	Check(ctx context.Context, clientID string) error

	// Peek reports the client's current budget without consuming tokens.
	Peek(ctx context.Context, clientID string) (*Result, error)

	// Reset restores the client's bucket to full capacity.
	Reset(ctx context.Context, clientID string) error

	// ResetAll restores every tracked bucket to full capacity.
	ResetAll(ctx context.Context) error

	// Limit returns the configured sustained requests per minute.
	Limit() int

	// Close releases background resources.
	Close() error
}

// Result represents the outcome of a rate limit check.
type Result struct {
	// Allowed indicates whether the request is admitted.
	Allowed bool

	// Limit is the configured sustained requests per minute.
	Limit int

	// Remaining is the number of whole tokens left.
	Remaining int

	// ResetAfter is the duration until the bucket refills to capacity.
	ResetAfter time.Duration

	// RetryAfter is the duration to wait before retrying (zero when allowed).
	RetryAfter time.Duration
}

// denied builds the typed error for a rejected result.
func denied(clientID string, r *Result) error {
	return &RateLimitError{ClientID: clientID, RetryAfter: r.RetryAfter}
}

// NoopLimiter admits every request. It is used when rate limiting is
// disabled so callers never branch on a nil limiter.
type NoopLimiter struct{}

// NewNoopLimiter creates a limiter that always allows.
func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

// Allow implements Limiter.
func (l *NoopLimiter) Allow(ctx context.Context, clientID string) (*Result, error) {
	return &Result{Allowed: true}, nil
}

// Check implements Limiter.
func (l *NoopLimiter) Check(ctx context.Context, clientID string) error {
	return nil
}

// Peek implements Limiter.
func (l *NoopLimiter) Peek(ctx context.Context, clientID string) (*Result, error) {
	return &Result{Allowed: true}, nil
}

// Reset implements Limiter.
func (l *NoopLimiter) Reset(ctx context.Context, clientID string) error {
	return nil
}

// ResetAll implements Limiter.
func (l *NoopLimiter) ResetAll(ctx context.Context) error {
	return nil
}

// Limit implements Limiter.
func (l *NoopLimiter) Limit() int {
	return 0
}

// Close implements Limiter.
func (l *NoopLimiter) Close() error {
	return nil
}

var _ Limiter = (*NoopLimiter)(nil)
