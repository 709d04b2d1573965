package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// TokenBucket is a thread-safe token bucket. Tokens refill continuously
// at a fixed rate up to the bucket capacity; each admitted request
// consumes tokens. All time arithmetic uses time.Time values from
// time.Now, which carry a monotonic clock reading, so wall-clock jumps
// do not corrupt the refill calculation.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	refillRate float64 // tokens per second
	tokens     float64
	lastUpdate time.Time
}

// NewTokenBucket creates a full bucket. capacity and refillRate must be
// positive.
func NewTokenBucket(capacity, refillRate float64) (*TokenBucket, error) {
	if capacity <= 0 {
		return nil, errors.New("token bucket capacity must be positive")
	}
	if refillRate <= 0 {
		return nil, errors.New("token bucket refill rate must be positive")
	}
	return &TokenBucket{
		capacity:   capacity,
		refillRate: refillRate,
		tokens:     capacity,
		lastUpdate: time.Now(),
	}, nil
}

// consumeOutcome captures the bucket state observed by a single consume
// call, so callers can report remaining/reset/retry values that are
// consistent with the admission decision.
type consumeOutcome struct {
	allowed    bool
	remaining  float64
	resetAfter time.Duration
	retryAfter time.Duration
}

// Consume attempts to take n tokens. It returns true and subtracts the
// tokens when enough are available; otherwise it returns false and
// leaves the token count unchanged. The refill, check, and subtraction
// happen in a single critical section.
func (b *TokenBucket) Consume(n float64) bool {
	return b.consume(n).allowed
}

func (b *TokenBucket) consume(n float64) consumeOutcome {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(time.Now())

	out := consumeOutcome{allowed: b.tokens >= n}
	if out.allowed {
		b.tokens -= n
	} else {
		out.retryAfter = b.durationFor(n - b.tokens)
	}

	out.remaining = b.tokens
	out.resetAfter = b.durationFor(b.capacity - b.tokens)
	return out
}

// peek observes the bucket the way consume would, but read-only: every
// value comes from one projection under a single lock acquisition, so
// the reported triple is internally consistent, and nothing is written
// back.
func (b *TokenBucket) peek(n float64) consumeOutcome {
	b.mu.Lock()
	defer b.mu.Unlock()

	tokens := b.projectedLocked(time.Now())
	out := consumeOutcome{allowed: tokens >= n, remaining: tokens}
	if !out.allowed {
		out.retryAfter = b.durationFor(n - tokens)
	}
	out.resetAfter = b.durationFor(b.capacity - tokens)
	return out
}

// TimeUntilAvailable reports how long until n tokens will be available.
// It returns 0 when the tokens are available now. The bucket state is
// not mutated.
func (b *TokenBucket) TimeUntilAvailable(n float64) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	tokens := b.projectedLocked(time.Now())
	if tokens >= n {
		return 0
	}
	return b.durationFor(n - tokens)
}

// Remaining reports the current token count including accrued refill,
// without mutating the bucket.
func (b *TokenBucket) Remaining() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.projectedLocked(time.Now())
}

// TimeUntilFull reports how long until the bucket refills to capacity,
// without mutating the bucket.
func (b *TokenBucket) TimeUntilFull() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	tokens := b.projectedLocked(time.Now())
	return b.durationFor(b.capacity - tokens)
}

// Reset restores the bucket to full capacity.
func (b *TokenBucket) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = b.capacity
	b.lastUpdate = time.Now()
}

// Capacity returns the bucket capacity.
func (b *TokenBucket) Capacity() float64 {
	return b.capacity
}

// refillLocked advances the token count by the refill accrued since the
// last update and records the update time. Callers must hold b.mu.
func (b *TokenBucket) refillLocked(now time.Time) {
	b.tokens = b.projectedLocked(now)
	b.lastUpdate = now
}

// projectedLocked returns the token count the bucket would hold at now,
// without writing it back. Callers must hold b.mu.
func (b *TokenBucket) projectedLocked(now time.Time) float64 {
	elapsed := now.Sub(b.lastUpdate).Seconds()
	if elapsed <= 0 {
		return b.tokens
	}
	tokens := b.tokens + elapsed*b.refillRate
	if tokens > b.capacity {
		tokens = b.capacity
	}
	return tokens
}

// durationFor converts a token deficit into a wait duration at the
// configured refill rate. Negative deficits yield 0.
func (b *TokenBucket) durationFor(deficit float64) time.Duration {
	if deficit <= 0 {
		return 0
	}
	return time.Duration(deficit / b.refillRate * float64(time.Second))
}
