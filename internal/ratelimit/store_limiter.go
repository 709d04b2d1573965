package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/guardrail-io/admission/internal/observability"
	"github.com/guardrail-io/admission/internal/ratelimit/store"
)

// millitokensScale stores fractional tokens as integer millitokens so
// the store only deals in int64 values.
const millitokensScale = 1000.0

// StoreLimiter is a token-bucket Limiter whose state lives in a shared
// store, letting several instances draw from the same per-client
// budgets. The read-modify-write against the store is not a single
// atomic operation, so bursts may overshoot slightly under heavy
// cross-instance contention; within one instance the in-memory
// BucketLimiter is the stricter choice.
type StoreLimiter struct {
	store store.Store
	rpm   int
	rate  float64
	burst float64

	logger observability.Logger

	// seen tracks client ids observed by this instance so ResetAll can
	// clear them without store-side key listing.
	seen sync.Map
}

var _ Limiter = (*StoreLimiter)(nil)

// NewStoreLimiter creates a store-backed limiter. RequestsPerMinute and
// Burst must be positive.
func NewStoreLimiter(s store.Store, requestsPerMinute, burst int, logger observability.Logger) (*StoreLimiter, error) {
	if s == nil {
		return nil, fmt.Errorf("store is required")
	}
	if requestsPerMinute <= 0 {
		return nil, fmt.Errorf("requests per minute must be positive, got %d", requestsPerMinute)
	}
	if burst <= 0 {
		return nil, fmt.Errorf("burst must be positive, got %d", burst)
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &StoreLimiter{
		store:  s,
		rpm:    requestsPerMinute,
		rate:   float64(requestsPerMinute) / 60.0,
		burst:  float64(burst),
		logger: logger,
	}, nil
}

// state reads the client's bucket state from the store, defaulting to a
// full bucket for unseen clients.
func (l *StoreLimiter) state(ctx context.Context, clientID string, now time.Time) (float64, int64, error) {
	tokens := l.burst
	lastUpdate := now.UnixMilli()

	stored, err := l.store.Get(ctx, l.tokensKey(clientID))
	if err == nil {
		tokens = float64(stored) / millitokensScale
	} else if !store.IsKeyNotFound(err) {
		return 0, 0, err
	}

	storedTime, err := l.store.Get(ctx, l.timeKey(clientID))
	if err == nil {
		lastUpdate = storedTime
	} else if !store.IsKeyNotFound(err) {
		return 0, 0, err
	}

	// Refill for the elapsed interval, capped at capacity.
	elapsed := float64(now.UnixMilli()-lastUpdate) / 1000.0
	if elapsed > 0 {
		tokens += elapsed * l.rate
	}
	if tokens > l.burst {
		tokens = l.burst
	}

	return tokens, lastUpdate, nil
}

// Allow implements Limiter.
func (l *StoreLimiter) Allow(ctx context.Context, clientID string) (*Result, error) {
	now := time.Now()

	tokens, _, err := l.state(ctx, clientID, now)
	if err != nil {
		return nil, err
	}

	allowed := tokens >= 1
	if allowed {
		tokens--
	}

	// Keys expire once an untouched bucket would have refilled fully.
	expiration := time.Duration(l.burst/l.rate+1) * time.Second
	if err := l.store.Set(ctx, l.tokensKey(clientID), int64(tokens*millitokensScale), expiration); err != nil {
		return nil, err
	}
	if err := l.store.Set(ctx, l.timeKey(clientID), now.UnixMilli(), expiration); err != nil {
		return nil, err
	}

	l.seen.Store(clientID, struct{}{})

	return l.result(allowed, tokens), nil
}

// Check implements Limiter.
func (l *StoreLimiter) Check(ctx context.Context, clientID string) error {
	result, err := l.Allow(ctx, clientID)
	if err != nil {
		return err
	}
	if !result.Allowed {
		return denied(clientID, result)
	}
	return nil
}

// Peek implements Limiter. It reads the stored state without writing.
func (l *StoreLimiter) Peek(ctx context.Context, clientID string) (*Result, error) {
	tokens, _, err := l.state(ctx, clientID, time.Now())
	if err != nil {
		return nil, err
	}
	return l.result(tokens >= 1, tokens), nil
}

// Reset implements Limiter.
func (l *StoreLimiter) Reset(ctx context.Context, clientID string) error {
	if err := l.store.Delete(ctx, l.tokensKey(clientID)); err != nil {
		return err
	}
	return l.store.Delete(ctx, l.timeKey(clientID))
}

// ResetAll implements Limiter. Only clients observed by this instance
// are cleared; other instances keep their own seen sets.
func (l *StoreLimiter) ResetAll(ctx context.Context) error {
	var firstErr error
	l.seen.Range(func(key, _ any) bool {
		if err := l.Reset(ctx, key.(string)); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// Limit implements Limiter.
func (l *StoreLimiter) Limit() int {
	return l.rpm
}

// Close implements Limiter. The store is owned by the caller and is not
// closed here.
func (l *StoreLimiter) Close() error {
	return nil
}

func (l *StoreLimiter) result(allowed bool, tokens float64) *Result {
	r := &Result{
		Allowed:    allowed,
		Limit:      l.rpm,
		Remaining:  wholeTokens(tokens),
		ResetAfter: time.Duration((l.burst - tokens) / l.rate * float64(time.Second)),
	}
	if !allowed {
		r.RetryAfter = time.Duration((1 - tokens) / l.rate * float64(time.Second))
	}
	return r
}

func (l *StoreLimiter) tokensKey(clientID string) string {
	return "tb:" + clientID + ":tokens"
}

func (l *StoreLimiter) timeKey(clientID string) string {
	return "tb:" + clientID + ":time"
}
