package ratelimit

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/guardrail-io/admission/internal/observability"
)

// Default maintenance settings for per-client bucket cleanup.
const (
	// DefaultCleanupInterval is how often idle buckets are swept.
	DefaultCleanupInterval = 5 * time.Minute

	// DefaultIdleThreshold is the fraction of capacity above which a
	// bucket is considered idle and eligible for removal.
	DefaultIdleThreshold = 0.99
)

// Config holds configuration for the in-memory bucket limiter.
type Config struct {
	// RequestsPerMinute is the sustained refill budget.
	RequestsPerMinute int

	// Burst is the bucket capacity: requests admitted instantaneously
	// before the refill rate takes over.
	Burst int

	// PerClient tracks one bucket per client identifier instead of a
	// single shared bucket.
	PerClient bool

	// CleanupInterval is how often idle per-client buckets are swept.
	// Zero means DefaultCleanupInterval.
	CleanupInterval time.Duration
}

// BucketLimiter is the in-memory Limiter. In per-client mode it lazily
// creates one TokenBucket per client identifier and sweeps
// nearly-full (idle) buckets on a background interval to bound memory
// growth; otherwise all clients share a single bucket.
//
// Implements io.Closer: call Close to stop the cleanup goroutine.
type BucketLimiter struct {
	rpm       int
	rate      float64 // tokens per second
	burst     float64
	perClient bool

	global  *TokenBucket
	clients sync.Map // clientID -> *TokenBucket

	logger  observability.Logger
	metrics *Metrics

	cleanupInterval time.Duration
	idleThreshold   float64
	stopCleanup     chan struct{}
	closeOnce       sync.Once
}

var _ Limiter = (*BucketLimiter)(nil)
var _ io.Closer = (*BucketLimiter)(nil)

// BucketLimiterOption is a functional option for the bucket limiter.
type BucketLimiterOption func(*BucketLimiter)

// WithLogger sets the logger for the limiter.
func WithLogger(logger observability.Logger) BucketLimiterOption {
	return func(l *BucketLimiter) {
		l.logger = logger
	}
}

// WithMetrics sets the metrics for the limiter.
func WithMetrics(metrics *Metrics) BucketLimiterOption {
	return func(l *BucketLimiter) {
		l.metrics = metrics
	}
}

// NewBucketLimiter creates a bucket limiter. RequestsPerMinute and
// Burst must be positive. In per-client mode a background cleanup
// goroutine is started; callers own its lifecycle via Close.
func NewBucketLimiter(cfg Config, opts ...BucketLimiterOption) (*BucketLimiter, error) {
	if cfg.RequestsPerMinute <= 0 {
		return nil, fmt.Errorf("requests per minute must be positive, got %d", cfg.RequestsPerMinute)
	}
	if cfg.Burst <= 0 {
		return nil, fmt.Errorf("burst must be positive, got %d", cfg.Burst)
	}

	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}

	l := &BucketLimiter{
		rpm:             cfg.RequestsPerMinute,
		rate:            float64(cfg.RequestsPerMinute) / 60.0,
		burst:           float64(cfg.Burst),
		perClient:       cfg.PerClient,
		logger:          observability.NopLogger(),
		cleanupInterval: interval,
		idleThreshold:   DefaultIdleThreshold,
		stopCleanup:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.metrics == nil {
		l.metrics = NewMetrics("admission")
	}

	if !cfg.PerClient {
		bucket, err := NewTokenBucket(l.burst, l.rate)
		if err != nil {
			return nil, err
		}
		l.global = bucket
	} else {
		go l.cleanupLoop()
	}

	return l, nil
}

// bucket returns the bucket responsible for the client, creating it
// lazily in per-client mode.
func (l *BucketLimiter) bucket(clientID string) *TokenBucket {
	if !l.perClient {
		return l.global
	}

	if value, ok := l.clients.Load(clientID); ok {
		return value.(*TokenBucket)
	}

	// Construction validated the parameters; building the bucket
	// directly avoids an impossible error path on the hot path.
	fresh := &TokenBucket{
		capacity:   l.burst,
		refillRate: l.rate,
		tokens:     l.burst,
		lastUpdate: time.Now(),
	}
	value, _ := l.clients.LoadOrStore(clientID, fresh)
	return value.(*TokenBucket)
}

// loadBucket returns the client's bucket, or nil when none is tracked.
// Unlike bucket it never inserts, so read-only callers do not grow the
// client map.
func (l *BucketLimiter) loadBucket(clientID string) *TokenBucket {
	if !l.perClient {
		return l.global
	}
	if value, ok := l.clients.Load(clientID); ok {
		return value.(*TokenBucket)
	}
	return nil
}

// Allow implements Limiter.
func (l *BucketLimiter) Allow(ctx context.Context, clientID string) (*Result, error) {
	out := l.bucket(clientID).consume(1)
	l.metrics.RecordDecision(out.allowed)

	return &Result{
		Allowed:    out.allowed,
		Limit:      l.rpm,
		Remaining:  wholeTokens(out.remaining),
		ResetAfter: out.resetAfter,
		RetryAfter: out.retryAfter,
	}, nil
}

// Check implements Limiter.
func (l *BucketLimiter) Check(ctx context.Context, clientID string) error {
	result, err := l.Allow(ctx, clientID)
	if err != nil {
		return err
	}
	if !result.Allowed {
		return denied(clientID, result)
	}
	return nil
}

// Peek implements Limiter. It reports the client's budget without
// consuming tokens and without mutating bucket state, so repeated calls
// return identical values while no consumption happens in between. A
// client with no tracked bucket has its full budget and is not inserted
// into the client map.
func (l *BucketLimiter) Peek(ctx context.Context, clientID string) (*Result, error) {
	b := l.loadBucket(clientID)
	if b == nil {
		return &Result{Allowed: true, Limit: l.rpm, Remaining: int(l.burst)}, nil
	}

	out := b.peek(1)
	return &Result{
		Allowed:    out.allowed,
		Limit:      l.rpm,
		Remaining:  wholeTokens(out.remaining),
		ResetAfter: out.resetAfter,
		RetryAfter: out.retryAfter,
	}, nil
}

// Reset implements Limiter. A client with no tracked bucket is already
// at full capacity, so there is nothing to do.
func (l *BucketLimiter) Reset(ctx context.Context, clientID string) error {
	if b := l.loadBucket(clientID); b != nil {
		b.Reset()
	}
	return nil
}

// ResetAll implements Limiter.
func (l *BucketLimiter) ResetAll(ctx context.Context) error {
	if l.global != nil {
		l.global.Reset()
	}
	l.clients.Range(func(_, value any) bool {
		value.(*TokenBucket).Reset()
		return true
	})
	return nil
}

// Limit implements Limiter.
func (l *BucketLimiter) Limit() int {
	return l.rpm
}

// Close implements io.Closer. Stops the cleanup goroutine; safe to call
// multiple times.
func (l *BucketLimiter) Close() error {
	l.closeOnce.Do(func() {
		close(l.stopCleanup)
	})
	return nil
}

// cleanupLoop periodically sweeps idle buckets off the request path.
func (l *BucketLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Cleanup()
		case <-l.stopCleanup:
			return
		}
	}
}

// Cleanup removes per-client buckets that are nearly full again — the
// idle heuristic — so client cardinality does not grow memory without
// bound. The sweep is O(tracked clients) and takes each bucket's own
// lock, never a global one.
func (l *BucketLimiter) Cleanup() int {
	threshold := l.idleThreshold * l.burst
	removed := 0
	remaining := 0

	l.clients.Range(func(key, value any) bool {
		if value.(*TokenBucket).Remaining() >= threshold {
			l.clients.Delete(key)
			removed++
		} else {
			remaining++
		}
		return true
	})

	l.metrics.RecordSweep(removed, remaining)
	if removed > 0 {
		l.logger.Debug("swept idle rate limit buckets",
			observability.Int("removed", removed),
			observability.Int("remaining", remaining),
		)
	}
	return removed
}

// wholeTokens floors a fractional token count at zero or above.
func wholeTokens(tokens float64) int {
	if tokens < 0 {
		return 0
	}
	return int(tokens)
}
