package middleware

import (
	"context"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/guardrail-io/admission/internal/auth"
	"github.com/guardrail-io/admission/internal/config"
	"github.com/guardrail-io/admission/internal/observability"
	"github.com/guardrail-io/admission/internal/ratelimit"
)

// Rate limit response headers.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

const tracerName = "github.com/guardrail-io/admission/internal/middleware"

// RequestContext is produced for every admitted request. It is
// short-lived and never persisted.
type RequestContext struct {
	// RequestID is a unique id attached to logs for this request.
	RequestID string

	// ClientID identifies the caller for rate limiting purposes.
	ClientID string

	// APIKeyID is the masked identifier of the authenticated key, empty
	// when authentication is disabled.
	APIKeyID string

	// Timestamp is when the request was admitted.
	Timestamp time.Time
}

// Stats is a point-in-time snapshot of admission activity.
type Stats struct {
	AuthEnabled      bool
	RateLimitEnabled bool
	KeysConfigured   int
	RequestsChecked  int64
	RequestsAdmitted int64
	AuthFailures     int64
	RateLimited      int64
	Uptime           time.Duration
}

// Security composes the authenticator and the rate limiter according to
// configuration. Authentication, when enabled, is always checked before
// rate limiting; a disabled feature always passes.
type Security struct {
	cfg           config.Security
	authenticator *auth.Authenticator
	extractor     *auth.Extractor
	limiter       ratelimit.Limiter
	logger        observability.Logger
	tracer        trace.Tracer

	checked      atomic.Int64
	admitted     atomic.Int64
	authFailures atomic.Int64
	rateLimited  atomic.Int64
	started      time.Time
}

// Option is a functional option for the security middleware.
type Option func(*Security)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Security) {
		s.logger = logger
	}
}

// WithLimiter overrides the rate limiter, e.g. with a store-backed
// limiter shared across instances. The middleware takes ownership and
// closes it on Close.
func WithLimiter(limiter ratelimit.Limiter) Option {
	return func(s *Security) {
		s.limiter = limiter
	}
}

// WithTracerProvider sets the tracer provider used for admission spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Security) {
		s.tracer = tp.Tracer(tracerName)
	}
}

// New builds the middleware from a validated configuration snapshot.
// Configuration problems are logged as warnings and degrade to the
// fail-open behavior (feature disabled); they never block startup.
func New(cfg config.Security, opts ...Option) (*Security, error) {
	s := &Security{
		cfg:       cfg,
		extractor: auth.NewExtractor(cfg.Auth.HeaderName, cfg.Auth.QueryParam),
		logger:    observability.NopLogger(),
		started:   time.Now(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}

	for _, warning := range cfg.Validate() {
		s.logger.Warn("security configuration warning", observability.String("warning", warning))
	}

	if cfg.Auth.Enabled {
		authenticator, err := auth.NewAuthenticator(nil, auth.WithLogger(s.logger))
		if err != nil {
			return nil, err
		}
		for _, key := range cfg.Auth.Keys {
			if _, err := authenticator.AddKey(key); err != nil {
				// Fail open: skip the bad key, keep the rest.
				s.logger.Warn("skipping invalid API key",
					observability.String("key_id", auth.MaskKey(key)),
					observability.Error(err),
				)
			}
		}
		s.authenticator = authenticator
	}

	if s.limiter == nil {
		s.limiter = s.buildLimiter(cfg.RateLimit)
	}

	return s, nil
}

// buildLimiter constructs the configured limiter, degrading to the noop
// limiter when the parameters are unusable.
func (s *Security) buildLimiter(cfg config.RateLimit) ratelimit.Limiter {
	if !cfg.Enabled {
		return ratelimit.NewNoopLimiter()
	}

	limiter, err := ratelimit.NewBucketLimiter(ratelimit.Config{
		RequestsPerMinute: cfg.RequestsPerMinute,
		Burst:             cfg.Burst,
		PerClient:         cfg.PerClient,
	}, ratelimit.WithLogger(s.logger))
	if err != nil {
		s.logger.Warn("rate limiting disabled: invalid parameters", observability.Error(err))
		return ratelimit.NewNoopLimiter()
	}
	return limiter
}

// CheckRequest runs the admission checks for one request: first
// authentication, then rate limiting, each skipped when disabled. It
// returns a RequestContext on admission, or the typed error of the
// check that rejected the request. A rejected request has no side
// effect beyond what the rejecting check itself performed.
func (s *Security) CheckRequest(ctx context.Context, clientID string, header http.Header, query url.Values) (*RequestContext, error) {
	ctx, span := s.tracer.Start(ctx, "admission.check_request",
		trace.WithAttributes(attribute.String("client.id", clientID)),
	)
	defer span.End()

	s.checked.Add(1)

	var keyID string
	if s.cfg.Auth.Enabled {
		result, err := s.authenticator.Authenticate(s.extractor.Extract(header, query))
		if err != nil {
			s.authFailures.Add(1)
			span.SetStatus(codes.Error, "authentication failed")
			span.RecordError(err)
			if s.cfg.Logging.LogAuthFailures {
				s.logger.Warn("authentication failed",
					observability.String("client_id", clientID),
					observability.Error(err),
				)
			}
			return nil, err
		}
		keyID = result.KeyID
	}

	if err := s.limiter.Check(ctx, clientID); err != nil {
		s.rateLimited.Add(1)
		span.SetStatus(codes.Error, "rate limit exceeded")
		span.RecordError(err)
		if rlErr, ok := ratelimit.AsRateLimitError(err); ok && s.cfg.Logging.LogRequests {
			s.logger.Warn("rate limit exceeded",
				observability.String("client_id", clientID),
				observability.Duration("retry_after", rlErr.RetryAfter),
			)
		}
		return nil, err
	}

	s.admitted.Add(1)

	rc := &RequestContext{
		RequestID: uuid.NewString(),
		ClientID:  clientID,
		APIKeyID:  keyID,
		Timestamp: time.Now(),
	}
	span.SetAttributes(attribute.String("request.id", rc.RequestID))

	if s.cfg.Logging.LogRequests {
		s.logger.Info("request admitted",
			observability.String("request_id", rc.RequestID),
			observability.String("client_id", clientID),
			observability.String("api_key_id", keyID),
		)
	}

	return rc, nil
}

// RateLimitHeaders returns the rate limit response headers for the
// client. The map is empty when rate limiting is disabled, and the
// lookup never consumes tokens.
func (s *Security) RateLimitHeaders(ctx context.Context, clientID string) map[string]string {
	if !s.cfg.RateLimit.Enabled {
		return map[string]string{}
	}

	result, err := s.limiter.Peek(ctx, clientID)
	if err != nil {
		s.logger.Error("failed to read rate limit state", observability.Error(err))
		return map[string]string{}
	}

	return map[string]string{
		HeaderRateLimitLimit:     strconv.Itoa(result.Limit),
		HeaderRateLimitRemaining: strconv.Itoa(result.Remaining),
		HeaderRateLimitReset:     strconv.Itoa(ceilSeconds(result.ResetAfter)),
	}
}

// Enabled reports whether any admission feature is active.
func (s *Security) Enabled() bool {
	return s.cfg.Auth.Enabled || s.cfg.RateLimit.Enabled
}

// Stats returns a snapshot of admission activity.
func (s *Security) Stats() Stats {
	stats := Stats{
		AuthEnabled:      s.cfg.Auth.Enabled,
		RateLimitEnabled: s.cfg.RateLimit.Enabled,
		RequestsChecked:  s.checked.Load(),
		RequestsAdmitted: s.admitted.Load(),
		AuthFailures:     s.authFailures.Load(),
		RateLimited:      s.rateLimited.Load(),
		Uptime:           time.Since(s.started),
	}
	if s.authenticator != nil {
		stats.KeysConfigured = s.authenticator.KeyCount()
	}
	return stats
}

// ResetRateLimit restores the client's budget to full capacity. An
// empty clientID resets every tracked bucket.
func (s *Security) ResetRateLimit(ctx context.Context, clientID string) error {
	if clientID == "" {
		return s.limiter.ResetAll(ctx)
	}
	return s.limiter.Reset(ctx, clientID)
}

// ApplyKeyFile swaps the authenticator's key set with the contents of a
// key file. Wired to the config.KeyFileWatcher callback for runtime
// rotation.
func (s *Security) ApplyKeyFile(kf *config.KeyFile) error {
	if s.authenticator == nil {
		return nil
	}
	return s.authenticator.ReplaceKeys(kf.Plaintext(), kf.Hashed())
}

// Authenticator exposes the underlying authenticator for key lifecycle
// management. Nil when authentication is disabled.
func (s *Security) Authenticator() *auth.Authenticator {
	return s.authenticator
}

// Close releases the limiter's background resources.
func (s *Security) Close() error {
	return s.limiter.Close()
}

// ceilSeconds converts a duration to whole seconds, rounding up so a
// positive wait never reports as zero.
func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
