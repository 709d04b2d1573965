package middleware

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardrail-io/admission/internal/auth"
	"github.com/guardrail-io/admission/internal/config"
	"github.com/guardrail-io/admission/internal/observability"
	"github.com/guardrail-io/admission/internal/ratelimit"
)

func newSecurity(t *testing.T, cfg config.Security, opts ...Option) *Security {
	t.Helper()

	s, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func headerWithKey(key string) http.Header {
	h := http.Header{}
	h.Set(auth.DefaultHeaderName, key)
	return h
}

func TestSecurity_AllDisabled(t *testing.T) {
	s := newSecurity(t, config.Default())

	assert.False(t, s.Enabled())

	// No credentials, unlimited requests: everything passes.
	for i := 0; i < 100; i++ {
		rc, err := s.CheckRequest(context.Background(), "10.0.0.1", http.Header{}, url.Values{})
		require.NoError(t, err)
		require.NotNil(t, rc)
		assert.NotEmpty(t, rc.RequestID)
		assert.Equal(t, "10.0.0.1", rc.ClientID)
		assert.Empty(t, rc.APIKeyID)
	}

	assert.Empty(t, s.RateLimitHeaders(context.Background(), "10.0.0.1"))
}

func TestSecurity_AuthAndRateLimit(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.Enabled = true
	cfg.Auth.Keys = []string{"valid-key-12345"}
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RequestsPerMinute = 1
	cfg.RateLimit.Burst = 2

	s := newSecurity(t, cfg)
	require.True(t, s.Enabled())

	ctx := context.Background()
	valid := headerWithKey("valid-key-12345")

	// Two requests fit the burst.
	for i := 0; i < 2; i++ {
		rc, err := s.CheckRequest(ctx, "client-1", valid, url.Values{})
		require.NoError(t, err)
		assert.Equal(t, "vali****2345", rc.APIKeyID)
	}

	// The third is rate limited, not an auth failure.
	_, err := s.CheckRequest(ctx, "client-1", valid, url.Values{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ratelimit.ErrRateLimitExceeded)
	assert.False(t, auth.IsAuthError(err))

	// A wrong key fails authentication regardless of budget.
	_, err = s.CheckRequest(ctx, "client-2", headerWithKey("wrong-key"), url.Values{})
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrInvalidAPIKey)
}

func TestSecurity_AuthBeforeRateLimit(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.Enabled = true
	cfg.Auth.Keys = []string{"valid-key-12345"}
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RequestsPerMinute = 1
	cfg.RateLimit.Burst = 1

	s := newSecurity(t, cfg)
	ctx := context.Background()

	// Failed authentication must not consume rate limit budget.
	for i := 0; i < 5; i++ {
		_, err := s.CheckRequest(ctx, "client-1", http.Header{}, url.Values{})
		assert.ErrorIs(t, err, auth.ErrMissingAPIKey)
	}

	_, err := s.CheckRequest(ctx, "client-1", headerWithKey("valid-key-12345"), url.Values{})
	assert.NoError(t, err)
}

func TestSecurity_MissingVsInvalidKey(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.Enabled = true
	cfg.Auth.Keys = []string{"valid-key-12345"}

	s := newSecurity(t, cfg)
	ctx := context.Background()

	_, err := s.CheckRequest(ctx, "c", http.Header{}, url.Values{})
	authErr, ok := auth.AsAuthError(err)
	require.True(t, ok)
	assert.Equal(t, auth.CodeMissingAPIKey, authErr.Code)

	_, err = s.CheckRequest(ctx, "c", headerWithKey("not-the-key-1234"), url.Values{})
	authErr, ok = auth.AsAuthError(err)
	require.True(t, ok)
	assert.Equal(t, auth.CodeInvalidAPIKey, authErr.Code)
}

func TestSecurity_QueryParamCredential(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.Enabled = true
	cfg.Auth.Keys = []string{"query-key-123456"}

	s := newSecurity(t, cfg)

	query := url.Values{}
	query.Set(auth.DefaultQueryParam, "query-key-123456")

	rc, err := s.CheckRequest(context.Background(), "c", http.Header{}, query)
	require.NoError(t, err)
	assert.Equal(t, "quer****3456", rc.APIKeyID)
}

func TestSecurity_RateLimitHeaders(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RequestsPerMinute = 60
	cfg.RateLimit.Burst = 10

	s := newSecurity(t, cfg)
	ctx := context.Background()

	headers := s.RateLimitHeaders(ctx, "client-1")
	assert.Equal(t, "60", headers[HeaderRateLimitLimit])
	assert.Equal(t, "10", headers[HeaderRateLimitRemaining])
	assert.Equal(t, "0", headers[HeaderRateLimitReset])

	_, err := s.CheckRequest(ctx, "client-1", http.Header{}, url.Values{})
	require.NoError(t, err)

	headers = s.RateLimitHeaders(ctx, "client-1")
	assert.Equal(t, "9", headers[HeaderRateLimitRemaining])
	assert.NotEqual(t, "0", headers[HeaderRateLimitReset])

	// Reading headers does not consume tokens.
	for i := 0; i < 20; i++ {
		s.RateLimitHeaders(ctx, "client-1")
	}
	assert.Equal(t, "9", s.RateLimitHeaders(ctx, "client-1")[HeaderRateLimitRemaining])
}

func TestSecurity_InvalidRateLimitParamsFailOpen(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RequestsPerMinute = -5
	cfg.RateLimit.Burst = 0

	s := newSecurity(t, cfg)

	// Degraded to no limiting rather than refusing to start.
	for i := 0; i < 50; i++ {
		_, err := s.CheckRequest(context.Background(), "c", http.Header{}, url.Values{})
		require.NoError(t, err)
	}
}

func TestSecurity_SkipsInvalidConfiguredKeys(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.Enabled = true
	cfg.Auth.Keys = []string{"short", "long-enough-key-1"}

	s := newSecurity(t, cfg)

	assert.Equal(t, 1, s.Stats().KeysConfigured)

	_, err := s.CheckRequest(context.Background(), "c", headerWithKey("long-enough-key-1"), url.Values{})
	assert.NoError(t, err)
}

func TestSecurity_Stats(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.Enabled = true
	cfg.Auth.Keys = []string{"stats-key-123456"}
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RequestsPerMinute = 1
	cfg.RateLimit.Burst = 1

	s := newSecurity(t, cfg)
	ctx := context.Background()
	valid := headerWithKey("stats-key-123456")

	_, _ = s.CheckRequest(ctx, "c", valid, url.Values{})                    // admitted
	_, _ = s.CheckRequest(ctx, "c", valid, url.Values{})                    // rate limited
	_, _ = s.CheckRequest(ctx, "c", headerWithKey("nope"), url.Values{})    // auth failure
	_, _ = s.CheckRequest(ctx, "c", http.Header{}, url.Values{})            // auth failure

	stats := s.Stats()
	assert.True(t, stats.AuthEnabled)
	assert.True(t, stats.RateLimitEnabled)
	assert.Equal(t, 1, stats.KeysConfigured)
	assert.Equal(t, int64(4), stats.RequestsChecked)
	assert.Equal(t, int64(1), stats.RequestsAdmitted)
	assert.Equal(t, int64(2), stats.AuthFailures)
	assert.Equal(t, int64(1), stats.RateLimited)
	assert.GreaterOrEqual(t, stats.Uptime, time.Duration(0))
}

func TestSecurity_ResetRateLimit(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RequestsPerMinute = 1
	cfg.RateLimit.Burst = 1

	s := newSecurity(t, cfg)
	ctx := context.Background()

	_, err := s.CheckRequest(ctx, "client-1", http.Header{}, url.Values{})
	require.NoError(t, err)
	_, err = s.CheckRequest(ctx, "client-1", http.Header{}, url.Values{})
	require.ErrorIs(t, err, ratelimit.ErrRateLimitExceeded)

	require.NoError(t, s.ResetRateLimit(ctx, "client-1"))

	_, err = s.CheckRequest(ctx, "client-1", http.Header{}, url.Values{})
	assert.NoError(t, err)

	// Empty client id resets everything.
	_, _ = s.CheckRequest(ctx, "client-2", http.Header{}, url.Values{})
	require.NoError(t, s.ResetRateLimit(ctx, ""))
	_, err = s.CheckRequest(ctx, "client-2", http.Header{}, url.Values{})
	assert.NoError(t, err)
}

func TestSecurity_ApplyKeyFile(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.Enabled = true
	cfg.Auth.Keys = []string{"original-key-1234"}

	s := newSecurity(t, cfg)
	ctx := context.Background()

	kf := &config.KeyFile{Keys: []config.KeyEntry{{Key: "rotated-key-12345"}}}
	require.NoError(t, s.ApplyKeyFile(kf))

	_, err := s.CheckRequest(ctx, "c", headerWithKey("original-key-1234"), url.Values{})
	assert.ErrorIs(t, err, auth.ErrInvalidAPIKey)

	_, err = s.CheckRequest(ctx, "c", headerWithKey("rotated-key-12345"), url.Values{})
	assert.NoError(t, err)
}

func TestSecurity_ApplyKeyFileAuthDisabled(t *testing.T) {
	s := newSecurity(t, config.Default())

	kf := &config.KeyFile{Keys: []config.KeyEntry{{Key: "ignored-key-12345"}}}
	assert.NoError(t, s.ApplyKeyFile(kf))
	assert.Nil(t, s.Authenticator())
}

// warnRecorder implements observability.Logger, capturing Warn messages.
type warnRecorder struct {
	mu    sync.Mutex
	warns []string
}

func (r *warnRecorder) Debug(string, ...observability.Field) {}
func (r *warnRecorder) Info(string, ...observability.Field)  {}
func (r *warnRecorder) Error(string, ...observability.Field) {}
func (r *warnRecorder) Fatal(string, ...observability.Field) {}

func (r *warnRecorder) Sync() error { return nil }

func (r *warnRecorder) Warn(msg string, _ ...observability.Field) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warns = append(r.warns, msg)
}

func (r *warnRecorder) With(...observability.Field) observability.Logger { return r }
func (r *warnRecorder) WithContext(context.Context) observability.Logger { return r }

func (r *warnRecorder) count(msg string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, w := range r.warns {
		if w == msg {
			n++
		}
	}
	return n
}

func TestSecurity_DenialLogGatedByFlag(t *testing.T) {
	exhaust := func(logRequests bool) *warnRecorder {
		cfg := config.Default()
		cfg.RateLimit.Enabled = true
		cfg.RateLimit.RequestsPerMinute = 1
		cfg.RateLimit.Burst = 1
		cfg.Logging.LogRequests = logRequests

		recorder := &warnRecorder{}
		s := newSecurity(t, cfg, WithLogger(recorder))

		_, err := s.CheckRequest(context.Background(), "c", http.Header{}, url.Values{})
		require.NoError(t, err)
		_, err = s.CheckRequest(context.Background(), "c", http.Header{}, url.Values{})
		require.ErrorIs(t, err, ratelimit.ErrRateLimitExceeded)
		return recorder
	}

	assert.Zero(t, exhaust(false).count("rate limit exceeded"))
	assert.Equal(t, 1, exhaust(true).count("rate limit exceeded"))
}

func TestSecurity_WithLimiter(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RequestsPerMinute = 60
	cfg.RateLimit.Burst = 1

	custom, err := ratelimit.NewBucketLimiter(ratelimit.Config{
		RequestsPerMinute: 60,
		Burst:             1,
		PerClient:         true,
	})
	require.NoError(t, err)

	s := newSecurity(t, cfg, WithLimiter(custom))

	_, err = s.CheckRequest(context.Background(), "c", http.Header{}, url.Values{})
	require.NoError(t, err)
	_, err = s.CheckRequest(context.Background(), "c", http.Header{}, url.Values{})
	assert.ErrorIs(t, err, ratelimit.ErrRateLimitExceeded)
}
