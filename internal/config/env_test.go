package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()
	assert.Equal(t, Default(), cfg)
}

func TestFromEnv_FullConfiguration(t *testing.T) {
	t.Setenv(EnvRateLimitEnabled, "true")
	t.Setenv(EnvRateLimitRPM, "120")
	t.Setenv(EnvRateLimitBurst, "20")
	t.Setenv(EnvRateLimitByIP, "yes")
	t.Setenv(EnvAuthEnabled, "1")
	t.Setenv(EnvAPIKeys, "first-key-123, second-key-456 ,")
	t.Setenv(EnvAuthHeader, "X-Custom-Key")
	t.Setenv(EnvAuthParam, "token")
	t.Setenv(EnvLogRequests, "on")
	t.Setenv(EnvLogAuthFailures, "TRUE")

	cfg := FromEnv()

	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 120, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 20, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.PerClient)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, []string{"first-key-123", "second-key-456"}, cfg.Auth.Keys)
	assert.Equal(t, "X-Custom-Key", cfg.Auth.HeaderName)
	assert.Equal(t, "token", cfg.Auth.QueryParam)
	assert.True(t, cfg.Logging.LogRequests)
	assert.True(t, cfg.Logging.LogAuthFailures)
}

func TestFromEnv_BooleanForms(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"TRUE", true},
		{"1", true},
		{"yes", true},
		{"On", true},
		{"false", false},
		{"0", false},
		{"no", false},
		{"off", false},
		{"banana", false}, // unparseable keeps the disabled default
		{"", false},
	}

	for _, tt := range tests {
		t.Run("value "+tt.value, func(t *testing.T) {
			t.Setenv(EnvAuthEnabled, tt.value)
			assert.Equal(t, tt.want, FromEnv().Auth.Enabled)
		})
	}
}

func TestFromEnv_UnparseableValuesKeepDefaults(t *testing.T) {
	t.Setenv(EnvRateLimitRPM, "not-a-number")
	t.Setenv(EnvRateLimitBurst, "12.5")
	t.Setenv(EnvAPIKeys, " , ,")

	cfg := FromEnv()

	assert.Equal(t, DefaultRequestsPerMinute, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, DefaultBurst, cfg.RateLimit.Burst)
	assert.Empty(t, cfg.Auth.Keys)
}
