package config

import (
	"fmt"

	"github.com/guardrail-io/admission/internal/auth"
)

// Default values applied when a feature is enabled without explicit
// parameters.
const (
	DefaultRequestsPerMinute = 60
	DefaultBurst             = 10
)

// Security is the immutable configuration snapshot for the admission
// layer. Build it once at startup via Default, FromEnv, or Load; never
// mutate it afterwards.
type Security struct {
	RateLimit RateLimit `yaml:"rateLimit"`
	Auth      Auth      `yaml:"auth"`
	Logging   Logging   `yaml:"logging"`
}

// RateLimit configures the token-bucket limiter.
type RateLimit struct {
	// Enabled turns rate limiting on.
	Enabled bool `yaml:"enabled"`

	// RequestsPerMinute is the sustained budget.
	RequestsPerMinute int `yaml:"requestsPerMinute"`

	// Burst is the bucket capacity.
	Burst int `yaml:"burst"`

	// PerClient tracks one bucket per client identifier (source IP)
	// instead of a single shared bucket.
	PerClient bool `yaml:"perClient"`

	// RedisAddress, when set, backs the limiter with a shared Redis
	// store so multiple instances draw from the same budgets.
	RedisAddress string `yaml:"redisAddress,omitempty"`
}

// Auth configures API key authentication.
type Auth struct {
	// Enabled turns authentication on.
	Enabled bool `yaml:"enabled"`

	// Keys is the static list of accepted API keys.
	Keys []string `yaml:"keys,omitempty"`

	// HeaderName is the request header carrying the key.
	HeaderName string `yaml:"header"`

	// QueryParam is the query parameter fallback.
	QueryParam string `yaml:"queryParam"`

	// KeyFile, when set, loads keys from a YAML key file that is
	// watched for changes (runtime rotation).
	KeyFile string `yaml:"keyFile,omitempty"`
}

// Logging configures request logging behavior.
type Logging struct {
	// LogRequests logs every admitted request.
	LogRequests bool `yaml:"logRequests"`

	// LogAuthFailures logs rejected authentication attempts.
	LogAuthFailures bool `yaml:"logAuthFailures"`
}

// Default returns the fail-safe configuration: every feature disabled,
// sensible parameters pre-filled for when a feature is switched on.
func Default() Security {
	return Security{
		RateLimit: RateLimit{
			Enabled:           false,
			RequestsPerMinute: DefaultRequestsPerMinute,
			Burst:             DefaultBurst,
			PerClient:         true,
		},
		Auth: Auth{
			Enabled:    false,
			HeaderName: auth.DefaultHeaderName,
			QueryParam: auth.DefaultQueryParam,
		},
	}
}

// Validate reports configuration problems as warnings. Warnings never
// block startup: the layer fails open on misconfiguration, and callers
// are expected to log each warning loudly.
func (c Security) Validate() []string {
	var warnings []string

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerMinute <= 0 {
			warnings = append(warnings, fmt.Sprintf(
				"rate limiting enabled with non-positive requests per minute (%d); limiter will not start",
				c.RateLimit.RequestsPerMinute))
		}
		if c.RateLimit.Burst <= 0 {
			warnings = append(warnings, fmt.Sprintf(
				"rate limiting enabled with non-positive burst (%d); limiter will not start",
				c.RateLimit.Burst))
		}
	}

	if c.Auth.Enabled {
		if len(c.Auth.Keys) == 0 && c.Auth.KeyFile == "" {
			warnings = append(warnings,
				"authentication enabled but no API keys configured; all requests will be rejected")
		}
		for _, key := range c.Auth.Keys {
			if len(key) < auth.MinKeyLength {
				warnings = append(warnings, fmt.Sprintf(
					"API key %s is shorter than %d characters and will be rejected",
					auth.MaskKey(key), auth.MinKeyLength))
			}
		}
	}

	return warnings
}
