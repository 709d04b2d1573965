package config

import (
	"os"
	"strconv"
	"strings"
)

// Environment variable names consumed by FromEnv.
const (
	EnvRateLimitEnabled = "SECURITY_RATE_LIMIT_ENABLED"
	EnvRateLimitRPM     = "SECURITY_RATE_LIMIT_RPM"
	EnvRateLimitBurst   = "SECURITY_RATE_LIMIT_BURST"
	EnvRateLimitByIP    = "SECURITY_RATE_LIMIT_BY_IP"
	EnvRedisAddress     = "SECURITY_REDIS_ADDR"

	EnvAuthEnabled = "SECURITY_AUTH_ENABLED"
	EnvAPIKeys     = "SECURITY_API_KEYS"
	EnvAuthHeader  = "SECURITY_AUTH_HEADER"
	EnvAuthParam   = "SECURITY_AUTH_PARAM"
	EnvAuthKeyFile = "SECURITY_AUTH_KEY_FILE"

	EnvLogRequests     = "SECURITY_LOG_REQUESTS"
	EnvLogAuthFailures = "SECURITY_LOG_AUTH_FAILURES"
)

// FromEnv builds a Security configuration from environment variables.
// Absent or unparseable values keep the fail-safe defaults.
func FromEnv() Security {
	cfg := Default()

	cfg.RateLimit.Enabled = envBool(EnvRateLimitEnabled, cfg.RateLimit.Enabled)
	cfg.RateLimit.RequestsPerMinute = envInt(EnvRateLimitRPM, cfg.RateLimit.RequestsPerMinute)
	cfg.RateLimit.Burst = envInt(EnvRateLimitBurst, cfg.RateLimit.Burst)
	cfg.RateLimit.PerClient = envBool(EnvRateLimitByIP, cfg.RateLimit.PerClient)
	cfg.RateLimit.RedisAddress = envString(EnvRedisAddress, cfg.RateLimit.RedisAddress)

	cfg.Auth.Enabled = envBool(EnvAuthEnabled, cfg.Auth.Enabled)
	cfg.Auth.Keys = envList(EnvAPIKeys, cfg.Auth.Keys)
	cfg.Auth.HeaderName = envString(EnvAuthHeader, cfg.Auth.HeaderName)
	cfg.Auth.QueryParam = envString(EnvAuthParam, cfg.Auth.QueryParam)
	cfg.Auth.KeyFile = envString(EnvAuthKeyFile, cfg.Auth.KeyFile)

	cfg.Logging.LogRequests = envBool(EnvLogRequests, cfg.Logging.LogRequests)
	cfg.Logging.LogAuthFailures = envBool(EnvLogAuthFailures, cfg.Logging.LogAuthFailures)

	return cfg
}

// envBool parses a boolean from the environment. Accepted true values
// are true/1/yes/on, accepted false values false/0/no/off, both
// case-insensitive. Anything else keeps the fallback.
func envBool(name string, fallback bool) bool {
	value, ok := os.LookupEnv(name)
	if !ok {
		return fallback
	}

	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return fallback
	}
}

// envInt parses an integer from the environment, keeping the fallback
// on absence or parse failure.
func envInt(name string, fallback int) int {
	value, ok := os.LookupEnv(name)
	if !ok {
		return fallback
	}

	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

// envString returns the trimmed value, keeping the fallback when unset
// or blank.
func envString(name string, fallback string) string {
	value, ok := os.LookupEnv(name)
	if !ok {
		return fallback
	}

	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}

// envList parses a comma-separated list, dropping empty elements.
func envList(name string, fallback []string) []string {
	value, ok := os.LookupEnv(name)
	if !ok {
		return fallback
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}
	if items == nil {
		return fallback
	}
	return items
}
