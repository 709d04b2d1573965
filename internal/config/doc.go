// Package config resolves and validates the admission layer
// configuration. All string parsing (environment variables, YAML) lives
// here; the rest of the system only consumes the typed Security value.
package config
