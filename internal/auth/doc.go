// Package auth provides API key authentication: credential extraction
// from request headers and query parameters, timing-resistant key
// validation, runtime key rotation, and log-safe masked key
// identifiers.
package auth
