// Package observability provides structured logging for the admission
// control layer. It wraps zap behind a small Logger interface so that
// components can accept a logger without depending on a concrete
// implementation.
package observability
