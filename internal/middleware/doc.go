// Package middleware composes authentication and rate limiting into a
// single admission check in front of request handlers. The transport
// layer calls CheckRequest once per inbound request and maps the typed
// errors to protocol responses; Protect provides that mapping for
// net/http handler chains.
package middleware
