// Package ratelimit provides token-bucket admission control. A
// BucketLimiter tracks one bucket per client (or a single shared bucket)
// and answers probe, raise-on-deny, and observability queries. The
// distributed variant backed by a shared store lives in the store
// subpackage.
package ratelimit
