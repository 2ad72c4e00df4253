// Package ratelimit throttles the public release API per client IP with
// token buckets and exposes the bucket state as X-RateLimit-* headers.
package ratelimit

import "time"

// Limiter hands out tokens per client key, normally the client IP. It is
// shared by every request goroutine.
type Limiter interface {
	// Allow spends one token of key's bucket. A denied request spends
	// nothing.
	Allow(key string) (allowed bool, info Info)

	// Close stops the idle-bucket sweep.
	Close()
}

// Info is the bucket state after a call to Allow.
type Info struct {
	// Limit is the sustained rate in requests per minute.
	Limit int
	// Remaining is the number of whole tokens left.
	Remaining int
	// ResetAt is when the bucket is full again.
	ResetAt time.Time
	// RetryAfter is the wait until the next token. Zero when allowed.
	RetryAfter time.Duration
}
