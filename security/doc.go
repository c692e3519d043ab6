// Package security provides security-related functionality for the
// authorization server: encryption at rest, per-identifier rate limiting,
// client IP extraction, audit logging, request ID propagation, and
// clock-skew-tolerant expiry checks.
//
// # Rate Limiting
//
// The RateLimiter provides per-identifier rate limiting using a token bucket
// algorithm with automatic memory management through LRU eviction. When the
// configured entry limit is reached, the least recently used identifiers are
// evicted first, so legitimate repeat callers survive while one-shot attack
// sources are dropped.
//
//	limiter := security.NewRateLimiter(10, 20, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(clientIP) {
//	    // 429
//	}
//
// # Audit Logging
//
// The Auditor emits structured security events with user identifiers hashed
// before logging. Event type names are defined as constants in this package so
// that dashboards and alerts can rely on stable strings.
package security
