package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalLimiter is a single-process Limiter backed by golang.org/x/time/rate,
// used by deployments that run without Redis (tests, local development)
// where the NoLimiter sentinel would otherwise be too permissive to exercise
// the 429/accounting-switch paths. It approximates the Redis fixed-window
// algorithm with a token bucket per (userSub, route) pair: one token
// consumed per Allow call, refilled continuously at limit/expiry.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewLocal builds a LocalLimiter.
func NewLocal() *LocalLimiter {
	return &LocalLimiter{buckets: make(map[string]*rate.Limiter)}
}

// Allow admits or denies using a per-key token bucket sized to (limit,
// expiry), creating the bucket on first use.
func (l *LocalLimiter) Allow(ctx context.Context, userSub, route string, limit int, expiry time.Duration) (Decision, error) {
	if limit <= 0 || expiry <= 0 {
		return unlimited, nil
	}
	k := key(userSub, route)

	l.mu.Lock()
	lim, ok := l.buckets[k]
	if !ok {
		refillPerSecond := float64(limit) / expiry.Seconds()
		lim = rate.NewLimiter(rate.Limit(refillPerSecond), limit)
		l.buckets[k] = lim
	}
	l.mu.Unlock()

	if lim.Allow() {
		tokens := int(lim.Tokens())
		if tokens < 0 {
			tokens = 0
		}
		return Decision{Limit: limit, Remaining: tokens, ResetInSeconds: int(expiry.Seconds())}, nil
	}
	return Decision{
		Limit:          limit,
		Remaining:      0,
		ResetInSeconds: int(expiry.Seconds()),
		RateLimited:    true,
	}, nil
}
