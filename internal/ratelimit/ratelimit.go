// Package ratelimit implements the per-user, per-route admission check
// described in spec.md §4.6: a fixed-window counter keyed by
// "rate_limit:<user_sub>:<route_template>", backed by Redis when
// configured.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision is returned by every admission check, configured or not.
type Decision struct {
	Limit          int
	Remaining      int
	ResetInSeconds int
	RateLimited    bool
}

// unlimited is the sentinel decision returned when no store is configured
// (spec.md §4.6).
var unlimited = Decision{Limit: -1, Remaining: -1, ResetInSeconds: -1}

// Limiter checks and records one admission for (userSub, route).
type Limiter interface {
	Allow(ctx context.Context, userSub, route string, limit int, expiry time.Duration) (Decision, error)
}

// NoLimiter is the zero-configuration Limiter: every call is admitted with
// the unlimited sentinel, per spec.md §4.6's "store not configured" case.
type NoLimiter struct{}

// Allow always admits.
func (NoLimiter) Allow(context.Context, string, string, int, time.Duration) (Decision, error) {
	return unlimited, nil
}

// RedisLimiter is the primary Limiter: a fixed-window counter stored in
// Redis, atomic per key via GET / SET EX / INCR / PTTL (spec.md §4.6's exact
// admission algorithm).
type RedisLimiter struct {
	rdb *redis.Client
}

// New builds a RedisLimiter.
func New(rdb *redis.Client) (*RedisLimiter, error) {
	if rdb == nil {
		return nil, errors.New("ratelimit: redis client is required")
	}
	return &RedisLimiter{rdb: rdb}, nil
}

func key(userSub, route string) string {
	return fmt.Sprintf("rate_limit:%s:%s", userSub, route)
}

// Allow implements the fixed-window admission algorithm: absent key -> set
// to 1 with the configured TTL and admit; present and below limit ->
// increment and admit; at or above limit -> read remaining TTL and deny.
func (l *RedisLimiter) Allow(ctx context.Context, userSub, route string, limit int, expiry time.Duration) (Decision, error) {
	k := key(userSub, route)

	count, err := l.rdb.Get(ctx, k).Int()
	if errors.Is(err, redis.Nil) {
		if err := l.rdb.Set(ctx, k, 1, expiry).Err(); err != nil {
			return Decision{}, fmt.Errorf("ratelimit: set: %w", err)
		}
		return Decision{Limit: limit, Remaining: limit - 1, ResetInSeconds: int(expiry.Seconds())}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: get: %w", err)
	}

	if count < limit {
		newCount, err := l.rdb.Incr(ctx, k).Result()
		if err != nil {
			return Decision{}, fmt.Errorf("ratelimit: incr: %w", err)
		}
		ttl, err := l.rdb.PTTL(ctx, k).Result()
		if err != nil {
			return Decision{}, fmt.Errorf("ratelimit: pttl: %w", err)
		}
		return Decision{
			Limit:          limit,
			Remaining:      limit - int(newCount),
			ResetInSeconds: int(ttl / time.Second),
		}, nil
	}

	ttl, err := l.rdb.PTTL(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: pttl: %w", err)
	}
	return Decision{
		Limit:          limit,
		Remaining:      0,
		ResetInSeconds: int(ttl / time.Second),
		RateLimited:    true,
	}, nil
}
