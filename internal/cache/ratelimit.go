package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter gates notification-creation and message-send per actor.
type Limiter interface {
	// Allow returns false with a retry-after hint when the actor has
	// exhausted the window.
	Allow(ctx context.Context, action, actorID string) (bool, time.Duration, error)
}

// RateLimiter is a fixed-window counter: INCR + EXPIRE on first hit.
type RateLimiter struct {
	rdb    *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(rdb *redis.Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{rdb: rdb, limit: int64(limit), window: window}
}

func (r *RateLimiter) Allow(ctx context.Context, action, actorID string) (bool, time.Duration, error) {
	key := RateLimitKey(action, actorID)

	count, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit incr %s: %w", key, err)
	}
	if count == 1 {
		if err := r.rdb.Expire(ctx, key, r.window).Err(); err != nil {
			return false, 0, fmt.Errorf("rate limit expire %s: %w", key, err)
		}
	}
	if count > r.limit {
		ttl, err := r.rdb.TTL(ctx, key).Result()
		if err != nil || ttl < 0 {
			ttl = r.window
		}
		return false, ttl, nil
	}
	return true, 0, nil
}
