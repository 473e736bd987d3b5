package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/boardflow/boardflow-backend/internal/core/ports"
)

// RateLimiter implements ports.RateLimiter with fixed-window counters in
// Redis. INCR and EXPIRE run pipelined so concurrent increments from
// independent processes stay atomic per key, and counters vanish on their
// own once the window passes.
type RateLimiter struct {
	rdb *redis.Client
}

var _ ports.RateLimiter = (*RateLimiter)(nil)

// NewRateLimiter creates a shared-store rate limiter.
func NewRateLimiter(rdb *redis.Client) *RateLimiter {
	return &RateLimiter{rdb: rdb}
}

// Allow increments the counter for the current window bucket of key and
// reports whether the count is within limit. Errors are returned to the
// caller, which decides whether to fail open.
func (l *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	bucket := time.Now().UTC().Truncate(window).Unix()
	windowKey := fmt.Sprintf("%s:%d", key, bucket)

	pipe := l.rdb.Pipeline()
	incr := pipe.Incr(ctx, windowKey)
	// Window plus one extra period so a count read near the boundary is
	// still backed by a live key.
	pipe.Expire(ctx, windowKey, window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= int64(limit), nil
}
