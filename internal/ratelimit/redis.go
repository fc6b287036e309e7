package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/reflex/internal/domain"
)

// Redis is a fixed-window limiter shared by every replica pointing at the
// same Redis. Each call increments the window counter and refreshes its
// expiry in one pipeline. The call that opens a window is always allowed;
// later calls are allowed while the post-increment count stays within the
// limit.
type Redis struct {
	client *redis.Client
	limits Limits
}

func NewRedis(client *redis.Client, limits Limits) *Redis {
	return &Redis{client: client, limits: limits}
}

func (r *Redis) Consume(ctx context.Context, tenantID string, channel domain.Channel, ts time.Time) (bool, error) {
	limit := r.limits.For(channel)
	key := buildKey(tenantID, channel, WindowIndex(ts))

	pipe := r.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*Window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis pipeline: %w", err)
	}

	n := incr.Val()
	return n == 1 || n <= int64(limit), nil
}

func buildKey(tenantID string, channel domain.Channel, window int64) string {
	return fmt.Sprintf("reflex:rl:%s:%s:%d", tenantID, channel, window)
}

var _ Limiter = (*Redis)(nil)
