package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter counts windows in a shared Redis so replicas of the sidecar
// enforce one cap. The first write of a window is a set-if-absent with the
// window length as TTL; subsequent writes are atomic increments.
type RedisLimiter struct {
	client *redis.Client
	config Config
	now    func() time.Time
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(client *redis.Client, config Config) *RedisLimiter {
	if config.Window <= 0 {
		config.Window = DefaultConfig().Window
	}
	if config.MaxRequests <= 0 {
		config.MaxRequests = DefaultConfig().MaxRequests
	}
	return &RedisLimiter{client: client, config: config, now: time.Now}
}

// Allow counts the request against the current window.
func (l *RedisLimiter) Allow(ctx context.Context, userID, route string) (Decision, error) {
	if !l.config.Enabled {
		return Decision{Allowed: true}, nil
	}

	now := l.now()
	windowStart := now.Truncate(l.config.Window).UnixMilli()
	key := fmt.Sprintf("rate:%s:%d", windowKey(userID, route), windowStart)

	set, err := l.client.SetNX(ctx, key, 1, l.config.Window).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: setnx: %w", err)
	}
	count := int64(1)
	if !set {
		count, err = l.client.Incr(ctx, key).Result()
		if err != nil {
			return Decision{}, fmt.Errorf("ratelimit: incr: %w", err)
		}
	}
	if count > int64(l.config.MaxRequests) {
		return Decision{Allowed: false, RetryAfter: retryAfter(now, l.config.Window)}, nil
	}
	return Decision{Allowed: true}, nil
}

var _ Limiter = (*RedisLimiter)(nil)
