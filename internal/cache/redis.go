package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "cache:"

// RedisCache stores entries in Redis with both a key expiry and an embedded
// expiry timestamp.
type RedisCache struct {
	client *redis.Client
	maxTTL time.Duration
	now    func() time.Time
}

// NewRedisCache builds a Redis-backed cache capping every entry at maxTTL.
func NewRedisCache(client *redis.Client, maxTTL time.Duration) *RedisCache {
	if client == nil {
		panic("cache: redis client required")
	}
	if maxTTL <= 0 {
		maxTTL = 5 * time.Minute
	}
	return &RedisCache{client: client, maxTTL: maxTTL, now: time.Now}
}

// WithClock overrides the clock used for embedded expiry checks.
func (c *RedisCache) WithClock(now func() time.Time) *RedisCache {
	if now != nil {
		c.now = now
	}
	return c
}

func (c *RedisCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	data, err := c.client.Get(ctx, redisPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache: get %s: %w", key, err)
	}
	ok, err := open(data, c.now(), dst)
	if err != nil {
		return false, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	if !ok {
		c.client.Del(ctx, redisPrefix+key)
	}
	return ok, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	ttl = clampTTL(ttl, c.maxTTL)
	data, err := seal(v, c.now().Add(ttl))
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	if err := c.client.Set(ctx, redisPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}
