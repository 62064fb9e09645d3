package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryCache is an in-process cache with the same expiry rules as RedisCache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	maxTTL  time.Duration
	now     func() time.Time
}

// NewMemoryCache returns an empty in-process cache.
func NewMemoryCache(maxTTL time.Duration) *MemoryCache {
	if maxTTL <= 0 {
		maxTTL = 5 * time.Minute
	}
	return &MemoryCache{entries: map[string][]byte{}, maxTTL: maxTTL, now: time.Now}
}

// WithClock overrides the clock used for expiry checks.
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	if now != nil {
		c.now = now
	}
	return c
}

func (c *MemoryCache) Get(_ context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	data, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	hit, err := open(data, c.now(), dst)
	if err != nil {
		return false, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	if !hit {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
	}
	return hit, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, v any, ttl time.Duration) error {
	data, err := seal(v, c.now().Add(clampTTL(ttl, c.maxTTL)))
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	c.mu.Lock()
	c.entries[key] = data
	c.mu.Unlock()
	return nil
}
