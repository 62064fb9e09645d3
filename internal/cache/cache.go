// Package cache provides a small read-through cache with a capped TTL. Entries
// carry their own expiry, which is checked on every read.
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Cache stores JSON-encodable values under string keys.
type Cache interface {
	// Get decodes the value stored under key into dst. It reports false on a miss
	// or when the entry has expired.
	Get(ctx context.Context, key string, dst any) (bool, error)
	// Set stores v for ttl. A ttl of zero, or one above the cache maximum, is
	// clamped to the maximum.
	Set(ctx context.Context, key string, v any, ttl time.Duration) error
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string, any) (bool, error) { return false, nil }
func (Nop) Set(context.Context, string, any, time.Duration) error { return nil }

type envelope struct {
	ExpiresAt time.Time       `json:"expires_at"`
	Value     json.RawMessage `json:"value"`
}

func clampTTL(ttl, max time.Duration) time.Duration {
	if ttl <= 0 || (max > 0 && ttl > max) {
		return max
	}
	return ttl
}

func seal(v any, expires time.Time) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{ExpiresAt: expires, Value: raw})
}

// open decodes data into dst unless the envelope expired before now.
func open(data []byte, now time.Time, dst any) (bool, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return false, err
	}
	if !env.ExpiresAt.IsZero() && !now.Before(env.ExpiresAt) {
		return false, nil
	}
	if err := json.Unmarshal(env.Value, dst); err != nil {
		return false, err
	}
	return true, nil
}
