// Package reqctx carries per-request state (caller identity, access token,
// response cache) through context.Context.
package reqctx

import (
	"context"

	"github.com/wolfman30/consult-escrow/internal/cache"
)

type ctxKey string

const (
	userKey  ctxKey = "consult.user_id"
	tokenKey ctxKey = "consult.access_token"
	cacheKey ctxKey = "consult.cache"
)

// WithUserID stores the authenticated user id in context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey, userID)
}

// UserIDFromContext extracts the user id if present.
func UserIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, userKey)
}

// WithToken stores the bearer token the caller presented.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

// TokenFromContext extracts the access token if present.
func TokenFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, tokenKey)
}

// WithCache attaches a cache to the request.
func WithCache(ctx context.Context, c cache.Cache) context.Context {
	return context.WithValue(ctx, cacheKey, c)
}

// CacheFromContext returns the request cache, or a no-op cache when none is set.
func CacheFromContext(ctx context.Context) cache.Cache {
	if c, ok := ctx.Value(cacheKey).(cache.Cache); ok && c != nil {
		return c
	}
	return cache.Nop{}
}

func stringValue(ctx context.Context, key ctxKey) (string, bool) {
	val := ctx.Value(key)
	if val == nil {
		return "", false
	}
	s, ok := val.(string)
	return s, ok && s != ""
}
