package reqctx

import (
	"context"
	"testing"
	"time"

	"github.com/wolfman30/consult-escrow/internal/cache"
)

func TestWithUserIDAndUserIDFromContext(t *testing.T) {
	ctx := WithUserID(context.Background(), "patient-1")

	got, ok := UserIDFromContext(ctx)
	if !ok {
		t.Fatalf("expected user id to be present")
	}
	if got != "patient-1" {
		t.Fatalf("expected patient-1, got %s", got)
	}
}

func TestUserIDFromContext_EmptyOrMissing(t *testing.T) {
	ctx := context.Background()
	if _, ok := UserIDFromContext(ctx); ok {
		t.Fatalf("expected missing user id to return false")
	}

	ctx = context.WithValue(ctx, userKey, 42)
	if _, ok := UserIDFromContext(ctx); ok {
		t.Fatalf("expected non-string user id to return false")
	}

	ctx = WithUserID(context.Background(), "")
	if _, ok := UserIDFromContext(ctx); ok {
		t.Fatalf("expected empty user id to return false")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	ctx := WithToken(context.Background(), "tok")
	got, ok := TokenFromContext(ctx)
	if !ok || got != "tok" {
		t.Fatalf("expected token tok, got %q (%v)", got, ok)
	}
}

func TestCacheFromContextDefaultsToNop(t *testing.T) {
	c := CacheFromContext(context.Background())
	if _, ok := c.(cache.Nop); !ok {
		t.Fatalf("expected nop cache, got %T", c)
	}

	mem := cache.NewMemoryCache(time.Minute)
	c = CacheFromContext(WithCache(context.Background(), mem))
	if c != mem {
		t.Fatalf("expected attached cache")
	}
}
