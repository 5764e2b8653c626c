package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewLimiter(client), mr
}

func TestLimiter_IPWindow(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	exceeded, err := limiter.CheckIPRateLimitWithPurpose(ctx, "10.0.0.1", "login")
	if err != nil {
		t.Fatalf("CheckIPRateLimitWithPurpose failed: %v", err)
	}
	if exceeded {
		t.Fatal("fresh IP should not be limited")
	}

	for i := 0; i < defaultMaxRequests; i++ {
		if err := limiter.RecordIPRequestWithPurpose(ctx, "10.0.0.1", "login"); err != nil {
			t.Fatalf("RecordIPRequestWithPurpose failed: %v", err)
		}
	}

	exceeded, err = limiter.CheckIPRateLimitWithPurpose(ctx, "10.0.0.1", "login")
	if err != nil {
		t.Fatalf("CheckIPRateLimitWithPurpose failed: %v", err)
	}
	if !exceeded {
		t.Errorf("IP should be limited after %d requests", defaultMaxRequests)
	}

	// A different purpose has its own window
	exceeded, err = limiter.CheckIPRateLimitWithPurpose(ctx, "10.0.0.1", "register")
	if err != nil {
		t.Fatalf("CheckIPRateLimitWithPurpose failed: %v", err)
	}
	if exceeded {
		t.Error("register window should be independent of login window")
	}
}

func TestLimiter_WindowExpires(t *testing.T) {
	limiter, mr := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < defaultMaxRequests; i++ {
		if err := limiter.RecordIPRequest(ctx, "10.0.0.2"); err != nil {
			t.Fatalf("RecordIPRequest failed: %v", err)
		}
	}

	exceeded, err := limiter.CheckIPRateLimit(ctx, "10.0.0.2")
	if err != nil {
		t.Fatalf("CheckIPRateLimit failed: %v", err)
	}
	if !exceeded {
		t.Fatal("IP should be limited")
	}

	mr.FastForward(defaultWindow + time.Second)

	exceeded, err = limiter.CheckIPRateLimit(ctx, "10.0.0.2")
	if err != nil {
		t.Fatalf("CheckIPRateLimit failed: %v", err)
	}
	if exceeded {
		t.Error("window should reset after expiry")
	}
}

func TestLimiter_EmailCooldown(t *testing.T) {
	limiter, mr := newTestLimiter(t)
	ctx := context.Background()

	onCooldown, err := limiter.CheckEmailCooldown(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("CheckEmailCooldown failed: %v", err)
	}
	if onCooldown {
		t.Fatal("fresh email should not be on cooldown")
	}

	if err := limiter.SetEmailCooldown(ctx, "user@example.com"); err != nil {
		t.Fatalf("SetEmailCooldown failed: %v", err)
	}

	onCooldown, err = limiter.CheckEmailCooldown(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("CheckEmailCooldown failed: %v", err)
	}
	if !onCooldown {
		t.Error("email should be on cooldown")
	}

	mr.FastForward(defaultCooldown + time.Second)

	onCooldown, err = limiter.CheckEmailCooldown(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("CheckEmailCooldown failed: %v", err)
	}
	if onCooldown {
		t.Error("cooldown should expire")
	}
}
