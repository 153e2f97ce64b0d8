package cachemem

import (
	"context"
	"testing"
	"time"

	"clawtrust/internal/domain"
)

func TestCacheExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cache := NewWithClock(func() time.Time { return now })

	view := domain.ReputationView{Agent: "provider-a", Score: 90, Tier: domain.TierElite}
	if err := cache.Put(ctx, "provider-a", view, 30*time.Second); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok, err := cache.Get(ctx, "provider-a")
	if err != nil || !ok {
		t.Fatalf("expected hit, ok=%v err=%v", ok, err)
	}
	if *got != view {
		t.Fatalf("unexpected value: %+v", got)
	}

	now = now.Add(31 * time.Second)
	if _, ok, _ := cache.Get(ctx, "provider-a"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestCacheZeroTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cache := NewWithClock(func() time.Time { return now })

	if err := cache.Put(ctx, "k", domain.ReputationView{Agent: "k"}, 0); err != nil {
		t.Fatalf("put: %v", err)
	}
	now = now.Add(24 * time.Hour)
	if _, ok, _ := cache.Get(ctx, "k"); !ok {
		t.Fatal("zero ttl entry must not expire")
	}
}

func TestCacheMiss(t *testing.T) {
	cache := New()
	if _, ok, err := cache.Get(context.Background(), "missing"); ok || err != nil {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}
}
