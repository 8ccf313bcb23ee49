package storage

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCache_Available(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()

	if _, found, _ := cache.GetAvailable(ctx, "doliprane"); found {
		t.Fatal("expected miss on empty cache")
	}

	cache.SetAvailable(ctx, "doliprane", 6, 3)
	cache.SetAvailable(ctx, "doliprane", 10, 2) // stale writer

	available, found, err := cache.GetAvailable(ctx, "doliprane")
	if err != nil || !found {
		t.Fatalf("expected hit, got found=%v err=%v", found, err)
	}
	if available != 6 {
		t.Errorf("expected 6, got %d", available)
	}

	cache.SetAvailable(ctx, "doliprane", 4, 4)
	if available, _, _ := cache.GetAvailable(ctx, "doliprane"); available != 4 {
		t.Errorf("expected newer version to win, got %d", available)
	}
}

func TestMemoryCache_AvailableExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	cache := NewMemoryCache()
	cache.now = func() time.Time { return now }

	cache.SetAvailable(ctx, "doliprane", 6, 1)
	now = now.Add(availableKeyTTL + time.Second)

	if _, found, _ := cache.GetAvailable(ctx, "doliprane"); found {
		t.Error("expected expired entry to miss")
	}
}

func TestMemoryCache_Idempotency(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	cache := NewMemoryCache()
	cache.now = func() time.Time { return now }

	ok, _ := cache.SetIdempotency(ctx, "order:request:1")
	if !ok {
		t.Fatal("first SetIdempotency should succeed")
	}
	ok, _ = cache.SetIdempotency(ctx, "order:request:1")
	if ok {
		t.Fatal("second SetIdempotency should fail")
	}

	cache.ClearIdempotency(ctx, "order:request:1")
	ok, _ = cache.SetIdempotency(ctx, "order:request:1")
	if !ok {
		t.Fatal("SetIdempotency after clear should succeed")
	}

	now = now.Add(idempotencyKeyTTL + time.Second)
	ok, _ = cache.SetIdempotency(ctx, "order:request:1")
	if !ok {
		t.Fatal("SetIdempotency after expiry should succeed")
	}
}
