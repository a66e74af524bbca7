package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryProviderRoundTrip(t *testing.T) {
	p := NewMemoryProvider(10, time.Minute)
	ctx := context.Background()

	if err := p.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := p.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("got %q, want %q", got, "v")
	}
}

func TestMemoryProviderMiss(t *testing.T) {
	p := NewMemoryProvider(10, time.Minute)
	if _, err := p.Get(context.Background(), "absent"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("err = %v, want ErrCacheMiss", err)
	}
}

func TestMemoryProviderExpiry(t *testing.T) {
	p := NewMemoryProvider(10, time.Minute)
	ctx := context.Background()

	current := time.Now()
	p.now = func() time.Time { return current }

	if err := p.Set(ctx, "k", []byte("v"), time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	current = current.Add(2 * time.Second)
	if _, err := p.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expired entry should miss, got %v", err)
	}
}

func TestMemoryProviderBoundedSize(t *testing.T) {
	p := NewMemoryProvider(3, time.Minute)
	ctx := context.Background()

	current := time.Now()
	p.now = func() time.Time { return current }

	for i, key := range []string{"a", "b", "c", "d", "e"} {
		// Staggered TTLs so the eviction order is deterministic.
		ttl := time.Duration(i+1) * time.Minute
		if err := p.Set(ctx, key, []byte(key), ttl); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}
	if p.Len() > 3 {
		t.Fatalf("len = %d, want <= 3", p.Len())
	}
	// The latest entry has the furthest expiry and must survive.
	if _, err := p.Get(ctx, "e"); err != nil {
		t.Fatalf("latest entry evicted: %v", err)
	}
}

func TestMemoryProviderFlush(t *testing.T) {
	p := NewMemoryProvider(10, time.Minute)
	ctx := context.Background()

	_ = p.Set(ctx, "a", []byte("1"), 0)
	_ = p.Set(ctx, "b", []byte("2"), 0)
	if err := p.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if p.Len() != 0 {
		t.Fatalf("len = %d after flush, want 0", p.Len())
	}
}
