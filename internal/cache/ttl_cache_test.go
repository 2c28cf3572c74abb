package cache

import (
	"testing"
	"time"
)

func TestTTLCacheExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewTTLCacheWithNow[string, int](func() time.Time { return now })

	c.Set("a", 1, time.Minute)

	got, ok := c.Get("a")
	if !ok || got != 1 {
		t.Fatalf("expected hit with value 1, got %v ok=%v", got, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected expired entry to miss")
	}
	if c.Len() != 0 {
		t.Fatalf("expected expired entry to be evicted, len=%d", c.Len())
	}
}

func TestTTLCacheSweep(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewTTLCacheWithNow[string, string](func() time.Time { return now })

	c.Set("fresh", "x", time.Hour)
	c.Set("stale", "y", time.Minute)

	now = now.Add(10 * time.Minute)
	c.Sweep()

	if c.Len() != 1 {
		t.Fatalf("expected one entry after sweep, got %d", c.Len())
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Fatal("expected fresh entry to survive sweep")
	}
}

func TestTTLCacheZeroTTLIgnored(t *testing.T) {
	c := NewTTLCache[string, int]()
	c.Set("a", 1, 0)
	if _, ok := c.Get("a"); ok {
		t.Fatal("zero TTL entries must not be stored")
	}
}
