package cache

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func newTestCache(maxSize int) *Cache {
	c := New(&Config{DefaultTTL: time.Hour, MaxSize: maxSize})
	return c
}

func TestCacheBasicOperations(t *testing.T) {
	c := newTestCache(10)
	ctx := context.Background()

	c.Set(ctx, "k1", []string{"postgres"}, 0)

	entry, found := c.Get(ctx, "k1")
	if !found {
		t.Fatal("Expected cache hit, got miss")
	}
	if got := entry.Response.([]string); len(got) != 1 || got[0] != "postgres" {
		t.Errorf("Response = %v", entry.Response)
	}
	if entry.Hits != 1 {
		t.Errorf("Hits = %d, want 1", entry.Hits)
	}
}

func TestCacheMiss(t *testing.T) {
	c := newTestCache(10)
	ctx := context.Background()

	if _, found := c.Get(ctx, "non-existent-key"); found {
		t.Error("Expected cache miss, got hit")
	}

	stats := c.GetStats(ctx)
	if stats.Misses != 1 {
		t.Errorf("Expected 1 miss, got %d", stats.Misses)
	}
}

func TestCacheExpiration(t *testing.T) {
	c := newTestCache(10)
	ctx := context.Background()

	c.Set(ctx, "short", "v", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if _, found := c.Get(ctx, "short"); found {
		t.Error("Expected expired entry to miss")
	}
	if n := c.GetStats(ctx).TotalEntries; n != 0 {
		t.Errorf("TotalEntries = %d, want 0", n)
	}
}

func TestCacheEvictsOldest(t *testing.T) {
	c := newTestCache(2)
	ctx := context.Background()

	c.Set(ctx, "a", 1, 0)
	time.Sleep(time.Millisecond)
	c.Set(ctx, "b", 2, 0)
	time.Sleep(time.Millisecond)
	c.Set(ctx, "c", 3, 0)

	if _, found := c.Get(ctx, "a"); found {
		t.Error("Expected oldest entry to be evicted")
	}
	if _, found := c.Get(ctx, "c"); !found {
		t.Error("Expected newest entry to be present")
	}
	if ev := c.GetStats(ctx).Evictions; ev != 1 {
		t.Errorf("Evictions = %d, want 1", ev)
	}
}

func TestCacheReplaceDoesNotEvict(t *testing.T) {
	c := newTestCache(1)
	ctx := context.Background()

	c.Set(ctx, "a", 1, 0)
	c.Set(ctx, "a", 2, 0)

	entry, found := c.Get(ctx, "a")
	if !found || entry.Response.(int) != 2 {
		t.Fatalf("entry = %+v, found = %v", entry, found)
	}
	if ev := c.GetStats(ctx).Evictions; ev != 0 {
		t.Errorf("Evictions = %d, want 0", ev)
	}
}

func TestCacheStatsHitRate(t *testing.T) {
	c := newTestCache(10)
	ctx := context.Background()

	c.Set(ctx, "k", "v", 0)
	c.Get(ctx, "k")
	c.Get(ctx, "k")
	c.Get(ctx, "missing")

	stats := c.GetStats(ctx)
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.HitRate < 0.66 || stats.HitRate > 0.67 {
		t.Errorf("HitRate = %v", stats.HitRate)
	}
}

func TestGenerateKey(t *testing.T) {
	k1, err := GenerateKey("search", map[string]string{"q": "postgres"})
	if err != nil {
		t.Fatal(err)
	}
	k2, _ := GenerateKey("search", map[string]string{"q": "postgres"})
	k3, _ := GenerateKey("other", map[string]string{"q": "postgres"})

	if k1 != k2 {
		t.Error("same input produced different keys")
	}
	if k1 == k3 {
		t.Error("namespace did not change the key")
	}
}

func TestCacheCleanupLoopStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	c := New(&Config{DefaultTTL: time.Millisecond, MaxSize: 10, CleanupPeriod: time.Millisecond})
	ctx := context.Background()
	c.Set(ctx, "k", "v", 0)

	deadline := time.Now().Add(time.Second)
	for c.GetStats(ctx).TotalEntries != 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if n := c.GetStats(ctx).TotalEntries; n != 0 {
		t.Errorf("cleanup left %d entries", n)
	}
	c.Close()
	c.Close()
}
