package ledger

import (
	"testing"
	"time"

	"github.com/deepcounsel/deepcounsel/internal/store"
)

func usageFor(userID string, requests int) store.UserUsage {
	return store.UserUsage{UserID: userID, Plan: store.PlanFree, DailyLimit: 20, RequestsToday: requests}
}

func TestCacheServesFreshEntry(t *testing.T) {
	c := newUsageCache(5*time.Second, 10)
	c.Put("user-1", usageFor("user-1", 3))

	got, ok := c.Get("user-1")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.RequestsToday != 3 {
		t.Fatalf("unexpected cached usage: %+v", got)
	}
	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestCacheExpiresByTTL(t *testing.T) {
	c := newUsageCache(5*time.Second, 10)
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	c.Put("user-1", usageFor("user-1", 1))
	clock = clock.Add(4 * time.Second)
	if _, ok := c.Get("user-1"); !ok {
		t.Fatal("entry inside TTL must be served")
	}

	clock = clock.Add(time.Second)
	if _, ok := c.Get("user-1"); ok {
		t.Fatal("entry at TTL boundary must read as a miss")
	}
	if _, exists := c.entries["user-1"]; exists {
		t.Fatal("expired entry must be dropped, not retained")
	}
}

func TestCacheInvalidate(t *testing.T) {
	c := newUsageCache(time.Minute, 10)
	c.Put("user-1", usageFor("user-1", 1))
	c.Invalidate("user-1")
	if _, ok := c.Get("user-1"); ok {
		t.Fatal("invalidated entry must read as a miss")
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := newUsageCache(time.Minute, 2)
	c.Put("a", usageFor("a", 1))
	c.Put("b", usageFor("b", 1))

	// Touch a so b becomes the eviction candidate.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected hit on a")
	}
	c.Put("c", usageFor("c", 1))

	if _, ok := c.Get("b"); ok {
		t.Fatal("expected b to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a to survive eviction")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatal("expected c to be cached")
	}

	stats := c.Stats()
	if stats.Evictions != 1 {
		t.Fatalf("expected 1 eviction, got %d", stats.Evictions)
	}
	if stats.Entries != 2 {
		t.Fatalf("expected 2 entries, got %d", stats.Entries)
	}
}

func TestCacheUpdateExistingDoesNotEvict(t *testing.T) {
	c := newUsageCache(time.Minute, 2)
	c.Put("a", usageFor("a", 1))
	c.Put("b", usageFor("b", 1))
	c.Put("a", usageFor("a", 2))

	if _, ok := c.Get("b"); !ok {
		t.Fatal("refreshing an entry must not evict others")
	}
	got, _ := c.Get("a")
	if got.RequestsToday != 2 {
		t.Fatalf("expected refreshed value, got %+v", got)
	}
}
