package ledger

import (
	"sync"
	"time"

	"github.com/deepcounsel/deepcounsel/internal/store"
)

// usageCache is the read cache in front of the usage store: entries
// expire after a short TTL and the oldest-accessed entry is evicted
// once the cache is full. An expired or invalidated entry is never
// served; both read as a miss.
type usageCache struct {
	mu          sync.Mutex
	ttl         time.Duration
	maxEntries  int
	entries     map[string]*cacheEntry
	accessOrder []string

	hits      int
	misses    int
	evictions int

	now func() time.Time
}

type cacheEntry struct {
	usage    store.UserUsage
	cachedAt time.Time
}

// CacheStats holds the cache counters since startup.
type CacheStats struct {
	Hits      int
	Misses    int
	Evictions int
	Entries   int
}

func newUsageCache(ttl time.Duration, maxEntries int) *usageCache {
	return &usageCache{
		ttl:         ttl,
		maxEntries:  maxEntries,
		entries:     make(map[string]*cacheEntry),
		accessOrder: make([]string, 0, maxEntries),
		now:         time.Now,
	}
}

// Get returns the cached usage if present and fresh.
func (c *usageCache) Get(userID string) (store.UserUsage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[userID]
	if !ok {
		c.misses++
		return store.UserUsage{}, false
	}
	if c.now().Sub(entry.cachedAt) >= c.ttl {
		c.removeLocked(userID)
		c.misses++
		return store.UserUsage{}, false
	}

	c.touchLocked(userID)
	c.hits++
	return entry.usage, true
}

// Put stores a fresh entry, evicting the least recently used entries
// once the cache is full.
func (c *usageCache) Put(userID string, usage store.UserUsage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[userID]; !exists {
		for len(c.entries) >= c.maxEntries {
			if len(c.accessOrder) == 0 {
				break
			}
			c.removeLocked(c.accessOrder[0])
			c.evictions++
		}
	}
	c.entries[userID] = &cacheEntry{usage: usage, cachedAt: c.now()}
	c.touchLocked(userID)
}

// Invalidate removes the entry for a user.
func (c *usageCache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(userID)
}

// Stats returns the counters since startup.
func (c *usageCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Entries:   len(c.entries),
	}
}

// removeLocked removes an entry (must hold lock).
func (c *usageCache) removeLocked(userID string) {
	if _, ok := c.entries[userID]; !ok {
		return
	}
	delete(c.entries, userID)
	for i, id := range c.accessOrder {
		if id == userID {
			c.accessOrder = append(c.accessOrder[:i], c.accessOrder[i+1:]...)
			break
		}
	}
}

// touchLocked moves an entry to the most recently used slot (must
// hold lock).
func (c *usageCache) touchLocked(userID string) {
	for i, id := range c.accessOrder {
		if id == userID {
			c.accessOrder = append(c.accessOrder[:i], c.accessOrder[i+1:]...)
			break
		}
	}
	c.accessOrder = append(c.accessOrder, userID)
}
