package cache

import (
	"strings"
	"sync"
)

// DefaultNameCacheSize bounds a NameCache created with size 0.
const DefaultNameCacheSize = 4096

// NameCache maps mangled 8.3 names back to the long names they were
// generated from. Lookups are case-insensitive. When full, the oldest entry
// is overwritten.
//
// Thread-safe: Uses RWMutex for concurrent access.
type NameCache struct {
	mu      sync.RWMutex
	entries map[string]int
	ring    []nameEntry
	next    int
}

type nameEntry struct {
	mangled string
	long    string
}

var _ Invalidator = (*NameCache)(nil)

// NewNameCache creates a cache holding at most size entries.
func NewNameCache(size int) *NameCache {
	if size <= 0 {
		size = DefaultNameCacheSize
	}
	return &NameCache{
		entries: make(map[string]int, size),
		ring:    make([]nameEntry, size),
	}
}

// Add remembers that mangled was generated from long.
// No-op if caching is disabled (PVFS_CACHE=0).
func (c *NameCache) Add(mangled, long string) {
	if Disabled {
		return
	}
	key := strings.ToUpper(mangled)

	c.mu.Lock()
	defer c.mu.Unlock()

	if i, ok := c.entries[key]; ok {
		c.ring[i].long = long
		return
	}
	slot := c.next
	if old := c.ring[slot]; old.mangled != "" {
		delete(c.entries, old.mangled)
	}
	c.ring[slot] = nameEntry{mangled: key, long: long}
	c.entries[key] = slot
	c.next = (slot + 1) % len(c.ring)
}

// Lookup returns the long name for mangled.
// Always misses if caching is disabled (PVFS_CACHE=0).
func (c *NameCache) Lookup(mangled string) (string, bool) {
	if Disabled {
		return "", false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.entries[strings.ToUpper(mangled)]
	if !ok {
		return "", false
	}
	return c.ring[i].long, true
}

// Invalidate clears all entries from the cache.
func (c *NameCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) > 0 {
		c.entries = make(map[string]int, len(c.ring))
		for i := range c.ring {
			c.ring[i] = nameEntry{}
		}
		c.next = 0
	}
}

// Size returns the current number of entries in the cache.
func (c *NameCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
