package catalog

import (
	"sync"
	"time"

	"mangadrop/internal/clock"
	"mangadrop/internal/domain"
)

type cacheEntry struct {
	insertedAt time.Time
	item       domain.Item
}

// ItemCache is a TTL cache bounded by entry count. Expired entries are
// treated as absent and removed on lookup; when a put pushes the cache
// over capacity the single oldest entry goes, with ties broken by key
// order so eviction is deterministic.
type ItemCache struct {
	mu      sync.Mutex
	clock   clock.Clock
	ttl     time.Duration
	maxSize int
	entries map[string]cacheEntry
}

func NewItemCache(clk clock.Clock, ttl time.Duration, maxSize int) *ItemCache {
	return &ItemCache{
		clock:   clk,
		ttl:     ttl,
		maxSize: maxSize,
		entries: map[string]cacheEntry{},
	}
}

func (c *ItemCache) Get(key string) (domain.Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return domain.Item{}, false
	}
	if c.clock.Now().Sub(entry.insertedAt) >= c.ttl {
		delete(c.entries, key)
		return domain.Item{}, false
	}
	return entry.item, true
}

func (c *ItemCache) Put(key string, item domain.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{insertedAt: c.clock.Now(), item: item}
	if c.maxSize <= 0 || len(c.entries) <= c.maxSize {
		return
	}

	oldestKey := ""
	var oldestAt time.Time
	for k, entry := range c.entries {
		switch {
		case oldestKey == "",
			entry.insertedAt.Before(oldestAt),
			entry.insertedAt.Equal(oldestAt) && k < oldestKey:
			oldestKey = k
			oldestAt = entry.insertedAt
		}
	}
	delete(c.entries, oldestKey)
}

func (c *ItemCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
