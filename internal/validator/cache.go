package validator

import (
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

// Cache holds validation profiles keyed by source id with a TTL. Expiry is
// checked lazily on read; there is no background sweeper.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry

	hits   uint64
	misses uint64
}

type cacheEntry struct {
	profile   *Profile
	expiresAt time.Time
}

// NewCache builds an empty cache. A non-positive ttl falls back to five
// minutes.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cache{ttl: ttl, entries: make(map[string]cacheEntry)}
}

// Get returns the cached profile for the source, or nil when absent or
// expired.
func (c *Cache) Get(sourceID string) *Profile {
	c.mu.RLock()
	entry, ok := c.entries[sourceID]
	c.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		c.evictExpired(sourceID)
		return nil
	}

	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
	return entry.profile
}

// evictExpired counts a miss and drops the entry only if it is still
// expired; a Set that landed between the stale read and this write lock
// keeps its fresh entry.
func (c *Cache) evictExpired(sourceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[sourceID]; ok && time.Now().After(entry.expiresAt) {
		delete(c.entries, sourceID)
	}
	c.misses++
}

// Set stores the profile with a fresh TTL.
func (c *Cache) Set(sourceID string, profile *Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[sourceID] = cacheEntry{
		profile:   profile,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Invalidate drops one source's cached profile.
func (c *Cache) Invalidate(sourceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, sourceID)
}

// Len reports the number of cached entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// HitRate reports the fraction of lookups served from the cache.
func (c *Cache) HitRate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}
