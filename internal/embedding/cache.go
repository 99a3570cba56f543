package embedding

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/ry-ht/cortex/internal/logging"
)

// =============================================================================
// EMBEDDING CACHE
// =============================================================================

// cacheEntry is a (data, cached_at) pair; validity is judged against the TTL
// at read time.
type cacheEntry struct {
	data     []float32
	cachedAt time.Time
}

// Cache is a content-addressed TTL cache for embeddings. Multi-reader,
// single-writer via RWMutex.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	hits    uint64
	misses  uint64
}

// NewCache creates a cache with the given TTL. A zero TTL disables expiry.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
	}
}

// CacheKey derives the content-addressed key for a text.
func CacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// GetIfValid returns the cached vector when present and not expired.
func (c *Cache) GetIfValid(key string) ([]float32, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return nil, false
	}
	if c.ttl > 0 && time.Since(entry.cachedAt) > c.ttl {
		c.mu.Lock()
		delete(c.entries, key)
		c.misses++
		c.mu.Unlock()
		logging.EmbeddingDebug("Cache entry expired: %s", key[:12])
		return nil, false
	}

	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
	return entry.data, true
}

// Update refreshes both the data and the timestamp for a key.
func (c *Cache) Update(key string, data []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{data: data, cachedAt: time.Now()}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns hit/miss counters.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

// Purge removes expired entries and returns how many were dropped.
func (c *Cache) Purge() int {
	if c.ttl <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	now := time.Now()
	for k, e := range c.entries {
		if now.Sub(e.cachedAt) > c.ttl {
			delete(c.entries, k)
			dropped++
		}
	}
	return dropped
}
