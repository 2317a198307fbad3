// Package resolve maps tracks from the metadata provider to playable media IDs
// on the external video host, with read-through caching and rate-aware batch
// population.
package resolve

import (
	"strings"
	"sync"
)

// querySuffix biases search relevance towards audio uploads.
const querySuffix = "official audio"

// Normalize builds the canonical cache key for a title/artist pair.
// It must be applied identically at every call site so cache keys agree.
func Normalize(title, artist string) string {
	q := strings.TrimSpace(title) + " " + strings.TrimSpace(artist) + " " + querySuffix
	return strings.ToLower(strings.TrimSpace(q))
}

// Cache stores resolved media IDs keyed by normalized query.
// Absence of an entry means the query has not been resolved yet; implementations
// must never store negative results, so a failed resolution stays retryable.
type Cache interface {
	// Lookup returns the cached media ID for a normalized query.
	Lookup(query string) (mediaID string, ok bool)

	// Store inserts or overwrites the media ID for a normalized query.
	Store(query, mediaID string)
}

// MemoryCache is an in-memory Cache safe for concurrent use.
// Entries are cheap string pairs and live for the process lifetime;
// there is no eviction.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewMemoryCache creates an empty in-memory resolution cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]string),
	}
}

// Lookup returns the cached media ID for query. It never performs I/O.
func (c *MemoryCache) Lookup(query string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.entries[query]
	return id, ok
}

// Store inserts or overwrites the entry for query. Last write wins.
func (c *MemoryCache) Store(query, mediaID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[query] = mediaID
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// LayeredCache reads through a fast front cache to a durable backing store.
// Hits in the backing store are promoted to the front; writes go to both.
type LayeredCache struct {
	front Cache
	back  Cache
}

// NewLayeredCache layers front over back.
func NewLayeredCache(front, back Cache) *LayeredCache {
	return &LayeredCache{front: front, back: back}
}

// Lookup checks the front cache first, then the backing store.
func (c *LayeredCache) Lookup(query string) (string, bool) {
	if id, ok := c.front.Lookup(query); ok {
		return id, true
	}

	id, ok := c.back.Lookup(query)
	if ok {
		c.front.Store(query, id)
	}
	return id, ok
}

// Store writes the entry to both layers.
func (c *LayeredCache) Store(query, mediaID string) {
	c.front.Store(query, mediaID)
	c.back.Store(query, mediaID)
}
