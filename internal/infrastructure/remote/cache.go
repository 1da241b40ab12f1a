package remote

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Default cache sizing
const (
	defaultCacheTTL        = 5 * time.Minute
	defaultCacheMaxEntries = 1024
)

// CacheStats is a point-in-time snapshot of cache effectiveness
type CacheStats struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// cacheEntry holds one memoized read result
type cacheEntry struct {
	response   *Response
	insertedAt time.Time
	expiresAt  time.Time
}

// QueryCache is a time-bounded memoization of remote read results keyed by
// a stable hash of (query, variables). Mutations never touch it. Once the
// entry cap is exceeded the oldest half is evicted in one pass; FIFO rather
// than LRU is acceptable because staleness is already bounded by the TTL.
type QueryCache struct {
	mu         sync.RWMutex
	entries    map[string]*cacheEntry
	ttl        time.Duration
	maxEntries int

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	// now is swappable for tests
	now func() time.Time
}

// NewQueryCache creates a cache with the given TTL and entry cap;
// non-positive arguments fall back to defaults
func NewQueryCache(ttl time.Duration, maxEntries int) *QueryCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultCacheMaxEntries
	}
	return &QueryCache{
		entries:    make(map[string]*cacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Key builds the stable cache key for a request. Variables are serialized
// with sorted keys so identical inputs always hash identically.
func Key(query string, variables map[string]any) string {
	h := sha256.New()
	h.Write([]byte(query))
	if len(variables) > 0 {
		// encoding/json sorts map keys deterministically
		if raw, err := json.Marshal(variables); err == nil {
			h.Write(raw)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached response for the key if present and unexpired.
// An expired entry is deleted on observation so a quiet cache does not
// hold dead responses until the next cap-triggered eviction.
func (c *QueryCache) Get(key string) (*Response, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock: Set may have replaced the entry
		if current, ok := c.entries[key]; ok && current == entry {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return entry.response, true
}

// Set stores a response under the key, evicting the oldest half of the
// cache in one pass when the entry cap is exceeded
func (c *QueryCache) Set(key string, response *Response) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &cacheEntry{
		response:   response,
		insertedAt: now,
		expiresAt:  now.Add(c.ttl),
	}

	if len(c.entries) > c.maxEntries {
		c.evictOldestHalfLocked()
	}
}

// Invalidate removes one key
func (c *QueryCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear drops every entry
func (c *QueryCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()
}

// Stats returns a snapshot of cache effectiveness
func (c *QueryCache) Stats() CacheStats {
	c.mu.RLock()
	entries := len(c.entries)
	c.mu.RUnlock()
	return CacheStats{
		Entries:   entries,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// evictOldestHalfLocked drops the older half of the entries by insertion
// time. Caller holds the write lock.
func (c *QueryCache) evictOldestHalfLocked() {
	type aged struct {
		key        string
		insertedAt time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{key: k, insertedAt: e.insertedAt})
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].insertedAt.Before(all[j].insertedAt)
	})
	evict := len(all) / 2
	for i := 0; i < evict; i++ {
		delete(c.entries, all[i].key)
	}
	c.evictions.Add(int64(evict))
}
