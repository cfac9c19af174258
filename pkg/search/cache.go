// Package search caches search results of the vector indexes.
package search

import (
	"container/list"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/embedstore/internal/quantization"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/vectorindex"
)

// CacheKey represents a unique key for caching search results
type CacheKey string

// LRUCache implements a thread-safe LRU (Least Recently Used) cache
type LRUCache[V any] struct {
	capacity int
	ttl      time.Duration // Time-to-live for cache entries
	now      func() time.Time

	mu    sync.Mutex
	cache map[CacheKey]*list.Element
	lru   *list.List

	// Statistics
	hits   int64
	misses int64
}

// cacheEntry represents a single entry in the cache
type cacheEntry[V any] struct {
	key       CacheKey
	value     V
	expiresAt time.Time
}

// NewLRUCache creates a new LRU cache with the given capacity
// capacity: maximum number of items to store
// ttl: time-to-live for entries (0 = no expiration)
func NewLRUCache[V any](capacity int, ttl time.Duration) *LRUCache[V] {
	if capacity < 1 {
		capacity = 1
	}
	return &LRUCache[V]{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		cache:    make(map[CacheKey]*list.Element, capacity),
		lru:      list.New(),
	}
}

// Get retrieves a value from the cache
// Returns (value, true) if found, (zero, false) if not found or expired
func (c *LRUCache[V]) Get(key CacheKey) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, exists := c.cache[key]
	if !exists {
		c.misses++
		return zero, false
	}

	entry := elem.Value.(*cacheEntry[V])
	if c.ttl > 0 && c.now().After(entry.expiresAt) {
		c.removeElement(elem)
		c.misses++
		return zero, false
	}

	c.lru.MoveToFront(elem)
	c.hits++
	return entry.value, true
}

// Put adds or updates a value in the cache
func (c *LRUCache[V]) Put(key CacheKey, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.cache[key]; exists {
		entry := elem.Value.(*cacheEntry[V])
		entry.value = value
		if c.ttl > 0 {
			entry.expiresAt = c.now().Add(c.ttl)
		}
		c.lru.MoveToFront(elem)
		return
	}

	entry := &cacheEntry[V]{key: key, value: value}
	if c.ttl > 0 {
		entry.expiresAt = c.now().Add(c.ttl)
	}
	c.cache[key] = c.lru.PushFront(entry)

	// Evict if over capacity
	if c.lru.Len() > c.capacity {
		c.evictOldest()
	}
}

// Clear removes all entries from the cache
func (c *LRUCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache = make(map[CacheKey]*list.Element, c.capacity)
	c.lru.Init()
	c.hits = 0
	c.misses = 0
}

// Size returns the current number of items in the cache
func (c *LRUCache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns cache statistics
func (c *LRUCache[V]) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return CacheStats{
		Hits:    c.hits,
		Misses:  c.misses,
		Size:    c.lru.Len(),
		HitRate: hitRate,
	}
}

func (c *LRUCache[V]) evictOldest() {
	if elem := c.lru.Back(); elem != nil {
		c.removeElement(elem)
	}
}

func (c *LRUCache[V]) removeElement(elem *list.Element) {
	c.lru.Remove(elem)
	delete(c.cache, elem.Value.(*cacheEntry[V]).key)
}

// CacheStats holds cache performance statistics
type CacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Size    int     `json:"size"`
	HitRate float64 `json:"hitRate"`
}

// Query identifies one search against one state of an index. Any write or
// rebuild changes Generation, so stale results are never served.
type Query struct {
	IndexID    uint64
	Generation uint64
	Distance   vectorindex.Distance
	Vector     []float32
	K          int
}

// Key hashes the query into a cache key
func (q Query) Key() CacheKey {
	h := sha256.New()

	buf := make([]byte, 8)
	put := func(v uint64) {
		binary.LittleEndian.PutUint64(buf, v)
		h.Write(buf)
	}

	put(q.IndexID)
	put(q.Generation)
	put(uint64(q.K))
	h.Write([]byte(q.Distance.String()))

	put(uint64(len(q.Vector)))
	if q.Distance.Quantized {
		// Queries with the same signs search the same codes
		h.Write(quantization.Quantize(q.Vector).Bytes())
	} else {
		for _, v := range q.Vector {
			binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(v))
			h.Write(buf[:4])
		}
	}

	return CacheKey(fmt.Sprintf("vec:%x", h.Sum(nil)[:16]))
}

// QueryCache wraps an LRU cache specifically for search query results
type QueryCache struct {
	cache *LRUCache[cachedHits]
}

type cachedHits struct {
	hits      []vectorindex.Hit
	quantized bool
}

// NewQueryCache creates a new query result cache
func NewQueryCache(capacity int, ttl time.Duration) *QueryCache {
	return &QueryCache{cache: NewLRUCache[cachedHits](capacity, ttl)}
}

// Get returns a fresh Hits sequence for a cached query
func (qc *QueryCache) Get(q Query) (*vectorindex.Hits, bool) {
	entry, ok := qc.cache.Get(q.Key())
	if !ok {
		return nil, false
	}
	return vectorindex.HitsFrom(entry.hits, entry.quantized), true
}

// Put stores ordered hits for q
func (qc *QueryCache) Put(q Query, hits []vectorindex.Hit, quantized bool) {
	qc.cache.Put(q.Key(), cachedHits{hits: append([]vectorindex.Hit(nil), hits...), quantized: quantized})
}

// Clear removes all cached results
func (qc *QueryCache) Clear() {
	qc.cache.Clear()
}

// Stats returns cache statistics
func (qc *QueryCache) Stats() CacheStats {
	return qc.cache.Stats()
}

// Size returns the number of cached entries
func (qc *QueryCache) Size() int {
	return qc.cache.Size()
}
