package search

import (
	"log"
	"sync"
	"time"
)

// RerankCache bounds how many distinct (project, query, candidate-set)
// reranks are held in memory, evicting by insertion order rather than
// access recency: a query that keeps getting re-read should not keep
// pushing out queries that were merely issued earlier, so this is a
// hand-rolled FIFO+TTL cache rather than hashicorp/golang-lru, whose
// LRU-by-access semantics would silently change eviction order.
type RerankCache struct {
	mu       sync.Mutex
	entries  map[string]*cacheEntry
	order    []string // insertion order, oldest first
	capacity int
	ttl      time.Duration
	logger   *log.Logger
}

type cacheEntry struct {
	value     []RankedFunction
	insertedAt time.Time
}

func NewRerankCache(capacity int, ttl time.Duration) *RerankCache {
	if capacity <= 0 {
		capacity = 100
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RerankCache{
		entries:  make(map[string]*cacheEntry),
		capacity: capacity,
		ttl:      ttl,
		logger:   log.New(log.Writer(), "[RERANK-CACHE] ", log.LstdFlags),
	}
}

func (c *RerankCache) Get(key string) ([]RankedFunction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(e.insertedAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

func (c *RerankCache) Put(key string, value []RankedFunction) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = &cacheEntry{value: value, insertedAt: time.Now()}

	for len(c.entries) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
		c.logger.Printf("evicted cache entry key=%s capacity=%d", oldest, c.capacity)
	}
}

func (c *RerankCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
