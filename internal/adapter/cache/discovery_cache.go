package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"nemesis/internal/domain"
	"nemesis/internal/port"
)

// MemoryDiscoveryCache is an in-process LRU of discovery pages with a TTL. Every
// Invalidate bumps a generation; entries from an older generation are never served.
type MemoryDiscoveryCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	order   []string
	maxSize int
	ttl     time.Duration
	gen     int64
	now     func() time.Time
}

type cacheEntry struct {
	results   []domain.ScoredCandidate
	timestamp time.Time
	gen       int64
}

func NewMemoryDiscoveryCache(maxSize int, ttl time.Duration) *MemoryDiscoveryCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MemoryDiscoveryCache{
		entries: make(map[string]*cacheEntry),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

func cacheKey(key port.DiscoveryKey) string {
	return fmt.Sprintf("%s|%d|%d", key.RequesterID, key.Limit, key.Offset)
}

func (c *MemoryDiscoveryCache) Get(_ context.Context, key port.DiscoveryKey) ([]domain.ScoredCandidate, int64, bool) {
	k := cacheKey(key)

	c.mu.RLock()
	entry, exists := c.entries[k]
	currentGen := c.gen
	c.mu.RUnlock()

	if !exists {
		return nil, currentGen, false
	}

	if c.now().Sub(entry.timestamp) > c.ttl || entry.gen != currentGen {
		c.mu.Lock()
		delete(c.entries, k)
		c.removeFromOrder(k)
		c.mu.Unlock()
		return nil, currentGen, false
	}

	c.mu.Lock()
	c.moveToEnd(k)
	c.mu.Unlock()

	return copyResults(entry.results), currentGen, true
}

// Put drops the page when an Invalidate happened after gen was read.
func (c *MemoryDiscoveryCache) Put(_ context.Context, key port.DiscoveryKey, gen int64, results []domain.ScoredCandidate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return
	}

	k := cacheKey(key)
	entry := &cacheEntry{
		results:   copyResults(results),
		timestamp: c.now(),
		gen:       gen,
	}

	if _, exists := c.entries[k]; exists {
		c.entries[k] = entry
		c.moveToEnd(k)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.entries[k] = entry
	c.order = append(c.order, k)
}

func (c *MemoryDiscoveryCache) Invalidate(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.order = c.order[:0]
	c.gen++
}

func (c *MemoryDiscoveryCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *MemoryDiscoveryCache) evictOldest() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
}

func (c *MemoryDiscoveryCache) moveToEnd(key string) {
	c.removeFromOrder(key)
	c.order = append(c.order, key)
}

func (c *MemoryDiscoveryCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// copyResults deep-copies a page so callers never share slices with a cached entry.
func copyResults(in []domain.ScoredCandidate) []domain.ScoredCandidate {
	if in == nil {
		return nil
	}
	out := make([]domain.ScoredCandidate, len(in))
	for i, r := range in {
		out[i] = r
		if r.Tags != nil {
			out[i].Tags = make([]string, len(r.Tags))
			copy(out[i].Tags, r.Tags)
		}
		if r.Profile.Embedding != nil {
			out[i].Profile.Embedding = make(domain.Vector, len(r.Profile.Embedding))
			copy(out[i].Profile.Embedding, r.Profile.Embedding)
		}
	}
	return out
}

// NopDiscoveryCache never stores anything.
type NopDiscoveryCache struct{}

func (NopDiscoveryCache) Get(context.Context, port.DiscoveryKey) ([]domain.ScoredCandidate, int64, bool) {
	return nil, 0, false
}

func (NopDiscoveryCache) Put(context.Context, port.DiscoveryKey, int64, []domain.ScoredCandidate) {}

func (NopDiscoveryCache) Invalidate(context.Context) {}
