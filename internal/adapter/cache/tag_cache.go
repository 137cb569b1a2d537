package cache

import (
	"fmt"

	"github.com/dgraph-io/ristretto"

	"nemesis/internal/domain"
)

// TagEmbeddingCache keeps recently used tag embeddings in process. Tag embeddings never
// change once stored, so entries need no invalidation; admission may drop entries.
type TagEmbeddingCache struct {
	cache *ristretto.Cache
}

// NewTagEmbeddingCache sizes the cache for roughly maxTags embeddings.
func NewTagEmbeddingCache(maxTags int64) (*TagEmbeddingCache, error) {
	if maxTags <= 0 {
		maxTags = 10000
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxTags * 10,
		MaxCost:     maxTags,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create tag cache: %w", err)
	}
	return &TagEmbeddingCache{cache: c}, nil
}

func (c *TagEmbeddingCache) Get(name string) (domain.Vector, bool) {
	v, ok := c.cache.Get(name)
	if !ok {
		return nil, false
	}
	vec, ok := v.(domain.Vector)
	if !ok {
		return nil, false
	}
	out := make(domain.Vector, len(vec))
	copy(out, vec)
	return out, true
}

func (c *TagEmbeddingCache) Put(name string, vec domain.Vector) {
	stored := make(domain.Vector, len(vec))
	copy(stored, vec)
	c.cache.Set(name, stored, 1)
}

// Wait blocks until buffered writes are applied.
func (c *TagEmbeddingCache) Wait() {
	c.cache.Wait()
}

func (c *TagEmbeddingCache) Close() {
	c.cache.Close()
}
