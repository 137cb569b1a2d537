package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.etcd.io/bbolt"

	"nemesis/internal/adapter/scorer"
	"nemesis/internal/domain"
)

var (
	bucketTagVectors = []byte("tag_embeddings")
)

// BoltTagIndex persists tag embeddings in BoltDB and mirrors them in memory.
// Tag embeddings are immutable once written, so the mirror never goes stale.
// Uses brute-force search; the tag vocabulary is small relative to the user base.
type BoltTagIndex struct {
	db        *bbolt.DB
	dimension int
	mu        sync.RWMutex
	vectors   map[string]domain.Vector
}

type storedVector struct {
	Vector []float32 `json:"v"`
}

// NewBoltTagIndex creates the tag embedding bucket if needed and loads its contents.
func NewBoltTagIndex(db *bbolt.DB, dimension int) (*BoltTagIndex, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTagVectors)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tag embeddings bucket: %w", err)
	}

	idx := &BoltTagIndex{
		db:        db,
		dimension: dimension,
		vectors:   make(map[string]domain.Vector),
	}
	if err := idx.load(); err != nil {
		return nil, fmt.Errorf("failed to load tag embeddings: %w", err)
	}
	return idx, nil
}

// load reads every stored tag embedding into memory. Entries with the wrong dimension
// are kept so that reads report them as inconsistent instead of silently regenerating.
func (idx *BoltTagIndex) load() error {
	return idx.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTagVectors)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var stored storedVector
			if err := json.Unmarshal(v, &stored); err != nil {
				return domain.InconsistentState("corrupt embedding for tag %s: %v", k, err)
			}
			idx.vectors[string(k)] = stored.Vector
			return nil
		})
	})
}

func (idx *BoltTagIndex) check(name string, vec domain.Vector) error {
	if idx.dimension > 0 && len(vec) != idx.dimension {
		return domain.InconsistentState("embedding of tag %s has dimension %d, expected %d", name, len(vec), idx.dimension)
	}
	return nil
}

// Get returns the stored embedding for name.
func (idx *BoltTagIndex) Get(name string) (domain.Vector, bool, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	vec, ok := idx.vectors[name]
	if !ok {
		return nil, false, nil
	}
	if err := idx.check(name, vec); err != nil {
		return nil, false, err
	}
	out := make(domain.Vector, len(vec))
	copy(out, vec)
	return out, true, nil
}

// PutIfAbsent stores vec under name unless an embedding already exists. Concurrent
// writers for the same name converge on the first stored vector.
func (idx *BoltTagIndex) PutIfAbsent(name string, vec domain.Vector) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.vectors[name]; ok {
		return nil
	}
	if err := idx.check(name, vec); err != nil {
		return err
	}

	stored := make(domain.Vector, len(vec))
	copy(stored, vec)
	err := idx.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTagVectors)
		if b.Get([]byte(name)) != nil {
			return nil
		}
		data, err := json.Marshal(storedVector{Vector: stored})
		if err != nil {
			return err
		}
		return b.Put([]byte(name), data)
	})
	if err != nil {
		return err
	}
	idx.vectors[name] = stored
	return nil
}

// All returns every tag embedding sorted by tag name.
func (idx *BoltTagIndex) All() ([]domain.TagEmbedding, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]domain.TagEmbedding, 0, len(idx.vectors))
	for name, vec := range idx.vectors {
		if err := idx.check(name, vec); err != nil {
			return nil, err
		}
		cp := make(domain.Vector, len(vec))
		copy(cp, vec)
		out = append(out, domain.TagEmbedding{Name: name, Vector: cp})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Opposed returns the k tags most opposed to query, skipping exclude. Ties are broken by
// tag name.
func (idx *BoltTagIndex) Opposed(query domain.Vector, exclude string, k int) ([]domain.ScoredTag, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if err := idx.check("query", query); err != nil {
		return nil, err
	}
	if k <= 0 || len(idx.vectors) == 0 {
		return nil, nil
	}

	scores := make([]domain.ScoredTag, 0, len(idx.vectors))
	for name, vec := range idx.vectors {
		if name == exclude {
			continue
		}
		if err := idx.check(name, vec); err != nil {
			return nil, err
		}
		scores = append(scores, domain.ScoredTag{
			TagName:      name,
			NemesisScore: scorer.Opposition(query, vec),
		})
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].NemesisScore != scores[j].NemesisScore {
			return scores[i].NemesisScore > scores[j].NemesisScore
		}
		return scores[i].TagName < scores[j].TagName
	})

	if k > len(scores) {
		k = len(scores)
	}
	return scores[:k], nil
}

// Count returns the number of indexed tags.
func (idx *BoltTagIndex) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.vectors)
}

// reset drops the in-memory mirror after the bucket has been cleared.
func (idx *BoltTagIndex) reset() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.vectors = make(map[string]domain.Vector)
}
