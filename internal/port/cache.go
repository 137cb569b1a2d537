package port

import (
	"context"

	"nemesis/internal/domain"
)

// DiscoveryKey identifies one cached discovery page.
type DiscoveryKey struct {
	RequesterID string
	Limit       int
	Offset      int
}

// DiscoveryCache stores ranked pages until the next mutation invalidates them.
type DiscoveryCache interface {
	// Get returns the cached page for key and, hit or miss, the generation current at
	// the time of the call. Take it before reading the store.
	Get(ctx context.Context, key DiscoveryKey) (results []domain.ScoredCandidate, gen int64, ok bool)

	// Put stores a page ranked under gen. Pages from a generation that has since been
	// invalidated are dropped.
	Put(ctx context.Context, key DiscoveryKey, gen int64, results []domain.ScoredCandidate)

	// Invalidate drops every cached page.
	Invalidate(ctx context.Context)
}
