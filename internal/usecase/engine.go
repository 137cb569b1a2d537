package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"nemesis/internal/adapter/cache"
	"nemesis/internal/adapter/embedding"
	"nemesis/internal/adapter/scorer"
	"nemesis/internal/domain"
	"nemesis/internal/port"
)

// Options wires an Engine. Zero values select the defaults.
type Options struct {
	Generator      port.Generator
	TagCache       port.TagEmbeddingCache
	DiscoveryCache port.DiscoveryCache
	Scorer         scorer.Scorer

	DefaultLimit int
	MaxLimit     int

	SerializeUserMutations bool
	MaintainerRetries      uint64
	MaintainerBackoff      time.Duration
	Concurrency            int

	Logger zerolog.Logger
}

// Engine bundles the use cases over one store.
type Engine struct {
	Profiles      *ProfileUseCase
	Tags          *TagUseCase
	Discovery     *DiscoverUseCase
	Relationships *RelationshipUseCase

	store      port.Store
	agg        *Aggregator
	maintainer *Maintainer
}

func NewEngine(store port.Store, opts Options) *Engine {
	if opts.Generator == nil {
		opts.Generator = embedding.NewSyntheticGenerator(embedding.DefaultDimension)
	}
	if opts.DiscoveryCache == nil {
		opts.DiscoveryCache = cache.NopDiscoveryCache{}
	}

	locks := newUserLocks(opts.SerializeUserMutations)
	agg := NewAggregator(store, opts.Generator, opts.TagCache, opts.Concurrency)
	maintainer := NewMaintainer(store, agg, opts.DiscoveryCache, opts.Logger, MaintainerOptions{
		Retries: opts.MaintainerRetries,
		Backoff: opts.MaintainerBackoff,
	})

	return &Engine{
		Profiles: NewProfileUseCase(store, maintainer, locks, opts.DiscoveryCache),
		Tags:     NewTagUseCase(store, store, agg, maintainer, locks, opts.Logger),
		Discovery: NewDiscoverUseCase(store, agg, maintainer, opts.Scorer, opts.DiscoveryCache,
			DiscoverOptions{DefaultLimit: opts.DefaultLimit, MaxLimit: opts.MaxLimit}, opts.Logger),
		Relationships: NewRelationshipUseCase(store, store, store, opts.DiscoveryCache),
		store:         store,
		agg:           agg,
		maintainer:    maintainer,
	}
}

// Maintainer exposes the consistency maintainer, mainly for its failure count.
func (e *Engine) Maintainer() *Maintainer {
	return e.maintainer
}

// RecomputeProfile recomputes and stores userID's profile embedding, reporting failures.
func (e *Engine) RecomputeProfile(ctx context.Context, userID string) error {
	if _, err := e.store.GetUser(ctx, userID); err != nil {
		return err
	}
	_, err := e.maintainer.recompute(ctx, userID)
	return err
}

// Reindex recomputes every profile embedding. progress, if set, is called once per user.
func (e *Engine) Reindex(ctx context.Context, progress func(userID string, err error)) (int, error) {
	ids, err := e.store.ListUserIDs(ctx)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		_, err := e.maintainer.recompute(ctx, id)
		if progress != nil {
			progress(id, err)
		}
		if err != nil {
			return done, err
		}
		done++
	}
	e.maintainer.cache.Invalidate(ctx)
	return done, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
