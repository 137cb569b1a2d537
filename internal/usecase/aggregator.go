package usecase

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"nemesis/internal/adapter/embedding"
	"nemesis/internal/domain"
	"nemesis/internal/port"
	"nemesis/internal/tracing"
)

// Aggregator owns tag embedding creation and turns a user's tags into a profile embedding.
type Aggregator struct {
	store       port.TagStore
	gen         port.Generator
	cache       port.TagEmbeddingCache
	concurrency int
	tracer      trace.Tracer
}

// NewAggregator creates an aggregator. cache may be nil.
func NewAggregator(store port.TagStore, gen port.Generator, cache port.TagEmbeddingCache, concurrency int) *Aggregator {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Aggregator{
		store:       store,
		gen:         gen,
		cache:       cache,
		concurrency: concurrency,
		tracer:      otel.Tracer(tracing.InstrumentationName),
	}
}

// Generator returns the embedding generator in use.
func (a *Aggregator) Generator() port.Generator {
	return a.gen
}

// LookupTagEmbedding returns a stored tag embedding without creating one.
func (a *Aggregator) LookupTagEmbedding(ctx context.Context, name string) (domain.Vector, bool, error) {
	if a.cache != nil {
		if vec, ok := a.cache.Get(name); ok {
			return vec, true, nil
		}
	}
	vec, ok, err := a.store.FetchTagEmbedding(ctx, name)
	if err != nil || !ok {
		return nil, false, err
	}
	if a.cache != nil {
		a.cache.Put(name, vec)
	}
	return vec, true, nil
}

// EnsureTagEmbedding returns the embedding for name, generating and persisting it on first
// use. Generation is deterministic, so racing callers store the same vector.
func (a *Aggregator) EnsureTagEmbedding(ctx context.Context, name string) (domain.Vector, error) {
	vec, ok, err := a.LookupTagEmbedding(ctx, name)
	if err != nil {
		return nil, err
	}
	if ok {
		return vec, nil
	}

	vec = a.gen.ForTag(name)
	if err := a.store.UpsertTagEmbedding(ctx, name, vec); err != nil {
		return nil, err
	}
	if a.cache != nil {
		a.cache.Put(name, vec)
	}
	return vec, nil
}

// EnsureTagEmbeddings resolves every name concurrently. The result is in input order.
func (a *Aggregator) EnsureTagEmbeddings(ctx context.Context, names []string) ([]domain.TagEmbedding, error) {
	out := make([]domain.TagEmbedding, len(names))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, name := range names {
		g.Go(func() error {
			vec, err := a.EnsureTagEmbedding(ctx, name)
			if err != nil {
				return err
			}
			out[i] = domain.TagEmbedding{Name: name, Vector: vec}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ComputeForUser builds userID's profile embedding from its current tags. A tagless user
// gets a fresh random vector.
func (a *Aggregator) ComputeForUser(ctx context.Context, userID string) (domain.Vector, error) {
	ctx, span := a.tracer.Start(ctx, "aggregator.compute_profile",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	tags, err := a.store.GetUserTags(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.TagName
	}
	span.SetAttributes(attribute.Int("tags.count", len(names)))

	embeddings, err := a.EnsureTagEmbeddings(ctx, names)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return embedding.ComputeProfile(a.gen, embeddings)
}
