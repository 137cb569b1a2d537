package usecase

import (
	"context"
	"math"
	"sort"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nemesis/internal/adapter/scorer"
	"nemesis/internal/domain"
	"nemesis/internal/port"
	"nemesis/internal/tracing"
)

// DiscoverUseCase ranks candidate nemeses for a requester.
type DiscoverUseCase struct {
	store        port.Store
	agg          *Aggregator
	maintainer   *Maintainer
	scorer       scorer.Scorer
	cache        port.DiscoveryCache
	defaultLimit int
	maxLimit     int
	log          zerolog.Logger
	tracer       trace.Tracer
}

// DiscoverOptions sets discovery paging limits. MaxLimit 0 leaves limit unbounded.
type DiscoverOptions struct {
	DefaultLimit int
	MaxLimit     int
}

func NewDiscoverUseCase(
	store port.Store,
	agg *Aggregator,
	maintainer *Maintainer,
	sc scorer.Scorer,
	cache port.DiscoveryCache,
	opts DiscoverOptions,
	log zerolog.Logger,
) *DiscoverUseCase {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 10
	}
	if sc == nil {
		sc = scorer.OppositionScorer{}
	}
	return &DiscoverUseCase{
		store:        store,
		agg:          agg,
		maintainer:   maintainer,
		scorer:       sc,
		cache:        cache,
		defaultLimit: opts.DefaultLimit,
		maxLimit:     opts.MaxLimit,
		log:          log,
		tracer:       otel.Tracer(tracing.InstrumentationName),
	}
}

// Discover returns the [offset, offset+limit) window of candidates ordered by opposition
// score descending, then id ascending. The requester and everyone they liked or disliked
// are excluded. A limit of 0 selects the default.
func (u *DiscoverUseCase) Discover(ctx context.Context, requesterID string, limit, offset int) ([]domain.ScoredCandidate, error) {
	if limit < 0 {
		return nil, domain.Validation("limit", "must not be negative")
	}
	if offset < 0 {
		return nil, domain.Validation("offset", "must not be negative")
	}
	if limit == 0 {
		limit = u.defaultLimit
	}
	if u.maxLimit > 0 && limit > u.maxLimit {
		limit = u.maxLimit
	}

	ctx, span := u.tracer.Start(ctx, "discover",
		trace.WithAttributes(
			attribute.String("user.id", requesterID),
			attribute.Int("limit", limit),
			attribute.Int("offset", offset),
			attribute.String("scorer", u.scorer.Name()),
		))
	defer span.End()

	results, err := u.discover(ctx, requesterID, limit, offset)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "discovery failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

func (u *DiscoverUseCase) discover(ctx context.Context, requesterID string, limit, offset int) ([]domain.ScoredCandidate, error) {
	requester, err := u.store.GetUser(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	emb, err := u.maintainer.Ensure(ctx, requester)
	if err != nil {
		return nil, err
	}

	// gen is read before exclusions and ranking touch the store, so a mutation that
	// lands in between invalidates it and Put drops the page.
	key := port.DiscoveryKey{RequesterID: requesterID, Limit: limit, Offset: offset}
	var gen int64
	if u.cache != nil {
		cached, g, ok := u.cache.Get(ctx, key)
		if ok {
			return cached, nil
		}
		gen = g
	}

	exclude, err := u.exclusions(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	var results []domain.ScoredCandidate
	ranker, ok := u.store.(port.CandidateRanker)
	if ok && u.scorer.Name() == scorer.ProfileComposite {
		ids := make([]string, 0, len(exclude))
		for id := range exclude {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		results, err = ranker.RankCandidates(ctx, port.RankQuery{
			RequesterID: requesterID,
			Negated:     scorer.Negate(emb),
			Exclude:     ids,
			Limit:       limit,
			Offset:      offset,
		})
	} else {
		results, err = u.rankInProcess(ctx, requesterID, emb, exclude, limit, offset)
	}
	if err != nil {
		return nil, err
	}

	if u.cache != nil {
		u.cache.Put(ctx, key, gen, results)
	}
	return results, nil
}

func (u *DiscoverUseCase) exclusions(ctx context.Context, requesterID string) (map[string]struct{}, error) {
	exclude := map[string]struct{}{requesterID: {}}
	for _, kind := range []domain.RelationshipKind{domain.Like, domain.Dislike} {
		targets, err := u.store.RelationshipTargets(ctx, requesterID, kind)
		if err != nil {
			return nil, err
		}
		for _, id := range targets {
			exclude[id] = struct{}{}
		}
	}
	return exclude, nil
}

// rankInProcess scores every candidate and keeps only the best offset+limit of them.
func (u *DiscoverUseCase) rankInProcess(
	ctx context.Context,
	requesterID string,
	emb domain.Vector,
	exclude map[string]struct{},
	limit, offset int,
) ([]domain.ScoredCandidate, error) {
	if offset > math.MaxInt-limit {
		return nil, nil
	}

	tags, err := u.store.GetUserTags(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	req := scorer.Subject{ID: requesterID, Embedding: emb, Tags: make([]string, len(tags))}
	for i, t := range tags {
		req.Tags[i] = t.TagName
	}
	if u.scorer.NeedsTagEmbeddings() {
		embeddings, err := u.agg.EnsureTagEmbeddings(ctx, req.Tags)
		if err != nil {
			return nil, err
		}
		for _, te := range embeddings {
			req.TagEmbeddings = append(req.TagEmbeddings, te.Vector)
		}
	}

	memo := make(map[string]domain.Vector)
	top := scorer.NewTopK(offset + limit)
	kept := make(map[string]domain.Candidate)
	scanned := 0

	err = u.store.ScanCandidates(ctx, exclude, func(c domain.Candidate) error {
		scanned++
		cand := scorer.Subject{ID: c.Profile.ID, Embedding: c.Profile.Embedding, Tags: c.Tags}
		if u.scorer.NeedsTagEmbeddings() {
			vecs, err := u.lookupTagEmbeddings(ctx, c.Tags, memo)
			if err != nil {
				return err
			}
			cand.TagEmbeddings = vecs
		}

		r := scorer.Ranked{ID: c.Profile.ID, Score: u.scorer.Score(req, cand)}
		kept[r.ID] = c
		if dropped, ok := top.Push(r); ok {
			delete(kept, dropped.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	window := top.Window(offset, limit)
	out := make([]domain.ScoredCandidate, len(window))
	for i, r := range window {
		c := kept[r.ID]
		out[i] = domain.ScoredCandidate{Profile: c.Profile, Tags: c.Tags, Score: r.Score}
	}
	u.log.Debug().
		Str("user_id", requesterID).
		Int("scanned", scanned).
		Int("returned", len(out)).
		Msg("ranked candidates in process")
	return out, nil
}

// lookupTagEmbeddings returns the stored embeddings of names; tags that never had one
// generated are skipped.
func (u *DiscoverUseCase) lookupTagEmbeddings(ctx context.Context, names []string, memo map[string]domain.Vector) ([]domain.Vector, error) {
	var out []domain.Vector
	for _, name := range names {
		vec, seen := memo[name]
		if !seen {
			v, ok, err := u.agg.LookupTagEmbedding(ctx, name)
			if err != nil {
				return nil, err
			}
			if ok {
				vec = v
			}
			memo[name] = vec
		}
		if vec != nil {
			out = append(out, vec)
		}
	}
	return out, nil
}
