package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nemesis/internal/domain"
	"nemesis/internal/port"
	"nemesis/internal/tracing"
)

// Maintainer keeps profile embeddings in step with tag and profile mutations. Refresh is
// best-effort: its failures never reach the caller of the triggering mutation.
type Maintainer struct {
	store    port.ProfileStore
	agg      *Aggregator
	cache    port.DiscoveryCache
	log      zerolog.Logger
	retries  uint64
	backoff  time.Duration
	tracer   trace.Tracer
	failures atomic.Int64
}

// MaintainerOptions configures the retry policy of a Maintainer.
type MaintainerOptions struct {
	Retries uint64
	Backoff time.Duration
}

func NewMaintainer(store port.ProfileStore, agg *Aggregator, cache port.DiscoveryCache, log zerolog.Logger, opts MaintainerOptions) *Maintainer {
	if opts.Backoff <= 0 {
		opts.Backoff = 50 * time.Millisecond
	}
	return &Maintainer{
		store:   store,
		agg:     agg,
		cache:   cache,
		log:     log,
		retries: opts.Retries,
		backoff: opts.Backoff,
		tracer:  otel.Tracer(tracing.InstrumentationName),
	}
}

// Refresh recomputes and persists userID's profile embedding. Store failures are retried
// with Fibonacci backoff; whatever still fails is logged and recorded on the span.
func (m *Maintainer) Refresh(ctx context.Context, userID string) {
	ctx, span := m.tracer.Start(ctx, "maintainer.refresh",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	backoff := retry.WithMaxRetries(m.retries, retry.NewFibonacci(m.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := m.recompute(ctx, userID)
		if errors.Is(err, domain.ErrStoreFailure) {
			return retry.RetryableError(err)
		}
		return err
	})

	// The embedding may have changed even if a later step failed.
	if m.cache != nil {
		m.cache.Invalidate(ctx)
	}

	if err != nil {
		m.failures.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "profile embedding refresh failed")
		m.log.Warn().Err(err).Str("user_id", userID).Msg("profile embedding refresh failed")
		return
	}
	m.log.Debug().Str("user_id", userID).Msg("profile embedding refreshed")
}

// Ensure returns the profile embedding, creating and persisting it if it is absent.
// Unlike Refresh it reports failures, since the caller needs the vector.
func (m *Maintainer) Ensure(ctx context.Context, profile domain.UserProfile) (domain.Vector, error) {
	if profile.HasEmbedding() {
		return profile.Embedding, nil
	}
	vec, err := m.recompute(ctx, profile.ID)
	if err != nil {
		return nil, err
	}
	if m.cache != nil {
		m.cache.Invalidate(ctx)
	}
	return vec, nil
}

func (m *Maintainer) recompute(ctx context.Context, userID string) (domain.Vector, error) {
	vec, err := m.agg.ComputeForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := m.store.UpdateUserEmbedding(ctx, userID, vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// Failures counts refreshes that gave up since the maintainer was created.
func (m *Maintainer) Failures() int64 {
	return m.failures.Load()
}

// userLocks serializes mutate-then-recompute sequences per user when enabled.
type userLocks struct {
	enabled bool
	mu      sync.Mutex
	locks   map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks(enabled bool) *userLocks {
	return &userLocks{enabled: enabled, locks: make(map[string]*userLock)}
}

// Lock blocks until userID's lock is held and returns its release function.
func (l *userLocks) Lock(userID string) func() {
	if !l.enabled {
		return func() {}
	}

	l.mu.Lock()
	lk, ok := l.locks[userID]
	if !ok {
		lk = &userLock{}
		l.locks[userID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.mu.Lock()
	return func() {
		lk.mu.Unlock()
		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}
