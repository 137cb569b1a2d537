package usecase

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nemesis/internal/adapter/embedding"
	"nemesis/internal/adapter/memstore"
	"nemesis/internal/domain"
)

// flakyStore fails every embedding write and candidate scan while its switches are on.
type flakyStore struct {
	*memstore.MemoryStore
	failEmbedding atomic.Bool
	failScan      atomic.Bool
	embedCalls    atomic.Int64
}

var errDisk = errors.New("disk on fire")

func (s *flakyStore) UpdateUserEmbedding(ctx context.Context, id string, vec domain.Vector) error {
	s.embedCalls.Add(1)
	if s.failEmbedding.Load() {
		return domain.StoreFailure("update user embedding", errDisk)
	}
	return s.MemoryStore.UpdateUserEmbedding(ctx, id, vec)
}

func (s *flakyStore) ScanCandidates(ctx context.Context, exclude map[string]struct{}, fn func(domain.Candidate) error) error {
	if s.failScan.Load() {
		return domain.StoreFailure("scan candidates", errDisk)
	}
	return s.MemoryStore.ScanCandidates(ctx, exclude, fn)
}

func newFlakyEngine(t *testing.T, logs *bytes.Buffer) (*Engine, *flakyStore) {
	t.Helper()
	store := &flakyStore{MemoryStore: memstore.NewMemoryStore(testDim)}
	e := NewEngine(store, Options{
		Generator:         embedding.NewSyntheticGenerator(testDim),
		MaintainerRetries: 2,
		MaintainerBackoff: time.Millisecond,
		Logger:            zerolog.New(logs),
	})
	return e, store
}

func TestMaintainerFailureDoesNotFailMutation(t *testing.T) {
	var logs bytes.Buffer
	e, store := newFlakyEngine(t, &logs)
	ctx := context.Background()

	_, err := e.Profiles.GetOrCreateCurrentProfile(ctx, "me")
	require.NoError(t, err)

	store.failEmbedding.Store(true)
	ut, err := e.Tags.AddTag(ctx, "me", "jazz")
	require.NoError(t, err)
	assert.Equal(t, "jazz", ut.TagName)

	tags, err := e.Tags.ListUserTags(ctx, "me")
	require.NoError(t, err)
	assert.Len(t, tags, 1, "the tag is kept even though the refresh failed")

	assert.Equal(t, int64(3), store.embedCalls.Load(), "one attempt plus two retries")
	assert.Equal(t, int64(1), e.Maintainer().Failures())
	assert.Contains(t, logs.String(), "profile embedding refresh failed")

	p, err := e.Profiles.GetProfile(ctx, "me")
	require.NoError(t, err)
	assert.False(t, p.HasEmbedding())

	bio := "still works"
	_, err = e.Profiles.UpdateProfile(ctx, "me", domain.ProfileUpdate{Bio: &bio})
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.Maintainer().Failures())
}

func TestMaintainerRecoversOnNextMutation(t *testing.T) {
	var logs bytes.Buffer
	e, store := newFlakyEngine(t, &logs)
	ctx := context.Background()
	gen := embedding.NewSyntheticGenerator(testDim)

	_, err := e.Profiles.GetOrCreateCurrentProfile(ctx, "me")
	require.NoError(t, err)

	store.failEmbedding.Store(true)
	_, err = e.Tags.AddTag(ctx, "me", "jazz")
	require.NoError(t, err)

	store.failEmbedding.Store(false)
	require.NoError(t, e.Tags.RemoveTags(ctx, "me", []string{"nothing"}))

	p, err := e.Profiles.GetProfile(ctx, "me")
	require.NoError(t, err)
	assertVecInDelta(t, gen.ForTag("jazz"), p.Embedding)
}

func TestDiscoverSurfacesStoreFailure(t *testing.T) {
	var logs bytes.Buffer
	e, store := newFlakyEngine(t, &logs)
	ctx := context.Background()
	_, err := e.Profiles.GetOrCreateCurrentProfile(ctx, "me")
	require.NoError(t, err)

	store.failScan.Store(true)
	_, err = e.Discovery.Discover(ctx, "me", 10, 0)
	assert.ErrorIs(t, err, domain.ErrStoreFailure)
	assert.ErrorIs(t, err, errDisk)
}

func TestDiscoverFailsWhenRequesterEmbeddingCannotBeStored(t *testing.T) {
	var logs bytes.Buffer
	e, store := newFlakyEngine(t, &logs)
	ctx := context.Background()
	_, err := e.Profiles.GetOrCreateCurrentProfile(ctx, "me")
	require.NoError(t, err)

	store.failEmbedding.Store(true)
	_, err = e.Discovery.Discover(ctx, "me", 10, 0)
	assert.ErrorIs(t, err, domain.ErrStoreFailure)
}
