package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nemesis/internal/domain"
	"nemesis/internal/port"
)

var _ port.Store = (*MemoryStore)(nil)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(3)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick int
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return s
}

func TestUserLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetUser(ctx, "alice")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	created, err := s.CreateUser(ctx, domain.UserProfile{ID: "alice", Username: "user_a"})
	require.NoError(t, err)
	assert.False(t, created.CreatedAt.IsZero())

	again, err := s.CreateUser(ctx, domain.UserProfile{ID: "alice", Username: "other"})
	require.NoError(t, err)
	assert.Equal(t, "user_a", again.Username)

	bio := "hello"
	updated, err := s.UpdateUser(ctx, "alice", domain.ProfileUpdate{Bio: &bio})
	require.NoError(t, err)
	assert.Equal(t, "hello", updated.Bio)
	assert.Equal(t, "user_a", updated.Username)

	require.NoError(t, s.UpdateUserEmbedding(ctx, "alice", domain.Vector{1, 0, 0}))
	got, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.Vector{1, 0, 0}, got.Embedding)

	err = s.UpdateUserEmbedding(ctx, "nobody", domain.Vector{1, 0, 0})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestEmbeddingDimensionMismatchIsInconsistent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.CreateUser(ctx, domain.UserProfile{ID: "bob"})
	require.NoError(t, err)
	require.NoError(t, s.UpdateUserEmbedding(ctx, "bob", domain.Vector{1, 0}))

	_, err = s.GetUser(ctx, "bob")
	assert.True(t, errors.Is(err, domain.ErrInconsistentState))

	require.NoError(t, s.UpsertTagEmbedding(ctx, "short", domain.Vector{1}))
	_, _, err = s.FetchTagEmbedding(ctx, "short")
	assert.True(t, errors.Is(err, domain.ErrInconsistentState))
}

func TestUserTagsIdempotentAndOrdered(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.UpsertUserTag(ctx, "alice", "chess")
	require.NoError(t, err)
	_, err = s.UpsertUserTag(ctx, "alice", "opera")
	require.NoError(t, err)
	dup, err := s.UpsertUserTag(ctx, "alice", "chess")
	require.NoError(t, err)
	assert.Equal(t, first, dup)

	tags, err := s.GetUserTags(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "chess", tags[0].TagName)
	assert.Equal(t, "opera", tags[1].TagName)

	require.NoError(t, s.DeleteUserTags(ctx, "alice", []string{"chess", "missing"}))
	tags, err = s.GetUserTags(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "opera", tags[0].TagName)
}

func TestTagPopularitySnapshot(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, pair := range [][2]string{{"a", "chess"}, {"b", "chess"}, {"b", "opera"}, {"c", "art"}} {
		_, err := s.UpsertUserTag(ctx, pair[0], pair[1])
		require.NoError(t, err)
	}

	counts, err := s.TagCounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts, "snapshot is only taken on refresh")

	require.NoError(t, s.RefreshTagPopularity(ctx))
	counts, err = s.TagCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.TagCount{
		{TagName: "chess", UserCount: 2},
		{TagName: "art", UserCount: 1},
		{TagName: "opera", UserCount: 1},
	}, counts)
}

func TestTagEmbeddingInsertIfAbsent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertTagEmbedding(ctx, "chess", domain.Vector{1, 0, 0}))
	require.NoError(t, s.UpsertTagEmbedding(ctx, "chess", domain.Vector{0, 1, 0}))

	vec, ok, err := s.FetchTagEmbedding(ctx, "chess")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.Vector{1, 0, 0}, vec)

	_, ok, err = s.FetchTagEmbedding(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := s.ListTagEmbeddings(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "chess", all[0].Name)
}

func TestRelationshipsNewestFirstAndIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.InsertRelationship(ctx, "alice", "bob", domain.Like)
	require.NoError(t, err)
	_, err = s.InsertRelationship(ctx, "alice", "carol", domain.Like)
	require.NoError(t, err)
	_, err = s.InsertRelationship(ctx, "alice", "dave", domain.Dislike)
	require.NoError(t, err)
	dup, err := s.InsertRelationship(ctx, "alice", "bob", domain.Like)
	require.NoError(t, err)
	assert.Equal(t, first.ID, dup.ID)

	likes, err := s.ListRelationships(ctx, "alice", domain.Like, 10, 0)
	require.NoError(t, err)
	require.Len(t, likes, 2)
	assert.Equal(t, "carol", likes[0].TargetID)
	assert.Equal(t, "bob", likes[1].TargetID)

	paged, err := s.ListRelationships(ctx, "alice", domain.Like, 1, 1)
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "bob", paged[0].TargetID)

	targets, err := s.RelationshipTargets(ctx, "alice", domain.Dislike)
	require.NoError(t, err)
	assert.Equal(t, []string{"dave"}, targets)
}

func TestDislikeTags(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.InsertDislikeTag(ctx, "alice", "bob", "opera")
	require.NoError(t, err)
	_, err = s.InsertDislikeTag(ctx, "alice", "bob", "opera")
	require.NoError(t, err)
	_, err = s.InsertDislikeTag(ctx, "alice", "bob", "golf")
	require.NoError(t, err)

	tags, err := s.DislikeTags(ctx, "alice", "bob")
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "golf", tags[0].TagName)

	none, err := s.DislikeTags(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestScanCandidatesExcludes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, id := range []string{"c", "a", "b"} {
		_, err := s.CreateUser(ctx, domain.UserProfile{ID: id})
		require.NoError(t, err)
	}
	_, err := s.UpsertUserTag(ctx, "b", "chess")
	require.NoError(t, err)

	var seen []domain.Candidate
	err = s.ScanCandidates(ctx, map[string]struct{}{"a": {}}, func(c domain.Candidate) error {
		seen = append(seen, c)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 2)
	assert.Equal(t, "b", seen[0].Profile.ID)
	assert.Equal(t, []string{"chess"}, seen[0].Tags)
	assert.Equal(t, "c", seen[1].Profile.ID)
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newTestStore(t)
	_, err := s.GetUser(ctx, "alice")
	assert.ErrorIs(t, err, context.Canceled)
}
