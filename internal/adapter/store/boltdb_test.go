package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"nemesis/internal/domain"
	"nemesis/internal/port"
)

var (
	_ port.Store     = (*BoltStore)(nil)
	_ port.TagRanker = (*BoltStore)(nil)
)

func openTestStore(t *testing.T, dimension int) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "nemesis.db"), dimension)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick int
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return s
}

func TestBoltUserRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 3)

	_, err := s.GetUser(ctx, "alice")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	created, err := s.CreateUser(ctx, domain.UserProfile{ID: "alice", Username: "user_1", AvatarURL: "a.png"})
	require.NoError(t, err)

	require.NoError(t, s.UpdateUserEmbedding(ctx, "alice", domain.Vector{0, 1, 0}))

	got, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "user_1", got.Username)
	assert.Equal(t, "a.png", got.AvatarURL)
	assert.Equal(t, domain.Vector{0, 1, 0}, got.Embedding)
	assert.True(t, created.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))

	name := "renamed"
	updated, err := s.UpdateUser(ctx, "alice", domain.ProfileUpdate{Username: &name})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Username)
	assert.Equal(t, domain.Vector{0, 1, 0}, updated.Embedding)

	_, err = s.UpdateUser(ctx, "nobody", domain.ProfileUpdate{Username: &name})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestBoltDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 3)

	_, err := s.CreateUser(ctx, domain.UserProfile{ID: "bob"})
	require.NoError(t, err)
	require.NoError(t, s.UpdateUserEmbedding(ctx, "bob", domain.Vector{1, 0}))

	_, err = s.GetUser(ctx, "bob")
	assert.True(t, errors.Is(err, domain.ErrInconsistentState))

	err = s.ScanCandidates(ctx, nil, func(domain.Candidate) error { return nil })
	assert.True(t, errors.Is(err, domain.ErrInconsistentState))
}

func TestBoltUserTags(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 3)

	for _, name := range []string{"zebra", "apple", "mango"} {
		_, err := s.UpsertUserTag(ctx, "alice", name)
		require.NoError(t, err)
	}
	dup, err := s.UpsertUserTag(ctx, "alice", "apple")
	require.NoError(t, err)
	assert.Equal(t, int64(2), dup.ID)

	tags, err := s.GetUserTags(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, tags, 3)
	assert.Equal(t, "zebra", tags[0].TagName, "insertion order, not name order")
	assert.Equal(t, "apple", tags[1].TagName)
	assert.Equal(t, "mango", tags[2].TagName)

	other, err := s.GetUserTags(ctx, "alic")
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, s.DeleteUserTags(ctx, "alice", []string{"apple"}))
	tags, err = s.GetUserTags(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, tags, 2)

	require.NoError(t, s.RefreshTagPopularity(ctx))
	counts, err := s.TagCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.TagCount{{TagName: "mango", UserCount: 1}, {TagName: "zebra", UserCount: 1}}, counts)
}

func TestBoltRelationships(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 3)

	first, err := s.InsertRelationship(ctx, "alice", "bob", domain.Dislike)
	require.NoError(t, err)
	_, err = s.InsertRelationship(ctx, "alice", "carol", domain.Dislike)
	require.NoError(t, err)
	_, err = s.InsertRelationship(ctx, "alice", "dave", domain.Like)
	require.NoError(t, err)
	again, err := s.InsertRelationship(ctx, "alice", "bob", domain.Dislike)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	targets, err := s.RelationshipTargets(ctx, "alice", domain.Dislike)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bob", "carol"}, targets)

	rels, err := s.ListRelationships(ctx, "alice", domain.Dislike, 10, 0)
	require.NoError(t, err)
	require.Len(t, rels, 2)
	assert.Equal(t, "carol", rels[0].TargetID)

	rels, err = s.ListRelationships(ctx, "alice", domain.Dislike, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, rels)

	_, err = s.InsertDislikeTag(ctx, "alice", "bob", "golf")
	require.NoError(t, err)
	_, err = s.InsertDislikeTag(ctx, "alice", "bob", "golf")
	require.NoError(t, err)
	tags, err := s.DislikeTags(ctx, "alice", "bob")
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "golf", tags[0].TagName)
}

func TestBoltScanCandidates(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 3)

	for _, id := range []string{"b", "a", "c"} {
		_, err := s.CreateUser(ctx, domain.UserProfile{ID: id})
		require.NoError(t, err)
	}
	_, err := s.UpsertUserTag(ctx, "c", "chess")
	require.NoError(t, err)

	var ids []string
	err = s.ScanCandidates(ctx, map[string]struct{}{"b": {}}, func(c domain.Candidate) error {
		ids = append(ids, c.Profile.ID)
		if c.Profile.ID == "c" {
			assert.Equal(t, []string{"chess"}, c.Tags)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids)

	all, err := s.ListUserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, all)
}

func TestBoltStorePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nemesis.db")

	s, err := NewBoltStore(path, 3)
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, domain.UserProfile{ID: "alice"})
	require.NoError(t, err)
	require.NoError(t, s.UpsertTagEmbedding(ctx, "chess", domain.Vector{1, 0, 0}))
	require.NoError(t, s.Close())

	s, err = NewBoltStore(path, 3)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.GetUser(ctx, "alice")
	require.NoError(t, err)
	vec, ok, err := s.FetchTagEmbedding(ctx, "chess")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.Vector{1, 0, 0}, vec)
}

func TestBoltStoreFailureWrapping(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 3)

	require.NoError(t, s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUserTags).Put(userTagKey("alice", 99), []byte("{not json"))
	}))

	_, err := s.GetUserTags(ctx, "alice")
	assert.True(t, errors.Is(err, domain.ErrStoreFailure))
}
