package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nemesis/internal/adapter/embedding"
	"nemesis/internal/adapter/scorer"
	"nemesis/internal/domain"
)

func TestTagIndexPutIfAbsent(t *testing.T) {
	s := openTestStore(t, 3)
	idx := s.TagIndex()

	require.NoError(t, idx.PutIfAbsent("chess", domain.Vector{1, 0, 0}))
	require.NoError(t, idx.PutIfAbsent("chess", domain.Vector{0, 1, 0}))

	vec, ok, err := idx.Get("chess")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.Vector{1, 0, 0}, vec)
	assert.Equal(t, 1, idx.Count())

	err = idx.PutIfAbsent("bad", domain.Vector{1, 0})
	assert.True(t, errors.Is(err, domain.ErrInconsistentState))
}

func TestTagIndexOpposed(t *testing.T) {
	s := openTestStore(t, 3)
	idx := s.TagIndex()

	require.NoError(t, idx.PutIfAbsent("query", domain.Vector{1, 0, 0}))
	require.NoError(t, idx.PutIfAbsent("opposite", domain.Vector{-1, 0, 0}))
	require.NoError(t, idx.PutIfAbsent("orthogonal", domain.Vector{0, 1, 0}))
	require.NoError(t, idx.PutIfAbsent("same", domain.Vector{1, 0, 0}))

	ranked, err := idx.Opposed(domain.Vector{1, 0, 0}, "query", 10)
	require.NoError(t, err)
	require.Len(t, ranked, 3)
	assert.Equal(t, "opposite", ranked[0].TagName)
	assert.InDelta(t, 1.0, ranked[0].NemesisScore, 1e-9)
	assert.Equal(t, "orthogonal", ranked[1].TagName)
	assert.InDelta(t, 0.5, ranked[1].NemesisScore, 1e-9)
	assert.Equal(t, "same", ranked[2].TagName)
	assert.InDelta(t, 0.0, ranked[2].NemesisScore, 1e-9)

	top, err := idx.Opposed(domain.Vector{1, 0, 0}, "query", 1)
	require.NoError(t, err)
	assert.Len(t, top, 1)
}

func TestOpposedTagsMatchesScorer(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, embedding.DefaultDimension)
	g := embedding.NewSyntheticGenerator(embedding.DefaultDimension)

	names := []string{"hiking", "opera", "crypto", "gardening", "metal"}
	for _, n := range names {
		require.NoError(t, s.UpsertTagEmbedding(ctx, n, g.ForTag(n)))
	}

	q := g.ForTag("hiking")
	ranked, err := s.OpposedTags(ctx, q, "hiking", len(names))
	require.NoError(t, err)
	require.Len(t, ranked, len(names)-1)
	for i, r := range ranked {
		assert.InDelta(t, scorer.Opposition(q, g.ForTag(r.TagName)), r.NemesisScore, 1e-9)
		if i > 0 {
			assert.GreaterOrEqual(t, ranked[i-1].NemesisScore, r.NemesisScore)
		}
	}
}
