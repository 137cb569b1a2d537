package pgstore

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nemesis/internal/adapter/embedding"
	"nemesis/internal/adapter/scorer"
	"nemesis/internal/domain"
	"nemesis/internal/port"
)

// openTestStore connects to the database named by NEMESIS_TEST_POSTGRES_DSN. Every test
// uses fresh uuid-based ids so runs do not interfere.
func openTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("NEMESIS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("NEMESIS_TEST_POSTGRES_DSN not set")
	}
	s, err := Open(context.Background(), dsn, 8)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newID() string {
	return "test_" + uuid.NewString()
}

func TestPostgresUserAndTags(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	id := newID()

	_, err := s.GetUser(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.CreateUser(ctx, domain.UserProfile{ID: id, Username: "user_x"})
	require.NoError(t, err)

	bio := "hi"
	u, err := s.UpdateUser(ctx, id, domain.ProfileUpdate{Bio: &bio})
	require.NoError(t, err)
	assert.Equal(t, "hi", u.Bio)
	assert.Equal(t, "user_x", u.Username)

	tag := newID()
	first, err := s.UpsertUserTag(ctx, id, tag)
	require.NoError(t, err)
	again, err := s.UpsertUserTag(ctx, id, tag)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	require.NoError(t, s.DeleteUserTags(ctx, id, []string{tag}))
	tags, err := s.GetUserTags(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestPostgresDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	id := newID()

	_, err := s.CreateUser(ctx, domain.UserProfile{ID: id})
	require.NoError(t, err)
	require.NoError(t, s.UpdateUserEmbedding(ctx, id, domain.Vector{1, 0, 0}))

	_, err = s.GetUser(ctx, id)
	assert.ErrorIs(t, err, domain.ErrInconsistentState)
}

func TestPostgresRankMatchesInProcessScorer(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	g := embedding.NewSyntheticGenerator(8)

	requester := newID()
	tagA, tagB, tagC := newID(), newID(), newID()
	users := []struct {
		id   string
		tags []string
	}{
		{requester, []string{tagA, tagB}},
		{newID(), []string{tagA}},
		{newID(), []string{tagC}},
		{newID(), nil},
	}

	var exclude []string
	subjects := map[string]scorer.Subject{}
	for _, u := range users {
		_, err := s.CreateUser(ctx, domain.UserProfile{ID: u.id, Username: u.id})
		require.NoError(t, err)
		var tes []domain.TagEmbedding
		var vecs []domain.Vector
		for _, tg := range u.tags {
			_, err := s.UpsertUserTag(ctx, u.id, tg)
			require.NoError(t, err)
			require.NoError(t, s.UpsertTagEmbedding(ctx, tg, g.ForTag(tg)))
			tes = append(tes, domain.TagEmbedding{Name: tg, Vector: g.ForTag(tg)})
			vecs = append(vecs, g.ForTag(tg))
		}
		emb, err := embedding.ComputeProfile(g, tes)
		require.NoError(t, err)
		require.NoError(t, s.UpdateUserEmbedding(ctx, u.id, emb))
		subjects[u.id] = scorer.Subject{ID: u.id, Embedding: emb, Tags: u.tags, TagEmbeddings: vecs}
	}

	// Restrict ranking to the users created here.
	all, err := s.ListUserIDs(ctx)
	require.NoError(t, err)
	for _, id := range all {
		if _, ok := subjects[id]; !ok {
			exclude = append(exclude, id)
		}
	}

	req := subjects[requester]
	ranked, err := s.RankCandidates(ctx, port.RankQuery{
		RequesterID: requester,
		Negated:     scorer.Negate(req.Embedding),
		Exclude:     exclude,
		Limit:       10,
	})
	require.NoError(t, err)
	require.Len(t, ranked, 3)

	composite := scorer.New(scorer.ProfileComposite)
	for i, r := range ranked {
		want := composite.Score(req, subjects[r.Profile.ID])
		assert.InDelta(t, want, r.Score, 1e-4, "candidate %s", r.Profile.ID)
		if i > 0 {
			assert.GreaterOrEqual(t, ranked[i-1].Score, r.Score)
		}
	}
}

func TestPostgresZeroVectorsScoreNeutral(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	g := embedding.NewSyntheticGenerator(8)
	zero := make(domain.Vector, 8)

	requester, flat := newID(), newID()
	reqTag, flatTag := newID(), newID()
	for _, u := range []struct{ id, tag string }{{requester, reqTag}, {flat, flatTag}} {
		_, err := s.CreateUser(ctx, domain.UserProfile{ID: u.id, Username: u.id})
		require.NoError(t, err)
		_, err = s.UpsertUserTag(ctx, u.id, u.tag)
		require.NoError(t, err)
	}
	require.NoError(t, s.UpsertTagEmbedding(ctx, reqTag, g.ForTag(reqTag)))
	require.NoError(t, s.UpsertTagEmbedding(ctx, flatTag, zero))
	reqEmb := g.ForTag(reqTag)
	require.NoError(t, s.UpdateUserEmbedding(ctx, requester, reqEmb))
	require.NoError(t, s.UpdateUserEmbedding(ctx, flat, zero))

	all, err := s.ListUserIDs(ctx)
	require.NoError(t, err)
	var exclude []string
	for _, id := range all {
		if id != requester && id != flat {
			exclude = append(exclude, id)
		}
	}

	ranked, err := s.RankCandidates(ctx, port.RankQuery{
		RequesterID: requester,
		Negated:     scorer.Negate(reqEmb),
		Exclude:     exclude,
		Limit:       10,
	})
	require.NoError(t, err)
	require.Len(t, ranked, 1)

	want := scorer.New(scorer.ProfileComposite).Score(
		scorer.Subject{ID: requester, Embedding: reqEmb, Tags: []string{reqTag}, TagEmbeddings: []domain.Vector{reqEmb}},
		scorer.Subject{ID: flat, Embedding: zero, Tags: []string{flatTag}, TagEmbeddings: []domain.Vector{zero}},
	)
	assert.InDelta(t, 0.6, want, 1e-9)
	assert.InDelta(t, want, ranked[0].Score, 1e-4)

	tags, err := s.OpposedTags(ctx, reqEmb, reqTag, 1000)
	require.NoError(t, err)
	found := false
	for _, st := range tags {
		if st.TagName == flatTag {
			found = true
			assert.InDelta(t, 0.5, st.NemesisScore, 1e-9)
		}
	}
	assert.True(t, found)
}
