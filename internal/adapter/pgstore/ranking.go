package pgstore

import (
	"context"

	"github.com/lib/pq"
	pgvector "github.com/pgvector/pgvector-go"

	"nemesis/internal/domain"
	"nemesis/internal/port"
)

var (
	_ port.Store           = (*PostgresStore)(nil)
	_ port.TagRanker       = (*PostgresStore)(nil)
	_ port.CandidateRanker = (*PostgresStore)(nil)
)

// rankQuery computes the composite opposition score for every eligible candidate.
// Weights and neutral defaults match scorer.OppositionScorer:
//
//	0.5 * (1 - cd(candidate, -requester)/2)   user term, 0.5 without an embedding
//	0.3 * avg(1 - cd(rt, ct)/2)               tag term, 0.5 when either side has no tag vectors
//	0.2 * (1 - shared / max(candidate tags, 1))
//
// pgvector yields NaN for a zero-magnitude vector; NULLIF maps it to distance 1 the way
// scorer.CosineDistance does, so such pairs score the neutral 0.5.
//
// $1 requester id, $2 negated requester embedding, $3 excluded ids, $4 limit, $5 offset.
const rankQuery = `
WITH req_tags AS (
    SELECT tag_name FROM user_tags WHERE user_id = $1
),
req_vecs AS (
    SELECT te.embedding FROM req_tags rt JOIN tag_embeddings te ON te.tag_name = rt.tag_name
),
scored AS (
    SELECT
        u.id, u.username, u.display_name, u.avatar_url, u.bio, u.embedding::text AS embedding,
        u.created_at, u.updated_at,
        COALESCE((SELECT array_agg(ct.tag_name ORDER BY ct.id) FROM user_tags ct WHERE ct.user_id = u.id), '{}') AS tags,
        0.5 * (1 - COALESCE(NULLIF(u.embedding <=> $2, 'NaN'::float8), 1) / 2)
      + 0.3 * COALESCE((
            SELECT AVG(1 - COALESCE(NULLIF(cv.embedding <=> rv.embedding, 'NaN'::float8), 1) / 2)
            FROM user_tags ct
            JOIN tag_embeddings cv ON cv.tag_name = ct.tag_name
            CROSS JOIN req_vecs rv
            WHERE ct.user_id = u.id
        ), 0.5)
      + 0.2 * (1 - (
            SELECT COUNT(*) FROM user_tags ct
            WHERE ct.user_id = u.id AND ct.tag_name IN (SELECT tag_name FROM req_tags)
        )::float8 / GREATEST((SELECT COUNT(*) FROM user_tags ct WHERE ct.user_id = u.id), 1)) AS raw_score
    FROM users u
    WHERE u.id <> $1 AND NOT (u.id = ANY($3))
)
SELECT id, username, display_name, avatar_url, bio, embedding, created_at, updated_at, tags,
       LEAST(1, GREATEST(0, raw_score)) AS score
FROM scored
ORDER BY score DESC, id ASC
LIMIT $4 OFFSET $5`

// RankCandidates filters and orders candidates server side.
func (s *PostgresStore) RankCandidates(ctx context.Context, q port.RankQuery) ([]domain.ScoredCandidate, error) {
	exclude := q.Exclude
	if exclude == nil {
		exclude = []string{}
	}
	rows, err := s.db.QueryContext(ctx, rankQuery,
		q.RequesterID, pgvector.NewVector(q.Negated), pq.Array(exclude), q.Limit, q.Offset,
	)
	if err != nil {
		return nil, wrap("rank candidates", err)
	}
	defer rows.Close()

	results := []domain.ScoredCandidate{}
	for rows.Next() {
		var (
			tags  []string
			score float64
		)
		u, err := s.scanUser(rows, pq.Array(&tags), &score)
		if err != nil {
			return nil, wrap("rank candidates", err)
		}
		results = append(results, domain.ScoredCandidate{Profile: u, Tags: tags, Score: score})
	}
	return results, wrap("rank candidates", rows.Err())
}

// OpposedTags ranks stored tag embeddings by opposition to query, excluding one tag.
func (s *PostgresStore) OpposedTags(ctx context.Context, query domain.Vector, exclude string, k int) ([]domain.ScoredTag, error) {
	negated := make([]float32, len(query))
	for i, x := range query {
		negated[i] = -x
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag_name, 1 - COALESCE(NULLIF(embedding <=> $1, 'NaN'::float8), 1) / 2 AS score
		 FROM tag_embeddings
		 WHERE tag_name <> $2
		 ORDER BY score DESC, tag_name ASC
		 LIMIT $3`,
		pgvector.NewVector(negated), exclude, k,
	)
	if err != nil {
		return nil, wrap("opposed tags", err)
	}
	defer rows.Close()

	var out []domain.ScoredTag
	for rows.Next() {
		var st domain.ScoredTag
		if err := rows.Scan(&st.TagName, &st.NemesisScore); err != nil {
			return nil, wrap("opposed tags", err)
		}
		out = append(out, st)
	}
	return out, wrap("opposed tags", rows.Err())
}

// ScanCandidates streams every eligible user with their tags in id order.
func (s *PostgresStore) ScanCandidates(ctx context.Context, exclude map[string]struct{}, fn func(domain.Candidate) error) error {
	ids := make([]string, 0, len(exclude))
	for id := range exclude {
		ids = append(ids, id)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.username, u.display_name, u.avatar_url, u.bio, u.embedding::text, u.created_at, u.updated_at,
		        COALESCE((SELECT array_agg(ct.tag_name ORDER BY ct.id) FROM user_tags ct WHERE ct.user_id = u.id), '{}')
		 FROM users u
		 WHERE NOT (u.id = ANY($1))
		 ORDER BY u.id`,
		pq.Array(ids),
	)
	if err != nil {
		return wrap("scan candidates", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tags []string
		u, err := s.scanUser(rows, pq.Array(&tags))
		if err != nil {
			return wrap("scan candidates", err)
		}
		if err := fn(domain.Candidate{Profile: u, Tags: tags}); err != nil {
			return err
		}
	}
	return wrap("scan candidates", rows.Err())
}
