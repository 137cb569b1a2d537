package pgstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/sethvargo/go-retry"

	"nemesis/internal/domain"
)

//go:embed schema.sql
var schema string

// PostgresStore implements port.Store and port.CandidateRanker on Postgres with the
// pgvector extension.
type PostgresStore struct {
	db        *sql.DB
	dimension int
}

// Open connects to dsn, retrying the initial ping with Fibonacci backoff, and applies the
// schema.
func Open(ctx context.Context, dsn string, dimension int) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxIdleTime(5 * time.Minute)

	backoff := retry.WithMaxRetries(5, retry.NewFibonacci(100*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}

	s := &PostgresStore{db: db, dimension: dimension}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies the idempotent schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// DB exposes the underlying pool.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// wrap classifies driver errors. Postgres reports its own codes through *pq.Error.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "22" {
		return domain.InconsistentState("%s: %s", op, pqErr.Message)
	}
	return domain.StoreFailure(op, err)
}

// decodeVector turns a nullable vector column read as text into a domain vector.
func (s *PostgresStore) decodeVector(what string, raw sql.NullString) (domain.Vector, error) {
	if !raw.Valid {
		return nil, nil
	}
	var v pgvector.Vector
	if err := v.Scan(raw.String); err != nil {
		return nil, domain.InconsistentState("decode %s: %v", what, err)
	}
	vec := domain.Vector(v.Slice())
	if s.dimension > 0 && len(vec) != s.dimension {
		return nil, domain.InconsistentState("%s has dimension %d, expected %d", what, len(vec), s.dimension)
	}
	return vec, nil
}

const userColumns = `id, username, display_name, avatar_url, bio, embedding::text, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanUser(row rowScanner, extra ...any) (domain.UserProfile, error) {
	var (
		u   domain.UserProfile
		emb sql.NullString
	)
	dest := append([]any{&u.ID, &u.Username, &u.DisplayName, &u.AvatarURL, &u.Bio, &emb, &u.CreatedAt, &u.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return domain.UserProfile{}, err
	}
	vec, err := s.decodeVector("embedding of user "+u.ID, emb)
	if err != nil {
		return domain.UserProfile{}, err
	}
	u.Embedding = vec
	return u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (domain.UserProfile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := s.scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UserProfile{}, domain.NotFound("user with ID " + id)
	}
	return u, wrap("get user", err)
}

func (s *PostgresStore) CreateUser(ctx context.Context, profile domain.UserProfile) (domain.UserProfile, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, display_name, avatar_url, bio)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		profile.ID, profile.Username, profile.DisplayName, profile.AvatarURL, profile.Bio,
	)
	if err != nil {
		return domain.UserProfile{}, wrap("create user", err)
	}
	return s.GetUser(ctx, profile.ID)
}

func (s *PostgresStore) UpdateUser(ctx context.Context, id string, update domain.ProfileUpdate) (domain.UserProfile, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE users SET
		     username     = COALESCE($2, username),
		     display_name = COALESCE($3, display_name),
		     avatar_url   = COALESCE($4, avatar_url),
		     bio          = COALESCE($5, bio),
		     updated_at   = NOW()
		 WHERE id = $1
		 RETURNING `+userColumns,
		id, nullable(update.Username), nullable(update.DisplayName), nullable(update.AvatarURL), nullable(update.Bio),
	)
	u, err := s.scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UserProfile{}, domain.NotFound("user with ID " + id)
	}
	return u, wrap("update user", err)
}

func nullable(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func (s *PostgresStore) UpdateUserEmbedding(ctx context.Context, id string, vec domain.Vector) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET embedding = $1, updated_at = NOW() WHERE id = $2`,
		pgvector.NewVector(vec), id,
	)
	if err != nil {
		return wrap("update user embedding", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("user with ID " + id)
	}
	return nil
}

func (s *PostgresStore) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, wrap("list users", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrap("list users", err)
		}
		ids = append(ids, id)
	}
	return ids, wrap("list users", rows.Err())
}

func (s *PostgresStore) UpsertTag(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO tags (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
	return wrap("upsert tag", err)
}

func (s *PostgresStore) UpsertUserTag(ctx context.Context, userID, tagName string) (domain.UserTag, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.UserTag{}, wrap("upsert user tag", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO tags (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, tagName); err != nil {
		return domain.UserTag{}, wrap("upsert user tag", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_tags (user_id, tag_name) VALUES ($1, $2) ON CONFLICT (user_id, tag_name) DO NOTHING`,
		userID, tagName,
	); err != nil {
		return domain.UserTag{}, wrap("upsert user tag", err)
	}

	ut := domain.UserTag{UserID: userID, TagName: tagName}
	err = tx.QueryRowContext(ctx,
		`SELECT id, created_at FROM user_tags WHERE user_id = $1 AND tag_name = $2`,
		userID, tagName,
	).Scan(&ut.ID, &ut.CreatedAt)
	if err != nil {
		return domain.UserTag{}, wrap("upsert user tag", err)
	}
	return ut, wrap("upsert user tag", tx.Commit())
}

func (s *PostgresStore) DeleteUserTags(ctx context.Context, userID string, names []string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM user_tags WHERE user_id = $1 AND tag_name = ANY($2)`,
		userID, pq.Array(names),
	)
	return wrap("delete user tags", err)
}

func (s *PostgresStore) GetUserTags(ctx context.Context, userID string) ([]domain.UserTag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tag_name, created_at FROM user_tags WHERE user_id = $1 ORDER BY id`,
		userID,
	)
	if err != nil {
		return nil, wrap("get user tags", err)
	}
	defer rows.Close()

	tags := []domain.UserTag{}
	for rows.Next() {
		ut := domain.UserTag{UserID: userID}
		if err := rows.Scan(&ut.ID, &ut.TagName, &ut.CreatedAt); err != nil {
			return nil, wrap("get user tags", err)
		}
		tags = append(tags, ut)
	}
	return tags, wrap("get user tags", rows.Err())
}

func (s *PostgresStore) RefreshTagPopularity(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `REFRESH MATERIALIZED VIEW tag_counts`)
	return wrap("refresh tag popularity", err)
}

func (s *PostgresStore) TagCounts(ctx context.Context) ([]domain.TagCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag_name, user_count FROM tag_counts ORDER BY user_count DESC, tag_name ASC`,
	)
	if err != nil {
		return nil, wrap("tag counts", err)
	}
	defer rows.Close()

	counts := []domain.TagCount{}
	for rows.Next() {
		var tc domain.TagCount
		if err := rows.Scan(&tc.TagName, &tc.UserCount); err != nil {
			return nil, wrap("tag counts", err)
		}
		counts = append(counts, tc)
	}
	return counts, wrap("tag counts", rows.Err())
}

func (s *PostgresStore) FetchTagEmbedding(ctx context.Context, name string) (domain.Vector, bool, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT embedding::text FROM tag_embeddings WHERE tag_name = $1`, name,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrap("fetch tag embedding", err)
	}
	vec, err := s.decodeVector("embedding of tag "+name, raw)
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

func (s *PostgresStore) UpsertTagEmbedding(ctx context.Context, name string, vec domain.Vector) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("upsert tag embedding", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO tags (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name); err != nil {
		return wrap("upsert tag embedding", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tag_embeddings (tag_name, embedding) VALUES ($1, $2) ON CONFLICT (tag_name) DO NOTHING`,
		name, pgvector.NewVector(vec),
	); err != nil {
		return wrap("upsert tag embedding", err)
	}
	return wrap("upsert tag embedding", tx.Commit())
}

func (s *PostgresStore) ListTagEmbeddings(ctx context.Context) ([]domain.TagEmbedding, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tag_name, embedding::text FROM tag_embeddings ORDER BY tag_name`)
	if err != nil {
		return nil, wrap("list tag embeddings", err)
	}
	defer rows.Close()

	var out []domain.TagEmbedding
	for rows.Next() {
		var (
			name string
			raw  sql.NullString
		)
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, wrap("list tag embeddings", err)
		}
		vec, err := s.decodeVector("embedding of tag "+name, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.TagEmbedding{Name: name, Vector: vec})
	}
	return out, wrap("list tag embeddings", rows.Err())
}

func (s *PostgresStore) InsertRelationship(ctx context.Context, userID, targetID string, kind domain.RelationshipKind) (domain.Relationship, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO relationships (user_id, target_user_id, kind) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, target_user_id, kind) DO NOTHING`,
		userID, targetID, string(kind),
	); err != nil {
		return domain.Relationship{}, wrap("insert relationship", err)
	}

	rel := domain.Relationship{UserID: userID, TargetID: targetID, Kind: kind}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM relationships WHERE user_id = $1 AND target_user_id = $2 AND kind = $3`,
		userID, targetID, string(kind),
	).Scan(&rel.ID, &rel.CreatedAt)
	return rel, wrap("insert relationship", err)
}

func (s *PostgresStore) RelationshipTargets(ctx context.Context, userID string, kind domain.RelationshipKind) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT target_user_id FROM relationships WHERE user_id = $1 AND kind = $2 ORDER BY target_user_id`,
		userID, string(kind),
	)
	if err != nil {
		return nil, wrap("relationship targets", err)
	}
	defer rows.Close()

	var targets []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrap("relationship targets", err)
		}
		targets = append(targets, id)
	}
	return targets, wrap("relationship targets", rows.Err())
}

func (s *PostgresStore) ListRelationships(ctx context.Context, userID string, kind domain.RelationshipKind, limit, offset int) ([]domain.Relationship, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, target_user_id, created_at FROM relationships
		 WHERE user_id = $1 AND kind = $2
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3 OFFSET $4`,
		userID, string(kind), lim, offset,
	)
	if err != nil {
		return nil, wrap("list relationships", err)
	}
	defer rows.Close()

	var rels []domain.Relationship
	for rows.Next() {
		rel := domain.Relationship{UserID: userID, Kind: kind}
		if err := rows.Scan(&rel.ID, &rel.TargetID, &rel.CreatedAt); err != nil {
			return nil, wrap("list relationships", err)
		}
		rels = append(rels, rel)
	}
	return rels, wrap("list relationships", rows.Err())
}

func (s *PostgresStore) InsertDislikeTag(ctx context.Context, userID, targetID, tagName string) (domain.DislikeTag, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO dislike_tags (user_id, target_user_id, tag_name) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, target_user_id, tag_name) DO NOTHING`,
		userID, targetID, tagName,
	); err != nil {
		return domain.DislikeTag{}, wrap("insert dislike tag", err)
	}

	dt := domain.DislikeTag{UserID: userID, TargetID: targetID, TagName: tagName}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM dislike_tags WHERE user_id = $1 AND target_user_id = $2 AND tag_name = $3`,
		userID, targetID, tagName,
	).Scan(&dt.ID, &dt.CreatedAt)
	return dt, wrap("insert dislike tag", err)
}

func (s *PostgresStore) DislikeTags(ctx context.Context, userID, targetID string) ([]domain.DislikeTag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tag_name, created_at FROM dislike_tags
		 WHERE user_id = $1 AND target_user_id = $2
		 ORDER BY created_at DESC, id DESC`,
		userID, targetID,
	)
	if err != nil {
		return nil, wrap("dislike tags", err)
	}
	defer rows.Close()

	var out []domain.DislikeTag
	for rows.Next() {
		dt := domain.DislikeTag{UserID: userID, TargetID: targetID}
		if err := rows.Scan(&dt.ID, &dt.TagName, &dt.CreatedAt); err != nil {
			return nil, wrap("dislike tags", err)
		}
		out = append(out, dt)
	}
	return out, wrap("dislike tags", rows.Err())
}
