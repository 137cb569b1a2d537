package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"nemesis/internal/domain"
)

var (
	bucketUsers       = []byte("users")
	bucketTags        = []byte("tags")
	bucketUserTags    = []byte("user_tags")
	bucketRelations   = []byte("relationships")
	bucketDislikeTags = []byte("dislike_tags")
	bucketStats       = []byte("stats")
	keyTagCounts      = []byte("tag_counts")
)

const sep = "\x00"

// BoltStore implements port.Store on a single bbolt file. Tag embeddings live in a
// separate index (see vector_store.go) that is kept in memory for ranking.
type BoltStore struct {
	db        *bbolt.DB
	dimension int
	tags      *BoltTagIndex
	now       func() time.Time
}

// NewBoltStore opens (or creates) the database at path. Stored vectors whose length differs
// from dimension are reported as inconsistent when read.
func NewBoltStore(path string, dimension int) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{bucketUsers, bucketTags, bucketUserTags, bucketRelations, bucketDislikeTags, bucketStats}
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	tags, err := NewBoltTagIndex(db, dimension)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, dimension: dimension, tags: tags, now: time.Now}, nil
}

func (s *BoltStore) DB() *bbolt.DB {
	return s.db
}

// TagIndex exposes the tag embedding index.
func (s *BoltStore) TagIndex() *BoltTagIndex {
	return s.tags
}

type userRecord struct {
	Username    string        `json:"username"`
	DisplayName string        `json:"display_name,omitempty"`
	AvatarURL   string        `json:"avatar_url,omitempty"`
	Bio         string        `json:"bio,omitempty"`
	Embedding   domain.Vector `json:"embedding,omitempty"`
	CreatedAt   int64         `json:"created_at"`
	UpdatedAt   int64         `json:"updated_at"`
}

func toRecord(u domain.UserProfile) userRecord {
	return userRecord{
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		Bio:         u.Bio,
		Embedding:   u.Embedding,
		CreatedAt:   u.CreatedAt.UnixNano(),
		UpdatedAt:   u.UpdatedAt.UnixNano(),
	}
}

func (r userRecord) profile(id string) domain.UserProfile {
	return domain.UserProfile{
		ID:          id,
		Username:    r.Username,
		DisplayName: r.DisplayName,
		AvatarURL:   r.AvatarURL,
		Bio:         r.Bio,
		Embedding:   r.Embedding,
		CreatedAt:   time.Unix(0, r.CreatedAt).UTC(),
		UpdatedAt:   time.Unix(0, r.UpdatedAt).UTC(),
	}
}

func (s *BoltStore) checkDim(what string, vec domain.Vector) error {
	if s.dimension > 0 && len(vec) > 0 && len(vec) != s.dimension {
		return domain.InconsistentState("%s has dimension %d, expected %d", what, len(vec), s.dimension)
	}
	return nil
}

func (s *BoltStore) readUser(tx *bbolt.Tx, id string) (userRecord, bool, error) {
	data := tx.Bucket(bucketUsers).Get([]byte(id))
	if data == nil {
		return userRecord{}, false, nil
	}
	var rec userRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return userRecord{}, false, domain.InconsistentState("corrupt user record %s: %v", id, err)
	}
	if err := s.checkDim("embedding of user "+id, rec.Embedding); err != nil {
		return userRecord{}, false, err
	}
	return rec, true, nil
}

func putJSON(b *bbolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func (s *BoltStore) GetUser(ctx context.Context, id string) (domain.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return domain.UserProfile{}, err
	}
	var user domain.UserProfile
	err := s.db.View(func(tx *bbolt.Tx) error {
		rec, ok, err := s.readUser(tx, id)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFound("user with ID " + id)
		}
		user = rec.profile(id)
		return nil
	})
	return user, domain.StoreFailure("get user", err)
}

func (s *BoltStore) CreateUser(ctx context.Context, profile domain.UserProfile) (domain.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return domain.UserProfile{}, err
	}
	var out domain.UserProfile
	err := s.db.Update(func(tx *bbolt.Tx) error {
		rec, ok, err := s.readUser(tx, profile.ID)
		if err != nil {
			return err
		}
		if ok {
			out = rec.profile(profile.ID)
			return nil
		}
		now := s.now().UTC()
		profile.CreatedAt = now
		profile.UpdatedAt = now
		if err := putJSON(tx.Bucket(bucketUsers), []byte(profile.ID), toRecord(profile)); err != nil {
			return err
		}
		out = profile
		return nil
	})
	return out, domain.StoreFailure("create user", err)
}

func (s *BoltStore) UpdateUser(ctx context.Context, id string, update domain.ProfileUpdate) (domain.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return domain.UserProfile{}, err
	}
	var out domain.UserProfile
	err := s.db.Update(func(tx *bbolt.Tx) error {
		rec, ok, err := s.readUser(tx, id)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFound("user with ID " + id)
		}
		if update.Username != nil {
			rec.Username = *update.Username
		}
		if update.DisplayName != nil {
			rec.DisplayName = *update.DisplayName
		}
		if update.AvatarURL != nil {
			rec.AvatarURL = *update.AvatarURL
		}
		if update.Bio != nil {
			rec.Bio = *update.Bio
		}
		rec.UpdatedAt = s.now().UnixNano()
		if err := putJSON(tx.Bucket(bucketUsers), []byte(id), rec); err != nil {
			return err
		}
		out = rec.profile(id)
		return nil
	})
	return out, domain.StoreFailure("update user", err)
}

func (s *BoltStore) UpdateUserEmbedding(ctx context.Context, id string, vec domain.Vector) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get([]byte(id))
		if data == nil {
			return domain.NotFound("user with ID " + id)
		}
		var rec userRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return domain.InconsistentState("corrupt user record %s: %v", id, err)
		}
		rec.Embedding = vec
		rec.UpdatedAt = s.now().UnixNano()
		return putJSON(tx.Bucket(bucketUsers), []byte(id), rec)
	})
	return domain.StoreFailure("update user embedding", err)
}

func (s *BoltStore) UpsertTag(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return s.upsertTag(tx, name)
	})
	return domain.StoreFailure("upsert tag", err)
}

func (s *BoltStore) upsertTag(tx *bbolt.Tx, name string) error {
	b := tx.Bucket(bucketTags)
	if b.Get([]byte(name)) != nil {
		return nil
	}
	return putJSON(b, []byte(name), s.now().UnixNano())
}

func userTagPrefix(userID string) []byte {
	return []byte(userID + sep)
}

func userTagKey(userID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s%016x", userID, sep, seq))
}

type userTagRecord struct {
	ID        int64  `json:"id"`
	TagName   string `json:"tag"`
	CreatedAt int64  `json:"created_at"`
}

func (r userTagRecord) userTag(userID string) domain.UserTag {
	return domain.UserTag{
		ID:        r.ID,
		UserID:    userID,
		TagName:   r.TagName,
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
	}
}

// scanPrefix calls fn for every key in b that starts with prefix, in key order.
func scanPrefix(b *bbolt.Bucket, prefix []byte, fn func(k, v []byte) error) error {
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *BoltStore) UpsertUserTag(ctx context.Context, userID, tagName string) (domain.UserTag, error) {
	if err := ctx.Err(); err != nil {
		return domain.UserTag{}, err
	}
	var out domain.UserTag
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUserTags)
		found := false
		err := scanPrefix(b, userTagPrefix(userID), func(k, v []byte) error {
			var rec userTagRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.TagName == tagName {
				out = rec.userTag(userID)
				found = true
			}
			return nil
		})
		if err != nil || found {
			return err
		}

		if err := s.upsertTag(tx, tagName); err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		rec := userTagRecord{ID: int64(seq), TagName: tagName, CreatedAt: s.now().UnixNano()}
		if err := putJSON(b, userTagKey(userID, seq), rec); err != nil {
			return err
		}
		out = rec.userTag(userID)
		return nil
	})
	return out, domain.StoreFailure("upsert user tag", err)
}

func (s *BoltStore) DeleteUserTags(ctx context.Context, userID string, names []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUserTags)
		var keys [][]byte
		err := scanPrefix(b, userTagPrefix(userID), func(k, v []byte) error {
			var rec userTagRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if _, ok := drop[rec.TagName]; ok {
				keys = append(keys, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	return domain.StoreFailure("delete user tags", err)
}

func (s *BoltStore) GetUserTags(ctx context.Context, userID string) ([]domain.UserTag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var tags []domain.UserTag
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		tags, err = readUserTags(tx, userID)
		return err
	})
	return tags, domain.StoreFailure("get user tags", err)
}

func readUserTags(tx *bbolt.Tx, userID string) ([]domain.UserTag, error) {
	tags := []domain.UserTag{}
	err := scanPrefix(tx.Bucket(bucketUserTags), userTagPrefix(userID), func(k, v []byte) error {
		var rec userTagRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		tags = append(tags, rec.userTag(userID))
		return nil
	})
	return tags, err
}

// RefreshTagPopularity recounts tag usage and stores the snapshot read by TagCounts.
func (s *BoltStore) RefreshTagPopularity(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		counts := make(map[string]int64)
		err := tx.Bucket(bucketUserTags).ForEach(func(k, v []byte) error {
			var rec userTagRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			counts[rec.TagName]++
			return nil
		})
		if err != nil {
			return err
		}

		snapshot := make([]domain.TagCount, 0, len(counts))
		for name, n := range counts {
			snapshot = append(snapshot, domain.TagCount{TagName: name, UserCount: n})
		}
		sort.Slice(snapshot, func(i, j int) bool {
			if snapshot[i].UserCount != snapshot[j].UserCount {
				return snapshot[i].UserCount > snapshot[j].UserCount
			}
			return snapshot[i].TagName < snapshot[j].TagName
		})
		return putJSON(tx.Bucket(bucketStats), keyTagCounts, snapshot)
	})
	return domain.StoreFailure("refresh tag popularity", err)
}

func (s *BoltStore) TagCounts(ctx context.Context) ([]domain.TagCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	counts := []domain.TagCount{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketStats).Get(keyTagCounts)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &counts)
	})
	return counts, domain.StoreFailure("tag counts", err)
}

func (s *BoltStore) FetchTagEmbedding(ctx context.Context, name string) (domain.Vector, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	return s.tags.Get(name)
}

func (s *BoltStore) UpsertTagEmbedding(ctx context.Context, name string, vec domain.Vector) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return domain.StoreFailure("upsert tag embedding", s.tags.PutIfAbsent(name, vec))
}

func (s *BoltStore) ListTagEmbeddings(ctx context.Context) ([]domain.TagEmbedding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.tags.All()
}

// OpposedTags ranks indexed tags by opposition to query; see BoltTagIndex.Opposed.
func (s *BoltStore) OpposedTags(ctx context.Context, query domain.Vector, exclude string, k int) ([]domain.ScoredTag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.tags.Opposed(query, exclude, k)
}

func relationKey(userID, targetID string, kind domain.RelationshipKind) []byte {
	return []byte(string(kind) + sep + userID + sep + targetID)
}

func relationPrefix(userID string, kind domain.RelationshipKind) []byte {
	return []byte(string(kind) + sep + userID + sep)
}

type relationRecord struct {
	ID        int64  `json:"id"`
	TargetID  string `json:"target"`
	CreatedAt int64  `json:"created_at"`
}

func (r relationRecord) relationship(userID string, kind domain.RelationshipKind) domain.Relationship {
	return domain.Relationship{
		ID:        r.ID,
		UserID:    userID,
		TargetID:  r.TargetID,
		Kind:      kind,
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
	}
}

func (s *BoltStore) InsertRelationship(ctx context.Context, userID, targetID string, kind domain.RelationshipKind) (domain.Relationship, error) {
	if err := ctx.Err(); err != nil {
		return domain.Relationship{}, err
	}
	var out domain.Relationship
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRelations)
		key := relationKey(userID, targetID, kind)
		if data := b.Get(key); data != nil {
			var rec relationRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
			out = rec.relationship(userID, kind)
			return nil
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		rec := relationRecord{ID: int64(seq), TargetID: targetID, CreatedAt: s.now().UnixNano()}
		if err := putJSON(b, key, rec); err != nil {
			return err
		}
		out = rec.relationship(userID, kind)
		return nil
	})
	return out, domain.StoreFailure("insert relationship", err)
}

func (s *BoltStore) RelationshipTargets(ctx context.Context, userID string, kind domain.RelationshipKind) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var targets []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		prefix := relationPrefix(userID, kind)
		return scanPrefix(tx.Bucket(bucketRelations), prefix, func(k, v []byte) error {
			targets = append(targets, string(k[len(prefix):]))
			return nil
		})
	})
	return targets, domain.StoreFailure("relationship targets", err)
}

func (s *BoltStore) ListRelationships(ctx context.Context, userID string, kind domain.RelationshipKind, limit, offset int) ([]domain.Relationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rels []domain.Relationship
	err := s.db.View(func(tx *bbolt.Tx) error {
		return scanPrefix(tx.Bucket(bucketRelations), relationPrefix(userID, kind), func(k, v []byte) error {
			var rec relationRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			rels = append(rels, rec.relationship(userID, kind))
			return nil
		})
	})
	if err != nil {
		return nil, domain.StoreFailure("list relationships", err)
	}

	sort.Slice(rels, func(i, j int) bool {
		if !rels[i].CreatedAt.Equal(rels[j].CreatedAt) {
			return rels[i].CreatedAt.After(rels[j].CreatedAt)
		}
		return rels[i].ID > rels[j].ID
	})
	if offset >= len(rels) {
		return nil, nil
	}
	end := len(rels)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return rels[offset:end], nil
}

type dislikeTagRecord struct {
	ID        int64  `json:"id"`
	TagName   string `json:"tag"`
	CreatedAt int64  `json:"created_at"`
}

func (s *BoltStore) InsertDislikeTag(ctx context.Context, userID, targetID, tagName string) (domain.DislikeTag, error) {
	if err := ctx.Err(); err != nil {
		return domain.DislikeTag{}, err
	}
	var out domain.DislikeTag
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDislikeTags)
		key := []byte(userID + sep + targetID + sep + tagName)
		var rec dislikeTagRecord
		if data := b.Get(key); data != nil {
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
		} else {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			rec = dislikeTagRecord{ID: int64(seq), TagName: tagName, CreatedAt: s.now().UnixNano()}
			if err := putJSON(b, key, rec); err != nil {
				return err
			}
		}
		out = domain.DislikeTag{
			ID:        rec.ID,
			UserID:    userID,
			TargetID:  targetID,
			TagName:   rec.TagName,
			CreatedAt: time.Unix(0, rec.CreatedAt).UTC(),
		}
		return nil
	})
	return out, domain.StoreFailure("insert dislike tag", err)
}

func (s *BoltStore) DislikeTags(ctx context.Context, userID, targetID string) ([]domain.DislikeTag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.DislikeTag
	err := s.db.View(func(tx *bbolt.Tx) error {
		return scanPrefix(tx.Bucket(bucketDislikeTags), []byte(userID+sep+targetID+sep), func(k, v []byte) error {
			var rec dislikeTagRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, domain.DislikeTag{
				ID:        rec.ID,
				UserID:    userID,
				TargetID:  targetID,
				TagName:   rec.TagName,
				CreatedAt: time.Unix(0, rec.CreatedAt).UTC(),
			})
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, domain.StoreFailure("dislike tags", err)
}

// ScanCandidates reads every eligible user in one read transaction and calls fn after the
// transaction is closed.
func (s *BoltStore) ScanCandidates(ctx context.Context, exclude map[string]struct{}, fn func(domain.Candidate) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var candidates []domain.Candidate
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			id := string(k)
			if _, skip := exclude[id]; skip {
				return nil
			}
			var rec userRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return domain.InconsistentState("corrupt user record %s: %v", id, err)
			}
			if err := s.checkDim("embedding of user "+id, rec.Embedding); err != nil {
				return err
			}
			tags, err := readUserTags(tx, id)
			if err != nil {
				return err
			}
			names := make([]string, len(tags))
			for i, t := range tags {
				names[i] = t.TagName
			}
			candidates = append(candidates, domain.Candidate{Profile: rec.profile(id), Tags: names})
			return nil
		})
	})
	if err != nil {
		return domain.StoreFailure("scan candidates", err)
	}

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

// ListUserIDs lists every stored user id in key order.
func (s *BoltStore) ListUserIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, domain.StoreFailure("list users", err)
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
