package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"nemesis/internal/domain"
)

type relKey struct {
	userID   string
	targetID string
	kind     domain.RelationshipKind
}

type dislikeTagKey struct {
	userID   string
	targetID string
	tagName  string
}

// MemoryStore is a mutex-guarded in-process Store. It has no ranking capability, so
// discovery over it uses in-process top-k selection.
type MemoryStore struct {
	mu            sync.RWMutex
	dimension     int
	seq           int64
	users         map[string]domain.UserProfile
	tags          map[string]time.Time
	tagEmbeddings map[string]domain.Vector
	userTags      map[string][]domain.UserTag
	tagCounts     []domain.TagCount
	rels          map[relKey]domain.Relationship
	dislikeTags   map[dislikeTagKey]domain.DislikeTag
	now           func() time.Time
}

// NewMemoryStore creates an empty store. Vectors read back with a length other than
// dimension are reported as inconsistent; dimension 0 disables the check.
func NewMemoryStore(dimension int) *MemoryStore {
	return &MemoryStore{
		dimension:     dimension,
		users:         make(map[string]domain.UserProfile),
		tags:          make(map[string]time.Time),
		tagEmbeddings: make(map[string]domain.Vector),
		userTags:      make(map[string][]domain.UserTag),
		rels:          make(map[relKey]domain.Relationship),
		dislikeTags:   make(map[dislikeTagKey]domain.DislikeTag),
		now:           time.Now,
	}
}

func (s *MemoryStore) nextID() int64 {
	s.seq++
	return s.seq
}

func (s *MemoryStore) checkDim(what string, vec domain.Vector) error {
	if s.dimension > 0 && len(vec) > 0 && len(vec) != s.dimension {
		return domain.InconsistentState("%s has dimension %d, expected %d", what, len(vec), s.dimension)
	}
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (domain.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return domain.UserProfile{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return domain.UserProfile{}, domain.NotFound("user with ID " + id)
	}
	if err := s.checkDim("embedding of user "+id, user.Embedding); err != nil {
		return domain.UserProfile{}, err
	}
	return cloneUser(user), nil
}

func (s *MemoryStore) CreateUser(ctx context.Context, profile domain.UserProfile) (domain.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return domain.UserProfile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.users[profile.ID]; ok {
		return cloneUser(existing), nil
	}
	now := s.now()
	profile.CreatedAt = now
	profile.UpdatedAt = now
	s.users[profile.ID] = cloneUser(profile)
	return cloneUser(profile), nil
}

func (s *MemoryStore) UpdateUser(ctx context.Context, id string, update domain.ProfileUpdate) (domain.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return domain.UserProfile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return domain.UserProfile{}, domain.NotFound("user with ID " + id)
	}
	if update.Username != nil {
		user.Username = *update.Username
	}
	if update.DisplayName != nil {
		user.DisplayName = *update.DisplayName
	}
	if update.AvatarURL != nil {
		user.AvatarURL = *update.AvatarURL
	}
	if update.Bio != nil {
		user.Bio = *update.Bio
	}
	user.UpdatedAt = s.now()
	s.users[id] = user
	return cloneUser(user), nil
}

func (s *MemoryStore) UpdateUserEmbedding(ctx context.Context, id string, vec domain.Vector) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return domain.NotFound("user with ID " + id)
	}
	user.Embedding = cloneVec(vec)
	user.UpdatedAt = s.now()
	s.users[id] = user
	return nil
}

func (s *MemoryStore) ListUserIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) UpsertTag(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tags[name]; !ok {
		s.tags[name] = s.now()
	}
	return nil
}

func (s *MemoryStore) UpsertUserTag(ctx context.Context, userID, tagName string) (domain.UserTag, error) {
	if err := ctx.Err(); err != nil {
		return domain.UserTag{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ut := range s.userTags[userID] {
		if ut.TagName == tagName {
			return ut, nil
		}
	}
	if _, ok := s.tags[tagName]; !ok {
		s.tags[tagName] = s.now()
	}
	ut := domain.UserTag{
		ID:        s.nextID(),
		UserID:    userID,
		TagName:   tagName,
		CreatedAt: s.now(),
	}
	s.userTags[userID] = append(s.userTags[userID], ut)
	return ut, nil
}

func (s *MemoryStore) DeleteUserTags(ctx context.Context, userID string, names []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	filtered := make([]domain.UserTag, 0, len(s.userTags[userID]))
	for _, ut := range s.userTags[userID] {
		if _, ok := drop[ut.TagName]; !ok {
			filtered = append(filtered, ut)
		}
	}
	if len(filtered) == 0 {
		delete(s.userTags, userID)
	} else {
		s.userTags[userID] = filtered
	}
	return nil
}

func (s *MemoryStore) GetUserTags(ctx context.Context, userID string) ([]domain.UserTag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	tags := make([]domain.UserTag, len(s.userTags[userID]))
	copy(tags, s.userTags[userID])
	return tags, nil
}

func (s *MemoryStore) RefreshTagPopularity(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int64)
	for _, tags := range s.userTags {
		for _, ut := range tags {
			counts[ut.TagName]++
		}
	}
	s.tagCounts = sortCounts(counts)
	return nil
}

func (s *MemoryStore) TagCounts(ctx context.Context) ([]domain.TagCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.TagCount, len(s.tagCounts))
	copy(out, s.tagCounts)
	return out, nil
}

func (s *MemoryStore) FetchTagEmbedding(ctx context.Context, name string) (domain.Vector, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	vec, ok := s.tagEmbeddings[name]
	if !ok {
		return nil, false, nil
	}
	if err := s.checkDim("embedding of tag "+name, vec); err != nil {
		return nil, false, err
	}
	return cloneVec(vec), true, nil
}

func (s *MemoryStore) UpsertTagEmbedding(ctx context.Context, name string, vec domain.Vector) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tagEmbeddings[name]; ok {
		return nil
	}
	s.tagEmbeddings[name] = cloneVec(vec)
	return nil
}

func (s *MemoryStore) ListTagEmbeddings(ctx context.Context) ([]domain.TagEmbedding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.TagEmbedding, 0, len(s.tagEmbeddings))
	for name, vec := range s.tagEmbeddings {
		if err := s.checkDim("embedding of tag "+name, vec); err != nil {
			return nil, err
		}
		out = append(out, domain.TagEmbedding{Name: name, Vector: cloneVec(vec)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) InsertRelationship(ctx context.Context, userID, targetID string, kind domain.RelationshipKind) (domain.Relationship, error) {
	if err := ctx.Err(); err != nil {
		return domain.Relationship{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := relKey{userID: userID, targetID: targetID, kind: kind}
	if rel, ok := s.rels[key]; ok {
		return rel, nil
	}
	rel := domain.Relationship{
		ID:        s.nextID(),
		UserID:    userID,
		TargetID:  targetID,
		Kind:      kind,
		CreatedAt: s.now(),
	}
	s.rels[key] = rel
	return rel, nil
}

func (s *MemoryStore) RelationshipTargets(ctx context.Context, userID string, kind domain.RelationshipKind) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var targets []string
	for key := range s.rels {
		if key.userID == userID && key.kind == kind {
			targets = append(targets, key.targetID)
		}
	}
	sort.Strings(targets)
	return targets, nil
}

func (s *MemoryStore) ListRelationships(ctx context.Context, userID string, kind domain.RelationshipKind, limit, offset int) ([]domain.Relationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rels []domain.Relationship
	for key, rel := range s.rels {
		if key.userID == userID && key.kind == kind {
			rels = append(rels, rel)
		}
	}
	sort.Slice(rels, func(i, j int) bool {
		if !rels[i].CreatedAt.Equal(rels[j].CreatedAt) {
			return rels[i].CreatedAt.After(rels[j].CreatedAt)
		}
		return rels[i].ID > rels[j].ID
	})
	return page(rels, limit, offset), nil
}

func (s *MemoryStore) InsertDislikeTag(ctx context.Context, userID, targetID, tagName string) (domain.DislikeTag, error) {
	if err := ctx.Err(); err != nil {
		return domain.DislikeTag{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dislikeTagKey{userID: userID, targetID: targetID, tagName: tagName}
	if dt, ok := s.dislikeTags[key]; ok {
		return dt, nil
	}
	dt := domain.DislikeTag{
		ID:        s.nextID(),
		UserID:    userID,
		TargetID:  targetID,
		TagName:   tagName,
		CreatedAt: s.now(),
	}
	s.dislikeTags[key] = dt
	return dt, nil
}

func (s *MemoryStore) DislikeTags(ctx context.Context, userID, targetID string) ([]domain.DislikeTag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.DislikeTag
	for key, dt := range s.dislikeTags {
		if key.userID == userID && key.targetID == targetID {
			out = append(out, dt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// ScanCandidates snapshots the eligible users under the read lock, then calls fn without
// holding it so fn may call back into the store.
func (s *MemoryStore) ScanCandidates(ctx context.Context, exclude map[string]struct{}, fn func(domain.Candidate) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	candidates := make([]domain.Candidate, 0, len(s.users))
	for id, user := range s.users {
		if _, skip := exclude[id]; skip {
			continue
		}
		if err := s.checkDim("embedding of user "+id, user.Embedding); err != nil {
			s.mu.RUnlock()
			return err
		}
		names := make([]string, 0, len(s.userTags[id]))
		for _, ut := range s.userTags[id] {
			names = append(names, ut.TagName)
		}
		candidates = append(candidates, domain.Candidate{Profile: cloneUser(user), Tags: names})
	}
	s.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Profile.ID < candidates[j].Profile.ID
	})
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

func (s *MemoryStore) Close() error {
	return nil
}

func sortCounts(counts map[string]int64) []domain.TagCount {
	out := make([]domain.TagCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, domain.TagCount{TagName: name, UserCount: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserCount != out[j].UserCount {
			return out[i].UserCount > out[j].UserCount
		}
		return out[i].TagName < out[j].TagName
	})
	return out
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

func cloneVec(v domain.Vector) domain.Vector {
	if v == nil {
		return nil
	}
	out := make(domain.Vector, len(v))
	copy(out, v)
	return out
}

func cloneUser(u domain.UserProfile) domain.UserProfile {
	u.Embedding = cloneVec(u.Embedding)
	return u
}
