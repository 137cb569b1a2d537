package usecase

import (
	"context"
	"strings"

	"nemesis/internal/domain"
	"nemesis/internal/port"
)

const defaultRelationshipLimit = 10

// RelationshipUseCase records likes and dislikes between users.
type RelationshipUseCase struct {
	users port.ProfileStore
	tags  port.TagStore
	rels  port.RelationshipStore
	cache port.DiscoveryCache
}

func NewRelationshipUseCase(users port.ProfileStore, tags port.TagStore, rels port.RelationshipStore, cache port.DiscoveryCache) *RelationshipUseCase {
	return &RelationshipUseCase{users: users, tags: tags, rels: rels, cache: cache}
}

// LikeUser records that userID likes targetID. Liking twice returns the first edge.
func (u *RelationshipUseCase) LikeUser(ctx context.Context, userID, targetID string) (domain.Relationship, error) {
	return u.relate(ctx, userID, targetID, domain.Like)
}

// DislikeUser records that userID dislikes targetID. Disliking twice returns the first edge.
func (u *RelationshipUseCase) DislikeUser(ctx context.Context, userID, targetID string) (domain.Relationship, error) {
	return u.relate(ctx, userID, targetID, domain.Dislike)
}

// DislikeUserWithTags records the dislike, then one dislike-tag row per non-empty tag.
// A failure after the dislike is stored leaves the dislike in place.
func (u *RelationshipUseCase) DislikeUserWithTags(ctx context.Context, userID, targetID string, tags []string) (domain.Relationship, []domain.DislikeTag, error) {
	rel, err := u.relate(ctx, userID, targetID, domain.Dislike)
	if err != nil {
		return domain.Relationship{}, nil, err
	}

	var recorded []domain.DislikeTag
	for _, t := range tags {
		name := strings.TrimSpace(t)
		if name == "" {
			continue
		}
		if err := u.tags.UpsertTag(ctx, name); err != nil {
			return rel, recorded, err
		}
		dt, err := u.rels.InsertDislikeTag(ctx, userID, targetID, name)
		if err != nil {
			return rel, recorded, err
		}
		recorded = append(recorded, dt)
	}
	return rel, recorded, nil
}

// ListLiked pages through the users userID liked, newest first.
func (u *RelationshipUseCase) ListLiked(ctx context.Context, userID string, limit, offset int) ([]domain.RelatedUser, error) {
	return u.list(ctx, userID, domain.Like, limit, offset)
}

// ListDisliked pages through the users userID disliked, newest first, with the tags given
// for each dislike.
func (u *RelationshipUseCase) ListDisliked(ctx context.Context, userID string, limit, offset int) ([]domain.RelatedUser, error) {
	return u.list(ctx, userID, domain.Dislike, limit, offset)
}

func (u *RelationshipUseCase) relate(ctx context.Context, userID, targetID string, kind domain.RelationshipKind) (domain.Relationship, error) {
	if targetID == "" {
		return domain.Relationship{}, domain.Validation("target_user_id", "must not be empty")
	}
	if userID == targetID {
		return domain.Relationship{}, domain.Validation("target_user_id", "cannot "+string(kind)+" yourself")
	}
	if _, err := u.users.GetUser(ctx, userID); err != nil {
		return domain.Relationship{}, err
	}
	if _, err := u.users.GetUser(ctx, targetID); err != nil {
		return domain.Relationship{}, err
	}

	rel, err := u.rels.InsertRelationship(ctx, userID, targetID, kind)
	if err != nil {
		return domain.Relationship{}, err
	}
	if u.cache != nil {
		u.cache.Invalidate(ctx)
	}
	return rel, nil
}

func (u *RelationshipUseCase) list(ctx context.Context, userID string, kind domain.RelationshipKind, limit, offset int) ([]domain.RelatedUser, error) {
	if limit < 0 {
		return nil, domain.Validation("limit", "must not be negative")
	}
	if offset < 0 {
		return nil, domain.Validation("offset", "must not be negative")
	}
	if limit == 0 {
		limit = defaultRelationshipLimit
	}
	if _, err := u.users.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	rels, err := u.rels.ListRelationships(ctx, userID, kind, limit, offset)
	if err != nil {
		return nil, err
	}

	out := make([]domain.RelatedUser, 0, len(rels))
	for _, r := range rels {
		profile, err := u.users.GetUser(ctx, r.TargetID)
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		related := domain.RelatedUser{Profile: profile, At: r.CreatedAt}
		if kind == domain.Dislike {
			if related.DislikeTags, err = u.rels.DislikeTags(ctx, userID, r.TargetID); err != nil {
				return nil, err
			}
		}
		out = append(out, related)
	}
	return out, nil
}
