package port

import (
	"context"

	"nemesis/internal/domain"
)

type ProfileStore interface {
	GetUser(ctx context.Context, id string) (domain.UserProfile, error)

	CreateUser(ctx context.Context, profile domain.UserProfile) (domain.UserProfile, error)

	UpdateUser(ctx context.Context, id string, update domain.ProfileUpdate) (domain.UserProfile, error)

	UpdateUserEmbedding(ctx context.Context, id string, vec domain.Vector) error

	// ListUserIDs returns every user id in ascending order.
	ListUserIDs(ctx context.Context) ([]string, error)
}

type TagStore interface {
	UpsertTag(ctx context.Context, name string) error

	// UpsertUserTag is idempotent: an existing association is returned unchanged.
	UpsertUserTag(ctx context.Context, userID, tagName string) (domain.UserTag, error)

	DeleteUserTags(ctx context.Context, userID string, names []string) error

	// GetUserTags returns a user's tags in insertion order.
	GetUserTags(ctx context.Context, userID string) ([]domain.UserTag, error)

	RefreshTagPopularity(ctx context.Context) error

	// TagCounts returns the popularity snapshot taken by the last RefreshTagPopularity,
	// most used first.
	TagCounts(ctx context.Context) ([]domain.TagCount, error)

	FetchTagEmbedding(ctx context.Context, name string) (domain.Vector, bool, error)

	// UpsertTagEmbedding stores vec only when name has no embedding yet.
	UpsertTagEmbedding(ctx context.Context, name string, vec domain.Vector) error

	ListTagEmbeddings(ctx context.Context) ([]domain.TagEmbedding, error)
}

type RelationshipStore interface {
	// InsertRelationship is conflict tolerant on (user, target, kind); a duplicate returns
	// the stored edge.
	InsertRelationship(ctx context.Context, userID, targetID string, kind domain.RelationshipKind) (domain.Relationship, error)

	RelationshipTargets(ctx context.Context, userID string, kind domain.RelationshipKind) ([]string, error)

	// ListRelationships pages through a user's edges of one kind, newest first.
	ListRelationships(ctx context.Context, userID string, kind domain.RelationshipKind, limit, offset int) ([]domain.Relationship, error)

	InsertDislikeTag(ctx context.Context, userID, targetID, tagName string) (domain.DislikeTag, error)

	DislikeTags(ctx context.Context, userID, targetID string) ([]domain.DislikeTag, error)
}

type CandidateSource interface {
	// ScanCandidates calls fn for every user whose id is not in exclude.
	ScanCandidates(ctx context.Context, exclude map[string]struct{}, fn func(domain.Candidate) error) error
}

type Store interface {
	ProfileStore
	TagStore
	RelationshipStore
	CandidateSource

	Close() error
}

// RankQuery describes a discovery page the store ranks itself.
type RankQuery struct {
	RequesterID string
	// Negated is the requester's profile embedding with every component sign-flipped.
	Negated domain.Vector
	Exclude []string
	Limit   int
	Offset  int
}

// TagRanker is implemented by stores that can rank their tag embeddings against a query
// vector without handing every embedding back to the caller.
type TagRanker interface {
	OpposedTags(ctx context.Context, query domain.Vector, exclude string, k int) ([]domain.ScoredTag, error)
}

// CandidateRanker is implemented by stores that can filter and order candidates by the
// composite opposition score server side.
type CandidateRanker interface {
	RankCandidates(ctx context.Context, q RankQuery) ([]domain.ScoredCandidate, error)
}
