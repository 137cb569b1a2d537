package domain

import "time"

// Vector is a fixed-dimension embedding.
type Vector []float32

type UserProfile struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name,omitempty"`
	AvatarURL   string    `json:"avatar_url"`
	Bio         string    `json:"bio"`
	Embedding   Vector    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasEmbedding reports whether the profile embedding has been computed.
func (u UserProfile) HasEmbedding() bool {
	return len(u.Embedding) > 0
}

// ProfileUpdate carries the optional profile fields of an update; nil fields are left as is.
type ProfileUpdate struct {
	Username    *string `json:"username,omitempty"`
	DisplayName *string `json:"display_name,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
	Bio         *string `json:"bio,omitempty"`
}

type UserTag struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	TagName   string    `json:"tag_name"`
	CreatedAt time.Time `json:"created_at"`
}

type TagCount struct {
	TagName   string `json:"tag_name"`
	UserCount int64  `json:"user_count"`
}

type TagEmbedding struct {
	Name   string
	Vector Vector
}

// ScoredTag is a tag ranked by how strongly it opposes a query tag.
type ScoredTag struct {
	TagName      string  `json:"tag_name"`
	NemesisScore float64 `json:"nemesis_score"`
}

type RelationshipKind string

const (
	Like    RelationshipKind = "like"
	Dislike RelationshipKind = "dislike"
)

type Relationship struct {
	ID        int64            `json:"id"`
	UserID    string           `json:"user_id"`
	TargetID  string           `json:"target_user_id"`
	Kind      RelationshipKind `json:"kind"`
	CreatedAt time.Time        `json:"created_at"`
}

type DislikeTag struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	TargetID  string    `json:"target_user_id"`
	TagName   string    `json:"tag_name"`
	CreatedAt time.Time `json:"created_at"`
}

// Candidate is a user considered during discovery, with the tag names needed for scoring.
type Candidate struct {
	Profile UserProfile
	Tags    []string
}

// ScoredCandidate is one row of a discovery page.
type ScoredCandidate struct {
	Profile UserProfile `json:"user"`
	Tags    []string    `json:"tags"`
	Score   float64     `json:"compatibility_score"`
}

// RelatedUser is a liked or disliked user with the time the relationship was recorded.
type RelatedUser struct {
	Profile     UserProfile  `json:"user"`
	At          time.Time    `json:"at"`
	DislikeTags []DislikeTag `json:"dislike_tags,omitempty"`
}
