package usecase

import (
	"context"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"

	"nemesis/internal/adapter/scorer"
	"nemesis/internal/domain"
	"nemesis/internal/port"
)

const defaultNemesisTagLimit = 10

// TagUseCase manages a user's tags and the global tag catalogue.
type TagUseCase struct {
	users      port.ProfileStore
	tags       port.TagStore
	agg        *Aggregator
	maintainer *Maintainer
	locks      *userLocks
	log        zerolog.Logger
}

func NewTagUseCase(users port.ProfileStore, tags port.TagStore, agg *Aggregator, maintainer *Maintainer, locks *userLocks, log zerolog.Logger) *TagUseCase {
	return &TagUseCase{
		users:      users,
		tags:       tags,
		agg:        agg,
		maintainer: maintainer,
		locks:      locks,
		log:        log,
	}
}

// AddTag attaches tag to userID and refreshes the profile embedding. Adding a tag the user
// already has returns the existing association.
func (u *TagUseCase) AddTag(ctx context.Context, userID, tag string) (domain.UserTag, error) {
	name := strings.TrimSpace(tag)
	if name == "" {
		return domain.UserTag{}, domain.Validation("tag_name", "must not be empty")
	}
	if _, err := u.users.GetUser(ctx, userID); err != nil {
		return domain.UserTag{}, err
	}

	unlock := u.locks.Lock(userID)
	defer unlock()

	if err := u.tags.UpsertTag(ctx, name); err != nil {
		return domain.UserTag{}, err
	}
	ut, err := u.tags.UpsertUserTag(ctx, userID, name)
	if err != nil {
		return domain.UserTag{}, err
	}
	u.refreshPopularity(ctx)
	u.maintainer.Refresh(ctx, userID)
	return ut, nil
}

// RemoveTags detaches names from userID in one batch and refreshes the profile embedding.
// Names the user does not have are ignored.
func (u *TagUseCase) RemoveTags(ctx context.Context, userID string, names []string) error {
	cleaned := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			cleaned = append(cleaned, n)
		}
	}
	if len(cleaned) == 0 {
		return domain.Validation("tag_names", "at least one tag is required")
	}
	if _, err := u.users.GetUser(ctx, userID); err != nil {
		return err
	}

	unlock := u.locks.Lock(userID)
	defer unlock()

	if err := u.tags.DeleteUserTags(ctx, userID, cleaned); err != nil {
		return err
	}
	u.refreshPopularity(ctx)
	u.maintainer.Refresh(ctx, userID)
	return nil
}

// ListUserTags returns userID's tags in the order they were added.
func (u *TagUseCase) ListUserTags(ctx context.Context, userID string) ([]domain.UserTag, error) {
	if _, err := u.users.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return u.tags.GetUserTags(ctx, userID)
}

// ListTags returns the popularity snapshot, most used first. A non-empty pattern keeps only
// tag names matching it as a doublestar glob.
func (u *TagUseCase) ListTags(ctx context.Context, pattern string) ([]domain.TagCount, error) {
	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		return nil, domain.Validation("pattern", "invalid glob "+pattern)
	}
	counts, err := u.tags.TagCounts(ctx)
	if err != nil {
		return nil, err
	}
	if pattern == "" {
		return counts, nil
	}

	filtered := counts[:0:0]
	for _, c := range counts {
		if ok, _ := doublestar.Match(pattern, c.TagName); ok {
			filtered = append(filtered, c)
		}
	}
	return filtered, nil
}

// NemesisTags ranks every known tag by how strongly it opposes tag, excluding tag itself.
func (u *TagUseCase) NemesisTags(ctx context.Context, tag string, limit int) ([]domain.ScoredTag, error) {
	name := strings.TrimSpace(tag)
	if name == "" {
		return nil, domain.Validation("tag_name", "must not be empty")
	}
	if limit < 0 {
		return nil, domain.Validation("limit", "must not be negative")
	}
	if limit == 0 {
		limit = defaultNemesisTagLimit
	}

	query, err := u.agg.EnsureTagEmbedding(ctx, name)
	if err != nil {
		return nil, err
	}

	if ranker, ok := u.tags.(port.TagRanker); ok {
		return ranker.OpposedTags(ctx, query, name, limit)
	}

	all, err := u.tags.ListTagEmbeddings(ctx)
	if err != nil {
		return nil, err
	}
	top := scorer.NewTopK(limit)
	for _, te := range all {
		if te.Name == name {
			continue
		}
		top.Push(scorer.Ranked{ID: te.Name, Score: scorer.Opposition(query, te.Vector)})
	}

	ranked := top.Sorted()
	out := make([]domain.ScoredTag, len(ranked))
	for i, r := range ranked {
		out[i] = domain.ScoredTag{TagName: r.ID, NemesisScore: r.Score}
	}
	return out, nil
}

// refreshPopularity is best-effort; a stale snapshot only affects tag listings.
func (u *TagUseCase) refreshPopularity(ctx context.Context) {
	if err := u.tags.RefreshTagPopularity(ctx); err != nil {
		u.log.Warn().Err(err).Msg("tag popularity refresh failed")
	}
}
