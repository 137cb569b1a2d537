package usecase

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"nemesis/internal/domain"
	"nemesis/internal/port"
)

// DefaultAvatarURL is assigned to every new profile.
const DefaultAvatarURL = "https://archenemy.nyc3.digitaloceanspaces.com/default.jpeg"

// ProfileUseCase handles profile reads and updates.
type ProfileUseCase struct {
	store      port.ProfileStore
	maintainer *Maintainer
	locks      *userLocks
	cache      port.DiscoveryCache
}

func NewProfileUseCase(store port.ProfileStore, maintainer *Maintainer, locks *userLocks, cache port.DiscoveryCache) *ProfileUseCase {
	return &ProfileUseCase{store: store, maintainer: maintainer, locks: locks, cache: cache}
}

// GetOrCreateCurrentProfile returns userID's profile, creating it with a random username
// and the default avatar if it does not exist yet. The embedding stays absent until first
// needed. A new user is a candidate for everyone else, so creation invalidates cached
// discovery pages.
func (u *ProfileUseCase) GetOrCreateCurrentProfile(ctx context.Context, userID string) (domain.UserProfile, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.UserProfile{}, domain.Validation("user_id", "must not be empty")
	}

	profile, err := u.store.GetUser(ctx, userID)
	if err == nil {
		return profile, nil
	}
	if !isNotFound(err) {
		return domain.UserProfile{}, err
	}

	created, err := u.store.CreateUser(ctx, domain.UserProfile{
		ID:        userID,
		Username:  RandomUsername(),
		AvatarURL: DefaultAvatarURL,
	})
	if err != nil {
		return domain.UserProfile{}, err
	}
	if u.cache != nil {
		u.cache.Invalidate(ctx)
	}
	return created, nil
}

// GetProfile returns any user's profile.
func (u *ProfileUseCase) GetProfile(ctx context.Context, userID string) (domain.UserProfile, error) {
	return u.store.GetUser(ctx, userID)
}

// UpdateProfile applies the non-nil fields of update, then refreshes the profile embedding.
func (u *ProfileUseCase) UpdateProfile(ctx context.Context, userID string, update domain.ProfileUpdate) (domain.UserProfile, error) {
	if update.Username != nil && strings.TrimSpace(*update.Username) == "" {
		return domain.UserProfile{}, domain.Validation("username", "must not be empty")
	}

	unlock := u.locks.Lock(userID)
	defer unlock()

	updated, err := u.store.UpdateUser(ctx, userID, update)
	if err != nil {
		return domain.UserProfile{}, err
	}
	u.maintainer.Refresh(ctx, userID)

	if fresh, err := u.store.GetUser(ctx, userID); err == nil {
		return fresh, nil
	}
	return updated, nil
}

// RandomUsername returns user_ followed by a random uuid in hex.
func RandomUsername() string {
	return "user_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
