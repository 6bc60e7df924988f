package services

import (
	"context"
	"errors"
	"strings"

	"github.com/ekklesia-app/messaging/internal/models"
	"github.com/jackc/pgx/v5"
)

// ProfileStore adds the write side used by the profile API to ProfileLookup.
type ProfileStore interface {
	ProfileLookup
	Upsert(ctx context.Context, profile *models.Profile) error
}

// UpdateProfileInput is a partial update; nil fields keep their value.
type UpdateProfileInput struct {
	FirstName *string
	LastName  *string
}

type ProfileService struct {
	store ProfileStore
}

func NewProfileService(store ProfileStore) *ProfileService {
	return &ProfileService{store: store}
}

func (s *ProfileService) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	if userID == "" {
		return nil, ErrInvalidInput
	}
	profile, err := s.store.GetByUserID(ctx, userID)
	if err != nil {
		return nil, storeError(err)
	}
	return profile, nil
}

// UpdateProfile creates the profile on first write.
func (s *ProfileService) UpdateProfile(ctx context.Context, userID string, input UpdateProfileInput) (*models.Profile, error) {
	if userID == "" {
		return nil, ErrInvalidInput
	}

	profile, err := s.store.GetByUserID(ctx, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		profile = &models.Profile{UserID: userID}
	} else if err != nil {
		return nil, storeError(err)
	}

	if input.FirstName != nil {
		profile.FirstName = strings.TrimSpace(*input.FirstName)
	}
	if input.LastName != nil {
		profile.LastName = strings.TrimSpace(*input.LastName)
	}

	if err := s.store.Upsert(ctx, profile); err != nil {
		return nil, storeError(err)
	}
	return profile, nil
}
