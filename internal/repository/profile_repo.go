package repository

import (
	"context"

	"github.com/ekklesia-app/messaging/internal/models"
)

type ProfileRepository struct {
	db DBTX
}

func NewProfileRepository(db DBTX) *ProfileRepository {
	return &ProfileRepository{db: db}
}

func (r *ProfileRepository) GetByUserID(ctx context.Context, userID string) (*models.Profile, error) {
	query := `
		SELECT user_id, COALESCE(first_name, ''), COALESCE(last_name, ''), updated_at
		FROM profiles
		WHERE user_id = $1
	`
	var profile models.Profile
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&profile.UserID,
		&profile.FirstName,
		&profile.LastName,
		&profile.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// Upsert creates or replaces the user's names. It backs PUT /profile.
func (r *ProfileRepository) Upsert(ctx context.Context, profile *models.Profile) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO profiles (user_id, first_name, last_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id)
		DO UPDATE SET first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			updated_at = NOW()
		RETURNING updated_at
	`, profile.UserID, profile.FirstName, profile.LastName).Scan(&profile.UpdatedAt)
}
