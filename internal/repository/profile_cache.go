package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ekklesia-app/messaging/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type profileBackend interface {
	GetByUserID(ctx context.Context, userID string) (*models.Profile, error)
	Upsert(ctx context.Context, profile *models.Profile) error
}

// CachedProfileRepository is a read-through Redis cache in front of the
// profiles table. Cache failures fall back to the database.
type CachedProfileRepository struct {
	next   profileBackend
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedProfileRepository(next profileBackend, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedProfileRepository {
	return &CachedProfileRepository{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func profileKey(userID string) string {
	return fmt.Sprintf("profile:%s", userID)
}

func (r *CachedProfileRepository) GetByUserID(ctx context.Context, userID string) (*models.Profile, error) {
	key := profileKey(userID)

	cached, err := r.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var profile models.Profile
		if err := json.Unmarshal(cached, &profile); err == nil {
			return &profile, nil
		}
		r.logger.Warn("discarding malformed cached profile", zap.String("user_id", userID))
	case !errors.Is(err, redis.Nil):
		r.logger.Warn("profile cache read failed", zap.String("user_id", userID), zap.Error(err))
	}

	profile, err := r.next.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(profile)
	if err != nil {
		return profile, nil
	}
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		r.logger.Warn("profile cache write failed", zap.String("user_id", userID), zap.Error(err))
	}

	return profile, nil
}

// Upsert writes through to the database and evicts the cached entry.
func (r *CachedProfileRepository) Upsert(ctx context.Context, profile *models.Profile) error {
	if err := r.next.Upsert(ctx, profile); err != nil {
		return err
	}
	if err := r.client.Del(ctx, profileKey(profile.UserID)).Err(); err != nil {
		r.logger.Warn("profile cache eviction failed", zap.String("user_id", profile.UserID), zap.Error(err))
	}
	return nil
}
