package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ekklesia-app/messaging/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type countingProfiles struct {
	profiles map[string]models.Profile
	calls    int
}

func (c *countingProfiles) GetByUserID(_ context.Context, userID string) (*models.Profile, error) {
	c.calls++
	profile, ok := c.profiles[userID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &profile, nil
}

func (c *countingProfiles) Upsert(_ context.Context, profile *models.Profile) error {
	c.profiles[profile.UserID] = *profile
	return nil
}

func TestCachedProfileRepositoryFallsBackWhenRedisIsDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	next := &countingProfiles{profiles: map[string]models.Profile{"bob": {UserID: "bob", FirstName: "Bob"}}}
	repo := NewCachedProfileRepository(next, client, time.Minute, zap.NewNop())

	profile, err := repo.GetByUserID(context.Background(), "bob")
	if err != nil {
		t.Fatalf("GetByUserID: %v", err)
	}
	if profile.FirstName != "Bob" {
		t.Fatalf("unexpected profile: %+v", profile)
	}

	if _, err := repo.GetByUserID(context.Background(), "ghost"); err != pgx.ErrNoRows {
		t.Fatalf("expected pgx.ErrNoRows, got %v", err)
	}
	if next.calls != 2 {
		t.Fatalf("expected 2 database reads, got %d", next.calls)
	}
}

func TestCachedProfileRepositoryServesFromCache(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("skipping cache test: REDIS_URL is not set")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		t.Fatalf("ParseURL: %v", err)
	}
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	userID := testUserID("cached")
	t.Cleanup(func() { client.Del(context.Background(), profileKey(userID)) })

	next := &countingProfiles{profiles: map[string]models.Profile{userID: {UserID: userID, FirstName: "Cached"}}}
	repo := NewCachedProfileRepository(next, client, time.Minute, zap.NewNop())

	for i := 0; i < 3; i++ {
		profile, err := repo.GetByUserID(context.Background(), userID)
		if err != nil {
			t.Fatalf("GetByUserID: %v", err)
		}
		if profile.FirstName != "Cached" {
			t.Fatalf("unexpected profile: %+v", profile)
		}
	}
	if next.calls != 1 {
		t.Fatalf("expected a single database read, got %d", next.calls)
	}

	if err := repo.Upsert(context.Background(), &models.Profile{UserID: userID, FirstName: "Renamed"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	profile, err := repo.GetByUserID(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetByUserID after upsert: %v", err)
	}
	if profile.FirstName != "Renamed" || next.calls != 2 {
		t.Fatalf("expected evicted entry to be reloaded, got %+v after %d reads", profile, next.calls)
	}
}
