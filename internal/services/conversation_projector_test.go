package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ekklesia-app/messaging/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestProjectConversationsOrderingAndPreview(t *testing.T) {
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	conversations := []models.Conversation{
		{ID: 1, Participant1: "alice", Participant2: "bob", UpdatedAt: base},
		{ID: 2, Participant1: "carol", Participant2: "alice", UpdatedAt: base.Add(time.Hour)},
		{ID: 3, Participant1: "alice", Participant2: "dave", UpdatedAt: base.Add(time.Hour)},
		{ID: 4, Participant1: "erin", Participant2: "frank", UpdatedAt: base.Add(2 * time.Hour)},
	}
	latest := []models.ChatMessage{
		{ID: 10, ConversationID: 1, SenderID: "bob", Content: "older", CreatedAt: base.Add(-time.Minute)},
		{ID: 11, ConversationID: 1, SenderID: "alice", Content: "newest", CreatedAt: base},
	}
	unread := []models.ChatMessage{
		{ID: 10, ConversationID: 1, SenderID: "bob"},
		{ID: 12, ConversationID: 2, SenderID: "carol"},
		{ID: 13, ConversationID: 2, SenderID: "carol"},
		{ID: 14, ConversationID: 2, SenderID: "alice"},
	}
	profiles := newStubProfiles(models.Profile{UserID: "carol", FirstName: "Carol"})

	summaries := ProjectConversations(context.Background(), "alice", conversations, latest, unread, profiles, zap.NewNop())
	require.Len(t, summaries, 3, "conversations without the user are skipped")

	ids := []int64{summaries[0].ID, summaries[1].ID, summaries[2].ID}
	assert.Equal(t, []int64{3, 2, 1}, ids)

	assert.Equal(t, "Carol", summaries[1].OtherUser.DisplayName)
	assert.Equal(t, 2, summaries[1].UnreadCount)
	assert.Nil(t, summaries[1].LastMessage)

	assert.Equal(t, "bob", summaries[2].OtherUser.ID)
	require.NotNil(t, summaries[2].LastMessage)
	assert.Equal(t, "newest", summaries[2].LastMessage.Content)
	assert.Equal(t, 1, summaries[2].UnreadCount)
}

func TestProjectConversationsUnknownUserFallback(t *testing.T) {
	conversations := []models.Conversation{
		{ID: 1, Participant1: "alice", Participant2: "ghost"},
		{ID: 2, Participant1: "alice", Participant2: "blank"},
	}
	profiles := newStubProfiles(models.Profile{UserID: "blank", FirstName: "  ", LastName: ""})

	summaries := ProjectConversations(context.Background(), "alice", conversations, nil, nil, profiles, zap.NewNop())
	require.Len(t, summaries, 2)
	for _, summary := range summaries {
		assert.Equal(t, UnknownUserName, summary.OtherUser.DisplayName)
	}

	failing := newStubProfiles()
	failing.err = errors.New("timeout")
	summaries = ProjectConversations(context.Background(), "alice", conversations, nil, nil, failing, zap.NewNop())
	for _, summary := range summaries {
		assert.Equal(t, UnknownUserName, summary.OtherUser.DisplayName)
	}

	summaries = ProjectConversations(context.Background(), "alice", conversations, nil, nil, nil, zap.NewNop())
	assert.Len(t, summaries, 2)
}

func TestProjectConversationsLooksUpEachCounterpartyOnce(t *testing.T) {
	conversations := []models.Conversation{
		{ID: 1, Participant1: "alice", Participant2: "bob"},
		{ID: 2, Participant1: "bob", Participant2: "alice"},
	}
	profiles := newStubProfiles(models.Profile{UserID: "bob", FirstName: "Bob"})

	ProjectConversations(context.Background(), "alice", conversations, nil, nil, profiles, zap.NewNop())
	assert.Equal(t, 1, profiles.lookups["bob"])
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name    string
		profile models.Profile
		want    string
	}{
		{name: "full", profile: models.Profile{FirstName: "Ada", LastName: "Lovelace"}, want: "Ada Lovelace"},
		{name: "first only", profile: models.Profile{FirstName: " Ada "}, want: "Ada"},
		{name: "last only", profile: models.Profile{LastName: "Lovelace"}, want: "Lovelace"},
		{name: "empty", profile: models.Profile{}, want: UnknownUserName},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			profile := tc.profile
			assert.Equal(t, tc.want, DisplayName(&profile))
		})
	}
}
