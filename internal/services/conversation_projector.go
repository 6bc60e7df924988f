package services

import (
	"context"
	"sort"
	"strings"

	"github.com/ekklesia-app/messaging/internal/models"
	"go.uber.org/zap"
)

const UnknownUserName = "Unknown User"

type ProfileLookup interface {
	GetByUserID(ctx context.Context, userID string) (*models.Profile, error)
}

// ProjectConversations builds the list view for userID from raw rows. It
// never fails: a counterparty whose profile cannot be resolved is shown as
// UnknownUserName.
func ProjectConversations(
	ctx context.Context,
	userID string,
	conversations []models.Conversation,
	latest []models.ChatMessage,
	unread []models.ChatMessage,
	profiles ProfileLookup,
	logger *zap.Logger,
) []models.ConversationSummary {
	latestByConversation := make(map[int64]models.ChatMessage, len(latest))
	for _, message := range latest {
		current, ok := latestByConversation[message.ConversationID]
		if !ok || current.Before(&message) {
			latestByConversation[message.ConversationID] = message
		}
	}

	unreadByConversation := make(map[int64]int)
	for i := range unread {
		if unread[i].IsUnreadFor(userID) {
			unreadByConversation[unread[i].ConversationID]++
		}
	}

	names := make(map[string]string)
	summaries := make([]models.ConversationSummary, 0, len(conversations))
	for _, conversation := range conversations {
		if !conversation.HasParticipant(userID) {
			continue
		}

		otherID := conversation.OtherParticipant(userID)
		name, ok := names[otherID]
		if !ok {
			name = resolveDisplayName(ctx, otherID, profiles, logger)
			names[otherID] = name
		}

		summary := models.ConversationSummary{
			Conversation: conversation,
			OtherUser:    models.OtherUser{ID: otherID, DisplayName: name},
			UnreadCount:  unreadByConversation[conversation.ID],
		}
		if message, ok := latestByConversation[conversation.ID]; ok {
			message := message
			summary.LastMessage = &message
		}
		summaries = append(summaries, summary)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		if summaries[i].UpdatedAt.Equal(summaries[j].UpdatedAt) {
			return summaries[i].ID > summaries[j].ID
		}
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})

	return summaries
}

func resolveDisplayName(ctx context.Context, userID string, profiles ProfileLookup, logger *zap.Logger) string {
	if profiles == nil {
		return UnknownUserName
	}

	profile, err := profiles.GetByUserID(ctx, userID)
	if err != nil {
		logger.Debug("profile lookup failed", zap.String("user_id", userID), zap.Error(err))
		return UnknownUserName
	}
	if profile == nil {
		return UnknownUserName
	}
	return DisplayName(profile)
}

func DisplayName(profile *models.Profile) string {
	name := strings.TrimSpace(strings.TrimSpace(profile.FirstName) + " " + strings.TrimSpace(profile.LastName))
	if name == "" {
		return UnknownUserName
	}
	return name
}
