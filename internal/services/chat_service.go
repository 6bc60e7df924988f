package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ekklesia-app/messaging/internal/models"
	"github.com/ekklesia-app/messaging/internal/realtime"
	"github.com/ekklesia-app/messaging/internal/repository"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ConversationStore is the persistence boundary for conversations and
// messages. Missing rows are reported as pgx.ErrNoRows and pair collisions
// on create as repository.ErrConversationExists.
type ConversationStore interface {
	FindConversationByPair(ctx context.Context, userA, userB string) (*models.Conversation, error)
	CreateConversation(ctx context.Context, participant1, participant2 string) (*models.Conversation, error)
	GetConversation(ctx context.Context, conversationID int64) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	ListLatestMessages(ctx context.Context, userID string) ([]models.ChatMessage, error)
	ListUnreadMessages(ctx context.Context, userID string) ([]models.ChatMessage, error)
	LoadAndMarkRead(ctx context.Context, conversationID int64, readerID string) ([]models.ChatMessage, error)
	InsertMessage(ctx context.Context, conversationID int64, senderID string, content string) (*models.ChatMessage, error)
	MarkMessagesRead(ctx context.Context, messageIDs []int64, readerID string) (map[int64]time.Time, error)
}

type ChatOptions struct {
	TypingExpiry time.Duration
	TypingIdle   time.Duration
	// ReadOnArrival marks counterparty messages read as they stream into an
	// open conversation instead of waiting for the next open.
	ReadOnArrival bool
}

type ChatService struct {
	store     ConversationStore
	profiles  ProfileLookup
	hub       *realtime.Hub
	publisher realtime.Publisher
	logger    *zap.Logger
	opts      ChatOptions
}

func NewChatService(
	store ConversationStore,
	profiles ProfileLookup,
	hub *realtime.Hub,
	publisher realtime.Publisher,
	logger *zap.Logger,
	opts ChatOptions,
) *ChatService {
	if opts.TypingExpiry <= 0 {
		opts.TypingExpiry = DefaultTypingExpiry
	}
	if opts.TypingIdle <= 0 {
		opts.TypingIdle = DefaultTypingIdle
	}
	if publisher == nil {
		publisher = hub
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ChatService{
		store:     store,
		profiles:  profiles,
		hub:       hub,
		publisher: publisher,
		logger:    logger,
		opts:      opts,
	}
}

// ListConversations returns the user's conversations, most recently active
// first. On store failure it returns an empty list with the error.
func (s *ChatService) ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	empty := []models.ConversationSummary{}
	if userID == "" {
		return empty, ErrInvalidInput
	}

	conversations, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		s.logger.Error("list conversations failed", zap.String("user_id", userID), zap.Error(err))
		return empty, storeError(err)
	}
	if len(conversations) == 0 {
		return empty, nil
	}

	latest, err := s.store.ListLatestMessages(ctx, userID)
	if err != nil {
		s.logger.Error("list latest messages failed", zap.String("user_id", userID), zap.Error(err))
		return empty, storeError(err)
	}

	unread, err := s.store.ListUnreadMessages(ctx, userID)
	if err != nil {
		s.logger.Error("list unread messages failed", zap.String("user_id", userID), zap.Error(err))
		return empty, storeError(err)
	}

	return ProjectConversations(ctx, userID, conversations, latest, unread, s.profiles, s.logger), nil
}

// StartOrGetConversation returns the conversation for the unordered pair,
// creating it when absent. A concurrent create for the same pair resolves to
// the row that won.
func (s *ChatService) StartOrGetConversation(
	ctx context.Context,
	currentUserID string,
	otherUserID string,
) (*models.Conversation, error) {
	currentUserID = strings.TrimSpace(currentUserID)
	otherUserID = strings.TrimSpace(otherUserID)
	if currentUserID == "" || otherUserID == "" || currentUserID == otherUserID {
		return nil, ErrInvalidInput
	}

	conversation, err := s.store.FindConversationByPair(ctx, currentUserID, otherUserID)
	if err == nil {
		return conversation, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, storeError(err)
	}

	conversation, err = s.store.CreateConversation(ctx, currentUserID, otherUserID)
	if err == nil {
		s.logger.Info("conversation created",
			zap.Int64("conversation_id", conversation.ID),
			zap.String("participant_1", currentUserID),
			zap.String("participant_2", otherUserID),
		)
		return conversation, nil
	}
	if !errors.Is(err, repository.ErrConversationExists) {
		return nil, storeError(err)
	}

	s.logger.Debug("conversation create raced, re-reading pair",
		zap.String("participant_1", currentUserID),
		zap.String("participant_2", otherUserID),
	)
	conversation, err = s.store.FindConversationByPair(ctx, currentUserID, otherUserID)
	if err != nil {
		return nil, storeError(err)
	}
	return conversation, nil
}

func (s *ChatService) participantConversation(ctx context.Context, conversationID int64, userID string) (*models.Conversation, error) {
	if conversationID <= 0 || userID == "" {
		return nil, ErrInvalidInput
	}

	conversation, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, storeError(err)
	}
	if !conversation.HasParticipant(userID) {
		return nil, ErrForbidden
	}
	return conversation, nil
}

// LoadConversation returns the full history in created_at order and marks
// the reader's unread messages as read.
func (s *ChatService) LoadConversation(ctx context.Context, conversationID int64, readerID string) ([]models.ChatMessage, error) {
	if _, err := s.participantConversation(ctx, conversationID, readerID); err != nil {
		return nil, err
	}
	return s.loadHistory(ctx, conversationID, readerID)
}

func (s *ChatService) loadHistory(ctx context.Context, conversationID int64, readerID string) ([]models.ChatMessage, error) {
	messages, err := s.store.LoadAndMarkRead(ctx, conversationID, readerID)
	if err != nil {
		s.logger.Error("load conversation failed",
			zap.Int64("conversation_id", conversationID),
			zap.Error(err),
		)
		return nil, storeError(err)
	}
	sortMessages(messages)
	return messages, nil
}

// SendMessage validates and persists a message. Delivery to open clients,
// the sender included, happens through the message stream.
func (s *ChatService) SendMessage(
	ctx context.Context,
	conversationID int64,
	senderID string,
	content string,
) (*models.ChatMessage, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, ErrEmptyContent
	}

	if _, err := s.participantConversation(ctx, conversationID, senderID); err != nil {
		return nil, err
	}

	message, err := s.store.InsertMessage(ctx, conversationID, senderID, trimmed)
	if err != nil {
		s.logger.Error("insert message failed",
			zap.Int64("conversation_id", conversationID),
			zap.String("sender_id", senderID),
			zap.Error(err),
		)
		return nil, storeError(err)
	}
	return message, nil
}

func (s *ChatService) markRead(ctx context.Context, messageIDs []int64, readerID string) (map[int64]time.Time, error) {
	marked, err := s.store.MarkMessagesRead(ctx, messageIDs, readerID)
	if err != nil {
		return nil, storeError(err)
	}
	return marked, nil
}

func FormatChatTimestamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339)
}
