package repository

import (
	"context"
	"time"

	"github.com/ekklesia-app/messaging/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ChatStore is the Postgres-backed conversation store. Multi-statement
// operations run in a single transaction.
type ChatStore struct {
	db               *pgxpool.Pool
	conversationRepo *ConversationRepository
	messageRepo      *MessageRepository

	// afterHistoryLoad runs between the history read and the read mark.
	afterHistoryLoad func(ctx context.Context)
}

func NewChatStore(db *pgxpool.Pool) *ChatStore {
	return &ChatStore{
		db:               db,
		conversationRepo: NewConversationRepository(db),
		messageRepo:      NewMessageRepository(db),
	}
}

func (s *ChatStore) FindConversationByPair(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	return s.conversationRepo.FindByPair(ctx, userA, userB)
}

func (s *ChatStore) CreateConversation(ctx context.Context, participant1, participant2 string) (*models.Conversation, error) {
	return s.conversationRepo.Create(ctx, participant1, participant2)
}

func (s *ChatStore) GetConversation(ctx context.Context, conversationID int64) (*models.Conversation, error) {
	return s.conversationRepo.GetByID(ctx, conversationID)
}

func (s *ChatStore) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	return s.conversationRepo.ListForParticipant(ctx, userID)
}

func (s *ChatStore) ListLatestMessages(ctx context.Context, userID string) ([]models.ChatMessage, error) {
	return s.messageRepo.ListLatestForParticipant(ctx, userID)
}

func (s *ChatStore) ListUnreadMessages(ctx context.Context, userID string) ([]models.ChatMessage, error) {
	return s.messageRepo.ListUnreadForParticipant(ctx, userID)
}

func (s *ChatStore) GetMessage(ctx context.Context, messageID int64) (*models.ChatMessage, error) {
	return s.messageRepo.GetByID(ctx, messageID)
}

// LoadAndMarkRead loads the history and reconciles the reader's unread
// messages in one repeatable-read transaction, so the read mark covers
// exactly the rows returned. Returned rows carry the new read_at values.
func (s *ChatStore) LoadAndMarkRead(
	ctx context.Context,
	conversationID int64,
	readerID string,
) ([]models.ChatMessage, error) {
	messages, err := s.loadAndMarkRead(ctx, conversationID, readerID)
	if isSerializationFailure(err) {
		// A concurrent read mark touched the same rows.
		messages, err = s.loadAndMarkRead(ctx, conversationID, readerID)
	}
	return messages, err
}

func (s *ChatStore) loadAndMarkRead(
	ctx context.Context,
	conversationID int64,
	readerID string,
) ([]models.ChatMessage, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txMessageRepo := NewMessageRepository(tx)

	messages, err := txMessageRepo.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if s.afterHistoryLoad != nil {
		s.afterHistoryLoad(ctx)
	}

	marked, err := txMessageRepo.MarkConversationRead(ctx, conversationID, readerID)
	if err != nil {
		return nil, err
	}
	applyReadMarks(messages, marked)

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return messages, nil
}

// InsertMessage persists the message and touches the conversation's
// activity timestamps.
func (s *ChatStore) InsertMessage(
	ctx context.Context,
	conversationID int64,
	senderID string,
	content string,
) (*models.ChatMessage, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	message, err := NewMessageRepository(tx).Create(ctx, conversationID, senderID, content)
	if err != nil {
		return nil, err
	}

	if err := NewConversationRepository(tx).Touch(ctx, conversationID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return message, nil
}

func (s *ChatStore) MarkMessagesRead(ctx context.Context, messageIDs []int64, readerID string) (map[int64]time.Time, error) {
	return s.messageRepo.MarkMessagesRead(ctx, messageIDs, readerID)
}

func applyReadMarks(messages []models.ChatMessage, marked map[int64]time.Time) {
	for i := range messages {
		if readAt, ok := marked[messages[i].ID]; ok {
			readAt := readAt
			messages[i].ReadAt = &readAt
		}
	}
}
