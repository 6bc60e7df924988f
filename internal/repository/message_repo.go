package repository

import (
	"context"
	"time"

	"github.com/ekklesia-app/messaging/internal/models"
	"github.com/jackc/pgx/v5"
)

const messageColumns = `id, conversation_id, sender_id, content, created_at, read_at`

type MessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

func scanMessage(row pgx.Row) (*models.ChatMessage, error) {
	var message models.ChatMessage
	err := row.Scan(
		&message.ID,
		&message.ConversationID,
		&message.SenderID,
		&message.Content,
		&message.CreatedAt,
		&message.ReadAt,
	)
	if err != nil {
		return nil, err
	}
	return &message, nil
}

func collectMessages(rows pgx.Rows) ([]models.ChatMessage, error) {
	defer rows.Close()

	messages := make([]models.ChatMessage, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *message)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}

func (r *MessageRepository) Create(
	ctx context.Context,
	conversationID int64,
	senderID string,
	content string,
) (*models.ChatMessage, error) {
	query := `
		INSERT INTO messages (conversation_id, sender_id, content)
		VALUES ($1, $2, $3)
		RETURNING ` + messageColumns

	return scanMessage(r.db.QueryRow(ctx, query, conversationID, senderID, content))
}

func (r *MessageRepository) GetByID(ctx context.Context, messageID int64) (*models.ChatMessage, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE id = $1
	`
	return scanMessage(r.db.QueryRow(ctx, query, messageID))
}

// ListByConversation returns the full history, oldest first.
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID int64) ([]models.ChatMessage, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// ListLatestForParticipant returns the newest message of every conversation
// the participant belongs to.
func (r *MessageRepository) ListLatestForParticipant(ctx context.Context, participantID string) ([]models.ChatMessage, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT ON (m.conversation_id)
			m.id, m.conversation_id, m.sender_id, m.content, m.created_at, m.read_at
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.participant_1 = $1 OR c.participant_2 = $1
		ORDER BY m.conversation_id, m.created_at DESC, m.id DESC
	`, participantID)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func (r *MessageRepository) ListUnreadForParticipant(ctx context.Context, participantID string) ([]models.ChatMessage, error) {
	rows, err := r.db.Query(ctx, `
		SELECT m.id, m.conversation_id, m.sender_id, m.content, m.created_at, m.read_at
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE (c.participant_1 = $1 OR c.participant_2 = $1)
		  AND m.sender_id <> $1
		  AND m.read_at IS NULL
	`, participantID)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func collectReadMarks(rows pgx.Rows) (map[int64]time.Time, error) {
	defer rows.Close()

	marked := make(map[int64]time.Time)
	for rows.Next() {
		var id int64
		var readAt time.Time
		if err := rows.Scan(&id, &readAt); err != nil {
			return nil, err
		}
		marked[id] = readAt
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return marked, nil
}

// MarkConversationRead stamps every unread message not sent by the reader.
// read_at is only ever set while NULL.
func (r *MessageRepository) MarkConversationRead(
	ctx context.Context,
	conversationID int64,
	readerID string,
) (map[int64]time.Time, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE messages
		SET read_at = NOW()
		WHERE conversation_id = $1
		  AND sender_id <> $2
		  AND read_at IS NULL
		RETURNING id, read_at
	`, conversationID, readerID)
	if err != nil {
		return nil, err
	}
	return collectReadMarks(rows)
}

func (r *MessageRepository) MarkMessagesRead(
	ctx context.Context,
	messageIDs []int64,
	readerID string,
) (map[int64]time.Time, error) {
	if len(messageIDs) == 0 {
		return map[int64]time.Time{}, nil
	}
	rows, err := r.db.Query(ctx, `
		UPDATE messages
		SET read_at = NOW()
		WHERE id = ANY($1)
		  AND sender_id <> $2
		  AND read_at IS NULL
		RETURNING id, read_at
	`, messageIDs, readerID)
	if err != nil {
		return nil, err
	}
	return collectReadMarks(rows)
}
