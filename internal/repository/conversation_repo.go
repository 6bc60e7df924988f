package repository

import (
	"context"

	"github.com/ekklesia-app/messaging/internal/models"
	"github.com/jackc/pgx/v5"
)

const conversationColumns = `id, participant_1, participant_2, last_message_at, created_at, updated_at`

type ConversationRepository struct {
	db DBTX
}

func NewConversationRepository(db DBTX) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	var conversation models.Conversation
	err := row.Scan(
		&conversation.ID,
		&conversation.Participant1,
		&conversation.Participant2,
		&conversation.LastMessageAt,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

// FindByPair matches either slot ordering, so (a, b) and (b, a) resolve to
// the same row.
func (r *ConversationRepository) FindByPair(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE (participant_1 = $1 AND participant_2 = $2)
		   OR (participant_1 = $2 AND participant_2 = $1)
		ORDER BY id
		LIMIT 1
	`
	return scanConversation(r.db.QueryRow(ctx, query, userA, userB))
}

func (r *ConversationRepository) Create(ctx context.Context, participant1, participant2 string) (*models.Conversation, error) {
	query := `
		INSERT INTO conversations (participant_1, participant_2)
		VALUES ($1, $2)
		RETURNING ` + conversationColumns

	conversation, err := scanConversation(r.db.QueryRow(ctx, query, participant1, participant2))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConversationExists
		}
		return nil, err
	}
	return conversation, nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, conversationID int64) (*models.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE id = $1
	`
	return scanConversation(r.db.QueryRow(ctx, query, conversationID))
}

func (r *ConversationRepository) ListForParticipant(ctx context.Context, participantID string) ([]models.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE participant_1 = $1 OR participant_2 = $1
		ORDER BY updated_at DESC, id DESC
	`

	rows, err := r.db.Query(ctx, query, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		conversation, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, *conversation)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return conversations, nil
}

// Touch records message activity on the conversation.
func (r *ConversationRepository) Touch(ctx context.Context, conversationID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET last_message_at = NOW(),
			updated_at = NOW()
		WHERE id = $1
	`, conversationID)
	return err
}
