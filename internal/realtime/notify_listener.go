package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ekklesia-app/messaging/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// MessageNotifyChannel is the channel the messages insert trigger notifies.
const MessageNotifyChannel = "chat_messages"

const (
	minReconnectBackoff = 500 * time.Millisecond
	maxReconnectBackoff = 30 * time.Second
)

type messageFetcher interface {
	GetMessage(ctx context.Context, messageID int64) (*models.ChatMessage, error)
}

// notifyPayload is the trigger's JSON. Rows too large for a NOTIFY payload
// arrive with Truncated set and only the keys filled in.
type notifyPayload struct {
	models.ChatMessage
	Truncated bool `json:"truncated"`
}

// NotifyListener turns Postgres insert notifications on the messages table
// into message events on the Hub.
type NotifyListener struct {
	pool      *pgxpool.Pool
	publisher Publisher
	fetcher   messageFetcher
	channel   string
	logger    *zap.Logger
}

func NewNotifyListener(pool *pgxpool.Pool, publisher Publisher, fetcher messageFetcher, logger *zap.Logger) *NotifyListener {
	return &NotifyListener{
		pool:      pool,
		publisher: publisher,
		fetcher:   fetcher,
		channel:   MessageNotifyChannel,
		logger:    logger,
	}
}

// Run listens until ctx is cancelled, reconnecting with backoff.
func (l *NotifyListener) Run(ctx context.Context) {
	backoff := minReconnectBackoff
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return
		}

		l.logger.Warn("message listener disconnected",
			zap.Error(err),
			zap.Duration("retry_in", backoff),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectBackoff {
			backoff = maxReconnectBackoff
		}
	}
}

func (l *NotifyListener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	l.logger.Info("listening for message inserts", zap.String("channel", l.channel))

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		l.handle(ctx, notification.Payload)
	}
}

func (l *NotifyListener) handle(ctx context.Context, payload string) {
	message, err := l.decode(ctx, payload)
	if err != nil {
		l.logger.Warn("dropping message notification", zap.Error(err))
		return
	}

	if err := l.publisher.Publish(ctx, MessageTopic(message.ConversationID), MessageEvent(message)); err != nil {
		l.logger.Warn("publish message event failed",
			zap.Int64("conversation_id", message.ConversationID),
			zap.Int64("message_id", message.ID),
			zap.Error(err),
		)
	}
}

func (l *NotifyListener) decode(ctx context.Context, payload string) (*models.ChatMessage, error) {
	var decoded notifyPayload
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if decoded.ID <= 0 || decoded.ConversationID <= 0 {
		return nil, fmt.Errorf("payload missing message keys")
	}
	if !decoded.Truncated {
		message := decoded.ChatMessage
		return &message, nil
	}

	message, err := l.fetcher.GetMessage(ctx, decoded.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch message %d: %w", decoded.ID, err)
	}
	return message, nil
}
