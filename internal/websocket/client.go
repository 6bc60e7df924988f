package chatws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/ekklesia-app/messaging/internal/models"
	"github.com/ekklesia-app/messaging/internal/realtime"
	"github.com/ekklesia-app/messaging/internal/services"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	sendBuffer     = 32
	requestTimeout = 10 * time.Second
)

// Client actions.
const (
	ActionList      = "list"
	ActionOpen      = "open"
	ActionClose     = "close"
	ActionStart     = "start"
	ActionSend      = "send"
	ActionTyping    = "typing"
	ActionKeystroke = "keystroke"
)

// Server events.
const (
	EventConversations = "conversations"
	EventConversation  = "conversation"
	EventHistory       = "history"
	EventClosed        = "closed"
	EventSent          = "sent"
	EventMessage       = "message"
	EventTyping        = "typing"
	EventPresence      = "presence"
	EventError         = "error"
)

type sessionController interface {
	ListConversations(ctx context.Context) ([]models.ConversationSummary, error)
	OpenConversation(ctx context.Context, conversationID int64) ([]models.ChatMessage, error)
	CloseConversation(ctx context.Context)
	SendMessage(ctx context.Context, conversationID int64, content string) (*models.ChatMessage, error)
	StartOrGetConversation(ctx context.Context, otherUserID string) (*models.Conversation, []models.ChatMessage, error)
	BroadcastTyping(ctx context.Context, isTyping bool)
	Keystroke()
	OnMessage(handler services.MessageHandler)
	OnTyping(handler services.TypingHandler)
	OnPresence(handler services.PresenceHandler)
}

type Incoming struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id"`
	OtherUserID    string `json:"other_user_id"`
	Content        string `json:"content"`
	Typing         bool   `json:"typing"`
}

type Outgoing struct {
	Type           string                       `json:"type"`
	ConversationID int64                        `json:"conversation_id,omitempty"`
	UserID         string                       `json:"user_id,omitempty"`
	Typing         *bool                        `json:"typing,omitempty"`
	Status         string                       `json:"status,omitempty"`
	Message        *models.ChatMessage          `json:"message,omitempty"`
	Messages       []models.ChatMessage         `json:"messages,omitempty"`
	Conversation   *models.Conversation         `json:"conversation,omitempty"`
	Conversations  []models.ConversationSummary `json:"conversations,omitempty"`
	Error          string                       `json:"error,omitempty"`
	Timestamp      string                       `json:"timestamp"`
}

// Client binds one websocket connection to one conversation controller.
type Client struct {
	ID         uuid.UUID
	conn       *websocket.Conn
	controller sessionController
	send       chan []byte
	done       chan struct{}
	closeOnce  sync.Once
	logger     *zap.Logger
}

func NewClient(conn *websocket.Conn, controller sessionController, logger *zap.Logger) *Client {
	id := uuid.New()
	c := &Client{
		ID:         id,
		conn:       conn,
		controller: controller,
		send:       make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
		logger:     logger.With(zap.String("session_id", id.String())),
	}

	controller.OnMessage(func(message models.ChatMessage) {
		c.emit(Outgoing{Type: EventMessage, ConversationID: message.ConversationID, Message: &message})
	})
	controller.OnTyping(func(conversationID int64, userID string, typing bool) {
		c.emit(Outgoing{Type: EventTyping, ConversationID: conversationID, UserID: userID, Typing: &typing})
	})
	controller.OnPresence(func(conversationID int64, userID string, status realtime.PresenceStatus) {
		c.emit(Outgoing{Type: EventPresence, ConversationID: conversationID, UserID: userID, Status: string(status)})
	})

	return c
}

// Serve runs both pumps and returns only after the write pump has stopped.
// The upgrader recycles conn once the handler returns, so nothing may touch
// it after Serve does.
func (c *Client) Serve() {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.WritePump()
	}()

	c.ReadPump()
	<-writerDone
}

func (c *Client) ReadPump() {
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		c.controller.CloseConversation(ctx)
		cancel()
		c.Close()
	}()

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.Dispatch(payload)
	}
}

// WritePump owns closing the socket, which also unblocks ReadPump after a
// write failure.
func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.Close()
				return
			}
		}
	}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Dispatch handles one client frame.
func (c *Client) Dispatch(payload []byte) {
	var incoming Incoming
	if err := json.Unmarshal(payload, &incoming); err != nil {
		c.emitError("invalid message payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch incoming.Type {
	case ActionList:
		conversations, err := c.controller.ListConversations(ctx)
		if err != nil {
			c.emitFailure(err)
			return
		}
		c.emit(Outgoing{Type: EventConversations, Conversations: conversations})
	case ActionOpen:
		messages, err := c.controller.OpenConversation(ctx, incoming.ConversationID)
		if err != nil {
			c.emitFailure(err)
			return
		}
		c.emit(Outgoing{Type: EventHistory, ConversationID: incoming.ConversationID, Messages: messages})
	case ActionClose:
		c.controller.CloseConversation(ctx)
		c.emit(Outgoing{Type: EventClosed})
	case ActionStart:
		conversation, messages, err := c.controller.StartOrGetConversation(ctx, incoming.OtherUserID)
		if err != nil {
			c.emitFailure(err)
			return
		}
		c.emit(Outgoing{Type: EventConversation, ConversationID: conversation.ID, Conversation: conversation})
		c.emit(Outgoing{Type: EventHistory, ConversationID: conversation.ID, Messages: messages})
	case ActionSend:
		message, err := c.controller.SendMessage(ctx, incoming.ConversationID, incoming.Content)
		if err != nil {
			c.emitFailure(err)
			return
		}
		c.emit(Outgoing{Type: EventSent, ConversationID: message.ConversationID, Message: message})
	case ActionTyping:
		c.controller.BroadcastTyping(ctx, incoming.Typing)
	case ActionKeystroke:
		c.controller.Keystroke()
	default:
		c.emitError("unsupported message type")
	}
}

func (c *Client) emit(out Outgoing) {
	out.Timestamp = services.FormatChatTimestamp(time.Now())
	payload, err := json.Marshal(out)
	if err != nil {
		c.logger.Error("encode websocket event", zap.String("type", out.Type), zap.Error(err))
		return
	}

	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- payload:
	default:
		c.logger.Warn("websocket send buffer full, dropping event", zap.String("type", out.Type))
	}
}

func (c *Client) emitError(message string) {
	c.emit(Outgoing{Type: EventError, Error: message})
}

func (c *Client) emitFailure(err error) {
	if errors.Is(err, services.ErrStoreUnavailable) {
		c.logger.Warn("chat request failed", zap.Error(err))
	}
	c.emitError(errorMessage(err))
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, services.ErrEmptyContent):
		return "message content is empty"
	case errors.Is(err, services.ErrInvalidInput):
		return "invalid request"
	case errors.Is(err, services.ErrForbidden):
		return "forbidden"
	case errors.Is(err, services.ErrNotFound):
		return "conversation not found"
	case errors.Is(err, services.ErrStoreUnavailable):
		return "chat is temporarily unavailable, please retry"
	default:
		return "failed to process chat request"
	}
}
