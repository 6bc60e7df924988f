package realtime

import (
	"context"
	"fmt"

	"github.com/ekklesia-app/messaging/internal/models"
)

type EventType string

const (
	EventMessage  EventType = "message"
	EventTyping   EventType = "typing"
	EventPresence EventType = "presence"
)

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

// Event is the envelope carried on every conversation topic. Type selects
// which of the remaining fields are meaningful.
type Event struct {
	Type           EventType           `json:"type"`
	ConversationID int64               `json:"conversation_id"`
	UserID         string              `json:"user_id,omitempty"`
	Typing         bool                `json:"typing"`
	Status         PresenceStatus      `json:"status,omitempty"`
	Message        *models.ChatMessage `json:"message,omitempty"`
}

func TypingEvent(conversationID int64, userID string, typing bool) Event {
	return Event{Type: EventTyping, ConversationID: conversationID, UserID: userID, Typing: typing}
}

func PresenceEvent(conversationID int64, userID string, status PresenceStatus) Event {
	return Event{Type: EventPresence, ConversationID: conversationID, UserID: userID, Status: status}
}

func MessageEvent(message *models.ChatMessage) Event {
	return Event{Type: EventMessage, ConversationID: message.ConversationID, UserID: message.SenderID, Message: message}
}

// Publisher fans an event out to every subscriber of topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, event Event) error
}

// EphemeralTopic carries typing and presence signals for one conversation.
func EphemeralTopic(conversationID int64) string {
	return fmt.Sprintf("conversation:%d:ephemeral", conversationID)
}

// MessageTopic carries inserted message rows for one conversation.
func MessageTopic(conversationID int64) string {
	return fmt.Sprintf("conversation:%d:messages", conversationID)
}
