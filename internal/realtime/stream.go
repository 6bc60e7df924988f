package realtime

import (
	"sync"

	"github.com/ekklesia-app/messaging/internal/models"
)

// MessageStream delivers messages inserted into one conversation. Rows
// inserted before the stream opened are not replayed.
type MessageStream struct {
	mu  sync.Mutex
	sub *Subscription
}

func OpenMessageStream(hub *Hub, conversationID int64, handler func(models.ChatMessage)) (*MessageStream, error) {
	sub, err := hub.Subscribe(MessageTopic(conversationID), func(event Event) {
		if event.Type != EventMessage || event.Message == nil {
			return
		}
		if event.Message.ConversationID != conversationID {
			return
		}
		handler(*event.Message)
	})
	if err != nil {
		return nil, err
	}

	return &MessageStream{sub: sub}, nil
}

func (s *MessageStream) Close() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}
