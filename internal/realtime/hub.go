package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const subscriptionBuffer = 32

var ErrHubClosed = errors.New("realtime hub closed")

// Hub is the in-process topic fan-out. A single run loop owns the topic
// table; each subscription drains its own queue on a separate goroutine so a
// slow handler never stalls the loop.
type Hub struct {
	topics     map[string]map[*Subscription]struct{}
	register   chan *Subscription
	unregister chan *Subscription
	broadcast  chan envelope
	done       chan struct{}
	logger     *zap.Logger
}

type envelope struct {
	topic string
	event Event
}

type Subscription struct {
	ID      uuid.UUID
	topic   string
	hub     *Hub
	send    chan Event
	handler func(Event)
	once    sync.Once
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		topics:     make(map[string]map[*Subscription]struct{}),
		register:   make(chan *Subscription),
		unregister: make(chan *Subscription),
		broadcast:  make(chan envelope, 64),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case sub := <-h.register:
			set, ok := h.topics[sub.topic]
			if !ok {
				set = make(map[*Subscription]struct{})
				h.topics[sub.topic] = set
			}
			set[sub] = struct{}{}
		case sub := <-h.unregister:
			set, ok := h.topics[sub.topic]
			if !ok {
				continue
			}
			if _, exists := set[sub]; exists {
				delete(set, sub)
				close(sub.send)
			}
			if len(set) == 0 {
				delete(h.topics, sub.topic)
			}
		case env := <-h.broadcast:
			h.deliver(env)
		}
	}
}

func (h *Hub) shutdown() {
	close(h.done)
	for topic, set := range h.topics {
		for sub := range set {
			close(sub.send)
		}
		delete(h.topics, topic)
	}
}

// Subscribe registers handler on topic. Events published after Subscribe
// returns are delivered to it.
func (h *Hub) Subscribe(topic string, handler func(Event)) (*Subscription, error) {
	sub := &Subscription{
		ID:      uuid.New(),
		topic:   topic,
		hub:     h,
		send:    make(chan Event, subscriptionBuffer),
		handler: handler,
	}

	select {
	case h.register <- sub:
	case <-h.done:
		return nil, ErrHubClosed
	}

	go sub.pump()
	return sub, nil
}

func (h *Hub) Publish(ctx context.Context, topic string, event Event) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}

	select {
	case h.broadcast <- envelope{topic: topic, event: event}:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) deliver(env envelope) {
	set, ok := h.topics[env.topic]
	if !ok {
		return
	}

	for sub := range set {
		select {
		case sub.send <- env.event:
		default:
			h.logger.Warn("dropping event for slow subscriber",
				zap.String("topic", env.topic),
				zap.String("subscription_id", sub.ID.String()),
				zap.String("event_type", string(env.event.Type)),
			)
		}
	}
}

func (s *Subscription) pump() {
	for event := range s.send {
		s.handler(event)
	}
}

// Unsubscribe is idempotent. Events already queued may still reach the
// handler after it returns.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		}
	})
}
