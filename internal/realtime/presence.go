package realtime

import (
	"context"
	"errors"
	"sync"
)

type ChannelState int

const (
	StateClosed ChannelState = iota
	StateSubscribing
	StateOpen
)

func (s ChannelState) String() string {
	switch s {
	case StateSubscribing:
		return "subscribing"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

var ErrChannelNotOpen = errors.New("presence channel not open")

// PresenceChannel is one user's handle on a conversation's ephemeral topic.
// Typing and presence share the topic and are told apart by Event.Type.
type PresenceChannel struct {
	hub            *Hub
	publisher      Publisher
	conversationID int64
	userID         string

	mu    sync.Mutex
	state ChannelState
	sub   *Subscription
}

func NewPresenceChannel(hub *Hub, publisher Publisher, conversationID int64, userID string) *PresenceChannel {
	return &PresenceChannel{
		hub:            hub,
		publisher:      publisher,
		conversationID: conversationID,
		userID:         userID,
	}
}

func (p *PresenceChannel) State() ChannelState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Open subscribes handler to typing and presence events of this
// conversation only.
func (p *PresenceChannel) Open(handler func(Event)) error {
	p.mu.Lock()
	if p.state != StateClosed {
		p.mu.Unlock()
		return nil
	}
	p.state = StateSubscribing
	p.mu.Unlock()

	conversationID := p.conversationID
	sub, err := p.hub.Subscribe(EphemeralTopic(conversationID), func(event Event) {
		if event.ConversationID != conversationID {
			return
		}
		if event.Type != EventTyping && event.Type != EventPresence {
			return
		}
		handler(event)
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.state = StateClosed
		return err
	}
	p.sub = sub
	p.state = StateOpen
	return nil
}

func (p *PresenceChannel) send(ctx context.Context, event Event) error {
	p.mu.Lock()
	open := p.state == StateOpen
	p.mu.Unlock()
	if !open {
		return ErrChannelNotOpen
	}
	return p.publisher.Publish(ctx, EphemeralTopic(p.conversationID), event)
}

func (p *PresenceChannel) SendTyping(ctx context.Context, typing bool) error {
	return p.send(ctx, TypingEvent(p.conversationID, p.userID, typing))
}

func (p *PresenceChannel) SendPresence(ctx context.Context, status PresenceStatus) error {
	return p.send(ctx, PresenceEvent(p.conversationID, p.userID, status))
}

// Close announces offline then releases the subscription. The offline
// publish is best-effort; its error is returned for logging only. Closing a
// channel that is not open is a no-op.
func (p *PresenceChannel) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateOpen {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	err := p.SendPresence(ctx, StatusOffline)

	p.mu.Lock()
	sub := p.sub
	p.sub = nil
	p.state = StateClosed
	p.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	return err
}
