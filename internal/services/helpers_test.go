package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ekklesia-app/messaging/internal/models"
	"github.com/ekklesia-app/messaging/internal/realtime"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

type stubProfiles struct {
	mu       sync.Mutex
	profiles map[string]*models.Profile
	err      error
	lookups  map[string]int
}

func newStubProfiles(profiles ...models.Profile) *stubProfiles {
	s := &stubProfiles{
		profiles: make(map[string]*models.Profile),
		lookups:  make(map[string]int),
	}
	for i := range profiles {
		profile := profiles[i]
		s.profiles[profile.UserID] = &profile
	}
	return s
}

func (s *stubProfiles) GetByUserID(_ context.Context, userID string) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups[userID]++
	if s.err != nil {
		return nil, s.err
	}
	profile, ok := s.profiles[userID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return profile, nil
}

type testEnv struct {
	service  *ChatService
	store    *memoryStore
	hub      *realtime.Hub
	profiles *stubProfiles
}

func newTestEnv(t *testing.T, opts ChatOptions) *testEnv {
	t.Helper()

	hub := realtime.NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	store := newMemoryStore(hub)
	profiles := newStubProfiles(
		models.Profile{UserID: "alice", FirstName: "Alice", LastName: "Archer"},
		models.Profile{UserID: "bob", FirstName: "Bob", LastName: "Builder"},
	)

	return &testEnv{
		service:  NewChatService(store, profiles, hub, nil, zap.NewNop(), opts),
		store:    store,
		hub:      hub,
		profiles: profiles,
	}
}

func (e *testEnv) conversation(t *testing.T, userA, userB string) *models.Conversation {
	t.Helper()
	conversation, err := e.service.StartOrGetConversation(context.Background(), userA, userB)
	if err != nil {
		t.Fatalf("start conversation %s/%s: %v", userA, userB, err)
	}
	return conversation
}

type eventRecorder struct {
	mu     sync.Mutex
	events []realtime.Event
}

func recordTopic(t *testing.T, hub *realtime.Hub, topic string) *eventRecorder {
	t.Helper()
	r := &eventRecorder{}
	sub, err := hub.Subscribe(topic, func(event realtime.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, event)
	})
	if err != nil {
		t.Fatalf("subscribe %s: %v", topic, err)
	}
	t.Cleanup(sub.Unsubscribe)
	return r
}

func (r *eventRecorder) typingFrom(userID string) []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, 0)
	for _, event := range r.events {
		if event.Type == realtime.EventTyping && event.UserID == userID {
			out = append(out, event.Typing)
		}
	}
	return out
}

func (r *eventRecorder) presenceFrom(userID string) []realtime.PresenceStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]realtime.PresenceStatus, 0)
	for _, event := range r.events {
		if event.Type == realtime.EventPresence && event.UserID == userID {
			out = append(out, event.Status)
		}
	}
	return out
}

type callbackLog struct {
	mu       sync.Mutex
	messages []models.ChatMessage
	typing   []typingCall
	presence []presenceCall
}

type typingCall struct {
	conversationID int64
	userID         string
	typing         bool
}

type presenceCall struct {
	conversationID int64
	userID         string
	status         realtime.PresenceStatus
}

func watch(c *ConversationController) *callbackLog {
	log := &callbackLog{}
	c.OnMessage(func(message models.ChatMessage) {
		log.mu.Lock()
		defer log.mu.Unlock()
		log.messages = append(log.messages, message)
	})
	c.OnTyping(func(conversationID int64, userID string, typing bool) {
		log.mu.Lock()
		defer log.mu.Unlock()
		log.typing = append(log.typing, typingCall{conversationID, userID, typing})
	})
	c.OnPresence(func(conversationID int64, userID string, status realtime.PresenceStatus) {
		log.mu.Lock()
		defer log.mu.Unlock()
		log.presence = append(log.presence, presenceCall{conversationID, userID, status})
	})
	return log
}

func (l *callbackLog) messageCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}

func (l *callbackLog) typingCalls() []typingCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]typingCall(nil), l.typing...)
}

func (l *callbackLog) presenceCalls() []presenceCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]presenceCall(nil), l.presence...)
}

// touchedConversation reports whether any callback fired for conversationID.
func (l *callbackLog) touchedConversation(conversationID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, message := range l.messages {
		if message.ConversationID == conversationID {
			return true
		}
	}
	for _, call := range l.typing {
		if call.conversationID == conversationID {
			return true
		}
	}
	for _, call := range l.presence {
		if call.conversationID == conversationID {
			return true
		}
	}
	return false
}

func contents(messages []models.ChatMessage) []string {
	out := make([]string, 0, len(messages))
	for _, message := range messages {
		out = append(out, message.Content)
	}
	return out
}
