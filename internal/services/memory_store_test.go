package services

import (
	"context"
	"sync"
	"time"

	"github.com/ekklesia-app/messaging/internal/models"
	"github.com/ekklesia-app/messaging/internal/realtime"
	"github.com/ekklesia-app/messaging/internal/repository"
	"github.com/jackc/pgx/v5"
)

// memoryStore mirrors the Postgres store closely enough for controller
// tests: the unordered-pair unique index, NULL-only read marking, and an
// insert change feed published to the hub.
type memoryStore struct {
	mu                 sync.Mutex
	feed               realtime.Publisher
	clock              time.Time
	nextConversationID int64
	nextMessageID      int64
	conversations      map[int64]*models.Conversation
	messages           []models.ChatMessage
	inserts            int
	err                error
	findGate           func()
}

func newMemoryStore(feed realtime.Publisher) *memoryStore {
	return &memoryStore{
		feed:          feed,
		clock:         time.Date(2026, 10, 4, 9, 0, 0, 0, time.UTC),
		conversations: make(map[int64]*models.Conversation),
	}
}

func (s *memoryStore) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *memoryStore) failWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func samePair(c *models.Conversation, userA, userB string) bool {
	return (c.Participant1 == userA && c.Participant2 == userB) ||
		(c.Participant1 == userB && c.Participant2 == userA)
}

func (s *memoryStore) FindConversationByPair(_ context.Context, userA, userB string) (*models.Conversation, error) {
	if s.findGate != nil {
		s.findGate()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	for id := int64(1); id <= s.nextConversationID; id++ {
		if c, ok := s.conversations[id]; ok && samePair(c, userA, userB) {
			copied := *c
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *memoryStore) CreateConversation(_ context.Context, participant1, participant2 string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	for _, c := range s.conversations {
		if samePair(c, participant1, participant2) {
			return nil, repository.ErrConversationExists
		}
	}

	s.nextConversationID++
	now := s.tick()
	c := &models.Conversation{
		ID:           s.nextConversationID,
		Participant1: participant1,
		Participant2: participant2,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.conversations[c.ID] = c
	copied := *c
	return &copied, nil
}

func (s *memoryStore) GetConversation(_ context.Context, conversationID int64) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *c
	return &copied, nil
}

func (s *memoryStore) ListConversations(_ context.Context, userID string) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]models.Conversation, 0)
	for _, c := range s.conversations {
		if c.HasParticipant(userID) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *memoryStore) ListLatestMessages(_ context.Context, userID string) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	latest := make(map[int64]models.ChatMessage)
	for _, m := range s.messages {
		if !s.conversations[m.ConversationID].HasParticipant(userID) {
			continue
		}
		if current, ok := latest[m.ConversationID]; !ok || current.Before(&m) {
			latest[m.ConversationID] = m
		}
	}
	out := make([]models.ChatMessage, 0, len(latest))
	for _, m := range latest {
		out = append(out, m)
	}
	return out, nil
}

func (s *memoryStore) ListUnreadMessages(_ context.Context, userID string) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]models.ChatMessage, 0)
	for _, m := range s.messages {
		if s.conversations[m.ConversationID].HasParticipant(userID) && m.IsUnreadFor(userID) {
			out = append(out, m)
		}
	}
	return out, nil
}

// LoadAndMarkRead returns rows in storage order; ordering is the caller's job.
func (s *memoryStore) LoadAndMarkRead(_ context.Context, conversationID int64, readerID string) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	now := s.tick()
	out := make([]models.ChatMessage, 0)
	for i := range s.messages {
		if s.messages[i].ConversationID != conversationID {
			continue
		}
		if s.messages[i].IsUnreadFor(readerID) {
			readAt := now
			s.messages[i].ReadAt = &readAt
		}
		out = append(out, s.messages[i])
	}
	return out, nil
}

func (s *memoryStore) InsertMessage(ctx context.Context, conversationID int64, senderID string, content string) (*models.ChatMessage, error) {
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return nil, s.err
	}
	message := s.appendLocked(conversationID, senderID, content, s.tick())
	s.inserts++
	feed := s.feed
	s.mu.Unlock()

	if feed != nil {
		_ = feed.Publish(ctx, realtime.MessageTopic(conversationID), realtime.MessageEvent(&message))
	}
	copied := message
	return &copied, nil
}

func (s *memoryStore) appendLocked(conversationID int64, senderID, content string, createdAt time.Time) models.ChatMessage {
	s.nextMessageID++
	message := models.ChatMessage{
		ID:             s.nextMessageID,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      createdAt,
	}
	s.messages = append(s.messages, message)
	if c, ok := s.conversations[conversationID]; ok {
		at := createdAt
		c.LastMessageAt = &at
		c.UpdatedAt = createdAt
	}
	return message
}

// seed stores a message with an explicit timestamp and no change feed.
func (s *memoryStore) seed(conversationID int64, senderID, content string, createdAt time.Time) models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(conversationID, senderID, content, createdAt)
}

func (s *memoryStore) MarkMessagesRead(_ context.Context, messageIDs []int64, readerID string) (map[int64]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	wanted := make(map[int64]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		wanted[id] = struct{}{}
	}
	now := s.tick()
	marked := make(map[int64]time.Time)
	for i := range s.messages {
		if _, ok := wanted[s.messages[i].ID]; !ok || !s.messages[i].IsUnreadFor(readerID) {
			continue
		}
		readAt := now
		s.messages[i].ReadAt = &readAt
		marked[s.messages[i].ID] = readAt
	}
	return marked, nil
}

func (s *memoryStore) message(id int64) models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id {
			return m
		}
	}
	return models.ChatMessage{}
}

func (s *memoryStore) insertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserts
}

func (s *memoryStore) conversationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}
