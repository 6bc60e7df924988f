package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ekklesia-app/messaging/internal/models"
	"github.com/ekklesia-app/messaging/internal/realtime"
	"go.uber.org/zap"
)

const (
	broadcastTimeout = 2 * time.Second
	readMarkTimeout  = 5 * time.Second
)

type (
	MessageHandler  func(message models.ChatMessage)
	TypingHandler   func(conversationID int64, userID string, typing bool)
	PresenceHandler func(conversationID int64, userID string, status realtime.PresenceStatus)
)

// ConversationController owns one client's view of the conversation it has
// open: the message list, who is typing and who is present. Public methods
// are expected to be called from a single goroutine (the client's read
// loop); inbound events arrive concurrently and are reconciled under mu.
type ConversationController struct {
	service *ChatService
	userID  string
	logger  *zap.Logger

	mu         sync.Mutex
	active     *openConversation
	onMessage  MessageHandler
	onTyping   TypingHandler
	onPresence PresenceHandler
}

// openConversation is the subscription handle for one open. Inbound
// handlers capture the handle they were registered with and drop events
// once it is no longer the active one.
type openConversation struct {
	id       int64
	messages []models.ChatMessage
	seen     map[int64]struct{}
	typing   map[string]*typingEntry
	presence map[string]realtime.PresenceStatus
	stream   *realtime.MessageStream
	channel  *realtime.PresenceChannel
	debounce *TypingDebouncer
	// selfTyping is the last typing state this controller broadcast.
	selfTyping bool
}

type typingEntry struct {
	timer *time.Timer
}

func newOpenConversation(conversationID int64) *openConversation {
	return &openConversation{
		id:       conversationID,
		messages: make([]models.ChatMessage, 0),
		seen:     make(map[int64]struct{}),
		typing:   make(map[string]*typingEntry),
		presence: make(map[string]realtime.PresenceStatus),
	}
}

func (s *ChatService) NewController(userID string) *ConversationController {
	return &ConversationController{
		service: s,
		userID:  userID,
		logger:  s.logger.With(zap.String("user_id", userID)),
	}
}

func (c *ConversationController) OnMessage(handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = handler
}

func (c *ConversationController) OnTyping(handler TypingHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTyping = handler
}

func (c *ConversationController) OnPresence(handler PresenceHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPresence = handler
}

func (c *ConversationController) ListConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	return c.service.ListConversations(ctx, c.userID)
}

// OpenConversation switches the controller to conversationID. The previous
// conversation, if any, is torn down first. The message stream is
// subscribed before the history load so inserts racing the load are not
// lost; both sources are merged by id.
func (c *ConversationController) OpenConversation(ctx context.Context, conversationID int64) ([]models.ChatMessage, error) {
	if _, err := c.service.participantConversation(ctx, conversationID, c.userID); err != nil {
		return nil, err
	}

	c.CloseConversation(ctx)

	h := newOpenConversation(conversationID)
	h.channel = realtime.NewPresenceChannel(c.service.hub, c.service.publisher, conversationID, c.userID)
	h.debounce = NewTypingDebouncer(c.service.opts.TypingIdle, func(typing bool) {
		ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
		defer cancel()
		c.sendTyping(ctx, h, typing)
	})

	c.mu.Lock()
	c.active = h
	c.mu.Unlock()

	stream, err := realtime.OpenMessageStream(c.service.hub, conversationID, func(message models.ChatMessage) {
		c.handleIncomingMessage(h, message)
	})
	if err != nil {
		c.abandon(ctx, h)
		return nil, fmt.Errorf("open message stream: %w", err)
	}
	c.mu.Lock()
	h.stream = stream
	c.mu.Unlock()

	if err := h.channel.Open(func(event realtime.Event) {
		c.handleEphemeral(h, event)
	}); err != nil {
		c.logger.Warn("presence channel unavailable",
			zap.Int64("conversation_id", conversationID),
			zap.Error(err),
		)
	}

	history, err := c.service.loadHistory(ctx, conversationID, c.userID)
	if err != nil {
		c.abandon(ctx, h)
		return nil, err
	}

	c.mu.Lock()
	h.messages = mergeMessages(history, h.messages)
	h.seen = make(map[int64]struct{}, len(h.messages))
	for _, message := range h.messages {
		h.seen[message.ID] = struct{}{}
	}
	snapshot := copyMessages(h.messages)
	c.mu.Unlock()

	c.sendPresence(ctx, h, realtime.StatusOnline)

	c.logger.Debug("conversation opened",
		zap.Int64("conversation_id", conversationID),
		zap.Int("messages", len(snapshot)),
	)
	return snapshot, nil
}

// CloseConversation announces offline and releases the open conversation's
// subscriptions. Closing with nothing open is a no-op.
func (c *ConversationController) CloseConversation(ctx context.Context) {
	c.mu.Lock()
	h := c.active
	c.active = nil
	c.mu.Unlock()

	if h == nil {
		return
	}
	c.teardown(ctx, h)
}

// abandon tears down a half-opened handle if it is still the active one.
func (c *ConversationController) abandon(ctx context.Context, h *openConversation) {
	c.mu.Lock()
	if c.active == h {
		c.active = nil
	}
	c.mu.Unlock()
	c.teardown(ctx, h)
}

func (c *ConversationController) teardown(ctx context.Context, h *openConversation) {
	c.stopTyping(ctx, h)

	c.mu.Lock()
	for userID, entry := range h.typing {
		entry.timer.Stop()
		delete(h.typing, userID)
	}
	stream := h.stream
	h.stream = nil
	c.mu.Unlock()

	if err := h.channel.Close(ctx); err != nil {
		c.logger.Debug("offline broadcast dropped",
			zap.Int64("conversation_id", h.id),
			zap.Error(err),
		)
	}
	if stream != nil {
		stream.Close()
	}
}

// SendMessage persists content in conversationID. The message is not added
// to the local list here; it arrives through the stream like any other.
func (c *ConversationController) SendMessage(ctx context.Context, conversationID int64, content string) (*models.ChatMessage, error) {
	message, err := c.service.SendMessage(ctx, conversationID, c.userID, content)
	if err != nil {
		return nil, err
	}

	if h := c.current(); h != nil && h.id == conversationID {
		c.stopTyping(ctx, h)
	}
	return message, nil
}

// StartOrGetConversation resolves the conversation with otherUserID,
// creating it if needed, and opens it.
func (c *ConversationController) StartOrGetConversation(
	ctx context.Context,
	otherUserID string,
) (*models.Conversation, []models.ChatMessage, error) {
	conversation, err := c.service.StartOrGetConversation(ctx, c.userID, otherUserID)
	if err != nil {
		return nil, nil, err
	}

	messages, err := c.OpenConversation(ctx, conversation.ID)
	if err != nil {
		return nil, nil, err
	}
	return conversation, messages, nil
}

// BroadcastTyping is best-effort and never reports failure.
func (c *ConversationController) BroadcastTyping(ctx context.Context, isTyping bool) {
	h := c.current()
	if h == nil {
		return
	}
	if !isTyping {
		h.debounce.Stop()
	}
	c.sendTyping(ctx, h, isTyping)
}

// Keystroke feeds the typing debouncer for the open conversation.
func (c *ConversationController) Keystroke() {
	if h := c.current(); h != nil {
		h.debounce.Keystroke()
	}
}

func (c *ConversationController) current() *openConversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// stopTyping emits typing=false only when a typing=true is outstanding.
func (c *ConversationController) stopTyping(ctx context.Context, h *openConversation) {
	stopped := h.debounce.Stop()

	c.mu.Lock()
	outstanding := h.selfTyping
	c.mu.Unlock()

	if stopped || outstanding {
		c.sendTyping(ctx, h, false)
	}
}

func (c *ConversationController) sendTyping(ctx context.Context, h *openConversation, typing bool) {
	c.mu.Lock()
	h.selfTyping = typing
	c.mu.Unlock()

	if err := h.channel.SendTyping(ctx, typing); err != nil {
		c.logger.Debug("typing broadcast dropped",
			zap.Int64("conversation_id", h.id),
			zap.Bool("typing", typing),
			zap.Error(err),
		)
	}
}

func (c *ConversationController) sendPresence(ctx context.Context, h *openConversation, status realtime.PresenceStatus) {
	if err := h.channel.SendPresence(ctx, status); err != nil {
		c.logger.Debug("presence broadcast dropped",
			zap.Int64("conversation_id", h.id),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

func (c *ConversationController) handleIncomingMessage(h *openConversation, message models.ChatMessage) {
	c.mu.Lock()
	if c.active != h {
		c.mu.Unlock()
		return
	}
	if _, dup := h.seen[message.ID]; dup {
		c.mu.Unlock()
		return
	}
	h.seen[message.ID] = struct{}{}
	h.insert(message)
	markRead := c.service.opts.ReadOnArrival && message.IsUnreadFor(c.userID)
	c.mu.Unlock()

	if markRead {
		if readAt, ok := c.markReadOnArrival(h, message.ID); ok {
			message.ReadAt = &readAt
		}
	}

	c.mu.Lock()
	handler := c.onMessage
	active := c.active == h
	c.mu.Unlock()

	if active && handler != nil {
		handler(message)
	}
}

func (c *ConversationController) markReadOnArrival(h *openConversation, messageID int64) (time.Time, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), readMarkTimeout)
	defer cancel()

	marked, err := c.service.markRead(ctx, []int64{messageID}, c.userID)
	if err != nil {
		c.logger.Warn("read-on-arrival failed",
			zap.Int64("conversation_id", h.id),
			zap.Int64("message_id", messageID),
			zap.Error(err),
		)
		return time.Time{}, false
	}

	readAt, ok := marked[messageID]
	if !ok {
		return time.Time{}, false
	}

	c.mu.Lock()
	for i := range h.messages {
		if h.messages[i].ID == messageID {
			h.messages[i].ReadAt = &readAt
			break
		}
	}
	c.mu.Unlock()
	return readAt, true
}

func (c *ConversationController) handleEphemeral(h *openConversation, event realtime.Event) {
	if event.UserID == "" || event.UserID == c.userID {
		return
	}

	switch event.Type {
	case realtime.EventTyping:
		c.handleTypingEvent(h, event.UserID, event.Typing)
	case realtime.EventPresence:
		c.handlePresenceEvent(h, event.UserID, event.Status)
	}
}

// handleTypingEvent tracks remote typing state. Every typing=true re-arms an
// expiry so a lost typing=false cannot leave the user stuck as typing.
func (c *ConversationController) handleTypingEvent(h *openConversation, fromUserID string, typing bool) {
	c.mu.Lock()
	if c.active != h {
		c.mu.Unlock()
		return
	}

	entry, wasTyping := h.typing[fromUserID]
	if wasTyping {
		entry.timer.Stop()
	}

	if typing {
		next := &typingEntry{}
		next.timer = time.AfterFunc(c.service.opts.TypingExpiry, func() {
			c.expireTyping(h, fromUserID, next)
		})
		h.typing[fromUserID] = next
	} else {
		delete(h.typing, fromUserID)
	}

	handler := c.onTyping
	c.mu.Unlock()

	if typing != wasTyping && handler != nil {
		handler(h.id, fromUserID, typing)
	}
}

func (c *ConversationController) expireTyping(h *openConversation, fromUserID string, entry *typingEntry) {
	c.mu.Lock()
	if c.active != h || h.typing[fromUserID] != entry {
		c.mu.Unlock()
		return
	}
	delete(h.typing, fromUserID)
	handler := c.onTyping
	c.mu.Unlock()

	if handler != nil {
		handler(h.id, fromUserID, false)
	}
}

// handlePresenceEvent records the counterparty's status. The first online
// seen from a user is answered with our own online so a peer that joined
// later learns we are here.
func (c *ConversationController) handlePresenceEvent(h *openConversation, fromUserID string, status realtime.PresenceStatus) {
	c.mu.Lock()
	if c.active != h {
		c.mu.Unlock()
		return
	}

	previous := h.presence[fromUserID]
	h.presence[fromUserID] = status
	if status == realtime.StatusOffline {
		if entry, ok := h.typing[fromUserID]; ok {
			entry.timer.Stop()
			delete(h.typing, fromUserID)
		}
	}
	handler := c.onPresence
	c.mu.Unlock()

	if previous != status && handler != nil {
		handler(h.id, fromUserID, status)
	}
	if status == realtime.StatusOnline && previous != realtime.StatusOnline {
		ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
		defer cancel()
		c.sendPresence(ctx, h, realtime.StatusOnline)
	}
}

func (c *ConversationController) ActiveConversationID() (int64, bool) {
	h := c.current()
	if h == nil {
		return 0, false
	}
	return h.id, true
}

func (c *ConversationController) Messages() []models.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return []models.ChatMessage{}
	}
	return copyMessages(c.active.messages)
}

func (c *ConversationController) TypingUsers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	users := make([]string, 0)
	if c.active == nil {
		return users
	}
	for userID := range c.active.typing {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

func (c *ConversationController) Presence() map[string]realtime.PresenceStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	presence := make(map[string]realtime.PresenceStatus)
	if c.active == nil {
		return presence
	}
	for userID, status := range c.active.presence {
		presence[userID] = status
	}
	return presence
}

// insert keeps messages ordered by created_at then id.
func (h *openConversation) insert(message models.ChatMessage) {
	i := sort.Search(len(h.messages), func(i int) bool {
		return message.Before(&h.messages[i])
	})
	h.messages = append(h.messages, models.ChatMessage{})
	copy(h.messages[i+1:], h.messages[i:])
	h.messages[i] = message
}

func sortMessages(messages []models.ChatMessage) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Before(&messages[j])
	})
}

// mergeMessages prefers history rows, which carry fresh read marks, over
// rows buffered from the stream.
func mergeMessages(history, buffered []models.ChatMessage) []models.ChatMessage {
	merged := make([]models.ChatMessage, 0, len(history)+len(buffered))
	seen := make(map[int64]struct{}, len(history))
	for _, message := range history {
		seen[message.ID] = struct{}{}
		merged = append(merged, message)
	}
	for _, message := range buffered {
		if _, ok := seen[message.ID]; ok {
			continue
		}
		seen[message.ID] = struct{}{}
		merged = append(merged, message)
	}
	sortMessages(merged)
	return merged
}

func copyMessages(messages []models.ChatMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, len(messages))
	copy(out, messages)
	return out
}
