package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisChannelPrefix = "chat:"

// RedisBus publishes ephemeral events through Redis so that every instance
// sees them. Relay feeds what arrives back into the local Hub.
type RedisBus struct {
	client *redis.Client
	hub    *Hub
	logger *zap.Logger
}

func NewRedisBus(client *redis.Client, hub *Hub, logger *zap.Logger) *RedisBus {
	return &RedisBus{
		client: client,
		hub:    hub,
		logger: logger,
	}
}

func (b *RedisBus) Publish(ctx context.Context, topic string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return b.client.Publish(ctx, redisChannelPrefix+topic, payload).Err()
}

// Relay blocks until ctx is cancelled.
func (b *RedisBus) Relay(ctx context.Context) error {
	pubsub := b.client.PSubscribe(ctx, redisChannelPrefix+"*")
	defer func() {
		_ = pubsub.Close()
	}()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to redis: %w", err)
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			b.relay(ctx, msg)
		}
	}
}

func (b *RedisBus) relay(ctx context.Context, msg *redis.Message) {
	var event Event
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		b.logger.Warn("dropping malformed relayed event", zap.String("channel", msg.Channel), zap.Error(err))
		return
	}

	topic := strings.TrimPrefix(msg.Channel, redisChannelPrefix)
	if err := b.hub.Publish(ctx, topic, event); err != nil {
		b.logger.Debug("relay publish failed", zap.String("topic", topic), zap.Error(err))
	}
}
