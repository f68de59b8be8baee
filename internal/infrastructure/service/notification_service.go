package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alem-hub/focus-quest/internal/domain/notification"
	rediscache "github.com/alem-hub/focus-quest/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/focus-quest/pkg/retry"
)

// IDGeneratorImpl generates UUID v4 identifiers for sessions and requests.
type IDGeneratorImpl struct{}

// NewIDGenerator creates a new IDGeneratorImpl.
func NewIDGenerator() *IDGeneratorImpl {
	return &IDGeneratorImpl{}
}

// GenerateID returns a new random UUID.
func (g *IDGeneratorImpl) GenerateID() string {
	return uuid.New().String()
}

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION CHANNELS
// ══════════════════════════════════════════════════════════════════════════════

// LogChannel writes notifications to the structured log.
// It is the default channel when no push transport is configured.
type LogChannel struct {
	logger *slog.Logger
}

var _ notification.Channel = (*LogChannel)(nil)

// NewLogChannel creates a new LogChannel.
func NewLogChannel(logger *slog.Logger) *LogChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogChannel{logger: logger.With("channel", "log")}
}

// Name implements notification.Channel.
func (c *LogChannel) Name() string { return "log" }

// Send implements notification.Channel.
func (c *LogChannel) Send(ctx context.Context, msg notification.Message) error {
	c.logger.InfoContext(ctx, "notification",
		"type", msg.Type,
		"user_id", msg.UserID,
		"priority", msg.Priority.String(),
		"title", msg.Title,
		"body", msg.Body,
	)
	return nil
}

// Publisher publishes a raw payload to a pub/sub channel.
// Implemented by redis.PubSubClient.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// DefaultNotificationTopic is the pub/sub channel push workers subscribe to.
var DefaultNotificationTopic = rediscache.PubSubChannel("notifications")

// RedisChannel publishes notifications as JSON for an external push worker.
type RedisChannel struct {
	publisher Publisher
	topic     string
}

var _ notification.Channel = (*RedisChannel)(nil)

// NewRedisChannel creates a new RedisChannel. An empty topic uses DefaultNotificationTopic.
func NewRedisChannel(publisher Publisher, topic string) *RedisChannel {
	if topic == "" {
		topic = DefaultNotificationTopic
	}
	return &RedisChannel{publisher: publisher, topic: topic}
}

// Name implements notification.Channel.
func (c *RedisChannel) Name() string { return "redis" }

// Send implements notification.Channel. Publish failures are retryable.
func (c *RedisChannel) Send(ctx context.Context, msg notification.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := c.publisher.Publish(ctx, c.topic, data); err != nil {
		return retry.Retryable(fmt.Errorf("publish notification: %w", err))
	}
	return nil
}
