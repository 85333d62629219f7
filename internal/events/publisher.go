// Package events carries the user-deleted broadcast used to force logout of
// purged identities. The bus is an injected collaborator; the deletion engine
// publishes and session holders subscribe.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// UserDeleted announces that a profile was hard-deleted.
type UserDeleted struct {
	UserID            string    `json:"user_id"`
	DeletionRequestID string    `json:"deletion_request_id"`
	DeletedAt         time.Time `json:"deleted_at"`
}

// Publisher broadcasts lifecycle events.
type Publisher interface {
	PublishUserDeleted(ctx context.Context, event UserDeleted) error
}

// RedisPublisher broadcasts over a Redis pub/sub channel so every API
// instance and session holder observes the event.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher constructs a publisher on the given channel.
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = "privacy:user-deleted"
	}
	return &RedisPublisher{client: client, channel: channel}
}

// PublishUserDeleted sends the event as JSON.
func (p *RedisPublisher) PublishUserDeleted(ctx context.Context, event UserDeleted) error {
	if p.client == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal user deleted event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish user deleted event: %w", err)
	}
	return nil
}

// NopPublisher drops events. Used in tests and when Redis is unavailable.
type NopPublisher struct{}

// PublishUserDeleted implements Publisher.
func (NopPublisher) PublishUserDeleted(context.Context, UserDeleted) error { return nil }
