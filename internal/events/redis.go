package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"tablebill/backend/internal/domain"
)

// RedisPublisher publishes every event as JSON on <channel>:<restaurant id>
// so other instances can relay them to their websocket clients.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = "tablebill:events"
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Channel(restaurantID string) string {
	return p.channel + ":" + restaurantID
}

func (p *RedisPublisher) Dispatch(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	pipe := p.client.Pipeline()
	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			return err
		}
		pipe.Publish(ctx, p.Channel(event.RestaurantID), payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}
