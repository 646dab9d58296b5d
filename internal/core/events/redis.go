package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Nzyazin/ledger/internal/core/models"
	"github.com/redis/go-redis/v9"
)

// RedisPublisher sends events on a pub/sub channel. The client belongs to the
// caller and is not closed here.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, event models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", p.channel, err)
	}
	return nil
}

func (p *RedisPublisher) Close() error { return nil }
