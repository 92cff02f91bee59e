package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/meridianvest/marketfeed/internal/app/domain/market"
)

// DefaultChannel is the pub/sub channel snapshots are published on.
const DefaultChannel = "marketfeed:price_updates"

// RedisPublisher publishes snapshots on a redis pub/sub channel.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisPublisher builds a publisher over an existing client. An empty
// channel falls back to DefaultChannel.
func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Name() string { return "broadcast-redis" }

func (p *RedisPublisher) Publish(ctx context.Context, feeds []market.Feed) error {
	payload, err := json.Marshal(NewEnvelope(feeds))
	if err != nil {
		return fmt.Errorf("marshal price update: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", p.channel, err)
	}
	return nil
}
