package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/hanko-field/orders/internal/services"
)

// RedisClient is the subset of the go-redis client used for publishing.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisOrderPublisher fans order events out over a Redis pub/sub channel.
type RedisOrderPublisher struct {
	client  RedisClient
	channel string
}

var _ services.OrderEventPublisher = (*RedisOrderPublisher)(nil)

// NewRedisOrderPublisher constructs the publisher for the given channel.
func NewRedisOrderPublisher(client RedisClient, channel string) (*RedisOrderPublisher, error) {
	if client == nil {
		return nil, errors.New("redis order publisher: client is required")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return nil, errors.New("redis order publisher: channel is required")
	}
	return &RedisOrderPublisher{client: client, channel: channel}, nil
}

func (p *RedisOrderPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	data, err := json.Marshal(newOrderEventMessage(event))
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", p.channel, err)
	}
	return nil
}

// MultiPublisher delivers each event to every publisher and joins their errors.
type MultiPublisher []services.OrderEventPublisher

func (m MultiPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	var errs []error
	for _, publisher := range m {
		if publisher == nil {
			continue
		}
		if err := publisher.PublishOrderEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
