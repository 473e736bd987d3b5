package redis

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/boardflow/boardflow-backend/internal/core/ports"
)

// EventBus implements ports.EventBus on Redis Pub/Sub. go-redis re-dials and
// re-issues SUBSCRIBE after a connection loss, so an open subscription
// survives bus outages; messages published during the outage are lost, which
// matches the transient, fire-and-forget event contract.
type EventBus struct {
	rdb    *redis.Client
	logger *slog.Logger
}

var _ ports.EventBus = (*EventBus)(nil)

// NewEventBus creates a pub/sub bus on the given Redis client.
func NewEventBus(rdb *redis.Client, logger *slog.Logger) *EventBus {
	return &EventBus{
		rdb:    rdb,
		logger: logger.With("component", "redis_bus"),
	}
}

// Publish sends the payload to every subscriber of the channel.
func (b *EventBus) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.rdb.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a dedicated subscription for the channel and pumps inbound
// messages to the handler on a single goroutine per subscription, preserving
// per-origin delivery order.
func (b *EventBus) Subscribe(channel string, handler func(payload []byte)) (ports.Subscription, error) {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := b.rdb.Subscribe(ctx, channel)

	// Receive the subscription confirmation so a broken bus surfaces here
	// instead of as a silently dead subscription.
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, err
	}

	sub := &busSubscription{pubsub: pubsub, cancel: cancel}
	go func() {
		for msg := range pubsub.Channel() {
			handler([]byte(msg.Payload))
		}
		b.logger.Debug("subscription channel closed", "channel", channel)
	}()

	return sub, nil
}

type busSubscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
}

func (s *busSubscription) Close() error {
	s.cancel()
	return s.pubsub.Close()
}
