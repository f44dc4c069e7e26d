package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/tryathome/orderflow/internal/services"
)

const defaultChannelPrefix = "orderflow:orders:"

// RedisBroker relays status updates through Redis pub/sub so every API instance can serve live
// subscribers regardless of which instance committed the change. One channel per order.
type RedisBroker struct {
	client redis.UniversalClient
	prefix string
	logger func(ctx context.Context, event string, fields map[string]any)
}

var _ Broker = (*RedisBroker)(nil)

// NewRedisBroker wraps an existing client.
func NewRedisBroker(client redis.UniversalClient, prefix string, logger func(context.Context, string, map[string]any)) (*RedisBroker, error) {
	if client == nil {
		return nil, errors.New("live: redis client is required")
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultChannelPrefix
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &RedisBroker{client: client, prefix: prefix, logger: logger}, nil
}

func (b *RedisBroker) channel(orderID string) string {
	return b.prefix + orderID + ":status"
}

// PublishStatus publishes the update on the order channel.
func (b *RedisBroker) PublishStatus(ctx context.Context, update services.StatusUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("live: encode status: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(update.OrderID), payload).Err(); err != nil {
		return fmt.Errorf("live: publish status: %w", err)
	}
	return nil
}

// Subscribe opens a subscription on the order channel. The subscription ends when ctx is done or
// Close is called.
func (b *RedisBroker) Subscribe(ctx context.Context, orderID string) (Subscription, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("live: order id is required")
	}
	pubsub := b.client.Subscribe(ctx, b.channel(orderID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("live: subscribe: %w", err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan services.StatusUpdate, subscriberBuffer),
		done:   make(chan struct{}),
	}
	go sub.pump(ctx, b.logger)
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan services.StatusUpdate
	done   chan struct{}
}

func (s *redisSubscription) pump(ctx context.Context, logger func(context.Context, string, map[string]any)) {
	defer close(s.out)
	messages := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = s.pubsub.Close()
			return
		case <-s.done:
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var update services.StatusUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
				logger(ctx, "live.decode.failed", map[string]any{
					"channel": msg.Channel,
					"error":   err,
				})
				continue
			}
			select {
			case s.out <- update:
			default:
			}
		}
	}
}

func (s *redisSubscription) Updates() <-chan services.StatusUpdate { return s.out }

func (s *redisSubscription) Close() error {
	select {
	case <-s.done:
		return nil
	default:
		close(s.done)
	}
	return s.pubsub.Close()
}
