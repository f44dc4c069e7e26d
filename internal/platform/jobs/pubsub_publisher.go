// Package jobs hands order events and notifications to asynchronous consumers.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/tryathome/orderflow/internal/platform/textutil"
	"github.com/tryathome/orderflow/internal/services"
)

const maxAttributeValue = 1024

// PubSubEventPublisher publishes order domain events to a Pub/Sub topic. Messages are ordered per order
// when the topic has message ordering enabled.
type PubSubEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.OrderEventPublisher = (*PubSubEventPublisher)(nil)

// NewPubSubEventPublisher constructs a Pub/Sub backed order event publisher.
func NewPubSubEventPublisher(topic *pubsub.Topic) (*PubSubEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub event publisher: topic is required")
	}
	return &PubSubEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishOrderEvent publishes the event and waits for the server acknowledgement.
func (p *PubSubEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub event publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := textutil.CleanAttributes(map[string]string{
		"type":          event.Type,
		"orderId":       event.OrderID,
		"customerId":    event.CustomerID,
		"currentStatus": event.CurrentStatus,
	}, maxAttributeValue)

	msg := &pubsub.Message{Data: data, Attributes: attrs}
	if p.topic.EnableMessageOrdering {
		msg.OrderingKey = event.OrderID
	}
	result := p.topic.Publish(ctx, msg)
	if _, err := result.Get(ctx); err != nil {
		if msg.OrderingKey != "" {
			p.topic.ResumePublish(msg.OrderingKey)
		}
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// PubSubNotifier sends notifications to the delivery service through Pub/Sub.
type PubSubNotifier struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.Notifier = (*PubSubNotifier)(nil)

// NewPubSubNotifier constructs a notifier writing to topic.
func NewPubSubNotifier(topic *pubsub.Topic) (*PubSubNotifier, error) {
	if topic == nil {
		return nil, errors.New("pubsub notifier: topic is required")
	}
	return &PubSubNotifier{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// Notify publishes the notification. Delivery to customers happens downstream.
func (n *PubSubNotifier) Notify(ctx context.Context, notification services.Notification) error {
	if n == nil || n.topic == nil {
		return errors.New("pubsub notifier: not initialised")
	}
	data, err := n.marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	attrs := textutil.CleanAttributes(map[string]string{
		"kind":       string(notification.Kind),
		"audience":   notification.Audience,
		"orderId":    notification.OrderID,
		"customerId": notification.CustomerID,
	}, maxAttributeValue)
	if attrs == nil {
		attrs = make(map[string]string, 1)
	}
	if !notification.CreatedAt.IsZero() {
		attrs["createdAt"] = notification.CreatedAt.UTC().Format(time.RFC3339)
	}

	result := n.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
