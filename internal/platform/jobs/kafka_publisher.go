package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/tryathome/orderflow/internal/services"
)

// messageWriter is the subset of *kafka.Writer used by the publisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaEventPublisher streams order events to a Kafka topic keyed by order id, so every event of an
// order lands on the same partition in commit order.
type KafkaEventPublisher struct {
	writer  messageWriter
	marshal func(any) ([]byte, error)
}

var _ services.OrderEventPublisher = (*KafkaEventPublisher)(nil)

// NewKafkaEventPublisher constructs a publisher writing to topic on brokers.
func NewKafkaEventPublisher(brokers []string, topic string) (*KafkaEventPublisher, error) {
	addrs := make([]string, 0, len(brokers))
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	if len(addrs) == 0 {
		return nil, errors.New("kafka event publisher: at least one broker is required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("kafka event publisher: topic is required")
	}
	return newKafkaEventPublisher(&kafka.Writer{
		Addr:         kafka.TCP(addrs...),
		Topic:        strings.TrimSpace(topic),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}), nil
}

func newKafkaEventPublisher(writer messageWriter) *KafkaEventPublisher {
	return &KafkaEventPublisher{writer: writer, marshal: json.Marshal}
}

// PublishOrderEvent writes the event synchronously.
func (p *KafkaEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.writer == nil {
		return errors.New("kafka event publisher: not initialised")
	}
	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.OrderID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(event.Type)},
			{Key: "status", Value: []byte(event.CurrentStatus)},
		},
		Time: event.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write order event: %w", err)
	}
	return nil
}

// Close flushes pending writes.
func (p *KafkaEventPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// FanoutPublisher publishes each event to every configured publisher. All publishers are attempted.
type FanoutPublisher []services.OrderEventPublisher

var _ services.OrderEventPublisher = FanoutPublisher(nil)

func (f FanoutPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.PublishOrderEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
