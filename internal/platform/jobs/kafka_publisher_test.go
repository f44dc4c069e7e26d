package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/tryathome/orderflow/internal/services"
)

type stubWriter struct {
	writeFn  func(msgs []kafka.Message) error
	messages []kafka.Message
	closed   bool
}

func (w *stubWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.writeFn != nil {
		if err := w.writeFn(msgs); err != nil {
			return err
		}
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *stubWriter) Close() error {
	w.closed = true
	return nil
}

type stubPublisher struct {
	publishFn func(services.OrderEvent) error
	calls     int
}

func (p *stubPublisher) PublishOrderEvent(_ context.Context, event services.OrderEvent) error {
	p.calls++
	if p.publishFn != nil {
		return p.publishFn(event)
	}
	return nil
}

func TestKafkaEventPublisherKeysByOrder(t *testing.T) {
	writer := &stubWriter{}
	publisher := newKafkaEventPublisher(writer)

	event := services.OrderEvent{
		Type:          "order.created",
		OrderID:       "ord_9",
		CurrentStatus: "created",
		OccurredAt:    time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC),
	}
	if err := publisher.PublishOrderEvent(context.Background(), event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}
	if len(writer.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(writer.messages))
	}
	msg := writer.messages[0]
	if string(msg.Key) != "ord_9" {
		t.Fatalf("expected key ord_9, got %q", msg.Key)
	}
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["type"] != "order.created" || headers["status"] != "created" {
		t.Fatalf("unexpected headers %#v", headers)
	}
	var payload services.OrderEvent
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.OrderID != "ord_9" {
		t.Fatalf("unexpected payload %#v", payload)
	}

	if err := publisher.Close(); err != nil || !writer.closed {
		t.Fatalf("expected writer closed, err=%v", err)
	}
}

func TestKafkaEventPublisherWrapsWriteErrors(t *testing.T) {
	boom := errors.New("broker down")
	publisher := newKafkaEventPublisher(&stubWriter{writeFn: func([]kafka.Message) error { return boom }})
	err := publisher.PublishOrderEvent(context.Background(), services.OrderEvent{OrderID: "ord_1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped write error, got %v", err)
	}
}

func TestNewKafkaEventPublisherValidates(t *testing.T) {
	tests := []struct {
		name    string
		brokers []string
		topic   string
	}{
		{name: "no brokers", brokers: nil, topic: "orders"},
		{name: "blank brokers", brokers: []string{" "}, topic: "orders"},
		{name: "no topic", brokers: []string{"localhost:9092"}, topic: " "},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewKafkaEventPublisher(tc.brokers, tc.topic); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestFanoutPublisherAttemptsEveryPublisher(t *testing.T) {
	boom := errors.New("down")
	first := &stubPublisher{publishFn: func(services.OrderEvent) error { return boom }}
	second := &stubPublisher{}

	err := FanoutPublisher{first, nil, second}.PublishOrderEvent(context.Background(), services.OrderEvent{OrderID: "ord_1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Fatalf("expected both publishers called, got %d and %d", first.calls, second.calls)
	}
}
