package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tryathome/orderflow/internal/services"
)

func newTestTopic(t *testing.T, name string) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, name)
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	t.Cleanup(topic.Stop)
	return srv, topic
}

func TestPubSubEventPublisherPublishesOrderEvent(t *testing.T) {
	srv, topic := newTestTopic(t, "order-events")
	topic.EnableMessageOrdering = true

	publisher, err := NewPubSubEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubEventPublisher: %v", err)
	}

	event := services.OrderEvent{
		Type:           "order.status.changed",
		OrderID:        "ord_1",
		OrderNumber:    "TH-2025-000001",
		CustomerID:     "cust_1",
		PreviousStatus: "confirmed",
		CurrentStatus:  "shipped",
		OccurredAt:     time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC),
	}
	if err := publisher.PublishOrderEvent(context.Background(), event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	var payload services.OrderEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != event.OrderID || payload.CurrentStatus != "shipped" || !payload.OccurredAt.Equal(event.OccurredAt) {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if got := messages[0].Attributes["type"]; got != "order.status.changed" {
		t.Fatalf("expected type attribute, got %q", got)
	}
	if got := messages[0].OrderingKey; got != "ord_1" {
		t.Fatalf("expected ordering key ord_1, got %q", got)
	}
}

func TestPubSubNotifierPublishesNotification(t *testing.T) {
	srv, topic := newTestTopic(t, "notifications")

	notifier, err := NewPubSubNotifier(topic)
	if err != nil {
		t.Fatalf("NewPubSubNotifier: %v", err)
	}
	created := time.Date(2025, 5, 6, 9, 30, 0, 0, time.UTC)
	err = notifier.Notify(context.Background(), services.Notification{
		ID:         "ntf_1",
		Kind:       services.NotificationRefundIssued,
		Audience:   "customer",
		OrderID:    "ord_1",
		CustomerID: "cust_1",
		Payload:    map[string]string{"amount": "₹499.50"},
		CreatedAt:  created,
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	attrs := messages[0].Attributes
	if attrs["kind"] != string(services.NotificationRefundIssued) || attrs["audience"] != "customer" {
		t.Fatalf("unexpected attributes %#v", attrs)
	}
	if attrs["createdAt"] != "2025-05-06T09:30:00Z" {
		t.Fatalf("unexpected createdAt attribute %q", attrs["createdAt"])
	}
	var payload services.Notification
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Payload["amount"] != "₹499.50" {
		t.Fatalf("unexpected payload %#v", payload)
	}
}

func TestPubSubPublishersRequireTopic(t *testing.T) {
	if _, err := NewPubSubEventPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
	if _, err := NewPubSubNotifier(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
