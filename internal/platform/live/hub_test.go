package live

import (
	"context"
	"testing"
	"time"

	"github.com/tryathome/orderflow/internal/services"
)

func TestHubDeliversToOrderSubscribersOnly(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	ctx := context.Background()

	mine, err := hub.Subscribe(ctx, "ord_1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	other, err := hub.Subscribe(ctx, "ord_2")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	at := time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC)
	if err := hub.PublishStatus(ctx, services.StatusUpdate{OrderID: "ord_1", Status: "shipped", Timestamp: at}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case update := <-mine.Updates():
		if update.Status != "shipped" || !update.Timestamp.Equal(at) {
			t.Fatalf("unexpected update %#v", update)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected update for ord_1")
	}
	select {
	case update := <-other.Updates():
		t.Fatalf("unexpected update for ord_2: %#v", update)
	default:
	}
}

func TestHubDropsForSlowSubscribers(t *testing.T) {
	hub := NewHub()
	sub, err := hub.Subscribe(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	for i := 0; i < subscriberBuffer*2; i++ {
		if err := hub.PublishStatus(context.Background(), services.StatusUpdate{OrderID: "ord_1", Status: "confirmed"}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if got := len(sub.Updates()); got != subscriberBuffer {
		t.Fatalf("expected buffer of %d, got %d", subscriberBuffer, got)
	}
}

func TestHubCloseEndsSubscriptions(t *testing.T) {
	hub := NewHub()
	sub, err := hub.Subscribe(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("close subscription: %v", err)
	}
	if _, ok := <-sub.Updates(); ok {
		t.Fatalf("expected closed channel")
	}
	_ = sub.Close()

	_ = hub.Close()
	if _, err := hub.Subscribe(context.Background(), "ord_1"); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
