package live

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tryathome/orderflow/internal/services"
)

func TestRedisBrokerRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	broker, err := NewRedisBroker(client, "orderflow-test:", nil)
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := broker.Subscribe(ctx, "ord_live")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if err := broker.PublishStatus(ctx, services.StatusUpdate{OrderID: "ord_live", Status: "delivered", Timestamp: time.Now().UTC()}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case update := <-sub.Updates():
		if update.OrderID != "ord_live" || update.Status != "delivered" {
			t.Fatalf("unexpected update %#v", update)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for update")
	}
}

func TestNewRedisBrokerRequiresClient(t *testing.T) {
	if _, err := NewRedisBroker(nil, "", nil); err == nil {
		t.Fatalf("expected error without client")
	}
}
