package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/text/language"
)

type blockingNotifier struct {
	release chan struct{}
	mu      sync.Mutex
	got     []Notification
}

func (b *blockingNotifier) Notify(_ context.Context, n Notification) error {
	<-b.release
	b.mu.Lock()
	defer b.mu.Unlock()
	b.got = append(b.got, n)
	return nil
}

func TestNotificationDispatcherDeliversQueuedOnClose(t *testing.T) {
	sink := &captureNotifier{}
	dispatcher, err := NewNotificationDispatcher(NotificationDispatcherDeps{Notifier: sink, Workers: 1})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := dispatcher.Notify(context.Background(), Notification{Kind: NotificationStatusChanged}); err != nil {
			t.Fatalf("notify: %v", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := dispatcher.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if sink.count(NotificationStatusChanged) != 5 {
		t.Fatalf("expected all queued notifications delivered, got %d", sink.count(NotificationStatusChanged))
	}
	if err := dispatcher.Notify(context.Background(), Notification{}); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
}

func TestNotificationDispatcherDropsWhenFull(t *testing.T) {
	sink := &blockingNotifier{release: make(chan struct{})}
	logs := &captureLogger{}
	dispatcher, err := NewNotificationDispatcher(NotificationDispatcherDeps{Notifier: sink, Workers: 1, Queue: 1, Logger: logs.log})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			_ = dispatcher.Notify(context.Background(), Notification{Kind: NotificationOrderPlaced})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("notify blocked on a full queue")
	}
	if !logs.has("notification.dropped") {
		t.Fatalf("expected dropped notifications to be logged")
	}

	close(sink.release)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := dispatcher.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNotificationDispatcherRequiresNotifier(t *testing.T) {
	if _, err := NewNotificationDispatcher(NotificationDispatcherDeps{}); err == nil {
		t.Fatalf("expected error without notifier")
	}
}

func TestFormatAmount(t *testing.T) {
	usd := FormatAmount(129950, "USD", language.English)
	if !strings.Contains(usd, "$") || !strings.Contains(usd, "1,299.50") {
		t.Fatalf("unexpected USD rendering %q", usd)
	}
	if got := FormatAmount(1250, "ZZZ", language.English); !strings.HasSuffix(got, " ZZZ") {
		t.Fatalf("expected fallback rendering, got %q", got)
	}
}
