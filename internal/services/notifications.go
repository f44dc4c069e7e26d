package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	domain "github.com/tryathome/orderflow/internal/domain"
)

// NotificationKind selects the template rendered by the delivery worker.
type NotificationKind string

const (
	NotificationOrderPlaced      NotificationKind = "order_placed"
	NotificationStatusChanged    NotificationKind = "order_status_changed"
	NotificationReturnScheduled  NotificationKind = "return_pickup_scheduled"
	NotificationRefundIssued     NotificationKind = "refund_issued"
	NotificationManualPayout     NotificationKind = "refund_manual_payout"
	NotificationLowStock         NotificationKind = "inventory_low_stock"
	notificationAudienceCustomer                  = "customer"
	notificationAudienceOperator                  = "operator"
)

// Notification is a transactional message handed to the delivery channel.
type Notification struct {
	ID         string            `json:"id"`
	Kind       NotificationKind  `json:"kind"`
	Audience   string            `json:"audience"`
	OrderID    string            `json:"orderId,omitempty"`
	CustomerID string            `json:"customerId,omitempty"`
	Payload    map[string]string `json:"payload,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Notifier delivers notifications. Implementations may block on the network.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// ErrDispatcherClosed is returned when enqueueing after Close.
var ErrDispatcherClosed = errors.New("notification dispatcher: closed")

const (
	defaultDispatchQueue   = 256
	defaultDispatchWorkers = 2
	defaultDispatchTimeout = 10 * time.Second
)

// NotificationDispatcherDeps configures the background delivery of notifications.
type NotificationDispatcherDeps struct {
	Notifier Notifier
	Workers  int
	Queue    int
	Timeout  time.Duration
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// NotificationDispatcher decouples notification delivery from request handling. Enqueue never blocks:
// when the queue is full the notification is dropped and logged, which never affects order state.
type NotificationDispatcher struct {
	notifier Notifier
	queue    chan Notification
	timeout  time.Duration
	logger   func(context.Context, string, map[string]any)

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewNotificationDispatcher starts the delivery workers.
func NewNotificationDispatcher(deps NotificationDispatcherDeps) (*NotificationDispatcher, error) {
	if deps.Notifier == nil {
		return nil, errors.New("notification dispatcher: notifier is required")
	}
	workers := deps.Workers
	if workers <= 0 {
		workers = defaultDispatchWorkers
	}
	size := deps.Queue
	if size <= 0 {
		size = defaultDispatchQueue
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	d := &NotificationDispatcher{
		notifier: deps.Notifier,
		queue:    make(chan Notification, size),
		timeout:  timeout,
		logger:   logger,
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.run()
	}
	return d, nil
}

// Notify enqueues the notification for background delivery.
func (d *NotificationDispatcher) Notify(ctx context.Context, notification Notification) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- notification:
		return nil
	default:
		d.logger(ctx, "notification.dropped", map[string]any{
			"kind":    string(notification.Kind),
			"orderId": notification.OrderID,
		})
		return nil
	}
}

// Close stops accepting notifications and waits for queued ones to be delivered or ctx to end.
func (d *NotificationDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *NotificationDispatcher) run() {
	defer d.wg.Done()
	for notification := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.notifier.Notify(ctx, notification); err != nil {
			d.logger(ctx, "notification.delivery.failed", map[string]any{
				"kind":    string(notification.Kind),
				"orderId": notification.OrderID,
				"error":   err,
			})
		}
		cancel()
	}
}

// FormatAmount renders minor units as a localised currency string, e.g. "₹ 1,299.00".
func FormatAmount(amount int64, currencyCode string, tag language.Tag) string {
	code := strings.ToUpper(strings.TrimSpace(currencyCode))
	unit, err := currency.ParseISO(code)
	if err != nil {
		return domain.FormatMinorUnits(amount, code) + " " + code
	}
	value, _ := domain.FromMinorUnits(amount, code).Float64()
	printer := message.NewPrinter(tag)
	return printer.Sprint(currency.Symbol(unit.Amount(value)))
}
