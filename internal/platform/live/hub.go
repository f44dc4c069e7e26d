// Package live fans committed order status changes out to connected subscribers.
package live

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/tryathome/orderflow/internal/services"
)

const subscriberBuffer = 16

// ErrClosed is returned when subscribing to a closed broker.
var ErrClosed = errors.New("live: broker closed")

// Subscription is a stream of status updates for a single order.
type Subscription interface {
	Updates() <-chan services.StatusUpdate
	Close() error
}

// Broker publishes status updates and hands out per-order subscriptions.
type Broker interface {
	services.StatusPublisher
	Subscribe(ctx context.Context, orderID string) (Subscription, error)
}

// Hub is an in-process broker for single-instance deployments. Slow subscribers miss frames instead
// of blocking the publisher.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*hubSubscription]struct{}
	closed bool
}

var _ Broker = (*Hub)(nil)

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*hubSubscription]struct{})}
}

// PublishStatus delivers the update to every current subscriber of the order.
func (h *Hub) PublishStatus(_ context.Context, update services.StatusUpdate) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[update.OrderID] {
		select {
		case sub.ch <- update:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber for orderID.
func (h *Hub) Subscribe(_ context.Context, orderID string) (Subscription, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("live: order id is required")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	sub := &hubSubscription{hub: h, orderID: orderID, ch: make(chan services.StatusUpdate, subscriberBuffer)}
	if h.subs[orderID] == nil {
		h.subs[orderID] = make(map[*hubSubscription]struct{})
	}
	h.subs[orderID][sub] = struct{}{}
	return sub, nil
}

// Close terminates every subscription.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for orderID, subs := range h.subs {
		for sub := range subs {
			close(sub.ch)
		}
		delete(h.subs, orderID)
	}
	return nil
}

func (h *Hub) remove(sub *hubSubscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.subs[sub.orderID]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.ch)
	if len(subs) == 0 {
		delete(h.subs, sub.orderID)
	}
}

type hubSubscription struct {
	hub     *Hub
	orderID string
	ch      chan services.StatusUpdate
}

func (s *hubSubscription) Updates() <-chan services.StatusUpdate { return s.ch }

func (s *hubSubscription) Close() error {
	s.hub.remove(s)
	return nil
}
