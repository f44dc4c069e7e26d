// Package firestore implements the repositories on Cloud Firestore.
package firestore

import (
	"context"
	"time"

	pfirestore "github.com/tryathome/orderflow/internal/platform/firestore"
	"github.com/tryathome/orderflow/internal/repositories"
)

// Registry wires the Firestore repositories around a shared provider.
type Registry struct {
	provider  *pfirestore.Provider
	orders    *OrderRepository
	inventory *InventoryRepository
	pickups   *PickupCodeRepository
	counters  *CounterRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs every Firestore repository. The provider is closed by Registry.Close.
func NewRegistry(provider *pfirestore.Provider, clock func() time.Time) (*Registry, error) {
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	inventory, err := NewInventoryRepository(provider, clock)
	if err != nil {
		return nil, err
	}
	pickups, err := NewPickupCodeRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider, clock)
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider:  provider,
		orders:    orders,
		inventory: inventory,
		pickups:   pickups,
		counters:  counters,
	}, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Inventory() repositories.InventoryRepository { return r.inventory }

func (r *Registry) PickupCodes() repositories.PickupCodeRepository { return r.pickups }

func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

func (r *Registry) HealthChecks() []repositories.DependencyCheck {
	return []repositories.DependencyCheck{{
		Name:  "firestore",
		Check: r.provider.Ping,
	}}
}
