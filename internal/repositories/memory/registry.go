// Package memory provides process-local repositories for tests and single-instance development.
package memory

import (
	"context"
	"time"

	"github.com/tryathome/orderflow/internal/repositories"
)

// Registry bundles the in-memory repositories behind repositories.Registry.
type Registry struct {
	orders    *OrderRepository
	inventory *InventoryRepository
	pickups   *PickupCodeRepository
	counters  *CounterRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs empty in-memory repositories sharing the provided clock.
func NewRegistry(clock func() time.Time) *Registry {
	return &Registry{
		orders:    NewOrderRepository(),
		inventory: NewInventoryRepository(clock),
		pickups:   NewPickupCodeRepository(),
		counters:  NewCounterRepository(),
	}
}

func (r *Registry) Close(context.Context) error { return nil }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Inventory() repositories.InventoryRepository { return r.inventory }

func (r *Registry) PickupCodes() repositories.PickupCodeRepository { return r.pickups }

func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

func (r *Registry) HealthChecks() []repositories.DependencyCheck {
	return []repositories.DependencyCheck{{
		Name:  "memory",
		Check: func(context.Context) error { return nil },
	}}
}
