package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/tryathome/orderflow/internal/repositories"
)

// Registry wires the PostgreSQL repositories around a shared pool.
type Registry struct {
	db        *sql.DB
	orders    *OrderRepository
	inventory *InventoryRepository
	pickups   *PickupCodeRepository
	counters  *CounterRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs every repository. The pool is closed by Registry.Close.
func NewRegistry(db *sql.DB, clock func() time.Time) (*Registry, error) {
	orders, err := NewOrderRepository(db)
	if err != nil {
		return nil, err
	}
	inventory, err := NewInventoryRepository(db, clock)
	if err != nil {
		return nil, err
	}
	pickups, err := NewPickupCodeRepository(db)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(db, clock)
	if err != nil {
		return nil, err
	}
	return &Registry{db: db, orders: orders, inventory: inventory, pickups: pickups, counters: counters}, nil
}

func (r *Registry) Close(context.Context) error { return r.db.Close() }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Inventory() repositories.InventoryRepository { return r.inventory }

func (r *Registry) PickupCodes() repositories.PickupCodeRepository { return r.pickups }

func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

func (r *Registry) HealthChecks() []repositories.DependencyCheck {
	return []repositories.DependencyCheck{{
		Name:  "postgres",
		Check: r.db.PingContext,
	}}
}
