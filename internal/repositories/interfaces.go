package repositories

import (
	"context"
	"time"

	domain "github.com/tryathome/orderflow/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Inventory() InventoryRepository
	PickupCodes() PickupCodeRepository
	Counters() CounterRepository
	// HealthChecks returns the readiness probes for the backing store.
	HealthChecks() []DependencyCheck
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderMutation mutates a private copy of the order. Returning an error aborts the write.
type OrderMutation func(order *domain.Order) error

// OrderRepository persists order aggregates. Mutate is the only way to change a stored order and
// must run the read-modify-write atomically with respect to other writers of the same order.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByPaymentReference(ctx context.Context, reference string) (domain.Order, error)
	ListByCustomer(ctx context.Context, customerID string, pager domain.Pagination) (domain.Page[domain.Order], error)
	ListTrialsEndingBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error)
	Mutate(ctx context.Context, orderID string, fn OrderMutation) (domain.Order, error)
}

// InventoryRepository is the inventory ledger. Every movement is atomic per variant and keyed by a
// hold ref so that retries with the same ref are no-ops.
type InventoryRepository interface {
	Reserve(ctx context.Context, movement domain.InventoryMovement) (domain.InventoryResult, error)
	Confirm(ctx context.Context, movement domain.InventoryMovement) (domain.InventoryResult, error)
	Release(ctx context.Context, movement domain.InventoryMovement) (domain.InventoryResult, error)
	ReturnStock(ctx context.Context, movement domain.InventoryMovement) (domain.InventoryResult, error)
	Unsell(ctx context.Context, movement domain.InventoryMovement) (domain.InventoryResult, error)
	Get(ctx context.Context, key domain.InventoryKey) (domain.InventoryLine, error)
	Restock(ctx context.Context, req InventoryRestockRequest) (domain.InventoryLine, error)
}

// InventoryRestockRequest adds stock to a variant, creating the line when absent.
type InventoryRestockRequest struct {
	Key               domain.InventoryKey
	Quantity          int
	LowStockThreshold *int
}

// PickupCodeRepository enforces uniqueness of outstanding return pickup codes.
type PickupCodeRepository interface {
	// Claim fails with a conflict error when the code is already held by another order.
	Claim(ctx context.Context, code, orderID string, claimedAt time.Time) error
	Release(ctx context.Context, code string) error
}

// CounterRepository issues monotonically increasing sequence values.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}
