package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	domain "github.com/tryathome/orderflow/internal/domain"
	"github.com/tryathome/orderflow/internal/repositories"
)

// InventoryRepository implements the ledger with one mutex per variant.
type InventoryRepository struct {
	clock func() time.Time

	mu    sync.Mutex
	lines map[domain.InventoryKey]*variantState
}

type variantState struct {
	mu    sync.Mutex
	line  domain.InventoryLine
	holds map[string]domain.InventoryHold
}

// NewInventoryRepository constructs an empty ledger.
func NewInventoryRepository(clock func() time.Time) *InventoryRepository {
	if clock == nil {
		clock = time.Now
	}
	return &InventoryRepository{
		clock: func() time.Time { return clock().UTC() },
		lines: make(map[domain.InventoryKey]*variantState),
	}
}

func (r *InventoryRepository) Reserve(ctx context.Context, movement domain.InventoryMovement) (domain.InventoryResult, error) {
	return r.apply(repositories.InventoryOpReserve, movement)
}

func (r *InventoryRepository) Confirm(ctx context.Context, movement domain.InventoryMovement) (domain.InventoryResult, error) {
	return r.apply(repositories.InventoryOpConfirm, movement)
}

func (r *InventoryRepository) Release(ctx context.Context, movement domain.InventoryMovement) (domain.InventoryResult, error) {
	return r.apply(repositories.InventoryOpRelease, movement)
}

func (r *InventoryRepository) ReturnStock(ctx context.Context, movement domain.InventoryMovement) (domain.InventoryResult, error) {
	return r.apply(repositories.InventoryOpReturn, movement)
}

func (r *InventoryRepository) Unsell(ctx context.Context, movement domain.InventoryMovement) (domain.InventoryResult, error) {
	return r.apply(repositories.InventoryOpUnsell, movement)
}

func (r *InventoryRepository) Get(_ context.Context, key domain.InventoryKey) (domain.InventoryLine, error) {
	state := r.variant(key, false)
	if state == nil {
		return domain.InventoryLine{}, repositories.NewInventoryError("inventory.get", repositories.InventoryErrorStockNotFound, fmt.Sprintf("no stock line for %s", key))
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.line, nil
}

func (r *InventoryRepository) Restock(_ context.Context, req repositories.InventoryRestockRequest) (domain.InventoryLine, error) {
	if !req.Key.Valid() {
		return domain.InventoryLine{}, repositories.NewInventoryError("inventory.restock", repositories.InventoryErrorInvalidInput, "product and variant are required")
	}
	state := r.variant(req.Key, true)
	state.mu.Lock()
	defer state.mu.Unlock()
	line := state.line
	if err := repositories.ApplyRestock(&line, req, r.clock()); err != nil {
		return domain.InventoryLine{}, err
	}
	state.line = line
	return line, nil
}

func (r *InventoryRepository) apply(op repositories.InventoryOp, movement domain.InventoryMovement) (domain.InventoryResult, error) {
	if err := repositories.ValidateMovement(op, movement); err != nil {
		return domain.InventoryResult{}, err
	}
	state := r.variant(movement.Key, false)
	if state == nil {
		return repositories.ApplyMovement(op, nil, nil, movement, r.clock())
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	line := state.line
	var hold *domain.InventoryHold
	if existing, ok := state.holds[movement.Ref]; ok {
		hold = &existing
	}
	result, err := repositories.ApplyMovement(op, &line, hold, movement, r.clock())
	if err != nil {
		return domain.InventoryResult{}, err
	}
	if result.Applied {
		state.line = result.Line
		state.holds[movement.Ref] = result.Hold
	}
	return result, nil
}

func (r *InventoryRepository) variant(key domain.InventoryKey, create bool) *variantState {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.lines[key]
	if !ok && create {
		state = &variantState{line: domain.InventoryLine{Key: key}, holds: make(map[string]domain.InventoryHold)}
		r.lines[key] = state
	}
	return state
}
