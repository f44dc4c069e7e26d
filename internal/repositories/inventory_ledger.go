package repositories

import (
	"fmt"
	"strings"
	"time"

	domain "github.com/tryathome/orderflow/internal/domain"
)

// InventoryOp names a ledger movement.
type InventoryOp string

const (
	InventoryOpReserve InventoryOp = "reserve"
	InventoryOpConfirm InventoryOp = "confirm"
	InventoryOpRelease InventoryOp = "release"
	InventoryOpReturn  InventoryOp = "return"
	// InventoryOpUnsell puts sold stock back on the shelf when a sale is cancelled before delivery.
	// Unlike a return it does not count towards Returned.
	InventoryOpUnsell  InventoryOp = "unsell"
)

// holdTransitions lists, per op, the hold status it requires and the status it produces.
var holdTransitions = map[InventoryOp]struct {
	from domain.HoldStatus
	to   domain.HoldStatus
}{
	InventoryOpConfirm: {from: domain.HoldStatusReserved, to: domain.HoldStatusSold},
	InventoryOpRelease: {from: domain.HoldStatusReserved, to: domain.HoldStatusReleased},
	InventoryOpReturn:  {from: domain.HoldStatusSold, to: domain.HoldStatusReturned},
	InventoryOpUnsell:  {from: domain.HoldStatusSold, to: domain.HoldStatusReleased},
}

// ValidateMovement rejects malformed ledger requests before any backend is touched.
func ValidateMovement(op InventoryOp, movement domain.InventoryMovement) error {
	name := "inventory." + string(op)
	if !movement.Key.Valid() {
		return NewInventoryError(name, InventoryErrorInvalidInput, "product and variant are required")
	}
	if movement.Quantity <= 0 {
		return NewInventoryError(name, InventoryErrorInvalidInput, fmt.Sprintf("quantity must be positive, got %d", movement.Quantity))
	}
	if strings.TrimSpace(movement.Ref) == "" {
		return NewInventoryError(name, InventoryErrorInvalidInput, "hold ref is required")
	}
	return nil
}

// ApplyMovement mutates line and hold in place for a single ledger op. Backends call it while holding
// the variant lock (row lock, transaction or mutex) and persist both records only when Applied is true.
// hold is nil when no hold exists for the ref yet; on reserve the returned result carries the new hold.
func ApplyMovement(op InventoryOp, line *domain.InventoryLine, hold *domain.InventoryHold, movement domain.InventoryMovement, now time.Time) (domain.InventoryResult, error) {
	name := "inventory." + string(op)
	if line == nil {
		return domain.InventoryResult{}, NewInventoryError(name, InventoryErrorStockNotFound, fmt.Sprintf("no stock line for %s", movement.Key))
	}

	if op == InventoryOpReserve {
		return applyReserve(line, hold, movement, now)
	}

	rule, ok := holdTransitions[op]
	if !ok {
		return domain.InventoryResult{}, NewInventoryError(name, InventoryErrorUnknown, fmt.Sprintf("unsupported op %s", op))
	}
	if hold == nil {
		return domain.InventoryResult{}, NewInventoryError(name, InventoryErrorReservationNotFound, fmt.Sprintf("no hold %s on %s", movement.Ref, movement.Key))
	}
	if hold.Key != movement.Key {
		return domain.InventoryResult{}, NewInventoryError(name, InventoryErrorInvalidReservationState, fmt.Sprintf("hold %s belongs to %s", hold.Ref, hold.Key))
	}
	if hold.Status == rule.to {
		return domain.InventoryResult{Line: *line, Hold: *hold}, nil
	}
	if hold.Status != rule.from {
		return domain.InventoryResult{}, NewInventoryError(name, InventoryErrorReservationNotFound, fmt.Sprintf("hold %s is %s, expected %s", hold.Ref, hold.Status, rule.from))
	}
	if movement.Quantity != hold.Quantity {
		return domain.InventoryResult{}, NewInventoryError(name, InventoryErrorInvalidReservationState, fmt.Sprintf("hold %s holds %d, movement asks %d", hold.Ref, hold.Quantity, movement.Quantity))
	}

	qty := hold.Quantity
	wasLow := line.IsLowStock()
	switch op {
	case InventoryOpConfirm:
		if line.Reserved < qty {
			return domain.InventoryResult{}, NewInventoryError(name, InventoryErrorReservationNotFound, fmt.Sprintf("reserved %d below %d on %s", line.Reserved, qty, movement.Key))
		}
		line.Reserved -= qty
		line.Sold += qty
	case InventoryOpRelease:
		if line.Reserved < qty {
			return domain.InventoryResult{}, NewInventoryError(name, InventoryErrorReservationNotFound, fmt.Sprintf("reserved %d below %d on %s", line.Reserved, qty, movement.Key))
		}
		line.Reserved -= qty
		line.Available += qty
	case InventoryOpReturn:
		if line.Sold < qty {
			return domain.InventoryResult{}, NewInventoryError(name, InventoryErrorInvalidReservationState, fmt.Sprintf("sold %d below %d on %s", line.Sold, qty, movement.Key))
		}
		line.Sold -= qty
		line.Available += qty
		line.Returned += qty
	case InventoryOpUnsell:
		if line.Sold < qty {
			return domain.InventoryResult{}, NewInventoryError(name, InventoryErrorInvalidReservationState, fmt.Sprintf("sold %d below %d on %s", line.Sold, qty, movement.Key))
		}
		line.Sold -= qty
		line.Available += qty
	}

	hold.Status = rule.to
	hold.UpdatedAt = now
	line.Version++
	line.UpdatedAt = now
	return domain.InventoryResult{
		Line:            *line,
		Hold:            *hold,
		Applied:         true,
		CrossedLowStock: !wasLow && line.IsLowStock(),
	}, nil
}

func applyReserve(line *domain.InventoryLine, hold *domain.InventoryHold, movement domain.InventoryMovement, now time.Time) (domain.InventoryResult, error) {
	const name = "inventory.reserve"
	if hold != nil {
		if hold.Status == domain.HoldStatusReserved && hold.Quantity == movement.Quantity && hold.Key == movement.Key {
			return domain.InventoryResult{Line: *line, Hold: *hold}, nil
		}
		return domain.InventoryResult{}, NewInventoryError(name, InventoryErrorInvalidReservationState, fmt.Sprintf("hold %s already %s", hold.Ref, hold.Status))
	}
	if line.Available < movement.Quantity {
		return domain.InventoryResult{}, NewInventoryError(name, InventoryErrorInsufficientStock, fmt.Sprintf("available %d below %d on %s", line.Available, movement.Quantity, movement.Key))
	}

	wasLow := line.IsLowStock()
	line.Available -= movement.Quantity
	line.Reserved += movement.Quantity
	line.Version++
	line.UpdatedAt = now

	created := domain.InventoryHold{
		Ref:       movement.Ref,
		Key:       movement.Key,
		Quantity:  movement.Quantity,
		Status:    domain.HoldStatusReserved,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return domain.InventoryResult{
		Line:            *line,
		Hold:            created,
		Applied:         true,
		CrossedLowStock: !wasLow && line.IsLowStock(),
	}, nil
}

// ApplyRestock adds quantity to available stock and optionally updates the threshold.
func ApplyRestock(line *domain.InventoryLine, req InventoryRestockRequest, now time.Time) error {
	if !req.Key.Valid() {
		return NewInventoryError("inventory.restock", InventoryErrorInvalidInput, "product and variant are required")
	}
	if req.Quantity < 0 {
		return NewInventoryError("inventory.restock", InventoryErrorInvalidInput, "quantity must not be negative")
	}
	if req.LowStockThreshold != nil && *req.LowStockThreshold < 0 {
		return NewInventoryError("inventory.restock", InventoryErrorInvalidInput, "threshold must not be negative")
	}
	line.Key = req.Key
	line.Available += req.Quantity
	if req.LowStockThreshold != nil {
		line.LowStockThreshold = *req.LowStockThreshold
	}
	line.Version++
	line.UpdatedAt = now
	return nil
}
