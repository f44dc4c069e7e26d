package domain

import (
	"strings"
	"time"
)

// InventoryKey identifies one tracked variant of a product.
type InventoryKey struct {
	ProductID string
	VariantID string
}

// String renders the key in the form used for document ids and log fields.
func (k InventoryKey) String() string {
	return k.ProductID + ":" + k.VariantID
}

// Valid reports whether both components are present.
func (k InventoryKey) Valid() bool {
	return strings.TrimSpace(k.ProductID) != "" && strings.TrimSpace(k.VariantID) != ""
}

// InventoryLine carries the counters for one variant.
type InventoryLine struct {
	Key               InventoryKey
	Available         int
	Reserved          int
	Sold              int
	Returned          int
	LowStockThreshold int
	Version           int64
	UpdatedAt         time.Time
}

// Conserved returns available + reserved + sold, which only changes on restock or returns.
func (l InventoryLine) Conserved() int {
	return l.Available + l.Reserved + l.Sold
}

// NonNegative reports whether every counter is zero or positive.
func (l InventoryLine) NonNegative() bool {
	return l.Available >= 0 && l.Reserved >= 0 && l.Sold >= 0 && l.Returned >= 0
}

// IsLowStock reports whether available stock sits at or below the configured threshold.
func (l InventoryLine) IsLowStock() bool {
	return l.LowStockThreshold > 0 && l.Available <= l.LowStockThreshold
}

// HoldStatus tracks the lifecycle of a single reservation.
type HoldStatus string

const (
	HoldStatusReserved HoldStatus = "reserved"
	HoldStatusSold     HoldStatus = "sold"
	HoldStatusReleased HoldStatus = "released"
	HoldStatusReturned HoldStatus = "returned"
)

// InventoryHold records a quantity held against a variant under a caller supplied ref.
type InventoryHold struct {
	Ref       string
	Key       InventoryKey
	Quantity  int
	Status    HoldStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// InventoryMovement describes a single ledger request.
type InventoryMovement struct {
	Key      InventoryKey
	Quantity int
	Ref      string
}

// InventoryResult is returned by ledger mutations.
type InventoryResult struct {
	Line InventoryLine
	Hold InventoryHold
	// Applied is false when the call was a retry of an already applied movement.
	Applied bool
	// CrossedLowStock is true when this movement moved available stock to or below the threshold.
	CrossedLowStock bool
}
