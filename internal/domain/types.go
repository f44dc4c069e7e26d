package domain

import (
	"strings"
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// Page wraps a list response with the token for the next page, if any.
type Page[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusCreated indicates inventory is reserved and payment is outstanding.
	OrderStatusCreated OrderStatus = "created"
	// OrderStatusConfirmed indicates payment settled (or COD verified) and stock is sold.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusOutForDelivery indicates the shipping collaborator has dispatched the parcel.
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	// OrderStatusDelivered indicates the parcel reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusTrialStarted indicates the try-at-home window is running.
	OrderStatusTrialStarted OrderStatus = "trial_started"
	// OrderStatusTrialCompleted indicates every item has a kept/returned disposition.
	OrderStatusTrialCompleted OrderStatus = "trial_completed"
	// OrderStatusReturnInitiated indicates a pickup has been scheduled for returned items.
	OrderStatusReturnInitiated OrderStatus = "return_initiated"
	// OrderStatusReturnCompleted indicates returned goods were received back.
	OrderStatusReturnCompleted OrderStatus = "return_completed"
	// OrderStatusCancelled indicates the order was cancelled before delivery.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusReturnCompleted
}

// LineDisposition records what the customer decided for a line item during the trial.
type LineDisposition string

const (
	LineDispositionPending  LineDisposition = "pending"
	LineDispositionKept     LineDisposition = "kept"
	LineDispositionReturned LineDisposition = "returned"
)

// Order is the aggregate root for one customer purchase.
type Order struct {
	ID               string
	Number           string
	CustomerID       string
	Status           OrderStatus
	Currency         string
	Total            int64
	LineItems        []LineItem
	Address          Address
	Payment          Payment
	Timestamps       OrderTimestamps
	ReturnPickupCode string
	TrialLapsed      bool
	CancelReason     string
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// LineItem stores a single variant entry frozen at order time.
type LineItem struct {
	ID          string
	ProductID   string
	VariantID   string
	Name        string
	Quantity    int
	UnitPrice   int64
	Disposition LineDisposition
}

// Subtotal returns the frozen price multiplied by quantity.
func (l LineItem) Subtotal() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

// InventoryKey returns the ledger key for the variant referenced by the line.
func (l LineItem) InventoryKey() InventoryKey {
	return InventoryKey{ProductID: l.ProductID, VariantID: l.VariantID}
}

// HoldRef identifies the inventory hold created for the line on behalf of an order.
func (l LineItem) HoldRef(orderID string) string {
	return orderID + "/" + l.ID
}

// OrderTimestamps holds one optional timestamp per lifecycle transition.
type OrderTimestamps struct {
	ConfirmedAt       *time.Time
	OutForDeliveryAt  *time.Time
	DeliveredAt       *time.Time
	TrialStartedAt    *time.Time
	TrialEndsAt       *time.Time
	TrialCompletedAt  *time.Time
	ReturnInitiatedAt *time.Time
	ReturnCompletedAt *time.Time
	CancelledAt       *time.Time
}

// Address represents the delivery address snapshot captured at order time.
type Address struct {
	Recipient  string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

// MissingFields lists the required address fields that are blank.
func (a Address) MissingFields() []string {
	var missing []string
	required := []struct {
		name  string
		value string
	}{
		{"recipient", a.Recipient},
		{"line1", a.Line1},
		{"city", a.City},
		{"postalCode", a.PostalCode},
		{"country", a.Country},
		{"phone", a.Phone},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			missing = append(missing, field.name)
		}
	}
	return missing
}

// PaymentStatus tracks settlement independently from the order status.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// Payment is the payment sub-record owned by the order.
type Payment struct {
	Method            PaymentMethod
	ProviderReference string
	Status            PaymentStatus
	TransactionID     string
	VerificationCode  string
	Amount            int64
	RefundedAmount    int64
	Refunds           []Refund
	PaidAt            *time.Time
	FailedAt          *time.Time
	FailureReason     string
}

// Refundable returns the amount still available for refunds.
func (p Payment) Refundable() int64 {
	remaining := p.Amount - p.RefundedAmount
	for _, refund := range p.Refunds {
		if refund.Status == RefundStatusRequested || refund.Status == RefundStatusPending {
			remaining -= refund.Amount
		}
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}

// FindRefund locates a refund by local id or provider refund id.
func (p Payment) FindRefund(id string) (int, bool) {
	if id == "" {
		return -1, false
	}
	for i, refund := range p.Refunds {
		if refund.ID == id || refund.ProviderRefundID == id {
			return i, true
		}
	}
	return -1, false
}

// RefundStatus describes the lifecycle of an individual refund.
type RefundStatus string

const (
	RefundStatusRequested RefundStatus = "requested"
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusProcessed RefundStatus = "processed"
	RefundStatusFailed    RefundStatus = "failed"
)

// Refund stores one refund request against the order payment.
type Refund struct {
	ID               string
	Amount           int64
	Reason           string
	Status           RefundStatus
	ProviderRefundID string
	RequestedAt      time.Time
	ProcessedAt      *time.Time
}

// Clone returns a deep copy so callers can mutate without aliasing slices or pointers.
func (o Order) Clone() Order {
	out := o
	if len(o.LineItems) > 0 {
		out.LineItems = append([]LineItem(nil), o.LineItems...)
	}
	if len(o.Payment.Refunds) > 0 {
		out.Payment.Refunds = append([]Refund(nil), o.Payment.Refunds...)
		for i := range out.Payment.Refunds {
			out.Payment.Refunds[i].ProcessedAt = cloneTime(out.Payment.Refunds[i].ProcessedAt)
		}
	}
	out.Payment.PaidAt = cloneTime(o.Payment.PaidAt)
	out.Payment.FailedAt = cloneTime(o.Payment.FailedAt)
	out.Payment.Method = o.Payment.Method.Clone()
	ts := o.Timestamps
	out.Timestamps = OrderTimestamps{
		ConfirmedAt:       cloneTime(ts.ConfirmedAt),
		OutForDeliveryAt:  cloneTime(ts.OutForDeliveryAt),
		DeliveredAt:       cloneTime(ts.DeliveredAt),
		TrialStartedAt:    cloneTime(ts.TrialStartedAt),
		TrialEndsAt:       cloneTime(ts.TrialEndsAt),
		TrialCompletedAt:  cloneTime(ts.TrialCompletedAt),
		ReturnInitiatedAt: cloneTime(ts.ReturnInitiatedAt),
		ReturnCompletedAt: cloneTime(ts.ReturnCompletedAt),
		CancelledAt:       cloneTime(ts.CancelledAt),
	}
	return out
}

// ComputeTotal sums frozen line prices. Only used when the order is constructed.
func ComputeTotal(items []LineItem) int64 {
	var total int64
	for _, item := range items {
		total += item.Subtotal()
	}
	return total
}

// ReturnedValue sums the value of line items marked as returned.
func (o Order) ReturnedValue() int64 {
	var total int64
	for _, item := range o.LineItems {
		if item.Disposition == LineDispositionReturned {
			total += item.Subtotal()
		}
	}
	return total
}

// HasReturnedItems reports whether at least one line item is marked returned.
func (o Order) HasReturnedItems() bool {
	for _, item := range o.LineItems {
		if item.Disposition == LineDispositionReturned {
			return true
		}
	}
	return false
}

// TrialExpired reports whether the trial window has lapsed at the provided instant.
func (o Order) TrialExpired(now time.Time) bool {
	if o.Status != OrderStatusTrialStarted || o.Timestamps.TrialEndsAt == nil {
		return false
	}
	return now.After(*o.Timestamps.TrialEndsAt)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
