package domain

import (
	"errors"
	"testing"
	"time"
)

var allStatuses = []OrderStatus{
	OrderStatusCreated,
	OrderStatusConfirmed,
	OrderStatusOutForDelivery,
	OrderStatusDelivered,
	OrderStatusTrialStarted,
	OrderStatusTrialCompleted,
	OrderStatusReturnInitiated,
	OrderStatusReturnCompleted,
	OrderStatusCancelled,
}

var allEvents = []OrderEvent{
	OrderEventPaymentSettled,
	OrderEventPaymentFailed,
	OrderEventDispatch,
	OrderEventDeliver,
	OrderEventStartTrial,
	OrderEventCompleteTrial,
	OrderEventInitiateReturn,
	OrderEventReceiveReturn,
	OrderEventCancel,
}

func TestNextStatus_HappyPath(t *testing.T) {
	steps := []struct {
		event OrderEvent
		want  OrderStatus
	}{
		{OrderEventPaymentSettled, OrderStatusConfirmed},
		{OrderEventDispatch, OrderStatusOutForDelivery},
		{OrderEventDeliver, OrderStatusDelivered},
		{OrderEventStartTrial, OrderStatusTrialStarted},
		{OrderEventCompleteTrial, OrderStatusTrialCompleted},
		{OrderEventInitiateReturn, OrderStatusReturnInitiated},
		{OrderEventReceiveReturn, OrderStatusReturnCompleted},
	}

	status := OrderStatusCreated
	for _, step := range steps {
		next, err := NextStatus(status, step.event)
		if err != nil {
			t.Fatalf("%s from %s: unexpected error %v", step.event, status, err)
		}
		if next != step.want {
			t.Fatalf("%s from %s: expected %s got %s", step.event, status, step.want, next)
		}
		status = next
	}
	if !status.IsTerminal() {
		t.Fatalf("expected %s to be terminal", status)
	}
}

func TestNextStatus_CancelOnlyBeforeDelivery(t *testing.T) {
	allowed := map[OrderStatus]bool{
		OrderStatusCreated:        true,
		OrderStatusConfirmed:      true,
		OrderStatusOutForDelivery: true,
	}
	for _, status := range allStatuses {
		next, err := NextStatus(status, OrderEventCancel)
		if allowed[status] {
			if err != nil || next != OrderStatusCancelled {
				t.Fatalf("cancel from %s: expected cancelled, got %s err=%v", status, next, err)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("cancel from %s: expected ErrInvalidTransition, got %v", status, err)
		}
		if next != status {
			t.Fatalf("cancel from %s: rejected transition must return current status, got %s", status, next)
		}
	}
}

func TestNextStatus_EveryPairIsEitherListedOrRejected(t *testing.T) {
	legal := 0
	for _, status := range allStatuses {
		for _, event := range allEvents {
			_, err := NextStatus(status, event)
			if CanApply(status, event) {
				legal++
				if err != nil {
					t.Fatalf("%s/%s: CanApply true but NextStatus failed: %v", status, event, err)
				}
				continue
			}
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("%s/%s: expected ErrInvalidTransition, got %v", status, event, err)
			}
		}
	}
	if legal != len(orderTransitions) {
		t.Fatalf("expected %d legal pairs, counted %d", len(orderTransitions), legal)
	}
}

func TestNextStatus_TerminalStatesAcceptNothing(t *testing.T) {
	for _, status := range []OrderStatus{OrderStatusCancelled, OrderStatusReturnCompleted} {
		for _, event := range allEvents {
			if CanApply(status, event) {
				t.Fatalf("terminal status %s accepted %s", status, event)
			}
		}
	}
}

func TestDeliveryEventFor(t *testing.T) {
	if event, ok := DeliveryEventFor(OrderStatusOutForDelivery); !ok || event != OrderEventDispatch {
		t.Fatalf("expected dispatch event, got %s %v", event, ok)
	}
	if event, ok := DeliveryEventFor(OrderStatusDelivered); !ok || event != OrderEventDeliver {
		t.Fatalf("expected deliver event, got %s %v", event, ok)
	}
	if _, ok := DeliveryEventFor(OrderStatusTrialStarted); ok {
		t.Fatalf("trial status must not map to a delivery event")
	}
}

func TestOrderTotalsAndDispositions(t *testing.T) {
	order := Order{
		LineItems: []LineItem{
			{ID: "li_1", UnitPrice: 1999, Quantity: 2, Disposition: LineDispositionKept},
			{ID: "li_2", UnitPrice: 500, Quantity: 1, Disposition: LineDispositionReturned},
		},
	}
	if got := ComputeTotal(order.LineItems); got != 4498 {
		t.Fatalf("expected total 4498, got %d", got)
	}
	if got := order.ReturnedValue(); got != 500 {
		t.Fatalf("expected returned value 500, got %d", got)
	}
	if !order.HasReturnedItems() {
		t.Fatalf("expected returned items")
	}
}

func TestOrderTrialExpired(t *testing.T) {
	ends := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	order := Order{Status: OrderStatusTrialStarted, Timestamps: OrderTimestamps{TrialEndsAt: &ends}}

	if order.TrialExpired(ends) {
		t.Fatalf("trial must still be open exactly at trialEndsAt")
	}
	if !order.TrialExpired(ends.Add(time.Second)) {
		t.Fatalf("trial must be expired after trialEndsAt")
	}
	order.Status = OrderStatusTrialCompleted
	if order.TrialExpired(ends.Add(time.Hour)) {
		t.Fatalf("only running trials can expire")
	}
}

func TestOrderCloneDoesNotAlias(t *testing.T) {
	paid := time.Now()
	original := Order{
		LineItems: []LineItem{{ID: "li_1", Disposition: LineDispositionPending}},
		Payment: Payment{
			PaidAt:  &paid,
			Refunds: []Refund{{ID: "rf_1", Status: RefundStatusRequested}},
			Method:  PaymentMethod{Kind: PaymentMethodUPI, UPI: &UPIDetails{VPA: "shop@bank"}},
		},
	}
	clone := original.Clone()
	clone.LineItems[0].Disposition = LineDispositionKept
	clone.Payment.Refunds[0].Status = RefundStatusProcessed
	clone.Payment.Method.UPI.VPA = "other@bank"
	*clone.Payment.PaidAt = paid.Add(time.Hour)

	if original.LineItems[0].Disposition != LineDispositionPending {
		t.Fatalf("line items aliased")
	}
	if original.Payment.Refunds[0].Status != RefundStatusRequested {
		t.Fatalf("refunds aliased")
	}
	if original.Payment.Method.UPI.VPA != "shop@bank" {
		t.Fatalf("payment method aliased")
	}
	if !original.Payment.PaidAt.Equal(paid) {
		t.Fatalf("paidAt aliased")
	}
}

func TestPaymentRefundable(t *testing.T) {
	payment := Payment{
		Amount:         10000,
		RefundedAmount: 2000,
		Refunds: []Refund{
			{ID: "rf_1", Amount: 2000, Status: RefundStatusProcessed},
			{ID: "rf_2", Amount: 3000, Status: RefundStatusPending},
			{ID: "rf_3", Amount: 9000, Status: RefundStatusFailed},
		},
	}
	if got := payment.Refundable(); got != 5000 {
		t.Fatalf("expected refundable 5000, got %d", got)
	}
	if idx, ok := payment.FindRefund("rf_2"); !ok || idx != 1 {
		t.Fatalf("expected to find rf_2 at 1, got %d %v", idx, ok)
	}
}

func TestPaymentMethodValidate(t *testing.T) {
	for _, kind := range []PaymentMethodKind{PaymentMethodGateway, PaymentMethodCashOnDelivery, PaymentMethodBankTransfer, PaymentMethodUPI} {
		method, err := NewPaymentMethod(kind)
		if err != nil {
			t.Fatalf("new %s: %v", kind, err)
		}
		if err := method.Validate(); err != nil {
			t.Fatalf("validate %s: %v", kind, err)
		}
	}

	mixed := PaymentMethod{Kind: PaymentMethodUPI, UPI: &UPIDetails{}, Cash: &CashOnDeliveryDetails{}}
	if err := mixed.Validate(); err == nil {
		t.Fatalf("expected error for multiple payloads")
	}
	mismatched := PaymentMethod{Kind: PaymentMethodGateway, UPI: &UPIDetails{}}
	if err := mismatched.Validate(); err == nil {
		t.Fatalf("expected error for mismatched payload")
	}
	if _, err := NewPaymentMethod("wire"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestAddressMissingFields(t *testing.T) {
	addr := Address{Recipient: "A", Line1: "1 Road", City: "Pune", Country: "IN"}
	missing := addr.MissingFields()
	if len(missing) != 2 || missing[0] != "postalCode" || missing[1] != "phone" {
		t.Fatalf("unexpected missing fields %v", missing)
	}
}
