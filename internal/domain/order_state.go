package domain

import (
	"errors"
	"fmt"
)

// OrderEvent names an input to the order state machine.
type OrderEvent string

const (
	OrderEventPaymentSettled OrderEvent = "payment_settled"
	OrderEventPaymentFailed  OrderEvent = "payment_failed"
	OrderEventDispatch       OrderEvent = "dispatch"
	OrderEventDeliver        OrderEvent = "deliver"
	OrderEventStartTrial     OrderEvent = "start_trial"
	OrderEventCompleteTrial  OrderEvent = "complete_trial"
	OrderEventInitiateReturn OrderEvent = "initiate_return"
	OrderEventReceiveReturn  OrderEvent = "receive_return"
	OrderEventCancel         OrderEvent = "cancel"
)

// ErrInvalidTransition is returned when the (status, event) pair is not in the table.
var ErrInvalidTransition = errors.New("domain: invalid order transition")

type transitionKey struct {
	from  OrderStatus
	event OrderEvent
}

// orderTransitions is the complete set of legal moves. Anything absent is rejected.
var orderTransitions = map[transitionKey]OrderStatus{
	{OrderStatusCreated, OrderEventPaymentSettled}:        OrderStatusConfirmed,
	{OrderStatusCreated, OrderEventPaymentFailed}:         OrderStatusCancelled,
	{OrderStatusCreated, OrderEventCancel}:                OrderStatusCancelled,
	{OrderStatusConfirmed, OrderEventDispatch}:            OrderStatusOutForDelivery,
	{OrderStatusConfirmed, OrderEventCancel}:              OrderStatusCancelled,
	{OrderStatusOutForDelivery, OrderEventDeliver}:        OrderStatusDelivered,
	{OrderStatusOutForDelivery, OrderEventCancel}:         OrderStatusCancelled,
	{OrderStatusDelivered, OrderEventStartTrial}:          OrderStatusTrialStarted,
	{OrderStatusTrialStarted, OrderEventCompleteTrial}:    OrderStatusTrialCompleted,
	{OrderStatusTrialCompleted, OrderEventInitiateReturn}: OrderStatusReturnInitiated,
	{OrderStatusReturnInitiated, OrderEventReceiveReturn}: OrderStatusReturnCompleted,
}

// NextStatus resolves the status reached by applying event to current.
func NextStatus(current OrderStatus, event OrderEvent) (OrderStatus, error) {
	next, ok := orderTransitions[transitionKey{from: current, event: event}]
	if !ok {
		return current, fmt.Errorf("%w: %s cannot %s", ErrInvalidTransition, current, event)
	}
	return next, nil
}

// CanApply reports whether event is legal from current.
func CanApply(current OrderStatus, event OrderEvent) bool {
	_, ok := orderTransitions[transitionKey{from: current, event: event}]
	return ok
}

// DeliveryEventFor maps an externally reported shipping status to its state-machine event.
func DeliveryEventFor(status OrderStatus) (OrderEvent, bool) {
	switch status {
	case OrderStatusOutForDelivery:
		return OrderEventDispatch, true
	case OrderStatusDelivered:
		return OrderEventDeliver, true
	default:
		return "", false
	}
}
