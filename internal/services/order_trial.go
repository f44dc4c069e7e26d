package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	domain "github.com/tryathome/orderflow/internal/domain"
	"github.com/tryathome/orderflow/internal/platform/observability"
	"github.com/tryathome/orderflow/internal/repositories"
)

func (s *orderService) StartTrial(ctx context.Context, cmd StartTrialCommand) (order Order, err error) {
	ctx, finish := observability.StartSpan(ctx, "orders.start_trial", attribute.String("order.id", cmd.OrderID))
	defer func() { finish(err) }()

	result, err := s.transition(ctx, cmd.OrderID, transitionSpec{
		event:      domain.OrderEventStartTrial,
		customerID: cmd.CustomerID,
	})
	if err != nil {
		return Order{}, err
	}
	s.afterTransition(ctx, result, cmd.CustomerID, nil)
	return result.order, nil
}

// CompleteTrial records kept/returned per line. After trialEndsAt the supplied selection is ignored
// and every line is kept, the same outcome the sweep produces.
func (s *orderService) CompleteTrial(ctx context.Context, cmd CompleteTrialCommand) (order Order, err error) {
	ctx, finish := observability.StartSpan(ctx, "orders.complete_trial", attribute.String("order.id", cmd.OrderID))
	defer func() { finish(err) }()

	kept := make(map[string]struct{}, len(cmd.KeptItemIDs))
	for _, id := range cmd.KeptItemIDs {
		if id = strings.TrimSpace(id); id != "" {
			kept[id] = struct{}{}
		}
	}

	var lapsed bool
	result, err := s.transition(ctx, cmd.OrderID, transitionSpec{
		event:      domain.OrderEventCompleteTrial,
		customerID: cmd.CustomerID,
		apply: func(o *Order, now time.Time) error {
			lapsed = o.TrialExpired(now)
			if lapsed {
				keepAll(o)
				return nil
			}
			known := make(map[string]struct{}, len(o.LineItems))
			for _, item := range o.LineItems {
				known[item.ID] = struct{}{}
			}
			for id := range kept {
				if _, ok := known[id]; !ok {
					return fmt.Errorf("%w: unknown line item %s", ErrOrderInvalidInput, id)
				}
			}
			for i := range o.LineItems {
				if _, ok := kept[o.LineItems[i].ID]; ok {
					o.LineItems[i].Disposition = domain.LineDispositionKept
				} else {
					o.LineItems[i].Disposition = domain.LineDispositionReturned
				}
			}
			o.TrialLapsed = false
			return nil
		},
	})
	if err != nil {
		return Order{}, err
	}
	order = result.order
	if lapsed {
		s.logger(ctx, "order.trial.lapsed", map[string]any{
			"orderId": order.ID,
			"source":  "customer",
		})
	}
	s.afterTransition(ctx, result, cmd.CustomerID, map[string]string{
		"returnedItems": fmt.Sprint(countReturned(order)),
		"lapsed":        fmt.Sprint(lapsed),
	})
	return order, nil
}

// SweepExpiredTrials auto-completes trials whose window has lapsed. Orders already moved on by a
// concurrent caller are skipped.
func (s *orderService) SweepExpiredTrials(ctx context.Context, limit int) (count int, err error) {
	ctx, finish := observability.StartSpan(ctx, "orders.sweep_trials")
	defer func() { finish(err) }()

	if limit <= 0 {
		limit = defaultSweepLimit
	}
	now := s.now()
	due, err := s.orders.ListTrialsEndingBefore(ctx, now, limit)
	if err != nil {
		return 0, s.mapRepositoryError(err)
	}

	var errs []error
	for _, candidate := range due {
		result, err := s.transition(ctx, candidate.ID, transitionSpec{
			event: domain.OrderEventCompleteTrial,
			precheck: func(o *Order, now time.Time) error {
				if !o.TrialExpired(now) {
					return errOrderUnchanged
				}
				return nil
			},
			apply: func(o *Order, _ time.Time) error {
				keepAll(o)
				return nil
			},
		})
		switch {
		case errors.Is(err, ErrOrderInvalidState), errors.Is(err, ErrOrderNotFound):
			continue
		case err != nil:
			errs = append(errs, fmt.Errorf("order %s: %w", candidate.ID, err))
			continue
		case !result.changed:
			continue
		}
		count++
		s.logger(ctx, "order.trial.lapsed", map[string]any{
			"orderId": candidate.ID,
			"source":  "sweep",
		})
		s.afterTransition(ctx, result, "system:trial-sweep", map[string]string{"lapsed": "true"})
	}
	s.metrics.TrialsAutoCompleted(count)
	if count > 0 || len(errs) > 0 {
		s.logger(ctx, "order.trial.sweep", map[string]any{
			"completed": count,
			"failed":    len(errs),
		})
	}
	return count, errors.Join(errs...)
}

// InitiateReturn schedules a pickup for the returned lines and hands back a fresh pickup code.
func (s *orderService) InitiateReturn(ctx context.Context, cmd InitiateReturnCommand) (res InitiateReturnResult, err error) {
	ctx, finish := observability.StartSpan(ctx, "orders.initiate_return", attribute.String("order.id", cmd.OrderID))
	defer func() { finish(err) }()

	current, err := s.GetOrder(ctx, cmd.OrderID, cmd.CustomerID)
	if err != nil {
		return InitiateReturnResult{}, err
	}
	if err := s.checkReturnable(current, s.now()); err != nil {
		return InitiateReturnResult{}, err
	}

	code, err := s.claimPickupCode(ctx, current.ID)
	if err != nil {
		return InitiateReturnResult{}, err
	}

	result, err := s.transition(ctx, current.ID, transitionSpec{
		event:      domain.OrderEventInitiateReturn,
		customerID: cmd.CustomerID,
		precheck: func(o *Order, now time.Time) error {
			return s.checkReturnable(*o, now)
		},
		apply: func(o *Order, _ time.Time) error {
			o.ReturnPickupCode = code
			return nil
		},
	})
	if err != nil {
		s.releasePickupCode(ctx, current.ID, code)
		return InitiateReturnResult{}, err
	}
	order := result.order
	s.afterTransition(ctx, result, cmd.CustomerID, map[string]string{
		"returnedItems": fmt.Sprint(countReturned(order)),
	})
	s.notify(ctx, order, NotificationReturnScheduled, notificationAudienceCustomer, map[string]string{
		"orderNumber": order.Number,
		"pickupCode":  code,
		"refund":      FormatAmount(order.ReturnedValue(), order.Currency, s.locale),
	})
	return InitiateReturnResult{Order: order, PickupCode: code}, nil
}

// ReceiveReturn confirms the pickup agent handed the goods back. Returned lines are credited to the
// ledger and the returned value is refunded. A replay with the right code on a completed return
// re-runs the ledger step, which is idempotent per hold, and retries whatever part of the return
// refund no live refund covers yet.
func (s *orderService) ReceiveReturn(ctx context.Context, cmd ReceiveReturnCommand) (order Order, err error) {
	ctx, finish := observability.StartSpan(ctx, "orders.receive_return", attribute.String("order.id", cmd.OrderID))
	defer func() { finish(err) }()

	supplied := strings.ToUpper(strings.TrimSpace(cmd.PickupCode))
	if supplied == "" {
		return Order{}, fmt.Errorf("%w: pickup code is required", ErrOrderInvalidInput)
	}
	matches := func(o Order) bool {
		return o.ReturnPickupCode != "" &&
			subtle.ConstantTimeCompare([]byte(supplied), []byte(o.ReturnPickupCode)) == 1
	}

	result, err := s.transition(ctx, cmd.OrderID, transitionSpec{
		event: domain.OrderEventReceiveReturn,
		precheck: func(o *Order, _ time.Time) error {
			if o.Status != domain.OrderStatusReturnInitiated && o.Status != domain.OrderStatusReturnCompleted {
				return fmt.Errorf("%w: no return is in progress", ErrOrderInvalidState)
			}
			if !matches(*o) {
				return ErrOrderInvalidCode
			}
			return nil
		},
		alreadyApplied: func(o Order) bool {
			return o.Status == domain.OrderStatusReturnCompleted
		},
	})
	if err != nil {
		if errors.Is(err, ErrOrderInvalidCode) {
			s.logger(ctx, "order.return.code_rejected", map[string]any{"reason": "pickup code mismatch"})
		}
		return Order{}, err
	}
	order = result.order

	returned := movementsFor(order, func(item LineItem) bool {
		return item.Disposition == domain.LineDispositionReturned
	})
	if err := s.inventory.ReturnAll(ctx, returned); err != nil {
		s.logger(ctx, "order.inventory.return.failed", map[string]any{
			"orderId": order.ID,
			"error":   err,
		})
		return order, mapInventoryError(err)
	}
	if result.changed {
		s.releasePickupCode(ctx, order.ID, order.ReturnPickupCode)
		s.afterTransition(ctx, result, cmd.ActorID, map[string]string{
			"returnedItems": fmt.Sprint(countReturned(order)),
		})
	}

	amount := outstandingReturnRefund(order)
	settled := order.Payment.Status == domain.PaymentStatusCompleted || order.Payment.Status == domain.PaymentStatusRefunded
	if settled && amount > 0 {
		if !result.changed {
			s.logger(ctx, "order.return.refund.retry", map[string]any{
				"orderId": order.ID,
				"amount":  amount,
			})
		}
		refunded, err := s.issueRefund(ctx, order.ID, amount, returnRefundReason, cmd.ActorID)
		if err != nil {
			s.logger(ctx, "order.return.refund.failed", map[string]any{
				"orderId": order.ID,
				"amount":  amount,
				"error":   err,
			})
			return order, nil
		}
		order = refunded
	}
	return order, nil
}

// outstandingReturnRefund is the part of the returned value not yet covered by a requested, pending
// or processed return refund, capped at the refundable balance.
func outstandingReturnRefund(o Order) int64 {
	owed := o.ReturnedValue()
	for _, r := range o.Payment.Refunds {
		if r.Reason != returnRefundReason || r.Status == domain.RefundStatusFailed {
			continue
		}
		owed -= r.Amount
	}
	return max(min(owed, o.Payment.Refundable()), 0)
}

func (s *orderService) checkReturnable(o Order, now time.Time) error {
	if o.Status != domain.OrderStatusTrialCompleted {
		return fmt.Errorf("%w: returns can only be initiated after the trial, order is %s", ErrOrderInvalidState, o.Status)
	}
	if !o.HasReturnedItems() {
		return fmt.Errorf("%w: no items were marked for return", ErrOrderInvalidState)
	}
	if completed := o.Timestamps.TrialCompletedAt; completed != nil && now.After(completed.Add(s.returnWindow)) {
		return ErrOrderReturnWindowClosed
	}
	return nil
}

// claimPickupCode draws codes until one is free in the unique index.
func (s *orderService) claimPickupCode(ctx context.Context, orderID string) (string, error) {
	for attempt := 1; attempt <= maxPickupCodeAttempts; attempt++ {
		code, err := s.codes.PickupCode()
		if err != nil {
			return "", fmt.Errorf("%w: pickup code: %v", ErrOrderUnavailable, err)
		}
		err = s.pickupCodes.Claim(ctx, code, orderID, s.now())
		if err == nil {
			return code, nil
		}
		if !repositories.IsConflict(err) {
			return "", s.mapRepositoryError(err)
		}
		s.logger(ctx, "order.pickup_code.collision", map[string]any{
			"orderId": orderID,
			"attempt": attempt,
		})
	}
	return "", fmt.Errorf("%w: could not allocate a unique pickup code", ErrOrderConflict)
}

func (s *orderService) releasePickupCode(ctx context.Context, orderID, code string) {
	if code == "" {
		return
	}
	if err := s.pickupCodes.Release(ctx, code); err != nil && !repositories.IsNotFound(err) {
		s.logger(ctx, "order.pickup_code.release.failed", map[string]any{
			"orderId": orderID,
			"error":   err,
		})
	}
}

func keepAll(o *Order) {
	for i := range o.LineItems {
		o.LineItems[i].Disposition = domain.LineDispositionKept
	}
	o.TrialLapsed = true
}

func countReturned(o Order) int {
	n := 0
	for _, item := range o.LineItems {
		if item.Disposition == domain.LineDispositionReturned {
			n++
		}
	}
	return n
}
