package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	domain "github.com/tryathome/orderflow/internal/domain"
	"github.com/tryathome/orderflow/internal/payments"
	"github.com/tryathome/orderflow/internal/platform/observability"
	"github.com/tryathome/orderflow/internal/platform/textutil"
	"github.com/tryathome/orderflow/internal/repositories"
)

const webhookDedupScope = "payments"

const (
	webhookOutcomeApplied   = "applied"
	webhookOutcomeDuplicate = "duplicate"
	webhookOutcomeIgnored   = "ignored"
	webhookOutcomeRejected  = "rejected"
	webhookOutcomeFailed    = "failed"
)

// settlement describes one way of proving that an order has been paid.
type settlement struct {
	orderID    string
	customerID string
	actor      string
	source     string
	kinds      []PaymentMethodKind
	// proof is checked by the method handler; nil when the caller already authenticated the payment.
	proof *payments.Proof
	// transactionID is recorded when no proof is verified (webhook captures).
	transactionID string
}

func (s *orderService) VerifyCashPayment(ctx context.Context, cmd VerifyCashCommand) (order Order, err error) {
	ctx, finish := observability.StartSpan(ctx, "orders.verify_cash", attribute.String("order.id", cmd.OrderID))
	defer func() { finish(err) }()

	return s.settle(ctx, settlement{
		orderID: cmd.OrderID,
		actor:   cmd.ActorID,
		source:  "cod",
		kinds:   []PaymentMethodKind{domain.PaymentMethodCashOnDelivery},
		proof:   &payments.Proof{Code: cmd.Code},
	})
}

func (s *orderService) VerifyTransferPayment(ctx context.Context, cmd VerifyTransferCommand) (order Order, err error) {
	ctx, finish := observability.StartSpan(ctx, "orders.verify_transfer", attribute.String("order.id", cmd.OrderID))
	defer func() { finish(err) }()

	return s.settle(ctx, settlement{
		orderID: cmd.OrderID,
		actor:   cmd.ActorID,
		source:  "transfer",
		kinds:   []PaymentMethodKind{domain.PaymentMethodBankTransfer, domain.PaymentMethodUPI},
		proof:   &payments.Proof{TransactionID: cmd.TransactionID},
	})
}

func (s *orderService) ConfirmGatewayPayment(ctx context.Context, cmd ConfirmGatewayPaymentCommand) (order Order, err error) {
	ctx, finish := observability.StartSpan(ctx, "orders.confirm_gateway", attribute.String("order.id", cmd.OrderID))
	defer func() { finish(err) }()

	return s.settle(ctx, settlement{
		orderID:    cmd.OrderID,
		customerID: cmd.CustomerID,
		actor:      cmd.CustomerID,
		source:     "gateway_confirmation",
		kinds:      []PaymentMethodKind{domain.PaymentMethodGateway},
		proof: &payments.Proof{
			ProviderOrderID:   cmd.ProviderOrderID,
			ProviderPaymentID: cmd.ProviderPaymentID,
			Signature:         cmd.Signature,
		},
	})
}

// settle commits payment_settled and then moves the order's holds from reserved to sold. When the
// order is already settled the stored order is returned and the ledger step is retried.
func (s *orderService) settle(ctx context.Context, req settlement) (Order, error) {
	var method PaymentMethodKind
	result, err := s.transition(ctx, req.orderID, transitionSpec{
		event:      domain.OrderEventPaymentSettled,
		customerID: req.customerID,
		precheck: func(o *Order, _ time.Time) error {
			method = o.Payment.Method.Kind
			if !slices.Contains(req.kinds, method) {
				return fmt.Errorf("%w: order is paid by %s", ErrOrderInvalidInput, method)
			}
			if req.proof == nil {
				return nil
			}
			handler, err := s.methods.For(method)
			if err != nil {
				return mapPaymentError(err)
			}
			txn, err := handler.Verify(o.Payment, *req.proof)
			if err != nil {
				return mapPaymentError(err)
			}
			req.transactionID = txn
			return nil
		},
		alreadyApplied: alreadySettled,
		apply: func(o *Order, now time.Time) error {
			paid := now
			o.Payment.Status = domain.PaymentStatusCompleted
			if req.transactionID != "" {
				o.Payment.TransactionID = req.transactionID
			}
			o.Payment.PaidAt = &paid
			o.Payment.FailedAt = nil
			o.Payment.FailureReason = ""
			return nil
		},
	})
	if err != nil {
		if errors.Is(err, ErrOrderInvalidCode) || errors.Is(err, ErrOrderInvalidSignature) {
			s.logger(ctx, "order.payment.verification_rejected", map[string]any{
				"source": req.source,
				"reason": err.Error(),
			})
		}
		return Order{}, err
	}
	order := result.order

	if result.changed || order.Status == domain.OrderStatusConfirmed {
		if err := s.inventory.ConfirmAll(ctx, movementsFor(order, nil)); err != nil {
			s.logger(ctx, "order.inventory.confirm.failed", map[string]any{
				"orderId": order.ID,
				"error":   err,
			})
			if result.changed {
				s.afterTransition(ctx, result, req.actor, map[string]string{"source": req.source})
			}
			return Order{}, fmt.Errorf("%w: confirm holds: %v", ErrOrderInconsistentState, err)
		}
	}
	if result.changed {
		s.logger(ctx, "order.payment.settled", map[string]any{
			"orderId": order.ID,
			"method":  string(method),
			"source":  req.source,
		})
		s.afterTransition(ctx, result, req.actor, map[string]string{"source": req.source})
	}
	return order, nil
}

// alreadySettled reports that payment_settled has been applied and the order has not been cancelled.
func alreadySettled(o Order) bool {
	settled := o.Payment.Status == domain.PaymentStatusCompleted || o.Payment.Status == domain.PaymentStatusRefunded
	return settled && o.Status != domain.OrderStatusCreated && o.Status != domain.OrderStatusCancelled
}

// HandlePaymentWebhook authenticates, deduplicates and applies a provider callback. Nothing is read or
// written before the signature checks out.
func (s *orderService) HandlePaymentWebhook(ctx context.Context, cmd PaymentWebhookCommand) (res WebhookResult, err error) {
	ctx, finish := observability.StartSpan(ctx, "orders.payment_webhook")
	defer func() { finish(err) }()

	if s.webhooks == nil {
		return WebhookResult{}, fmt.Errorf("%w: webhook verification is not configured", ErrOrderUnavailable)
	}
	if err := s.webhooks.Verify(cmd.Body, cmd.Signature); err != nil {
		s.logger(ctx, "order.webhook.signature_rejected", map[string]any{"reason": err.Error()})
		s.metrics.Webhook("unknown", webhookOutcomeRejected)
		return WebhookResult{}, fmt.Errorf("%w: %v", ErrOrderInvalidSignature, err)
	}

	event, err := payments.ParseWebhook(cmd.Body)
	if err != nil {
		s.metrics.Webhook("unknown", webhookOutcomeRejected)
		return WebhookResult{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	res = WebhookResult{EventID: event.ID, EventType: string(event.Type)}
	if !event.Supported {
		res.Ignored = true
		s.metrics.Webhook(string(event.Type), webhookOutcomeIgnored)
		return res, nil
	}

	now := s.now()
	if s.deduper != nil {
		first, dedupErr := s.deduper.FirstSeen(ctx, webhookDedupScope, event.ID, now, s.webhookDedup)
		if dedupErr != nil {
			return WebhookResult{}, fmt.Errorf("%w: dedup: %v", ErrOrderUnavailable, dedupErr)
		}
		if !first {
			s.logger(ctx, "order.webhook.duplicate", map[string]any{
				"eventId": event.ID,
				"type":    string(event.Type),
			})
			s.metrics.Webhook(string(event.Type), webhookOutcomeDuplicate)
			res.Duplicate = true
			return res, nil
		}
		// The deferred Forget reads the named return, so nothing below may shadow err.
		defer func() {
			if err == nil {
				return
			}
			if forgetErr := s.deduper.Forget(ctx, webhookDedupScope, event.ID); forgetErr != nil {
				s.logger(ctx, "order.webhook.forget.failed", map[string]any{
					"eventId": event.ID,
					"error":   forgetErr.Error(),
				})
			}
		}()
	}

	order, err := s.orders.FindByPaymentReference(ctx, event.ProviderOrderID)
	if err != nil {
		if repositories.IsNotFound(err) {
			s.logger(ctx, "order.webhook.unmatched", map[string]any{
				"eventId": event.ID,
				"type":    string(event.Type),
			})
			s.metrics.Webhook(string(event.Type), webhookOutcomeIgnored)
			res.Ignored = true
			return res, nil
		}
		s.metrics.Webhook(string(event.Type), webhookOutcomeFailed)
		return WebhookResult{}, s.mapRepositoryError(err)
	}
	res.OrderID = order.ID
	s.archiveWebhook(ctx, event, cmd.Body, now)

	var outcome string
	switch event.Type {
	case payments.EventPaymentCaptured, payments.EventOrderPaid:
		outcome, err = s.applyCapture(ctx, order, event)
	case payments.EventPaymentFailed:
		outcome, err = s.applyPaymentFailure(ctx, order, event)
	case payments.EventRefundProcessed:
		outcome, err = s.applyRefundProcessed(ctx, order, event)
	default:
		outcome = webhookOutcomeIgnored
	}
	if err != nil {
		s.metrics.Webhook(string(event.Type), webhookOutcomeFailed)
		return WebhookResult{}, err
	}
	res.Ignored = outcome == webhookOutcomeIgnored
	s.metrics.Webhook(string(event.Type), outcome)
	return res, nil
}

func (s *orderService) applyCapture(ctx context.Context, order Order, event payments.WebhookEvent) (string, error) {
	method := order.Payment.Method.Kind
	switch method {
	case domain.PaymentMethodGateway:
	case domain.PaymentMethodBankTransfer, domain.PaymentMethodUPI:
		// Collection partners report transfers against the TH reference; the credited UTR is the proof.
		if strings.TrimSpace(event.PaymentID) == "" {
			s.logger(ctx, "order.webhook.transfer_without_transaction", map[string]any{
				"orderId": order.ID,
				"method":  string(method),
			})
			return webhookOutcomeIgnored, nil
		}
	default:
		s.logger(ctx, "order.webhook.method_mismatch", map[string]any{
			"orderId": order.ID,
			"method":  string(method),
		})
		return webhookOutcomeIgnored, nil
	}
	if event.Amount > 0 && (event.Amount != order.Total || !strings.EqualFold(event.Currency, order.Currency)) {
		s.logger(ctx, "order.webhook.amount_mismatch", map[string]any{
			"orderId":  order.ID,
			"expected": order.Total,
			"received": event.Amount,
			"currency": event.Currency,
		})
		return webhookOutcomeIgnored, nil
	}
	if order.Status == domain.OrderStatusCancelled {
		// Money arrived for an order that no longer exists; an operator settles it by hand.
		s.logger(ctx, "order.webhook.capture_after_cancel", map[string]any{
			"orderId":   order.ID,
			"paymentId": event.PaymentID,
			"amount":    event.Amount,
		})
		s.notify(ctx, order, NotificationManualPayout, notificationAudienceOperator, map[string]string{
			"orderNumber": order.Number,
			"reason":      "capture after cancellation",
			"amount":      FormatAmount(event.Amount, order.Currency, s.locale),
		})
		return webhookOutcomeIgnored, nil
	}

	_, err := s.settle(ctx, settlement{
		orderID:       order.ID,
		actor:         "system:payments",
		source:        "webhook",
		kinds:         []PaymentMethodKind{method},
		transactionID: strings.TrimSpace(event.PaymentID),
	})
	switch {
	case errors.Is(err, ErrOrderInvalidState):
		s.logger(ctx, "order.webhook.capture_out_of_order", map[string]any{
			"orderId": order.ID,
			"status":  string(order.Status),
		})
		return webhookOutcomeIgnored, nil
	case err != nil:
		return "", err
	}
	return webhookOutcomeApplied, nil
}

// applyPaymentFailure cancels an unpaid order and frees its reservation. Nothing was captured, so no
// refund is issued.
func (s *orderService) applyPaymentFailure(ctx context.Context, order Order, event payments.WebhookEvent) (string, error) {
	if order.Status != domain.OrderStatusCreated {
		return webhookOutcomeIgnored, nil
	}
	reason := textutil.CleanText(event.FailureReason, maxReasonLength)
	result, err := s.transition(ctx, order.ID, transitionSpec{
		event: domain.OrderEventPaymentFailed,
		apply: func(o *Order, now time.Time) error {
			failed := now
			o.Payment.Status = domain.PaymentStatusFailed
			o.Payment.FailedAt = &failed
			o.Payment.FailureReason = reason
			if event.PaymentID != "" {
				o.Payment.TransactionID = event.PaymentID
			}
			o.CancelReason = "payment failed"
			return nil
		},
	})
	if errors.Is(err, ErrOrderInvalidState) {
		return webhookOutcomeIgnored, nil
	}
	if err != nil {
		return "", err
	}
	s.releaseHolds(ctx, result.order.ID, movementsFor(result.order, nil))
	s.afterTransition(ctx, result, "system:payments", map[string]string{"reason": reason})
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventPaymentFailed,
		OrderID:        result.order.ID,
		OrderNumber:    result.order.Number,
		CustomerID:     result.order.CustomerID,
		PreviousStatus: string(result.previous),
		CurrentStatus:  string(result.order.Status),
		ActorID:        "system:payments",
		OccurredAt:     result.at,
		Metadata:       map[string]string{"reason": reason},
	})
	return webhookOutcomeApplied, nil
}

func (s *orderService) applyRefundProcessed(ctx context.Context, order Order, event payments.WebhookEvent) (string, error) {
	var refund domain.Refund
	updated, changed, err := s.update(ctx, order.ID, func(o *Order, now time.Time) error {
		idx, ok := o.Payment.FindRefund(event.LocalRefundID)
		if !ok {
			idx, ok = o.Payment.FindRefund(event.RefundID)
		}
		if !ok {
			return errRefundUnknown
		}
		r := &o.Payment.Refunds[idx]
		if r.Status == domain.RefundStatusProcessed {
			return errOrderUnchanged
		}
		if r.Status == domain.RefundStatusFailed {
			// The provider settled a refund we had given up on; it still counts against the balance.
			s.logger(ctx, "order.webhook.refund_revived", map[string]any{"orderId": o.ID, "refundId": r.ID})
		}
		markRefundProcessed(o, r, event.RefundID, now)
		refund = *r
		return nil
	})
	if errors.Is(err, errRefundUnknown) {
		s.logger(ctx, "order.webhook.refund_unknown", map[string]any{
			"orderId":  order.ID,
			"refundId": event.RefundID,
		})
		return webhookOutcomeIgnored, nil
	}
	if err != nil {
		return "", err
	}
	if !changed {
		return webhookOutcomeIgnored, nil
	}
	s.afterRefund(ctx, updated, refund, "system:payments")
	return webhookOutcomeApplied, nil
}

var errRefundUnknown = errors.New("order: refund not found")

func (s *orderService) archiveWebhook(ctx context.Context, event payments.WebhookEvent, body []byte, at time.Time) {
	if s.archive == nil {
		return
	}
	err := s.archive.ArchiveWebhook(ctx, WebhookRecord{
		EventID:    event.ID,
		EventType:  string(event.Type),
		Body:       body,
		ReceivedAt: at,
	})
	if err != nil {
		s.logger(ctx, "order.webhook.archive.failed", map[string]any{
			"eventId": event.ID,
			"error":   err.Error(),
		})
	}
}

// RequestRefund refunds part or all of a settled payment through the method that collected it.
func (s *orderService) RequestRefund(ctx context.Context, cmd RefundCommand) (order Order, err error) {
	ctx, finish := observability.StartSpan(ctx, "orders.request_refund", attribute.String("order.id", cmd.OrderID))
	defer func() { finish(err) }()

	if cmd.Amount <= 0 {
		return Order{}, fmt.Errorf("%w: refund amount must be positive", ErrOrderInvalidInput)
	}
	reason := textutil.CleanText(cmd.Reason, maxReasonLength)
	if reason == "" {
		reason = "requested by operator"
	}
	return s.issueRefund(ctx, cmd.OrderID, cmd.Amount, reason, cmd.ActorID)
}

// issueRefund records the refund request, calls the provider outside the order transaction and then
// records the outcome. The provider call is keyed by the local refund id so retries do not double pay.
func (s *orderService) issueRefund(ctx context.Context, orderID string, amount int64, reason, actor string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	refundID := s.nextID(refundIDPrefix)

	requested, _, err := s.update(ctx, orderID, func(o *Order, now time.Time) error {
		if o.Payment.Status != domain.PaymentStatusCompleted && o.Payment.Status != domain.PaymentStatusRefunded {
			return ErrOrderPaymentNotCompleted
		}
		if refundable := o.Payment.Refundable(); amount > refundable {
			return fmt.Errorf("%w: refund of %d exceeds refundable balance %d", ErrOrderInvalidInput, amount, refundable)
		}
		o.Payment.Refunds = append(o.Payment.Refunds, domain.Refund{
			ID:          refundID,
			Amount:      amount,
			Reason:      reason,
			Status:      domain.RefundStatusRequested,
			RequestedAt: now,
		})
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	method := requested.Payment.Method.Kind
	handler, err := s.methods.For(method)
	var result payments.RefundResult
	if err == nil {
		result, err = handler.Refund(ctx, payments.RefundRequest{
			RefundID:          refundID,
			OrderID:           requested.ID,
			ProviderReference: requested.Payment.ProviderReference,
			Amount:            amount,
			Currency:          requested.Currency,
			Reason:            reason,
			Metadata: map[string]string{
				"refund_id":         refundID,
				"order_id":          requested.ID,
				"provider_order_id": requested.Payment.ProviderReference,
			},
		})
	}
	if err != nil {
		s.metrics.Refund(string(method), string(domain.RefundStatusFailed))
		s.logger(ctx, "order.refund.provider_failed", map[string]any{
			"orderId":  requested.ID,
			"refundId": refundID,
			"error":    err.Error(),
		})
		if _, _, markErr := s.update(ctx, orderID, func(o *Order, _ time.Time) error {
			idx, ok := o.Payment.FindRefund(refundID)
			if !ok || o.Payment.Refunds[idx].Status != domain.RefundStatusRequested {
				return errOrderUnchanged
			}
			o.Payment.Refunds[idx].Status = domain.RefundStatusFailed
			return nil
		}); markErr != nil {
			s.logger(ctx, "order.refund.commit_failed", map[string]any{
				"orderId":  orderID,
				"refundId": refundID,
				"error":    markErr.Error(),
			})
		}
		return Order{}, fmt.Errorf("%w: %v", ErrOrderPaymentProvider, err)
	}

	var refund domain.Refund
	updated, _, err := s.update(ctx, orderID, func(o *Order, now time.Time) error {
		idx, ok := o.Payment.FindRefund(refundID)
		if !ok {
			return errRefundUnknown
		}
		r := &o.Payment.Refunds[idx]
		if r.Status == domain.RefundStatusProcessed {
			refund = *r
			return errOrderUnchanged
		}
		switch result.Status {
		case payments.RefundProcessed:
			markRefundProcessed(o, r, result.ProviderRefundID, now)
		case payments.RefundFailed:
			r.Status = domain.RefundStatusFailed
			r.ProviderRefundID = result.ProviderRefundID
		default:
			r.Status = domain.RefundStatusPending
			r.ProviderRefundID = result.ProviderRefundID
		}
		refund = *r
		return nil
	})
	if err != nil {
		// The provider holds the refund but the order does not say so; reconciliation will pick it up
		// from the refund webhook.
		s.logger(ctx, "order.refund.commit_failed", map[string]any{
			"orderId":          orderID,
			"refundId":         refundID,
			"providerRefundId": result.ProviderRefundID,
			"error":            err.Error(),
		})
		return Order{}, fmt.Errorf("%w: refund %s accepted by provider but not recorded: %v", ErrOrderInconsistentState, refundID, err)
	}

	s.metrics.Refund(string(method), string(refund.Status))
	if refund.Status == domain.RefundStatusFailed {
		return Order{}, fmt.Errorf("%w: refund %s rejected by provider", ErrOrderPaymentProvider, refundID)
	}
	s.afterRefund(ctx, updated, refund, actor)
	return updated, nil
}

func markRefundProcessed(o *Order, r *domain.Refund, providerRefundID string, now time.Time) {
	processed := now
	r.Status = domain.RefundStatusProcessed
	r.ProcessedAt = &processed
	if providerRefundID != "" {
		r.ProviderRefundID = providerRefundID
	}
	o.Payment.RefundedAmount += r.Amount
	o.Payment.Status = domain.PaymentStatusRefunded
}

func (s *orderService) afterRefund(ctx context.Context, order Order, refund domain.Refund, actor string) {
	s.logger(ctx, orderEventRefundUpdated, map[string]any{
		"orderId":  order.ID,
		"refundId": refund.ID,
		"amount":   refund.Amount,
		"status":   string(refund.Status),
	})
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventRefundUpdated,
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		CustomerID:    order.CustomerID,
		CurrentStatus: string(order.Status),
		ActorID:       strings.TrimSpace(actor),
		OccurredAt:    s.now(),
		Metadata: map[string]string{
			"refundId":     refund.ID,
			"refundStatus": string(refund.Status),
			"amount":       fmt.Sprint(refund.Amount),
		},
	})
	if refund.Status != domain.RefundStatusProcessed {
		return
	}
	amount := FormatAmount(refund.Amount, order.Currency, s.locale)
	s.notify(ctx, order, NotificationRefundIssued, notificationAudienceCustomer, map[string]string{
		"orderNumber": order.Number,
		"amount":      amount,
		"refundId":    refund.ID,
	})
	if order.Payment.Method.Kind.Offline() {
		s.notify(ctx, order, NotificationManualPayout, notificationAudienceOperator, map[string]string{
			"orderNumber":      order.Number,
			"amount":           amount,
			"refundId":         refund.ID,
			"providerRefundId": refund.ProviderRefundID,
			"method":           string(order.Payment.Method.Kind),
		})
	}
}
