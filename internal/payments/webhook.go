package payments

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
)

// EventType is the normalised webhook event kind.
type EventType string

const (
	EventPaymentCaptured EventType = "payment.captured"
	EventPaymentFailed   EventType = "payment.failed"
	EventRefundProcessed EventType = "refund.processed"
	EventOrderPaid       EventType = "order.paid"
)

// ErrMalformedEvent is returned when a signed payload cannot be interpreted.
var ErrMalformedEvent = errors.New("payments: malformed webhook event")

// WebhookEvent is the provider-neutral view of a payment callback. ProviderOrderID is the reference
// stored on the order when the intent was opened; orders are only ever located through it.
type WebhookEvent struct {
	ID              string
	Type            EventType
	OccurredAt      time.Time
	ProviderOrderID string
	PaymentID       string
	Amount          int64
	Currency        string
	FailureReason   string
	RefundID        string
	LocalRefundID   string
	// Supported is false for event kinds the engine acknowledges but ignores.
	Supported bool
}

type gatewayEnvelope struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Payment *struct {
			Entity gatewayPayment `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity struct {
				ID         string `json:"id"`
				AmountPaid int64  `json:"amount_paid"`
				Currency   string `json:"currency"`
			} `json:"entity"`
		} `json:"order"`
		Refund *struct {
			Entity struct {
				ID        string            `json:"id"`
				PaymentID string            `json:"payment_id"`
				Amount    int64             `json:"amount"`
				Currency  string            `json:"currency"`
				Notes     map[string]string `json:"notes"`
			} `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

type gatewayPayment struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	ErrorDescription string `json:"error_description"`
}

type envelopeProbe struct {
	Object string `json:"object"`
	Type   string `json:"type"`
	Event  string `json:"event"`
}

// ParseWebhook decodes a verified payload. Both the gateway envelope ({"event": "payment.captured",
// "payload": {...}}) and Stripe event objects are understood. When the payload carries no event id,
// a digest of the body stands in so that byte-identical redeliveries still deduplicate.
func ParseWebhook(body []byte) (WebhookEvent, error) {
	var probe envelopeProbe
	if err := json.Unmarshal(body, &probe); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	var (
		event WebhookEvent
		err   error
	)
	if probe.Object == "event" && probe.Type != "" {
		event, err = parseStripeEvent(body)
	} else {
		event, err = parseGatewayEnvelope(body)
	}
	if err != nil {
		return WebhookEvent{}, err
	}
	if event.ID == "" {
		sum := sha256.Sum256(body)
		event.ID = "body_" + hex.EncodeToString(sum[:16])
	}
	event.Currency = strings.ToUpper(event.Currency)
	return event, nil
}

func parseGatewayEnvelope(body []byte) (WebhookEvent, error) {
	var env gatewayEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	event := WebhookEvent{
		ID:   strings.TrimSpace(env.ID),
		Type: EventType(strings.TrimSpace(env.Event)),
	}
	if env.CreatedAt > 0 {
		event.OccurredAt = time.Unix(env.CreatedAt, 0).UTC()
	}

	switch event.Type {
	case EventPaymentCaptured, EventPaymentFailed:
		if env.Payload.Payment == nil {
			return WebhookEvent{}, fmt.Errorf("%w: %s without payment entity", ErrMalformedEvent, event.Type)
		}
		p := env.Payload.Payment.Entity
		event.ProviderOrderID = p.OrderID
		event.PaymentID = p.ID
		event.Amount = p.Amount
		event.Currency = p.Currency
		event.FailureReason = p.ErrorDescription
	case EventOrderPaid:
		if env.Payload.Order == nil {
			return WebhookEvent{}, fmt.Errorf("%w: order.paid without order entity", ErrMalformedEvent)
		}
		o := env.Payload.Order.Entity
		event.ProviderOrderID = o.ID
		event.Amount = o.AmountPaid
		event.Currency = o.Currency
		if env.Payload.Payment != nil {
			event.PaymentID = env.Payload.Payment.Entity.ID
		}
	case EventRefundProcessed:
		if env.Payload.Refund == nil {
			return WebhookEvent{}, fmt.Errorf("%w: refund.processed without refund entity", ErrMalformedEvent)
		}
		r := env.Payload.Refund.Entity
		event.RefundID = r.ID
		event.PaymentID = r.PaymentID
		event.Amount = r.Amount
		event.Currency = r.Currency
		event.LocalRefundID = r.Notes["refund_id"]
		if env.Payload.Payment != nil {
			event.ProviderOrderID = env.Payload.Payment.Entity.OrderID
		}
		if event.ProviderOrderID == "" {
			event.ProviderOrderID = r.Notes["provider_order_id"]
		}
	case "":
		return WebhookEvent{}, fmt.Errorf("%w: event type is required", ErrMalformedEvent)
	default:
		return event, nil
	}

	if strings.TrimSpace(event.ProviderOrderID) == "" {
		return WebhookEvent{}, fmt.Errorf("%w: %s without order reference", ErrMalformedEvent, event.Type)
	}
	event.Supported = true
	return event, nil
}

// stripeEventTypes maps Stripe event names onto the normalised kinds.
var stripeEventTypes = map[stripe.EventType]EventType{
	"payment_intent.succeeded":      EventPaymentCaptured,
	"payment_intent.payment_failed": EventPaymentFailed,
	"refund.updated":                EventRefundProcessed,
	"charge.refund.updated":         EventRefundProcessed,
}

func parseStripeEvent(body []byte) (WebhookEvent, error) {
	var evt stripe.Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	event := WebhookEvent{ID: evt.ID, Type: EventType(evt.Type)}
	if evt.Created > 0 {
		event.OccurredAt = time.Unix(evt.Created, 0).UTC()
	}
	kind, ok := stripeEventTypes[evt.Type]
	if !ok || evt.Data == nil {
		return event, nil
	}
	event.Type = kind

	switch kind {
	case EventPaymentCaptured, EventPaymentFailed:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &intent); err != nil {
			return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		event.ProviderOrderID = intent.ID
		event.PaymentID = intent.ID
		if intent.LatestCharge != nil && intent.LatestCharge.ID != "" {
			event.PaymentID = intent.LatestCharge.ID
		}
		event.Amount = intent.Amount
		event.Currency = string(intent.Currency)
		if intent.LastPaymentError != nil {
			event.FailureReason = intent.LastPaymentError.Msg
		}
	case EventRefundProcessed:
		var refund stripe.Refund
		if err := json.Unmarshal(evt.Data.Raw, &refund); err != nil {
			return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if refund.Status != stripe.RefundStatusSucceeded {
			return event, nil
		}
		event.RefundID = refund.ID
		event.Amount = refund.Amount
		event.Currency = string(refund.Currency)
		event.LocalRefundID = refund.Metadata["refund_id"]
		if refund.PaymentIntent != nil {
			event.ProviderOrderID = refund.PaymentIntent.ID
		}
	}

	if strings.TrimSpace(event.ProviderOrderID) == "" {
		return WebhookEvent{}, fmt.Errorf("%w: %s without order reference", ErrMalformedEvent, kind)
	}
	event.Supported = true
	return event, nil
}
