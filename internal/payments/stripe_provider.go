package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

const stripeProviderName = "stripe"

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

// StripeClients overrides the Stripe API clients, mainly for tests.
type StripeClients struct {
	Intents stripePaymentIntentAPI
	Refunds stripeRefundAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clients   *StripeClients
}

// StripeProvider implements Gateway with Stripe Payment Intents and Refunds.
type StripeProvider struct {
	intents stripePaymentIntentAPI
	refunds stripeRefundAPI
	account string
	logger  StripeLogger
}

var _ Gateway = (*StripeProvider)(nil)

// NewStripeProvider constructs a Stripe gateway using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients StripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = StripeClients{Intents: sc.PaymentIntents, Refunds: sc.Refunds}
	}
	if clients.Intents == nil || clients.Refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		intents: clients.Intents,
		refunds: clients.Refunds,
		account: strings.TrimSpace(cfg.AccountID),
		logger:  logger,
	}, nil
}

// CreateIntent opens a Payment Intent for the order total.
func (p *StripeProvider) CreateIntent(ctx context.Context, req GatewayIntentRequest) (GatewayIntent, error) {
	if p == nil {
		return GatewayIntent{}, errors.New("stripe: provider is nil")
	}
	if req.Amount <= 0 {
		return GatewayIntent{}, errors.New("stripe: amount must be positive")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.OrderNumber != "" {
		params.Description = stripe.String("Order " + req.OrderNumber)
	}
	params.Metadata = stripeMetadata(req.Metadata, map[string]string{
		"order_id":     req.OrderID,
		"order_number": req.OrderNumber,
		"customer_id":  req.CustomerID,
	})

	intent, err := p.intents.New(params)
	if err != nil {
		return GatewayIntent{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"orderId":       req.OrderID,
		"amount":        req.Amount,
		"currency":      req.Currency,
	})

	return GatewayIntent{
		Provider:        stripeProviderName,
		ProviderOrderID: intent.ID,
		ClientSecret:    intent.ClientSecret,
	}, nil
}

// Refund refunds part or all of a Payment Intent. The local refund id is sent as the idempotency key
// so a retried call after a lost response does not refund twice.
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if p == nil {
		return RefundResult{}, errors.New("stripe: provider is nil")
	}
	if strings.TrimSpace(req.ProviderReference) == "" {
		return RefundResult{}, errors.New("stripe: payment intent is required")
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.ProviderReference),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.RefundID); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.Amount > 0 {
		params.Amount = stripe.Int64(req.Amount)
	}
	params.Metadata = stripeMetadata(req.Metadata, map[string]string{
		"refund_id": req.RefundID,
		"order_id":  req.OrderID,
	})

	refund, err := p.refunds.New(params)
	if err != nil {
		return RefundResult{}, fmt.Errorf("stripe: create refund: %w", err)
	}

	result := RefundResult{
		ProviderRefundID: refund.ID,
		Status:           mapStripeRefundStatus(refund.Status),
	}
	p.logger(ctx, "payments.stripe.refund.created", map[string]any{
		"paymentIntent": req.ProviderReference,
		"refundId":      refund.ID,
		"status":        result.Status,
	})
	return result, nil
}

func mapStripeRefundStatus(status stripe.RefundStatus) RefundStatus {
	switch status {
	case stripe.RefundStatusSucceeded:
		return RefundProcessed
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		return RefundFailed
	default:
		return RefundPending
	}
}

func stripeMetadata(extra map[string]string, base map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range extra {
		if k = strings.TrimSpace(k); k != "" {
			out[k] = v
		}
	}
	for k, v := range base {
		if v = strings.TrimSpace(v); v != "" {
			out[k] = v
		}
	}
	return out
}
