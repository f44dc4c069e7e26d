package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/stripe/stripe-go/v78"
)

type fakeGateway struct {
	lastOp     string
	lastIntent GatewayIntentRequest
	lastRefund RefundRequest
	intent     GatewayIntent
	refund     RefundResult
	err        error
}

func (f *fakeGateway) CreateIntent(_ context.Context, req GatewayIntentRequest) (GatewayIntent, error) {
	f.lastOp = "intent"
	f.lastIntent = req
	return f.intent, f.err
}

func (f *fakeGateway) Refund(_ context.Context, req RefundRequest) (RefundResult, error) {
	f.lastOp = "refund"
	f.lastRefund = req
	return f.refund, f.err
}

func TestManagerRoutesByCurrency(t *testing.T) {
	primary := &fakeGateway{intent: GatewayIntent{ProviderOrderID: "pi_1"}}
	secondary := &fakeGateway{intent: GatewayIntent{ProviderOrderID: "order_2"}}

	mgr, err := NewManager(map[string]Gateway{
		"stripe":   primary,
		"razorpay": secondary,
	}, WithCurrencyRoutes(map[string]string{"inr": "razorpay"}))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	intent, err := mgr.CreateIntent(context.Background(), GatewayIntentRequest{Currency: "INR", Amount: 100})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.Provider != "razorpay" || secondary.lastOp != "intent" || primary.lastOp != "" {
		t.Fatalf("expected razorpay routing, got %+v", intent)
	}

	if _, err := mgr.Refund(context.Background(), RefundRequest{Currency: "USD"}); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if primary.lastOp != "refund" {
		t.Fatalf("expected default provider for USD")
	}
}

func TestManagerRejectsEmptyRegistration(t *testing.T) {
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error for empty providers")
	}
	if _, err := NewManager(map[string]Gateway{" ": &fakeGateway{}}); err == nil {
		t.Fatalf("expected error for blank key")
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	mgr, err := NewManager(map[string]Gateway{
		"a": &fakeGateway{},
		"b": &fakeGateway{},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	_, err = mgr.CreateIntent(context.Background(), GatewayIntentRequest{Currency: "INR"})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

type fakeStripeIntents struct {
	params *stripe.PaymentIntentParams
	err    error
}

func (f *fakeStripeIntents) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.PaymentIntent{ID: "pi_123", ClientSecret: "pi_123_secret"}, nil
}

type fakeStripeRefunds struct {
	params *stripe.RefundParams
	status stripe.RefundStatus
}

func (f *fakeStripeRefunds) New(params *stripe.RefundParams) (*stripe.Refund, error) {
	f.params = params
	return &stripe.Refund{ID: "re_1", Status: f.status}, nil
}

func TestStripeProviderCreateIntent(t *testing.T) {
	intents := &fakeStripeIntents{}
	provider, err := NewStripeProvider(StripeProviderConfig{Clients: &StripeClients{Intents: intents, Refunds: &fakeStripeRefunds{}}})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	intent, err := provider.CreateIntent(context.Background(), GatewayIntentRequest{
		OrderID:        "ord_1",
		OrderNumber:    "TH-2026-000001",
		Amount:         129900,
		Currency:       "INR",
		IdempotencyKey: "ord_1",
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.ProviderOrderID != "pi_123" || intent.Provider != "stripe" || intent.ClientSecret == "" {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if got := *intents.params.Amount; got != 129900 {
		t.Fatalf("expected minor units amount, got %d", got)
	}
	if got := *intents.params.Currency; got != "inr" {
		t.Fatalf("expected lower-case currency, got %s", got)
	}
	if intents.params.Metadata["order_id"] != "ord_1" {
		t.Fatalf("expected order metadata, got %v", intents.params.Metadata)
	}
	if _, ok := intents.params.Metadata["customer_id"]; ok {
		t.Fatalf("blank metadata values must be dropped")
	}
}

func TestStripeProviderRefundMapsStatus(t *testing.T) {
	cases := map[stripe.RefundStatus]RefundStatus{
		stripe.RefundStatusSucceeded: RefundProcessed,
		stripe.RefundStatusPending:   RefundPending,
		stripe.RefundStatusFailed:    RefundFailed,
	}
	for status, want := range cases {
		refunds := &fakeStripeRefunds{status: status}
		provider, err := NewStripeProvider(StripeProviderConfig{Clients: &StripeClients{Intents: &fakeStripeIntents{}, Refunds: refunds}})
		if err != nil {
			t.Fatalf("new provider: %v", err)
		}
		result, err := provider.Refund(context.Background(), RefundRequest{RefundID: "rf_1", ProviderReference: "pi_123", Amount: 500})
		if err != nil {
			t.Fatalf("refund: %v", err)
		}
		if result.Status != want || result.ProviderRefundID != "re_1" {
			t.Fatalf("status %s: unexpected result %+v", status, result)
		}
		if refunds.params.Metadata["refund_id"] != "rf_1" || *refunds.params.PaymentIntent != "pi_123" {
			t.Fatalf("unexpected refund params %+v", refunds.params)
		}
	}
}

func TestStripeProviderRequiresKeyOrClients(t *testing.T) {
	if _, err := NewStripeProvider(StripeProviderConfig{}); err == nil {
		t.Fatalf("expected error without api key")
	}
	if _, err := NewStripeProvider(StripeProviderConfig{Clients: &StripeClients{}}); err == nil {
		t.Fatalf("expected error for incomplete clients")
	}
}
