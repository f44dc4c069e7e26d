package payments

import (
	"errors"
	"testing"
	"time"
)

func TestParseWebhookGatewayEnvelope(t *testing.T) {
	cases := []struct {
		name string
		body string
		want WebhookEvent
	}{
		{
			name: "captured",
			body: `{"id":"evt_1","event":"payment.captured","created_at":1775120400,"payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_1","amount":49900,"currency":"inr"}}}}`,
			want: WebhookEvent{ID: "evt_1", Type: EventPaymentCaptured, ProviderOrderID: "order_1", PaymentID: "pay_1", Amount: 49900, Currency: "INR", Supported: true, OccurredAt: time.Unix(1775120400, 0).UTC()},
		},
		{
			name: "failed",
			body: `{"id":"evt_2","event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_2","order_id":"order_2","error_description":"card declined"}}}}`,
			want: WebhookEvent{ID: "evt_2", Type: EventPaymentFailed, ProviderOrderID: "order_2", PaymentID: "pay_2", FailureReason: "card declined", Supported: true},
		},
		{
			name: "order paid",
			body: `{"id":"evt_3","event":"order.paid","payload":{"order":{"entity":{"id":"order_3","amount_paid":100,"currency":"INR"}},"payment":{"entity":{"id":"pay_3","order_id":"order_3"}}}}`,
			want: WebhookEvent{ID: "evt_3", Type: EventOrderPaid, ProviderOrderID: "order_3", PaymentID: "pay_3", Amount: 100, Currency: "INR", Supported: true},
		},
		{
			name: "refund processed",
			body: `{"id":"evt_4","event":"refund.processed","payload":{"refund":{"entity":{"id":"rfnd_1","payment_id":"pay_1","amount":500,"notes":{"refund_id":"rf_local"}}},"payment":{"entity":{"id":"pay_1","order_id":"order_1"}}}}`,
			want: WebhookEvent{ID: "evt_4", Type: EventRefundProcessed, ProviderOrderID: "order_1", PaymentID: "pay_1", RefundID: "rfnd_1", LocalRefundID: "rf_local", Amount: 500, Supported: true},
		},
		{
			name: "unknown type acknowledged",
			body: `{"id":"evt_5","event":"payment.authorized","payload":{}}`,
			want: WebhookEvent{ID: "evt_5", Type: "payment.authorized"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseWebhook([]byte(tc.body))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got != tc.want {
				t.Fatalf("unexpected event\n got %+v\nwant %+v", got, tc.want)
			}
		})
	}
}

func TestParseWebhookStripeEvent(t *testing.T) {
	body := `{"id":"evt_s1","object":"event","type":"payment_intent.succeeded","created":1775120400,
		"data":{"object":{"id":"pi_1","object":"payment_intent","amount":1000,"currency":"inr","latest_charge":"ch_1"}}}`
	got, err := ParseWebhook([]byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Type != EventPaymentCaptured || got.ProviderOrderID != "pi_1" || got.PaymentID != "ch_1" || !got.Supported {
		t.Fatalf("unexpected stripe event %+v", got)
	}

	refund := `{"id":"evt_s2","object":"event","type":"refund.updated",
		"data":{"object":{"id":"re_1","object":"refund","amount":300,"status":"succeeded","payment_intent":"pi_1","metadata":{"refund_id":"rf_9"}}}}`
	got, err = ParseWebhook([]byte(refund))
	if err != nil {
		t.Fatalf("parse refund: %v", err)
	}
	if got.Type != EventRefundProcessed || got.LocalRefundID != "rf_9" || got.ProviderOrderID != "pi_1" || !got.Supported {
		t.Fatalf("unexpected stripe refund event %+v", got)
	}

	pending := `{"id":"evt_s3","object":"event","type":"refund.updated","data":{"object":{"id":"re_2","object":"refund","status":"pending","payment_intent":"pi_1"}}}`
	got, err = ParseWebhook([]byte(pending))
	if err != nil {
		t.Fatalf("parse pending refund: %v", err)
	}
	if got.Supported {
		t.Fatalf("pending refund must not be actionable")
	}
}

func TestParseWebhookRejectsMalformed(t *testing.T) {
	bodies := []string{
		`not json`,
		`{"id":"evt","payload":{}}`,
		`{"id":"evt","event":"payment.captured","payload":{}}`,
		`{"id":"evt","event":"payment.captured","payload":{"payment":{"entity":{"id":"pay"}}}}`,
	}
	for _, body := range bodies {
		if _, err := ParseWebhook([]byte(body)); !errors.Is(err, ErrMalformedEvent) {
			t.Fatalf("%s: expected ErrMalformedEvent, got %v", body, err)
		}
	}
}

func TestParseWebhookDerivesIDFromBody(t *testing.T) {
	body := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay","order_id":"order"}}}}`)
	a, err := ParseWebhook(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	b, _ := ParseWebhook(body)
	if a.ID == "" || a.ID != b.ID {
		t.Fatalf("expected stable derived id, got %q and %q", a.ID, b.ID)
	}
}
