package payments

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	domain "github.com/tryathome/orderflow/internal/domain"
)

func TestCodeGeneratorAlphabetAndLength(t *testing.T) {
	gen := NewCodeGenerator()
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := gen.PickupCode()
		if err != nil {
			t.Fatalf("pickup code: %v", err)
		}
		if len(code) != PickupCodeLength {
			t.Fatalf("expected %d chars, got %q", PickupCodeLength, code)
		}
		for _, r := range code {
			if !strings.ContainsRune(codeAlphabet, r) {
				t.Fatalf("unexpected rune %q in %q", r, code)
			}
		}
		seen[code] = true
	}
	if len(seen) < 195 {
		t.Fatalf("codes repeat too often: %d distinct of 200", len(seen))
	}

	ref, err := gen.TransferReference()
	if err != nil {
		t.Fatalf("transfer reference: %v", err)
	}
	if !strings.HasPrefix(ref, "TH") || len(ref) != 2+TransferReferenceLength {
		t.Fatalf("unexpected reference %q", ref)
	}
}

func TestCodeGeneratorDeterministicSource(t *testing.T) {
	a := NewCodeGeneratorFrom(bytes.NewReader(bytes.Repeat([]byte{7}, 64)))
	b := NewCodeGeneratorFrom(bytes.NewReader(bytes.Repeat([]byte{7}, 64)))
	x, err := a.VerificationCode()
	if err != nil {
		t.Fatalf("code: %v", err)
	}
	y, _ := b.VerificationCode()
	if x != y {
		t.Fatalf("same entropy must yield same code: %q vs %q", x, y)
	}
}

func TestCodeGeneratorSourceExhausted(t *testing.T) {
	gen := NewCodeGeneratorFrom(bytes.NewReader(nil))
	if _, err := gen.PickupCode(); err == nil {
		t.Fatalf("expected entropy error")
	}
}

func TestSignerVerify(t *testing.T) {
	signer, err := NewSigner("whsec_test")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	body := []byte(`{"event":"payment.captured"}`)
	sig := signer.Sign(body)

	if err := signer.Verify(body, sig); err != nil {
		t.Fatalf("expected valid signature: %v", err)
	}
	if err := signer.Verify(body, "sha256="+strings.ToUpper(sig)); err != nil {
		t.Fatalf("expected prefixed upper-case signature to verify: %v", err)
	}

	tampered := []byte(`{"event":"payment.captured "}`)
	cases := map[string]struct {
		body []byte
		sig  string
	}{
		"tampered body": {tampered, sig},
		"empty":         {body, ""},
		"not hex":       {body, "zz"},
		"truncated":     {body, sig[:10]},
	}
	for name, tc := range cases {
		if err := signer.Verify(tc.body, tc.sig); !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("%s: expected ErrInvalidSignature, got %v", name, err)
		}
	}

	if _, err := NewSigner("  "); err == nil {
		t.Fatalf("expected error for blank secret")
	}
}

func testMethods(t *testing.T, gateway Gateway) *Methods {
	t.Helper()
	signer, err := NewSigner("gateway-key-secret")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return NewMethods(MethodsConfig{
		Gateway:      gateway,
		Confirmation: signer,
		Offline: OfflineInstructions{
			BankAccountName:   "Try At Home Retail",
			BankAccountNumber: "00112233",
			BankIFSC:          "HDFC0000001",
			UPIVPA:            "tryathome@upi",
		},
	})
}

func TestMethodsCreateIntentPerKind(t *testing.T) {
	gw := &fakeGateway{intent: GatewayIntent{Provider: "stripe", ProviderOrderID: "pi_9"}}
	methods := testMethods(t, gw)
	req := IntentRequest{OrderID: "ord_1", Amount: 2500, Currency: "INR"}

	cases := []struct {
		kind  domain.PaymentMethodKind
		check func(Intent) bool
	}{
		{domain.PaymentMethodGateway, func(i Intent) bool {
			return i.ProviderReference == "pi_9" && i.Method.Gateway != nil && i.VerificationCode == ""
		}},
		{domain.PaymentMethodCashOnDelivery, func(i Intent) bool {
			return len(i.VerificationCode) == VerificationCodeLength && i.Method.Cash != nil && i.ProviderReference == ""
		}},
		{domain.PaymentMethodBankTransfer, func(i Intent) bool {
			return strings.HasPrefix(i.ProviderReference, "TH") && i.Method.BankTransfer != nil && i.Method.BankTransfer.Reference == i.ProviderReference
		}},
		{domain.PaymentMethodUPI, func(i Intent) bool {
			return i.Method.UPI != nil && i.Method.UPI.VPA == "tryathome@upi" && i.Method.UPI.Reference == i.ProviderReference
		}},
	}
	for _, tc := range cases {
		handler, err := methods.For(tc.kind)
		if err != nil {
			t.Fatalf("%s: %v", tc.kind, err)
		}
		intent, err := handler.CreateIntent(context.Background(), req)
		if err != nil {
			t.Fatalf("%s: create intent: %v", tc.kind, err)
		}
		if err := intent.Method.Validate(); err != nil {
			t.Fatalf("%s: invalid method payload: %v", tc.kind, err)
		}
		if !tc.check(intent) {
			t.Fatalf("%s: unexpected intent %+v", tc.kind, intent)
		}
	}
	if gw.lastIntent.Amount != 2500 {
		t.Fatalf("gateway must receive minor units, got %d", gw.lastIntent.Amount)
	}
}

func TestMethodsUnavailableWithoutConfiguration(t *testing.T) {
	methods := NewMethods(MethodsConfig{})
	for _, kind := range []domain.PaymentMethodKind{domain.PaymentMethodGateway, domain.PaymentMethodBankTransfer, domain.PaymentMethodUPI} {
		handler, err := methods.For(kind)
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if _, err := handler.CreateIntent(context.Background(), IntentRequest{Amount: 1}); !errors.Is(err, ErrMethodUnavailable) {
			t.Fatalf("%s: expected ErrMethodUnavailable, got %v", kind, err)
		}
	}
	if _, err := methods.For("cheque"); !errors.Is(err, ErrMethodUnavailable) {
		t.Fatalf("expected unknown kind to be unavailable")
	}
}

func TestCashVerify(t *testing.T) {
	handler, _ := testMethods(t, nil).For(domain.PaymentMethodCashOnDelivery)
	payment := domain.Payment{VerificationCode: "AB12CD"}

	if _, err := handler.Verify(payment, Proof{Code: " ab12cd "}); err != nil {
		t.Fatalf("expected code to match: %v", err)
	}
	for _, code := range []string{"", "AB12CE", "AB12CD0"} {
		if _, err := handler.Verify(payment, Proof{Code: code}); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("code %q: expected ErrInvalidCode, got %v", code, err)
		}
	}
}

func TestGatewayConfirmationVerify(t *testing.T) {
	handler, _ := testMethods(t, &fakeGateway{}).For(domain.PaymentMethodGateway)
	signer, _ := NewSigner("gateway-key-secret")
	payment := domain.Payment{ProviderReference: "order_abc"}
	good := signer.Sign(ConfirmationPayload("order_abc", "pay_1"))

	txn, err := handler.Verify(payment, Proof{ProviderOrderID: "order_abc", ProviderPaymentID: "pay_1", Signature: good})
	if err != nil || txn != "pay_1" {
		t.Fatalf("expected verified payment id, got %q %v", txn, err)
	}

	forged := signer.Sign(ConfirmationPayload("order_other", "pay_1"))
	if _, err := handler.Verify(payment, Proof{ProviderOrderID: "order_other", ProviderPaymentID: "pay_1", Signature: forged}); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("confirmation for another order must fail, got %v", err)
	}
	if _, err := handler.Verify(payment, Proof{ProviderOrderID: "order_abc", ProviderPaymentID: "pay_2", Signature: good}); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("signature over different payment must fail, got %v", err)
	}
	if _, err := handler.Verify(payment, Proof{ProviderOrderID: "order_abc"}); !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("missing fields must fail with ErrInvalidProof, got %v", err)
	}
}

func TestTransferVerifyAndManualRefund(t *testing.T) {
	handler, _ := testMethods(t, nil).For(domain.PaymentMethodUPI)
	if txn, err := handler.Verify(domain.Payment{}, Proof{TransactionID: " UTR123 "}); err != nil || txn != "UTR123" {
		t.Fatalf("expected trimmed transaction id, got %q %v", txn, err)
	}
	if _, err := handler.Verify(domain.Payment{}, Proof{TransactionID: "has space"}); !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("expected ErrInvalidProof, got %v", err)
	}
	result, err := handler.Refund(context.Background(), RefundRequest{RefundID: "rf_1"})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if result.Status != RefundProcessed || result.ProviderRefundID != "manual_rf_1" {
		t.Fatalf("unexpected manual refund %+v", result)
	}
}
