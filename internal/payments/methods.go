package payments

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	domain "github.com/tryathome/orderflow/internal/domain"
)

var (
	// ErrMethodUnavailable is returned when a payment method is not configured for this deployment.
	ErrMethodUnavailable = errors.New("payments: payment method not available")
	// ErrInvalidCode is returned when a cash-on-delivery code does not match.
	ErrInvalidCode = errors.New("payments: invalid verification code")
	// ErrInvalidProof is returned when the settlement proof is missing or malformed.
	ErrInvalidProof = errors.New("payments: invalid settlement proof")
)

const (
	maxTransactionIDLength = 64
	manualRefundPrefix     = "manual_"
)

// IntentRequest describes the order a payment intent is opened for.
type IntentRequest struct {
	OrderID        string
	OrderNumber    string
	CustomerID     string
	Amount         int64
	Currency       string
	IdempotencyKey string
}

// Intent is the method-specific outcome of opening a payment.
type Intent struct {
	Method            domain.PaymentMethod
	ProviderReference string
	VerificationCode  string
}

// Proof carries whatever evidence a method needs to settle a payment.
type Proof struct {
	Code              string
	TransactionID     string
	ProviderOrderID   string
	ProviderPaymentID string
	Signature         string
}

// MethodHandler implements one settlement path.
type MethodHandler interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	// Verify checks proof against the stored payment and returns the transaction id to record.
	Verify(payment domain.Payment, proof Proof) (string, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}

// OfflineInstructions are shown to customers paying by bank transfer or UPI.
type OfflineInstructions struct {
	BankAccountName   string
	BankAccountNumber string
	BankIFSC          string
	UPIVPA            string
}

// MethodsConfig wires the collaborators used by the settlement paths.
type MethodsConfig struct {
	Gateway      Gateway
	Confirmation *Signer
	Codes        *CodeGenerator
	Offline      OfflineInstructions
}

// Methods dispatches payment operations to the handler for each method kind.
type Methods struct {
	handlers map[domain.PaymentMethodKind]MethodHandler
}

// NewMethods builds the handler table. Gateway and bank details are optional; methods lacking
// configuration reject intents with ErrMethodUnavailable.
func NewMethods(cfg MethodsConfig) *Methods {
	codes := cfg.Codes
	if codes == nil {
		codes = NewCodeGenerator()
	}
	return &Methods{
		handlers: map[domain.PaymentMethodKind]MethodHandler{
			domain.PaymentMethodGateway:        &gatewayMethod{gateway: cfg.Gateway, signer: cfg.Confirmation},
			domain.PaymentMethodCashOnDelivery: &cashMethod{codes: codes},
			domain.PaymentMethodBankTransfer:   &transferMethod{kind: domain.PaymentMethodBankTransfer, codes: codes, offline: cfg.Offline},
			domain.PaymentMethodUPI:            &transferMethod{kind: domain.PaymentMethodUPI, codes: codes, offline: cfg.Offline},
		},
	}
}

// For returns the handler for kind.
func (m *Methods) For(kind domain.PaymentMethodKind) (MethodHandler, error) {
	if m == nil {
		return nil, ErrMethodUnavailable
	}
	handler, ok := m.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMethodUnavailable, kind)
	}
	return handler, nil
}

type gatewayMethod struct {
	gateway Gateway
	signer  *Signer
}

func (g *gatewayMethod) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if g.gateway == nil {
		return Intent{}, fmt.Errorf("%w: %w", ErrMethodUnavailable, ErrGatewayUnavailable)
	}
	remote, err := g.gateway.CreateIntent(ctx, GatewayIntentRequest{
		OrderID:        req.OrderID,
		OrderNumber:    req.OrderNumber,
		CustomerID:     req.CustomerID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return Intent{}, err
	}
	if strings.TrimSpace(remote.ProviderOrderID) == "" {
		return Intent{}, errors.New("payments: gateway returned an empty order reference")
	}
	return Intent{
		Method: domain.PaymentMethod{
			Kind: domain.PaymentMethodGateway,
			Gateway: &domain.GatewayDetails{
				Provider:        remote.Provider,
				ProviderOrderID: remote.ProviderOrderID,
				ClientSecret:    remote.ClientSecret,
			},
		},
		ProviderReference: remote.ProviderOrderID,
	}, nil
}

// Verify accepts a client-side confirmation only when the gateway signature over
// "providerOrderId|providerPaymentId" checks out and the order id is the one we opened.
func (g *gatewayMethod) Verify(payment domain.Payment, proof Proof) (string, error) {
	if g.signer == nil {
		return "", fmt.Errorf("%w: confirmation secret not configured", ErrMethodUnavailable)
	}
	orderRef := strings.TrimSpace(proof.ProviderOrderID)
	paymentRef := strings.TrimSpace(proof.ProviderPaymentID)
	if orderRef == "" || paymentRef == "" || strings.TrimSpace(proof.Signature) == "" {
		return "", ErrInvalidProof
	}
	if subtle.ConstantTimeCompare([]byte(orderRef), []byte(payment.ProviderReference)) != 1 {
		return "", ErrInvalidSignature
	}
	if err := g.signer.Verify(ConfirmationPayload(orderRef, paymentRef), proof.Signature); err != nil {
		return "", err
	}
	return paymentRef, nil
}

func (g *gatewayMethod) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if g.gateway == nil {
		return RefundResult{}, fmt.Errorf("%w: %w", ErrMethodUnavailable, ErrGatewayUnavailable)
	}
	return g.gateway.Refund(ctx, req)
}

type cashMethod struct {
	codes *CodeGenerator
}

func (c *cashMethod) CreateIntent(_ context.Context, _ IntentRequest) (Intent, error) {
	code, err := c.codes.VerificationCode()
	if err != nil {
		return Intent{}, err
	}
	return Intent{
		Method:           domain.PaymentMethod{Kind: domain.PaymentMethodCashOnDelivery, Cash: &domain.CashOnDeliveryDetails{}},
		VerificationCode: code,
	}, nil
}

func (c *cashMethod) Verify(payment domain.Payment, proof Proof) (string, error) {
	supplied := strings.ToUpper(strings.TrimSpace(proof.Code))
	if supplied == "" || payment.VerificationCode == "" {
		return "", ErrInvalidCode
	}
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(payment.VerificationCode)) != 1 {
		return "", ErrInvalidCode
	}
	return "", nil
}

func (c *cashMethod) Refund(_ context.Context, req RefundRequest) (RefundResult, error) {
	return manualRefund(req), nil
}

type transferMethod struct {
	kind    domain.PaymentMethodKind
	codes   *CodeGenerator
	offline OfflineInstructions
}

func (t *transferMethod) CreateIntent(_ context.Context, _ IntentRequest) (Intent, error) {
	method := domain.PaymentMethod{Kind: t.kind}
	switch t.kind {
	case domain.PaymentMethodBankTransfer:
		if strings.TrimSpace(t.offline.BankAccountNumber) == "" || strings.TrimSpace(t.offline.BankIFSC) == "" {
			return Intent{}, fmt.Errorf("%w: bank account not configured", ErrMethodUnavailable)
		}
		method.BankTransfer = &domain.BankTransferDetails{
			AccountName:   t.offline.BankAccountName,
			AccountNumber: t.offline.BankAccountNumber,
			IFSC:          t.offline.BankIFSC,
		}
	case domain.PaymentMethodUPI:
		if strings.TrimSpace(t.offline.UPIVPA) == "" {
			return Intent{}, fmt.Errorf("%w: upi id not configured", ErrMethodUnavailable)
		}
		method.UPI = &domain.UPIDetails{VPA: t.offline.UPIVPA}
	default:
		return Intent{}, fmt.Errorf("%w: %q", ErrMethodUnavailable, t.kind)
	}

	reference, err := t.codes.TransferReference()
	if err != nil {
		return Intent{}, err
	}
	if method.BankTransfer != nil {
		method.BankTransfer.Reference = reference
	} else {
		method.UPI.Reference = reference
	}
	return Intent{Method: method, ProviderReference: reference}, nil
}

func (t *transferMethod) Verify(_ domain.Payment, proof Proof) (string, error) {
	txn := strings.TrimSpace(proof.TransactionID)
	if txn == "" || len(txn) > maxTransactionIDLength || strings.ContainsAny(txn, " \t\r\n") {
		return "", ErrInvalidProof
	}
	return txn, nil
}

func (t *transferMethod) Refund(_ context.Context, req RefundRequest) (RefundResult, error) {
	return manualRefund(req), nil
}

// manualRefund records an offline payout; operators settle it outside the system.
func manualRefund(req RefundRequest) RefundResult {
	return RefundResult{
		ProviderRefundID: manualRefundPrefix + req.RefundID,
		Status:           RefundProcessed,
	}
}
