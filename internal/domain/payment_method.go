package domain

import "fmt"

// PaymentMethodKind tags the variant carried by PaymentMethod.
type PaymentMethodKind string

const (
	PaymentMethodGateway        PaymentMethodKind = "gateway"
	PaymentMethodCashOnDelivery PaymentMethodKind = "cod"
	PaymentMethodBankTransfer   PaymentMethodKind = "bank_transfer"
	PaymentMethodUPI            PaymentMethodKind = "upi"
)

// Valid reports whether the kind is one of the supported settlement paths.
func (k PaymentMethodKind) Valid() bool {
	switch k {
	case PaymentMethodGateway, PaymentMethodCashOnDelivery, PaymentMethodBankTransfer, PaymentMethodUPI:
		return true
	default:
		return false
	}
}

// Offline reports whether settlement happens outside the payment gateway.
func (k PaymentMethodKind) Offline() bool {
	return k == PaymentMethodCashOnDelivery || k == PaymentMethodBankTransfer || k == PaymentMethodUPI
}

// PaymentMethod is a tagged variant: Kind selects which payload pointer is populated.
type PaymentMethod struct {
	Kind         PaymentMethodKind
	Gateway      *GatewayDetails
	Cash         *CashOnDeliveryDetails
	BankTransfer *BankTransferDetails
	UPI          *UPIDetails
}

// GatewayDetails describes a redirect-based card/netbanking payment.
type GatewayDetails struct {
	Provider        string
	ProviderOrderID string
	ClientSecret    string
}

// CashOnDeliveryDetails carries nothing client-visible; the one-time code lives on Payment.
type CashOnDeliveryDetails struct{}

// BankTransferDetails is displayed to the customer so they can push funds.
type BankTransferDetails struct {
	AccountName   string
	AccountNumber string
	IFSC          string
	Reference     string
}

// UPIDetails is displayed to the customer for collect/pay requests.
type UPIDetails struct {
	VPA       string
	Reference string
}

// NewPaymentMethod builds an empty variant for the provided kind.
func NewPaymentMethod(kind PaymentMethodKind) (PaymentMethod, error) {
	switch kind {
	case PaymentMethodGateway:
		return PaymentMethod{Kind: kind, Gateway: &GatewayDetails{}}, nil
	case PaymentMethodCashOnDelivery:
		return PaymentMethod{Kind: kind, Cash: &CashOnDeliveryDetails{}}, nil
	case PaymentMethodBankTransfer:
		return PaymentMethod{Kind: kind, BankTransfer: &BankTransferDetails{}}, nil
	case PaymentMethodUPI:
		return PaymentMethod{Kind: kind, UPI: &UPIDetails{}}, nil
	default:
		return PaymentMethod{}, fmt.Errorf("unsupported payment method %q", kind)
	}
}

// Validate checks that exactly the payload matching Kind is present.
func (m PaymentMethod) Validate() error {
	set := 0
	for _, present := range []bool{m.Gateway != nil, m.Cash != nil, m.BankTransfer != nil, m.UPI != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("payment method %q must carry exactly one payload, got %d", m.Kind, set)
	}
	ok := false
	switch m.Kind {
	case PaymentMethodGateway:
		ok = m.Gateway != nil
	case PaymentMethodCashOnDelivery:
		ok = m.Cash != nil
	case PaymentMethodBankTransfer:
		ok = m.BankTransfer != nil
	case PaymentMethodUPI:
		ok = m.UPI != nil
	}
	if !ok {
		return fmt.Errorf("payment method %q payload mismatch", m.Kind)
	}
	return nil
}

// Clone copies the populated payload.
func (m PaymentMethod) Clone() PaymentMethod {
	out := PaymentMethod{Kind: m.Kind}
	if m.Gateway != nil {
		v := *m.Gateway
		out.Gateway = &v
	}
	if m.Cash != nil {
		out.Cash = &CashOnDeliveryDetails{}
	}
	if m.BankTransfer != nil {
		v := *m.BankTransfer
		out.BankTransfer = &v
	}
	if m.UPI != nil {
		v := *m.UPI
		out.UPI = &v
	}
	return out
}
