package firestore

import (
	"time"

	domain "github.com/tryathome/orderflow/internal/domain"
)

type orderDocument struct {
	Number           string             `firestore:"number"`
	CustomerID       string             `firestore:"customerId"`
	Status           string             `firestore:"status"`
	Currency         string             `firestore:"currency"`
	Total            int64              `firestore:"total"`
	LineItems        []lineItemDocument `firestore:"lineItems"`
	Address          addressDocument    `firestore:"address"`
	Payment          paymentDocument    `firestore:"payment"`
	Timestamps       timestampsDocument `firestore:"timestamps"`
	ReturnPickupCode string             `firestore:"returnPickupCode,omitempty"`
	TrialLapsed      bool               `firestore:"trialLapsed"`
	CancelReason     string             `firestore:"cancelReason,omitempty"`
	Version          int64              `firestore:"version"`
	CreatedAt        time.Time          `firestore:"createdAt"`
	UpdatedAt        time.Time          `firestore:"updatedAt"`
}

type lineItemDocument struct {
	ID          string `firestore:"id"`
	ProductID   string `firestore:"productId"`
	VariantID   string `firestore:"variantId"`
	Name        string `firestore:"name"`
	Quantity    int    `firestore:"quantity"`
	UnitPrice   int64  `firestore:"unitPrice"`
	Disposition string `firestore:"disposition"`
}

type addressDocument struct {
	Recipient  string `firestore:"recipient"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
	Phone      string `firestore:"phone"`
}

type paymentDocument struct {
	Method            paymentMethodDocument `firestore:"method"`
	ProviderReference string                `firestore:"providerReference"`
	Status            string                `firestore:"status"`
	TransactionID     string                `firestore:"transactionId,omitempty"`
	VerificationCode  string                `firestore:"verificationCode,omitempty"`
	Amount            int64                 `firestore:"amount"`
	RefundedAmount    int64                 `firestore:"refundedAmount"`
	Refunds           []refundDocument      `firestore:"refunds"`
	PaidAt            *time.Time            `firestore:"paidAt,omitempty"`
	FailedAt          *time.Time            `firestore:"failedAt,omitempty"`
	FailureReason     string                `firestore:"failureReason,omitempty"`
}

// paymentMethodDocument flattens the tagged union; only the fields of Kind are populated.
type paymentMethodDocument struct {
	Kind            string `firestore:"kind"`
	Provider        string `firestore:"provider,omitempty"`
	ProviderOrderID string `firestore:"providerOrderId,omitempty"`
	ClientSecret    string `firestore:"clientSecret,omitempty"`
	AccountName     string `firestore:"accountName,omitempty"`
	AccountNumber   string `firestore:"accountNumber,omitempty"`
	IFSC            string `firestore:"ifsc,omitempty"`
	VPA             string `firestore:"vpa,omitempty"`
	Reference       string `firestore:"reference,omitempty"`
}

type refundDocument struct {
	ID               string     `firestore:"id"`
	Amount           int64      `firestore:"amount"`
	Reason           string     `firestore:"reason,omitempty"`
	Status           string     `firestore:"status"`
	ProviderRefundID string     `firestore:"providerRefundId,omitempty"`
	RequestedAt      time.Time  `firestore:"requestedAt"`
	ProcessedAt      *time.Time `firestore:"processedAt,omitempty"`
}

type timestampsDocument struct {
	ConfirmedAt       *time.Time `firestore:"confirmedAt,omitempty"`
	OutForDeliveryAt  *time.Time `firestore:"outForDeliveryAt,omitempty"`
	DeliveredAt       *time.Time `firestore:"deliveredAt,omitempty"`
	TrialStartedAt    *time.Time `firestore:"trialStartedAt,omitempty"`
	TrialEndsAt       *time.Time `firestore:"trialEndsAt,omitempty"`
	TrialCompletedAt  *time.Time `firestore:"trialCompletedAt,omitempty"`
	ReturnInitiatedAt *time.Time `firestore:"returnInitiatedAt,omitempty"`
	ReturnCompletedAt *time.Time `firestore:"returnCompletedAt,omitempty"`
	CancelledAt       *time.Time `firestore:"cancelledAt,omitempty"`
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		Number:           order.Number,
		CustomerID:       order.CustomerID,
		Status:           string(order.Status),
		Currency:         order.Currency,
		Total:            order.Total,
		Address:          addressDocument(order.Address),
		Timestamps:       timestampsDocument(order.Timestamps),
		ReturnPickupCode: order.ReturnPickupCode,
		TrialLapsed:      order.TrialLapsed,
		CancelReason:     order.CancelReason,
		Version:          order.Version,
		CreatedAt:        order.CreatedAt.UTC(),
		UpdatedAt:        order.UpdatedAt.UTC(),
	}
	for _, item := range order.LineItems {
		doc.LineItems = append(doc.LineItems, lineItemDocument{
			ID:          item.ID,
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			Name:        item.Name,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Disposition: string(item.Disposition),
		})
	}

	p := order.Payment
	doc.Payment = paymentDocument{
		Method:            encodePaymentMethod(p.Method),
		ProviderReference: p.ProviderReference,
		Status:            string(p.Status),
		TransactionID:     p.TransactionID,
		VerificationCode:  p.VerificationCode,
		Amount:            p.Amount,
		RefundedAmount:    p.RefundedAmount,
		PaidAt:            p.PaidAt,
		FailedAt:          p.FailedAt,
		FailureReason:     p.FailureReason,
	}
	for _, refund := range p.Refunds {
		doc.Payment.Refunds = append(doc.Payment.Refunds, refundDocument{
			ID:               refund.ID,
			Amount:           refund.Amount,
			Reason:           refund.Reason,
			Status:           string(refund.Status),
			ProviderRefundID: refund.ProviderRefundID,
			RequestedAt:      refund.RequestedAt,
			ProcessedAt:      refund.ProcessedAt,
		})
	}
	return doc
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:               id,
		Number:           doc.Number,
		CustomerID:       doc.CustomerID,
		Status:           domain.OrderStatus(doc.Status),
		Currency:         doc.Currency,
		Total:            doc.Total,
		Address:          domain.Address(doc.Address),
		Timestamps:       domain.OrderTimestamps(doc.Timestamps),
		ReturnPickupCode: doc.ReturnPickupCode,
		TrialLapsed:      doc.TrialLapsed,
		CancelReason:     doc.CancelReason,
		Version:          doc.Version,
		CreatedAt:        doc.CreatedAt.UTC(),
		UpdatedAt:        doc.UpdatedAt.UTC(),
	}
	for _, item := range doc.LineItems {
		order.LineItems = append(order.LineItems, domain.LineItem{
			ID:          item.ID,
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			Name:        item.Name,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Disposition: domain.LineDisposition(item.Disposition),
		})
	}

	p := doc.Payment
	order.Payment = domain.Payment{
		Method:            decodePaymentMethod(p.Method),
		ProviderReference: p.ProviderReference,
		Status:            domain.PaymentStatus(p.Status),
		TransactionID:     p.TransactionID,
		VerificationCode:  p.VerificationCode,
		Amount:            p.Amount,
		RefundedAmount:    p.RefundedAmount,
		PaidAt:            p.PaidAt,
		FailedAt:          p.FailedAt,
		FailureReason:     p.FailureReason,
	}
	for _, refund := range p.Refunds {
		order.Payment.Refunds = append(order.Payment.Refunds, domain.Refund{
			ID:               refund.ID,
			Amount:           refund.Amount,
			Reason:           refund.Reason,
			Status:           domain.RefundStatus(refund.Status),
			ProviderRefundID: refund.ProviderRefundID,
			RequestedAt:      refund.RequestedAt,
			ProcessedAt:      refund.ProcessedAt,
		})
	}
	return order
}

func encodePaymentMethod(method domain.PaymentMethod) paymentMethodDocument {
	doc := paymentMethodDocument{Kind: string(method.Kind)}
	switch {
	case method.Gateway != nil:
		doc.Provider = method.Gateway.Provider
		doc.ProviderOrderID = method.Gateway.ProviderOrderID
		doc.ClientSecret = method.Gateway.ClientSecret
	case method.BankTransfer != nil:
		doc.AccountName = method.BankTransfer.AccountName
		doc.AccountNumber = method.BankTransfer.AccountNumber
		doc.IFSC = method.BankTransfer.IFSC
		doc.Reference = method.BankTransfer.Reference
	case method.UPI != nil:
		doc.VPA = method.UPI.VPA
		doc.Reference = method.UPI.Reference
	}
	return doc
}

func decodePaymentMethod(doc paymentMethodDocument) domain.PaymentMethod {
	method := domain.PaymentMethod{Kind: domain.PaymentMethodKind(doc.Kind)}
	switch method.Kind {
	case domain.PaymentMethodGateway:
		method.Gateway = &domain.GatewayDetails{Provider: doc.Provider, ProviderOrderID: doc.ProviderOrderID, ClientSecret: doc.ClientSecret}
	case domain.PaymentMethodCashOnDelivery:
		method.Cash = &domain.CashOnDeliveryDetails{}
	case domain.PaymentMethodBankTransfer:
		method.BankTransfer = &domain.BankTransferDetails{AccountName: doc.AccountName, AccountNumber: doc.AccountNumber, IFSC: doc.IFSC, Reference: doc.Reference}
	case domain.PaymentMethodUPI:
		method.UPI = &domain.UPIDetails{VPA: doc.VPA, Reference: doc.Reference}
	}
	return method
}
