package handlers

import (
	domain "github.com/tryathome/orderflow/internal/domain"
	"github.com/tryathome/orderflow/internal/services"
)

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type orderPayload struct {
	ID               string            `json:"id"`
	Number           string            `json:"number"`
	CustomerID       string            `json:"customerId"`
	Status           string            `json:"status"`
	Currency         string            `json:"currency"`
	Total            int64             `json:"total"`
	LineItems        []lineItemPayload `json:"lineItems"`
	Address          addressPayload    `json:"address"`
	Payment          paymentPayload    `json:"payment"`
	Timestamps       map[string]string `json:"timestamps,omitempty"`
	ReturnPickupCode string            `json:"returnPickupCode,omitempty"`
	TrialLapsed      bool              `json:"trialLapsed,omitempty"`
	CancelReason     string            `json:"cancelReason,omitempty"`
	Version          int64             `json:"version"`
	CreatedAt        string            `json:"createdAt"`
	UpdatedAt        string            `json:"updatedAt,omitempty"`
}

type lineItemPayload struct {
	ID          string `json:"id"`
	ProductID   string `json:"productId"`
	VariantID   string `json:"variantId"`
	Name        string `json:"name,omitempty"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
	Disposition string `json:"disposition"`
}

type addressPayload struct {
	Recipient  string `json:"recipient"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`
}

// paymentPayload never carries the cash-on-delivery verification code.
type paymentPayload struct {
	Method            paymentMethodPayload `json:"method"`
	ProviderReference string               `json:"providerReference,omitempty"`
	Status            string               `json:"status"`
	TransactionID     string               `json:"transactionId,omitempty"`
	Amount            int64                `json:"amount"`
	RefundedAmount    int64                `json:"refundedAmount"`
	Refunds           []refundPayload      `json:"refunds,omitempty"`
	PaidAt            string               `json:"paidAt,omitempty"`
	FailureReason     string               `json:"failureReason,omitempty"`
}

type paymentMethodPayload struct {
	Kind            string `json:"kind"`
	Provider        string `json:"provider,omitempty"`
	ProviderOrderID string `json:"providerOrderId,omitempty"`
	ClientSecret    string `json:"clientSecret,omitempty"`
	AccountName     string `json:"accountName,omitempty"`
	AccountNumber   string `json:"accountNumber,omitempty"`
	IFSC            string `json:"ifsc,omitempty"`
	VPA             string `json:"vpa,omitempty"`
	Reference       string `json:"reference,omitempty"`
}

type refundPayload struct {
	ID               string `json:"id"`
	Amount           int64  `json:"amount"`
	Reason           string `json:"reason,omitempty"`
	Status           string `json:"status"`
	ProviderRefundID string `json:"providerRefundId,omitempty"`
	RequestedAt      string `json:"requestedAt"`
	ProcessedAt      string `json:"processedAt,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:               order.ID,
		Number:           order.Number,
		CustomerID:       order.CustomerID,
		Status:           string(order.Status),
		Currency:         order.Currency,
		Total:            order.Total,
		LineItems:        make([]lineItemPayload, 0, len(order.LineItems)),
		Address:          addressPayload(order.Address),
		Payment:          buildPaymentPayload(order.Payment),
		Timestamps:       buildTimestamps(order.Timestamps),
		ReturnPickupCode: order.ReturnPickupCode,
		TrialLapsed:      order.TrialLapsed,
		CancelReason:     order.CancelReason,
		Version:          order.Version,
		CreatedAt:        formatTime(order.CreatedAt),
		UpdatedAt:        formatTime(order.UpdatedAt),
	}
	for _, item := range order.LineItems {
		payload.LineItems = append(payload.LineItems, lineItemPayload{
			ID:          item.ID,
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			Name:        item.Name,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Disposition: string(item.Disposition),
		})
	}
	return payload
}

func buildPaymentPayload(p domain.Payment) paymentPayload {
	payload := paymentPayload{
		Method:            buildPaymentMethodPayload(p.Method),
		ProviderReference: p.ProviderReference,
		Status:            string(p.Status),
		TransactionID:     p.TransactionID,
		Amount:            p.Amount,
		RefundedAmount:    p.RefundedAmount,
		PaidAt:            formatTimePtr(p.PaidAt),
		FailureReason:     p.FailureReason,
	}
	for _, refund := range p.Refunds {
		payload.Refunds = append(payload.Refunds, refundPayload{
			ID:               refund.ID,
			Amount:           refund.Amount,
			Reason:           refund.Reason,
			Status:           string(refund.Status),
			ProviderRefundID: refund.ProviderRefundID,
			RequestedAt:      formatTime(refund.RequestedAt),
			ProcessedAt:      formatTimePtr(refund.ProcessedAt),
		})
	}
	return payload
}

func buildPaymentMethodPayload(m domain.PaymentMethod) paymentMethodPayload {
	payload := paymentMethodPayload{Kind: string(m.Kind)}
	switch {
	case m.Gateway != nil:
		payload.Provider = m.Gateway.Provider
		payload.ProviderOrderID = m.Gateway.ProviderOrderID
		payload.ClientSecret = m.Gateway.ClientSecret
	case m.BankTransfer != nil:
		payload.AccountName = m.BankTransfer.AccountName
		payload.AccountNumber = m.BankTransfer.AccountNumber
		payload.IFSC = m.BankTransfer.IFSC
		payload.Reference = m.BankTransfer.Reference
	case m.UPI != nil:
		payload.VPA = m.UPI.VPA
		payload.Reference = m.UPI.Reference
	}
	return payload
}

func buildTimestamps(ts domain.OrderTimestamps) map[string]string {
	out := map[string]string{}
	set := func(name string, value string) {
		if value != "" {
			out[name] = value
		}
	}
	set("confirmedAt", formatTimePtr(ts.ConfirmedAt))
	set("outForDeliveryAt", formatTimePtr(ts.OutForDeliveryAt))
	set("deliveredAt", formatTimePtr(ts.DeliveredAt))
	set("trialStartedAt", formatTimePtr(ts.TrialStartedAt))
	set("trialEndsAt", formatTimePtr(ts.TrialEndsAt))
	set("trialCompletedAt", formatTimePtr(ts.TrialCompletedAt))
	set("returnInitiatedAt", formatTimePtr(ts.ReturnInitiatedAt))
	set("returnCompletedAt", formatTimePtr(ts.ReturnCompletedAt))
	set("cancelledAt", formatTimePtr(ts.CancelledAt))
	if len(out) == 0 {
		return nil
	}
	return out
}
