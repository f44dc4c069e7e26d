package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tryathome/orderflow/internal/platform/httpx"
	"github.com/tryathome/orderflow/internal/platform/requestctx"
	"github.com/tryathome/orderflow/internal/services"
)

const (
	defaultSignatureHeader = "X-Webhook-Signature"
	maxWebhookBodySize     = 256 * 1024
)

type webhookResponse struct {
	Status    string `json:"status"`
	EventID   string `json:"eventId,omitempty"`
	EventType string `json:"eventType,omitempty"`
	Error     string `json:"error,omitempty"`
}

// WebhookHandlers receives payment provider callbacks. Bodies are read raw so the signature is
// checked against the exact bytes the provider signed.
type WebhookHandlers struct {
	orders          services.OrderService
	signatureHeader string
}

// NewWebhookHandlers constructs the webhook endpoints. signatureHeader defaults to X-Webhook-Signature.
func NewWebhookHandlers(orders services.OrderService, signatureHeader string) *WebhookHandlers {
	if strings.TrimSpace(signatureHeader) == "" {
		signatureHeader = defaultSignatureHeader
	}
	return &WebhookHandlers{orders: orders, signatureHeader: signatureHeader}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments", h.payments)
}

// payments acknowledges applied, duplicate and ignored deliveries with 200. A forged signature is
// acknowledged as rejected so the provider stops retrying it; every other failure answers 5xx so the
// provider redelivers.
func (h *WebhookHandlers) payments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	result, err := h.orders.HandlePaymentWebhook(ctx, services.PaymentWebhookCommand{
		Body:      body,
		Signature: r.Header.Get(h.signatureHeader),
	})
	switch {
	case errors.Is(err, services.ErrOrderInvalidSignature):
		writeJSONResponse(w, http.StatusOK, webhookResponse{Status: "rejected", Error: "invalid_signature"})
		return
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "webhook payload could not be parsed", http.StatusBadRequest))
		return
	case err != nil:
		requestctx.Logger(ctx).Error("webhook.delivery.failed", zap.Error(err), zap.String("eventId", result.EventID))
		writeOrderError(ctx, w, err)
		return
	}

	status := "processed"
	switch {
	case result.Duplicate:
		status = "duplicate"
	case result.Ignored:
		status = "ignored"
	}
	writeJSONResponse(w, http.StatusOK, webhookResponse{
		Status:    status,
		EventID:   result.EventID,
		EventType: result.EventType,
	})
}
