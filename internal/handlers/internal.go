package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/tryathome/orderflow/internal/domain"
	"github.com/tryathome/orderflow/internal/platform/auth"
	"github.com/tryathome/orderflow/internal/platform/httpx"
	"github.com/tryathome/orderflow/internal/services"
)

const defaultSweepBatch = 100

type advanceDeliveryRequest struct {
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

type verifyCashRequest struct {
	Code string `json:"code"`
}

type verifyTransferRequest struct {
	TransactionID string `json:"transactionId"`
}

type receiveReturnRequest struct {
	PickupCode string `json:"pickupCode"`
}

type refundRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

type sweepRequest struct {
	Limit int `json:"limit"`
}

type sweepResponse struct {
	Completed int    `json:"completed"`
	Error     string `json:"error,omitempty"`
}

type restockRequest struct {
	Quantity          int  `json:"quantity"`
	LowStockThreshold *int `json:"lowStockThreshold"`
}

type inventoryPayload struct {
	ProductID         string `json:"productId"`
	VariantID         string `json:"variantId"`
	Available         int    `json:"available"`
	Reserved          int    `json:"reserved"`
	Sold              int    `json:"sold"`
	Returned          int    `json:"returned"`
	LowStockThreshold int    `json:"lowStockThreshold"`
	LowStock          bool   `json:"lowStock"`
	Version           int64  `json:"version"`
	UpdatedAt         string `json:"updatedAt,omitempty"`
}

// InternalHandlers serves shipping, warehouse, operator and scheduler callers authenticated with
// Google OIDC. Code-verification routes are rate limited per caller and order.
type InternalHandlers struct {
	orders     services.OrderService
	inventory  services.InventoryService
	codeLimit  rateLimiter
	sweepBatch int
}

// InternalOption customises InternalHandlers.
type InternalOption func(*InternalHandlers)

// WithInternalCodeRateLimit bounds code verification attempts per caller and order per minute.
func WithInternalCodeRateLimit(perMinute int, clock func() time.Time) InternalOption {
	return func(h *InternalHandlers) {
		h.codeLimit = newSimpleRateLimiter(perMinute, time.Minute, clock)
	}
}

// WithInternalSweepBatch sets the default number of trials processed per sweep call.
func WithInternalSweepBatch(n int) InternalOption {
	return func(h *InternalHandlers) {
		if n > 0 {
			h.sweepBatch = n
		}
	}
}

// NewInternalHandlers constructs the internal endpoints.
func NewInternalHandlers(orders services.OrderService, inventory services.InventoryService, opts ...InternalOption) *InternalHandlers {
	h := &InternalHandlers{orders: orders, inventory: inventory, sweepBatch: defaultSweepBatch}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /internal endpoints. Authentication is applied by the router group.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/orders", func(orders chi.Router) {
		orders.Post("/{orderID}:advance-delivery", h.advanceDelivery)
		orders.With(h.limitCodes).Post("/{orderID}:verify-cash", h.verifyCash)
		orders.Post("/{orderID}:verify-transfer", h.verifyTransfer)
		orders.With(h.limitCodes).Post("/{orderID}:receive-return", h.receiveReturn)
		orders.Post("/{orderID}:refund", h.refund)
	})
	r.Post("/maintenance/trial-sweep", h.sweepTrials)
	r.Get("/inventory/{productID}/{variantID}", h.getInventory)
	r.Put("/inventory/{productID}/{variantID}", h.restock)
}

func (h *InternalHandlers) limitCodes(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.codeLimit != nil {
			caller := "anonymous"
			if principal, ok := auth.PrincipalFromContext(r.Context()); ok {
				caller = principal.Actor()
			}
			if !h.codeLimit.Allow(caller + "|" + chi.URLParam(r, "orderID")) {
				w.Header().Set("Retry-After", "60")
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many verification attempts", http.StatusTooManyRequests))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (h *InternalHandlers) ready(w http.ResponseWriter, r *http.Request) (*auth.Principal, string, bool) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return nil, "", false
	}
	principal, ok := requirePrincipal(ctx, w)
	if !ok {
		return nil, "", false
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return nil, "", false
	}
	return principal, orderID, true
}

func (h *InternalHandlers) advanceDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, orderID, ok := h.ready(w, r)
	if !ok {
		return
	}
	var req advanceDeliveryRequest
	if !decodeJSONBody(w, r, maxOrderSmallBodySize, false, &req) {
		return
	}
	order, err := h.orders.AdvanceDelivery(ctx, services.AdvanceDeliveryCommand{
		OrderID:  orderID,
		Status:   domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		ActorID:  principal.Actor(),
		Metadata: req.Metadata,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *InternalHandlers) verifyCash(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, orderID, ok := h.ready(w, r)
	if !ok {
		return
	}
	var req verifyCashRequest
	if !decodeJSONBody(w, r, maxOrderSmallBodySize, false, &req) {
		return
	}
	order, err := h.orders.VerifyCashPayment(ctx, services.VerifyCashCommand{
		OrderID: orderID,
		Code:    req.Code,
		ActorID: principal.Actor(),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *InternalHandlers) verifyTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, orderID, ok := h.ready(w, r)
	if !ok {
		return
	}
	var req verifyTransferRequest
	if !decodeJSONBody(w, r, maxOrderSmallBodySize, false, &req) {
		return
	}
	order, err := h.orders.VerifyTransferPayment(ctx, services.VerifyTransferCommand{
		OrderID:       orderID,
		TransactionID: req.TransactionID,
		ActorID:       principal.Actor(),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *InternalHandlers) receiveReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, orderID, ok := h.ready(w, r)
	if !ok {
		return
	}
	var req receiveReturnRequest
	if !decodeJSONBody(w, r, maxOrderSmallBodySize, false, &req) {
		return
	}
	order, err := h.orders.ReceiveReturn(ctx, services.ReceiveReturnCommand{
		OrderID:    orderID,
		PickupCode: req.PickupCode,
		ActorID:    principal.Actor(),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *InternalHandlers) refund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, orderID, ok := h.ready(w, r)
	if !ok {
		return
	}
	var req refundRequest
	if !decodeJSONBody(w, r, maxOrderSmallBodySize, false, &req) {
		return
	}
	order, err := h.orders.RequestRefund(ctx, services.RefundCommand{
		OrderID: orderID,
		Amount:  req.Amount,
		Reason:  req.Reason,
		ActorID: principal.Actor(),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

// sweepTrials reports partial progress: orders that failed are listed in the error but the
// completed count still reflects committed work.
func (h *InternalHandlers) sweepTrials(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	var req sweepRequest
	if !decodeJSONBody(w, r, maxOrderSmallBodySize, true, &req) {
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = h.sweepBatch
	}
	count, err := h.orders.SweepExpiredTrials(ctx, limit)
	if err != nil && count == 0 {
		writeOrderError(ctx, w, err)
		return
	}
	resp := sweepResponse{Completed: count}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *InternalHandlers) inventoryKey(w http.ResponseWriter, r *http.Request) (domain.InventoryKey, bool) {
	key := domain.InventoryKey{
		ProductID: strings.TrimSpace(chi.URLParam(r, "productID")),
		VariantID: strings.TrimSpace(chi.URLParam(r, "variantID")),
	}
	if h.inventory == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("inventory_service_unavailable", "inventory service unavailable", http.StatusServiceUnavailable))
		return key, false
	}
	if !key.Valid() {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "product and variant are required", http.StatusBadRequest))
		return key, false
	}
	return key, true
}

func (h *InternalHandlers) getInventory(w http.ResponseWriter, r *http.Request) {
	key, ok := h.inventoryKey(w, r)
	if !ok {
		return
	}
	line, err := h.inventory.Get(r.Context(), key)
	if err != nil {
		writeInventoryError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildInventoryPayload(line))
}

func (h *InternalHandlers) restock(w http.ResponseWriter, r *http.Request) {
	key, ok := h.inventoryKey(w, r)
	if !ok {
		return
	}
	var req restockRequest
	if !decodeJSONBody(w, r, maxOrderSmallBodySize, false, &req) {
		return
	}
	line, err := h.inventory.Restock(r.Context(), services.RestockCommand{
		Key:               key,
		Quantity:          req.Quantity,
		LowStockThreshold: req.LowStockThreshold,
	})
	if err != nil {
		writeInventoryError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildInventoryPayload(line))
}

func buildInventoryPayload(line domain.InventoryLine) inventoryPayload {
	return inventoryPayload{
		ProductID:         line.Key.ProductID,
		VariantID:         line.Key.VariantID,
		Available:         line.Available,
		Reserved:          line.Reserved,
		Sold:              line.Sold,
		Returned:          line.Returned,
		LowStockThreshold: line.LowStockThreshold,
		LowStock:          line.IsLowStock(),
		Version:           line.Version,
		UpdatedAt:         formatTime(line.UpdatedAt),
	}
}
