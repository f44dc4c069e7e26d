package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/tryathome/orderflow/internal/domain"
	"github.com/tryathome/orderflow/internal/platform/auth"
	"github.com/tryathome/orderflow/internal/platform/httpx"
	"github.com/tryathome/orderflow/internal/services"
)

const (
	defaultOrderPageSize  = 20
	maxOrderPageSize      = 100
	maxOrderBodySize      = 32 * 1024
	maxOrderSmallBodySize = 4 * 1024
	idempotencyKeyHeader  = "Idempotency-Key"
)

type createOrderRequest struct {
	Items []struct {
		ProductID string `json:"productId"`
		VariantID string `json:"variantId"`
		Quantity  int    `json:"quantity"`
	} `json:"items"`
	Address       addressPayload `json:"address"`
	PaymentMethod string         `json:"paymentMethod"`
	Currency      string         `json:"currency"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type completeTrialRequest struct {
	KeptItemIDs []string `json:"keptItemIds"`
}

type confirmPaymentRequest struct {
	ProviderOrderID   string `json:"providerOrderId"`
	ProviderPaymentID string `json:"providerPaymentId"`
	Signature         string `json:"signature"`
}

type initiateReturnResponse struct {
	Order      orderPayload `json:"order"`
	PickupCode string       `json:"pickupCode"`
}

// OrderHandlers exposes the customer-facing order endpoints.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	idempotency func(http.Handler) http.Handler
	live        *LiveStatusHandler
}

// OrderHandlerOption customises OrderHandlers.
type OrderHandlerOption func(*OrderHandlers)

// WithOrderIdempotency guards order creation with the provided idempotency middleware.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// WithOrderLiveStatus mounts the live status websocket under /orders/{orderID}/live.
func WithOrderLiveStatus(live *LiveStatusHandler) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.live = live
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireCustomer())
	}
	create := http.Handler(http.HandlerFunc(h.createOrder))
	if h.idempotency != nil {
		create = h.idempotency(create)
	}
	r.Method(http.MethodPost, "/", create)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	if h.live != nil {
		r.Get("/{orderID}/live", h.live.ServeHTTP)
	}
	r.Post("/{orderID}:cancel", h.cancelOrder)
	r.Post("/{orderID}:start-trial", h.startTrial)
	r.Post("/{orderID}:complete-trial", h.completeTrial)
	r.Post("/{orderID}:initiate-return", h.initiateReturn)
	r.Post("/{orderID}:confirm-payment", h.confirmPayment)
}

func (h *OrderHandlers) ready(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	return requirePrincipal(ctx, w)
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := h.ready(w, r)
	if !ok {
		return
	}
	var req createOrderRequest
	if !decodeJSONBody(w, r, maxOrderBodySize, false, &req) {
		return
	}

	cmd := services.CreateOrderCommand{
		CustomerID:     principal.ID,
		Address:        domain.Address(req.Address),
		PaymentMethod:  domain.PaymentMethodKind(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		Currency:       req.Currency,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)),
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.CreateOrderItem{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
		})
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := h.ready(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	pageSize := defaultOrderPageSize
	if sizeRaw := strings.TrimSpace(query.Get("page_size")); sizeRaw != "" {
		size, err := strconv.Atoi(sizeRaw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case size <= 0:
			pageSize = defaultOrderPageSize
		case size > maxOrderPageSize:
			pageSize = maxOrderPageSize
		default:
			pageSize = size
		}
	}

	page, err := h.orders.ListOrders(ctx, principal.ID, services.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := h.ready(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, orderID, customerScope(principal))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := h.ready(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	var req cancelOrderRequest
	if !decodeJSONBody(w, r, maxOrderSmallBodySize, true, &req) {
		return
	}
	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID:    orderID,
		CustomerID: customerScope(principal),
		ActorID:    principal.Actor(),
		Reason:     req.Reason,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) startTrial(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := h.ready(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	order, err := h.orders.StartTrial(ctx, services.StartTrialCommand{
		OrderID:    orderID,
		CustomerID: customerScope(principal),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) completeTrial(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := h.ready(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	var req completeTrialRequest
	if !decodeJSONBody(w, r, maxOrderSmallBodySize, false, &req) {
		return
	}
	order, err := h.orders.CompleteTrial(ctx, services.CompleteTrialCommand{
		OrderID:     orderID,
		CustomerID:  customerScope(principal),
		KeptItemIDs: req.KeptItemIDs,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) initiateReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := h.ready(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	result, err := h.orders.InitiateReturn(ctx, services.InitiateReturnCommand{
		OrderID:    orderID,
		CustomerID: customerScope(principal),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, initiateReturnResponse{
		Order:      buildOrderPayload(result.Order),
		PickupCode: result.PickupCode,
	})
}

func (h *OrderHandlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := h.ready(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	var req confirmPaymentRequest
	if !decodeJSONBody(w, r, maxOrderSmallBodySize, false, &req) {
		return
	}
	order, err := h.orders.ConfirmGatewayPayment(ctx, services.ConfirmGatewayPaymentCommand{
		OrderID:           orderID,
		CustomerID:        customerScope(principal),
		ProviderOrderID:   req.ProviderOrderID,
		ProviderPaymentID: req.ProviderPaymentID,
		Signature:         req.Signature,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}
