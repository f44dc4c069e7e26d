package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/tryathome/orderflow/internal/domain"
	"github.com/tryathome/orderflow/internal/platform/auth"
	"github.com/tryathome/orderflow/internal/services"
)

type stubInventoryService struct {
	getFn     func(context.Context, services.InventoryKey) (services.InventoryLine, error)
	restockFn func(context.Context, services.RestockCommand) (services.InventoryLine, error)
}

var _ services.InventoryService = (*stubInventoryService)(nil)

func (s *stubInventoryService) ReserveAll(context.Context, []domain.InventoryMovement) error {
	return nil
}

func (s *stubInventoryService) ConfirmAll(context.Context, []domain.InventoryMovement) error {
	return nil
}

func (s *stubInventoryService) ReleaseAll(context.Context, []domain.InventoryMovement) error {
	return nil
}

func (s *stubInventoryService) ReturnAll(context.Context, []domain.InventoryMovement) error {
	return nil
}

func (s *stubInventoryService) UnsellAll(context.Context, []domain.InventoryMovement) error {
	return nil
}

func (s *stubInventoryService) Get(ctx context.Context, key services.InventoryKey) (services.InventoryLine, error) {
	if s.getFn != nil {
		return s.getFn(ctx, key)
	}
	return services.InventoryLine{}, services.ErrInventoryStockNotFound
}

func (s *stubInventoryService) Restock(ctx context.Context, cmd services.RestockCommand) (services.InventoryLine, error) {
	if s.restockFn != nil {
		return s.restockFn(ctx, cmd)
	}
	return services.InventoryLine{}, nil
}

func withServicePrincipal(email string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := &auth.Principal{Kind: auth.PrincipalService, ID: "sub-1", Email: email, Roles: []string{auth.RoleOperator}}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
		})
	}
}

func newInternalRouter(orders services.OrderService, inventory services.InventoryService, opts ...InternalOption) chi.Router {
	return NewRouter(
		WithInternalRoutes(NewInternalHandlers(orders, inventory, opts...).Routes),
		WithInternalMiddlewares(withServicePrincipal("shipping@example.iam.gserviceaccount.com")),
	)
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestInternalHandlersAdvanceDelivery(t *testing.T) {
	var captured services.AdvanceDeliveryCommand
	svc := &stubOrderService{advanceFn: func(_ context.Context, cmd services.AdvanceDeliveryCommand) (services.Order, error) {
		captured = cmd
		return sampleOrder(), nil
	}}
	rr := httptest.NewRecorder()
	newInternalRouter(svc, nil).ServeHTTP(rr, jsonRequest(http.MethodPost,
		"/api/v1/internal/orders/ord_1:advance-delivery", `{"status":"OUT_FOR_DELIVERY","metadata":{"carrier":"acme"}}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.Status != domain.OrderStatusOutForDelivery {
		t.Fatalf("unexpected command %#v", captured)
	}
	if captured.ActorID != "service:shipping@example.iam.gserviceaccount.com" {
		t.Fatalf("expected service actor, got %q", captured.ActorID)
	}
	if captured.Metadata["carrier"] != "acme" {
		t.Fatalf("expected metadata forwarded, got %#v", captured.Metadata)
	}
}

func TestInternalHandlersVerifyCashIsRateLimited(t *testing.T) {
	attempts := 0
	svc := &stubOrderService{verifyCashFn: func(context.Context, services.VerifyCashCommand) (services.Order, error) {
		attempts++
		return services.Order{}, services.ErrOrderInvalidCode
	}}
	now := time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC)
	router := newInternalRouter(svc, nil, WithInternalCodeRateLimit(3, func() time.Time { return now }))

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, jsonRequest(http.MethodPost, "/api/v1/internal/orders/ord_1:verify-cash", `{"code":"000000"}`))
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("attempt %d: expected 422, got %d", i+1, rr.Code)
		}
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, jsonRequest(http.MethodPost, "/api/v1/internal/orders/ord_1:verify-cash", `{"code":"000000"}`))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if attempts != 3 {
		t.Fatalf("expected limited request to skip the service, got %d attempts", attempts)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, jsonRequest(http.MethodPost, "/api/v1/internal/orders/ord_2:verify-cash", `{"code":"000000"}`))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected other orders to keep their own budget, got %d", rr.Code)
	}

	now = now.Add(time.Minute + time.Second)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, jsonRequest(http.MethodPost, "/api/v1/internal/orders/ord_1:verify-cash", `{"code":"000000"}`))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected budget to reset after a minute, got %d", rr.Code)
	}
}

func TestInternalHandlersReceiveReturnAndRefund(t *testing.T) {
	var (
		received services.ReceiveReturnCommand
		refund   services.RefundCommand
	)
	svc := &stubOrderService{
		receiveReturnFn: func(_ context.Context, cmd services.ReceiveReturnCommand) (services.Order, error) {
			received = cmd
			return sampleOrder(), nil
		},
		refundFn: func(_ context.Context, cmd services.RefundCommand) (services.Order, error) {
			refund = cmd
			return services.Order{}, services.ErrOrderPaymentNotCompleted
		},
	}
	router := newInternalRouter(svc, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, jsonRequest(http.MethodPost, "/api/v1/internal/orders/ord_1:receive-return", `{"pickupCode":"ab12cd34"}`))
	if rr.Code != http.StatusOK || received.PickupCode != "ab12cd34" {
		t.Fatalf("receive return failed: %d %#v", rr.Code, received)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, jsonRequest(http.MethodPost, "/api/v1/internal/orders/ord_1:refund", `{"amount":500,"reason":"damaged"}`))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if refund.Amount != 500 || refund.Reason != "damaged" {
		t.Fatalf("unexpected refund command %#v", refund)
	}
}

func TestInternalHandlersTrialSweep(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		count     int
		err       error
		wantCode  int
		wantLimit int
		wantError bool
	}{
		{name: "default batch", body: "", count: 4, wantCode: http.StatusOK, wantLimit: 25},
		{name: "explicit limit", body: `{"limit":5}`, count: 5, wantCode: http.StatusOK, wantLimit: 5},
		{name: "partial failure", body: "", count: 2, err: fmt.Errorf("order ord_9: %w", services.ErrOrderUnavailable), wantCode: http.StatusOK, wantLimit: 25, wantError: true},
		{name: "total failure", body: "", err: services.ErrOrderUnavailable, wantCode: http.StatusServiceUnavailable, wantLimit: 25},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var limit int
			svc := &stubOrderService{sweepFn: func(_ context.Context, n int) (int, error) {
				limit = n
				return tc.count, tc.err
			}}
			req := httptest.NewRequest(http.MethodPost, "/api/v1/internal/maintenance/trial-sweep", strings.NewReader(tc.body))
			rr := httptest.NewRecorder()
			newInternalRouter(svc, nil, WithInternalSweepBatch(25)).ServeHTTP(rr, req)

			if rr.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d", tc.wantCode, rr.Code)
			}
			if limit != tc.wantLimit {
				t.Fatalf("expected limit %d, got %d", tc.wantLimit, limit)
			}
			if tc.wantCode != http.StatusOK {
				return
			}
			var body sweepResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Completed != tc.count {
				t.Fatalf("expected %d completed, got %d", tc.count, body.Completed)
			}
			if (body.Error != "") != tc.wantError {
				t.Fatalf("unexpected error field %q", body.Error)
			}
		})
	}
}

func TestInternalHandlersInventory(t *testing.T) {
	updated := time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC)
	var restock services.RestockCommand
	inventory := &stubInventoryService{
		getFn: func(_ context.Context, key services.InventoryKey) (services.InventoryLine, error) {
			if key.VariantID != "M" {
				return services.InventoryLine{}, services.ErrInventoryStockNotFound
			}
			return services.InventoryLine{Key: key, Available: 2, Reserved: 1, LowStockThreshold: 5, Version: 3, UpdatedAt: updated}, nil
		},
		restockFn: func(_ context.Context, cmd services.RestockCommand) (services.InventoryLine, error) {
			restock = cmd
			if cmd.Quantity <= 0 {
				return services.InventoryLine{}, errors.Join(services.ErrInventoryInvalidInput, errors.New("quantity must be positive"))
			}
			return services.InventoryLine{Key: cmd.Key, Available: cmd.Quantity}, nil
		},
	}
	router := newInternalRouter(&stubOrderService{}, inventory)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/internal/inventory/kurta-01/M", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var line inventoryPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &line); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if line.ProductID != "kurta-01" || line.Available != 2 || !line.LowStock || line.UpdatedAt != "2025-05-06T09:00:00Z" {
		t.Fatalf("unexpected inventory payload %#v", line)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/internal/inventory/kurta-01/XL", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, jsonRequest(http.MethodPut, "/api/v1/internal/inventory/kurta-01/M", `{"quantity":10,"lowStockThreshold":3}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if restock.Quantity != 10 || restock.LowStockThreshold == nil || *restock.LowStockThreshold != 3 {
		t.Fatalf("unexpected restock command %#v", restock)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, jsonRequest(http.MethodPut, "/api/v1/internal/inventory/kurta-01/M", `{"quantity":0}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestInternalHandlersRequirePrincipal(t *testing.T) {
	router := NewRouter(WithInternalRoutes(NewInternalHandlers(&stubOrderService{}, nil).Routes))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, jsonRequest(http.MethodPost, "/api/v1/internal/orders/ord_1:verify-transfer", `{"transactionId":"UTR1"}`))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}
