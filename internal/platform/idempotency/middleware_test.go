package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tryathome/orderflow/internal/platform/auth"
)

var fixedTime = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func newRequest(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req.WithContext(auth.WithPrincipal(req.Context(), &auth.Principal{Kind: auth.PrincipalCustomer, ID: "cust-1"}))
}

func TestMiddlewareRequiresHeader(t *testing.T) {
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run without a key")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest("", `{}`))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_key_required")
}

func TestMiddlewareOptionalPassesThrough(t *testing.T) {
	called := false
	handler := Middleware(NewMemoryStore(), Optional())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusCreated)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest("", `{}`))
	if !called || rr.Code != http.StatusCreated {
		t.Fatalf("expected pass-through, got called=%v code=%d", called, rr.Code)
	}
}

func TestMiddlewareReplaysStoredResponse(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Location", "/api/v1/orders/ord_1")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"ord_1"}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newRequest("key-1", `{"items":1}`))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newRequest("key-1", `{"items":1}`))

	if calls != 1 {
		t.Fatalf("expected one handler call, got %d", calls)
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Fatalf("unexpected replay %d %s", second.Code, second.Body.String())
	}
	if second.Header().Get(replayHeaderName) != "true" || second.Header().Get("Location") != "/api/v1/orders/ord_1" {
		t.Fatalf("unexpected replay headers %v", second.Header())
	}
}

func TestMiddlewareDifferentBodyConflicts(t *testing.T) {
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), newRequest("key-2", `{"items":1}`))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest("key-2", `{"items":2}`))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddlewareKeysAreScopedPerCaller(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), newRequest("shared", `{}`))

	other := newRequest("shared", `{}`)
	other = other.WithContext(auth.WithPrincipal(other.Context(), &auth.Principal{Kind: auth.PrincipalCustomer, ID: "cust-2"}))
	handler.ServeHTTP(httptest.NewRecorder(), other)

	if calls != 2 {
		t.Fatalf("expected both callers to run, got %d calls", calls)
	}
}

func TestMiddlewareServerErrorsAreNotStored(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newRequest("retry", `{}`))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newRequest("retry", `{}`))

	if first.Code != http.StatusServiceUnavailable || second.Code != http.StatusCreated || calls != 2 {
		t.Fatalf("expected retry to run again: %d %d calls=%d", first.Code, second.Code, calls)
	}
}

func TestMiddlewarePendingReturnsConflict(t *testing.T) {
	store := &stubStore{reserveFn: func() (Reservation, error) {
		return Reservation{State: ReservationStatePending}, nil
	}}
	handler := Middleware(store)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run while another request holds the key")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest("busy", `{}`))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddlewareSaveFailureReleasesKey(t *testing.T) {
	store := &stubStore{
		reserveFn: func() (Reservation, error) { return Reservation{State: ReservationStateNew}, nil },
		saveErr:   errors.New("save failed"),
	}
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest("flaky", `{}`))

	if rr.Code != http.StatusCreated {
		t.Fatalf("handler response must still be delivered, got %d", rr.Code)
	}
	if !store.released {
		t.Fatalf("expected key to be released after save failure")
	}
}

func TestMiddlewareStoreOutage(t *testing.T) {
	store := &stubStore{reserveFn: func() (Reservation, error) { return Reservation{}, errors.New("redis down") }}
	handler := Middleware(store)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run when the store is unavailable")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest("k", `{}`))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

type stubStore struct {
	reserveFn func() (Reservation, error)
	saveErr   error
	released  bool
}

func (s *stubStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	return s.reserveFn()
}

func (s *stubStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	return s.saveErr
}

func (s *stubStore) Release(context.Context, string) error {
	s.released = true
	return nil
}

func (s *stubStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func assertErrorCode(t *testing.T, payload []byte, expected string) {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if body.Error != expected {
		t.Fatalf("expected error code %s, got %s", expected, body.Error)
	}
}
