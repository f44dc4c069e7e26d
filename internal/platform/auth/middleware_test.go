package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	verifyFn func(ctx context.Context, token string) (*firebaseauth.Token, error)
}

func (s stubTokenVerifier) VerifyIDToken(ctx context.Context, token string) (*firebaseauth.Token, error) {
	return s.verifyFn(ctx, token)
}

func TestRequireCustomerAttachesPrincipal(t *testing.T) {
	var received string
	verifier := stubTokenVerifier{verifyFn: func(_ context.Context, token string) (*firebaseauth.Token, error) {
		received = token
		return &firebaseauth.Token{UID: "cust-1", Claims: map[string]any{"email": "a@example.com"}}, nil
	}}

	handler := NewAuthenticator(verifier).RequireCustomer()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFromContext(r.Context())
		if !ok {
			t.Fatalf("expected principal")
		}
		if principal.ID != "cust-1" || principal.Email != "a@example.com" || !principal.HasRole(RoleCustomer) {
			t.Fatalf("unexpected principal %+v", principal)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "bearer tok-1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent || received != "tok-1" {
		t.Fatalf("unexpected result %d token=%q", rr.Code, received)
	}
}

func TestRequireCustomerRejections(t *testing.T) {
	tests := []struct {
		name   string
		header string
		err    error
		roles  []string
		claims map[string]any
		status int
		code   string
	}{
		{name: "missing header", status: http.StatusUnauthorized, code: "unauthenticated"},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized, code: "unauthenticated"},
		{name: "expired", header: "Bearer t", err: ErrTokenExpired, status: http.StatusUnauthorized, code: "token_expired"},
		{name: "invalid", header: "Bearer t", err: ErrTokenInvalid, status: http.StatusUnauthorized, code: "invalid_token"},
		{name: "role", header: "Bearer t", roles: []string{RoleAdmin}, claims: map[string]any{"role": []any{"customer"}}, status: http.StatusForbidden, code: "insufficient_role"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			verifier := stubTokenVerifier{verifyFn: func(context.Context, string) (*firebaseauth.Token, error) {
				if tc.err != nil {
					return nil, tc.err
				}
				return &firebaseauth.Token{UID: "u", Claims: tc.claims}, nil
			}}
			handler := NewAuthenticator(verifier).RequireCustomer(tc.roles...)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatalf("handler must not run")
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["error"] != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, body["error"])
			}
		})
	}
}

func TestRolesFromClaim(t *testing.T) {
	roles := rolesFromClaim([]any{"Operator", "operator", " admin ", 3})
	if len(roles) != 2 || roles[0] != "operator" || roles[1] != "admin" {
		t.Fatalf("unexpected roles %v", roles)
	}
	if got := rolesFromClaim(nil); len(got) != 0 {
		t.Fatalf("expected no roles, got %v", got)
	}
}
