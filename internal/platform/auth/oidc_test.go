package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

const testAudience = "https://orderflow.example.com"

var oidcNow = time.Unix(1_760_000_000, 0)

type oidcFixture struct {
	validator *OIDCValidator
	key       *rsa.PrivateKey
	fetches   *atomic.Int32
}

func newOIDCFixture(t *testing.T) oidcFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwk := jose.JSONWebKey{Key: &key.PublicKey, KeyID: "svc-key", Algorithm: jwt.SigningMethodRS256.Alg(), Use: "sig"}
	fetches := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetches.Add(1)
		w.Header().Set("Cache-Control", "public, max-age=600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
	}))
	t.Cleanup(server.Close)

	clock := func() time.Time { return oidcNow }
	cache := NewJWKSCache(server.URL, WithJWKSClock(clock))
	validator := NewOIDCValidator(cache, testAudience, []string{"https://accounts.google.com"}, WithOIDCClock(clock))
	return oidcFixture{validator: validator, key: key, fetches: fetches}
}

func (f oidcFixture) sign(t *testing.T, mutate func(jwt.MapClaims)) string {
	t.Helper()
	claims := jwt.MapClaims{
		"aud":   testAudience,
		"iss":   "https://accounts.google.com",
		"sub":   "1234567890",
		"email": "shipping@partner.iam.gserviceaccount.com",
		"exp":   float64(oidcNow.Add(time.Hour).Unix()),
		"iat":   float64(oidcNow.Unix()),
	}
	if mutate != nil {
		mutate(claims)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "svc-key"
	signed, err := token.SignedString(f.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestOIDCVerifyBuildsServicePrincipal(t *testing.T) {
	f := newOIDCFixture(t)
	principal, err := f.validator.Verify(context.Background(), f.sign(t, nil))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if principal.Kind != PrincipalService || !principal.HasRole(RoleOperator) {
		t.Fatalf("unexpected principal %+v", principal)
	}
	if principal.Actor() != "service:shipping@partner.iam.gserviceaccount.com" {
		t.Fatalf("unexpected actor %s", principal.Actor())
	}

	if _, err := f.validator.Verify(context.Background(), f.sign(t, nil)); err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if f.fetches.Load() != 1 {
		t.Fatalf("expected keys to be cached, got %d fetches", f.fetches.Load())
	}
}

func TestOIDCVerifyRejections(t *testing.T) {
	cases := map[string]func(jwt.MapClaims){
		"audience": func(c jwt.MapClaims) { c["aud"] = "https://elsewhere.example.com" },
		"issuer":   func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" },
		"expired":  func(c jwt.MapClaims) { c["exp"] = float64(oidcNow.Add(-time.Minute).Unix()) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newOIDCFixture(t)
			if _, err := f.validator.Verify(context.Background(), f.sign(t, mutate)); err == nil {
				t.Fatalf("expected %s rejection", name)
			}
		})
	}
}

func TestRequireOIDCAcceptsIAPHeader(t *testing.T) {
	f := newOIDCFixture(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/orders/ord_1:advance-delivery", nil)
	req.Header.Set("X-Goog-Iap-Jwt-Assertion", f.sign(t, nil))

	f.validator.RequireOIDC()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFromContext(r.Context()); !ok {
			t.Fatalf("expected principal in context")
		}
		w.WriteHeader(http.StatusAccepted)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
}

func TestRequireOIDCKeysUnavailable(t *testing.T) {
	f := newOIDCFixture(t)
	f.validator.keys.url = "http://127.0.0.1:1/jwks"
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+f.sign(t, nil))

	f.validator.RequireOIDC()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler must not run")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestJWKSCacheUnknownKid(t *testing.T) {
	f := newOIDCFixture(t)
	if _, err := f.validator.keys.Key(context.Background(), "other"); !errors.Is(err, ErrJWKSKeyNotFound) {
		t.Fatalf("expected ErrJWKSKeyNotFound, got %v", err)
	}
}

func TestMaxAge(t *testing.T) {
	cases := map[string]time.Duration{
		"public, max-age=600, must-revalidate": 10 * time.Minute,
		"no-cache":                             0,
		"max-age=abc":                          0,
	}
	for header, want := range cases {
		if got := maxAge(header); got != want {
			t.Fatalf("maxAge(%q) = %s, want %s", header, got, want)
		}
	}
}
