package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Store.Driver != StoreDriverMemory {
		t.Errorf("expected memory driver, got %s", cfg.Store.Driver)
	}
	if cfg.Lifecycle.TrialDuration != 2*time.Hour {
		t.Errorf("expected 2h trial, got %s", cfg.Lifecycle.TrialDuration)
	}
	if cfg.Lifecycle.ReturnWindow != 48*time.Hour {
		t.Errorf("expected 48h return window, got %s", cfg.Lifecycle.ReturnWindow)
	}
	if cfg.Payments.Currency != "INR" {
		t.Errorf("expected INR, got %s", cfg.Payments.Currency)
	}
	if cfg.Payments.SignatureHeader != defaultSignatureHeader {
		t.Errorf("unexpected signature header %s", cfg.Payments.SignatureHeader)
	}
	if len(cfg.Security.OIDC.Issuers) != 1 || cfg.Security.OIDC.Issuers[0] != defaultOIDCIssuer {
		t.Errorf("expected default issuer, got %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader || cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected idempotency defaults %+v", cfg.Idempotency)
	}
	if len(cfg.Events.KafkaBrokers) != 0 {
		t.Errorf("expected no kafka brokers, got %v", cfg.Events.KafkaBrokers)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                 "9090",
		"API_STORE_DRIVER":                "Postgres",
		"API_POSTGRES_DSN":                "secret://orderflow/postgres-dsn",
		"API_FIREBASE_PROJECT_ID":         "tah-prod",
		"API_REDIS_ADDR":                  "redis:6379",
		"API_KAFKA_BROKERS":               "k1:9092, k2:9092",
		"API_PAYMENTS_CURRENCY":           "inr",
		"API_PAYMENTS_WEBHOOK_SECRET":     "sm://orderflow/webhook",
		"API_PAYMENTS_GATEWAY_KEY_SECRET": "plain-gateway-secret",
		"API_TRIAL_DURATION":              "90m",
		"API_SECURITY_ENVIRONMENT":        "PROD",
		"API_SECURITY_OIDC_AUDIENCE":      "https://orderflow.example.com",
	}
	secrets := map[string]string{
		"secret://orderflow/postgres-dsn": "postgres://u:p@db/orderflow",
		"secret://orderflow/webhook":      "whsec",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", errors.New("unknown secret")
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Store.Driver != StoreDriverPostgres {
		t.Fatalf("unexpected server/store config %+v %+v", cfg.Server, cfg.Store)
	}
	if cfg.Store.PostgresDSN != "postgres://u:p@db/orderflow" {
		t.Fatalf("expected resolved dsn, got %s", cfg.Store.PostgresDSN)
	}
	if cfg.Payments.WebhookSecret != "whsec" {
		t.Fatalf("expected sm:// reference to resolve, got %s", cfg.Payments.WebhookSecret)
	}
	if cfg.Payments.GatewayKeySecret != "plain-gateway-secret" {
		t.Fatalf("plain values must pass through, got %s", cfg.Payments.GatewayKeySecret)
	}
	if cfg.Payments.Currency != "INR" {
		t.Fatalf("expected upper-cased currency, got %s", cfg.Payments.Currency)
	}
	if len(cfg.Events.KafkaBrokers) != 2 || cfg.Events.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.Events.KafkaBrokers)
	}
	if cfg.Events.PubSubProjectID != "tah-prod" || cfg.Firestore.ProjectID != "tah-prod" {
		t.Fatalf("expected project defaults from firebase, got %+v %+v", cfg.Events, cfg.Firestore)
	}
	if cfg.Lifecycle.TrialDuration != 90*time.Minute {
		t.Fatalf("expected 90m trial, got %s", cfg.Lifecycle.TrialDuration)
	}
	if cfg.Security.Environment != "prod" {
		t.Fatalf("expected lower-cased environment, got %s", cfg.Security.Environment)
	}
}

func TestLoadSecretResolutionFailure(t *testing.T) {
	env := map[string]string{"API_PAYMENTS_STRIPE_API_KEY": "secret://stripe/api"}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if secretErr.Ref != "secret://stripe/api" || !errors.Is(err, errSecretResolverNotConfigured) {
		t.Fatalf("unexpected secret error %+v", secretErr)
	}
}

func TestLoadValidation(t *testing.T) {
	env := map[string]string{
		"API_STORE_DRIVER":         "postgres",
		"API_PAYMENTS_CURRENCY":    "RUPEE",
		"API_SECURITY_ENVIRONMENT": "prod",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	want := map[string]bool{
		"Store.PostgresDSN":      true,
		"Payments.Currency":      true,
		"Payments.WebhookSecret": true,
		"Security.OIDC.Audience": true,
	}
	fields := validation.Fields()
	if len(fields) != len(want) {
		t.Fatalf("unexpected fields %v", fields)
	}
	for _, field := range fields {
		if !want[field] {
			t.Fatalf("unexpected field %s in %v", field, fields)
		}
	}
}

func TestLoadReadsDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local overrides\nAPI_SERVER_PORT=7070\nexport API_RETURN_WINDOW=\"24h\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(path), WithoutSystemEnv(), WithEnvMap(map[string]string{"API_SERVER_PORT": "6060"}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "6060" {
		t.Fatalf("explicit env map must win over .env, got %s", cfg.Server.Port)
	}
	if cfg.Lifecycle.ReturnWindow != 24*time.Hour {
		t.Fatalf("expected .env return window, got %s", cfg.Lifecycle.ReturnWindow)
	}
}

func TestLoadMissingDotEnvIsIgnored(t *testing.T) {
	if _, err := Load(context.Background(), WithEnvFile(filepath.Join(t.TempDir(), "absent.env")), WithoutSystemEnv()); err != nil {
		t.Fatalf("missing .env must be ignored, got %v", err)
	}
}
