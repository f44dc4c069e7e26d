package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile            = ".env"
	defaultPort               = "8080"
	defaultReadTimeout        = 15 * time.Second
	defaultWriteTimeout       = 30 * time.Second
	defaultIdleTimeout        = 120 * time.Second
	defaultStoreDriver        = StoreDriverMemory
	defaultCurrency           = "INR"
	defaultTrialDuration      = 2 * time.Hour
	defaultReturnWindow       = 48 * time.Hour
	defaultSweepInterval      = time.Minute
	defaultSweepBatch         = 100
	defaultRateLimitDefault   = 120
	defaultRateLimitOperator  = 30
	defaultSignatureHeader    = "X-Webhook-Signature"
	defaultEnvironment        = "local"
	defaultOIDCJWKSURL        = "https://www.googleapis.com/oauth2/v3/certs"
	defaultOIDCIssuer         = "https://accounts.google.com"
	defaultIdempotencyHeader  = "Idempotency-Key"
	defaultIdempotencyTTL     = 24 * time.Hour
	defaultIdempotencyCleanup = time.Hour
	defaultIdempotencyBatch   = 200
	defaultLivePrefix         = "orderflow:orders:"
	defaultKafkaTopic         = "orderflow.order-events"
)

// Store drivers selectable through API_STORE_DRIVER.
const (
	StoreDriverMemory    = "memory"
	StoreDriverFirestore = "firestore"
	StoreDriverPostgres  = "postgres"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Store       StoreConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Redis       RedisConfig
	Events      EventsConfig
	Archive     ArchiveConfig
	Catalog     CatalogConfig
	Payments    PaymentsConfig
	Lifecycle   LifecycleConfig
	RateLimits  RateLimitConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// StoreConfig selects the persistence backend for orders and inventory.
type StoreConfig struct {
	Driver          string
	PostgresDSN     string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// FirebaseConfig stores Firebase project settings used for customer authentication.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// RedisConfig configures the shared Redis used for live status fan-out and idempotency keys.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	LivePrefix string
}

// EventsConfig lists the outbound event channels. Empty values disable the channel.
type EventsConfig struct {
	PubSubProjectID          string
	PubSubEventsTopic        string
	PubSubNotificationsTopic string
	KafkaBrokers             []string
	KafkaTopic               string
}

// ArchiveConfig names the bucket that keeps raw webhook payloads.
type ArchiveConfig struct {
	WebhookBucket string
}

// CatalogConfig locates the catalog collaborator. File takes precedence over BaseURL.
type CatalogConfig struct {
	BaseURL string
	File    string
	Timeout time.Duration
}

// PaymentsConfig collects provider credentials and offline payment instructions.
type PaymentsConfig struct {
	Currency         string
	StripeAPIKey     string
	WebhookSecret    string
	GatewayKeySecret string
	SignatureHeader  string
	BankAccountName  string
	BankAccountNo    string
	BankIFSC         string
	UPIVPA           string
}

// LifecycleConfig holds the timing policies of the order lifecycle.
type LifecycleConfig struct {
	TrialDuration time.Duration
	ReturnWindow  time.Duration
	SweepInterval time.Duration
	SweepBatch    int
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	DefaultPerMinute  int
	OperatorPerMinute int
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification for internal routes.
type OIDCConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.LookupEnv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups. Precedence is explicit map,
// then process environment, then the .env file.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnv, err := readDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}
	env := envReader{lookup: lookup}

	cfg := Config{
		Server: ServerConfig{
			Port:         env.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  env.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: env.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  env.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Store: StoreConfig{
			Driver:          strings.ToLower(env.str("API_STORE_DRIVER", defaultStoreDriver)),
			PostgresDSN:     env.str("API_POSTGRES_DSN", ""),
			MaxOpenConns:    env.integer("API_POSTGRES_MAX_OPEN_CONNS", 20),
			ConnMaxLifetime: env.duration("API_POSTGRES_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Redis: RedisConfig{
			Addr:       env.str("API_REDIS_ADDR", ""),
			Password:   env.str("API_REDIS_PASSWORD", ""),
			DB:         env.integer("API_REDIS_DB", 0),
			LivePrefix: env.str("API_REDIS_LIVE_PREFIX", defaultLivePrefix),
		},
		Events: EventsConfig{
			PubSubProjectID:          env.str("API_PUBSUB_PROJECT_ID", ""),
			PubSubEventsTopic:        env.str("API_PUBSUB_EVENTS_TOPIC", ""),
			PubSubNotificationsTopic: env.str("API_PUBSUB_NOTIFICATIONS_TOPIC", ""),
			KafkaBrokers:             env.csv("API_KAFKA_BROKERS"),
			KafkaTopic:               env.str("API_KAFKA_TOPIC", defaultKafkaTopic),
		},
		Archive: ArchiveConfig{
			WebhookBucket: env.str("API_ARCHIVE_WEBHOOK_BUCKET", ""),
		},
		Catalog: CatalogConfig{
			BaseURL: env.str("API_CATALOG_BASE_URL", ""),
			File:    env.str("API_CATALOG_FILE", ""),
			Timeout: env.duration("API_CATALOG_TIMEOUT", 3*time.Second),
		},
		Payments: PaymentsConfig{
			Currency:         strings.ToUpper(env.str("API_PAYMENTS_CURRENCY", defaultCurrency)),
			StripeAPIKey:     env.str("API_PAYMENTS_STRIPE_API_KEY", ""),
			WebhookSecret:    env.str("API_PAYMENTS_WEBHOOK_SECRET", ""),
			GatewayKeySecret: env.str("API_PAYMENTS_GATEWAY_KEY_SECRET", ""),
			SignatureHeader:  env.str("API_PAYMENTS_SIGNATURE_HEADER", defaultSignatureHeader),
			BankAccountName:  env.str("API_PAYMENTS_BANK_ACCOUNT_NAME", ""),
			BankAccountNo:    env.str("API_PAYMENTS_BANK_ACCOUNT_NUMBER", ""),
			BankIFSC:         env.str("API_PAYMENTS_BANK_IFSC", ""),
			UPIVPA:           env.str("API_PAYMENTS_UPI_VPA", ""),
		},
		Lifecycle: LifecycleConfig{
			TrialDuration: env.duration("API_TRIAL_DURATION", defaultTrialDuration),
			ReturnWindow:  env.duration("API_RETURN_WINDOW", defaultReturnWindow),
			SweepInterval: env.duration("API_TRIAL_SWEEP_INTERVAL", defaultSweepInterval),
			SweepBatch:    env.integer("API_TRIAL_SWEEP_BATCH", defaultSweepBatch),
		},
		RateLimits: RateLimitConfig{
			DefaultPerMinute:  env.integer("API_RATELIMIT_DEFAULT_PER_MIN", defaultRateLimitDefault),
			OperatorPerMinute: env.integer("API_RATELIMIT_OPERATOR_PER_MIN", defaultRateLimitOperator),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(env.str("API_SECURITY_ENVIRONMENT", defaultEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:  env.str("API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience: env.str("API_SECURITY_OIDC_AUDIENCE", ""),
				Issuers:  env.csv("API_SECURITY_OIDC_ISSUERS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           env.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              env.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  env.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyCleanup),
			CleanupBatchSize: env.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatch),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Events.PubSubProjectID == "" {
		cfg.Events.PubSubProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultOIDCIssuer}
	}

	secretFields := []*string{
		&cfg.Store.PostgresDSN,
		&cfg.Redis.Password,
		&cfg.Payments.StripeAPIKey,
		&cfg.Payments.WebhookSecret,
		&cfg.Payments.GatewayKeySecret,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "secret://") && !strings.HasPrefix(trimmed, "sm://") {
		return value, nil
	}
	ref := "secret://" + strings.TrimPrefix(strings.TrimPrefix(trimmed, "secret://"), "sm://")
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string
	require := func(ok bool, field string) {
		if !ok {
			missing = append(missing, field)
		}
	}

	require(cfg.Server.Port != "", "Server.Port")
	switch cfg.Store.Driver {
	case StoreDriverMemory:
	case StoreDriverFirestore:
		require(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	case StoreDriverPostgres:
		require(cfg.Store.PostgresDSN != "", "Store.PostgresDSN")
	default:
		missing = append(missing, "Store.Driver")
	}
	require(len(cfg.Payments.Currency) == 3, "Payments.Currency")
	require(strings.TrimSpace(cfg.Payments.SignatureHeader) != "", "Payments.SignatureHeader")
	require(cfg.Lifecycle.TrialDuration > 0, "Lifecycle.TrialDuration")
	require(cfg.Lifecycle.ReturnWindow > 0, "Lifecycle.ReturnWindow")
	require(cfg.Lifecycle.SweepInterval > 0, "Lifecycle.SweepInterval")
	require(cfg.Lifecycle.SweepBatch > 0, "Lifecycle.SweepBatch")
	require(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	require(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	require(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	require(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	if cfg.Security.Environment != defaultEnvironment {
		require(cfg.Payments.WebhookSecret != "", "Payments.WebhookSecret")
		require(cfg.Security.OIDC.Audience != "", "Security.OIDC.Audience")
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return &ValidationError{fields: missing}
	}
	return nil
}

// readDotEnv parses the optional .env file. A missing file is not an error.
func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}

type envReader struct {
	lookup func(string) (string, bool)
}

func (e envReader) str(key, fallback string) string {
	if value, ok := e.lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func (e envReader) duration(key string, fallback time.Duration) time.Duration {
	if value, ok := e.lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func (e envReader) integer(key string, fallback int) int {
	if value, ok := e.lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func (e envReader) csv(key string) []string {
	raw, ok := e.lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
