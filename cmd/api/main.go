package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"github.com/tryathome/orderflow/internal/di"
	"github.com/tryathome/orderflow/internal/handlers"
	"github.com/tryathome/orderflow/internal/platform/auth"
	"github.com/tryathome/orderflow/internal/platform/config"
	"github.com/tryathome/orderflow/internal/platform/idempotency"
	"github.com/tryathome/orderflow/internal/platform/observability"
	"github.com/tryathome/orderflow/internal/platform/secrets"
	"github.com/tryathome/orderflow/internal/services"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(cfg, startedAt)
	container, err := di.NewContainer(ctx, cfg, logger, di.WithBuildInfo(buildInfo))
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	router := buildRouter(cfg, container, auth.NewAuthenticator(firebaseVerifier), buildInfo, logger)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
		serverLogger.Info("orderflow api listening", zap.String("store", cfg.Store.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		runTrialSweep(groupCtx, container.Services.Orders, cfg.Lifecycle, logger.Named("trial-sweep"))
		return nil
	})
	group.Go(func() error {
		runIdempotencyCleanup(groupCtx, container.Idempotency, cfg.Idempotency, logger.Named("idempotency"))
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown signal received; draining requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		logger.Error("api stopped with error", zap.Error(err))
	}
}

func buildRouter(cfg config.Config, c *di.Container, authn *auth.Authenticator, build services.BuildInfo, logger *zap.Logger) http.Handler {
	orders := c.Services.Orders

	idempotencyMiddleware := idempotency.Middleware(c.Idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)
	liveHandler := handlers.NewLiveStatusHandler(orders, c.Live)
	orderHandlers := handlers.NewOrderHandlers(authn, orders,
		handlers.WithOrderIdempotency(idempotencyMiddleware),
		handlers.WithOrderLiveStatus(liveHandler),
	)
	webhookHandlers := handlers.NewWebhookHandlers(orders, cfg.Payments.SignatureHeader)
	internalHandlers := handlers.NewInternalHandlers(orders, c.Services.Inventory,
		handlers.WithInternalCodeRateLimit(cfg.RateLimits.OperatorPerMinute, time.Now),
		handlers.WithInternalSweepBatch(cfg.Lifecycle.SweepBatch),
	)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(build),
		handlers.WithHealthSystemService(c.Services.System),
	)

	oidc := auth.NewOIDCValidator(
		auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL),
		cfg.Security.OIDC.Audience,
		cfg.Security.OIDC.Issuers,
	)
	if strings.TrimSpace(cfg.Security.OIDC.Audience) == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}

	projectID := traceProjectID(cfg)
	httpLogger := logger.Named("http")
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(httpLogger),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(httpLogger),
		observability.RequestLoggerMiddleware(projectID, c.Metrics),
		handlers.RateLimitByIP(cfg.RateLimits.DefaultPerMinute, time.Now),
	}

	return handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithMetricsHandler(c.Metrics.Handler()),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
		handlers.WithInternalMiddlewares(oidc.RequireOIDC()),
	)
}

// runTrialSweep auto-completes lapsed trials on a fixed interval until ctx ends.
func runTrialSweep(ctx context.Context, orders services.OrderService, cfg config.LifecycleConfig, logger *zap.Logger) {
	if orders == nil || cfg.SweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, cfg.SweepInterval)
			count, err := orders.SweepExpiredTrials(observability.WithLogger(runCtx, logger), cfg.SweepBatch)
			cancel()
			if err != nil {
				logger.Error("trial sweep error", zap.Int("completed", count), zap.Error(err))
				continue
			}
			if count > 0 {
				logger.Info("trial sweep completed orders", zap.Int("count", count))
			}
		}
	}
}

func runIdempotencyCleanup(ctx context.Context, store idempotency.Store, cfg config.IdempotencyConfig, logger *zap.Logger) {
	if store == nil || cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := store.CleanupExpired(runCtx, time.Now().UTC(), cfg.CleanupBatchSize)
			cancel()
			if err != nil {
				logger.Error("idempotency cleanup error", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		}
	}
}

func buildInfoFromEnv(cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(os.Getenv("API_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("API_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	project := strings.TrimSpace(os.Getenv("API_SECRET_DEFAULT_PROJECT_ID"))
	if project == "" {
		project = strings.TrimSpace(os.Getenv("API_FIREBASE_PROJECT_ID"))
	}
	fallbackPath := strings.TrimSpace(os.Getenv("API_SECRET_FALLBACK_FILE"))
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithProject(project),
	}
	if credentialsFile := strings.TrimSpace(os.Getenv("API_FIREBASE_CREDENTIALS_FILE")); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}
