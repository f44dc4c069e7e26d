package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tryathome/orderflow/internal/payments"
	"github.com/tryathome/orderflow/internal/platform/catalog"
	"github.com/tryathome/orderflow/internal/platform/config"
	pfirestore "github.com/tryathome/orderflow/internal/platform/firestore"
	"github.com/tryathome/orderflow/internal/platform/idempotency"
	"github.com/tryathome/orderflow/internal/platform/jobs"
	"github.com/tryathome/orderflow/internal/platform/live"
	"github.com/tryathome/orderflow/internal/platform/observability"
	"github.com/tryathome/orderflow/internal/platform/storage"
	"github.com/tryathome/orderflow/internal/repositories"
	firestoreRepo "github.com/tryathome/orderflow/internal/repositories/firestore"
	"github.com/tryathome/orderflow/internal/repositories/memory"
	"github.com/tryathome/orderflow/internal/repositories/postgres"
	"github.com/tryathome/orderflow/internal/services"
)

const closeTimeout = 5 * time.Second

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders    services.OrderService
	Inventory services.InventoryService
	Counters  services.CounterService
	System    services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Metrics      *observability.Metrics
	Idempotency  idempotency.Store
	Live         live.Broker

	closers []func(context.Context) error
}

// Option customises NewContainer.
type Option func(*options)

type options struct {
	registry repositories.Registry
	build    services.BuildInfo
	clock    func() time.Time
	metrics  *observability.Metrics
}

// WithRegistry supplies a ready repository registry instead of opening the configured store.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithBuildInfo sets the version metadata reported by the health endpoints.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *options) {
		o.build = build
	}
}

// WithClock overrides the wall clock used by services.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithMetrics shares an existing metrics registry.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

// NewContainer constructs the runtime dependencies. Optional collaborators (Redis, Pub/Sub, Kafka,
// Cloud Storage, Stripe) are wired only when configured; everything else falls back to in-process
// implementations so a bare config still boots.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (c *Container, err error) {
	o := options{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := o.metrics
	if metrics == nil {
		metrics = observability.NewMetrics()
	}

	c = &Container{Config: cfg, Metrics: metrics}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			_ = c.Close(closeCtx)
			c = nil
		}
	}()

	var provider *pfirestore.Provider
	reg := o.registry
	if reg == nil {
		reg, provider, err = openRegistry(ctx, cfg, o.clock)
		if err != nil {
			return c, err
		}
		c.onClose(reg.Close)
	}
	c.Repositories = reg

	checks := append([]repositories.DependencyCheck(nil), reg.HealthChecks()...)

	var redisClient redis.UniversalClient
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		redisClient = client
		c.onClose(func(context.Context) error { return client.Close() })
		checks = append(checks, repositories.DependencyCheck{
			Name: "redis",
			Check: func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			},
		})
	}

	switch {
	case redisClient != nil:
		c.Idempotency = idempotency.NewRedisStore(redisClient)
	case provider != nil:
		c.Idempotency = idempotency.NewFirestoreStore(provider)
	default:
		c.Idempotency = idempotency.NewMemoryStore()
	}
	deduper, _ := c.Idempotency.(idempotency.Deduper)

	eventLog := observability.NewEventLogger(logger.Named("orders"))
	if redisClient != nil {
		broker, err := live.NewRedisBroker(redisClient, cfg.Redis.LivePrefix, observability.NewEventLogger(logger.Named("live")))
		if err != nil {
			return c, fmt.Errorf("build live broker: %w", err)
		}
		c.Live = broker
	} else {
		hub := live.NewHub()
		c.Live = hub
		c.onClose(func(context.Context) error { return hub.Close() })
	}

	events, notifier, err := c.buildMessaging(ctx, cfg, logger)
	if err != nil {
		return c, err
	}

	var archive services.WebhookArchiver
	if bucket := strings.TrimSpace(cfg.Archive.WebhookBucket); bucket != "" {
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return c, fmt.Errorf("build storage client: %w", err)
		}
		c.onClose(func(context.Context) error { return client.Close() })
		archiver, err := storage.NewWebhookArchiver(client, bucket)
		if err != nil {
			return c, fmt.Errorf("build webhook archiver: %w", err)
		}
		archive = archiver
	}

	catalogClient, err := buildCatalog(cfg.Catalog)
	if err != nil {
		return c, err
	}

	methods, webhooks, err := buildPayments(cfg.Payments, logger.Named("payments"))
	if err != nil {
		return c, err
	}

	inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
		Inventory: reg.Inventory(),
		Notifier:  notifier,
		Metrics:   metrics,
		Clock:     o.clock,
		Logger:    observability.NewEventLogger(logger.Named("inventory")),
	})
	if err != nil {
		return c, fmt.Errorf("build inventory service: %w", err)
	}

	counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: reg.Counters(),
		Clock:      o.clock,
	})
	if err != nil {
		return c, fmt.Errorf("build counter service: %w", err)
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:        reg.Orders(),
		PickupCodes:   reg.PickupCodes(),
		Inventory:     inventorySvc,
		Counters:      counterSvc,
		Catalog:       catalogClient,
		Methods:       methods,
		Webhooks:      webhooks,
		Deduper:       deduper,
		Archive:       archive,
		Events:        events,
		Status:        c.Live,
		Notifier:      notifier,
		Metrics:       metrics,
		Currency:      cfg.Payments.Currency,
		TrialDuration: cfg.Lifecycle.TrialDuration,
		ReturnWindow:  cfg.Lifecycle.ReturnWindow,
		Clock:         o.clock,
		Logger:        eventLog,
	})
	if err != nil {
		return c, fmt.Errorf("build order service: %w", err)
	}

	healthRepo, err := repositories.NewDependencyHealthRepository(checks, o.clock)
	if err != nil {
		return c, fmt.Errorf("build health repository: %w", err)
	}
	build := o.build
	if build.Environment == "" {
		build.Environment = cfg.Security.Environment
	}
	if build.StartedAt.IsZero() {
		build.StartedAt = o.clock().UTC()
	}
	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: healthRepo,
		Clock:            o.clock,
		Build:            build,
	})
	if err != nil {
		return c, fmt.Errorf("build system service: %w", err)
	}

	c.Services = Services{
		Orders:    orderSvc,
		Inventory: inventorySvc,
		Counters:  counterSvc,
		System:    systemSvc,
	}
	return c, nil
}

// Close releases resources in reverse order of acquisition. Notification workers drain first so
// queued messages reach Pub/Sub before the client closes.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) onClose(fn func(context.Context) error) {
	c.closers = append(c.closers, fn)
}

func openRegistry(ctx context.Context, cfg config.Config, clock func() time.Time) (repositories.Registry, *pfirestore.Provider, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore)
		if _, err := provider.Client(ctx); err != nil {
			return nil, nil, fmt.Errorf("connect firestore: %w", err)
		}
		reg, err := firestoreRepo.NewRegistry(provider, clock)
		if err != nil {
			_ = provider.Close(ctx)
			return nil, nil, fmt.Errorf("build firestore registry: %w", err)
		}
		return reg, provider, nil
	case config.StoreDriverPostgres:
		db, err := postgres.Open(ctx, cfg.Store.PostgresDSN, postgres.Options{
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MaxOpenConns / 2,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		reg, err := postgres.NewRegistry(db, clock)
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("build postgres registry: %w", err)
		}
		return reg, nil, nil
	case config.StoreDriverMemory, "":
		return memory.NewRegistry(clock), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// buildMessaging wires the outbound event channels. Order events fan out to every configured
// channel; notifications go through the async dispatcher so delivery never blocks a request.
func (c *Container) buildMessaging(ctx context.Context, cfg config.Config, logger *zap.Logger) (services.OrderEventPublisher, services.Notifier, error) {
	var (
		fanout   jobs.FanoutPublisher
		notifier services.Notifier
	)

	projectID := strings.TrimSpace(cfg.Events.PubSubProjectID)
	eventsTopic := strings.TrimSpace(cfg.Events.PubSubEventsTopic)
	notificationsTopic := strings.TrimSpace(cfg.Events.PubSubNotificationsTopic)
	if projectID != "" && (eventsTopic != "" || notificationsTopic != "") {
		client, err := pubsub.NewClient(ctx, projectID)
		if err != nil {
			return nil, nil, fmt.Errorf("build pubsub client: %w", err)
		}
		c.onClose(func(context.Context) error { return client.Close() })

		if eventsTopic != "" {
			topic := client.Topic(eventsTopic)
			topic.EnableMessageOrdering = true
			c.onClose(func(context.Context) error { topic.Stop(); return nil })
			publisher, err := jobs.NewPubSubEventPublisher(topic)
			if err != nil {
				return nil, nil, fmt.Errorf("build pubsub event publisher: %w", err)
			}
			fanout = append(fanout, publisher)
		}
		if notificationsTopic != "" {
			topic := client.Topic(notificationsTopic)
			c.onClose(func(context.Context) error { topic.Stop(); return nil })
			sink, err := jobs.NewPubSubNotifier(topic)
			if err != nil {
				return nil, nil, fmt.Errorf("build pubsub notifier: %w", err)
			}
			dispatcher, err := services.NewNotificationDispatcher(services.NotificationDispatcherDeps{
				Notifier: sink,
				Logger:   observability.NewEventLogger(logger.Named("notifications")),
			})
			if err != nil {
				return nil, nil, fmt.Errorf("build notification dispatcher: %w", err)
			}
			c.onClose(dispatcher.Close)
			notifier = dispatcher
		}
	}

	if len(cfg.Events.KafkaBrokers) > 0 {
		publisher, err := jobs.NewKafkaEventPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
		if err != nil {
			return nil, nil, fmt.Errorf("build kafka publisher: %w", err)
		}
		c.onClose(func(context.Context) error { return publisher.Close() })
		fanout = append(fanout, publisher)
	}

	switch len(fanout) {
	case 0:
		return nil, notifier, nil
	case 1:
		return fanout[0], notifier, nil
	default:
		return fanout, notifier, nil
	}
}

func buildCatalog(cfg config.CatalogConfig) (services.CatalogClient, error) {
	if path := strings.TrimSpace(cfg.File); path != "" {
		file, err := catalog.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load catalog file: %w", err)
		}
		return file, nil
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		client, err := catalog.NewClient(base, cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("build catalog client: %w", err)
		}
		return client, nil
	}
	return nil, errors.New("catalog: API_CATALOG_FILE or API_CATALOG_BASE_URL is required")
}

// buildPayments assembles the settlement paths. The gateway path is enabled only with a Stripe key;
// webhooks are rejected until a webhook secret is configured.
func buildPayments(cfg config.PaymentsConfig, logger *zap.Logger) (*payments.Methods, services.WebhookVerifier, error) {
	methodsCfg := payments.MethodsConfig{
		Offline: payments.OfflineInstructions{
			BankAccountName:   cfg.BankAccountName,
			BankAccountNumber: cfg.BankAccountNo,
			BankIFSC:          cfg.BankIFSC,
			UPIVPA:            cfg.UPIVPA,
		},
	}

	if key := strings.TrimSpace(cfg.StripeAPIKey); key != "" {
		stripeLog := observability.NewEventLogger(logger)
		provider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey: key,
			Logger: payments.StripeLogger(stripeLog),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("build stripe provider: %w", err)
		}
		manager, err := payments.NewManager(map[string]payments.Gateway{"stripe": provider})
		if err != nil {
			return nil, nil, fmt.Errorf("build payment manager: %w", err)
		}
		methodsCfg.Gateway = manager
	}
	if secret := strings.TrimSpace(cfg.GatewayKeySecret); secret != "" {
		signer, err := payments.NewSigner(secret)
		if err != nil {
			return nil, nil, fmt.Errorf("build confirmation signer: %w", err)
		}
		methodsCfg.Confirmation = signer
	}

	var webhooks services.WebhookVerifier
	if secret := strings.TrimSpace(cfg.WebhookSecret); secret != "" {
		signer, err := payments.NewSigner(secret)
		if err != nil {
			return nil, nil, fmt.Errorf("build webhook signer: %w", err)
		}
		webhooks = signer
	} else {
		logger.Warn("payments: webhook secret not configured; webhook deliveries will be rejected")
	}
	return payments.NewMethods(methodsCfg), webhooks, nil
}
