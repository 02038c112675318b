// Package app wires configuration, storage, brokers and the payment provider
// into the application services shared by the CLI, the HTTP API and the
// worker.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	catalogApp "github.com/felixgeelhaar/lessonpass/internal/catalog/application"
	"github.com/felixgeelhaar/lessonpass/internal/catalog/infrastructure/cache"
	enrollmentApp "github.com/felixgeelhaar/lessonpass/internal/enrollment/application"
	paymentsApp "github.com/felixgeelhaar/lessonpass/internal/payments/application"
	paymentsDomain "github.com/felixgeelhaar/lessonpass/internal/payments/domain"
	"github.com/felixgeelhaar/lessonpass/internal/payments/infrastructure/airbapay"
	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/database"
	_ "github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/database/postgres"
	_ "github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/database/sqlite"
	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/migrations"
	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/lessonpass/pkg/config"
	"github.com/felixgeelhaar/lessonpass/pkg/observability"
)

// ProviderAirbaPay selects the AirbaPay gateway.
const ProviderAirbaPay = "airbapay"

// Container holds all application dependencies.
type Container struct {
	Config *config.Config
	Logger *slog.Logger

	// Observability
	Metrics    observability.Metrics
	Prometheus *observability.PrometheusMetrics
	Health     *observability.HealthRegistry

	// Infrastructure
	DB              database.Connection
	UnitOfWork      *database.UnitOfWork
	Repositories    *Repositories
	PlanCache       *cache.RedisStore
	EventPublisher  eventbus.Publisher
	OutboxProcessor *outbox.Processor
	Gateway         paymentsDomain.Gateway

	// AppliedMigrations lists the schema versions applied at startup.
	AppliedMigrations []string

	// Catalog
	Catalog *catalogApp.Service

	// Enrollment
	Subscriptions *enrollmentApp.SubscriptionStore
	Redemptions   *enrollmentApp.RedemptionEngine

	// Payments
	Bookings   *paymentsApp.BookingService
	Reconciler *paymentsApp.Reconciler
	Refunds    *paymentsApp.RefundProcessor
	// Poller is nil when no payment provider is configured.
	Poller *paymentsApp.Poller
}

// NewLogger builds the process logger from configuration.
func NewLogger(cfg *config.Config) *slog.Logger {
	logCfg := observability.DefaultLogConfig()
	if cfg.IsProduction() {
		logCfg = observability.ProductionLogConfig()
	}
	if cfg.LogLevel != "" {
		logCfg.Level = observability.LogLevel(cfg.LogLevel)
	}
	if cfg.LogFormat != "" {
		logCfg.Format = observability.LogFormat(cfg.LogFormat)
	}
	return observability.NewLogger(logCfg)
}

// OpenDatabase connects to the configured backend and applies pending
// migrations, returning the versions applied by this call. An empty
// DATABASE_URL selects SQLite.
func OpenDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (database.Connection, []string, error) {
	dbCfg := database.Config{
		URL:        cfg.DatabaseURL,
		SQLitePath: cfg.SQLitePath,
	}
	conn, err := database.Open(ctx, dbCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}

	applied, err := migrations.Apply(ctx, conn, logger)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("apply migrations: %w", err)
	}
	logger.Info("database ready", "driver", conn.Driver(), "migrations_applied", len(applied))
	return conn, applied, nil
}

// NewContainer creates a new dependency injection container.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = NewLogger(cfg)
	}
	c := &Container{
		Config:     cfg,
		Logger:     logger,
		Prometheus: observability.NewPrometheusMetrics(),
		Health:     observability.NewHealthRegistry(),
	}
	c.Metrics = c.Prometheus

	conn, applied, err := OpenDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	c.DB = conn
	c.AppliedMigrations = applied
	c.UnitOfWork = database.NewUnitOfWork(conn)
	c.Health.Register("database", observability.PingChecker("database", observability.HealthStatusUnhealthy, conn.Ping))

	repos, err := NewRepositoryFactory(conn).Build()
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Repositories = repos

	if cfg.RedisURL != "" {
		store, err := cache.NewRedisStoreFromURL(cfg.RedisURL, "lessonpass:")
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("parse redis URL: %w", err)
		}
		c.PlanCache = store
		repos.Plans = cache.NewPlanRepository(repos.Plans, store, cfg.CatalogCacheTTL, logger)
		c.Health.Register("redis", observability.PingChecker("redis", observability.HealthStatusDegraded, store.Ping))
		logger.Info("plan cache enabled", "ttl", cfg.CatalogCacheTTL)
	}

	if err := c.initEventPublisher(); err != nil {
		c.Close()
		return nil, err
	}

	gateway, err := newGateway(cfg, logger, c.Metrics)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Gateway = gateway

	c.Catalog = catalogApp.NewService(repos.Plans, logger)
	c.Redemptions = enrollmentApp.NewRedemptionEngine(repos.Subscriptions, repos.Visits, repos.Outbox, c.UnitOfWork, logger, c.Metrics)
	c.Subscriptions = enrollmentApp.NewSubscriptionStore(
		repos.Subscriptions,
		repos.Visits,
		repos.Outbox,
		c.UnitOfWork,
		nil,
		c.Redemptions,
		enrollmentApp.StoreConfig{Validity: cfg.SubscriptionValidity},
		logger,
	)

	c.Reconciler = paymentsApp.NewReconciler(
		repos.Payments,
		c.Subscriptions,
		gateway,
		repos.Outbox,
		c.UnitOfWork,
		paymentsApp.ReconcilerConfig{VoucherAttempts: cfg.VoucherAttempts},
		logger,
		c.Metrics,
	)
	c.Bookings = paymentsApp.NewBookingService(
		c.Subscriptions,
		repos.Payments,
		c.Catalog,
		gateway,
		repos.Outbox,
		c.UnitOfWork,
		paymentsApp.BookingConfig{Currency: cfg.PaymentCurrency, VoucherAttempts: cfg.VoucherAttempts},
		logger,
		c.Metrics,
	)
	c.Refunds = paymentsApp.NewRefundProcessor(repos.Payments, repos.Refunds, gateway, repos.Outbox, c.UnitOfWork, logger, c.Metrics)

	if gateway != nil {
		c.Poller = paymentsApp.NewPoller(repos.Payments, c.Reconciler, paymentsApp.PollerConfig{
			Interval:  cfg.ReconcileInterval,
			MinAge:    cfg.ReconcileMinAge,
			BatchSize: cfg.ReconcileBatchSize,
		}, logger, c.Metrics).WithCheckouts(c.Bookings)
	}

	processorConfig := outbox.DefaultProcessorConfig()
	if cfg.OutboxPollInterval > 0 {
		processorConfig.PollInterval = cfg.OutboxPollInterval
	}
	if cfg.OutboxBatchSize > 0 {
		processorConfig.BatchSize = cfg.OutboxBatchSize
	}
	if cfg.OutboxMaxRetries > 0 {
		processorConfig.MaxRetries = cfg.OutboxMaxRetries
	}
	c.OutboxProcessor = outbox.NewProcessor(repos.Outbox, c.EventPublisher, processorConfig, logger, c.Metrics)

	logger.Info("container ready",
		"env", cfg.AppEnv,
		"activation_policy", c.Bookings.Policy(),
		"event_broker", cfg.EventBroker,
	)
	return c, nil
}

// initEventPublisher connects to the configured broker. Development falls
// back to a noop publisher when the broker is unreachable.
func (c *Container) initEventPublisher() error {
	publisher, err := eventbus.NewPublisher(eventbus.Config{
		Broker:       eventbus.Broker(c.Config.EventBroker),
		RabbitMQURL:  c.Config.RabbitMQURL,
		Exchange:     "lessonpass.events",
		KafkaBrokers: c.Config.KafkaBrokers,
		KafkaTopic:   c.Config.KafkaTopic,
	}, c.Logger)
	if err != nil {
		if !c.Config.IsDevelopment() {
			return fmt.Errorf("connect event broker: %w", err)
		}
		c.Logger.Warn("event broker not available, using noop publisher", "broker", c.Config.EventBroker, "error", err)
		publisher = eventbus.NewNoopPublisher(c.Logger)
	}
	c.EventPublisher = publisher
	return nil
}

func newGateway(cfg *config.Config, logger *slog.Logger, metrics observability.Metrics) (paymentsDomain.Gateway, error) {
	switch strings.ToLower(cfg.PaymentProvider) {
	case "":
		return nil, nil
	case ProviderAirbaPay:
		a := cfg.AirbaPay
		client, err := airbapay.New(airbapay.Config{
			BaseURL:       a.BaseURL,
			TokenURL:      a.TokenURL,
			User:          a.User,
			Password:      a.Password,
			TerminalID:    a.TerminalID,
			CompanyID:     a.CompanyID,
			WebhookSecret: a.WebhookSecret,
			CallbackURL:   a.WebhookURL,
			SuccessURL:    a.SuccessURL,
			FailureURL:    a.FailureURL,
			Timeout:       a.Timeout,
		}, logger, metrics)
		if err != nil {
			return nil, err
		}
		if a.WebhookSecret == "" {
			logger.Warn("AIRBAPAY_WEBHOOK_SECRET is empty; every webhook will be rejected")
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.PaymentProvider)
	}
}

// Close releases all resources held by the container.
func (c *Container) Close() {
	if c.Poller != nil {
		c.Poller.Stop()
	}

	if c.OutboxProcessor != nil {
		c.OutboxProcessor.Stop()
	}

	if c.EventPublisher != nil {
		if err := c.EventPublisher.Close(); err != nil {
			c.Logger.Warn("error closing event publisher", "error", err)
		}
	}

	if c.PlanCache != nil {
		if err := c.PlanCache.Close(); err != nil {
			c.Logger.Warn("error closing Redis connection", "error", err)
		}
	}

	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			c.Logger.Warn("error closing database connection", "error", err)
		} else {
			c.Logger.Info("database connection closed", "driver", c.DB.Driver())
		}
	}
}
