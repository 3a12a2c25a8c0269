// Package app wires the billing service from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/medplan/medplan/internal/billing/application"
	"github.com/medplan/medplan/internal/billing/domain"
	"github.com/medplan/medplan/internal/billing/infrastructure/checkoutlock"
	"github.com/medplan/medplan/internal/billing/infrastructure/orangemoney"
	"github.com/medplan/medplan/internal/billing/infrastructure/persistence"
	"github.com/medplan/medplan/internal/shared/infrastructure/database"
	_ "github.com/medplan/medplan/internal/shared/infrastructure/database/postgres" // Register PostgreSQL driver
	_ "github.com/medplan/medplan/internal/shared/infrastructure/database/sqlite"   // Register SQLite driver
	"github.com/medplan/medplan/internal/shared/infrastructure/eventbus"
	"github.com/medplan/medplan/internal/shared/infrastructure/migrations"
	"github.com/medplan/medplan/internal/shared/infrastructure/outbox"
	"github.com/medplan/medplan/pkg/config"
	"github.com/medplan/medplan/pkg/observability"
	"github.com/redis/go-redis/v9"
)

// Container holds all application dependencies.
type Container struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *observability.InMemoryMetrics
	Health  *observability.HealthRegistry

	// Database
	DB database.Connection

	// Redis, nil when REDIS_URL is unset
	RedisClient *redis.Client

	// Repositories
	SubscriptionRepo domain.SubscriptionRepository
	PaymentRepo      domain.PaymentRepository
	OutboxRepo       outbox.Repository

	// Payment provider
	Gateway *orangemoney.Client
	Locker  application.CheckoutLocker

	BillingService *application.Service

	// Publishing, created by StartOutbox
	EventPublisher  eventbus.Publisher
	OutboxProcessor *outbox.Processor
}

// NewContainer opens the database and builds the billing service. SQLite
// databases are migrated on open; PostgreSQL is migrated by the migrate
// command.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Container{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewInMemoryMetrics(),
		Health:  observability.NewHealthRegistry(),
	}

	conn, err := OpenDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.DB = conn
	c.Health.Register("database", true, conn.Ping)
	logger.Info("database connected", "driver", conn.Driver())

	if conn.Driver() == database.DriverSQLite {
		applied, err := migrations.Run(ctx, conn)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("migrations applied", "versions", applied)
		}
	}

	c.SubscriptionRepo = persistence.NewSubscriptionRepository(conn)
	c.PaymentRepo = persistence.NewPaymentRepository(conn)
	c.OutboxRepo = outbox.NewRepository(conn)

	prices, err := domain.NewPriceMatrix(cfg.PriceCurrency, cfg.Prices)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("load prices: %w", err)
	}

	if err := c.initLocker(ctx); err != nil {
		c.Close()
		return nil, err
	}

	c.Gateway = orangemoney.NewClient(orangemoney.Config{
		BaseURL:      cfg.ProviderBaseURL,
		TokenURL:     cfg.ProviderTokenURL,
		ClientID:     cfg.ProviderClientID,
		ClientSecret: cfg.ProviderClientSecret,
		MerchantKey:  cfg.ProviderMerchantKey,
		Currency:     cfg.ProviderCurrency,
		Lang:         cfg.ProviderLang,
		Timeout:      cfg.ProviderTimeout,
	}, logger.With("component", "orange-money"), c.Metrics)
	c.Health.Register("payment_provider", false, c.Gateway.Ping)

	c.BillingService = application.NewService(
		c.SubscriptionRepo,
		c.PaymentRepo,
		c.OutboxRepo,
		database.NewUnitOfWork(conn),
		prices,
		c.Gateway,
		c.Locker,
		application.Config{
			PublicBaseURL: cfg.PublicBaseURL,
			LockTTL:       cfg.CheckoutLockTTL,
			AbandonAfter:  cfg.CheckoutAbandonAfter,
		},
		logger.With("component", "billing"),
	).WithMetrics(c.Metrics)

	return c, nil
}

// OpenDatabase connects to the configured backend.
func OpenDatabase(ctx context.Context, cfg *config.Config) (database.Connection, error) {
	dbCfg := database.Config{
		Driver:     database.Driver(cfg.DatabaseDriver),
		URL:        cfg.DatabaseURL,
		SQLitePath: cfg.SQLitePath,
	}
	if dbCfg.Driver == database.DriverSQLite {
		if err := database.EnsureDirectory(cfg.SQLitePath); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}
	conn, err := database.Open(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return conn, nil
}

// initLocker uses Redis when configured so that every API replica shares
// the checkout lock. Without Redis the lock is process-local.
func (c *Container) initLocker(ctx context.Context) error {
	if c.Config.RedisURL == "" {
		c.Locker = checkoutlock.NewMemoryLocker()
		c.Logger.Info("checkout lock is process-local; set REDIS_URL to share it")
		return nil
	}

	opts, err := redis.ParseURL(c.Config.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("connect to redis: %w", err)
	}

	c.RedisClient = client
	locker := checkoutlock.NewRedisLocker(client, c.Logger)
	c.Locker = locker
	c.Health.Register("redis", true, locker.Ping)
	c.Logger.Info("redis connected")
	return nil
}

// StartOutbox connects the event publisher and starts relaying outbox
// messages. RabbitMQ is used when configured, otherwise events are logged.
func (c *Container) StartOutbox(ctx context.Context) error {
	if c.OutboxProcessor != nil {
		return nil
	}

	if c.Config.RabbitMQURL != "" {
		publisher, err := eventbus.NewRabbitMQPublisher(c.Config.RabbitMQURL, c.Logger)
		if err != nil {
			if c.Config.IsProduction() {
				return err
			}
			c.Logger.Warn("rabbitmq not available, logging events instead", "error", err)
			c.EventPublisher = eventbus.NewLogPublisher(c.Logger)
		} else {
			c.EventPublisher = publisher
			c.Health.Register("rabbitmq", false, publisher.Ping)
		}
	} else {
		c.EventPublisher = eventbus.NewLogPublisher(c.Logger)
	}

	procCfg := outbox.DefaultProcessorConfig()
	if c.Config.OutboxPollInterval > 0 {
		procCfg.PollInterval = c.Config.OutboxPollInterval
	}
	if c.Config.OutboxBatchSize > 0 {
		procCfg.BatchSize = c.Config.OutboxBatchSize
	}
	if c.Config.OutboxMaxRetries > 0 {
		procCfg.MaxRetries = c.Config.OutboxMaxRetries
	}

	c.OutboxProcessor = outbox.NewProcessor(c.OutboxRepo, c.EventPublisher, procCfg, c.Logger.With("component", "outbox"), c.Metrics)
	c.OutboxProcessor.Start(ctx)
	return nil
}

// Close releases every resource the container opened.
func (c *Container) Close() {
	if c.OutboxProcessor != nil {
		c.OutboxProcessor.Stop()
	}

	if c.EventPublisher != nil {
		if err := c.EventPublisher.Close(); err != nil {
			c.Logger.Warn("error closing event publisher", "error", err)
		}
	}

	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			c.Logger.Warn("error closing Redis connection", "error", err)
		}
	}

	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			c.Logger.Warn("error closing database", "error", err)
		} else {
			c.Logger.Info("database connection closed")
		}
	}
}
