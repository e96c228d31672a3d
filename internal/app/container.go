package app

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/application/services"
	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/application/window"
	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/domain"
	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/infrastructure/directory"
	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/infrastructure/events"
	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/infrastructure/fsm"
	"github.com/felixgeelhaar/fieldsync/internal/shared/infrastructure/database"
	_ "github.com/felixgeelhaar/fieldsync/internal/shared/infrastructure/database/postgres" // Register PostgreSQL driver
	_ "github.com/felixgeelhaar/fieldsync/internal/shared/infrastructure/database/sqlite"   // Register SQLite driver
	"github.com/felixgeelhaar/fieldsync/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/fieldsync/internal/shared/infrastructure/migrations"
	"github.com/felixgeelhaar/fieldsync/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/fieldsync/pkg/config"
	"github.com/felixgeelhaar/fieldsync/pkg/observability"
	"github.com/redis/go-redis/v9"
)

// Container holds all application dependencies.
type Container struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics observability.Metrics

	// Database
	DBConn   database.Connection
	DBDriver database.Driver

	// Redis
	RedisClient *redis.Client

	// FSM access
	FSM        *fsm.Client
	Directory  *directory.Cache
	Calculator *window.Calculator

	// Repositories
	SyncRecords domain.SyncRecordRepository
	OutboxRepo  outbox.Repository
	UnitOfWork  *database.UnitOfWork

	// Events
	EventPublisher  eventbus.Publisher
	Bus             *eventbus.InProcessEventBus
	OutboxProcessor *outbox.Processor

	Engine *services.Engine
	Health *observability.HealthRegistry
}

// Option customizes container construction.
type Option func(*options)

type options struct {
	metrics   observability.Metrics
	fsmClient *fsm.Client
}

// WithMetrics sets the metrics sink shared by every component.
func WithMetrics(m observability.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithFSMClient replaces the FSM client built from configuration.
func WithFSMClient(client *fsm.Client) Option {
	return func(o *options) {
		o.fsmClient = client
	}
}

// NewContainer wires the sync engine and its infrastructure from configuration.
// Redis and RabbitMQ are optional; without a broker, events are dispatched to
// the in-process bus.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := options{metrics: observability.NoopMetrics{}}
	for _, opt := range opts {
		opt(&o)
	}

	for _, w := range cfg.Warnings {
		logger.Warn("config value ignored", "detail", w)
	}

	c := &Container{
		Config:  cfg,
		Logger:  logger,
		Metrics: o.metrics,
		Health:  observability.NewHealthRegistry(),
	}
	if err := c.init(ctx, o); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Container) init(ctx context.Context, o options) error {
	if err := c.initDatabase(ctx); err != nil {
		return err
	}
	c.initRedis(ctx)
	if err := c.initEvents(); err != nil {
		return err
	}

	c.FSM = o.fsmClient
	if c.FSM == nil {
		c.FSM = fsm.NewClient(fsmConfig(c.Config), c.Logger)
	}
	c.FSM.WithMetrics(o.metrics)

	cacheOpts := []directory.Option{
		directory.WithReservedPrefix(c.Config.ReservedTeamPrefix),
		directory.WithMetrics(o.metrics),
	}
	if c.RedisClient != nil {
		cacheOpts = append(cacheOpts, directory.WithSnapshotStore(directory.NewRedisSnapshotStore(c.RedisClient)))
	}
	c.Directory = directory.NewCache(c.FSM, c.Config.NameCacheTTL, c.Logger, cacheOpts...)
	c.Calculator = window.NewCalculator(c.Config.DefaultTimezone)

	c.Engine = services.NewEngine(c.FSM, c.Directory, c.Calculator, c.Logger,
		services.WithSyncRecords(c.SyncRecords),
		services.WithPublisher(events.NewOutboxPublisher(c.OutboxRepo)),
		services.WithUnitOfWork(c.UnitOfWork),
		services.WithEngineMetrics(o.metrics),
		services.WithJobLocks(),
	)

	c.registerHealthChecks()
	return nil
}

func (c *Container) initDatabase(ctx context.Context) error {
	dbCfg := database.Config{
		Driver:     database.DriverSQLite,
		URL:        c.Config.DatabaseURL,
		SQLitePath: c.Config.SQLitePath,
	}
	if !c.Config.IsSQLite() {
		driver, err := database.ParseDriver(c.Config.DatabaseDriver, c.Config.DatabaseURL)
		if err != nil {
			return errors.Wrap(err, "select database driver")
		}
		dbCfg.Driver = driver
	}

	conn, err := database.NewConnection(ctx, dbCfg)
	if err != nil {
		return errors.Wrap(err, "failed to connect to database")
	}
	c.DBConn = conn
	c.DBDriver = conn.Driver()
	c.Logger.Info("connected to database", "driver", c.DBDriver)

	if err := migrations.Run(ctx, conn); err != nil {
		return errors.Wrap(err, "failed to run migrations")
	}

	repos, err := openStores(conn)
	if err != nil {
		return err
	}
	c.SyncRecords, c.OutboxRepo = repos.syncRecords, repos.outbox
	c.UnitOfWork = database.NewUnitOfWork(conn)
	return nil
}

// initRedis connects the snapshot store. Redis only warms the name cache, so
// a failure leaves the cache in memory instead of aborting startup.
func (c *Container) initRedis(ctx context.Context) {
	if c.Config.RedisURL == "" {
		return
	}
	opt, err := redis.ParseURL(c.Config.RedisURL)
	if err != nil {
		c.Logger.Warn("invalid Redis URL, name cache stays in memory", "error", err)
		return
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		c.Logger.Warn("Redis not available, name cache stays in memory", "error", err)
		_ = client.Close()
		return
	}
	c.RedisClient = client
	c.Logger.Info("connected to Redis")
}

func (c *Container) initEvents() error {
	if c.Config.RabbitMQURL != "" {
		publisher, err := eventbus.NewRabbitMQPublisher(c.Config.RabbitMQURL, c.Logger)
		switch {
		case err == nil:
			c.EventPublisher = publisher
		case c.Config.IsProduction():
			return errors.Wrap(err, "failed to connect to RabbitMQ")
		default:
			c.Logger.Warn("RabbitMQ not available, using in-process bus", "error", err)
		}
	}

	if c.EventPublisher == nil {
		c.Bus = eventbus.NewInProcessEventBus(c.Logger)
		c.Bus.RegisterConsumer(events.NewMismatchConsumer(c.Logger, c.Metrics))
		c.EventPublisher = c.Bus
	}

	c.OutboxProcessor = outbox.NewProcessor(c.OutboxRepo, c.EventPublisher, outbox.DefaultProcessorConfig(), c.Logger).
		WithMetrics(c.Metrics)
	return nil
}

func (c *Container) registerHealthChecks() {
	c.Health.Register("database", observability.DatabaseHealthChecker(c.DBConn.Ping))
	if c.RedisClient != nil {
		c.Health.Register("redis", observability.RedisHealthChecker(func(ctx context.Context) error {
			return c.RedisClient.Ping(ctx).Err()
		}))
	}
	if p, ok := c.EventPublisher.(*eventbus.RabbitMQPublisher); ok {
		c.Health.Register("rabbitmq", observability.RabbitMQHealthChecker(p.Ping))
	}
	c.Health.Register("fsm", observability.BreakerHealthChecker("fsm", c.FSM.BreakerState))
}

// FlushEvents publishes every pending outbox message once. Short-lived
// commands call it before exiting so their events are not left behind.
func (c *Container) FlushEvents(ctx context.Context) error {
	if c.OutboxProcessor == nil {
		return nil
	}
	return c.OutboxProcessor.ProcessOnce(ctx)
}

// StartEvents drains the outbox in the background until ctx ends or Close runs.
func (c *Container) StartEvents(ctx context.Context) error {
	if c.OutboxProcessor == nil {
		return nil
	}
	return c.OutboxProcessor.Start(ctx)
}

// Close cleans up all resources.
func (c *Container) Close() {
	if c.OutboxProcessor != nil && c.OutboxProcessor.IsRunning() {
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
		} else {
			c.Logger.Info("Redis connection closed")
		}
	}

	if c.DBConn != nil {
		if err := c.DBConn.Close(); err != nil {
			c.Logger.Warn("error closing database connection", "error", err)
		} else {
			c.Logger.Info("database connection closed", "driver", c.DBDriver)
		}
	}
}

func fsmConfig(cfg *config.Config) fsm.Config {
	failures := cfg.FSMBreakerFailures
	if failures < 0 {
		failures = 0
	}
	return fsm.Config{
		BaseURL:            cfg.FSMBaseURL,
		APIKey:             cfg.FSMAPIKey,
		APIKeyHeader:       cfg.FSMAPIKeyHeader,
		Timeout:            cfg.FSMTimeout,
		RatePerSec:         cfg.FSMRatePerSec,
		BreakerEnabled:     cfg.FSMBreakerEnabled,
		BreakerFailures:    uint32(failures),
		BreakerOpenTimeout: cfg.FSMBreakerOpenTimeout,
	}
}
