package app

import (
	"context"
	"sync"

	"github.com/RezaEskandarii/keyfire/internal/auth"
	"github.com/RezaEskandarii/keyfire/internal/db"
	"github.com/RezaEskandarii/keyfire/internal/jobs"
	"github.com/RezaEskandarii/keyfire/internal/lock"
	"github.com/RezaEskandarii/keyfire/internal/logging"
	"github.com/RezaEskandarii/keyfire/internal/message_broker"
	"github.com/RezaEskandarii/keyfire/internal/store"
	"github.com/RezaEskandarii/keyfire/internal/store/postgres"
	"github.com/RezaEskandarii/keyfire/types/config"
	"github.com/RezaEskandarii/keyfire/web"
	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Container holds all application dependencies. It is the single source of truth
// for dependency injection and ensures connections and services are created once.
type Container struct {
	Config *config.KeyfireConfig
	Logger *zap.SugaredLogger

	// Storage connections (created once, shared by all components)
	DB    *sqlx.DB
	Redis *redis.Client

	JobStore    store.JobStore
	LockManager lock.DistributedLockManager

	JobService *jobs.Service
	Executors  *jobs.ExecutorRegistry

	Keycloak   *auth.Keycloak
	Verifier   *auth.Verifier
	StateStore auth.StateStore

	// The broker is dialed on first use; migrate and the jobs commands never need it.
	brokerOnce sync.Once
	broker     message_broker.MessageBroker
	brokerErr  error
	ownsBroker bool
	ownsDB     bool
	ownsRedis  bool
}

// NewContainer creates and wires all dependencies. Single entry point for DI.
// Call this once per application lifecycle.
// Pass optional WithDB, WithRedis and WithBroker to inject connections for testing.
func NewContainer(ctx context.Context, cfg *config.KeyfireConfig, opts ...ContainerOption) (*Container, error) {
	opt := &containerConfig{}
	for _, o := range opts {
		o(opt)
	}

	logger := opt.logger
	if logger == nil {
		base, err := logging.New(cfg.LogLevel, cfg.LogJSON)
		if err != nil {
			return nil, err
		}
		logger = base.Sugar().With("instance", cfg.Instance)
	}

	c := &Container{
		Config:     cfg,
		Logger:     logger,
		DB:         opt.db,
		Redis:      opt.redis,
		broker:     opt.broker,
		ownsBroker: opt.broker == nil,
		ownsDB:     opt.db == nil,
		ownsRedis:  opt.redis == nil,
	}

	if c.DB == nil {
		conn, err := db.Connect(ctx, cfg.PostgresConfig)
		if err != nil {
			return nil, err
		}
		c.DB = conn
	}
	if c.Redis == nil {
		c.Redis = newRedisClient(cfg.RedisConfig)
		if usesRedis(cfg) {
			if err := pingRedis(ctx, c.Redis); err != nil {
				_ = c.Close()
				return nil, err
			}
		}
	}

	lockMgr, err := createDistributedLockManager(cfg, c.DB, c.Redis)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.LockManager = lockMgr
	c.JobStore = postgres.NewPostgresJobStore(c.DB)

	c.JobService = jobs.NewService(
		c.JobStore,
		jobs.WithRescheduleCompleted(cfg.RescheduleCompleted),
		jobs.WithStatusRetries(cfg.StatusRetries),
		jobs.WithLogger(logger.Named("jobs")),
	)

	fallback := opt.fallback
	if fallback == nil {
		fallback = jobs.LogPayloadExecutor(logger.Named("executor"))
	}
	c.Executors = jobs.NewExecutorRegistry(fallback)
	for jobType, executor := range opt.executors {
		if err := c.Executors.Register(jobType, executor); err != nil {
			_ = c.Close()
			return nil, err
		}
	}

	c.Keycloak = auth.NewKeycloak(cfg.KeycloakConfig, newIdentityHTTPClient(), logger.Named("keycloak"))
	jwks := auth.NewJWKSCache(c.Keycloak.CertsURL(), c.Keycloak.HTTPClient(), 0)
	var verifierOpts []auth.VerifierOption
	if cfg.KeycloakConfig.Audience != "" {
		verifierOpts = append(verifierOpts, auth.WithAudience(cfg.KeycloakConfig.Audience))
	}
	c.Verifier = auth.NewVerifier(jwks, c.Keycloak.Issuer(), verifierOpts...)

	if usesRedis(cfg) {
		c.StateStore = auth.NewRedisStateStore(c.Redis)
	} else {
		c.StateStore = auth.NewMemoryStateStore()
	}

	return c, nil
}

// usesRedis reports whether any configured backend lives in Redis.
func usesRedis(cfg *config.KeyfireConfig) bool {
	return cfg.LockDriver == config.RedisLock || cfg.MQDriver == config.RedisQueue
}

// Migrate applies the embedded schema migrations under the migration lock.
func (c *Container) Migrate(ctx context.Context) error {
	return db.Init(ctx, c.DB, c.LockManager, c.Logger.Named("migrate"))
}

// Broker returns the configured message broker, connecting on first call.
func (c *Container) Broker() (message_broker.MessageBroker, error) {
	c.brokerOnce.Do(func() {
		if c.broker != nil {
			return
		}
		c.broker, c.brokerErr = createMessageBroker(c.Config, c.Redis, c.Logger)
	})
	return c.broker, c.brokerErr
}

func (c *Container) Poller() (*jobs.Poller, error) {
	broker, err := c.Broker()
	if err != nil {
		return nil, err
	}
	return jobs.NewPoller(
		c.JobService,
		broker,
		c.LockManager,
		c.Config.Queue,
		c.Config.PollInterval,
		c.Logger.Named("poller"),
	), nil
}

func (c *Container) Consumer() (*jobs.Consumer, error) {
	broker, err := c.Broker()
	if err != nil {
		return nil, err
	}
	return jobs.NewConsumer(
		c.JobService,
		broker,
		c.Executors,
		c.Config.Queue,
		c.Config.WorkerCount,
		c.Logger.Named("consumer"),
	), nil
}

func (c *Container) RouteHandler() *web.HttpRouteHandler {
	return web.NewRouteHandler(
		c.JobService,
		c.Keycloak,
		c.Verifier,
		c.StateStore,
		web.RouteHandlerOptions{
			Port:           c.Config.HTTPPort,
			ClientID:       c.Config.KeycloakConfig.ClientID,
			CORSOrigins:    c.Config.CORSOrigins,
			LoginPerSecond: c.Config.LoginRateLimit.PerSecond,
			LoginBurst:     c.Config.LoginRateLimit.Burst,
		},
		c.Logger.Named("http"),
	)
}

// Close releases the connections the container opened itself.
func (c *Container) Close() error {
	var err error
	if c.ownsBroker && c.broker != nil {
		err = errors.CombineErrors(err, c.broker.Close())
	}
	if c.ownsRedis && c.Redis != nil {
		err = errors.CombineErrors(err, c.Redis.Close())
	}
	if c.ownsDB && c.DB != nil {
		err = errors.CombineErrors(err, c.DB.Close())
	}
	_ = c.Logger.Sync()
	return err
}
