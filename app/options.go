package app

import (
	"github.com/RezaEskandarii/keyfire/internal/jobs"
	"github.com/RezaEskandarii/keyfire/internal/message_broker"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ContainerOption configures Container creation. Used for testing and customization.
type ContainerOption func(*containerConfig)

type containerConfig struct {
	// Optional: inject connections instead of creating them from config
	db     *sqlx.DB
	redis  *redis.Client
	broker message_broker.MessageBroker
	logger *zap.SugaredLogger

	executors map[string]jobs.Executor
	fallback  jobs.Executor
}

// WithDB injects a database connection. Useful for testing.
func WithDB(db *sqlx.DB) ContainerOption {
	return func(c *containerConfig) {
		c.db = db
	}
}

// WithRedis injects a Redis client. Useful for testing.
func WithRedis(redis *redis.Client) ContainerOption {
	return func(c *containerConfig) {
		c.redis = redis
	}
}

// WithBroker injects the message broker instead of dialing the configured one.
func WithBroker(broker message_broker.MessageBroker) ContainerOption {
	return func(c *containerConfig) {
		c.broker = broker
	}
}

func WithLogger(logger *zap.SugaredLogger) ContainerOption {
	return func(c *containerConfig) {
		c.logger = logger
	}
}

// WithExecutor registers the executor run for jobs of jobType.
func WithExecutor(jobType string, executor jobs.Executor) ContainerOption {
	return func(c *containerConfig) {
		if c.executors == nil {
			c.executors = make(map[string]jobs.Executor)
		}
		c.executors[jobType] = executor
	}
}

// WithFallbackExecutor replaces the executor used for unregistered job types.
func WithFallbackExecutor(executor jobs.Executor) ContainerOption {
	return func(c *containerConfig) {
		c.fallback = executor
	}
}
