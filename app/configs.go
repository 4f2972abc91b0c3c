package app

import (
	"context"
	"net/http"
	"time"

	"github.com/RezaEskandarii/keyfire/internal/constants"
	"github.com/RezaEskandarii/keyfire/internal/lock"
	"github.com/RezaEskandarii/keyfire/internal/message_broker"
	"github.com/RezaEskandarii/keyfire/types/config"
	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func createDistributedLockManager(cfg *config.KeyfireConfig, db *sqlx.DB, redisClient *redis.Client) (lock.DistributedLockManager, error) {
	switch cfg.LockDriver {
	case config.PostgresLock:
		return lock.NewPostgresDistributedLockManager(db.DB), nil
	case config.RedisLock:
		return lock.NewRedisDistributedLockManager(redisClient, cfg.Instance, constants.PollLockTTL), nil
	default:
		return nil, errors.Newf("unsupported lock driver: %s", cfg.LockDriver.String())
	}
}

func createMessageBroker(cfg *config.KeyfireConfig, redisClient *redis.Client, logger *zap.SugaredLogger) (message_broker.MessageBroker, error) {
	switch cfg.MQDriver {
	case config.RabbitMQ:
		if cfg.RabbitMQConfig == nil || cfg.RabbitMQConfig.URL == "" {
			return nil, errors.New("rabbitmq client: URL is required")
		}
		broker, err := message_broker.NewRabbitMQ(
			cfg.RabbitMQConfig.URL,
			cfg.RabbitMQConfig.Exchange,
			cfg.Queue,
			cfg.RoutingKey(),
			constants.MaxDeliveryAttempts,
			logger.Named("rabbitmq"),
		)
		if err != nil {
			return nil, errors.Wrap(err, "init rabbitmq")
		}
		return broker, nil
	case config.RedisQueue:
		return message_broker.NewRedisBroker(redisClient, constants.MaxDeliveryAttempts, logger.Named("redis-queue")), nil
	default:
		return nil, errors.Newf("unsupported broker driver: %s", cfg.MQDriver.String())
	}
}

// pingRedis fails fast when a component configured on Redis cannot reach it.
func pingRedis(ctx context.Context, client *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "failed to connect to redis")
	}
	return nil
}

func newIdentityHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}
