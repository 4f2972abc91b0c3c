package config

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// LockDriver selects the backend of the distributed lock serializing poll cycles.
type LockDriver int

const (
	PostgresLock LockDriver = iota + 1
	RedisLock
)

type MessageQueueDriver int

const (
	RabbitMQ MessageQueueDriver = iota + 1
	RedisQueue
)

func (d MessageQueueDriver) String() string {
	switch d {
	case RabbitMQ:
		return "rabbitmq"
	case RedisQueue:
		return "redis"
	default:
		return "unknown"
	}
}

// String converts the LockDriver enum to a human-readable string.
func (d LockDriver) String() string {
	switch d {
	case PostgresLock:
		return "postgres"
	case RedisLock:
		return "redis"
	}
	return "unknown"
}

func ParseMessageQueueDriver(s string) (MessageQueueDriver, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rabbitmq", "amqp":
		return RabbitMQ, nil
	case "redis":
		return RedisQueue, nil
	}
	return 0, errors.Newf("unknown broker driver %q", s)
}

func ParseLockDriver(s string) (LockDriver, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg":
		return PostgresLock, nil
	case "redis":
		return RedisLock, nil
	}
	return 0, errors.Newf("unknown lock driver %q", s)
}
