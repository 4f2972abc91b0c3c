package config

import "time"

const (
	DefaultInstance            = "keyfire"
	DefaultHTTPPort            = 3000
	DefaultWorkerCount         = 10
	DefaultPollInterval        = time.Minute
	DefaultQueue               = "jobQueue"
	DefaultExchange            = "keyfire"
	DefaultBrokerDriver        = RabbitMQ
	DefaultLockDriver          = PostgresLock
	DefaultRedisHost           = "localhost"
	DefaultRedisPort           = 6379
	DefaultLogLevel            = "info"
	DefaultLoginRatePerSecond  = 5
	DefaultLoginBurst          = 10
	DefaultRescheduleCompleted = false
	DefaultStatusRetries       = 3
)
