package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("instance", DefaultInstance)
	v.SetDefault("http.port", DefaultHTTPPort)
	v.SetDefault("http.cors_origins", []string{})
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.json", false)

	v.SetDefault("broker.driver", DefaultBrokerDriver.String())
	v.SetDefault("broker.queue", DefaultQueue)
	v.SetDefault("rabbitmq.exchange", DefaultExchange)
	v.SetDefault("redis.host", DefaultRedisHost)
	v.SetDefault("redis.port", DefaultRedisPort)
	v.SetDefault("redis.db", 0)
	v.SetDefault("lock.driver", DefaultLockDriver.String())

	v.SetDefault("scheduler.interval", DefaultPollInterval)
	v.SetDefault("scheduler.reschedule_completed", DefaultRescheduleCompleted)
	v.SetDefault("scheduler.status_retries", DefaultStatusRetries)
	v.SetDefault("worker.count", DefaultWorkerCount)

	v.SetDefault("postgres.max_open_conns", 25)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime", "5m")

	v.SetDefault("auth.login_rate", DefaultLoginRatePerSecond)
	v.SetDefault("auth.login_burst", DefaultLoginBurst)
}

// bindEnv maps the conventional deployment variables onto config keys.
// KEYFIRE_* variables are picked up through AutomaticEnv.
func bindEnv(v *viper.Viper) {
	bindings := map[string][]string{
		"http.port":              {"KEYFIRE_HTTP_PORT", "PORT"},
		"http.cors_origins":      {"KEYFIRE_HTTP_CORS_ORIGINS", "CORS_ALLOWED_ORIGINS"},
		"postgres.url":           {"KEYFIRE_POSTGRES_URL", "DATABASE_URL"},
		"rabbitmq.url":           {"KEYFIRE_RABBITMQ_URL", "RABBITMQ_URL"},
		"redis.host":             {"KEYFIRE_REDIS_HOST", "REDIS_HOST"},
		"redis.port":             {"KEYFIRE_REDIS_PORT", "REDIS_PORT"},
		"redis.password":         {"KEYFIRE_REDIS_PASSWORD", "REDIS_PASSWORD"},
		"keycloak.url":           {"KEYFIRE_KEYCLOAK_URL", "KEYCLOAK_URL"},
		"keycloak.realm":         {"KEYFIRE_KEYCLOAK_REALM", "KEYCLOAK_REALM"},
		"keycloak.client_id":     {"KEYFIRE_KEYCLOAK_CLIENT_ID", "KEYCLOAK_CLIENT_ID"},
		"keycloak.client_secret": {"KEYFIRE_KEYCLOAK_CLIENT_SECRET", "KEYCLOAK_CLIENT_SECRET"},
		"keycloak.redirect_uri":  {"KEYFIRE_KEYCLOAK_REDIRECT_URI", "KEYCLOAK_REDIRECT_URI"},
		"keycloak.audience":      {"KEYFIRE_KEYCLOAK_AUDIENCE", "KEYCLOAK_AUDIENCE"},
	}
	for key, envs := range bindings {
		_ = v.BindEnv(append([]string{key}, envs...)...)
	}
}

// NewViper builds a viper instance reading, in increasing precedence,
// defaults, the optional config file and the environment.
// A .env file in the working directory is loaded into the environment first.
func NewViper(configPath string) (*viper.Viper, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(err, "failed to load .env")
	}

	v := viper.New()
	v.SetEnvPrefix("KEYFIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
		}
	}
	return v, nil
}

// Load reads configuration from configPath (optional), .env and the environment.
func Load(configPath string) (*KeyfireConfig, error) {
	v, err := NewViper(configPath)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper turns resolved viper settings into a validated KeyfireConfig.
func FromViper(v *viper.Viper) (*KeyfireConfig, error) {
	opts := []ContainerOption{
		WithHTTPPort(v.GetUint("http.port")),
		WithCORSOrigins(splitList(v.GetStringSlice("http.cors_origins"))...),
		WithLogging(v.GetString("log.level"), v.GetBool("log.json")),
		WithQueue(v.GetString("broker.queue")),
		WithWorkerCount(v.GetInt("worker.count")),
		WithPollInterval(v.GetDuration("scheduler.interval")),
		WithRescheduleCompleted(v.GetBool("scheduler.reschedule_completed")),
		WithStatusRetries(v.GetInt("scheduler.status_retries")),
		WithRedisConfig(RedisConfig{
			Address:  fmt.Sprintf("%s:%d", v.GetString("redis.host"), v.GetInt("redis.port")),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		}),
		WithLoginRateLimit(v.GetFloat64("auth.login_rate"), v.GetInt("auth.login_burst")),
	}

	lockDriver, err := ParseLockDriver(v.GetString("lock.driver"))
	if err != nil {
		return nil, err
	}
	opts = append(opts, WithLockDriver(lockDriver))

	mqDriver, err := ParseMessageQueueDriver(v.GetString("broker.driver"))
	if err != nil {
		return nil, err
	}
	switch mqDriver {
	case RedisQueue:
		opts = append(opts, UseRedisQueue())
	case RabbitMQ:
		if url := v.GetString("rabbitmq.url"); url != "" {
			opts = append(opts, WithRabbitMQConfig(RabbitMQConfig{
				URL:        url,
				Exchange:   v.GetString("rabbitmq.exchange"),
				RoutingKey: v.GetString("rabbitmq.routing_key"),
			}))
		}
	}

	if url := v.GetString("postgres.url"); url != "" {
		opts = append(opts, WithPostgresConfig(PostgresConfig{
			ConnectionUrl:   url,
			MaxOpenConns:    v.GetInt("postgres.max_open_conns"),
			MaxIdleConns:    v.GetInt("postgres.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("postgres.conn_max_lifetime"),
		}))
	}

	if v.GetString("keycloak.url") != "" {
		opts = append(opts, WithKeycloakConfig(KeycloakConfig{
			URL:          v.GetString("keycloak.url"),
			Realm:        v.GetString("keycloak.realm"),
			ClientID:     v.GetString("keycloak.client_id"),
			ClientSecret: v.GetString("keycloak.client_secret"),
			RedirectURI:  v.GetString("keycloak.redirect_uri"),
			Audience:     v.GetString("keycloak.audience"),
		}))
	}

	return NewKeyfireConfig(v.GetString("instance"), opts...)
}

// splitList accepts both list values and a single comma separated env value.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
