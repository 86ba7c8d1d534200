package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr string `validate:"required"`
	// AdminToken guards the cache admin routes. Empty disables them.
	AdminToken string
}

// RedisConfig configures the L1 cache connection. An empty URL selects the
// in-process L1 store.
type RedisConfig struct {
	URL          string
	PoolSize     int           `validate:"gt=0"`
	MinIdleConns int           `validate:"gte=0"`
	DialTimeout  time.Duration `validate:"gt=0"`
	ReadTimeout  time.Duration `validate:"gt=0"`
	WriteTimeout time.Duration `validate:"gt=0"`
}

// PostgresConfig configures the L2 cache. An empty URL disables L2.
type PostgresConfig struct {
	URL      string
	MaxConns int32 `validate:"gt=0"`
}

// KafkaConfig configures task event publishing. No brokers means events are logged only.
type KafkaConfig struct {
	Brokers []string
	Topic   string `validate:"required"`
}

// Engine holds lookup engine tuning.
type Engine struct {
	PerAdapterTimeout time.Duration `validate:"gt=0"`
	OuterTimeout      time.Duration `validate:"gte=0"`
	MaxConcurrency    int           `validate:"gte=0"`
	PhoneTTL          time.Duration `validate:"gt=0"`
	EmailTTL          time.Duration `validate:"gt=0"`
	Workers           int           `validate:"gt=0"`
	QueueSize         int           `validate:"gt=0"`
	MaxAttempts       int           `validate:"gt=0"`
	BackoffBase       time.Duration `validate:"gt=0"`
	BackoffMax        time.Duration `validate:"gtefield=BackoffBase"`
	TaskRetention     time.Duration `validate:"gt=0"`
	CleanupSchedule   string        `validate:"required"`
	ProvidersFile     string
}

type Logging struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=json text"`
}

// Config is the full service configuration.
type Config struct {
	Server   Server
	Redis    RedisConfig
	Postgres PostgresConfig
	Kafka    KafkaConfig
	Engine   Engine
	Logging  Logging
}

var validate = validator.New()

// FromEnv builds a Config from environment variables so main stays lean.
// Callers load .env files before calling it.
func FromEnv() (Config, error) {
	cfg := Config{
		Server: Server{
			Addr:       envString("OSINT_ADDR", ":8080"),
			AdminToken: os.Getenv("OSINT_ADMIN_TOKEN"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 20),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Postgres: PostgresConfig{
			URL:      os.Getenv("DATABASE_URL"),
			MaxConns: int32(envInt("DATABASE_MAX_CONNS", 10)),
		},
		Kafka: KafkaConfig{
			Brokers: envList("KAFKA_BROKERS"),
			Topic:   envString("KAFKA_TASK_TOPIC", "osint.lookup.tasks"),
		},
		Engine: Engine{
			PerAdapterTimeout: envDuration("LOOKUP_ADAPTER_TIMEOUT", 30*time.Second),
			OuterTimeout:      envDuration("LOOKUP_OUTER_TIMEOUT", 0),
			MaxConcurrency:    envInt("LOOKUP_MAX_CONCURRENCY", 16),
			PhoneTTL:          envDuration("LOOKUP_PHONE_TTL", 24*time.Hour),
			EmailTTL:          envDuration("LOOKUP_EMAIL_TTL", 6*time.Hour),
			Workers:           envInt("LOOKUP_WORKERS", 4),
			QueueSize:         envInt("LOOKUP_QUEUE_SIZE", 256),
			MaxAttempts:       envInt("LOOKUP_MAX_ATTEMPTS", 3),
			BackoffBase:       envDuration("LOOKUP_BACKOFF_BASE", 2*time.Second),
			BackoffMax:        envDuration("LOOKUP_BACKOFF_MAX", time.Minute),
			TaskRetention:     envDuration("LOOKUP_TASK_RETENTION", time.Hour),
			CleanupSchedule:   envString("LOOKUP_CLEANUP_SCHEDULE", "@hourly"),
			ProvidersFile:     os.Getenv("LOOKUP_PROVIDERS_FILE"),
		},
		Logging: Logging{
			Level:  strings.ToLower(envString("LOG_LEVEL", "info")),
			Format: strings.ToLower(envString("LOG_FORMAT", "json")),
		},
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// envInt and envDuration fall back to def on unparsable values; validation
// catches the ones that matter.
func envInt(key string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return v
}

func envDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return v
}

func envList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
