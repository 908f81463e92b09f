package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shop/internal/service/fulfillment"
)

// envPrefix: все переменные окружения сервиса начинаются с SHOP_.
const envPrefix = "SHOP"

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
	StorageDriverMongo    = "mongo"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":3000"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	StorageDriver       string `envconfig:"STORAGE_DRIVER" default:"memory"`
	PostgresDSN         string `envconfig:"POSTGRES_DSN"`
	PostgresAutoMigrate bool   `envconfig:"POSTGRES_AUTO_MIGRATE" default:"true"`
	MongoURI            string `envconfig:"MONGO_URI"`
	MongoDatabase       string `envconfig:"MONGO_DATABASE" default:"shop"`

	// Пустой список брокеров отключает публикацию outbox и consumer сверки.
	KafkaBrokers             []string      `envconfig:"KAFKA_BROKERS"`
	KafkaTopic               string        `envconfig:"KAFKA_TOPIC" default:"shop.order.events"`
	KafkaDLQTopic            string        `envconfig:"KAFKA_DLQ_TOPIC" default:"shop.order.events.dlq"`
	ReconciliationGroup      string        `envconfig:"RECONCILIATION_GROUP" default:"shop-reconciliation"`
	ReconciliationMaxRetries int           `envconfig:"RECONCILIATION_MAX_RETRIES" default:"3"`
	ReconciliationBackoff    time.Duration `envconfig:"RECONCILIATION_BACKOFF" default:"1s"`

	PageSize               int           `envconfig:"PAGE_SIZE" default:"10"`
	RepositoryTimeout      time.Duration `envconfig:"REPOSITORY_TIMEOUT" default:"5s"`
	ReadAttempts           int           `envconfig:"READ_ATTEMPTS" default:"3"`
	StockRetryAttempts     int           `envconfig:"STOCK_RETRY_ATTEMPTS" default:"5"`
	StockRetryInitialDelay time.Duration `envconfig:"STOCK_RETRY_INITIAL_DELAY" default:"10ms"`
	StockRetryMaxDelay     time.Duration `envconfig:"STOCK_RETRY_MAX_DELAY" default:"200ms"`

	OutboxPollInterval time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"1s"`
	OutboxBatchSize    int           `envconfig:"OUTBOX_BATCH_SIZE" default:"100"`
	OutboxMaxAttempts  int           `envconfig:"OUTBOX_MAX_ATTEMPTS" default:"3"`
	OutboxRetryDelay   time.Duration `envconfig:"OUTBOX_RETRY_DELAY" default:"50ms"`

	IdempotencyTTL              time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
	IdempotencyCleanupInterval  time.Duration `envconfig:"IDEMPOTENCY_CLEANUP_INTERVAL" default:"10m"`
	IdempotencyCleanupBatchSize int           `envconfig:"IDEMPOTENCY_CLEANUP_BATCH_SIZE" default:"500"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// DefaultConfig повторяет значения default-тегов.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":3000",
		MetricsAddr: ":9090",
		LogLevel:    "info",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		MongoDatabase:       "shop",

		KafkaTopic:               kafka.TopicOrderEvents,
		KafkaDLQTopic:            kafka.TopicDeadLetterQueue,
		ReconciliationGroup:      "shop-reconciliation",
		ReconciliationMaxRetries: 3,
		ReconciliationBackoff:    time.Second,

		PageSize:               10,
		RepositoryTimeout:      5 * time.Second,
		ReadAttempts:           3,
		StockRetryAttempts:     5,
		StockRetryInitialDelay: 10 * time.Millisecond,
		StockRetryMaxDelay:     200 * time.Millisecond,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,

		ShutdownTimeout: 10 * time.Second,
	}
}

// LoadConfig читает конфигурацию из окружения (SHOP_*) и проверяет её.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("process env config: %w", err)
	}
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	cfg.KafkaBrokers = cleanList(cfg.KafkaBrokers)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("SHOP_POSTGRES_DSN is required for postgres storage"))
		}
	case StorageDriverMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("SHOP_MONGO_URI is required for mongo storage"))
		}
		if c.MongoDatabase == "" {
			errs = append(errs, errors.New("SHOP_MONGO_DATABASE must not be empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.StorageDriver))
	}

	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http address must not be empty"))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid log level: %w", err))
	}
	if c.Kafka() && c.KafkaTopic == "" {
		errs = append(errs, errors.New("kafka topic must not be empty"))
	}
	if c.ReconciliationMaxRetries < 0 {
		errs = append(errs, errors.New("reconciliation max retries must be non-negative"))
	}
	if err := c.FulfillmentConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.OutboxPollInterval <= 0 || c.OutboxBatchSize <= 0 || c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox poll interval, batch size and attempts must be positive"))
	}
	if c.IdempotencyTTL <= 0 || c.IdempotencyCleanupInterval <= 0 || c.IdempotencyCleanupBatchSize <= 0 {
		errs = append(errs, errors.New("idempotency ttl and cleanup settings must be positive"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}

	return errors.Join(errs...)
}

// Kafka сообщает, настроены ли брокеры.
func (c Config) Kafka() bool {
	return len(c.KafkaBrokers) > 0
}

// FulfillmentConfig переводит настройки в конфигурацию сервиса оформления.
func (c Config) FulfillmentConfig() fulfillment.Config {
	return fulfillment.Config{
		PageSize:     c.PageSize,
		OpTimeout:    c.RepositoryTimeout,
		ReadAttempts: c.ReadAttempts,
		Retry: fulfillment.RetryConfig{
			MaxAttempts:   c.StockRetryAttempts,
			InitialDelay:  c.StockRetryInitialDelay,
			MaxDelay:      c.StockRetryMaxDelay,
			BackoffFactor: 2.0,
		},
	}
}

func cleanList(items []string) []string {
	result := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	return result
}
