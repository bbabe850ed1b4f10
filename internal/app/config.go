package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// StorageDriver выбирает хранилище заказов, timeline и outbox.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// IdempotencyDriver выбирает хранилище ключей дедупликации.
type IdempotencyDriver string

const (
	IdempotencyDriverMemory   IdempotencyDriver = "memory"
	IdempotencyDriverPostgres IdempotencyDriver = "postgres"
	IdempotencyDriverRedis    IdempotencyDriver = "redis"
)

// Config описывает настройки запуска сервиса заказов.
type Config struct {
	GRPCAddr    string
	MetricsAddr string

	StorageDriver           StorageDriver
	PostgresDSN             string
	PostgresAutoMigrate     bool
	PostgresMaxConns        int
	PostgresConnMaxLifetime time.Duration

	// Пустой список брокеров включает локальный режим с in-process шиной.
	KafkaBrokers    []string
	KafkaGroupID    string
	KafkaReplyTopic string
	RPCTimeout      time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	PaymentDedup                bool
	IdempotencyDriver           IdempotencyDriver
	RedisAddr                   string
	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	LogLevel  string
	LogFormat string
}

// DefaultConfig возвращает настройки локального запуска.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:                    ":50051",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		PostgresMaxConns:            25,
		PostgresConnMaxLifetime:     30 * time.Minute,
		KafkaGroupID:                "orders-ms",
		KafkaReplyTopic:             "orders.replies",
		RPCTimeout:                  5 * time.Second,
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           5,
		OutboxRetryDelay:            200 * time.Millisecond,
		IdempotencyDriver:           IdempotencyDriverMemory,
		RedisAddr:                   "localhost:6379",
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
		LogLevel:                    "info",
		LogFormat:                   "text",
	}
}

// KafkaEnabled сообщает, работает ли сервис через Kafka.
func (c Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// ConfigFromEnv читает конфигурацию из окружения процесса.
func ConfigFromEnv() (Config, error) {
	return ConfigFromLookup(os.LookupEnv)
}

// ConfigFromLookup накладывает переменные OMS_* и KAFKA_BROKERS на DefaultConfig.
// Все некорректные значения возвращаются одной ошибкой.
func ConfigFromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig()
	p := envParser{lookup: lookup}

	p.str("OMS_GRPC_ADDR", &cfg.GRPCAddr)
	p.str("OMS_METRICS_ADDR", &cfg.MetricsAddr)
	if v, ok := p.get("OMS_STORAGE_DRIVER"); ok {
		cfg.StorageDriver = StorageDriver(strings.ToLower(v))
	}
	p.str("OMS_POSTGRES_DSN", &cfg.PostgresDSN)
	p.boolean("OMS_POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate)
	p.integer("OMS_POSTGRES_MAX_CONNS", &cfg.PostgresMaxConns)
	p.duration("OMS_POSTGRES_CONN_MAX_LIFETIME", &cfg.PostgresConnMaxLifetime)

	if v, ok := p.get("KAFKA_BROKERS"); ok {
		cfg.KafkaBrokers = splitList(v)
	}
	p.str("OMS_KAFKA_GROUP_ID", &cfg.KafkaGroupID)
	p.str("OMS_KAFKA_REPLY_TOPIC", &cfg.KafkaReplyTopic)
	p.duration("OMS_RPC_TIMEOUT", &cfg.RPCTimeout)

	p.duration("OMS_OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval)
	p.integer("OMS_OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize)
	p.integer("OMS_OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts)
	p.duration("OMS_OUTBOX_RETRY_DELAY", &cfg.OutboxRetryDelay)

	p.boolean("OMS_PAYMENT_DEDUP", &cfg.PaymentDedup)
	if v, ok := p.get("OMS_IDEMPOTENCY_DRIVER"); ok {
		cfg.IdempotencyDriver = IdempotencyDriver(strings.ToLower(v))
	}
	p.str("OMS_REDIS_ADDR", &cfg.RedisAddr)
	p.duration("OMS_IDEMPOTENCY_TTL", &cfg.IdempotencyTTL)
	p.duration("OMS_IDEMPOTENCY_CLEANUP_INTERVAL", &cfg.IdempotencyCleanupInterval)
	p.integer("OMS_IDEMPOTENCY_CLEANUP_BATCH_SIZE", &cfg.IdempotencyCleanupBatchSize)

	p.str("OMS_LOG_LEVEL", &cfg.LogLevel)
	p.str("OMS_LOG_FORMAT", &cfg.LogFormat)

	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("OMS_POSTGRES_DSN is required for postgres storage"))
		}
		if c.PostgresMaxConns <= 0 {
			errs = append(errs, errors.New("OMS_POSTGRES_MAX_CONNS must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	switch c.IdempotencyDriver {
	case IdempotencyDriverMemory:
	case IdempotencyDriverPostgres:
		if c.StorageDriver != StorageDriverPostgres {
			errs = append(errs, errors.New("postgres idempotency driver requires postgres storage"))
		}
	case IdempotencyDriverRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, errors.New("OMS_REDIS_ADDR is required for redis idempotency driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported idempotency driver %q", c.IdempotencyDriver))
	}

	if c.KafkaEnabled() && strings.TrimSpace(c.KafkaGroupID) == "" {
		errs = append(errs, errors.New("OMS_KAFKA_GROUP_ID is required with kafka"))
	}
	if c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("outbox batch size must be positive"))
	}
	if c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox max attempts must be positive"))
	}
	if c.OutboxPollInterval <= 0 {
		errs = append(errs, errors.New("outbox poll interval must be positive"))
	}

	return errors.Join(errs...)
}

type envParser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *envParser) get(key string) (string, bool) {
	v, ok := p.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (p *envParser) str(key string, dst *string) {
	if v, ok := p.get(key); ok {
		*dst = v
	}
}

func (p *envParser) boolean(key string, dst *bool) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = parsed
}

func (p *envParser) integer(key string, dst *int) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = parsed
}

func (p *envParser) duration(key string, dst *time.Duration) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = parsed
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
