package app

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/orders-ms/internal/health"
	"github.com/vladislavdragonenkov/orders-ms/internal/service/idempotency"
	"github.com/vladislavdragonenkov/orders-ms/internal/storage/memory"
	"github.com/vladislavdragonenkov/orders-ms/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/orders-ms/internal/storage/redis"
)

// runtimeDependencies — хранилища, выбранные конфигурацией, и их проверки здоровья.
type runtimeDependencies struct {
	repo            domain.OrderRepository
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository
	// expiredDeleter nil, если хранилище само удаляет просроченные ключи.
	expiredDeleter idempotency.ExpiredDeleter
	checkers       map[string]healthcheck.Checker
	closers        []func() error
}

// closeFn закрывает подключения в обратном порядке открытия.
func (d *runtimeDependencies) closeFn() error {
	if d == nil {
		return nil
	}
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{checkers: make(map[string]healthcheck.Checker)}

	var store *postgres.Store
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		deps.repo = memory.NewOrderRepository()
		deps.outboxRepo = memory.NewOutboxRepository()
		deps.timelineRepo = memory.NewTimelineRepository()
	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, errors.New("postgres storage requires OMS_POSTGRES_DSN")
		}
		var err error
		store, err = postgres.Open(ctx, cfg.PostgresDSN,
			postgres.WithMaxOpenConns(cfg.PostgresMaxConns),
			postgres.WithConnMaxLifetime(cfg.PostgresConnMaxLifetime))
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, store.Close)
		if cfg.PostgresAutoMigrate {
			applied, err := store.MigrateUp(ctx, 0)
			if err != nil {
				_ = deps.closeFn()
				return nil, fmt.Errorf("auto migrate: %w", err)
			}
			logger.WithField("applied", applied).Info("postgres migrations applied")
		}
		deps.repo = postgres.NewOrderRepository(store)
		deps.outboxRepo = postgres.NewOutboxRepository(store)
		deps.timelineRepo = postgres.NewTimelineRepository(store)
		deps.checkers["postgres"] = healthcheck.NewPingChecker("postgres", store.Ping)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	switch cfg.IdempotencyDriver {
	case IdempotencyDriverMemory, "":
		repo := memory.NewIdempotencyRepository()
		deps.idempotencyRepo = repo
		deps.expiredDeleter = repo
	case IdempotencyDriverPostgres:
		if store == nil {
			_ = deps.closeFn()
			return nil, errors.New("postgres idempotency driver requires postgres storage")
		}
		repo := postgres.NewIdempotencyRepository(store)
		deps.idempotencyRepo = repo
		deps.expiredDeleter = repo
	case IdempotencyDriverRedis:
		client, err := redisstore.NewClient(ctx, cfg.RedisAddr, "", 0)
		if err != nil {
			_ = deps.closeFn()
			return nil, err
		}
		deps.closers = append(deps.closers, client.Close)
		repo := redisstore.NewIdempotencyRepository(client)
		deps.idempotencyRepo = repo
		deps.checkers["redis"] = healthcheck.NewOptionalChecker("redis", repo.Ping)
	default:
		_ = deps.closeFn()
		return nil, fmt.Errorf("unsupported idempotency driver %q", cfg.IdempotencyDriver)
	}

	logger.WithFields(log.Fields{
		"storage":     cfg.StorageDriver,
		"idempotency": cfg.IdempotencyDriver,
	}).Info("storage initialized")
	return deps, nil
}
