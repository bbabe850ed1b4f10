// Package postgres хранит заказы, timeline, outbox и ключи идемпотентности в PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const pingTimeout = 5 * time.Second

type poolConfig struct {
	maxOpen     int
	maxIdle     int
	maxLifetime time.Duration
	maxIdleTime time.Duration
}

// PoolOption меняет настройки пула *sql.DB.
type PoolOption func(*poolConfig)

// WithMaxOpenConns ограничивает и открытые, и простаивающие подключения.
// Значения <= 0 игнорируются.
func WithMaxOpenConns(n int) PoolOption {
	return func(cfg *poolConfig) {
		if n > 0 {
			cfg.maxOpen = n
			cfg.maxIdle = min(cfg.maxIdle, n)
		}
	}
}

// WithConnMaxLifetime ограничивает время жизни соединения; d<=0 игнорируется.
func WithConnMaxLifetime(d time.Duration) PoolOption {
	return func(cfg *poolConfig) {
		if d > 0 {
			cfg.maxLifetime = d
		}
	}
}

func (cfg poolConfig) apply(db *sql.DB) {
	db.SetMaxOpenConns(cfg.maxOpen)
	db.SetMaxIdleConns(cfg.maxIdle)
	db.SetConnMaxLifetime(cfg.maxLifetime)
	db.SetConnMaxIdleTime(cfg.maxIdleTime)
}

// Store — пул подключений через драйвер pgx, общий для всех репозиториев.
type Store struct {
	db *sql.DB
}

// Open не возвращает Store, пока база не ответила на ping.
func Open(ctx context.Context, dsn string, options ...PoolOption) (*Store, error) {
	cfg := poolConfig{maxOpen: 25, maxIdle: 25, maxLifetime: 30 * time.Minute, maxIdleTime: 5 * time.Minute}
	for _, option := range options {
		option(&cfg)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	cfg.apply(db)

	store := &Store{db: db}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return store, nil
}

// DB возвращает пул соединений для репозиториев.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет соединение не дольше pingTimeout.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("postgres store is not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// EnsureSchema применяет все ещё не применённые миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.MigrateUp(ctx, 0)
	return err
}

// Close закрывает пул. Безопасен для nil.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// detachedContext — для методов репозиториев без ctx в сигнатуре.
func detachedContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), opTimeout)
}
