package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
)

const defaultIdempotencyTTL = 24 * time.Hour

const (
	// Конфликт перезаписывает строку только если её TTL уже истёк.
	claimIdempotencyKey = `
		INSERT INTO idempotency_keys AS k (key, request_hash, response_body, response_status, status, ttl_at, created_at, updated_at)
		VALUES ($1, $2, NULL, 0, $3, $4, $5, $5)
		ON CONFLICT (key) DO UPDATE SET
			request_hash = EXCLUDED.request_hash, response_body = NULL, response_status = 0,
			status = EXCLUDED.status, ttl_at = EXCLUDED.ttl_at,
			created_at = EXCLUDED.created_at, updated_at = EXCLUDED.updated_at
		WHERE k.ttl_at <= EXCLUDED.created_at
		RETURNING key`
	selectIdempotencyKey = `
		SELECT request_hash, response_body, response_status, status, ttl_at, created_at, updated_at
		FROM idempotency_keys WHERE key = $1`
	finishIdempotencyKey = `
		UPDATE idempotency_keys SET response_body = $2, response_status = $3, status = $4, updated_at = $5
		WHERE key = $1`
	purgeExpiredKeys        = `DELETE FROM idempotency_keys WHERE ttl_at <= $1`
	purgeExpiredKeysLimited = `
		DELETE FROM idempotency_keys WHERE key IN (
			SELECT key FROM idempotency_keys WHERE ttl_at <= $1 ORDER BY ttl_at LIMIT $2)`
)

type idempotencyRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewIdempotencyRepository хранит ключи идемпотентности в idempotency_keys.
// Ключ с истёкшим TTL можно занять заново до того, как его удалит очистка.
func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	return &idempotencyRepository{
		db:  store.DB(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *idempotencyRepository) CreateProcessing(key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key, requestHash = strings.TrimSpace(key), strings.TrimSpace(requestHash)
	switch {
	case key == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	case requestHash == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := r.now()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultIdempotencyTTL)
	}
	record := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	ctx, cancel := detachedContext()
	defer cancel()
	var claimed string
	err := r.db.QueryRowContext(ctx, claimIdempotencyKey, key, requestHash, string(record.Status), ttlAt, now).Scan(&claimed)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, fmt.Errorf("claim idempotency key: %w", err)
	}

	// Ключ занят живой записью.
	existing, err := r.Get(key)
	switch {
	case err != nil:
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
	case existing.RequestHash != requestHash:
		return existing, domain.ErrIdempotencyHashMismatch
	default:
		return existing, domain.ErrIdempotencyKeyAlreadyExists
	}
}

func (r *idempotencyRepository) Get(key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := detachedContext()
	defer cancel()

	record := domain.IdempotencyRecord{Key: key}
	var status string
	err := r.db.QueryRowContext(ctx, selectIdempotencyKey, key).Scan(
		&record.RequestHash, &record.ResponseBody, &record.ResponseStatus,
		&status, &record.TTLAt, &record.CreatedAt, &record.UpdatedAt,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	case err != nil:
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency key %s: %w", key, err)
	}

	record.Status = domain.IdempotencyStatus(status)
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("invalid idempotency status %q for key %s", status, key)
	}
	record.TTLAt = record.TTLAt.UTC()
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return record, nil
}

func (r *idempotencyRepository) MarkDone(key string, responseBody []byte, responseStatus int) error {
	return r.finish(key, domain.IdempotencyStatusDone, responseBody, responseStatus)
}

func (r *idempotencyRepository) MarkFailed(key string, responseBody []byte, responseStatus int) error {
	return r.finish(key, domain.IdempotencyStatusFailed, responseBody, responseStatus)
}

// DeleteExpired удаляет не больше limit самых старых истёкших ключей; limit<=0 снимает ограничение.
func (r *idempotencyRepository) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now()
	}

	ctx, cancel := detachedContext()
	defer cancel()

	query, args := purgeExpiredKeys, []any{before}
	if limit > 0 {
		query, args = purgeExpiredKeysLimited, append(args, limit)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	return int(deleted), nil
}

func (r *idempotencyRepository) finish(key string, status domain.IdempotencyStatus, responseBody []byte, responseStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := detachedContext()
	defer cancel()

	res, err := r.db.ExecContext(ctx, finishIdempotencyKey, key, responseBody, responseStatus, string(status), r.now())
	if err != nil {
		return fmt.Errorf("mark idempotency key %s %s: %w", key, status, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("mark idempotency key %s %s: %w", key, status, err)
	} else if n == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
