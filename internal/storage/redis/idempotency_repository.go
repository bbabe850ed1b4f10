// Package redis хранит ключи идемпотентности в Redis: TTL ключа совпадает с TTL записи.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
)

const (
	defaultKeyPrefix = "orders:idempotency:"
	defaultTTL       = 24 * time.Hour
	opTimeout        = 2 * time.Second
	// minTTL не даёт записать ключ без срока жизни, если ttlAt уже в прошлом.
	minTTL = time.Second
)

// storedRecord — JSON-представление записи в Redis.
type storedRecord struct {
	RequestHash    string                   `json:"request_hash"`
	ResponseBody   []byte                   `json:"response_body,omitempty"`
	ResponseStatus int                      `json:"response_status"`
	Status         domain.IdempotencyStatus `json:"status"`
	TTLAt          time.Time                `json:"ttl_at"`
	CreatedAt      time.Time                `json:"created_at"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

// Option настраивает IdempotencyRepository.
type Option func(*IdempotencyRepository)

// WithKeyPrefix задаёт префикс ключей.
func WithKeyPrefix(prefix string) Option {
	return func(r *IdempotencyRepository) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(r *IdempotencyRepository) {
		if clock != nil {
			r.now = clock
		}
	}
}

// IdempotencyRepository реализует domain.IdempotencyRepository поверх Redis.
type IdempotencyRepository struct {
	client goredis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewIdempotencyRepository создаёт репозиторий поверх готового клиента.
func NewIdempotencyRepository(client goredis.UniversalClient, options ...Option) *IdempotencyRepository {
	r := &IdempotencyRepository{
		client: client,
		prefix: defaultKeyPrefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// NewClient создаёт клиента Redis и проверяет подключение.
func NewClient(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

// CreateProcessing занимает ключ через SET NX с TTL до ttlAt.
func (r *IdempotencyRepository) CreateProcessing(key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)

	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := r.now()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultTTL)
	}
	stored := storedRecord{
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("marshal idempotency record: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	ok, err := r.client.SetNX(ctx, r.prefix+key, data, ttlFor(ttlAt, now)).Result()
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("create idempotency record: %w", err)
	}
	if !ok {
		existing, getErr := r.Get(key)
		if getErr != nil {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
		}
		if existing.RequestHash != requestHash {
			return existing, domain.ErrIdempotencyHashMismatch
		}
		return existing, domain.ErrIdempotencyKeyAlreadyExists
	}

	return stored.toDomain(key), nil
}

// Get возвращает запись по ключу.
func (r *IdempotencyRepository) Get(key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
		}
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency record: %w", err)
	}

	var stored storedRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("decode idempotency record %s: %w", key, err)
	}
	if !stored.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("invalid idempotency status %q for key %s", stored.Status, key)
	}
	return stored.toDomain(key), nil
}

// MarkDone сохраняет успешный ответ, не трогая TTL.
func (r *IdempotencyRepository) MarkDone(key string, responseBody []byte, responseStatus int) error {
	return r.markStatus(key, domain.IdempotencyStatusDone, responseBody, responseStatus)
}

// MarkFailed сохраняет ответ с ошибкой, не трогая TTL.
func (r *IdempotencyRepository) MarkFailed(key string, responseBody []byte, responseStatus int) error {
	return r.markStatus(key, domain.IdempotencyStatusFailed, responseBody, responseStatus)
}

// DeleteExpired ничего не делает: Redis удаляет ключи сам по TTL.
func (r *IdempotencyRepository) DeleteExpired(time.Time, int) (int, error) {
	return 0, nil
}

// Ping проверяет доступность Redis.
func (r *IdempotencyRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *IdempotencyRepository) markStatus(key string, status domain.IdempotencyStatus, responseBody []byte, responseStatus int) error {
	record, err := r.Get(key)
	if err != nil {
		return err
	}

	stored := fromDomain(record)
	stored.Status = status
	stored.ResponseBody = append([]byte(nil), responseBody...)
	stored.ResponseStatus = responseStatus
	stored.UpdatedAt = r.now()

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal idempotency record: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	err = r.client.SetArgs(ctx, r.prefix+record.Key, data, goredis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return domain.ErrIdempotencyKeyNotFound
		}
		return fmt.Errorf("mark idempotency key %s: %w", status, err)
	}
	return nil
}

func ttlFor(ttlAt, now time.Time) time.Duration {
	ttl := ttlAt.Sub(now)
	if ttl < minTTL {
		return minTTL
	}
	return ttl
}

func (s storedRecord) toDomain(key string) domain.IdempotencyRecord {
	return domain.IdempotencyRecord{
		Key:            key,
		RequestHash:    s.RequestHash,
		ResponseBody:   append([]byte(nil), s.ResponseBody...),
		ResponseStatus: s.ResponseStatus,
		Status:         s.Status,
		TTLAt:          s.TTLAt.UTC(),
		CreatedAt:      s.CreatedAt.UTC(),
		UpdatedAt:      s.UpdatedAt.UTC(),
	}
}

func fromDomain(record domain.IdempotencyRecord) storedRecord {
	return storedRecord{
		RequestHash:    record.RequestHash,
		ResponseBody:   record.ResponseBody,
		ResponseStatus: record.ResponseStatus,
		Status:         record.Status,
		TTLAt:          record.TTLAt,
		CreatedAt:      record.CreatedAt,
		UpdatedAt:      record.UpdatedAt,
	}
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
