package redis

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
)

const defaultLocalRedisAddr = "localhost:6379"

func openRedisForIntegrationTest(t *testing.T) *IdempotencyRepository {
	t.Helper()

	addr := strings.TrimSpace(os.Getenv("OMS_REDIS_TEST_ADDR"))
	if addr == "" {
		addr = defaultLocalRedisAddr
	}

	client, err := NewClient(context.Background(), addr, "", 0)
	if err != nil {
		t.Skipf("redis is not available for integration tests: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})

	// Уникальный префикс изолирует параллельные прогоны.
	return NewIdempotencyRepository(client, WithKeyPrefix("orders-test:"+uuid.NewString()+":"))
}

func TestTTLFor(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, time.Hour, ttlFor(now.Add(time.Hour), now))
	require.Equal(t, minTTL, ttlFor(now.Add(-time.Hour), now))
	require.Equal(t, minTTL, ttlFor(now, now))
}

func TestStoredRecordRoundTrip(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	record := domain.IdempotencyRecord{
		Key:            "payment:ch_1",
		RequestHash:    "hash",
		ResponseBody:   []byte(`{"ok":true}`),
		ResponseStatus: 200,
		Status:         domain.IdempotencyStatusDone,
		TTLAt:          now.Add(time.Hour),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	require.Equal(t, record, fromDomain(record).toDomain("payment:ch_1"))
}

func TestIdempotencyRepository_Validation(t *testing.T) {
	t.Parallel()

	repo := NewIdempotencyRepository(goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1"}))

	_, err := repo.CreateProcessing(" ", "hash", time.Time{})
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
	_, err = repo.CreateProcessing("key", "", time.Time{})
	require.ErrorIs(t, err, domain.ErrIdempotencyRequestHashRequired)
	_, err = repo.Get("")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)

	deleted, err := repo.DeleteExpired(time.Now(), 10)
	require.NoError(t, err)
	require.Zero(t, deleted)
}

func TestIdempotencyRepository_RedisLifecycle(t *testing.T) {
	repo := openRedisForIntegrationTest(t)

	ttl := time.Now().UTC().Add(time.Minute)
	record, err := repo.CreateProcessing("payment:ch_1", "hash-1", ttl)
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusProcessing, record.Status)

	_, err = repo.CreateProcessing("payment:ch_1", "hash-1", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)

	_, err = repo.CreateProcessing("payment:ch_1", "hash-2", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)

	require.NoError(t, repo.MarkDone("payment:ch_1", []byte(`{"ok":true}`), 200))
	got, err := repo.Get("payment:ch_1")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusDone, got.Status)
	require.Equal(t, 200, got.ResponseStatus)

	remaining, err := repo.client.TTL(context.Background(), repo.prefix+"payment:ch_1").Result()
	require.NoError(t, err)
	require.Greater(t, remaining, time.Duration(0), "mark must keep the key ttl")

	require.ErrorIs(t, repo.MarkFailed("payment:missing", nil, 500), domain.ErrIdempotencyKeyNotFound)
	require.NoError(t, repo.Ping(context.Background()))
}
