package memory

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
)

const defaultIdempotencyTTL = 24 * time.Hour

// IdempotencyRepository держит ключи идемпотентности в памяти процесса.
// Ключ с истёкшим TTL свободен ещё до того, как его удалит очистка.
type IdempotencyRepository struct {
	mu   sync.RWMutex
	keys map[string]*domain.IdempotencyRecord
	now  func() time.Time
}

// NewIdempotencyRepository создаёт хранилище ключей на системных часах.
func NewIdempotencyRepository() *IdempotencyRepository {
	return &IdempotencyRepository{
		keys: make(map[string]*domain.IdempotencyRecord),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *IdempotencyRepository) CreateProcessing(key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	if requestHash = strings.TrimSpace(requestHash); requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if held := r.keys[key]; held != nil && !held.Expired(now) {
		conflict := domain.ErrIdempotencyKeyAlreadyExists
		if held.RequestHash != requestHash {
			conflict = domain.ErrIdempotencyHashMismatch
		}
		return snapshot(held), conflict
	}

	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultIdempotencyTTL)
	}
	record := &domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.keys[key] = record
	return snapshot(record), nil
}

func (r *IdempotencyRepository) Get(key string) (domain.IdempotencyRecord, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	record := r.keys[key]
	if record == nil {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return snapshot(record), nil
}

func (r *IdempotencyRepository) MarkDone(key string, responseBody []byte, responseStatus int) error {
	return r.finish(key, domain.IdempotencyStatusDone, responseBody, responseStatus)
}

func (r *IdempotencyRepository) MarkFailed(key string, responseBody []byte, responseStatus int) error {
	return r.finish(key, domain.IdempotencyStatusFailed, responseBody, responseStatus)
}

// DeleteExpired удаляет до limit ключей с TTL не позже before, старейшие первыми.
// limit <= 0 снимает ограничение, нулевой before означает текущее время.
func (r *IdempotencyRepository) DeleteExpired(before time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if before.IsZero() {
		before = r.now()
	}
	var expired []*domain.IdempotencyRecord
	for _, record := range r.keys {
		if record.Expired(before) {
			expired = append(expired, record)
		}
	}
	slices.SortFunc(expired, func(a, b *domain.IdempotencyRecord) int {
		return a.TTLAt.Compare(b.TTLAt)
	})
	if limit > 0 {
		expired = expired[:min(limit, len(expired))]
	}
	for _, record := range expired {
		delete(r.keys, record.Key)
	}
	return len(expired), nil
}

func (r *IdempotencyRepository) finish(key string, status domain.IdempotencyStatus, responseBody []byte, responseStatus int) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	record := r.keys[key]
	if record == nil {
		return domain.ErrIdempotencyKeyNotFound
	}
	record.Status = status
	record.ResponseBody = slices.Clone(responseBody)
	record.ResponseStatus = responseStatus
	record.UpdatedAt = r.now()
	return nil
}

func normalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", domain.ErrIdempotencyKeyRequired
	}
	return key, nil
}

func snapshot(record *domain.IdempotencyRecord) domain.IdempotencyRecord {
	out := *record
	out.ResponseBody = slices.Clone(record.ResponseBody)
	return out
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
