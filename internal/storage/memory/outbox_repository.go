package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
)

const defaultOutboxPullLimit = 100

type outboxEntry struct {
	msg      domain.OutboxMessage
	status   string
	attempts int
	queuedAt time.Time
}

// OutboxRepository хранит outbox в памяти. Записи лежат в порядке вставки.
type OutboxRepository struct {
	mu      sync.RWMutex
	entries []*outboxEntry
	byID    map[string]*outboxEntry
}

// NewOutboxRepository создаёт пустой outbox.
func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{byID: make(map[string]*outboxEntry)}
}

func (r *OutboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	entry := &outboxEntry{msg: msg, status: "pending", queuedAt: time.Now().UTC()}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	r.byID[msg.ID] = entry
	return msg, nil
}

// PullPending отдаёт до limit старейших pending-событий, не меняя их статус.
func (r *OutboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxPullLimit
	}
	return r.collectPending(limit), nil
}

func (r *OutboxRepository) Stats() (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, entry := range r.entries {
		if entry.status != "pending" {
			continue
		}
		if stats.PendingCount == 0 {
			stats.OldestPendingAt = entry.queuedAt
		}
		stats.PendingCount++
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(id string) error {
	return r.setStatus(id, "sent")
}

func (r *OutboxRepository) MarkFailed(id string) error {
	return r.setStatus(id, "failed")
}

// AllPending — все pending-события, для тестов.
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	return r.collectPending(0)
}

func (r *OutboxRepository) setStatus(id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byID[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	entry.status = status
	entry.attempts++
	return nil
}

// collectPending: limit <= 0 снимает ограничение.
func (r *OutboxRepository) collectPending(limit int) []domain.OutboxMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []domain.OutboxMessage{}
	for _, entry := range r.entries {
		if limit > 0 && len(out) == limit {
			break
		}
		if entry.status == "pending" {
			out = append(out, entry.msg)
		}
	}
	return out
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
