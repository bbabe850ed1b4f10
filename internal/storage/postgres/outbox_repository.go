package postgres

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
)

const defaultOutboxPullLimit = 100

// Статусы строки outbox, см. CHECK в миграции 0002.
const (
	outboxPending = "pending"
	outboxSent    = "sent"
	outboxFailed  = "failed"
)

const (
	insertOutbox = `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`
	selectPendingOutbox = `
		SELECT id, aggregate_type, aggregate_id, event_type, payload
		FROM outbox WHERE status = $1 ORDER BY seq LIMIT $2`
	selectOutboxBacklog = `SELECT COUNT(*), MIN(created_at) FROM outbox WHERE status = $1`
	updateOutboxStatus  = `
		UPDATE outbox SET status = $2, attempt_count = attempt_count + 1, updated_at = $3
		WHERE id = $1`
)

type outboxRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewOutboxRepository хранит события для публикации в таблице outbox.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{
		db:  store.DB(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *outboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	payload := string(msg.Payload)
	if payload == "" {
		payload = "{}"
	}

	ctx, cancel := detachedContext()
	defer cancel()
	_, err := r.db.ExecContext(ctx, insertOutbox,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, payload, outboxPending, r.now())
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue %s for %s: %w", msg.EventType, msg.AggregateID, err)
	}
	return msg, nil
}

// PullPending отдаёт pending-события в порядке вставки, не меняя их статус.
func (r *outboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxPullLimit
	}

	ctx, cancel := detachedContext()
	defer cancel()
	rows, err := r.db.QueryContext(ctx, selectPendingOutbox, outboxPending, limit)
	if err != nil {
		return nil, fmt.Errorf("pull pending outbox messages: %w", err)
	}
	defer rows.Close()

	var batch []domain.OutboxMessage
	for rows.Next() {
		var msg domain.OutboxMessage
		var payload string
		if err := rows.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &payload); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		msg.Payload = []byte(payload)
		batch = append(batch, msg)
	}
	return batch, rows.Err()
}

func (r *outboxRepository) Stats() (domain.OutboxStats, error) {
	ctx, cancel := detachedContext()
	defer cancel()

	var stats domain.OutboxStats
	var oldest sql.NullTime
	if err := r.db.QueryRowContext(ctx, selectOutboxBacklog, outboxPending).Scan(&stats.PendingCount, &oldest); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox backlog: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(id string) error {
	return r.setStatus(id, outboxSent)
}

func (r *outboxRepository) MarkFailed(id string) error {
	return r.setStatus(id, outboxFailed)
}

// setStatus возвращает ErrOutboxPublish, если строки с таким id нет.
func (r *outboxRepository) setStatus(id, status string) error {
	ctx, cancel := detachedContext()
	defer cancel()

	res, err := r.db.ExecContext(ctx, updateOutboxStatus, id, status, r.now())
	switch {
	case isInvalidTextRepresentation(err):
		return domain.ErrOutboxPublish
	case err != nil:
		return fmt.Errorf("mark outbox %s as %s: %w", id, status, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("mark outbox %s as %s: %w", id, status, err)
	} else if n == 0 {
		return domain.ErrOutboxPublish
	}
	return nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
