package postgres

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
)

const (
	insertTimelineEvent = `INSERT INTO order_timeline (order_id, event_type, reason, occurred_at) VALUES ($1, $2, $3, $4)`
	// id разрешает равенство occurred_at в порядке вставки.
	selectTimelineEvents = `SELECT event_type, reason, occurred_at FROM order_timeline WHERE order_id = $1 ORDER BY occurred_at, id`
)

type timelineRepository struct {
	db *sql.DB
}

// NewTimelineRepository хранит историю заказа в order_timeline.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepository{db: store.DB()}
}

func (r *timelineRepository) Append(event domain.TimelineEvent) error {
	if event.OrderID == "" {
		return domain.ErrOrderIDRequired
	}
	occurred := event.Occurred
	if occurred.IsZero() {
		occurred = time.Now()
	}

	ctx, cancel := detachedContext()
	defer cancel()
	if _, err := r.db.ExecContext(ctx, insertTimelineEvent, event.OrderID, event.Type, event.Reason, occurred.UTC()); err != nil {
		return fmt.Errorf("append %s for order %s: %w", event.Type, event.OrderID, err)
	}
	return nil
}

func (r *timelineRepository) List(orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := detachedContext()
	defer cancel()

	rows, err := r.db.QueryContext(ctx, selectTimelineEvents, orderID)
	if err != nil {
		return nil, fmt.Errorf("list timeline of order %s: %w", orderID, err)
	}
	defer rows.Close()

	history := []domain.TimelineEvent{}
	for rows.Next() {
		event := domain.TimelineEvent{OrderID: orderID}
		if err := rows.Scan(&event.Type, &event.Reason, &event.Occurred); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		event.Occurred = event.Occurred.UTC()
		history = append(history, event)
	}
	return history, rows.Err()
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
