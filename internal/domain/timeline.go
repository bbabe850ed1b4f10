package domain

import "time"

// AggregateTypeOrder — aggregate_type событий заказа в outbox.
const AggregateTypeOrder = "order"

// События заказа. Они же event_type в outbox и orders.events.
const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderPaid          = "order.paid"
)

// TimelineEvent — запись в истории заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}

// OutboxMessage — событие, ожидающее публикации. Payload хранится как JSON.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats — размер backlog и время самого старого pending-события.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
