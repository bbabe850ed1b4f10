package domain

import (
	"context"
	"time"
)

// Внешние сервисы, до которых заказы доходят через шину.
type (
	CatalogService interface {
		// ValidateProducts возвращает найденные товары одним запросом.
		// Id, которого нет в ответе, в каталоге не существует; что с этим делать, решает вызывающий.
		ValidateProducts(ctx context.Context, ids []int) ([]Product, error)
	}

	PaymentService interface {
		// CreatePaymentSession возвращает сессию в том виде, в каком её отдал платёжный сервис.
		CreatePaymentSession(ctx context.Context, req PaymentSessionRequest) (PaymentSession, error)
	}
)

// OrderRepository — хранилище заказов, позиций и квитанций.
type OrderRepository interface {
	// Create пишет заказ и позиции в одной транзакции.
	Create(ctx context.Context, order Order) (Order, error)
	// Get отдаёт заказ с позициями либо ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	Count(ctx context.Context, filter OrderFilter) (int, error)
	// List отдаёт страницу без позиций: createdAt DESC, затем id DESC.
	List(ctx context.Context, filter OrderFilter, offset, limit int) ([]Order, error)
	// UpdateStatus отдаёт обновлённый заказ без позиций.
	UpdateStatus(ctx context.Context, id string, status OrderStatus) (Order, error)
	// MarkPaid ставит PAID и сохраняет квитанцию атомарно.
	MarkPaid(ctx context.Context, id string, confirmation PaymentConfirmation) (Order, error)
	ListReceipts(ctx context.Context, orderID string) ([]Receipt, error)
}

// OutboxRepository — очередь событий, ожидающих публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	// PullPending не меняет статус выданных событий.
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// OutboxPublisher доставляет событие брокеру. Повторная доставка допустима.
type OutboxPublisher interface {
	Publish(event OutboxMessage) error
}

// TimelineRepository хранит историю событий заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	// List отдаёт историю по возрастанию времени.
	List(orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository фиксирует, какие запросы уже обработаны и с каким ответом.
type IdempotencyRepository interface {
	// CreateProcessing занимает ключ; живой ключ даёт ErrIdempotencyKeyAlreadyExists
	// или ErrIdempotencyHashMismatch вместе с текущей записью.
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, responseStatus int) error
	MarkFailed(key string, responseBody []byte, responseStatus int) error
	// DeleteExpired удаляет до limit просроченных ключей и возвращает их число.
	DeleteExpired(before time.Time, limit int) (int, error)
}
