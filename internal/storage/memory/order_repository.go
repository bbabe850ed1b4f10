// Package memory хранит заказы и служебные данные в памяти процесса.
// Используется при STORAGE_DRIVER=memory и в тестах.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
)

type orderRepository struct {
	mu       sync.RWMutex
	orders   map[string]*domain.Order
	receipts map[string][]domain.Receipt
	now      func() time.Time
}

// NewOrderRepository создаёт пустое хранилище заказов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepository{
		orders:   make(map[string]*domain.Order),
		receipts: make(map[string][]domain.Receipt),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.orders[order.ID]; taken {
		return domain.Order{}, domain.ErrOrderAlreadyExists
	}

	if order.CreatedAt.IsZero() {
		order.CreatedAt = r.now()
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}
	order.Items = slices.Clone(order.Items)
	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = order.CreatedAt
		}
	}

	stored := copyOrder(order, true)
	r.orders[order.ID] = &stored
	return copyOrder(order, true), nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	order := r.orders[id]
	if order == nil {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return copyOrder(*order, true), nil
}

func (r *orderRepository) Count(ctx context.Context, filter domain.OrderFilter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.filtered(filter)), nil
}

func (r *orderRepository) List(ctx context.Context, filter domain.OrderFilter, offset, limit int) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	page := r.filtered(filter)
	slices.SortFunc(page, func(a, b *domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	page = page[min(max(offset, 0), len(page)):]
	if limit > 0 {
		page = page[:min(limit, len(page))]
	}

	out := make([]domain.Order, 0, len(page))
	for _, order := range page {
		out = append(out, copyOrder(*order, false))
	}
	return out, nil
}

func (r *orderRepository) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) (domain.Order, error) {
	return r.modify(ctx, id, func(order *domain.Order, now time.Time) {
		order.Status = status
	})
}

// MarkPaid меняет заказ и добавляет квитанцию под одной блокировкой.
func (r *orderRepository) MarkPaid(ctx context.Context, id string, confirmation domain.PaymentConfirmation) (domain.Order, error) {
	return r.modify(ctx, id, func(order *domain.Order, now time.Time) {
		paidAt := confirmation.PaidAt
		if paidAt.IsZero() {
			paidAt = now
		}
		order.Status = domain.OrderStatusPaid
		order.Paid = true
		order.PaidAt = &paidAt
		order.StripeChargeID = confirmation.ChargeID

		r.receipts[id] = append(r.receipts[id], domain.Receipt{
			ID:         uuid.NewString(),
			OrderID:    id,
			ReceiptURL: confirmation.ReceiptURL,
			CreatedAt:  now,
		})
	})
}

func (r *orderRepository) ListReceipts(ctx context.Context, orderID string) ([]domain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Receipt{}, r.receipts[orderID]...), nil
}

// modify применяет change к сохранённому заказу и возвращает его без позиций.
func (r *orderRepository) modify(ctx context.Context, id string, change func(order *domain.Order, now time.Time)) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	order := r.orders[id]
	if order == nil {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	now := r.now()
	change(order, now)
	order.UpdatedAt = now
	return copyOrder(*order, false), nil
}

func (r *orderRepository) filtered(filter domain.OrderFilter) []*domain.Order {
	var out []*domain.Order
	for _, order := range r.orders {
		if filter.Status == nil || order.Status == *filter.Status {
			out = append(out, order)
		}
	}
	return out
}

// copyOrder не делит с хранилищем ни позиции, ни paidAt.
func copyOrder(src domain.Order, withItems bool) domain.Order {
	dst := src
	dst.Items = nil
	if withItems {
		dst.Items = slices.Clone(src.Items)
	}
	if src.PaidAt != nil {
		paidAt := *src.PaidAt
		dst.PaidAt = &paidAt
	}
	return dst
}

var _ domain.OrderRepository = (*orderRepository)(nil)
