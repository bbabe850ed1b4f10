package orders

import (
	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
)

const (
	// DefaultPage — страница по умолчанию для findAll.
	DefaultPage = 1
	// DefaultLimit — размер страницы по умолчанию для findAll.
	DefaultLimit = 10
)

// CreateOrderCommand — входные данные create.
type CreateOrderCommand struct {
	Items []domain.ItemInput `json:"items"`
}

// Validate проверяет команду и возвращает список замечаний.
func (c CreateOrderCommand) Validate() []error {
	var errs []error

	if len(c.Items) == 0 {
		errs = append(errs, domain.ErrItemsRequired)
	}
	for _, item := range c.Items {
		if item.ProductID <= 0 {
			errs = append(errs, domain.ErrProductIDInvalid)
		}
		if item.Quantity <= 0 {
			errs = append(errs, domain.ErrItemQtyInvalid)
		}
	}

	return errs
}

// ProductIDs возвращает уникальные id товаров в порядке первого появления.
func (c CreateOrderCommand) ProductIDs() []int {
	seen := make(map[int]struct{}, len(c.Items))
	ids := make([]int, 0, len(c.Items))
	for _, item := range c.Items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}

// PaginationQuery — входные данные findAll.
type PaginationQuery struct {
	Status *domain.OrderStatus `json:"status,omitempty"`
	Page   int                 `json:"page"`
	Limit  int                 `json:"limit"`
}

// Normalize подставляет значения по умолчанию для незаданных page/limit.
func (q PaginationQuery) Normalize() PaginationQuery {
	if q.Page == 0 {
		q.Page = DefaultPage
	}
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	return q
}

// Validate проверяет параметры страницы и фильтр.
func (q PaginationQuery) Validate() []error {
	var errs []error

	if q.Page < 1 {
		errs = append(errs, domain.ErrPageInvalid)
	}
	if q.Limit < 1 {
		errs = append(errs, domain.ErrLimitInvalid)
	}
	if q.Status != nil && !q.Status.Valid() {
		errs = append(errs, domain.ErrStatusInvalid)
	}

	return errs
}

// Offset возвращает смещение первой записи страницы.
func (q PaginationQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}

// ChangeStatusCommand переводит заказ ID в статус Status.
type ChangeStatusCommand struct {
	ID     string             `json:"id"`
	Status domain.OrderStatus `json:"status"`
}

// Validate проверяет идентификатор и целевой статус.
func (c ChangeStatusCommand) Validate() []error {
	var errs []error

	if err := ValidateOrderID(c.ID); err != nil {
		errs = append(errs, err)
	}
	if !c.Status.Valid() {
		errs = append(errs, domain.ErrStatusInvalid)
	}

	return errs
}

// ValidateOrderID проверяет, что id заказа — uuid.
func ValidateOrderID(id string) error {
	if id == "" {
		return domain.ErrOrderIDRequired
	}
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrOrderIDInvalid
	}
	return nil
}

// LastPage считает номер последней страницы: ceil(total/limit).
func LastPage(total, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
