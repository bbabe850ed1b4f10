package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
	"github.com/vladislavdragonenkov/orders-ms/internal/messaging/bus"
)

// MockService — каталог в памяти. Используется в локальном режиме и в тестах.
type MockService struct {
	mu       sync.Mutex
	products map[int]domain.Product

	// Err, если задан, возвращается из каждого вызова.
	Err   error
	Calls int
}

// NewMockService создаёт каталог с набором товаров.
func NewMockService(products ...domain.Product) *MockService {
	return &MockService{products: domain.ProductIndex(products)}
}

// Put добавляет или заменяет товар.
func (m *MockService) Put(product domain.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[product.ID] = product
}

// ValidateProducts возвращает найденные товары в порядке запроса.
// Отсутствующие идентификаторы пропускаются, решение принимает вызывающая сторона.
func (m *MockService) ValidateProducts(ctx context.Context, ids []int) ([]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}

	result := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		if product, ok := m.products[id]; ok {
			result = append(result, product)
		}
	}
	return result, nil
}

// Register подключает mock как обработчик validate_products.
func (m *MockService) Register(router bus.Router) {
	router.HandleRequest(bus.PatternValidateProducts, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req ValidateProductsRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, domain.NewBadRequestError(domain.ErrorKindValidation, fmt.Sprintf("invalid payload: %v", err), err)
		}
		return m.ValidateProducts(ctx, req.IDs)
	})
}

// DefaultProducts — демонстрационный набор для локального режима.
func DefaultProducts() []domain.Product {
	return []domain.Product{
		{ID: 1, Name: "Widget", Price: decimal.RequireFromString("10")},
		{ID: 2, Name: "Gadget", Price: decimal.RequireFromString("24.99")},
		{ID: 3, Name: "Keyboard", Price: decimal.RequireFromString("79.5")},
		{ID: 4, Name: "Mouse", Price: decimal.RequireFromString("15.25")},
	}
}

var _ domain.CatalogService = (*MockService)(nil)
