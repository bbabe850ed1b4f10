// Package catalog — клиент сервиса каталога товаров поверх шины сообщений.
package catalog

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
	"github.com/vladislavdragonenkov/orders-ms/internal/messaging/bus"
)

// ValidateProductsRequest — запрос validate_products.
type ValidateProductsRequest struct {
	IDs []int `json:"ids"`
}

// Client реализует domain.CatalogService одним пакетным запросом.
type Client struct {
	requester bus.Requester
}

// NewClient создаёт клиент каталога.
func NewClient(requester bus.Requester) *Client {
	return &Client{requester: requester}
}

// ValidateProducts запрашивает товары по идентификаторам.
func (c *Client) ValidateProducts(ctx context.Context, ids []int) ([]domain.Product, error) {
	var products []domain.Product
	if err := c.requester.Request(ctx, bus.PatternValidateProducts, ValidateProductsRequest{IDs: ids}, &products); err != nil {
		return nil, fmt.Errorf("validate products: %w", err)
	}
	return products, nil
}

var _ domain.CatalogService = (*Client)(nil)
