// Package payment — клиент платёжного сервиса поверх шины сообщений.
package payment

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
	"github.com/vladislavdragonenkov/orders-ms/internal/messaging/bus"
)

// Client реализует domain.PaymentService.
type Client struct {
	requester bus.Requester
}

// NewClient создаёт платёжный клиент.
func NewClient(requester bus.Requester) *Client {
	return &Client{requester: requester}
}

// CreatePaymentSession отправляет create.payment.session и возвращает сессию как есть.
func (c *Client) CreatePaymentSession(ctx context.Context, req domain.PaymentSessionRequest) (domain.PaymentSession, error) {
	var session domain.PaymentSession
	if err := c.requester.Request(ctx, bus.PatternCreatePaymentSession, req, &session); err != nil {
		return nil, fmt.Errorf("create payment session: %w", err)
	}
	return session, nil
}

var _ domain.PaymentService = (*Client)(nil)
