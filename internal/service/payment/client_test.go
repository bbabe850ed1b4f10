package payment

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
	"github.com/vladislavdragonenkov/orders-ms/internal/messaging/bus"
)

func TestClientCreatesSessionThroughLocalBus(t *testing.T) {
	local := bus.NewLocal(nil)
	mock := NewMockService()
	mock.Register(local)

	req := domain.PaymentSessionRequest{
		OrderID:  "5b1d2f8e-8d0c-4c55-9a57-1f6f3f7d2c11",
		Currency: domain.DefaultCurrency,
		Items: []domain.PaymentSessionItem{
			{Name: "Widget", Price: decimal.NewFromInt(10), Quantity: 2},
		},
	}

	raw, err := NewClient(local).CreatePaymentSession(context.Background(), req)
	require.NoError(t, err)

	var session MockSession
	require.NoError(t, json.Unmarshal(raw, &session))
	assert.Equal(t, req.OrderID, session.OrderID)
	assert.Contains(t, session.URL, session.ID)

	require.Equal(t, 1, mock.Calls())
	got := mock.Requests[0]
	assert.Equal(t, "usd", got.Currency)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "Widget", got.Items[0].Name)
	assert.True(t, got.Items[0].Price.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 2, got.Items[0].Quantity)
}

func TestClientPropagatesError(t *testing.T) {
	local := bus.NewLocal(nil)
	mock := NewMockService()
	mock.Err = errors.New("stripe unavailable")
	mock.Register(local)

	_, err := NewClient(local).CreatePaymentSession(context.Background(), domain.PaymentSessionRequest{OrderID: "x"})
	var rpcErr *domain.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, domain.StatusBadRequest, rpcErr.Status)
	assert.Equal(t, "stripe unavailable", rpcErr.Message)
}

func TestMockServiceCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMockService().CreatePaymentSession(ctx, domain.PaymentSessionRequest{})
	require.ErrorIs(t, err, context.Canceled)
}
