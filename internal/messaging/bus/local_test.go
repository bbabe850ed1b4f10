package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
)

func TestLocal_RequestRoundTrip(t *testing.T) {
	b := NewLocal(nil)
	b.HandleRequest("sum", func(_ context.Context, payload json.RawMessage) (any, error) {
		var in struct{ A, B int }
		if err := json.Unmarshal(payload, &in); err != nil {
			return nil, err
		}
		return map[string]int{"sum": in.A + in.B}, nil
	})

	var out struct{ Sum int }
	err := b.Request(context.Background(), "sum", map[string]int{"A": 2, "B": 3}, &out)
	require.NoError(t, err)
	assert.Equal(t, 5, out.Sum)
}

func TestLocal_RequestErrorBecomesRPCError(t *testing.T) {
	b := NewLocal(nil)
	b.HandleRequest("find", func(context.Context, json.RawMessage) (any, error) {
		return nil, domain.NewNotFoundError("42")
	})
	b.HandleRequest("boom", func(context.Context, json.RawMessage) (any, error) {
		return nil, errors.New("boom")
	})

	err := b.Request(context.Background(), "find", nil, nil)
	var rpcErr *domain.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, domain.StatusNotFound, rpcErr.Status)
	assert.Equal(t, "Order with id 42 not found", rpcErr.Message)

	err = b.Request(context.Background(), "boom", nil, nil)
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, domain.StatusBadRequest, rpcErr.Status)
	assert.Equal(t, "boom", rpcErr.Message)
}

func TestLocal_MissingHandler(t *testing.T) {
	b := NewLocal(nil)
	assert.ErrorIs(t, b.Request(context.Background(), "nope", nil, nil), ErrNoHandler)
	assert.ErrorIs(t, b.Emit(context.Background(), "nope", nil), ErrNoHandler)
}

func TestLocal_Emit(t *testing.T) {
	b := NewLocal(nil)
	var got string
	b.HandleEvent("evt", func(_ context.Context, payload json.RawMessage) error {
		got = string(payload)
		return nil
	})

	require.NoError(t, b.Emit(context.Background(), "evt", map[string]string{"k": "v"}))
	assert.JSONEq(t, `{"k":"v"}`, got)
}

func TestLocal_CanceledContext(t *testing.T) {
	b := NewLocal(nil)
	called := false
	b.HandleRequest("x", func(context.Context, json.RawMessage) (any, error) {
		called = true
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.Request(ctx, "x", nil, nil), context.Canceled)
	assert.False(t, called)
}

func TestEncodeDecodeReply(t *testing.T) {
	raw, err := EncodeReply([]int{1, 2}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":[1,2]}`, string(raw))

	var out []int
	require.NoError(t, DecodeReply(raw, &out))
	assert.Equal(t, []int{1, 2}, out)

	raw, err = EncodeReply(nil, domain.NewBadRequestError(domain.ErrorKindPersistence, domain.MessageCheckLogs, errors.New("secret")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":{"status":400,"message":"Please check logs"}}`, string(raw))

	assert.Error(t, DecodeReply([]byte("not json"), nil))
}
