package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
	"github.com/vladislavdragonenkov/orders-ms/internal/messaging/bus"
)

func replyMessage(correlationID string, body string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{
		Topic: TopicReplies,
		Value: []byte(body),
		Headers: []*sarama.RecordHeader{
			{Key: []byte(HeaderCorrelationID), Value: []byte(correlationID)},
		},
	}
}

func TestRPCClient_RequestReceivesReply(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	sent := make(chan string, 1)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		headers := headersOf(msg)
		if msg.Topic != bus.PatternValidateProducts {
			return errors.New("unexpected topic " + msg.Topic)
		}
		if headers[HeaderReplyTo] != TopicReplies {
			return errors.New("reply-to header missing")
		}
		sent <- headers[HeaderCorrelationID]
		return nil
	})

	client := NewRPCClient(NewProducerWithSync(mockProducer, nil), "", time.Second, nil)

	go func() {
		correlationID := <-sent
		_ = client.HandleReply(context.Background(), replyMessage(correlationID, `{"data":[{"id":1,"name":"Widget","price":10}]}`))
	}()

	var products []domain.Product
	err := client.Request(context.Background(), bus.PatternValidateProducts, map[string][]int{"ids": {1}}, &products)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Widget", products[0].Name)
	assert.Equal(t, "10", products[0].Price.String())

	require.NoError(t, mockProducer.Close())
}

func TestRPCClient_RequestErrorReply(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	sent := make(chan string, 1)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		sent <- headersOf(msg)[HeaderCorrelationID]
		return nil
	})

	client := NewRPCClient(NewProducerWithSync(mockProducer, nil), TopicReplies, time.Second, nil)
	go func() {
		correlationID := <-sent
		_ = client.HandleReply(context.Background(), replyMessage(correlationID, `{"error":{"status":400,"message":"Some products were not found"}}`))
	}()

	err := client.Request(context.Background(), bus.PatternValidateProducts, map[string][]int{"ids": {99}}, nil)
	var rpcErr *domain.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, domain.StatusBadRequest, rpcErr.Status)
	assert.Equal(t, "Some products were not found", rpcErr.Message)

	require.NoError(t, mockProducer.Close())
}

func TestRPCClient_RequestTimeout(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndSucceed()

	client := NewRPCClient(NewProducerWithSync(mockProducer, nil), TopicReplies, 20*time.Millisecond, nil)
	err := client.Request(context.Background(), bus.PatternCreatePaymentSession, map[string]string{}, nil)
	require.ErrorIs(t, err, domain.ErrRemoteTimeout)

	client.mu.Lock()
	assert.Empty(t, client.pending)
	client.mu.Unlock()

	require.NoError(t, mockProducer.Close())
}

func TestRPCClient_RequestContextCanceled(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndSucceed()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewRPCClient(NewProducerWithSync(mockProducer, nil), TopicReplies, time.Second, nil)
	err := client.Request(ctx, bus.PatternCreatePaymentSession, map[string]string{}, nil)
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, mockProducer.Close())
}

func TestRPCClient_RequestPublishError(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	client := NewRPCClient(NewProducerWithSync(mockProducer, nil), TopicReplies, time.Second, nil)
	err := client.Request(context.Background(), bus.PatternValidateProducts, map[string][]int{"ids": {1}}, nil)
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)

	require.NoError(t, mockProducer.Close())
}

func TestRPCClient_HandleReplyWithoutPending(t *testing.T) {
	client := NewRPCClient(nil, TopicReplies, time.Second, nil)
	require.NoError(t, client.HandleReply(context.Background(), replyMessage("unknown", `{"data":{}}`)))
}

func TestRPCClient_Emit(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != bus.PatternPaymentSucceeded {
			return errors.New("unexpected topic " + msg.Topic)
		}
		if len(msg.Headers) != 0 {
			return errors.New("events carry no reply headers")
		}
		return nil
	})

	client := NewRPCClient(NewProducerWithSync(mockProducer, nil), TopicReplies, time.Second, nil)
	require.NoError(t, client.Emit(context.Background(), bus.PatternPaymentSucceeded, map[string]string{"orderId": "o-1"}))

	require.NoError(t, mockProducer.Close())
}

func TestRPCServer_HandleRequestPublishesReply(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "gateway.replies" {
			return errors.New("unexpected reply topic " + msg.Topic)
		}
		if headersOf(msg)[HeaderCorrelationID] != "corr-7" {
			return errors.New("correlation id not propagated")
		}
		body, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var reply bus.Reply
		if err := json.Unmarshal(body, &reply); err != nil {
			return err
		}
		if reply.Error != nil || string(reply.Data) != `{"id":"o-1"}` {
			return errors.New("unexpected reply body " + string(body))
		}
		return nil
	})

	server := NewRPCServer(NewProducerWithSync(mockProducer, nil), nil)
	server.HandleRequest(bus.PatternFindOneOrder, func(_ context.Context, payload json.RawMessage) (any, error) {
		var req struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		return map[string]string{"id": req.ID}, nil
	})

	err := server.HandleMessage(context.Background(), &sarama.ConsumerMessage{
		Topic: bus.PatternFindOneOrder,
		Value: []byte(`{"id":"o-1"}`),
		Headers: []*sarama.RecordHeader{
			{Key: []byte(HeaderCorrelationID), Value: []byte("corr-7")},
			{Key: []byte(HeaderReplyTo), Value: []byte("gateway.replies")},
		},
	})
	require.NoError(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestRPCServer_HandleRequestErrorReply(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var reply bus.Reply
		if err := json.Unmarshal(val, &reply); err != nil {
			return err
		}
		if reply.Error == nil || reply.Error.Status != domain.StatusNotFound {
			return errors.New("expected 404 reply")
		}
		return nil
	})

	server := NewRPCServer(NewProducerWithSync(mockProducer, nil), nil)
	server.HandleRequest(bus.PatternFindOneOrder, func(context.Context, json.RawMessage) (any, error) {
		return nil, domain.NewNotFoundError("o-404")
	})

	err := server.HandleMessage(context.Background(), &sarama.ConsumerMessage{
		Topic:   bus.PatternFindOneOrder,
		Value:   []byte(`{"id":"o-404"}`),
		Headers: []*sarama.RecordHeader{{Key: []byte(HeaderReplyTo), Value: []byte(TopicReplies)}},
	})
	require.NoError(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestRPCServer_HandleEventReturnsHandlerError(t *testing.T) {
	server := NewRPCServer(nil, nil)
	handlerErr := errors.New("store unavailable")
	server.HandleEvent(bus.PatternPaymentSucceeded, func(context.Context, json.RawMessage) error {
		return handlerErr
	})

	err := server.HandleMessage(context.Background(), &sarama.ConsumerMessage{Topic: bus.PatternPaymentSucceeded, Value: []byte(`{}`)})
	require.ErrorIs(t, err, handlerErr)
}

func TestRPCServer_UnknownTopicAndMissingReplyTo(t *testing.T) {
	server := NewRPCServer(nil, nil)
	server.HandleRequest(bus.PatternFindAllOrders, func(context.Context, json.RawMessage) (any, error) {
		return map[string]int{}, nil
	})
	server.HandleEvent(bus.PatternPaymentSucceeded, func(context.Context, json.RawMessage) error { return nil })

	require.NoError(t, server.HandleMessage(context.Background(), &sarama.ConsumerMessage{Topic: "unknown"}))
	require.NoError(t, server.HandleMessage(context.Background(), &sarama.ConsumerMessage{Topic: bus.PatternFindAllOrders, Value: []byte(`{}`)}))
	assert.Equal(t, []string{bus.PatternFindAllOrders, bus.PatternPaymentSucceeded}, server.Topics())
}

func TestRPCServer_ReplyFailureDoesNotRerunHandler(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	calls := 0
	server := NewRPCServer(NewProducerWithSync(mockProducer, nil), nil)
	server.HandleRequest(bus.PatternCreateOrder, func(context.Context, json.RawMessage) (any, error) {
		calls++
		return map[string]string{"id": "o-1"}, nil
	})
	consumer := testConsumer(server.HandleMessage, WithRetries(3, time.Millisecond))

	err := consumer.handleMessageWithRetry(context.Background(), &sarama.ConsumerMessage{
		Topic:   bus.PatternCreateOrder,
		Value:   []byte(`{"items":[]}`),
		Headers: []*sarama.RecordHeader{{Key: []byte(HeaderReplyTo), Value: []byte(TopicReplies)}},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	require.NoError(t, mockProducer.Close())
}
