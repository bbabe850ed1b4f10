package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
	"github.com/vladislavdragonenkov/orders-ms/internal/messaging/bus"
)

const defaultRPCTimeout = 5 * time.Second

// RPCClient реализует bus.Requester поверх Kafka: запрос уходит в топик паттерна,
// ответ приходит в replyTopic и сопоставляется по x-correlation-id.
type RPCClient struct {
	producer   *Producer
	replyTopic string
	timeout    time.Duration
	logger     *log.Entry

	mu      sync.Mutex
	pending map[string]chan []byte
}

// NewRPCClient создаёт клиент. Ответы нужно подавать в HandleReply
// (обычно через Consumer, подписанный на replyTopic).
func NewRPCClient(producer *Producer, replyTopic string, timeout time.Duration, logger *log.Entry) *RPCClient {
	if replyTopic == "" {
		replyTopic = TopicReplies
	}
	if timeout <= 0 {
		timeout = defaultRPCTimeout
	}
	if logger == nil {
		logger = log.WithField("component", "kafka-rpc-client")
	}
	return &RPCClient{
		producer:   producer,
		replyTopic: replyTopic,
		timeout:    timeout,
		logger:     logger,
		pending:    make(map[string]chan []byte),
	}
}

// ReplyTopic возвращает топик, в который сервисы присылают ответы.
func (c *RPCClient) ReplyTopic() string {
	return c.replyTopic
}

// Request публикует запрос и ждёт ответ не дольше timeout.
func (c *RPCClient) Request(ctx context.Context, pattern string, payload any, reply any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request %s: %w", pattern, err)
	}

	correlationID := uuid.NewString()
	ch := make(chan []byte, 1)
	c.mu.Lock()
	c.pending[correlationID] = ch
	c.mu.Unlock()
	defer c.forget(correlationID)

	err = c.producer.PublishRaw(pattern, correlationID, body, map[string]string{
		HeaderCorrelationID: correlationID,
		HeaderReplyTo:       c.replyTopic,
	})
	if err != nil {
		return fmt.Errorf("publish request %s: %w", pattern, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case raw := <-ch:
		return bus.DecodeReply(raw, reply)
	case <-timer.C:
		c.logger.WithFields(log.Fields{
			"pattern":        pattern,
			"correlation_id": correlationID,
		}).Warn("request timed out")
		return fmt.Errorf("%s: %w", pattern, domain.ErrRemoteTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Emit публикует событие без ожидания ответа.
func (c *RPCClient) Emit(_ context.Context, pattern string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", pattern, err)
	}
	return c.producer.PublishRaw(pattern, "", body, nil)
}

// HandleReply доставляет ответ ожидающему запросу. Ответы без ожидающего
// запроса (опоздавшие после таймаута) пропускаются.
func (c *RPCClient) HandleReply(_ context.Context, message *sarama.ConsumerMessage) error {
	correlationID := headerValue(message.Headers, HeaderCorrelationID)

	c.mu.Lock()
	ch, ok := c.pending[correlationID]
	if ok {
		delete(c.pending, correlationID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.WithField("correlation_id", correlationID).Debug("dropping reply without pending request")
		return nil
	}
	ch <- message.Value
	return nil
}

func (c *RPCClient) forget(correlationID string) {
	c.mu.Lock()
	delete(c.pending, correlationID)
	c.mu.Unlock()
}

// RPCServer реализует bus.Router: сообщения из топиков паттернов передаются
// обработчикам, ответы на запросы публикуются в x-reply-to.
type RPCServer struct {
	producer *Producer
	logger   *log.Entry

	mu       sync.RWMutex
	requests map[string]bus.Handler
	events   map[string]bus.EventHandler
}

// NewRPCServer создаёт сервер.
func NewRPCServer(producer *Producer, logger *log.Entry) *RPCServer {
	if logger == nil {
		logger = log.WithField("component", "kafka-rpc-server")
	}
	return &RPCServer{
		producer: producer,
		logger:   logger,
		requests: make(map[string]bus.Handler),
		events:   make(map[string]bus.EventHandler),
	}
}

// HandleRequest регистрирует обработчик запроса.
func (s *RPCServer) HandleRequest(pattern string, handler bus.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[pattern] = handler
}

// HandleEvent регистрирует обработчик события.
func (s *RPCServer) HandleEvent(pattern string, handler bus.EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[pattern] = handler
}

// Topics возвращает все зарегистрированные паттерны.
func (s *RPCServer) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	topics := make([]string, 0, len(s.requests)+len(s.events))
	for pattern := range s.requests {
		topics = append(topics, pattern)
	}
	for pattern := range s.events {
		topics = append(topics, pattern)
	}
	sort.Strings(topics)
	return topics
}

// HandleMessage — MessageHandler для Consumer.
// Ошибка события возвращается consumer'у (повторы, DLQ). Запрос обрабатывается
// ровно один раз: ошибка обработчика уходит в ответе, сбой отправки ответа только логируется.
func (s *RPCServer) HandleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	s.mu.RLock()
	eventHandler, isEvent := s.events[message.Topic]
	requestHandler, isRequest := s.requests[message.Topic]
	s.mu.RUnlock()

	switch {
	case isEvent:
		return eventHandler(ctx, message.Value)
	case isRequest:
		return s.reply(ctx, message, requestHandler)
	default:
		s.logger.WithField("topic", message.Topic).Warn("no handler for topic")
		return nil
	}
}

func (s *RPCServer) reply(ctx context.Context, message *sarama.ConsumerMessage, handler bus.Handler) error {
	result, handlerErr := handler(ctx, message.Value)

	replyTo := headerValue(message.Headers, HeaderReplyTo)
	correlationID := headerValue(message.Headers, HeaderCorrelationID)
	logger := s.logger.WithFields(log.Fields{
		"pattern":        message.Topic,
		"correlation_id": correlationID,
	})
	if handlerErr != nil {
		logger.WithError(handlerErr).Debug("request handled with error")
	}
	if replyTo == "" {
		logger.Warn("request without reply topic, response dropped")
		return nil
	}

	raw, err := bus.EncodeReply(result, handlerErr)
	if err == nil {
		err = s.producer.PublishRaw(replyTo, correlationID, raw, map[string]string{
			HeaderCorrelationID: correlationID,
		})
	}
	if err != nil {
		logger.WithError(err).Error("reply not delivered, caller will time out")
	}
	return nil
}

var (
	_ bus.Requester = (*RPCClient)(nil)
	_ bus.Router    = (*RPCServer)(nil)
)
