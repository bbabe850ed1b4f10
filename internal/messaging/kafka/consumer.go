package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 100 * time.Millisecond
)

// MessageHandler обрабатывает одно сообщение. Ошибка запускает повтор или DLQ.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

type consumerConfig struct {
	logger        *log.Entry
	deadLetters   *Producer
	maxRetries    int
	retryDelay    time.Duration
	initialOffset int64
}

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*consumerConfig)

// WithConsumerLogger задаёт логгер consumer'а.
func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(cfg *consumerConfig) { cfg.logger = logger }
}

// WithDLQ: без него сообщение, исчерпавшее попытки, остаётся незакоммиченным.
func WithDLQ(producer *Producer) ConsumerOption {
	return func(cfg *consumerConfig) { cfg.deadLetters = producer }
}

// WithRetries задаёт бюджет повторов и первую паузу; дальше пауза удваивается.
func WithRetries(maxRetries int, delay time.Duration) ConsumerOption {
	return func(cfg *consumerConfig) {
		cfg.maxRetries = maxRetries
		cfg.retryDelay = delay
	}
}

// WithInitialOffset — sarama.OffsetNewest или sarama.OffsetOldest для группы без коммитов.
func WithInitialOffset(offset int64) ConsumerOption {
	return func(cfg *consumerConfig) { cfg.initialOffset = offset }
}

func newConsumerConfig(options []ConsumerOption) consumerConfig {
	cfg := consumerConfig{
		maxRetries:    defaultMaxRetries,
		retryDelay:    defaultRetryDelay,
		initialOffset: sarama.OffsetNewest,
	}
	for _, option := range options {
		option(&cfg)
	}
	cfg.maxRetries = max(cfg.maxRetries, 0)
	cfg.retryDelay = max(cfg.retryDelay, 0)
	if cfg.logger == nil {
		cfg.logger = log.WithField("component", "kafka-consumer")
	}
	return cfg
}

// Consumer читает topics в составе consumer group. Сообщение коммитится,
// только когда обработано или передано в DLQ.
type Consumer struct {
	consumerConfig
	group   sarama.ConsumerGroup
	topics  []string
	handler MessageHandler
	wg      sync.WaitGroup
}

// NewConsumer подключается к брокерам как участник группы groupID и передаёт
// сообщения из topics в handler. Чтение начинается после Start.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, options ...ConsumerOption) (*Consumer, error) {
	cfg := newConsumerConfig(options)

	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaCfg.Consumer.Offsets.Initial = cfg.initialOffset
	saramaCfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	return &Consumer{consumerConfig: cfg, group: group, topics: topics, handler: handler}, nil
}

// NewConsumerWithGroup работает поверх готовой группы, в тестах поддельной.
func NewConsumerWithGroup(group sarama.ConsumerGroup, topics []string, handler MessageHandler, options ...ConsumerOption) *Consumer {
	return &Consumer{consumerConfig: newConsumerConfig(options), group: group, topics: topics, handler: handler}
}

// Start не блокирует; чтение идёт до отмены ctx или Stop.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.consumeLoop(ctx)
	}()
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Error("consumer group error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// consumeLoop перезапускает Consume после каждого rebalance.
func (c *Consumer) consumeLoop(ctx context.Context) {
	for {
		err := c.group.Consume(ctx, c.topics, c)
		switch {
		case errors.Is(err, sarama.ErrClosedConsumerGroup):
			return
		case err != nil:
			c.logger.WithError(err).Error("consume session ended with error")
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Stop закрывает группу и дожидается завершения фоновых горутин.
func (c *Consumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			c.consume(session, message)
		}
	}
}

// consume не коммитит сообщение, которое не удалось ни обработать, ни отправить в DLQ:
// группа вернёт его после перезапуска.
func (c *Consumer) consume(session sarama.ConsumerGroupSession, message *sarama.ConsumerMessage) {
	entry := c.logger.WithFields(log.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
	})
	entry.Debug("received message")

	if err := c.handleMessageWithRetry(session.Context(), message); err != nil {
		entry.WithError(err).Error("message left uncommitted")
		return
	}
	session.MarkMessage(message, "")
}

// handleMessageWithRetry учитывает попытки из заголовка x-retry-count:
// сообщение, возвращённое из DLQ, не получает бюджет заново.
func (c *Consumer) handleMessageWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	spent := c.getRetryCount(message)

	err := c.handler(ctx, message)
	for attempt := 0; err != nil && !isPermanent(err) && spent+attempt < c.maxRetries; attempt++ {
		c.logger.WithError(err).WithFields(log.Fields{
			"topic":       message.Topic,
			"retry_count": spent + attempt,
			"max_retries": c.maxRetries,
		}).Warn("message processing failed, will retry")

		if waitErr := c.waitBackoff(ctx, attempt); waitErr != nil {
			return waitErr
		}
		err = c.handler(ctx, message)
	}
	if err == nil {
		return nil
	}

	if c.deadLetters == nil {
		return err
	}
	if dlqErr := c.sendToDLQ(message, err); dlqErr != nil {
		return fmt.Errorf("failed to send to DLQ: %w", dlqErr)
	}
	c.logger.WithError(err).WithField("topic", message.Topic).Info("message sent to DLQ")
	return nil
}

func (c *Consumer) waitBackoff(ctx context.Context, attempt int) error {
	if c.retryDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(c.retryDelay << attempt)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// isPermanent: ответы 4xx не исправятся повтором, кроме сбоев хранилища.
func isPermanent(err error) bool {
	var rpcErr *domain.RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Kind == domain.ErrorKindPersistence {
		return false
	}
	return rpcErr.Status >= 400 && rpcErr.Status < 500
}

func (c *Consumer) getRetryCount(message *sarama.ConsumerMessage) int {
	count, err := strconv.Atoi(headerValue(message.Headers, HeaderRetryCount))
	if err != nil {
		return 0
	}
	return count
}

// sendToDLQ сохраняет исходное сообщение целиком вместе с причиной отказа.
func (c *Consumer) sendToDLQ(message *sarama.ConsumerMessage, processingErr error) error {
	return c.deadLetters.PublishDeadLetter(string(message.Key), DLQMessage{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		OriginalHeaders:   headerMap(message.Headers),
		ErrorMessage:      processingErr.Error(),
		RetryCount:        c.getRetryCount(message),
	})
}
