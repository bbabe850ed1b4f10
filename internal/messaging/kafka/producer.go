package kafka

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// Producer отправляет сообщения через sarama.SyncProducer.
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
}

// NewProducerConfig — настройки идемпотентного producer: acks=all, один запрос в полёте.
func NewProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// NewProducer создаёт синхронного producer'а с настройками NewProducerConfig.
func NewProducer(brokers []string) (*Producer, error) {
	sync, err := sarama.NewSyncProducer(brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewProducerWithSync(sync, nil), nil
}

// NewProducerWithSync оборачивает готовый SyncProducer, в тестах mocks.SyncProducer.
func NewProducerWithSync(sync sarama.SyncProducer, logger *log.Entry) *Producer {
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	return &Producer{producer: sync, logger: logger}
}

// PublishEvent отправляет event как JSON.
func (p *Producer) PublishEvent(topic, key string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event for %s: %w", topic, err)
	}
	return p.PublishRaw(topic, key, body, nil)
}

// PublishRaw отправляет готовое тело. Пустой key оставляет выбор партиции producer-у.
func (p *Producer) PublishRaw(topic, key string, value []byte, headers map[string]string) error {
	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Value:     sarama.ByteEncoder(value),
		Timestamp: time.Now(),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	for _, name := range slices.Sorted(maps.Keys(headers)) {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(name), Value: []byte(headers[name])})
	}

	entry := p.logger.WithFields(log.Fields{"topic": topic, "key": key})
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		entry.WithError(err).Error("failed to send message to kafka")
		return fmt.Errorf("failed to send message: %w", err)
	}
	entry.WithFields(log.Fields{"partition": partition, "offset": offset}).Debug("message sent to kafka")
	return nil
}

// PublishDeadLetter кладёт dlq в TopicDeadLetterQueue; заголовки дублируют
// исходный topic, причину и число попыток для фильтрации без разбора тела.
func (p *Producer) PublishDeadLetter(key string, dlq DLQMessage) error {
	if dlq.FailedAt == "" {
		dlq.FailedAt = time.Now().UTC().Format(time.RFC3339)
	}
	body, err := json.Marshal(dlq)
	if err != nil {
		return fmt.Errorf("failed to marshal dlq message: %w", err)
	}
	return p.PublishRaw(TopicDeadLetterQueue, key, body, map[string]string{
		HeaderOriginalTopic: dlq.OriginalTopic,
		HeaderErrorMessage:  dlq.ErrorMessage,
		HeaderFailedAt:      dlq.FailedAt,
		HeaderRetryCount:    strconv.Itoa(dlq.RetryCount),
	})
}

// Close закрывает соединения с брокерами.
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}
