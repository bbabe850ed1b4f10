package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
)

var errPublisherNotReady = errors.New("kafka outbox publisher is not initialized")

// OutboxTopicPublisher доставляет события outbox в один topic.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher: пустой topic означает TopicOrderEvents.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic}
}

// orderEvent — тело сообщения в orders.events.
type orderEvent struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

func toOrderEvent(msg domain.OutboxMessage) orderEvent {
	return orderEvent{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishedAt:   time.Now().UTC(),
	}
}

// partitionKey держит события одного заказа в одной партиции.
func partitionKey(msg domain.OutboxMessage) string {
	if msg.AggregateID == "" {
		return msg.ID
	}
	return msg.AggregateID
}

func (p *OutboxTopicPublisher) Publish(msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errPublisherNotReady
	}
	return p.producer.PublishEvent(p.topic, partitionKey(msg), toOrderEvent(msg))
}

// PublishDeadLetter пишет событие в DLQ в том же формате, что и consumer,
// так что dlq-reprocess возвращает его в исходный topic.
func (p *OutboxTopicPublisher) PublishDeadLetter(msg domain.OutboxMessage, cause error, attempts int) error {
	if p == nil || p.producer == nil {
		return errPublisherNotReady
	}
	value, err := json.Marshal(toOrderEvent(msg))
	if err != nil {
		return fmt.Errorf("failed to marshal order event: %w", err)
	}

	reason := "unknown error"
	if cause != nil {
		reason = cause.Error()
	}
	key := partitionKey(msg)
	return p.producer.PublishDeadLetter(key, DLQMessage{
		OriginalTopic: p.topic,
		OriginalKey:   key,
		OriginalValue: string(value),
		ErrorMessage:  reason,
		RetryCount:    attempts,
	})
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
