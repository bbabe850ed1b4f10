package kafka

import (
	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/orders-ms/internal/messaging/bus"
)

// Topics для Kafka. Запросы и события идут в топик с именем паттерна.
const (
	TopicOrderEvents     = "orders.events"
	TopicReplies         = "orders.replies"
	TopicDeadLetterQueue = "orders.dlq"
)

// Заголовки сообщений.
const (
	HeaderCorrelationID = "x-correlation-id"
	HeaderReplyTo       = "x-reply-to"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// ServiceTopics — топики, которые слушает сервис заказов.
func ServiceTopics() []string {
	return []string{
		bus.PatternCreateOrder,
		bus.PatternFindAllOrders,
		bus.PatternFindOneOrder,
		bus.PatternChangeOrderStatus,
		bus.PatternPaymentSucceeded,
	}
}

// DLQMessage — формат сообщения в Dead Letter Queue.
type DLQMessage struct {
	OriginalTopic     string            `json:"original_topic"`
	OriginalPartition int32             `json:"original_partition"`
	OriginalOffset    int64             `json:"original_offset"`
	OriginalKey       string            `json:"original_key"`
	OriginalValue     string            `json:"original_value"`
	OriginalHeaders   map[string]string `json:"original_headers,omitempty"`
	ErrorMessage      string            `json:"error_message"`
	FailedAt          string            `json:"failed_at"`
	RetryCount        int               `json:"retry_count"`
}

// headerValue возвращает значение заголовка или пустую строку.
func headerValue(headers []*sarama.RecordHeader, key string) string {
	for _, header := range headers {
		if header != nil && string(header.Key) == key {
			return string(header.Value)
		}
	}
	return ""
}

func headerMap(headers []*sarama.RecordHeader) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	result := make(map[string]string, len(headers))
	for _, header := range headers {
		if header != nil {
			result[string(header.Key)] = string(header.Value)
		}
	}
	return result
}
