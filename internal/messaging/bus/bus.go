// Package bus описывает request/reply и fire-and-forget поверх брокера сообщений.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
)

// Паттерны сообщений, которые обрабатывает сервис заказов.
const (
	PatternCreateOrder       = "createOrder"
	PatternFindAllOrders     = "findAllOrders"
	PatternFindOneOrder      = "findOneOrder"
	PatternChangeOrderStatus = "changeOrderStatus"
	PatternPaymentSucceeded  = "payment.succeeded"
)

// Паттерны внешних сервисов.
const (
	PatternValidateProducts     = "validate_products"
	PatternCreatePaymentSession = "create.payment.session"
)

// ErrNoHandler возвращается, если для паттерна нет обработчика.
var ErrNoHandler = errors.New("no handler registered for pattern")

// Handler обрабатывает запрос; результат сериализуется в JSON и уходит в ответ.
type Handler func(ctx context.Context, payload json.RawMessage) (any, error)

// EventHandler обрабатывает событие, на которое не отвечают.
type EventHandler func(ctx context.Context, payload json.RawMessage) error

// Requester отправляет запросы и события.
type Requester interface {
	// Request блокируется до ответа, отмены ctx или таймаута транспорта.
	// Ответ с ошибкой возвращается как *domain.RPCError.
	Request(ctx context.Context, pattern string, payload any, reply any) error
	// Emit публикует событие без ожидания ответа.
	Emit(ctx context.Context, pattern string, payload any) error
}

// Router регистрирует обработчики входящих сообщений.
type Router interface {
	HandleRequest(pattern string, handler Handler)
	HandleEvent(pattern string, handler EventHandler)
}

// Reply — конверт ответа на запрос: либо data, либо error.
type Reply struct {
	Data  json.RawMessage  `json:"data,omitempty"`
	Error *domain.RPCError `json:"error,omitempty"`
}

// EncodeReply упаковывает результат обработчика в конверт ответа.
func EncodeReply(result any, handlerErr error) ([]byte, error) {
	if handlerErr != nil {
		return json.Marshal(Reply{Error: domain.ToRPCError(handlerErr)})
	}

	data, err := json.Marshal(result)
	if err != nil {
		return json.Marshal(Reply{Error: domain.NewBadRequestError(domain.ErrorKindDownstream, "failed to encode reply", err)})
	}
	return json.Marshal(Reply{Data: data})
}

// DecodeReply разбирает конверт ответа в out. Ошибка из конверта возвращается как *domain.RPCError.
func DecodeReply(raw []byte, out any) error {
	var reply Reply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	if reply.Error != nil {
		return reply.Error
	}
	if out == nil || len(reply.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(reply.Data, out); err != nil {
		return fmt.Errorf("decode reply data: %w", err)
	}
	return nil
}
