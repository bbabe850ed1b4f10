// Package rpc подключает операции сервиса заказов к шине сообщений.
// Здесь декодируются и проверяются входящие сообщения; ошибки приводятся к {status, message}.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
	"github.com/vladislavdragonenkov/orders-ms/internal/messaging/bus"
	"github.com/vladislavdragonenkov/orders-ms/internal/service/orders"
)

// FindOneRequest — тело findOneOrder.
type FindOneRequest struct {
	ID string `json:"id"`
}

// Handlers содержит обработчики паттернов сервиса заказов.
type Handlers struct {
	orders orders.Service
	logger *log.Entry
}

// NewHandlers создаёт обработчики.
func NewHandlers(svc orders.Service, logger *log.Entry) *Handlers {
	if logger == nil {
		logger = log.New().WithField("component", "orders-rpc")
	}
	return &Handlers{orders: svc, logger: logger}
}

// Register регистрирует все паттерны на router.
func (h *Handlers) Register(router bus.Router) {
	router.HandleRequest(bus.PatternCreateOrder, h.CreateOrder)
	router.HandleRequest(bus.PatternFindAllOrders, h.FindAllOrders)
	router.HandleRequest(bus.PatternFindOneOrder, h.FindOneOrder)
	router.HandleRequest(bus.PatternChangeOrderStatus, h.ChangeOrderStatus)
	router.HandleEvent(bus.PatternPaymentSucceeded, h.PaymentSucceeded)
}

// CreateOrder создаёт заказ и возвращает платёжную сессию для него.
func (h *Handlers) CreateOrder(ctx context.Context, payload json.RawMessage) (any, error) {
	var cmd orders.CreateOrderCommand
	if err := decode(payload, &cmd); err != nil {
		return nil, err
	}
	if errs := cmd.Validate(); len(errs) > 0 {
		return nil, domain.NewValidationError(errs)
	}

	order, err := h.orders.Create(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return h.orders.CreatePaymentSession(ctx, order)
}

// FindAllOrders возвращает страницу заказов.
func (h *Handlers) FindAllOrders(ctx context.Context, payload json.RawMessage) (any, error) {
	var query orders.PaginationQuery
	if err := decode(payload, &query); err != nil {
		return nil, err
	}
	return h.orders.FindAll(ctx, query)
}

// FindOneOrder возвращает заказ с товарами.
func (h *Handlers) FindOneOrder(ctx context.Context, payload json.RawMessage) (any, error) {
	var req FindOneRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if err := orders.ValidateOrderID(req.ID); err != nil {
		return nil, domain.NewValidationError([]error{err})
	}
	return h.orders.FindOne(ctx, req.ID)
}

// ChangeOrderStatus меняет статус заказа.
func (h *Handlers) ChangeOrderStatus(ctx context.Context, payload json.RawMessage) (any, error) {
	var cmd orders.ChangeStatusCommand
	if err := decode(payload, &cmd); err != nil {
		return nil, err
	}
	return h.orders.ChangeStatus(ctx, cmd)
}

// PaymentSucceeded применяет событие оплаты. Ответа нет, ошибка уходит транспорту.
func (h *Handlers) PaymentSucceeded(ctx context.Context, payload json.RawMessage) error {
	var event domain.PaymentSucceeded
	if err := decode(payload, &event); err != nil {
		h.logger.WithError(err).Warn("undecodable payment event")
		return err
	}

	if _, err := h.orders.PaidOrder(ctx, event); err != nil {
		h.logger.WithError(err).WithFields(log.Fields{
			"order_id":  event.OrderID,
			"charge_id": event.ChargeID,
		}).Error("payment event processing failed")
		return err
	}
	return nil
}

func decode(payload json.RawMessage, out any) error {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return domain.NewBadRequestError(domain.ErrorKindValidation, fmt.Sprintf("invalid payload: %v", err), err)
	}
	return nil
}
