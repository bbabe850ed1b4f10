package grpcsvc

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
	"github.com/vladislavdragonenkov/orders-ms/internal/service/orders"
)

// OrderService реализует gRPC API поверх сервиса заказов.
type OrderService struct {
	orders   orders.Service
	timeline domain.TimelineRepository
	idemRepo domain.IdempotencyRepository
	logger   *log.Entry
}

// NewOrderService конструирует сервис с зависимостями. timeline и idemRepo необязательны.
func NewOrderService(
	svc orders.Service,
	timeline domain.TimelineRepository,
	idemRepo domain.IdempotencyRepository,
	logger *log.Entry,
) *OrderService {
	if logger == nil {
		logger = log.New().WithField("component", "grpc-order-service")
	}
	return &OrderService{
		orders:   svc,
		timeline: timeline,
		idemRepo: idemRepo,
		logger:   logger,
	}
}

// CreateOrder создаёт заказ и сразу запрашивает для него платёжную сессию.
// С метаданными idempotency-key повтор возвращает сохранённый ответ.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	cmd := orders.CreateOrderCommand{Items: req.Items}
	if errs := cmd.Validate(); len(errs) > 0 {
		return nil, toStatus(domain.NewValidationError(errs))
	}

	return withIdempotency(s, ctx, methodCreateOrder, req, func(ctx context.Context) (*CreateOrderResponse, error) {
		order, err := s.orders.Create(ctx, cmd)
		if err != nil {
			return nil, toStatus(err)
		}
		session, err := s.orders.CreatePaymentSession(ctx, order)
		if err != nil {
			return nil, toStatus(err)
		}
		return &CreateOrderResponse{Order: order, PaymentSession: session}, nil
	})
}

// FindAllOrders возвращает страницу заказов.
func (s *OrderService) FindAllOrders(ctx context.Context, req *FindAllOrdersRequest) (*domain.OrderPage, error) {
	query := orders.PaginationQuery{Page: req.Page, Limit: req.Limit}
	if req.Status != "" {
		st := parseStatus(req.Status)
		query.Status = &st
	}

	page, err := s.orders.FindAll(ctx, query)
	if err != nil {
		return nil, toStatus(err)
	}
	return &page, nil
}

// FindOneOrder возвращает заказ с товарами.
func (s *OrderService) FindOneOrder(ctx context.Context, req *FindOneOrderRequest) (*domain.OrderWithProducts, error) {
	if err := orders.ValidateOrderID(req.ID); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	order, err := s.orders.FindOne(ctx, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &order, nil
}

// ChangeOrderStatus меняет статус заказа. Повтор с тем же idempotency-key
// возвращает первый ответ, даже если статус с тех пор менялся.
func (s *OrderService) ChangeOrderStatus(ctx context.Context, req *ChangeOrderStatusRequest) (*domain.OrderWithProducts, error) {
	cmd := orders.ChangeStatusCommand{ID: req.ID, Status: parseStatus(req.Status)}
	if errs := cmd.Validate(); len(errs) > 0 {
		return nil, toStatus(domain.NewValidationError(errs))
	}

	return withIdempotency(s, ctx, methodChangeOrderStatus, req, func(ctx context.Context) (*domain.OrderWithProducts, error) {
		order, err := s.orders.ChangeStatus(ctx, cmd)
		if err != nil {
			return nil, toStatus(err)
		}
		return &order, nil
	})
}

// parseStatus приводит статус к каноническому виду; нераспознанное значение
// остаётся как есть и отклоняется валидацией команды.
func parseStatus(raw string) domain.OrderStatus {
	if st, err := domain.ParseOrderStatus(raw); err == nil {
		return st
	}
	return domain.OrderStatus(raw)
}

// GetOrderTimeline возвращает историю событий заказа.
func (s *OrderService) GetOrderTimeline(ctx context.Context, req *GetOrderTimelineRequest) (*GetOrderTimelineResponse, error) {
	if err := orders.ValidateOrderID(req.ID); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if s.timeline == nil {
		return nil, status.Error(codes.Unimplemented, "order timeline is disabled")
	}
	if _, err := s.orders.FindOne(ctx, req.ID); err != nil {
		return nil, toStatus(err)
	}

	events, err := s.timeline.List(req.ID)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", req.ID).Error("failed to list timeline events")
		return nil, status.Error(codes.Internal, "failed to load order timeline")
	}

	resp := &GetOrderTimelineResponse{OrderID: req.ID, Events: make([]TimelineEvent, 0, len(events))}
	for _, event := range events {
		resp.Events = append(resp.Events, TimelineEvent{
			Type:     event.Type,
			Reason:   event.Reason,
			Occurred: event.Occurred,
		})
	}
	return resp, nil
}

// toStatus переводит ошибку сервиса в gRPC status: 404 в NotFound, 400 в InvalidArgument.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var rpcErr *domain.RPCError
	if !errors.As(err, &rpcErr) {
		return status.Error(codes.Internal, err.Error())
	}
	switch rpcErr.Status {
	case domain.StatusNotFound:
		return status.Error(codes.NotFound, rpcErr.Message)
	case domain.StatusBadRequest:
		return status.Error(codes.InvalidArgument, rpcErr.Message)
	default:
		return status.Error(codes.Internal, rpcErr.Message)
	}
}

var _ OrderServiceServer = (*OrderService)(nil)
