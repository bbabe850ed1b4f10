package orders

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
	"github.com/vladislavdragonenkov/orders-ms/internal/metrics"
)

const defaultDedupTTL = 7 * 24 * time.Hour

// Service описывает операции жизненного цикла заказа.
// Все ошибки возвращаются как *domain.RPCError.
type Service interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (domain.OrderWithNames, error)
	FindAll(ctx context.Context, query PaginationQuery) (domain.OrderPage, error)
	FindOne(ctx context.Context, id string) (domain.OrderWithProducts, error)
	ChangeStatus(ctx context.Context, cmd ChangeStatusCommand) (domain.OrderWithProducts, error)
	CreatePaymentSession(ctx context.Context, order domain.OrderWithNames) (domain.PaymentSession, error)
	PaidOrder(ctx context.Context, event domain.PaymentSucceeded) (domain.Order, error)
}

// Options задаёт необязательные зависимости сервиса.
type Options struct {
	Logger   *log.Entry
	Metrics  *metrics.OrderMetrics
	Timeline domain.TimelineRepository
	Outbox   domain.OutboxRepository
	Dedup    domain.IdempotencyRepository
	DedupTTL time.Duration
	Clock    func() time.Time
	NewID    func() string
}

// Option настраивает Service.
type Option func(*Options)

// WithLogger задаёт logger для сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics включает метрики.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithTimeline включает запись событий в timeline.
func WithTimeline(repo domain.TimelineRepository) Option {
	return func(opts *Options) {
		opts.Timeline = repo
	}
}

// WithOutbox включает запись событий в transactional outbox.
func WithOutbox(repo domain.OutboxRepository) Option {
	return func(opts *Options) {
		opts.Outbox = repo
	}
}

// WithPaymentDedup включает защиту от повторной обработки одного платежа.
func WithPaymentDedup(repo domain.IdempotencyRepository, ttl time.Duration) Option {
	return func(opts *Options) {
		opts.Dedup = repo
		opts.DedupTTL = ttl
	}
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) {
		opts.Clock = clock
	}
}

// WithIDGenerator подменяет генератор идентификаторов заказов.
func WithIDGenerator(newID func() string) Option {
	return func(opts *Options) {
		opts.NewID = newID
	}
}

type service struct {
	orders   domain.OrderRepository
	catalog  domain.CatalogService
	payments domain.PaymentService
	timeline domain.TimelineRepository
	outbox   domain.OutboxRepository
	dedup    domain.IdempotencyRepository
	dedupTTL time.Duration
	logger   *log.Entry
	metrics  *metrics.OrderMetrics
	now      func() time.Time
	newID    func() string
}

// NewService создаёт сервис заказов.
func NewService(
	orders domain.OrderRepository,
	catalog domain.CatalogService,
	payments domain.PaymentService,
	options ...Option,
) Service {
	opts := Options{DedupTTL: defaultDedupTTL}
	for _, option := range options {
		option(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = log.New().WithField("component", "orders")
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = defaultDedupTTL
	}

	return &service{
		orders:   orders,
		catalog:  catalog,
		payments: payments,
		timeline: opts.Timeline,
		outbox:   opts.Outbox,
		dedup:    opts.Dedup,
		dedupTTL: opts.DedupTTL,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		now:      opts.Clock,
		newID:    opts.NewID,
	}
}

// Create проверяет товары в каталоге, считает суммы и сохраняет заказ одной записью.
func (s *service) Create(ctx context.Context, cmd CreateOrderCommand) (domain.OrderWithNames, error) {
	if errs := cmd.Validate(); len(errs) > 0 {
		return domain.OrderWithNames{}, s.failCreate(domain.ErrorKindValidation, errors.Join(errs...))
	}

	ids := cmd.ProductIDs()
	products, err := s.validateProducts(ctx, ids)
	if err != nil {
		return domain.OrderWithNames{}, s.failCreate(domain.ErrorKindDownstream, err)
	}

	index := domain.ProductIndex(products)
	for _, id := range ids {
		if _, ok := index[id]; !ok {
			return domain.OrderWithNames{}, s.failCreate(domain.ErrorKindDownstream, fmt.Errorf("%w: id %d", domain.ErrProductNotFound, id))
		}
	}

	order := domain.Order{
		ID:     s.newID(),
		Status: domain.OrderStatusPending,
		Items:  make([]domain.OrderItem, 0, len(cmd.Items)),
	}
	for _, input := range cmd.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ProductID: input.ProductID,
			Quantity:  input.Quantity,
			Price:     index[input.ProductID].Price,
		})
	}
	order.TotalAmount, order.TotalItems = domain.ComputeTotals(order.Items)
	// Цены пришли из каталога, поэтому нарушение инвариантов считается сбоем downstream.
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.OrderWithNames{}, s.failCreate(domain.ErrorKindDownstream, errors.Join(errs...))
	}

	created, err := s.orders.Create(ctx, order)
	if err != nil {
		return domain.OrderWithNames{}, s.failCreate(domain.ErrorKindPersistence, err)
	}

	s.metrics.RecordOrderCreated()
	s.logger.WithFields(log.Fields{
		"order_id":    created.ID,
		"total_items": created.TotalItems,
	}).Info("order created")
	s.emitEvent(created.ID, domain.EventOrderCreated, "", map[string]any{
		"total_amount": created.TotalAmount.String(),
		"total_items":  created.TotalItems,
	})

	return withNames(created, index), nil
}

// FindAll возвращает страницу заказов и метаданные пагинации.
func (s *service) FindAll(ctx context.Context, query PaginationQuery) (domain.OrderPage, error) {
	query = query.Normalize()
	if errs := query.Validate(); len(errs) > 0 {
		return domain.OrderPage{}, domain.NewValidationError(errs)
	}

	filter := domain.OrderFilter{Status: query.Status}
	total, err := s.orders.Count(ctx, filter)
	if err != nil {
		return domain.OrderPage{}, s.persistenceError("count orders failed", err)
	}

	data, err := s.orders.List(ctx, filter, query.Offset(), query.Limit)
	if err != nil {
		return domain.OrderPage{}, s.persistenceError("list orders failed", err)
	}
	if data == nil {
		data = []domain.Order{}
	}

	return domain.OrderPage{
		Data: data,
		Meta: domain.PageMeta{
			Total:    total,
			Page:     query.Page,
			LastPage: LastPage(total, query.Limit),
		},
	}, nil
}

// FindOne возвращает заказ с полными записями товаров.
// Товары, которых каталог не вернул, остаются без product.
func (s *service) FindOne(ctx context.Context, id string) (domain.OrderWithProducts, error) {
	order, err := s.orders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return domain.OrderWithProducts{}, domain.NewNotFoundError(id)
		}
		return domain.OrderWithProducts{}, s.persistenceError("load order failed", err)
	}

	ids := distinctProductIDs(order.Items)
	var products []domain.Product
	if len(ids) > 0 {
		products, err = s.validateProducts(ctx, ids)
		if err != nil {
			s.logger.WithError(err).WithFields(log.Fields{
				"order_id":   id,
				"error_kind": domain.ErrorKindDownstream,
			}).Error("catalog lookup for order failed")
			return domain.OrderWithProducts{}, domain.NewBadRequestError(domain.ErrorKindDownstream, domain.MessageCheckLogs, err)
		}
	}

	return withProducts(order, domain.ProductIndex(products)), nil
}

// ChangeStatus переводит заказ в новый статус. Повторная установка того же статуса ничего не пишет.
func (s *service) ChangeStatus(ctx context.Context, cmd ChangeStatusCommand) (domain.OrderWithProducts, error) {
	if errs := cmd.Validate(); len(errs) > 0 {
		return domain.OrderWithProducts{}, domain.NewValidationError(errs)
	}

	current, err := s.FindOne(ctx, cmd.ID)
	if err != nil {
		return domain.OrderWithProducts{}, err
	}
	if current.Status == cmd.Status {
		s.metrics.RecordStatusNoop()
		s.logger.WithField("order_id", cmd.ID).Debug("status unchanged, skipping update")
		return current, nil
	}

	updated, err := s.orders.UpdateStatus(ctx, cmd.ID, cmd.Status)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return domain.OrderWithProducts{}, domain.NewNotFoundError(cmd.ID)
		}
		return domain.OrderWithProducts{}, s.persistenceError("update order status failed", err)
	}

	previous := current.Status
	current.Status = updated.Status
	current.UpdatedAt = updated.UpdatedAt

	s.metrics.RecordStatusChanged(string(updated.Status))
	s.logger.WithFields(log.Fields{
		"order_id": cmd.ID,
		"from":     previous,
		"to":       updated.Status,
	}).Info("order status changed")
	s.emitEvent(cmd.ID, domain.EventOrderStatusChanged, string(previous)+" -> "+string(updated.Status), map[string]any{
		"from": previous,
		"to":   updated.Status,
	})

	return current, nil
}

// CreatePaymentSession запрашивает платёжную сессию для созданного заказа.
func (s *service) CreatePaymentSession(ctx context.Context, order domain.OrderWithNames) (domain.PaymentSession, error) {
	req := domain.PaymentSessionRequest{
		OrderID:  order.ID,
		Currency: domain.DefaultCurrency,
		Items:    make([]domain.PaymentSessionItem, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		req.Items = append(req.Items, domain.PaymentSessionItem{
			Name:     item.Name,
			Price:    item.Price,
			Quantity: item.Quantity,
		})
	}

	start := s.now()
	session, err := s.payments.CreatePaymentSession(ctx, req)
	s.metrics.RecordRemoteCall("payment", "create.payment.session", s.now().Sub(start), err == nil)
	s.metrics.RecordPaymentSession(err == nil)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id":   order.ID,
			"error_kind": domain.ErrorKindDownstream,
		}).Error("create payment session failed")
		return nil, domain.NewBadRequestError(domain.ErrorKindDownstream, domain.MessageCheckLogs, err)
	}

	return session, nil
}

// PaidOrder применяет подтверждение оплаты: статус PAID, время, charge id и квитанция.
func (s *service) PaidOrder(ctx context.Context, event domain.PaymentSucceeded) (domain.Order, error) {
	if errs := event.Validate(); len(errs) > 0 {
		return domain.Order{}, domain.NewValidationError(errs)
	}

	logger := s.logger.WithFields(log.Fields{
		"order_id":  event.OrderID,
		"charge_id": event.ChargeID,
	})

	key := dedupKey(event)
	if s.dedup != nil {
		duplicate, err := s.claimPayment(key, event)
		if err != nil {
			return domain.Order{}, s.persistenceError("payment dedup check failed", err)
		}
		if duplicate {
			s.metrics.RecordPaymentDuplicate()
			logger.Info("duplicate payment confirmation skipped")
			order, err := s.orders.Get(ctx, event.OrderID)
			if err != nil {
				if errors.Is(err, domain.ErrOrderNotFound) {
					return domain.Order{}, domain.NewNotFoundError(event.OrderID)
				}
				return domain.Order{}, s.persistenceError("load order failed", err)
			}
			return order, nil
		}
	}

	paid, err := s.orders.MarkPaid(ctx, event.OrderID, domain.PaymentConfirmation{
		ChargeID:   event.ChargeID,
		ReceiptURL: event.ReceiptURL,
		PaidAt:     s.now(),
	})
	if err != nil {
		s.releasePayment(key)
		if errors.Is(err, domain.ErrOrderNotFound) {
			return domain.Order{}, domain.NewNotFoundError(event.OrderID)
		}
		return domain.Order{}, s.persistenceError("mark order paid failed", err)
	}

	if s.dedup != nil {
		body, _ := json.Marshal(paid)
		if err := s.dedup.MarkDone(key, body, domain.StatusOK); err != nil {
			logger.WithError(err).Warn("mark payment dedup key done failed")
		}
	}

	s.metrics.RecordPaymentFinalized()
	logger.Info("order paid")
	s.emitEvent(paid.ID, domain.EventOrderPaid, "", map[string]any{
		"charge_id":   event.ChargeID,
		"receipt_url": event.ReceiptURL,
	})

	return paid, nil
}

// claimPayment регистрирует charge id. Возвращает true, если платёж уже обработан.
func (s *service) claimPayment(key string, event domain.PaymentSucceeded) (bool, error) {
	existing, err := s.dedup.CreateProcessing(key, paymentHash(event), s.now().Add(s.dedupTTL))
	if err == nil {
		return false, nil
	}
	if !domain.IsIdempotencyConflict(err) {
		return false, err
	}
	if errors.Is(err, domain.ErrIdempotencyHashMismatch) {
		s.logger.WithField("charge_id", event.ChargeID).Warn("charge id reused with different order or receipt")
	}
	// Предыдущая попытка упала: разрешаем повторную обработку.
	return existing.Status != domain.IdempotencyStatusFailed, nil
}

func (s *service) releasePayment(key string) {
	if s.dedup == nil {
		return
	}
	if err := s.dedup.MarkFailed(key, nil, domain.StatusBadRequest); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("mark payment dedup key failed")
	}
}

func (s *service) validateProducts(ctx context.Context, ids []int) ([]domain.Product, error) {
	start := s.now()
	products, err := s.catalog.ValidateProducts(ctx, ids)
	s.metrics.RecordRemoteCall("catalog", "validate_products", s.now().Sub(start), err == nil)
	return products, err
}

func (s *service) failCreate(kind domain.ErrorKind, err error) error {
	s.metrics.RecordCreateFailed(string(kind))
	s.logger.WithError(err).WithField("error_kind", kind).Error("create order failed")
	return domain.NewBadRequestError(kind, domain.MessageCheckLogs, err)
}

func (s *service) persistenceError(msg string, err error) error {
	s.logger.WithError(err).WithField("error_kind", domain.ErrorKindPersistence).Error(msg)
	return domain.NewBadRequestError(domain.ErrorKindPersistence, domain.MessageCheckLogs, err)
}

// emitEvent пишет событие в timeline и outbox после фиксации изменений. Ошибки только логируются.
func (s *service) emitEvent(orderID, eventType, reason string, payload map[string]any) {
	if s.timeline != nil {
		event := domain.TimelineEvent{
			OrderID:  orderID,
			Type:     eventType,
			Reason:   reason,
			Occurred: s.now(),
		}
		if err := s.timeline.Append(event); err != nil {
			s.logger.WithError(err).WithFields(log.Fields{
				"order_id": orderID,
				"event":    eventType,
			}).Warn("append timeline event failed")
		} else {
			s.metrics.RecordTimelineEvent()
		}
	}

	if s.outbox == nil {
		return
	}
	if payload == nil {
		payload = make(map[string]any)
	}
	payload["order_id"] = orderID
	payload["ts"] = s.now().Format(time.RFC3339Nano)
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"event":    eventType,
		}).Error("marshal event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       data,
	}
	if _, err := s.outbox.Enqueue(msg); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"event":    eventType,
		}).Error("enqueue event failed")
		return
	}
	s.metrics.RecordOutboxEvent()
}

func withNames(order domain.Order, index map[int]domain.Product) domain.OrderWithNames {
	items := make([]domain.NamedOrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, domain.NamedOrderItem{
			OrderItem: item,
			Name:      index[item.ProductID].Name,
		})
	}
	order.Items = nil
	return domain.OrderWithNames{Order: order, Items: items}
}

func withProducts(order domain.Order, index map[int]domain.Product) domain.OrderWithProducts {
	items := make([]domain.ProductOrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		enriched := domain.ProductOrderItem{OrderItem: item}
		if product, ok := index[item.ProductID]; ok {
			enriched.Product = &product
		}
		items = append(items, enriched)
	}
	order.Items = nil
	return domain.OrderWithProducts{Order: order, Items: items}
}

func distinctProductIDs(items []domain.OrderItem) []int {
	seen := make(map[int]struct{}, len(items))
	ids := make([]int, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}

func dedupKey(event domain.PaymentSucceeded) string {
	return "payment:" + event.ChargeID
}

func paymentHash(event domain.PaymentSucceeded) string {
	sum := sha256.Sum256([]byte(event.OrderID + "|" + event.ReceiptURL))
	return hex.EncodeToString(sum[:])
}

var _ Service = (*service)(nil)
