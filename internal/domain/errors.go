package domain

import (
	"errors"
	"fmt"
)

var (
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка некорректного идентификатора товара.
	ErrProductIDInvalid = errors.New("productId must be a positive integer")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("totalAmount must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order totalAmount does not match items sum")
	// Ошибка несоответствия количества единиц и позиций.
	ErrTotalItemsMismatch = errors.New("order totalItems does not match items quantity")
	// Ошибка неизвестного статуса.
	ErrStatusInvalid = errors.New("Valid status are: PENDING,PAID,DELIVERED,CANCELLED")
	// Ошибка оплаченного заказа без времени оплаты.
	ErrPaidAtRequired = errors.New("paid order must have paidAt")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order id is required")
	// Ошибка идентификатора заказа не в формате uuid.
	ErrOrderIDInvalid = errors.New("order id must be a uuid")
	// Ошибка некорректной страницы.
	ErrPageInvalid = errors.New("page must be a positive integer")
	// Ошибка некорректного размера страницы.
	ErrLimitInvalid = errors.New("limit must be a positive integer")
	// Ошибка отсутствующего идентификатора платежа.
	ErrChargeIDRequired = errors.New("stripePaymentId is required")
	// Ошибка некорректной ссылки на квитанцию.
	ErrReceiptURLInvalid = errors.New("receiptUrl must be a valid url")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists — запись с таким идентификатором уже есть.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrProductNotFound — каталог не вернул один из запрошенных товаров.
	ErrProductNotFound = errors.New("product not found in catalog")
	// ErrRemoteTimeout — удалённый сервис не ответил вовремя.
	ErrRemoteTimeout = errors.New("remote call timed out")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrIdempotencyKeyRequired — пустой ключ идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой хэш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyNotFound — ключ не найден.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyKeyAlreadyExists — ключ уже зарегистрирован тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ уже зарегистрирован другим запросом.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
)

// IsIdempotencyConflict проверяет, что ключ уже был использован.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// Коды ответа, которые видит вызывающая сторона.
const (
	StatusOK         = 200
	StatusBadRequest = 400
	StatusNotFound   = 404
)

// MessageCheckLogs — сообщение для любых сбоев create: детали остаются в логах.
const MessageCheckLogs = "Please check logs"

// ErrorKind классифицирует ошибку для логов и метрик.
type ErrorKind string

const (
	ErrorKindNotFound    ErrorKind = "not_found"
	ErrorKindValidation  ErrorKind = "validation"
	ErrorKindDownstream  ErrorKind = "downstream"
	ErrorKindPersistence ErrorKind = "persistence"
)

// RPCError — единственная форма ошибки, которая пересекает границу сервиса.
// Kind и Err нужны только для логов и наружу не сериализуются.
type RPCError struct {
	Status  int       `json:"status"`
	Message string    `json:"message"`
	Kind    ErrorKind `json:"-"`
	Err     error     `json:"-"`
}

func (e *RPCError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Message)
}

func (e *RPCError) Unwrap() error {
	return e.Err
}

// NewNotFoundError возвращает 404 для отсутствующего заказа.
func NewNotFoundError(id string) *RPCError {
	return &RPCError{
		Status:  StatusNotFound,
		Message: fmt.Sprintf("Order with id %s not found", id),
		Kind:    ErrorKindNotFound,
		Err:     ErrOrderNotFound,
	}
}

// NewBadRequestError возвращает 400 с сообщением и причиной.
func NewBadRequestError(kind ErrorKind, message string, cause error) *RPCError {
	return &RPCError{
		Status:  StatusBadRequest,
		Message: message,
		Kind:    kind,
		Err:     cause,
	}
}

// NewValidationError собирает ошибки валидации в один 400.
func NewValidationError(errs []error) *RPCError {
	joined := errors.Join(errs...)
	if joined == nil {
		return NewBadRequestError(ErrorKindValidation, "invalid request", nil)
	}
	return NewBadRequestError(ErrorKindValidation, joined.Error(), joined)
}

// ToRPCError приводит произвольную ошибку к RPCError.
func ToRPCError(err error) *RPCError {
	if err == nil {
		return nil
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return NewBadRequestError(ErrorKindDownstream, err.Error(), err)
}
