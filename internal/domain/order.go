package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан и ожидает оплаты.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusPaid — оплата подтверждена платёжным сервисом.
	OrderStatusPaid OrderStatus = "PAID"
	// OrderStatusDelivered — заказ доставлен покупателю.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled — заказ отменён.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// OrderStatuses перечисляет допустимые статусы в порядке жизненного цикла.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusPaid,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// ParseOrderStatus разбирает статус из внешнего представления.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", ErrStatusInvalid
	}
	return status, nil
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	ID        string `json:"id"`
	OrderID   string `json:"orderId"`
	ProductID int    `json:"productId"`
	Quantity  int    `json:"quantity"`
	// Price — цена единицы товара на момент создания заказа, дальше не меняется.
	Price     decimal.Decimal `json:"price"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Subtotal возвращает стоимость позиции: price * quantity.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID             string          `json:"id"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	TotalItems     int             `json:"totalItems"`
	Status         OrderStatus     `json:"status"`
	Paid           bool            `json:"paid"`
	PaidAt         *time.Time      `json:"paidAt"`
	StripeChargeID string          `json:"stripeChargeId,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	Items          []OrderItem     `json:"items,omitempty"`
}

// ItemInput — позиция во входящей команде создания заказа.
type ItemInput struct {
	ProductID int `json:"productId"`
	Quantity  int `json:"quantity"`
}

// Receipt фиксирует квитанцию об оплате заказа.
type Receipt struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"orderId"`
	ReceiptURL string    `json:"receiptUrl"`
	CreatedAt  time.Time `json:"createdAt"`
}

// PaymentConfirmation — данные, применяемые к заказу при подтверждении оплаты.
type PaymentConfirmation struct {
	ChargeID   string
	ReceiptURL string
	PaidAt     time.Time
}

// OrderFilter ограничивает выборку заказов.
type OrderFilter struct {
	Status *OrderStatus
}

// PageMeta описывает страницу в ответе findAll.
type PageMeta struct {
	Total    int `json:"total"`
	Page     int `json:"page"`
	LastPage int `json:"lastPage"`
}

// OrderPage — страница заказов.
type OrderPage struct {
	Data []Order  `json:"data"`
	Meta PageMeta `json:"meta"`
}

// NamedOrderItem — позиция, дополненная названием товара из каталога.
type NamedOrderItem struct {
	OrderItem
	Name string `json:"name"`
}

// OrderWithNames возвращается из create.
type OrderWithNames struct {
	Order
	Items []NamedOrderItem `json:"items"`
}

// ProductOrderItem — позиция с полной записью товара. Product пустой, если каталог его не вернул.
type ProductOrderItem struct {
	OrderItem
	Product *Product `json:"product,omitempty"`
}

// OrderWithProducts возвращается из findOne и changeStatus.
type OrderWithProducts struct {
	Order
	Items []ProductOrderItem `json:"items"`
}

// ComputeTotals считает сумму и количество единиц по позициям.
func ComputeTotals(items []OrderItem) (decimal.Decimal, int) {
	amount := decimal.Zero
	count := 0
	for _, item := range items {
		amount = amount.Add(item.Subtotal())
		count += item.Quantity
	}
	return amount, count
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.ID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrStatusInvalid)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.TotalAmount.IsNegative() {
		errs = append(errs, ErrAmountNegative)
	}
	if o.Paid && o.PaidAt == nil {
		errs = append(errs, ErrPaidAtRequired)
	}

	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.Price.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}

	// Сумма и количество фиксируются при создании и должны совпадать с позициями.
	amount, count := ComputeTotals(o.Items)
	if !amount.Equal(o.TotalAmount) {
		errs = append(errs, ErrAmountMismatch)
	}
	if count != o.TotalItems {
		errs = append(errs, ErrTotalItemsMismatch)
	}

	return errs
}
