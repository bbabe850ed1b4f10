package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
)

const opTimeout = 5 * time.Second

// SQLSTATE, которые репозитории переводят в доменные ошибки.
const (
	codeUniqueViolation           = "23505"
	codeInvalidTextRepresentation = "22P02"
)

const (
	orderColumns = `id, total_amount, total_items, status, paid, paid_at, stripe_charge_id, created_at, updated_at`

	insertOrder = `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	insertOrderItem = `
		INSERT INTO order_items (id, order_id, product_id, quantity, price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	selectOrder      = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	selectOrderItems = `
		SELECT id, order_id, product_id, quantity, price, created_at
		FROM order_items WHERE order_id = $1 ORDER BY created_at, id`
	updateOrderStatus = `
		UPDATE orders SET status = $2, updated_at = $3
		WHERE id = $1 RETURNING ` + orderColumns
	updateOrderPaid = `
		UPDATE orders SET status = $2, paid = TRUE, paid_at = $3, stripe_charge_id = $4, updated_at = $5
		WHERE id = $1 RETURNING ` + orderColumns
	insertReceipt = `
		INSERT INTO order_receipts (id, order_id, receipt_url, created_at)
		VALUES ($1, $2, $3, $4)`
	selectReceipts = `
		SELECT id, order_id, receipt_url, created_at
		FROM order_receipts WHERE order_id = $1 ORDER BY created_at, id`
)

type orderRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewOrderRepository хранит заказы в orders, order_items и order_receipts.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{
		db:  store.DB(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if order.CreatedAt.IsZero() {
		order.CreatedAt = r.now()
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}
	order.Items = prepareItems(order)

	err := r.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, insertOrder,
			order.ID, order.TotalAmount, order.TotalItems, string(order.Status), order.Paid,
			optionalTime(order.PaidAt), optionalString(order.StripeChargeID), order.CreatedAt, order.UpdatedAt)
		if hasCode(err, codeUniqueViolation) {
			return domain.ErrOrderAlreadyExists
		}
		if err != nil {
			return fmt.Errorf("insert order %s: %w", order.ID, err)
		}
		for _, item := range order.Items {
			if _, err := tx.ExecContext(ctx, insertOrderItem,
				item.ID, item.OrderID, item.ProductID, item.Quantity, item.Price, item.CreatedAt); err != nil {
				return fmt.Errorf("insert item of order %s: %w", order.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// prepareItems проставляет позициям id, order_id и время создания заказа.
func prepareItems(order domain.Order) []domain.OrderItem {
	items := make([]domain.OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = order.CreatedAt
		}
		item.OrderID = order.ID
		items = append(items, item)
	}
	return items
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, selectOrder, id))
	if err != nil {
		return domain.Order{}, orderLookupError(err, "select order")
	}
	if order.Items, err = r.items(ctx, order.ID); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *orderRepository) Count(ctx context.Context, filter domain.OrderFilter) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	where, args := whereClause(filter)
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return total, nil
}

// List: limit <= 0 отдаёт все строки после offset.
func (r *orderRepository) List(ctx context.Context, filter domain.OrderFilter, offset, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	where, args := whereClause(filter)
	args = append(args, max(offset, 0))
	query := fmt.Sprintf(`SELECT %s FROM orders%s ORDER BY created_at DESC, id DESC OFFSET $%d`, orderColumns, where, len(args))
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return collectRows(rows, scanOrder)
}

func (r *orderRepository) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, updateOrderStatus, id, string(status), r.now()))
	if err != nil {
		return domain.Order{}, orderLookupError(err, "update order status")
	}
	return order, nil
}

func (r *orderRepository) MarkPaid(ctx context.Context, id string, confirmation domain.PaymentConfirmation) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := r.now()
	paidAt := confirmation.PaidAt
	if paidAt.IsZero() {
		paidAt = now
	}

	var order domain.Order
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		order, err = scanOrder(tx.QueryRowContext(ctx, updateOrderPaid,
			id, string(domain.OrderStatusPaid), paidAt, optionalString(confirmation.ChargeID), now))
		if err != nil {
			return orderLookupError(err, "mark order paid")
		}
		if _, err := tx.ExecContext(ctx, insertReceipt, uuid.NewString(), id, confirmation.ReceiptURL, now); err != nil {
			return fmt.Errorf("insert receipt of order %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// ListReceipts: id, не являющийся uuid, даёт пустой список.
func (r *orderRepository) ListReceipts(ctx context.Context, orderID string) ([]domain.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, selectReceipts, orderID)
	if hasCode(err, codeInvalidTextRepresentation) {
		return []domain.Receipt{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list receipts of order %s: %w", orderID, err)
	}
	return collectRows(rows, func(row rowScanner) (domain.Receipt, error) {
		var receipt domain.Receipt
		err := row.Scan(&receipt.ID, &receipt.OrderID, &receipt.ReceiptURL, &receipt.CreatedAt)
		receipt.CreatedAt = receipt.CreatedAt.UTC()
		return receipt, err
	})
}

func (r *orderRepository) items(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, selectOrderItems, orderID)
	if err != nil {
		return nil, fmt.Errorf("load items of order %s: %w", orderID, err)
	}
	return collectRows(rows, func(row rowScanner) (domain.OrderItem, error) {
		var item domain.OrderItem
		err := row.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.Price, &item.CreatedAt)
		item.CreatedAt = item.CreatedAt.UTC()
		return item, err
	})
}

// inTx откатывает транзакцию, если fn вернула ошибку.
func (r *orderRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// collectRows закрывает rows. На пустом результате отдаёт пустой срез, не nil.
func collectRows[T any](rows *sql.Rows, scan func(rowScanner) (T, error)) ([]T, error) {
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		value, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order    domain.Order
		status   string
		paidAt   sql.NullTime
		chargeID sql.NullString
	)
	err := row.Scan(&order.ID, &order.TotalAmount, &order.TotalItems, &status, &order.Paid,
		&paidAt, &chargeID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return domain.Order{}, err
	}

	order.Status = domain.OrderStatus(status)
	order.StripeChargeID = chargeID.String
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	if paidAt.Valid {
		at := paidAt.Time.UTC()
		order.PaidAt = &at
	}
	return order, nil
}

func whereClause(filter domain.OrderFilter) (string, []any) {
	if filter.Status == nil {
		return "", nil
	}
	return " WHERE status = $1", []any{string(*filter.Status)}
}

// orderLookupError: отсутствующая строка и id не в формате uuid одинаково значат ErrOrderNotFound.
func orderLookupError(err error, op string) error {
	if errors.Is(err, sql.ErrNoRows) || hasCode(err, codeInvalidTextRepresentation) {
		return domain.ErrOrderNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func optionalTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func optionalString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func isInvalidTextRepresentation(err error) bool {
	return hasCode(err, codeInvalidTextRepresentation)
}

var _ domain.OrderRepository = (*orderRepository)(nil)
