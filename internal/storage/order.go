package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/linemk/marketplace/internal/domain/models"
)

var ErrOrderNotFound = errors.New("order not found")

// OrderStorage описывает методы для работы с заказами и их строками.
// Заказы и строки заказов после создания append-only: меняется только статус
// и ссылка платёжного шлюза, и только внутри транзакции оркестратора.
type OrderStorage interface {
	// CreateOrderTx вставляет заказ в рамках транзакции оформления и возвращает id.
	CreateOrderTx(ctx context.Context, tx *sql.Tx, order *models.Order) (int64, error)
	CreateOrderLineTx(ctx context.Context, tx *sql.Tx, line *models.OrderLine) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	// LockOrderByIDTx блокирует строку заказа (FOR UPDATE), сериализуя
	// конкурентные переходы статуса одного заказа.
	LockOrderByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error)
	UpdateStatusTx(ctx context.Context, tx *sql.Tx, id int64, status models.OrderStatus) error
	SetPaymentReferenceTx(ctx context.Context, tx *sql.Tx, id int64, reference string) error
	GetOrderLinesByOrderID(ctx context.Context, orderID int64) ([]*models.OrderLine, error)
	GetOrdersByCustomerID(ctx context.Context, customerID int64) ([]*models.Order, error)
}

type orderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) OrderStorage {
	return &orderRepository{db: db}
}

const orderColumns = "id, customer_id, seller_id, address_id, status, total_price, payment_reference, created_at, updated_at"

func (r *orderRepository) CreateOrderTx(ctx context.Context, tx *sql.Tx, order *models.Order) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		`INSERT INTO orders (customer_id, seller_id, address_id, status, total_price, payment_reference, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, '', NOW(), NOW()) RETURNING id`,
		order.CustomerID, order.SellerID, order.AddressID, order.Status, order.TotalPrice,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create order: %w", err)
	}
	order.ID = id
	return id, nil
}

func (r *orderRepository) CreateOrderLineTx(ctx context.Context, tx *sql.Tx, line *models.OrderLine) error {
	err := tx.QueryRowContext(ctx,
		`INSERT INTO order_lines (order_id, product_id, price, quantity, subtotal)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		line.OrderID, line.ProductID, line.Price, line.Quantity, line.Subtotal,
	).Scan(&line.ID)
	if err != nil {
		return fmt.Errorf("failed to create order line: %w", err)
	}
	return nil
}

func scanOrder(row *sql.Row) (*models.Order, error) {
	order := &models.Order{}
	if err := row.Scan(&order.ID, &order.CustomerID, &order.SellerID, &order.AddressID, &order.Status,
		&order.TotalPrice, &order.PaymentReference, &order.CreatedAt, &order.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

func (r *orderRepository) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	return scanOrder(row)
}

func (r *orderRepository) LockOrderByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error) {
	row := tx.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
	return scanOrder(row)
}

func (r *orderRepository) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id int64, status models.OrderStatus) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2", status, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *orderRepository) SetPaymentReferenceTx(ctx context.Context, tx *sql.Tx, id int64, reference string) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE orders SET payment_reference = $1, updated_at = NOW() WHERE id = $2", reference, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *orderRepository) GetOrderLinesByOrderID(ctx context.Context, orderID int64) ([]*models.OrderLine, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, order_id, product_id, price, quantity, subtotal FROM order_lines WHERE order_id = $1 ORDER BY id", orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []*models.OrderLine
	for rows.Next() {
		line := &models.OrderLine{}
		if err := rows.Scan(&line.ID, &line.OrderID, &line.ProductID, &line.Price, &line.Quantity, &line.Subtotal); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (r *orderRepository) GetOrdersByCustomerID(ctx context.Context, customerID int64) ([]*models.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE customer_id = $1 ORDER BY created_at DESC", customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order := &models.Order{}
		if err := rows.Scan(&order.ID, &order.CustomerID, &order.SellerID, &order.AddressID, &order.Status,
			&order.TotalPrice, &order.PaymentReference, &order.CreatedAt, &order.UpdatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}
