package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/linemk/marketplace/internal/domain/models"
)

var (
	ErrCartNotFound      = errors.New("cart not found")
	ErrCartLineNotFound  = errors.New("cart line not found")
	ErrDuplicateCartLine = errors.New("cart already has a line for this product")
)

// CartStorage описывает методы для работы с корзиной и её строками.
// Все мутирующие методы принимают транзакцию: строка и кэшированный итог
// корзины должны меняться одной атомарной единицей.
type CartStorage interface {
	GetCartByUserID(ctx context.Context, userID int64) (*models.Cart, error)
	CreateCart(ctx context.Context, userID int64) (*models.Cart, error)
	// LockCartByUserIDTx блокирует строку корзины (FOR UPDATE), сериализуя
	// конкурентные мутации одной корзины на уровне строки БД.
	LockCartByUserIDTx(ctx context.Context, tx *sql.Tx, userID int64) (*models.Cart, error)
	GetLinesByCartID(ctx context.Context, cartID int64) ([]*models.CartLine, error)
	GetLinesByCartIDTx(ctx context.Context, tx *sql.Tx, cartID int64) ([]*models.CartLine, error)
	GetLineTx(ctx context.Context, tx *sql.Tx, cartID, productID int64) (*models.CartLine, error)
	InsertLineTx(ctx context.Context, tx *sql.Tx, line *models.CartLine) error
	UpdateLineQuantityTx(ctx context.Context, tx *sql.Tx, cartID, productID int64, quantity int) error
	DeleteLineTx(ctx context.Context, tx *sql.Tx, cartID, productID int64) error
	UpdateTotalTx(ctx context.Context, tx *sql.Tx, cartID int64, total decimal.Decimal) error
	// ClearCartTx удаляет все строки и обнуляет итог — используется оформлением
	// внутри той же транзакции, что создаёт заказы.
	ClearCartTx(ctx context.Context, tx *sql.Tx, cartID int64) error
}

type cartRepository struct {
	db *sql.DB
}

func NewCartRepository(db *sql.DB) CartStorage {
	return &cartRepository{db: db}
}

func (r *cartRepository) GetCartByUserID(ctx context.Context, userID int64) (*models.Cart, error) {
	cart := &models.Cart{}
	row := r.db.QueryRowContext(ctx,
		"SELECT id, user_id, total_price, created_at, updated_at FROM carts WHERE user_id = $1", userID)
	if err := row.Scan(&cart.ID, &cart.UserID, &cart.TotalPrice, &cart.CreatedAt, &cart.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCartNotFound
		}
		return nil, err
	}
	return cart, nil
}

func (r *cartRepository) CreateCart(ctx context.Context, userID int64) (*models.Cart, error) {
	cart := &models.Cart{UserID: userID, TotalPrice: decimal.Zero}
	err := r.db.QueryRowContext(ctx,
		"INSERT INTO carts (user_id, total_price, created_at, updated_at) VALUES ($1, 0, NOW(), NOW()) RETURNING id",
		userID,
	).Scan(&cart.ID)
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// LockCartByUserIDTx берёт блокировку без NOWAIT: конкурирующие мутации одной
// корзины встают в очередь и обе завершаются успешно, а не падают по локу.
func (r *cartRepository) LockCartByUserIDTx(ctx context.Context, tx *sql.Tx, userID int64) (*models.Cart, error) {
	cart := &models.Cart{}
	row := tx.QueryRowContext(ctx,
		"SELECT id, user_id, total_price, created_at, updated_at FROM carts WHERE user_id = $1 FOR UPDATE", userID)
	if err := row.Scan(&cart.ID, &cart.UserID, &cart.TotalPrice, &cart.CreatedAt, &cart.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCartNotFound
		}
		return nil, err
	}
	return cart, nil
}

const cartLineColumns = "id, cart_id, product_id, price, quantity, created_at"

func scanCartLines(rows *sql.Rows) ([]*models.CartLine, error) {
	var lines []*models.CartLine
	for rows.Next() {
		line := &models.CartLine{}
		if err := rows.Scan(&line.ID, &line.CartID, &line.ProductID, &line.Price, &line.Quantity, &line.CreatedAt); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (r *cartRepository) GetLinesByCartID(ctx context.Context, cartID int64) ([]*models.CartLine, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+cartLineColumns+" FROM cart_lines WHERE cart_id = $1 ORDER BY created_at", cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCartLines(rows)
}

func (r *cartRepository) GetLinesByCartIDTx(ctx context.Context, tx *sql.Tx, cartID int64) ([]*models.CartLine, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT "+cartLineColumns+" FROM cart_lines WHERE cart_id = $1 ORDER BY created_at", cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCartLines(rows)
}

func (r *cartRepository) GetLineTx(ctx context.Context, tx *sql.Tx, cartID, productID int64) (*models.CartLine, error) {
	line := &models.CartLine{}
	row := tx.QueryRowContext(ctx,
		"SELECT "+cartLineColumns+" FROM cart_lines WHERE cart_id = $1 AND product_id = $2", cartID, productID)
	if err := row.Scan(&line.ID, &line.CartID, &line.ProductID, &line.Price, &line.Quantity, &line.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCartLineNotFound
		}
		return nil, err
	}
	return line, nil
}

// InsertLineTx вставляет новую строку; уникальный индекс (cart_id, product_id)
// страхует инвариант "не больше одной строки на товар" на уровне БД.
func (r *cartRepository) InsertLineTx(ctx context.Context, tx *sql.Tx, line *models.CartLine) error {
	err := tx.QueryRowContext(ctx,
		`INSERT INTO cart_lines (cart_id, product_id, price, quantity, created_at)
		 VALUES ($1, $2, $3, $4, NOW()) RETURNING id`,
		line.CartID, line.ProductID, line.Price, line.Quantity,
	).Scan(&line.ID)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" { // unique_violation
			return ErrDuplicateCartLine
		}
		return fmt.Errorf("failed to insert cart line: %w", err)
	}
	return nil
}

func (r *cartRepository) UpdateLineQuantityTx(ctx context.Context, tx *sql.Tx, cartID, productID int64, quantity int) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE cart_lines SET quantity = $1 WHERE cart_id = $2 AND product_id = $3",
		quantity, cartID, productID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrCartLineNotFound
	}
	return nil
}

func (r *cartRepository) DeleteLineTx(ctx context.Context, tx *sql.Tx, cartID, productID int64) error {
	res, err := tx.ExecContext(ctx,
		"DELETE FROM cart_lines WHERE cart_id = $1 AND product_id = $2", cartID, productID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrCartLineNotFound
	}
	return nil
}

func (r *cartRepository) UpdateTotalTx(ctx context.Context, tx *sql.Tx, cartID int64, total decimal.Decimal) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE carts SET total_price = $1, updated_at = NOW() WHERE id = $2", total, cartID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrCartNotFound
	}
	return nil
}

func (r *cartRepository) ClearCartTx(ctx context.Context, tx *sql.Tx, cartID int64) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM cart_lines WHERE cart_id = $1", cartID); err != nil {
		return fmt.Errorf("failed to delete cart lines: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE carts SET total_price = 0, updated_at = NOW() WHERE id = $1", cartID); err != nil {
		return fmt.Errorf("failed to reset cart total: %w", err)
	}
	return nil
}
