package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/linemk/marketplace/internal/apperr"
	"github.com/linemk/marketplace/internal/domain/models"
	"github.com/linemk/marketplace/internal/storage"
)

// CartService определяет интерфейс менеджера корзины.
// Каждая мутация меняет строку и кэшированный итог корзины одной транзакцией:
// обновить одно без другого — нарушить инвариант total_price == Σ(price × quantity).
type CartService interface {
	AddLine(ctx context.Context, userID, productID int64) (*models.CartLine, error)
	UpdateLineQuantity(ctx context.Context, userID, productID int64, quantity int) error
	RemoveLine(ctx context.Context, userID, productID int64) error
	GetCart(ctx context.Context, userID int64) (*CartView, error)
}

// CartView — корзина вместе со строками для ответа транспортному слою
type CartView struct {
	Cart  *models.Cart       `json:"cart"`
	Lines []*models.CartLine `json:"lines"`
}

type cartService struct {
	log         *slog.Logger
	db          *sql.DB
	cartRepo    storage.CartStorage
	productRepo storage.ProductStorage
}

func NewCartService(log *slog.Logger, db *sql.DB, cartRepo storage.CartStorage, productRepo storage.ProductStorage) CartService {
	return &cartService{
		log:         log,
		db:          db,
		cartRepo:    cartRepo,
		productRepo: productRepo,
	}
}

// AddLine добавляет товар в корзину со снимком текущей цены каталога.
// Бизнес-правила проверяются до записи, строка и итог пишутся одной транзакцией.
func (s *cartService) AddLine(ctx context.Context, userID, productID int64) (*models.CartLine, error) {
	const op = "service.CartService.AddLine"
	logger := s.log.With(slog.String("op", op), slog.Int64("userID", userID), slog.Int64("productID", productID))
	logger.Info("adding line to cart")

	product, err := s.productRepo.GetProductByID(ctx, productID)
	if err != nil {
		if errors.Is(err, storage.ErrProductNotFound) {
			return nil, apperr.NotFound("product not found")
		}
		logger.Error("failed to get product", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to get product: %w", op, err)
	}

	// Свой товар купить нельзя
	if product.SellerID == userID {
		logger.Warn("attempt to buy own product")
		return nil, apperr.Conflict("cannot add your own product to the cart")
	}
	if !product.Available(1) {
		logger.Warn("product out of stock")
		return nil, apperr.FailedPrecondition("product is out of stock")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	// Блокируем корзину: конкурентные мутации сериализуются на её строке
	cart, err := s.cartRepo.LockCartByUserIDTx(ctx, tx, userID)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		if errors.Is(err, storage.ErrCartNotFound) {
			// Корзина создаётся при регистрации, её отсутствие — нарушение инварианта
			logger.Error("cart missing for registered user")
			return nil, apperr.NotFound("cart not found")
		}
		logger.Error("failed to lock cart", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to lock cart: %w", op, err)
	}

	if _, err := s.cartRepo.GetLineTx(ctx, tx, cart.ID, productID); err == nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Warn("duplicate cart line")
		return nil, apperr.Conflict("cart already has a line for this product")
	} else if !errors.Is(err, storage.ErrCartLineNotFound) {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to check existing line", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to check existing line: %w", op, err)
	}

	line := &models.CartLine{
		CartID:    cart.ID,
		ProductID: productID,
		Price:     product.Price, // снимок цены на момент добавления
		Quantity:  1,
	}
	if err := s.cartRepo.InsertLineTx(ctx, tx, line); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		if errors.Is(err, storage.ErrDuplicateCartLine) {
			return nil, apperr.Conflict("cart already has a line for this product")
		}
		logger.Error("failed to insert cart line", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to insert cart line: %w", op, err)
	}

	// Итог поддерживается сложением, без агрегирующего запроса
	newTotal := cart.TotalPrice.Add(line.Subtotal())
	if err := s.cartRepo.UpdateTotalTx(ctx, tx, cart.ID, newTotal); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to update cart total", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to update cart total: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	logger.Info("line added", slog.String("total", newTotal.String()))
	return line, nil
}

// UpdateLineQuantity меняет количество в строке и пересчитывает итог
// как old_total - old_subtotal + new_subtotal в той же транзакции.
func (s *cartService) UpdateLineQuantity(ctx context.Context, userID, productID int64, quantity int) error {
	const op = "service.CartService.UpdateLineQuantity"
	logger := s.log.With(slog.String("op", op), slog.Int64("userID", userID), slog.Int64("productID", productID), slog.Int("quantity", quantity))
	logger.Info("updating line quantity")

	if quantity < 1 {
		return apperr.FailedPrecondition("quantity must be at least 1")
	}

	product, err := s.productRepo.GetProductByID(ctx, productID)
	if err != nil {
		if errors.Is(err, storage.ErrProductNotFound) {
			return apperr.NotFound("product not found")
		}
		logger.Error("failed to get product", slog.Any("error", err))
		return fmt.Errorf("%s: failed to get product: %w", op, err)
	}
	if !product.Available(quantity) {
		logger.Warn("requested quantity exceeds stock", slog.Int("stock", product.StockQuantity))
		return apperr.FailedPrecondition("requested quantity exceeds available stock")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	cart, err := s.cartRepo.LockCartByUserIDTx(ctx, tx, userID)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		if errors.Is(err, storage.ErrCartNotFound) {
			return apperr.NotFound("cart not found")
		}
		logger.Error("failed to lock cart", slog.Any("error", err))
		return fmt.Errorf("%s: failed to lock cart: %w", op, err)
	}

	line, err := s.cartRepo.GetLineTx(ctx, tx, cart.ID, productID)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		if errors.Is(err, storage.ErrCartLineNotFound) {
			return apperr.NotFound("no cart line for this product")
		}
		logger.Error("failed to get cart line", slog.Any("error", err))
		return fmt.Errorf("%s: failed to get cart line: %w", op, err)
	}

	if err := s.cartRepo.UpdateLineQuantityTx(ctx, tx, cart.ID, productID, quantity); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to update line quantity", slog.Any("error", err))
		return fmt.Errorf("%s: failed to update line quantity: %w", op, err)
	}

	updated := &models.CartLine{Price: line.Price, Quantity: quantity}
	newTotal := cart.TotalPrice.Sub(line.Subtotal()).Add(updated.Subtotal())
	if err := s.cartRepo.UpdateTotalTx(ctx, tx, cart.ID, newTotal); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to update cart total", slog.Any("error", err))
		return fmt.Errorf("%s: failed to update cart total: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	logger.Info("line quantity updated", slog.String("total", newTotal.String()))
	return nil
}

// RemoveLine удаляет строку и вычитает её стоимость из итога
func (s *cartService) RemoveLine(ctx context.Context, userID, productID int64) error {
	const op = "service.CartService.RemoveLine"
	logger := s.log.With(slog.String("op", op), slog.Int64("userID", userID), slog.Int64("productID", productID))
	logger.Info("removing line from cart")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	cart, err := s.cartRepo.LockCartByUserIDTx(ctx, tx, userID)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		if errors.Is(err, storage.ErrCartNotFound) {
			return apperr.NotFound("cart not found")
		}
		logger.Error("failed to lock cart", slog.Any("error", err))
		return fmt.Errorf("%s: failed to lock cart: %w", op, err)
	}

	line, err := s.cartRepo.GetLineTx(ctx, tx, cart.ID, productID)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		if errors.Is(err, storage.ErrCartLineNotFound) {
			return apperr.NotFound("no cart line for this product")
		}
		logger.Error("failed to get cart line", slog.Any("error", err))
		return fmt.Errorf("%s: failed to get cart line: %w", op, err)
	}

	if err := s.cartRepo.DeleteLineTx(ctx, tx, cart.ID, productID); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to delete cart line", slog.Any("error", err))
		return fmt.Errorf("%s: failed to delete cart line: %w", op, err)
	}

	newTotal := cart.TotalPrice.Sub(line.Subtotal())
	if err := s.cartRepo.UpdateTotalTx(ctx, tx, cart.ID, newTotal); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to update cart total", slog.Any("error", err))
		return fmt.Errorf("%s: failed to update cart total: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	logger.Info("line removed", slog.String("total", newTotal.String()))
	return nil
}

// GetCart возвращает корзину вместе со строками
func (s *cartService) GetCart(ctx context.Context, userID int64) (*CartView, error) {
	const op = "service.CartService.GetCart"
	logger := s.log.With(slog.String("op", op), slog.Int64("userID", userID))

	cart, err := s.cartRepo.GetCartByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrCartNotFound) {
			logger.Error("cart missing for registered user")
			return nil, apperr.NotFound("cart not found")
		}
		logger.Error("failed to get cart", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to get cart: %w", op, err)
	}

	lines, err := s.cartRepo.GetLinesByCartID(ctx, cart.ID)
	if err != nil {
		logger.Error("failed to get cart lines", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to get cart lines: %w", op, err)
	}

	return &CartView{Cart: cart, Lines: lines}, nil
}
