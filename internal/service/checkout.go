package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/linemk/marketplace/internal/apperr"
	"github.com/linemk/marketplace/internal/domain/models"
	"github.com/linemk/marketplace/internal/notify"
	"github.com/linemk/marketplace/internal/storage"
)

// CheckoutService атомарно превращает корзину в заказы.
// Корзина с товарами нескольких продавцов делится: один заказ на продавца.
type CheckoutService interface {
	Checkout(ctx context.Context, userID, addressID int64) ([]int64, error)
}

type checkoutService struct {
	log         *slog.Logger
	db          *sql.DB
	cartRepo    storage.CartStorage
	orderRepo   storage.OrderStorage
	productRepo storage.ProductStorage
	addressRepo storage.AddressStorage
	notifier    notify.Notifier
}

func NewCheckoutService(
	log *slog.Logger,
	db *sql.DB,
	cartRepo storage.CartStorage,
	orderRepo storage.OrderStorage,
	productRepo storage.ProductStorage,
	addressRepo storage.AddressStorage,
	notifier notify.Notifier,
) CheckoutService {
	return &checkoutService{
		log:         log,
		db:          db,
		cartRepo:    cartRepo,
		orderRepo:   orderRepo,
		productRepo: productRepo,
		addressRepo: addressRepo,
		notifier:    notifier,
	}
}

// Checkout оформляет корзину пользователя: снимок строк в неизменяемые заказы
// плюс очистка корзины — всё или ничего, одной транзакцией.
// Если хотя бы один товар корзины к моменту оформления закончился,
// оформление отклоняется целиком.
func (s *checkoutService) Checkout(ctx context.Context, userID, addressID int64) ([]int64, error) {
	const op = "service.CheckoutService.Checkout"
	logger := s.log.With(slog.String("op", op), slog.Int64("userID", userID), slog.Int64("addressID", addressID))
	logger.Info("starting checkout")

	// Адрес проверяется до транзакции: бизнес-ошибки не должны стоить нам блокировок
	address, err := s.addressRepo.GetAddressByID(ctx, addressID)
	if err != nil {
		if errors.Is(err, storage.ErrAddressNotFound) {
			return nil, apperr.NotFound("delivery address not found")
		}
		logger.Error("failed to get address", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to get address: %w", op, err)
	}
	if address.OwnerID != userID {
		logger.Warn("address belongs to another user")
		return nil, apperr.PermissionDenied("delivery address belongs to another user")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	// Блокируем корзину на всю конвертацию: ни одна мутация корзины
	// не может вклиниться между чтением строк и их очисткой
	cart, err := s.cartRepo.LockCartByUserIDTx(ctx, tx, userID)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		if errors.Is(err, storage.ErrCartNotFound) {
			return nil, apperr.NotFound("cart not found")
		}
		logger.Error("failed to lock cart", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to lock cart: %w", op, err)
	}

	lines, err := s.cartRepo.GetLinesByCartIDTx(ctx, tx, cart.ID)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to get cart lines", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to get cart lines: %w", op, err)
	}
	if len(lines) == 0 {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Warn("cart is empty")
		return nil, apperr.FailedPrecondition("cart is empty")
	}

	// Делим строки по продавцам, попутно перепроверяя остатки
	type partition struct {
		sellerID int64
		lines    []*models.CartLine
		total    decimal.Decimal
	}
	partitions := make(map[int64]*partition)
	var sellerOrder []int64
	for _, line := range lines {
		product, err := s.productRepo.GetProductByIDTx(ctx, tx, line.ProductID)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Error("transaction rollback failed", slog.Any("error", rbErr))
			}
			if errors.Is(err, storage.ErrProductNotFound) {
				return nil, apperr.Newf(apperr.KindFailedPrecondition, "product %d is no longer available", line.ProductID)
			}
			logger.Error("failed to get product", slog.Any("error", err))
			return nil, fmt.Errorf("%s: failed to get product: %w", op, err)
		}
		if !product.Available(line.Quantity) {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Error("transaction rollback failed", slog.Any("error", rbErr))
			}
			logger.Warn("product went out of stock", slog.Int64("productID", line.ProductID))
			return nil, apperr.Newf(apperr.KindFailedPrecondition, "product %d is out of stock", line.ProductID)
		}

		p, ok := partitions[product.SellerID]
		if !ok {
			p = &partition{sellerID: product.SellerID, total: decimal.Zero}
			partitions[product.SellerID] = p
			sellerOrder = append(sellerOrder, product.SellerID)
		}
		p.lines = append(p.lines, line)
		p.total = p.total.Add(line.Subtotal())
	}

	// Один заказ на продавца, строки — снимки строк корзины
	orderIDs := make([]int64, 0, len(sellerOrder))
	for _, sellerID := range sellerOrder {
		p := partitions[sellerID]
		order := &models.Order{
			CustomerID: userID,
			SellerID:   p.sellerID,
			AddressID:  addressID,
			Status:     models.OrderStatusPending,
			TotalPrice: p.total,
		}
		orderID, err := s.orderRepo.CreateOrderTx(ctx, tx, order)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Error("transaction rollback failed", slog.Any("error", rbErr))
			}
			logger.Error("failed to create order", slog.Any("error", err))
			return nil, fmt.Errorf("%s: failed to create order: %w", op, err)
		}
		for _, line := range p.lines {
			orderLine := &models.OrderLine{
				OrderID:   orderID,
				ProductID: line.ProductID,
				Price:     line.Price,
				Quantity:  line.Quantity,
				Subtotal:  line.Subtotal(),
			}
			if err := s.orderRepo.CreateOrderLineTx(ctx, tx, orderLine); err != nil {
				if rbErr := tx.Rollback(); rbErr != nil {
					logger.Error("transaction rollback failed", slog.Any("error", rbErr))
				}
				logger.Error("failed to create order line", slog.Any("error", err))
				return nil, fmt.Errorf("%s: failed to create order line: %w", op, err)
			}
		}
		orderIDs = append(orderIDs, orderID)
	}

	// Очистка корзины в той же транзакции, что и создание заказов
	if err := s.cartRepo.ClearCartTx(ctx, tx, cart.ID); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to clear cart", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to clear cart: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	// Нотификации после коммита, best-effort: их сбой не трогает результат оформления
	for _, orderID := range orderIDs {
		event := notify.NewEvent(notify.EventOrderStatusChanged, orderID, map[string]any{
			"status": models.OrderStatusPending.String(),
		})
		if err := s.notifier.Publish(ctx, event); err != nil {
			logger.Error("failed to publish order created event", slog.Int64("orderID", orderID), slog.Any("error", err))
		}
	}

	logger.Info("checkout completed", slog.Int("orders", len(orderIDs)))
	return orderIDs, nil
}
