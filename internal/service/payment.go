package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/linemk/marketplace/internal/apperr"
	"github.com/linemk/marketplace/internal/domain/models"
	"github.com/linemk/marketplace/internal/gateway"
	"github.com/linemk/marketplace/internal/notify"
	"github.com/linemk/marketplace/internal/storage"
)

// PaymentService ведёт заказ по машине статусов и общается с платёжным шлюзом.
// Переходы одного заказа сериализуются блокировкой его строки.
type PaymentService interface {
	SubmitPayment(ctx context.Context, userID, orderID int64, method gateway.PaymentMethod, details map[string]string) (*PaymentSubmission, error)
	ConfirmPaymentSuccess(ctx context.Context, orderID int64) error
	ConfirmPaymentFailure(ctx context.Context, orderID int64) error
	UpdateStatus(ctx context.Context, orderID, actorID int64, newStatus models.OrderStatus) error
}

// PaymentSubmission — результат принятого шлюзом платежа
type PaymentSubmission struct {
	Reference   string `json:"reference"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

type paymentService struct {
	log            *slog.Logger
	db             *sql.DB
	orderRepo      storage.OrderStorage
	gateway        gateway.Gateway
	notifier       notify.Notifier
	gatewayTimeout time.Duration
}

func NewPaymentService(
	log *slog.Logger,
	db *sql.DB,
	orderRepo storage.OrderStorage,
	gw gateway.Gateway,
	notifier notify.Notifier,
	gatewayTimeout time.Duration,
) PaymentService {
	return &paymentService{
		log:            log,
		db:             db,
		orderRepo:      orderRepo,
		gateway:        gw,
		notifier:       notifier,
		gatewayTimeout: gatewayTimeout,
	}
}

// SubmitPayment отправляет заказ в шлюз. Сбой или таймаут шлюза — Unavailable,
// заказ остаётся PENDING: неоднозначный исход не должен менять статус,
// вызывающая сторона может повторить попытку.
func (s *paymentService) SubmitPayment(ctx context.Context, userID, orderID int64, method gateway.PaymentMethod, details map[string]string) (*PaymentSubmission, error) {
	const op = "service.PaymentService.SubmitPayment"
	logger := s.log.With(slog.String("op", op), slog.Int64("userID", userID), slog.Int64("orderID", orderID))
	logger.Info("submitting payment")

	order, err := s.orderRepo.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrOrderNotFound) {
			return nil, apperr.NotFound("order not found")
		}
		logger.Error("failed to get order", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to get order: %w", op, err)
	}
	if order.CustomerID != userID {
		logger.Warn("order belongs to another customer")
		return nil, apperr.PermissionDenied("order belongs to another customer")
	}
	if order.Status != models.OrderStatusPending {
		logger.Warn("order is not pending", slog.String("status", order.Status.String()))
		return nil, apperr.Newf(apperr.KindFailedPrecondition, "payment can only be submitted for a PENDING order, current status is %s", order.Status)
	}

	// Шлюз вызывается под ограниченным таймаутом, повторов с нашей стороны нет
	gwCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	result, err := s.gateway.Process(gwCtx, gateway.ProcessRequest{
		OrderID: orderID,
		Amount:  order.TotalPrice,
		Method:  method,
		Details: details,
	})
	if err != nil {
		logger.Error("payment gateway call failed", slog.Any("error", err))
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperr.Unavailable("payment gateway timed out")
		}
		return nil, apperr.Wrap(apperr.KindUnavailable, "payment gateway is unavailable", err)
	}
	if !result.Accepted {
		logger.Warn("payment gateway rejected the request")
		return nil, apperr.Unavailable("payment gateway rejected the request")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	locked, err := s.orderRepo.LockOrderByIDTx(ctx, tx, orderID)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to lock order", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to lock order: %w", op, err)
	}
	// Перепроверка под блокировкой: статус мог смениться, пока мы ждали шлюз
	if locked.Status != models.OrderStatusPending {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		return nil, apperr.Newf(apperr.KindFailedPrecondition, "order status changed to %s during payment submission", locked.Status)
	}

	if err := s.orderRepo.UpdateStatusTx(ctx, tx, orderID, models.OrderStatusAwaitingPayment); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to update order status", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to update order status: %w", op, err)
	}
	if err := s.orderRepo.SetPaymentReferenceTx(ctx, tx, orderID, result.Reference); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to store payment reference", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to store payment reference: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	event := notify.NewEvent(notify.EventOrderPaymentRequested, orderID, map[string]any{
		"reference": result.Reference,
		"amount":    order.TotalPrice.String(),
	})
	if err := s.notifier.Publish(ctx, event); err != nil {
		logger.Error("failed to publish payment requested event", slog.Any("error", err))
	}

	logger.Info("payment submitted", slog.String("reference", result.Reference))
	return &PaymentSubmission{Reference: result.Reference, RedirectURL: result.RedirectURL}, nil
}

// ConfirmPaymentSuccess обрабатывает вебхук об успешной оплате. Идемпотентен:
// вебхуки доставляются минимум один раз, повтор для уже оплаченного заказа —
// успешный no-op без второй нотификации.
func (s *paymentService) ConfirmPaymentSuccess(ctx context.Context, orderID int64) error {
	const op = "service.PaymentService.ConfirmPaymentSuccess"
	logger := s.log.With(slog.String("op", op), slog.Int64("orderID", orderID))
	logger.Info("confirming payment success")

	transitioned, err := s.confirmTransition(ctx, logger, op, orderID, models.OrderStatusPaid)
	if err != nil {
		return err
	}
	if !transitioned {
		logger.Info("order already paid, duplicate webhook ignored")
		return nil
	}

	// Нотификации только на первом переходе, ровно один раз
	statusEvent := notify.NewEvent(notify.EventOrderStatusChanged, orderID, map[string]any{
		"status": models.OrderStatusPaid.String(),
	})
	if err := s.notifier.Publish(ctx, statusEvent); err != nil {
		logger.Error("failed to publish status changed event", slog.Any("error", err))
	}
	receiptEvent := notify.NewEvent(notify.EventOrderReceiptReady, orderID, nil)
	if err := s.notifier.Publish(ctx, receiptEvent); err != nil {
		logger.Error("failed to publish receipt event", slog.Any("error", err))
	}

	logger.Info("payment confirmed")
	return nil
}

// ConfirmPaymentFailure обрабатывает вебхук о неуспехе оплаты, тоже идемпотентно
func (s *paymentService) ConfirmPaymentFailure(ctx context.Context, orderID int64) error {
	const op = "service.PaymentService.ConfirmPaymentFailure"
	logger := s.log.With(slog.String("op", op), slog.Int64("orderID", orderID))
	logger.Info("confirming payment failure")

	transitioned, err := s.confirmTransition(ctx, logger, op, orderID, models.OrderStatusPaymentFailed)
	if err != nil {
		return err
	}
	if !transitioned {
		logger.Info("order already marked as failed, duplicate webhook ignored")
		return nil
	}

	event := notify.NewEvent(notify.EventOrderStatusChanged, orderID, map[string]any{
		"status": models.OrderStatusPaymentFailed.String(),
	})
	if err := s.notifier.Publish(ctx, event); err != nil {
		logger.Error("failed to publish status changed event", slog.Any("error", err))
	}
	return nil
}

// confirmTransition выполняет переход из AWAITING_PAYMENT под блокировкой заказа.
// Возвращает false без ошибки, если заказ уже в целевом статусе (повторный вебхук).
func (s *paymentService) confirmTransition(ctx context.Context, logger *slog.Logger, op string, orderID int64, target models.OrderStatus) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return false, fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	order, err := s.orderRepo.LockOrderByIDTx(ctx, tx, orderID)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		if errors.Is(err, storage.ErrOrderNotFound) {
			return false, apperr.NotFound("order not found")
		}
		logger.Error("failed to lock order", slog.Any("error", err))
		return false, fmt.Errorf("%s: failed to lock order: %w", op, err)
	}

	if order.Status == target {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		return false, nil
	}
	if order.Status != models.OrderStatusAwaitingPayment {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		return false, apperr.Newf(apperr.KindFailedPrecondition, "cannot confirm payment for order in status %s", order.Status)
	}

	if err := s.orderRepo.UpdateStatusTx(ctx, tx, orderID, target); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to update order status", slog.Any("error", err))
		return false, fmt.Errorf("%s: failed to update order status: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return false, fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}
	return true, nil
}

// UpdateStatus выполняет переход, инициированный участником сделки:
// отгрузку подтверждает продавец, доставку — покупатель,
// отменить неконечный заказ может любой из них.
func (s *paymentService) UpdateStatus(ctx context.Context, orderID, actorID int64, newStatus models.OrderStatus) error {
	const op = "service.PaymentService.UpdateStatus"
	logger := s.log.With(slog.String("op", op), slog.Int64("orderID", orderID), slog.Int64("actorID", actorID), slog.String("newStatus", newStatus.String()))
	logger.Info("updating order status")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	order, err := s.orderRepo.LockOrderByIDTx(ctx, tx, orderID)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		if errors.Is(err, storage.ErrOrderNotFound) {
			return apperr.NotFound("order not found")
		}
		logger.Error("failed to lock order", slog.Any("error", err))
		return fmt.Errorf("%s: failed to lock order: %w", op, err)
	}

	if !order.Status.CanTransitionTo(newStatus) {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Warn("illegal status transition", slog.String("from", order.Status.String()))
		return apperr.Newf(apperr.KindFailedPrecondition, "cannot transition order from %s to %s", order.Status, newStatus)
	}

	var allowed bool
	switch newStatus {
	case models.OrderStatusShipped:
		allowed = actorID == order.SellerID
	case models.OrderStatusDelivered:
		allowed = actorID == order.CustomerID
	case models.OrderStatusCancelled:
		allowed = actorID == order.CustomerID || actorID == order.SellerID
	default:
		// Платёжные статусы меняются только шлюзом и вебхуками
		allowed = false
	}
	if !allowed {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Warn("actor is not authorized for this transition")
		return apperr.PermissionDenied("actor is not authorized for this transition")
	}

	if err := s.orderRepo.UpdateStatusTx(ctx, tx, orderID, newStatus); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to update order status", slog.Any("error", err))
		return fmt.Errorf("%s: failed to update order status: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	event := notify.NewEvent(notify.EventOrderStatusChanged, orderID, map[string]any{
		"status": newStatus.String(),
	})
	if err := s.notifier.Publish(ctx, event); err != nil {
		logger.Error("failed to publish status changed event", slog.Any("error", err))
	}

	logger.Info("order status updated")
	return nil
}
