package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/linemk/marketplace/internal/domain/models"
	"github.com/linemk/marketplace/internal/gateway"
	"github.com/linemk/marketplace/internal/jwt-new/jwtmiddleware"
	"github.com/linemk/marketplace/internal/service"
)

// SubmitPaymentRequest — входной JSON для отправки платежа по заказу
type SubmitPaymentRequest struct {
	Method  string            `json:"method" validate:"required,oneof=CARD WALLET"`
	Details map[string]string `json:"details"`
}

// UpdateStatusRequest — входной JSON для смены статуса заказа участником сделки
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=SHIPPED DELIVERED CANCELLED"`
}

// PaymentWebhookRequest — полезная нагрузка вебхука платёжного шлюза.
// Вебхук может прийти повторно, обработка идемпотентна.
type PaymentWebhookRequest struct {
	OrderID   int64 `json:"order_id" validate:"required,gt=0"`
	Succeeded bool  `json:"succeeded"`
}

func orderIDFromURL(r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "orderID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// SubmitPaymentHandler обрабатывает запрос POST /api/orders/{orderID}/payment
func SubmitPaymentHandler(log *slog.Logger, paymentService service.PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.SubmitPaymentHandler"
		logger := log.With(slog.String("op", op))

		orderID, ok := orderIDFromURL(r)
		if !ok {
			logger.Error("invalid orderID parameter")
			http.Error(w, "invalid order id", http.StatusBadRequest)
			return
		}

		var req SubmitPaymentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("invalid request: decoding error", slog.Any("error", err))
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			logger.Error("invalid request: validation error", slog.Any("error", err))
			http.Error(w, "validation error", http.StatusBadRequest)
			return
		}

		userID, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			logger.Error("userID not found in context")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		submission, err := paymentService.SubmitPayment(r.Context(), userID, orderID, gateway.PaymentMethod(req.Method), req.Details)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, submission)
	}
}

// UpdateOrderStatusHandler обрабатывает запрос POST /api/orders/{orderID}/status
func UpdateOrderStatusHandler(log *slog.Logger, paymentService service.PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.UpdateOrderStatusHandler"
		logger := log.With(slog.String("op", op))

		orderID, ok := orderIDFromURL(r)
		if !ok {
			logger.Error("invalid orderID parameter")
			http.Error(w, "invalid order id", http.StatusBadRequest)
			return
		}

		var req UpdateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("invalid request: decoding error", slog.Any("error", err))
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			logger.Error("invalid request: validation error", slog.Any("error", err))
			http.Error(w, "validation error", http.StatusBadRequest)
			return
		}

		userID, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			logger.Error("userID not found in context")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		if err := paymentService.UpdateStatus(r.Context(), orderID, userID, models.OrderStatus(req.Status)); err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, map[string]string{"message": "status updated"})
	}
}

// PaymentWebhookHandler обрабатывает запрос POST /api/webhooks/payment.
// Эндпоинт публичный: его зовёт шлюз, а не пользователь.
func PaymentWebhookHandler(log *slog.Logger, paymentService service.PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.PaymentWebhookHandler"
		logger := log.With(slog.String("op", op))

		var req PaymentWebhookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("invalid webhook payload", slog.Any("error", err))
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			logger.Error("invalid webhook payload: validation error", slog.Any("error", err))
			http.Error(w, "validation error", http.StatusBadRequest)
			return
		}

		var err error
		if req.Succeeded {
			err = paymentService.ConfirmPaymentSuccess(r.Context(), req.OrderID)
		} else {
			err = paymentService.ConfirmPaymentFailure(r.Context(), req.OrderID)
		}
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, map[string]string{"message": "ok"})
	}
}
