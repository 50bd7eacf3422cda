package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/linemk/marketplace/internal/jwt-new/jwtmiddleware"
	"github.com/linemk/marketplace/internal/service"
)

// CheckoutRequest — входной JSON для оформления корзины
type CheckoutRequest struct {
	AddressID int64 `json:"address_id" validate:"required,gt=0"`
}

// CheckoutResponse — идентификаторы созданных заказов (по одному на продавца)
type CheckoutResponse struct {
	OrderIDs []int64 `json:"order_ids"`
}

// CheckoutHandler обрабатывает запрос POST /api/checkout
func CheckoutHandler(log *slog.Logger, checkoutService service.CheckoutService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.CheckoutHandler"
		logger := log.With(slog.String("op", op))

		var req CheckoutRequest
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

		orderIDs, err := checkoutService.Checkout(r.Context(), userID, req.AddressID)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusCreated, CheckoutResponse{OrderIDs: orderIDs})
	}
}
