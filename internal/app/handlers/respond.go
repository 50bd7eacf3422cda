package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/linemk/marketplace/internal/apperr"
)

// ErrorResponse — структурированная ошибка для клиента: категория плюс сообщение,
// без внутренних текстов БД и стектрейсов.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusForKind отображает категорию бизнес-ошибки на HTTP-статус
func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindFailedPrecondition:
		return http.StatusUnprocessableEntity
	case apperr.KindPermissionDenied:
		return http.StatusForbidden
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	kind := apperr.KindOf(err)
	status := statusForKind(kind)
	if status == http.StatusInternalServerError {
		logger.Error("internal error", slog.Any("error", err))
	} else {
		logger.Warn("request failed", slog.String("kind", kind.String()), slog.Any("error", err))
	}
	writeJSON(w, logger, status, ErrorResponse{Error: kind.String(), Message: apperr.MessageOf(err)})
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("failed to encode response", slog.Any("error", err))
	}
}
