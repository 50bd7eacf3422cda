package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EventType — тип события нотификации
type EventType string

const (
	EventOrderStatusChanged    EventType = "order.status_changed"
	EventOrderPaymentRequested EventType = "order.payment_requested"
	EventOrderReceiptReady     EventType = "order.receipt_ready"
)

// Event — событие для асинхронных потребителей (почта, платёжная шина).
// Доставка at-least-once, потребители обязаны быть идемпотентными.
type Event struct {
	ID         string         `json:"event_id"`
	Type       EventType      `json:"type"`
	OrderID    int64          `json:"order_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// NewEvent собирает событие с уникальным id и текущим временем
func NewEvent(eventType EventType, orderID int64, payload map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OrderID:    orderID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// Notifier публикует события во внешнюю шину. Публикация best-effort:
// ошибки логируются вызывающей стороной и никогда не откатывают
// транзакцию, которая породила событие.
type Notifier interface {
	Publish(ctx context.Context, event Event) error
}

// LogNotifier — вариант без брокера: события уходят только в лог.
// Выбирается при старте, если брокеры kafka не настроены.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Publish(_ context.Context, event Event) error {
	n.log.Info("notification event",
		slog.String("eventID", event.ID),
		slog.String("type", string(event.Type)),
		slog.Int64("orderID", event.OrderID),
	)
	return nil
}
