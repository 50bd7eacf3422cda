package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus — статус заказа, меняется только оркестратором платежей
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusAwaitingPayment OrderStatus = "AWAITING_PAYMENT"
	OrderStatusPaid            OrderStatus = "PAID"
	OrderStatusPaymentFailed   OrderStatus = "PAYMENT_FAILED"
	OrderStatusShipped         OrderStatus = "SHIPPED"
	OrderStatusDelivered       OrderStatus = "DELIVERED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
)

// IsTerminal сообщает, является ли статус конечным
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusPaymentFailed || s == OrderStatusCancelled
}

// CanTransitionTo проверяет переход по таблице состояний заказа.
// CANCELLED достижим из любого неконечного статуса.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if next == OrderStatusCancelled {
		return !s.IsTerminal()
	}
	switch s {
	case OrderStatusPending:
		return next == OrderStatusAwaitingPayment
	case OrderStatusAwaitingPayment:
		return next == OrderStatusPaid || next == OrderStatusPaymentFailed
	case OrderStatusPaid:
		return next == OrderStatusShipped
	case OrderStatusShipped:
		return next == OrderStatusDelivered
	default:
		return false
	}
}

// String representation (for logging)
func (s OrderStatus) String() string {
	return string(s)
}

// Order — неизменяемая запись завершённого оформления. Заказ всегда принадлежит
// одному продавцу: корзина с товарами нескольких продавцов делится на несколько заказов.
type Order struct {
	ID               int64           `json:"id"`
	CustomerID       int64           `json:"customer_id"`
	SellerID         int64           `json:"seller_id"`
	AddressID        int64           `json:"address_id"`
	Status           OrderStatus     `json:"status"`
	TotalPrice       decimal.Decimal `json:"total_price"` // фиксируется при создании
	PaymentReference string          `json:"payment_reference,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// OrderLine — снимок строки корзины на момент оформления
type OrderLine struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	ProductID int64           `json:"product_id"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"` // хранится, не пересчитывается
}
