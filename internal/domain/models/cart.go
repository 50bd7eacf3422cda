package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Cart представляет единственную активную корзину пользователя.
// TotalPrice — кэшированная сумма по строкам, поддерживается инкрементально:
// каждая мутация строки обновляет её в той же транзакции.
type Cart struct {
	ID         int64           `json:"id"`
	UserID     int64           `json:"user_id"`
	TotalPrice decimal.Decimal `json:"total_price"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// CartLine представляет строку корзины: один товар с зафиксированной ценой.
// Price — снимок цены каталога на момент добавления, не живая цена товара.
type CartLine struct {
	ID        int64           `json:"id"`
	CartID    int64           `json:"cart_id"`
	ProductID int64           `json:"product_id"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	CreatedAt time.Time       `json:"created_at"`
}

// Subtotal возвращает стоимость строки: цена × количество
func (l *CartLine) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}
