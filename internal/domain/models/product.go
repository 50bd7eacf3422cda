package models

import "github.com/shopspring/decimal"

// Product представляет товар каталога, доступный для добавления в корзину
type Product struct {
	ID            int64           `json:"id"`
	SellerID      int64           `json:"seller_id"` // владелец товара, по нему корзина делится на заказы
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"` // текущая цена каталога
	StockQuantity int             `json:"stock_quantity"`
	InStock       bool            `json:"in_stock"`
}

// Available сообщает, можно ли сейчас купить quantity единиц товара
func (p *Product) Available(quantity int) bool {
	return p.InStock && p.StockQuantity >= quantity
}
