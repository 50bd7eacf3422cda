package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// PaymentMethod — способ оплаты, передаётся шлюзу как есть
type PaymentMethod string

const (
	MethodCard   PaymentMethod = "CARD"
	MethodWallet PaymentMethod = "WALLET"
)

var ErrGatewayRejected = errors.New("payment gateway rejected the request")

// ProcessRequest — запрос на проведение платежа по заказу
type ProcessRequest struct {
	OrderID int64
	Amount  decimal.Decimal
	Method  PaymentMethod
	Details map[string]string
}

// ProcessResult — ответ шлюза: ссылка для корреляции вебхука
// и, опционально, URL для редиректа плательщика.
type ProcessResult struct {
	Reference   string
	RedirectURL string
	Accepted    bool
}

// Gateway — внешний платёжный процессор. Вызов синхронный и потенциально
// медленный: вызывающая сторона обязана ограничивать его таймаутом через ctx.
// Повторов со стороны оркестратора нет (at-most-once).
type Gateway interface {
	Process(ctx context.Context, req ProcessRequest) (*ProcessResult, error)
}
