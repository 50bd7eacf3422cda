package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// MockGateway — шлюз для разработки и тестов: всегда принимает платёж
// и выдаёт уникальную ссылку. Подтверждение приходит отдельным вебхуком,
// как и у настоящего процессора.
type MockGateway struct {
	redirectBase string
}

func NewMockGateway(redirectBase string) *MockGateway {
	return &MockGateway{redirectBase: redirectBase}
}

func (g *MockGateway) Process(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reference := fmt.Sprintf("TXN-%s", uuid.NewString())
	return &ProcessResult{
		Reference:   reference,
		RedirectURL: fmt.Sprintf("%s/pay/%s", g.redirectBase, reference),
		Accepted:    true,
	}, nil
}

// DisabledGateway — заглушка для окружений без платежей: любой запрос
// завершается ошибкой, заказы остаются в PENDING.
type DisabledGateway struct{}

func NewDisabledGateway() *DisabledGateway {
	return &DisabledGateway{}
}

func (g *DisabledGateway) Process(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	return nil, errors.New("payments are disabled in this environment")
}
