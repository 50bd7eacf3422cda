package service_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/linemk/marketplace/internal/apperr"
	"github.com/linemk/marketplace/internal/domain/models"
	"github.com/linemk/marketplace/internal/notify"
	"github.com/linemk/marketplace/internal/service"
)

// seedCartLine кладёт строку прямо в фиктивное хранилище и наращивает итог корзины
func seedCartLine(repo *fakeCartRepo, cartID, productID int64, unitPrice string, quantity int) {
	line := &models.CartLine{
		CartID:    cartID,
		ProductID: productID,
		Price:     price(unitPrice),
		Quantity:  quantity,
	}
	repo.nextID++
	line.ID = repo.nextID
	repo.lines[cartID][productID] = line
	cart := repo.cartByID(cartID)
	cart.TotalPrice = cart.TotalPrice.Add(line.Subtotal())
}

type checkoutEnv struct {
	cartRepo    *fakeCartRepo
	orderRepo   *fakeOrderRepo
	productRepo *fakeProductRepo
	addressRepo *fakeAddressRepo
	notifier    *fakeNotifier
}

func newCheckoutEnv() *checkoutEnv {
	env := &checkoutEnv{
		cartRepo:    newFakeCartRepo(),
		orderRepo:   newFakeOrderRepo(),
		productRepo: newFakeProductRepo(),
		addressRepo: newFakeAddressRepo(),
		notifier:    newFakeNotifier(),
	}
	env.cartRepo.addCart(1, 10)
	env.addressRepo.addresses[7] = &models.Address{ID: 7, OwnerID: 1, City: "Moscow"}
	return env
}

func TestCheckoutService_Checkout_SingleSeller(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	env := newCheckoutEnv()
	env.productRepo.products[5] = &models.Product{ID: 5, SellerID: 2, Price: price("10.00"), StockQuantity: 5, InStock: true}
	env.productRepo.products[6] = &models.Product{ID: 6, SellerID: 2, Price: price("2.50"), StockQuantity: 5, InStock: true}
	seedCartLine(env.cartRepo, 10, 5, "10.00", 2)
	seedCartLine(env.cartRepo, 10, 6, "2.50", 1)

	svc := service.NewCheckoutService(testLogger(), db, env.cartRepo, env.orderRepo, env.productRepo, env.addressRepo, env.notifier)

	orderIDs, err := svc.Checkout(context.Background(), 1, 7)
	assert.NoError(t, err, "checkout should succeed")
	assert.Len(t, orderIDs, 1, "single seller cart should produce one order")

	order, err := env.orderRepo.GetOrderByID(context.Background(), orderIDs[0])
	assert.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, int64(1), order.CustomerID)
	assert.Equal(t, int64(2), order.SellerID)
	assert.Equal(t, int64(7), order.AddressID)
	assert.True(t, order.TotalPrice.Equal(price("22.50")), "order total should equal cart total, got %s", order.TotalPrice)

	lines, err := env.orderRepo.GetOrderLinesByOrderID(context.Background(), orderIDs[0])
	assert.NoError(t, err)
	assert.Len(t, lines, 2)
	sum := decimal.Zero
	for _, line := range lines {
		assert.True(t, line.Subtotal.Equal(line.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))))
		sum = sum.Add(line.Subtotal)
	}
	assert.True(t, sum.Equal(order.TotalPrice), "line subtotals should add up to the order total")

	// корзина очищена в той же транзакции
	cart, err := env.cartRepo.GetCartByUserID(context.Background(), 1)
	assert.NoError(t, err)
	assert.True(t, cart.TotalPrice.IsZero(), "cart total should reset to zero")
	remaining, err := env.cartRepo.GetLinesByCartID(context.Background(), 10)
	assert.NoError(t, err)
	assert.Empty(t, remaining, "cart lines should be cleared")

	assert.Equal(t, 1, env.notifier.countByType(notify.EventOrderStatusChanged))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutService_Checkout_SplitsBySeller(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	env := newCheckoutEnv()
	env.productRepo.products[5] = &models.Product{ID: 5, SellerID: 2, Price: price("10.00"), StockQuantity: 5, InStock: true}
	env.productRepo.products[8] = &models.Product{ID: 8, SellerID: 3, Price: price("4.00"), StockQuantity: 5, InStock: true}
	seedCartLine(env.cartRepo, 10, 5, "10.00", 1)
	seedCartLine(env.cartRepo, 10, 8, "4.00", 2)

	svc := service.NewCheckoutService(testLogger(), db, env.cartRepo, env.orderRepo, env.productRepo, env.addressRepo, env.notifier)

	orderIDs, err := svc.Checkout(context.Background(), 1, 7)
	assert.NoError(t, err)
	assert.Len(t, orderIDs, 2, "two sellers should produce two orders")

	totalsBySeller := make(map[int64]decimal.Decimal)
	for _, id := range orderIDs {
		order, err := env.orderRepo.GetOrderByID(context.Background(), id)
		assert.NoError(t, err)
		totalsBySeller[order.SellerID] = order.TotalPrice
	}
	assert.True(t, totalsBySeller[2].Equal(price("10.00")), "first seller order total mismatch")
	assert.True(t, totalsBySeller[3].Equal(price("8.00")), "second seller order total mismatch")

	assert.Equal(t, 2, env.notifier.countByType(notify.EventOrderStatusChanged))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutService_Checkout_EmptyCart(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	env := newCheckoutEnv()
	svc := service.NewCheckoutService(testLogger(), db, env.cartRepo, env.orderRepo, env.productRepo, env.addressRepo, env.notifier)

	_, err = svc.Checkout(context.Background(), 1, 7)
	assert.Error(t, err, "empty cart checkout should fail")
	assert.Equal(t, apperr.KindFailedPrecondition, apperr.KindOf(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutService_Checkout_AddressNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	env := newCheckoutEnv()
	svc := service.NewCheckoutService(testLogger(), db, env.cartRepo, env.orderRepo, env.productRepo, env.addressRepo, env.notifier)

	_, err = svc.Checkout(context.Background(), 1, 99)
	assert.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	// адрес проверяется до транзакции
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutService_Checkout_ForeignAddress(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	env := newCheckoutEnv()
	env.addressRepo.addresses[8] = &models.Address{ID: 8, OwnerID: 2}
	svc := service.NewCheckoutService(testLogger(), db, env.cartRepo, env.orderRepo, env.productRepo, env.addressRepo, env.notifier)

	_, err = svc.Checkout(context.Background(), 1, 8)
	assert.Error(t, err)
	assert.Equal(t, apperr.KindPermissionDenied, apperr.KindOf(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutService_Checkout_OutOfStockRejectsWholeCart(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	env := newCheckoutEnv()
	env.productRepo.products[5] = &models.Product{ID: 5, SellerID: 2, Price: price("10.00"), StockQuantity: 5, InStock: true}
	// товар закончился после добавления в корзину
	env.productRepo.products[6] = &models.Product{ID: 6, SellerID: 2, Price: price("2.50"), StockQuantity: 0, InStock: false}
	seedCartLine(env.cartRepo, 10, 5, "10.00", 1)
	seedCartLine(env.cartRepo, 10, 6, "2.50", 1)

	svc := service.NewCheckoutService(testLogger(), db, env.cartRepo, env.orderRepo, env.productRepo, env.addressRepo, env.notifier)

	_, err = svc.Checkout(context.Background(), 1, 7)
	assert.Error(t, err, "checkout should reject the whole cart")
	assert.Equal(t, apperr.KindFailedPrecondition, apperr.KindOf(err))

	// корзина не тронута
	cart, err := env.cartRepo.GetCartByUserID(context.Background(), 1)
	assert.NoError(t, err)
	assert.True(t, cart.TotalPrice.Equal(price("12.50")), "cart total should stay intact")
	lines, err := env.cartRepo.GetLinesByCartID(context.Background(), 10)
	assert.NoError(t, err)
	assert.Len(t, lines, 2)

	assert.Equal(t, 0, env.notifier.countByType(notify.EventOrderStatusChanged))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutService_Checkout_StoreFailureRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	env := newCheckoutEnv()
	env.orderRepo.failCreateLine = true
	env.productRepo.products[5] = &models.Product{ID: 5, SellerID: 2, Price: price("10.00"), StockQuantity: 5, InStock: true}
	seedCartLine(env.cartRepo, 10, 5, "10.00", 1)

	svc := service.NewCheckoutService(testLogger(), db, env.cartRepo, env.orderRepo, env.productRepo, env.addressRepo, env.notifier)

	_, err = svc.Checkout(context.Background(), 1, 7)
	assert.Error(t, err, "checkout should fail when an order line cannot be written")

	// корзина остаётся как была, событий нет
	cart, err := env.cartRepo.GetCartByUserID(context.Background(), 1)
	assert.NoError(t, err)
	assert.True(t, cart.TotalPrice.Equal(price("10.00")))
	assert.Equal(t, 0, env.notifier.countByType(notify.EventOrderStatusChanged))

	assert.NoError(t, mock.ExpectationsWereMet(), "transaction must be rolled back")
}
