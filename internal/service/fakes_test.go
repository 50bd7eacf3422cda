package service_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/linemk/marketplace/internal/domain/models"
	"github.com/linemk/marketplace/internal/gateway"
	"github.com/linemk/marketplace/internal/notify"
	"github.com/linemk/marketplace/internal/storage"
)

// fakeCartRepo — фиктивная реализация CartStorage. Блокировка строки корзины
// эмулируется каналом-семафором: захват в LockCartByUserIDTx, освобождение
// в UpdateTotalTx/ClearCartTx (последний шаг транзакции сервиса).
type fakeCartRepo struct {
	mu      sync.Mutex
	rowLock chan struct{}
	carts   map[int64]*models.Cart               // ключ — userID
	lines   map[int64]map[int64]*models.CartLine // cartID -> productID -> строка
	nextID  int64

	failUpdateTotal bool
	failClear       bool
}

var _ storage.CartStorage = (*fakeCartRepo)(nil)

func newFakeCartRepo() *fakeCartRepo {
	return &fakeCartRepo{
		rowLock: make(chan struct{}, 1),
		carts:   make(map[int64]*models.Cart),
		lines:   make(map[int64]map[int64]*models.CartLine),
	}
}

func (f *fakeCartRepo) addCart(userID, cartID int64) *models.Cart {
	cart := &models.Cart{ID: cartID, UserID: userID, TotalPrice: decimal.Zero, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.carts[userID] = cart
	f.lines[cartID] = make(map[int64]*models.CartLine)
	return cart
}

func (f *fakeCartRepo) cartByID(cartID int64) *models.Cart {
	for _, c := range f.carts {
		if c.ID == cartID {
			return c
		}
	}
	return nil
}

func (f *fakeCartRepo) releaseRowLock() {
	select {
	case <-f.rowLock:
	default:
	}
}

func (f *fakeCartRepo) GetCartByUserID(ctx context.Context, userID int64) (*models.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cart, ok := f.carts[userID]
	if !ok {
		return nil, storage.ErrCartNotFound
	}
	copied := *cart
	return &copied, nil
}

func (f *fakeCartRepo) CreateCart(ctx context.Context, userID int64) (*models.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return f.addCart(userID, f.nextID+100), nil
}

func (f *fakeCartRepo) LockCartByUserIDTx(ctx context.Context, tx *sql.Tx, userID int64) (*models.Cart, error) {
	f.mu.Lock()
	_, ok := f.carts[userID]
	f.mu.Unlock()
	if !ok {
		return nil, storage.ErrCartNotFound
	}
	f.rowLock <- struct{}{} // эмуляция FOR UPDATE
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *f.carts[userID]
	return &copied, nil
}

func (f *fakeCartRepo) GetLinesByCartID(ctx context.Context, cartID int64) ([]*models.CartLine, error) {
	return f.GetLinesByCartIDTx(ctx, nil, cartID)
}

func (f *fakeCartRepo) GetLinesByCartIDTx(ctx context.Context, tx *sql.Tx, cartID int64) ([]*models.CartLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*models.CartLine
	for _, line := range f.lines[cartID] {
		copied := *line
		result = append(result, &copied)
	}
	return result, nil
}

func (f *fakeCartRepo) GetLineTx(ctx context.Context, tx *sql.Tx, cartID, productID int64) (*models.CartLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	line, ok := f.lines[cartID][productID]
	if !ok {
		return nil, storage.ErrCartLineNotFound
	}
	copied := *line
	return &copied, nil
}

func (f *fakeCartRepo) InsertLineTx(ctx context.Context, tx *sql.Tx, line *models.CartLine) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.lines[line.CartID][line.ProductID]; ok {
		return storage.ErrDuplicateCartLine
	}
	f.nextID++
	line.ID = f.nextID
	copied := *line
	f.lines[line.CartID][line.ProductID] = &copied
	return nil
}

func (f *fakeCartRepo) UpdateLineQuantityTx(ctx context.Context, tx *sql.Tx, cartID, productID int64, quantity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	line, ok := f.lines[cartID][productID]
	if !ok {
		return storage.ErrCartLineNotFound
	}
	line.Quantity = quantity
	return nil
}

func (f *fakeCartRepo) DeleteLineTx(ctx context.Context, tx *sql.Tx, cartID, productID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.lines[cartID][productID]; !ok {
		return storage.ErrCartLineNotFound
	}
	delete(f.lines[cartID], productID)
	return nil
}

func (f *fakeCartRepo) UpdateTotalTx(ctx context.Context, tx *sql.Tx, cartID int64, total decimal.Decimal) error {
	defer f.releaseRowLock()
	if f.failUpdateTotal {
		return errors.New("simulated store failure")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cart := f.cartByID(cartID)
	if cart == nil {
		return storage.ErrCartNotFound
	}
	cart.TotalPrice = total
	return nil
}

func (f *fakeCartRepo) ClearCartTx(ctx context.Context, tx *sql.Tx, cartID int64) error {
	defer f.releaseRowLock()
	if f.failClear {
		return errors.New("simulated store failure")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cart := f.cartByID(cartID)
	if cart == nil {
		return storage.ErrCartNotFound
	}
	f.lines[cartID] = make(map[int64]*models.CartLine)
	cart.TotalPrice = decimal.Zero
	return nil
}

// fakeOrderRepo — фиктивная реализация OrderStorage
type fakeOrderRepo struct {
	mu     sync.Mutex
	orders map[int64]*models.Order
	lines  map[int64][]*models.OrderLine
	nextID int64

	failCreateOrder bool
	failCreateLine  bool
}

var _ storage.OrderStorage = (*fakeOrderRepo)(nil)

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{
		orders: make(map[int64]*models.Order),
		lines:  make(map[int64][]*models.OrderLine),
	}
}

func (f *fakeOrderRepo) addOrder(order *models.Order) {
	f.orders[order.ID] = order
}

func (f *fakeOrderRepo) CreateOrderTx(ctx context.Context, tx *sql.Tx, order *models.Order) (int64, error) {
	if f.failCreateOrder {
		return 0, errors.New("simulated store failure")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	order.ID = f.nextID
	copied := *order
	f.orders[order.ID] = &copied
	return order.ID, nil
}

func (f *fakeOrderRepo) CreateOrderLineTx(ctx context.Context, tx *sql.Tx, line *models.OrderLine) error {
	if f.failCreateLine {
		return errors.New("simulated store failure")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	line.ID = f.nextID
	copied := *line
	f.lines[line.OrderID] = append(f.lines[line.OrderID], &copied)
	return nil
}

func (f *fakeOrderRepo) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[id]
	if !ok {
		return nil, storage.ErrOrderNotFound
	}
	copied := *order
	return &copied, nil
}

func (f *fakeOrderRepo) LockOrderByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error) {
	return f.GetOrderByID(ctx, id)
}

func (f *fakeOrderRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id int64, status models.OrderStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[id]
	if !ok {
		return storage.ErrOrderNotFound
	}
	order.Status = status
	return nil
}

func (f *fakeOrderRepo) SetPaymentReferenceTx(ctx context.Context, tx *sql.Tx, id int64, reference string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[id]
	if !ok {
		return storage.ErrOrderNotFound
	}
	order.PaymentReference = reference
	return nil
}

func (f *fakeOrderRepo) GetOrderLinesByOrderID(ctx context.Context, orderID int64) ([]*models.OrderLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lines[orderID], nil
}

func (f *fakeOrderRepo) GetOrdersByCustomerID(ctx context.Context, customerID int64) ([]*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*models.Order
	for _, order := range f.orders {
		if order.CustomerID == customerID {
			copied := *order
			result = append(result, &copied)
		}
	}
	return result, nil
}

// fakeProductRepo — фиктивный каталог
type fakeProductRepo struct {
	products map[int64]*models.Product
}

var _ storage.ProductStorage = (*fakeProductRepo)(nil)

func newFakeProductRepo() *fakeProductRepo {
	return &fakeProductRepo{products: make(map[int64]*models.Product)}
}

func (f *fakeProductRepo) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	product, ok := f.products[id]
	if !ok {
		return nil, storage.ErrProductNotFound
	}
	return product, nil
}

func (f *fakeProductRepo) GetProductByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Product, error) {
	return f.GetProductByID(ctx, id)
}

// fakeAddressRepo — фиктивная адресная книга
type fakeAddressRepo struct {
	addresses map[int64]*models.Address
}

var _ storage.AddressStorage = (*fakeAddressRepo)(nil)

func newFakeAddressRepo() *fakeAddressRepo {
	return &fakeAddressRepo{addresses: make(map[int64]*models.Address)}
}

func (f *fakeAddressRepo) GetAddressByID(ctx context.Context, id int64) (*models.Address, error) {
	address, ok := f.addresses[id]
	if !ok {
		return nil, storage.ErrAddressNotFound
	}
	return address, nil
}

// fakeNotifier считает опубликованные события по типам
type fakeNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

var _ notify.Notifier = (*fakeNotifier)(nil)

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{}
}

func (f *fakeNotifier) Publish(ctx context.Context, event notify.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeNotifier) countByType(eventType notify.EventType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, e := range f.events {
		if e.Type == eventType {
			count++
		}
	}
	return count
}

// fakeGateway — управляемый платёжный шлюз
type fakeGateway struct {
	result *gateway.ProcessResult
	err    error
	// waitForCtx заставляет шлюз висеть до истечения таймаута вызова
	waitForCtx bool
	calls      int
}

var _ gateway.Gateway = (*fakeGateway)(nil)

func (f *fakeGateway) Process(ctx context.Context, req gateway.ProcessRequest) (*gateway.ProcessResult, error) {
	f.calls++
	if f.waitForCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}
