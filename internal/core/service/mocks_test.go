package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/rl1809/table-order/internal/core/domain"
)

var errStoreDown = errors.New("store down")

// Mock StateStore
type mockStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	failed bool
	// Get calls left to fail while writes still succeed
	getFailures int
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[string][]byte)}
}

func (m *mockStore) fail(on bool) {
	m.mu.Lock()
	m.failed = on
	m.mu.Unlock()
}

func (m *mockStore) failGets(n int) {
	m.mu.Lock()
	m.getFailures = n
	m.mu.Unlock()
}

func (m *mockStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failed {
		return nil, false, errStoreDown
	}
	if m.getFailures > 0 {
		m.getFailures--
		return nil, false, errStoreDown
	}
	v, ok := m.data[key]
	return append([]byte(nil), v...), ok, nil
}

func (m *mockStore) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failed {
		return errStoreDown
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *mockStore) SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failed {
		return false, errStoreDown
	}
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = append([]byte(nil), value...)
	return true, nil
}

func (m *mockStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failed {
		return errStoreDown
	}
	delete(m.data, key)
	return nil
}

func (m *mockStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failed {
		return errStoreDown
	}
	return nil
}

// Mock OrderGateway backed by an in-memory order table.
type mockGateway struct {
	mu sync.Mutex

	menus      []domain.Category
	orders     map[domain.OrderID]domain.Order
	nextID     int
	createdAt  time.Time
	qr         string
	createErr  error
	paymentErr error
	payErr     error
	cancelErr  error
	getErr     error

	// when set, FetchMenus, CreateOrder and CancelOrder signal started and
	// then wait for release before answering
	started chan string
	release chan struct{}

	created     []domain.CreateOrderRequest
	payRequests []domain.PayOrderRequest
	calls       map[string]int
	paid        []domain.Order
	unpaid      []domain.Order
}

func newMockGateway() *mockGateway {
	return &mockGateway{
		orders:    make(map[domain.OrderID]domain.Order),
		nextID:    100,
		createdAt: time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC),
		qr:        "00020101021226QRIS",
		calls:     make(map[string]int),
	}
}

func (m *mockGateway) count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *mockGateway) setStatus(id domain.OrderID, status domain.OrderStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[id]
	o.Status = status
	m.orders[id] = o
}

func (m *mockGateway) put(o domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
}

func (m *mockGateway) block() {
	m.started = make(chan string, 1)
	m.release = make(chan struct{})
}

func (m *mockGateway) hold(op string) {
	if m.release == nil {
		return
	}
	select {
	case m.started <- op:
	default:
	}
	<-m.release
}

func (m *mockGateway) FetchMenus(ctx context.Context) ([]domain.Category, error) {
	m.hold("FetchMenus")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["FetchMenus"]++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.menus, nil
}

func (m *mockGateway) FetchMenu(ctx context.Context, id int64) (domain.MenuItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["FetchMenu"]++
	if item, ok := domain.FindMenu(m.menus, id); ok {
		return item, nil
	}
	return domain.MenuItem{}, errors.New("menu not found")
}

func (m *mockGateway) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (domain.Order, error) {
	m.hold("CreateOrder")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["CreateOrder"]++
	m.created = append(m.created, req)
	if m.createErr != nil {
		return domain.Order{}, m.createErr
	}

	var subtotal domain.Amount
	for _, it := range req.Items {
		if item, ok := domain.FindMenu(m.menus, it.MenuID); ok {
			subtotal += item.Price * domain.Amount(it.Qty)
		}
	}
	m.nextID++
	o := domain.Order{
		ID:          domain.OrderID(strconv.Itoa(m.nextID)),
		Code:        "ORD-" + strconv.Itoa(m.nextID),
		TableNumber: req.TableNumber,
		Subtotal:    subtotal,
		Tax:         req.OtherFees,
		Total:       subtotal + req.OtherFees,
		Status:      domain.OrderStatusPending,
		CreatedAt:   m.createdAt,
	}
	m.orders[o.ID] = o
	return o, nil
}

func (m *mockGateway) GetOrder(ctx context.Context, id domain.OrderID) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["GetOrder"]++
	if m.getErr != nil {
		return domain.Order{}, m.getErr
	}
	o, ok := m.orders[id]
	if !ok {
		return domain.Order{}, errors.New("order not found")
	}
	return o, nil
}

func (m *mockGateway) CreatePayment(ctx context.Context, id domain.OrderID) (domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["CreatePayment"]++
	if m.paymentErr != nil {
		return domain.Payment{}, m.paymentErr
	}
	return domain.Payment{QRString: m.qr}, nil
}

func (m *mockGateway) PayOrder(ctx context.Context, id domain.OrderID, req domain.PayOrderRequest) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["PayOrder"]++
	m.payRequests = append(m.payRequests, req)
	if m.payErr != nil {
		return domain.Order{}, m.payErr
	}
	return m.orders[id], nil
}

func (m *mockGateway) CancelOrder(ctx context.Context, id domain.OrderID) (domain.Order, error) {
	m.hold("CancelOrder")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["CancelOrder"]++
	if m.cancelErr != nil {
		return domain.Order{}, m.cancelErr
	}
	o := m.orders[id]
	o.Status = domain.OrderStatusCancelled
	m.orders[id] = o
	return o, nil
}

func (m *mockGateway) CustomerHistory(ctx context.Context, q domain.HistoryQuery) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["CustomerHistory"]++
	return m.paid, nil
}

func (m *mockGateway) UnpaidHistory(ctx context.Context, q domain.HistoryQuery) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["UnpaidHistory"]++
	return m.unpaid, nil
}

// Mock EventPublisher
type mockPublisher struct {
	mu     sync.Mutex
	events []domain.StatusEvent
}

func (m *mockPublisher) PublishStatus(ctx context.Context, event domain.StatusEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockPublisher) statuses() []domain.OrderStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.OrderStatus, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Status)
	}
	return out
}
