package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/table-order/internal/adapter/messaging"
	"github.com/rl1809/table-order/internal/adapter/restapi"
	"github.com/rl1809/table-order/internal/adapter/storage"
	"github.com/rl1809/table-order/internal/core/domain"
	"github.com/rl1809/table-order/internal/core/service"
	"github.com/rl1809/table-order/internal/logger"
)

var testMenus = []domain.Category{
	{ID: 1, Name: "Makanan", Menus: []domain.MenuItem{
		{ID: 1, Name: "Nasi Goreng", Price: 10000},
		{ID: 2, Name: "Sate Ayam", Price: 30000},
	}},
}

// stubGateway is a minimal order backend.
type stubGateway struct {
	mu        sync.Mutex
	orders    map[domain.OrderID]domain.Order
	createErr error
	cancelErr error
}

func newStubGateway() *stubGateway {
	return &stubGateway{orders: make(map[domain.OrderID]domain.Order)}
}

func (s *stubGateway) FetchMenus(ctx context.Context) ([]domain.Category, error) {
	return testMenus, nil
}

func (s *stubGateway) FetchMenu(ctx context.Context, id int64) (domain.MenuItem, error) {
	if item, ok := domain.FindMenu(testMenus, id); ok {
		return item, nil
	}
	return domain.MenuItem{}, &restapi.StatusError{Method: http.MethodGet, Path: "/menus", StatusCode: http.StatusNotFound}
}

func (s *stubGateway) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return domain.Order{}, s.createErr
	}
	o := domain.Order{
		ID:          "1",
		Code:        "ORD-1",
		TableNumber: req.TableNumber,
		Subtotal:    10000,
		Tax:         req.OtherFees,
		Total:       10000 + req.OtherFees,
		Status:      domain.OrderStatusPending,
		CreatedAt:   time.Now(),
		QRString:    "QRIS-1",
	}
	s.orders[o.ID] = o
	return o, nil
}

func (s *stubGateway) GetOrder(ctx context.Context, id domain.OrderID) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, &restapi.StatusError{Method: http.MethodGet, Path: "/orders/" + id.String(), StatusCode: http.StatusNotFound}
	}
	return o, nil
}

func (s *stubGateway) CreatePayment(ctx context.Context, id domain.OrderID) (domain.Payment, error) {
	return domain.Payment{QRString: "QRIS-" + id.String()}, nil
}

func (s *stubGateway) PayOrder(ctx context.Context, id domain.OrderID, req domain.PayOrderRequest) (domain.Order, error) {
	return s.GetOrder(ctx, id)
}

func (s *stubGateway) CancelOrder(ctx context.Context, id domain.OrderID) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelErr != nil {
		return domain.Order{}, s.cancelErr
	}
	o := s.orders[id]
	o.Status = domain.OrderStatusCancelled
	s.orders[id] = o
	return o, nil
}

func (s *stubGateway) CustomerHistory(ctx context.Context, q domain.HistoryQuery) ([]domain.Order, error) {
	return []domain.Order{}, nil
}

func (s *stubGateway) UnpaidHistory(ctx context.Context, q domain.HistoryQuery) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Order{}
	for _, o := range s.orders {
		if o.Status == domain.OrderStatusPending {
			out = append(out, o)
		}
	}
	return out, nil
}

func newTestServer(t *testing.T, gw *stubGateway) http.Handler {
	t.Helper()

	log := logger.Discard()
	store := storage.NewMemoryAdapter()
	sessions := service.NewSessions(store, log)
	timing := service.PaymentTiming{Window: domain.PaymentWindow, PollInterval: time.Hour, TickInterval: time.Hour}
	tables := service.NewTables(gw, store, sessions, messaging.NopPublisher{}, timing, log)
	t.Cleanup(tables.Close)

	h := NewHTTPHandler(
		service.NewCatalog(gw, time.Minute, log),
		sessions,
		tables,
		service.NewHistoryView(gw, sessions),
		store,
		log,
	)
	return h.Routes()
}

func do(t *testing.T, srv http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

const checkoutBody = `{"name":"Budi","phone":"0812","email":"budi@example.com"}`

func TestHealthCheck(t *testing.T) {
	srv := newTestServer(t, newStubGateway())

	rec := do(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListMenus_Search(t *testing.T) {
	srv := newTestServer(t, newStubGateway())

	rec := do(t, srv, http.MethodGet, "/api/menus?q=sate", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var cats []domain.Category
	decodeBody(t, rec, &cats)
	require.Len(t, cats, 1)
	require.Len(t, cats[0].Menus, 1)
	assert.Equal(t, "Sate Ayam", cats[0].Menus[0].Name)
}

func TestGetMenu_NotFound(t *testing.T) {
	srv := newTestServer(t, newStubGateway())

	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/menus/99", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/api/menus/abc", "").Code)
}

func TestSession(t *testing.T) {
	srv := newTestServer(t, newStubGateway())

	var first, second sessionResponse
	decodeBody(t, do(t, srv, http.MethodGet, "/api/tables/4/session", ""), &first)
	decodeBody(t, do(t, srv, http.MethodGet, "/api/tables/4/session", ""), &second)
	assert.NotEmpty(t, first.Token)
	assert.Equal(t, first, second)

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/api/tables/0/session", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/api/tables/x/session", "").Code)
}

func TestCartEndpoints(t *testing.T) {
	srv := newTestServer(t, newStubGateway())

	rec := do(t, srv, http.MethodPost, "/api/tables/2/cart/items", `{"menu_id":1,"qty":2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, srv, http.MethodPost, "/api/tables/2/cart/items", `{"menu_id":2}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var cart cartResponse
	decodeBody(t, rec, &cart)
	assert.Len(t, cart.Lines, 2)
	assert.Equal(t, 3, cart.Quantity)
	assert.Equal(t, domain.Amount(50000), cart.Subtotal)
	assert.Equal(t, domain.Amount(5000), cart.Tax)
	assert.Equal(t, domain.Amount(55000), cart.Total)

	rec = do(t, srv, http.MethodPut, "/api/tables/2/cart/items/1", `{"qty":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/tables/2/cart/items/1/decrement", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &cart)
	assert.Equal(t, 2, cart.Quantity)

	rec = do(t, srv, http.MethodPut, "/api/tables/2/cart/items/1", `{"qty":0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, srv, http.MethodDelete, "/api/tables/2/cart/items/2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &cart)
	assert.Empty(t, cart.Lines)
	assert.Equal(t, domain.Amount(0), cart.Total)

	rec = do(t, srv, http.MethodPost, "/api/tables/2/cart/items", `{"menu_id":99}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckout_EmptyCart(t *testing.T) {
	srv := newTestServer(t, newStubGateway())

	rec := do(t, srv, http.MethodPost, "/api/tables/3/checkout", checkoutBody)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp errorResponse
	decodeBody(t, rec, &resp)
	assert.True(t, resp.Errors.Has(domain.FieldItems))
}

func TestCheckoutPayFlow(t *testing.T) {
	srv := newTestServer(t, newStubGateway())
	do(t, srv, http.MethodPost, "/api/tables/3/cart/items", `{"menu_id":1}`)

	rec := do(t, srv, http.MethodPost, "/api/tables/3/checkout", checkoutBody)
	require.Equal(t, http.StatusCreated, rec.Code)

	var view service.PaymentView
	decodeBody(t, rec, &view)
	assert.Equal(t, service.StateAwaitingPayment, view.State)
	assert.Equal(t, domain.Amount(11000), view.Order.Total)
	assert.Equal(t, "QRIS-1", view.QRString)

	rec = do(t, srv, http.MethodGet, "/api/tables/3/payment/qr.png", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "QR-ORD-1.png")

	rec = do(t, srv, http.MethodPost, "/api/tables/3/payment/pay", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &view)
	assert.Equal(t, service.StatePaid, view.State)
	assert.False(t, view.Confirmed)

	// locally paid, so further actions are refused
	rec = do(t, srv, http.MethodPost, "/api/tables/3/payment/cancel", `{"confirm":true}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var local []domain.HistoryEntry
	decodeBody(t, do(t, srv, http.MethodGet, "/api/tables/3/history/local", ""), &local)
	require.Len(t, local, 1)
	assert.Equal(t, domain.OrderStatusPending, local[0].Status)
}

func TestCancelFlow(t *testing.T) {
	gw := newStubGateway()
	srv := newTestServer(t, gw)
	do(t, srv, http.MethodPost, "/api/tables/5/cart/items", `{"menu_id":1}`)
	require.Equal(t, http.StatusCreated, do(t, srv, http.MethodPost, "/api/tables/5/checkout", checkoutBody).Code)

	rec := do(t, srv, http.MethodPost, "/api/tables/5/payment/cancel", `{"confirm":false}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	gw.mu.Lock()
	gw.cancelErr = errors.New("already paid")
	gw.mu.Unlock()
	rec = do(t, srv, http.MethodPost, "/api/tables/5/payment/cancel", `{"confirm":true}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	gw.mu.Lock()
	gw.cancelErr = nil
	gw.mu.Unlock()
	rec = do(t, srv, http.MethodPost, "/api/tables/5/payment/cancel", `{"confirm":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var view service.PaymentView
	decodeBody(t, rec, &view)
	assert.Equal(t, service.StateCancelled, view.State)
	assert.Equal(t, "/?table=5", view.RedirectTo)
}

func TestCheckout_BackendDown(t *testing.T) {
	gw := newStubGateway()
	gw.createErr = errors.New("connection refused")
	srv := newTestServer(t, gw)
	do(t, srv, http.MethodPost, "/api/tables/6/cart/items", `{"menu_id":1}`)

	rec := do(t, srv, http.MethodPost, "/api/tables/6/checkout", checkoutBody)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestResume_ClosedOrderRedirects(t *testing.T) {
	gw := newStubGateway()
	gw.orders["77"] = domain.Order{ID: "77", Status: domain.OrderStatusPaid, CreatedAt: time.Now()}
	srv := newTestServer(t, gw)

	rec := do(t, srv, http.MethodPost, "/api/tables/8/payment/resume", `{"order_id":77}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp errorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "/?table=8", resp.RedirectTo)

	rec = do(t, srv, http.MethodPost, "/api/tables/8/payment/resume", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPayment_NoActiveOrder(t *testing.T) {
	srv := newTestServer(t, newStubGateway())

	rec := do(t, srv, http.MethodGet, "/api/tables/9/payment", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `"state":"idle"`))

	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodPost, "/api/tables/9/payment/pay", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/tables/9/payment/qr.png", "").Code)
	assert.Equal(t, http.StatusNoContent, do(t, srv, http.MethodDelete, "/api/tables/9/payment", "").Code)
}

func TestHistory(t *testing.T) {
	srv := newTestServer(t, newStubGateway())
	do(t, srv, http.MethodPost, "/api/tables/3/cart/items", `{"menu_id":1}`)
	require.Equal(t, http.StatusCreated, do(t, srv, http.MethodPost, "/api/tables/3/checkout", checkoutBody).Code)

	rec := do(t, srv, http.MethodGet, "/api/tables/3/history", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var history service.History
	decodeBody(t, rec, &history)
	assert.Empty(t, history.Paid)
	assert.Len(t, history.Unpaid, 1)
}
