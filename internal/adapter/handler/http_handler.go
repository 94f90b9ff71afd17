package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rl1809/table-order/internal/adapter/restapi"
	"github.com/rl1809/table-order/internal/core/domain"
	"github.com/rl1809/table-order/internal/core/service"
	"github.com/rl1809/table-order/internal/logger"
	"github.com/rl1809/table-order/internal/port"
)

type HTTPHandler struct {
	catalog  *service.Catalog
	sessions *service.Sessions
	tables   *service.Tables
	history  *service.HistoryView
	store    port.StateStore
	log      *logger.Logger
}

type addItemRequest struct {
	MenuID int64 `json:"menu_id"`
	Qty    int   `json:"qty"`
}

type quantityRequest struct {
	Qty *int `json:"qty"`
}

type resumeRequest struct {
	OrderID domain.OrderID `json:"order_id"`
}

type cancelRequest struct {
	Confirm bool `json:"confirm"`
}

type sessionResponse struct {
	Table int    `json:"table"`
	Token string `json:"token"`
}

type cartResponse struct {
	Lines    []domain.CartLine `json:"lines"`
	Quantity int               `json:"quantity"`
	domain.Totals
}

type errorResponse struct {
	Success    bool                    `json:"success"`
	Message    string                  `json:"message"`
	Errors     domain.ValidationErrors `json:"errors,omitempty"`
	RedirectTo string                  `json:"redirect_to,omitempty"`
}

func NewHTTPHandler(
	catalog *service.Catalog,
	sessions *service.Sessions,
	tables *service.Tables,
	history *service.HistoryView,
	store port.StateStore,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		catalog:  catalog,
		sessions: sessions,
		tables:   tables,
		history:  history,
		store:    store,
		log:      log,
	}
}

func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.requestLog)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Get("/menus", h.ListMenus)
		r.Get("/menus/{id}", h.GetMenu)

		r.Route("/tables/{table}", func(r chi.Router) {
			r.Get("/session", h.GetSession)

			r.Get("/cart", h.GetCart)
			r.Delete("/cart", h.ClearCart)
			r.Post("/cart/items", h.AddItem)
			r.Put("/cart/items/{id}", h.SetQuantity)
			r.Post("/cart/items/{id}/decrement", h.DecrementItem)
			r.Delete("/cart/items/{id}", h.RemoveItem)

			r.Post("/checkout", h.Checkout)

			r.Get("/payment", h.GetPayment)
			r.Delete("/payment", h.ClosePayment)
			r.Post("/payment/resume", h.ResumePayment)
			r.Post("/payment/pay", h.Pay)
			r.Post("/payment/cancel", h.Cancel)
			r.Get("/payment/qr.png", h.QRCode)

			r.Get("/history", h.GetHistory)
			r.Get("/history/local", h.GetLocalHistory)
		})
	})
	return r
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) ListMenus(w http.ResponseWriter, r *http.Request) {
	cats, err := h.catalog.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cats)
}

func (h *HTTPHandler) GetMenu(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	item, err := h.catalog.Menu(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *HTTPHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	table, ok := tableNumber(w, r)
	if !ok {
		return
	}
	token, err := h.sessions.GetOrCreate(r.Context(), table)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Table: table, Token: token})
}

func (h *HTTPHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ts, ok := h.table(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newCartResponse(ts.Cart))
}

func (h *HTTPHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ts, ok := h.table(w, r)
	if !ok {
		return
	}
	ts.Cart.Clear(r.Context())
	writeJSON(w, http.StatusOK, newCartResponse(ts.Cart))
}

func (h *HTTPHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ts, ok := h.table(w, r)
	if !ok {
		return
	}

	var req addItemRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Qty == 0 {
		req.Qty = 1
	}

	item, err := h.catalog.Menu(r.Context(), req.MenuID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := ts.Cart.Increment(r.Context(), item, req.Qty); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartResponse(ts.Cart))
}

func (h *HTTPHandler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	ts, ok := h.table(w, r)
	if !ok {
		return
	}
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}

	var req quantityRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Qty == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "qty is required"})
		return
	}
	if err := ts.Cart.SetQuantity(r.Context(), id, *req.Qty); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartResponse(ts.Cart))
}

func (h *HTTPHandler) DecrementItem(w http.ResponseWriter, r *http.Request) {
	ts, ok := h.table(w, r)
	if !ok {
		return
	}
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}

	delta := 1
	if r.ContentLength != 0 {
		var req quantityRequest
		if !decode(w, r, &req) {
			return
		}
		if req.Qty != nil {
			delta = *req.Qty
		}
	}
	if err := ts.Cart.Decrement(r.Context(), id, delta); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartResponse(ts.Cart))
}

func (h *HTTPHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ts, ok := h.table(w, r)
	if !ok {
		return
	}
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	ts.Cart.Remove(r.Context(), id)
	writeJSON(w, http.StatusOK, newCartResponse(ts.Cart))
}

func (h *HTTPHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ts, ok := h.table(w, r)
	if !ok {
		return
	}

	var form domain.CheckoutForm
	if !decode(w, r, &form) {
		return
	}

	if _, err := ts.Coordinator.Checkout(r.Context(), form); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ts.Coordinator.View())
}

func (h *HTTPHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	ts, ok := h.table(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ts.Coordinator.View())
}

func (h *HTTPHandler) ClosePayment(w http.ResponseWriter, r *http.Request) {
	ts, ok := h.table(w, r)
	if !ok {
		return
	}
	ts.Coordinator.Close()
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) ResumePayment(w http.ResponseWriter, r *http.Request) {
	ts, ok := h.table(w, r)
	if !ok {
		return
	}

	var req resumeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.OrderID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "order_id is required"})
		return
	}

	if _, err := ts.Coordinator.Resume(r.Context(), req.OrderID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ts.Coordinator.View())
}

func (h *HTTPHandler) Pay(w http.ResponseWriter, r *http.Request) {
	ts, ok := h.table(w, r)
	if !ok {
		return
	}
	if _, err := ts.Coordinator.Pay(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ts.Coordinator.View())
}

func (h *HTTPHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ts, ok := h.table(w, r)
	if !ok {
		return
	}

	var req cancelRequest
	if !decode(w, r, &req) {
		return
	}

	confirm := func() bool { return req.Confirm }
	if _, err := ts.Coordinator.Cancel(r.Context(), confirm); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ts.Coordinator.View())
}

func (h *HTTPHandler) QRCode(w http.ResponseWriter, r *http.Request) {
	ts, ok := h.table(w, r)
	if !ok {
		return
	}

	png, name, err := ts.Coordinator.QRCode()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (h *HTTPHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	ts, ok := h.table(w, r)
	if !ok {
		return
	}
	history, err := h.history.Load(r.Context(), ts.Number, ts.History)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *HTTPHandler) GetLocalHistory(w http.ResponseWriter, r *http.Request) {
	ts, ok := h.table(w, r)
	if !ok {
		return
	}
	entries := ts.History.List(r.Context())
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *HTTPHandler) table(w http.ResponseWriter, r *http.Request) (*service.TableSession, bool) {
	table, ok := tableNumber(w, r)
	if !ok {
		return nil, false
	}
	ts, err := h.tables.Get(r.Context(), table)
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return ts, true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs domain.ValidationErrors
	if errors.As(err, &verrs) {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Message: "validation failed", Errors: verrs})
		return
	}

	status := http.StatusInternalServerError
	message := "internal error"
	resp := errorResponse{}

	var upstream *restapi.StatusError
	switch {
	case errors.Is(err, service.ErrInvalidTable):
		status, message = http.StatusBadRequest, "invalid table number"
	case errors.Is(err, service.ErrInvalidDelta), errors.Is(err, service.ErrNegativeQuantity):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrCancelNotConfirmed):
		status, message = http.StatusBadRequest, "cancellation not confirmed"
	case errors.Is(err, service.ErrNoActiveOrder):
		status, message = http.StatusNotFound, "no active order"
	case errors.Is(err, service.ErrQRUnavailable):
		status, message = http.StatusNotFound, "qr code not available yet"
	case errors.Is(err, service.ErrOrderClosed):
		status, message = http.StatusConflict, "order is no longer pending"
		if table, perr := strconv.Atoi(chi.URLParam(r, "table")); perr == nil {
			resp.RedirectTo = "/?table=" + strconv.Itoa(table)
		}
	case errors.Is(err, service.ErrBusy):
		status, message = http.StatusConflict, "another action is in progress"
	case errors.Is(err, service.ErrCancelRejected):
		status, message = http.StatusConflict, "order could not be cancelled"
	case errors.Is(err, service.ErrPaymentWindowClosed):
		status, message = http.StatusGone, "payment time is up"
	case errors.Is(err, service.ErrCreationFailed):
		status, message = http.StatusBadGateway, "order could not be created"
	case errors.Is(err, service.ErrPaymentFailed):
		status, message = http.StatusBadGateway, "payment could not be confirmed"
	case errors.As(err, &upstream):
		status, message = http.StatusBadGateway, "order service unavailable"
		if upstream.StatusCode == http.StatusNotFound {
			status, message = http.StatusNotFound, "not found"
		}
	default:
		h.log.Error("http_request_failed", "unhandled error", err,
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	}

	resp.Message = message
	writeJSON(w, status, resp)
}

func (h *HTTPHandler) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug("http_request", "request served",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func newCartResponse(cart *service.Cart) cartResponse {
	lines := cart.Lines()
	if lines == nil {
		lines = []domain.CartLine{}
	}
	return cartResponse{Lines: lines, Quantity: cart.TotalQuantity(), Totals: cart.Totals()}
}

func tableNumber(w http.ResponseWriter, r *http.Request) (int, bool) {
	table, err := strconv.Atoi(chi.URLParam(r, "table"))
	if err != nil || table <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid table number"})
		return 0, false
	}
	return table, true
}

func pathInt64(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid " + name})
		return 0, false
	}
	return v, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
