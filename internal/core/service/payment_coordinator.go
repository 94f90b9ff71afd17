package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"

	"github.com/rl1809/table-order/internal/core/domain"
	"github.com/rl1809/table-order/internal/logger"
	"github.com/rl1809/table-order/internal/port"
)

type State string

const (
	StateIdle            State = "idle"
	StateCreating        State = "creating"
	StateAwaitingPayment State = "awaiting_payment"
	StateConfirming      State = "confirming"
	StatePaid            State = "paid"
	StateExpired         State = "expired"
	StateCancelled       State = "cancelled"
	StateCreationFailed  State = "creation_failed"
)

func (s State) IsTerminal() bool {
	switch s {
	case StatePaid, StateExpired, StateCancelled:
		return true
	}
	return false
}

func stateFor(status domain.OrderStatus) State {
	switch status {
	case domain.OrderStatusPaid:
		return StatePaid
	case domain.OrderStatusExpired:
		return StateExpired
	case domain.OrderStatusCancelled:
		return StateCancelled
	}
	return StateAwaitingPayment
}

const qrSize = 256

// PaymentTiming holds the payment window and the two loop intervals.
type PaymentTiming struct {
	Window       time.Duration
	PollInterval time.Duration
	TickInterval time.Duration
}

func DefaultPaymentTiming() PaymentTiming {
	return PaymentTiming{
		Window:       domain.PaymentWindow,
		PollInterval: 3 * time.Second,
		TickInterval: time.Second,
	}
}

// PaymentView is a point-in-time snapshot of the coordinator for display.
type PaymentView struct {
	State            State         `json:"state"`
	Order            *domain.Order `json:"order,omitempty"`
	QRString         string        `json:"qr_string,omitempty"`
	RemainingSeconds int64         `json:"remaining_seconds"`
	Countdown        string        `json:"countdown"`
	TimeUp           bool          `json:"time_up"`
	Confirmed        bool          `json:"confirmed"`
	ActionsEnabled   bool          `json:"actions_enabled"`
	RedirectTo       string        `json:"redirect_to,omitempty"`
}

// paymentWatch owns the countdown and poll goroutines of one order.
type paymentWatch struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (w *paymentWatch) stop() {
	w.cancel()
	w.wg.Wait()
}

// Coordinator drives one table's order from checkout to a terminal status.
// The backend is the only authority on order status: a successful pay call
// moves to an unconfirmed paid state and polling continues until the
// server agrees. The mutex is never held across a network call.
type Coordinator struct {
	table     int
	gateway   port.OrderGateway
	cart      *Cart
	sessions  *Sessions
	history   *HistoryLog
	publisher port.EventPublisher
	timing    PaymentTiming
	log       *logger.Logger
	now       func() time.Time

	mu        sync.Mutex
	state     State
	order     *domain.Order
	qr        string
	remaining time.Duration
	confirmed bool
	// set while a cancel request is outstanding
	cancelling bool
	watch      *paymentWatch
}

func NewCoordinator(
	table int,
	gateway port.OrderGateway,
	cart *Cart,
	sessions *Sessions,
	history *HistoryLog,
	publisher port.EventPublisher,
	timing PaymentTiming,
	log *logger.Logger,
) *Coordinator {
	return &Coordinator{
		table:     table,
		gateway:   gateway,
		cart:      cart,
		sessions:  sessions,
		history:   history,
		publisher: publisher,
		timing:    timing,
		log:       log,
		now:       time.Now,
		state:     StateIdle,
	}
}

// Checkout validates the form and cart, creates the order and starts the
// payment watch. Client-side validation failures and backend 422 responses
// are returned as domain.ValidationErrors and leave the coordinator idle.
func (c *Coordinator) Checkout(ctx context.Context, form domain.CheckoutForm) (domain.Order, error) {
	lines := c.cart.Lines()
	if verrs := domain.ValidateCheckout(form, len(lines)); verrs != nil {
		return domain.Order{}, verrs
	}

	c.mu.Lock()
	if c.busyLocked() {
		c.mu.Unlock()
		return domain.Order{}, ErrBusy
	}
	prev := c.watch
	c.watch = nil
	c.state = StateCreating
	c.order = nil
	c.qr = ""
	c.confirmed = false
	c.mu.Unlock()

	if prev != nil {
		prev.stop()
	}

	token, err := c.sessions.GetOrCreate(ctx, c.table)
	if err != nil {
		c.setState(StateCreationFailed)
		return domain.Order{}, fmt.Errorf("%w: %w", ErrCreationFailed, err)
	}

	order, err := c.gateway.CreateOrder(ctx, c.orderRequest(token, form, lines))
	if err != nil {
		var verrs domain.ValidationErrors
		if errors.As(err, &verrs) {
			c.setState(StateIdle)
			return domain.Order{}, verrs
		}
		c.setState(StateCreationFailed)
		c.log.Error("order_create_failed", "order creation failed", err, slog.Int("table", c.table))
		return domain.Order{}, fmt.Errorf("%w: %w", ErrCreationFailed, err)
	}

	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = c.now()
	}

	c.history.Append(ctx, domain.NewHistoryEntry(order))
	c.cart.Consume(ctx, lines)
	c.publish(ctx, order)

	c.log.Info("order_created", "order created",
		slog.Int("table", c.table),
		slog.String("order_id", order.ID.String()),
		slog.String("order_code", order.Code),
		slog.Int64("total", int64(order.Total)),
	)

	return order, c.enter(ctx, order)
}

func (c *Coordinator) orderRequest(token string, form domain.CheckoutForm, lines []domain.CartLine) domain.CreateOrderRequest {
	f := form.Trimmed()

	items := make([]domain.OrderItemRequest, 0, len(lines))
	var subtotal domain.Amount
	for _, l := range lines {
		items = append(items, domain.OrderItemRequest{MenuID: l.Item.ID, Qty: l.Qty})
		subtotal += l.Total()
	}

	var note *string
	if f.Note != "" {
		note = &f.Note
	}

	return domain.CreateOrderRequest{
		TableNumber:   c.table,
		CustomerToken: token,
		Items:         items,
		OtherFees:     domain.Tax(subtotal),
		CustomerName:  f.Name,
		CustomerPhone: f.Phone,
		CustomerEmail: f.Email,
		CustomerNote:  note,
	}
}

// Resume re-enters the payment flow for an existing order. A terminal
// order is recorded and reported with ErrOrderClosed; the current state is
// left alone so the caller can redirect.
func (c *Coordinator) Resume(ctx context.Context, id domain.OrderID) (domain.Order, error) {
	c.mu.Lock()
	busy := c.busyLocked()
	c.mu.Unlock()
	if busy {
		return domain.Order{}, ErrBusy
	}

	order, err := c.gateway.GetOrder(ctx, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("fetch order %s: %w", id, err)
	}

	if order.Status.IsTerminal() {
		c.history.UpdateStatus(ctx, order.ID, order.Status)
		return order, ErrOrderClosed
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}

	return order, c.enter(ctx, order)
}

// enter moves to awaiting payment for order, issuing a QR string when the
// order has none, and starts a fresh watch.
func (c *Coordinator) enter(ctx context.Context, order domain.Order) error {
	if order.Status.IsTerminal() {
		c.mu.Lock()
		c.state = stateFor(order.Status)
		c.order = &order
		c.confirmed = true
		c.mu.Unlock()
		return ErrOrderClosed
	}

	qr := order.QRString
	if qr == "" {
		payment, err := c.gateway.CreatePayment(ctx, order.ID)
		if err != nil {
			// the poll loop adopts a QR string once the backend has one
			c.log.Error("payment_create_failed", "could not issue QR payment", err,
				slog.String("order_id", order.ID.String()))
		} else {
			qr = payment.QRString
		}
	}

	wctx, cancel := context.WithCancel(context.Background())
	w := &paymentWatch{cancel: cancel}

	c.mu.Lock()
	prev := c.watch
	c.watch = w
	c.state = StateAwaitingPayment
	c.order = &order
	c.qr = qr
	c.confirmed = false
	c.remaining = order.Remaining(c.now(), c.timing.Window)
	w.wg.Add(2)
	go c.countdown(wctx, w)
	go c.poll(wctx, w, order.ID)
	c.mu.Unlock()

	if prev != nil {
		prev.stop()
	}
	return nil
}

func (c *Coordinator) countdown(ctx context.Context, w *paymentWatch) {
	defer w.wg.Done()

	ticker := time.NewTicker(c.timing.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		if c.watch == w {
			c.refreshRemainingLocked()
		}
		c.mu.Unlock()
	}
}

// poll fetches the order every PollInterval. Each fetch completes before
// the next tick is considered, so requests never overlap.
func (c *Coordinator) poll(ctx context.Context, w *paymentWatch, id domain.OrderID) {
	defer w.wg.Done()

	ticker := time.NewTicker(c.timing.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		order, err := c.gateway.GetOrder(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Debug("order_poll_failed", "order poll failed, retrying",
				slog.String("order_id", id.String()),
				slog.String("error", err.Error()))
			continue
		}

		if c.observe(ctx, w, order) {
			return
		}
	}
}

// observe applies a polled order. It reports whether the watch is done.
func (c *Coordinator) observe(ctx context.Context, w *paymentWatch, polled domain.Order) bool {
	c.mu.Lock()
	if c.watch != w || c.order == nil {
		c.mu.Unlock()
		return true
	}

	if c.qr == "" && polled.QRString != "" {
		c.qr = polled.QRString
	}

	if !polled.Status.IsTerminal() {
		c.mu.Unlock()
		return false
	}

	c.order.Status = polled.Status
	current := *c.order
	c.state = stateFor(polled.Status)
	c.confirmed = true
	c.watch = nil
	c.mu.Unlock()

	c.history.UpdateStatus(ctx, current.ID, current.Status)
	c.publish(ctx, current)
	c.log.Info("order_settled", "order reached a terminal status",
		slog.Int("table", c.table),
		slog.String("order_id", current.ID.String()),
		slog.String("status", string(current.Status)),
	)

	w.cancel()
	return true
}

// Pay asks the backend to settle the active order. Success is shown as an
// unconfirmed paid state until a poll corroborates it.
func (c *Coordinator) Pay(ctx context.Context) (domain.Order, error) {
	c.mu.Lock()
	order, err := c.actionableLocked()
	if err != nil {
		c.mu.Unlock()
		return domain.Order{}, err
	}
	c.state = StateConfirming
	c.mu.Unlock()

	token, err := c.sessions.GetOrCreate(ctx, c.table)
	if err == nil {
		_, err = c.gateway.PayOrder(ctx, order.ID, domain.PayOrderRequest{
			TableNumber:   c.table,
			CustomerToken: token,
		})
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		if c.state == StateConfirming {
			c.state = StateAwaitingPayment
		}
		c.log.Error("order_pay_failed", "payment confirmation failed", err,
			slog.String("order_id", order.ID.String()))
		return domain.Order{}, fmt.Errorf("%w: %w", ErrPaymentFailed, err)
	}

	if c.state == StateConfirming {
		c.state = StatePaid
		c.confirmed = false
	}
	if c.order != nil {
		return *c.order, nil
	}
	return order, nil
}

// Cancel cancels the active order once confirm agrees. A backend refusal
// leaves the coordinator exactly as it was.
func (c *Coordinator) Cancel(ctx context.Context, confirm func() bool) (domain.Order, error) {
	c.mu.Lock()
	order, err := c.actionableLocked()
	c.mu.Unlock()
	if err != nil {
		return domain.Order{}, err
	}

	if confirm == nil || !confirm() {
		return domain.Order{}, ErrCancelNotConfirmed
	}

	// the state may have moved while confirm was pending
	c.mu.Lock()
	order, err = c.actionableLocked()
	if err != nil {
		c.mu.Unlock()
		return domain.Order{}, err
	}
	c.cancelling = true
	c.mu.Unlock()

	result, err := c.gateway.CancelOrder(ctx, order.ID)
	if err != nil {
		c.mu.Lock()
		c.cancelling = false
		c.mu.Unlock()
		c.log.Error("order_cancel_failed", "backend refused cancellation", err,
			slog.String("order_id", order.ID.String()))
		return domain.Order{}, fmt.Errorf("%w: %w", ErrCancelRejected, err)
	}

	status := result.Status
	if status == "" {
		status = domain.OrderStatusCancelled
	}

	c.mu.Lock()
	c.cancelling = false
	var w *paymentWatch
	current := order
	// a poll may have settled the order while the request was in flight
	settled := c.state.IsTerminal()
	if c.order != nil && c.order.ID == order.ID {
		c.order.Status = status
		current = *c.order
		if status.IsTerminal() {
			c.state = stateFor(status)
			c.confirmed = true
			w = c.watch
			c.watch = nil
		}
	}
	current.Status = status
	c.mu.Unlock()

	if w != nil {
		w.stop()
	}

	c.history.UpdateStatus(ctx, order.ID, status)
	if !settled {
		c.publish(ctx, current)
	}
	return current, nil
}

// QRCode renders the active order's QR string as a PNG and returns it with
// a download file name.
func (c *Coordinator) QRCode() ([]byte, string, error) {
	c.mu.Lock()
	if c.order == nil || c.state == StateIdle || c.state == StateCreationFailed {
		c.mu.Unlock()
		return nil, "", ErrNoActiveOrder
	}
	if c.state.IsTerminal() {
		c.mu.Unlock()
		return nil, "", ErrOrderClosed
	}
	c.refreshRemainingLocked()
	if c.remaining == 0 {
		c.mu.Unlock()
		return nil, "", ErrPaymentWindowClosed
	}
	qr, code := c.qr, c.order.Code
	c.mu.Unlock()

	if qr == "" {
		return nil, "", ErrQRUnavailable
	}

	png, err := qrcode.Encode(qr, qrcode.Medium, qrSize)
	if err != nil {
		return nil, "", fmt.Errorf("encode qr: %w", err)
	}
	return png, "QR-" + code + ".png", nil
}

// Close stops the watch and returns to idle.
func (c *Coordinator) Close() {
	c.mu.Lock()
	w := c.watch
	c.watch = nil
	c.state = StateIdle
	c.order = nil
	c.qr = ""
	c.remaining = 0
	c.confirmed = false
	c.cancelling = false
	c.mu.Unlock()

	if w != nil {
		w.stop()
	}
}

func (c *Coordinator) View() PaymentView {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := PaymentView{State: c.state, Confirmed: c.confirmed}
	if c.order == nil {
		v.Countdown = domain.FormatCountdown(0)
		return v
	}

	order := *c.order
	v.Order = &order
	v.QRString = c.qr

	if c.state == StateAwaitingPayment || c.state == StateConfirming {
		c.refreshRemainingLocked()
		v.RemainingSeconds = int64(c.remaining / time.Second)
		v.TimeUp = c.remaining == 0
		v.ActionsEnabled = c.state == StateAwaitingPayment && !c.cancelling && !v.TimeUp
	}
	v.Countdown = domain.FormatCountdown(time.Duration(v.RemainingSeconds) * time.Second)

	if c.state.IsTerminal() {
		v.RedirectTo = "/?table=" + strconv.Itoa(c.table)
	}
	return v
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// refreshRemainingLocked recomputes the countdown without ever letting it
// grow back.
func (c *Coordinator) refreshRemainingLocked() {
	if c.order == nil {
		return
	}
	if r := c.order.Remaining(c.now(), c.timing.Window); r < c.remaining {
		c.remaining = r
	}
}

func (c *Coordinator) busyLocked() bool {
	return c.state == StateCreating || c.state == StateConfirming || c.cancelling
}

func (c *Coordinator) actionableLocked() (domain.Order, error) {
	if c.cancelling {
		return domain.Order{}, ErrBusy
	}
	switch c.state {
	case StateIdle, StateCreationFailed:
		return domain.Order{}, ErrNoActiveOrder
	case StateCreating, StateConfirming:
		return domain.Order{}, ErrBusy
	case StatePaid, StateExpired, StateCancelled:
		return domain.Order{}, ErrOrderClosed
	}
	if c.order == nil {
		return domain.Order{}, ErrNoActiveOrder
	}
	c.refreshRemainingLocked()
	if c.remaining == 0 {
		return domain.Order{}, ErrPaymentWindowClosed
	}
	return *c.order, nil
}

func (c *Coordinator) publish(ctx context.Context, order domain.Order) {
	event := domain.StatusEvent{
		EventID:     uuid.NewString(),
		OrderID:     order.ID,
		OrderCode:   order.Code,
		TableNumber: c.table,
		Status:      order.Status,
		Total:       order.Total,
		ObservedAt:  c.now(),
	}
	if err := c.publisher.PublishStatus(ctx, event); err != nil {
		c.log.Error("status_publish_failed", "could not publish order status", err,
			slog.String("order_id", order.ID.String()))
	}
}
