package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// PaymentWindow is how long an order stays payable after creation.
const PaymentWindow = 1200 * time.Second

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusExpired   OrderStatus = "expired"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// IsTerminal reports whether no further transition can leave the status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusPaid, OrderStatusExpired, OrderStatusCancelled:
		return true
	}
	return false
}

// OrderID is the backend's order identifier. The backend may send it as a
// JSON number or a string; it is always kept in string form.
type OrderID string

func (id *OrderID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = OrderID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("order id: %w", err)
	}
	*id = OrderID(n.String())
	return nil
}

func (id OrderID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id OrderID) String() string {
	return string(id)
}

// OrderLine is a snapshot of a purchased item, decoupled from the live menu.
type OrderLine struct {
	MenuID    int64  `json:"menu_id,omitempty"`
	MenuName  string `json:"menu_name"`
	UnitPrice Amount `json:"unit_price"`
	Qty       int    `json:"qty"`
	LineTotal Amount `json:"line_total"`
}

type Order struct {
	ID            OrderID     `json:"id"`
	Code          string      `json:"order_code"`
	TableNumber   int         `json:"table_number"`
	Items         []OrderLine `json:"items,omitempty"`
	Subtotal      Amount      `json:"subtotal"`
	Tax           Amount      `json:"other_fees"`
	Total         Amount      `json:"total"`
	Status        OrderStatus `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
	ExpiresAt     *time.Time  `json:"expires_at,omitempty"`
	QRString      string      `json:"qr_string,omitempty"`
	CustomerName  string      `json:"customer_name,omitempty"`
	CustomerPhone string      `json:"customer_phone,omitempty"`
	CustomerEmail string      `json:"customer_email,omitempty"`
	CustomerNote  *string     `json:"customer_note,omitempty"`
}

// Deadline is the end of the payment window counted from creation.
func (o Order) Deadline(window time.Duration) time.Time {
	return o.CreatedAt.Add(window)
}

// Remaining returns the whole seconds left in the payment window at now,
// clamped at zero.
func (o Order) Remaining(now time.Time, window time.Duration) time.Duration {
	elapsed := now.Sub(o.CreatedAt) / time.Second
	if elapsed < 0 {
		elapsed = 0
	}
	left := window/time.Second - elapsed
	if left < 0 {
		left = 0
	}
	return left * time.Second
}

// ExpiresIn returns the whole seconds left until the backend's expires_at,
// clamped at zero. Without expires_at it counts down from the payment
// window.
func (o Order) ExpiresIn(now time.Time) time.Duration {
	if o.ExpiresAt == nil {
		return o.Remaining(now, PaymentWindow)
	}
	left := o.ExpiresAt.Sub(now) / time.Second
	if left < 0 {
		left = 0
	}
	return left * time.Second
}

// FormatCountdown renders a remaining duration as MM:SS.
func FormatCountdown(d time.Duration) string {
	if d <= 0 {
		return "00:00"
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

// OrderItemRequest is one cart line in a create-order payload.
type OrderItemRequest struct {
	MenuID int64 `json:"menu_id"`
	Qty    int   `json:"qty"`
}

type CreateOrderRequest struct {
	TableNumber   int                `json:"table_number"`
	CustomerToken string             `json:"customer_token"`
	Items         []OrderItemRequest `json:"items"`
	OtherFees     Amount             `json:"other_fees"`
	CustomerName  string             `json:"customer_name"`
	CustomerPhone string             `json:"customer_phone"`
	CustomerEmail string             `json:"customer_email"`
	CustomerNote  *string            `json:"customer_note"`
}

type PayOrderRequest struct {
	TableNumber   int    `json:"table_number"`
	CustomerToken string `json:"customer_token"`
}

type Payment struct {
	QRString string `json:"qr_string"`
}

// HistoryQuery scopes history lookups to one table session.
type HistoryQuery struct {
	TableNumber int
	Token       string
}

// HistoryEntry is the locally cached subset of an order.
type HistoryEntry struct {
	ID        OrderID     `json:"id"`
	Code      string      `json:"order_code"`
	Total     Amount      `json:"total"`
	CreatedAt time.Time   `json:"created_at"`
	Status    OrderStatus `json:"status"`
}

func NewHistoryEntry(o Order) HistoryEntry {
	return HistoryEntry{
		ID:        o.ID,
		Code:      o.Code,
		Total:     o.Total,
		CreatedAt: o.CreatedAt,
		Status:    o.Status,
	}
}
