package domain

import "time"

// StatusEvent records an order status the client has observed, either on
// creation or from the backend afterwards.
type StatusEvent struct {
	EventID     string      `json:"event_id"`
	OrderID     OrderID     `json:"order_id"`
	OrderCode   string      `json:"order_code"`
	TableNumber int         `json:"table_number"`
	Status      OrderStatus `json:"status"`
	Total       Amount      `json:"total"`
	ObservedAt  time.Time   `json:"observed_at"`
}
