package port

import (
	"context"

	"github.com/rl1809/table-order/internal/core/domain"
)

// OrderGateway is the remote order service the client talks to.
type OrderGateway interface {
	FetchMenus(ctx context.Context) ([]domain.Category, error)
	FetchMenu(ctx context.Context, id int64) (domain.MenuItem, error)

	// CreateOrder submits a new order; field validation failures are reported
	// as an error carrying domain.ValidationErrors
	CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (domain.Order, error)
	GetOrder(ctx context.Context, id domain.OrderID) (domain.Order, error)

	// CreatePayment issues the QR payment string for an order
	CreatePayment(ctx context.Context, id domain.OrderID) (domain.Payment, error)

	// PayOrder confirms payment completion
	PayOrder(ctx context.Context, id domain.OrderID, req domain.PayOrderRequest) (domain.Order, error)
	CancelOrder(ctx context.Context, id domain.OrderID) (domain.Order, error)

	CustomerHistory(ctx context.Context, q domain.HistoryQuery) ([]domain.Order, error)
	UnpaidHistory(ctx context.Context, q domain.HistoryQuery) ([]domain.Order, error)
}
