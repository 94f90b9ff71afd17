package port

import (
	"context"

	"github.com/rl1809/table-order/internal/core/domain"
)

type EventPublisher interface {
	// PublishStatus announces an order status observed by the client
	PublishStatus(ctx context.Context, event domain.StatusEvent) error
}
