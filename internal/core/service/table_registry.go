package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rl1809/table-order/internal/logger"
	"github.com/rl1809/table-order/internal/port"
)

// TableSession groups the per-table state. It is created once per table
// and lives until the registry is closed.
type TableSession struct {
	Number      int
	Cart        *Cart
	History     *HistoryLog
	Coordinator *Coordinator
}

// Tables lazily builds and hands out table sessions. All tables share the
// gateway, store, sessions and publisher.
type Tables struct {
	gateway   port.OrderGateway
	store     port.StateStore
	sessions  *Sessions
	publisher port.EventPublisher
	timing    PaymentTiming
	log       *logger.Logger

	mu     sync.Mutex
	tables map[int]*TableSession
}

func NewTables(
	gateway port.OrderGateway,
	store port.StateStore,
	sessions *Sessions,
	publisher port.EventPublisher,
	timing PaymentTiming,
	log *logger.Logger,
) *Tables {
	return &Tables{
		gateway:   gateway,
		store:     store,
		sessions:  sessions,
		publisher: publisher,
		timing:    timing,
		log:       log,
		tables:    make(map[int]*TableSession),
	}
}

func (t *Tables) Get(ctx context.Context, table int) (*TableSession, error) {
	if table <= 0 {
		return nil, ErrInvalidTable
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if ts, ok := t.tables[table]; ok {
		return ts, nil
	}

	cart := NewCart(table, t.store, t.log)
	if err := cart.Load(ctx); err != nil {
		t.log.Error("cart_load_failed", "starting with an empty cart", err, slog.Int("table", table))
	}
	history := NewHistoryLog(table, t.store, t.log)

	ts := &TableSession{
		Number:      table,
		Cart:        cart,
		History:     history,
		Coordinator: NewCoordinator(table, t.gateway, cart, t.sessions, history, t.publisher, t.timing, t.log),
	}
	t.tables[table] = ts
	return ts, nil
}

// Close stops every coordinator's payment watch.
func (t *Tables) Close() {
	t.mu.Lock()
	sessions := make([]*TableSession, 0, len(t.tables))
	for _, ts := range t.tables {
		sessions = append(sessions, ts)
	}
	t.mu.Unlock()

	for _, ts := range sessions {
		ts.Coordinator.Close()
	}
}
