package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/table-order/internal/logger"
)

func newTestTables(store *mockStore, gw *mockGateway) *Tables {
	log := logger.Discard()
	timing := DefaultPaymentTiming()
	timing.PollInterval = 5 * time.Millisecond
	return NewTables(gw, store, NewSessions(store, log), &mockPublisher{}, timing, log)
}

func TestTables_GetReturnsSameSession(t *testing.T) {
	tables := newTestTables(newMockStore(), newMockGateway())
	defer tables.Close()

	a, err := tables.Get(context.Background(), 2)
	require.NoError(t, err)
	b, err := tables.Get(context.Background(), 2)
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := tables.Get(context.Background(), 3)
	require.NoError(t, err)
	assert.NotSame(t, a, c)
	assert.Equal(t, 3, c.Number)
}

func TestTables_InvalidTable(t *testing.T) {
	tables := newTestTables(newMockStore(), newMockGateway())

	_, err := tables.Get(context.Background(), -1)
	assert.ErrorIs(t, err, ErrInvalidTable)
}

func TestTables_RestoresCart(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()

	first := newTestTables(store, newMockGateway())
	ts, err := first.Get(ctx, 4)
	require.NoError(t, err)
	require.NoError(t, ts.Cart.Increment(ctx, sateAyam, 2))

	second := newTestTables(store, newMockGateway())
	restored, err := second.Get(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, restored.Cart.QuantityOf(sateAyam.ID))
}

func TestTables_CloseStopsWatches(t *testing.T) {
	ctx := context.Background()
	gw := newMockGateway()
	gw.menus = testMenus()
	tables := newTestTables(newMockStore(), gw)

	ts, err := tables.Get(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, ts.Cart.Increment(ctx, esTeh, 1))
	_, err = ts.Coordinator.Checkout(ctx, validForm())
	require.NoError(t, err)

	tables.Close()
	polls := gw.count("GetOrder")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, polls, gw.count("GetOrder"))
	assert.Equal(t, StateIdle, ts.Coordinator.State())
}
