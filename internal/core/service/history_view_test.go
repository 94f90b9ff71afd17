package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/table-order/internal/core/domain"
	"github.com/rl1809/table-order/internal/logger"
)

type failingHistoryGateway struct {
	*mockGateway
}

func (f failingHistoryGateway) UnpaidHistory(ctx context.Context, q domain.HistoryQuery) ([]domain.Order, error) {
	return nil, errors.New("backend unavailable")
}

func TestHistoryView_LoadReconcilesLocalLog(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	gw := newMockGateway()
	gw.paid = []domain.Order{{ID: "1", Status: domain.OrderStatusPaid}}
	gw.unpaid = []domain.Order{{ID: "2", Status: domain.OrderStatusPending}, {ID: "3", Status: domain.OrderStatusExpired}}

	local := NewHistoryLog(5, store, logger.Discard())
	local.Append(ctx, historyEntry("1", domain.OrderStatusPending))
	local.Append(ctx, historyEntry("3", domain.OrderStatusPending))

	view := NewHistoryView(gw, NewSessions(store, logger.Discard()))
	history, err := view.Load(ctx, 5, local)
	require.NoError(t, err)
	assert.Len(t, history.Paid, 1)
	assert.Len(t, history.Unpaid, 2)
	assert.Equal(t, 1, gw.count("CustomerHistory"))
	assert.Equal(t, 1, gw.count("UnpaidHistory"))

	entries := local.List(ctx)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.OrderStatusPaid, entries[0].Status)
	assert.Equal(t, domain.OrderStatusExpired, entries[1].Status)
}

func TestHistoryView_LoadSurfacesErrors(t *testing.T) {
	store := newMockStore()
	gw := failingHistoryGateway{newMockGateway()}

	view := NewHistoryView(gw, NewSessions(store, logger.Discard()))
	_, err := view.Load(context.Background(), 5, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unpaid history")
}

func TestHistoryView_LatestUnpaidCountdown(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	expires := now.Add(12*time.Minute + 5*time.Second)

	gw := newMockGateway()
	gw.unpaid = []domain.Order{
		{ID: "9", Status: domain.OrderStatusPending, CreatedAt: now.Add(-8 * time.Minute), ExpiresAt: &expires},
		{ID: "8", Status: domain.OrderStatusPending, CreatedAt: now.Add(-time.Hour)},
	}

	view := NewHistoryView(gw, NewSessions(store, logger.Discard()))
	view.now = func() time.Time { return now }

	history, err := view.Load(ctx, 5, nil)
	require.NoError(t, err)
	require.NotNil(t, history.Latest)
	assert.Equal(t, domain.OrderID("9"), history.Latest.Order.ID)
	assert.Equal(t, int64(725), history.Latest.RemainingSeconds)
	assert.Equal(t, "12:05", history.Latest.Countdown)
	assert.False(t, history.Latest.Expired)

	view.now = func() time.Time { return expires.Add(time.Second) }
	history, err = view.Load(ctx, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, "00:00", history.Latest.Countdown)
	assert.True(t, history.Latest.Expired)
}

func TestHistoryView_NoUnpaidNoLatest(t *testing.T) {
	store := newMockStore()
	gw := newMockGateway()
	gw.paid = []domain.Order{{ID: "1", Status: domain.OrderStatusPaid}}

	history, err := NewHistoryView(gw, NewSessions(store, logger.Discard())).Load(context.Background(), 5, nil)
	require.NoError(t, err)
	assert.Nil(t, history.Latest)
}
