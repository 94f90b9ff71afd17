package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rl1809/table-order/internal/core/domain"
	"github.com/rl1809/table-order/internal/port"
)

// History is the server-side order history of one table session.
type History struct {
	Paid   []domain.Order `json:"paid"`
	Unpaid []domain.Order `json:"unpaid"`
	// Latest is the newest unpaid order with its countdown, nil when
	// nothing is unpaid.
	Latest *UnpaidOrder `json:"latest_unpaid,omitempty"`
}

// UnpaidOrder is an unpaid order as shown for "continue payment".
type UnpaidOrder struct {
	Order            domain.Order `json:"order"`
	RemainingSeconds int64        `json:"remaining_seconds"`
	Countdown        string       `json:"countdown"`
	Expired          bool         `json:"expired"`
}

// HistoryView combines the paid and unpaid history endpoints and folds any
// status the server reports back into the local log.
type HistoryView struct {
	gateway  port.OrderGateway
	sessions *Sessions
	now      func() time.Time
}

func NewHistoryView(gateway port.OrderGateway, sessions *Sessions) *HistoryView {
	return &HistoryView{gateway: gateway, sessions: sessions, now: time.Now}
}

func (v *HistoryView) Load(ctx context.Context, table int, local *HistoryLog) (History, error) {
	token, err := v.sessions.GetOrCreate(ctx, table)
	if err != nil {
		return History{}, err
	}
	q := domain.HistoryQuery{TableNumber: table, Token: token}

	var out History
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		orders, err := v.gateway.CustomerHistory(gctx, q)
		if err != nil {
			return fmt.Errorf("paid history: %w", err)
		}
		out.Paid = orders
		return nil
	})
	g.Go(func() error {
		orders, err := v.gateway.UnpaidHistory(gctx, q)
		if err != nil {
			return fmt.Errorf("unpaid history: %w", err)
		}
		out.Unpaid = orders
		return nil
	})
	if err := g.Wait(); err != nil {
		return History{}, err
	}

	// the backend lists unpaid orders newest first
	if len(out.Unpaid) > 0 {
		latest := out.Unpaid[0]
		left := latest.ExpiresIn(v.now())
		out.Latest = &UnpaidOrder{
			Order:            latest,
			RemainingSeconds: int64(left / time.Second),
			Countdown:        domain.FormatCountdown(left),
			Expired:          left == 0,
		}
	}

	if local != nil {
		for _, list := range [][]domain.Order{out.Paid, out.Unpaid} {
			for _, o := range list {
				if o.Status != "" {
					local.UpdateStatus(ctx, o.ID, o.Status)
				}
			}
		}
	}
	return out, nil
}
