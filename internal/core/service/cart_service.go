package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rl1809/table-order/internal/core/domain"
	"github.com/rl1809/table-order/internal/logger"
	"github.com/rl1809/table-order/internal/port"
)

func cartKey(table int) string {
	return fmt.Sprintf("cart:%d", table)
}

type cartSnapshot struct {
	Lines []domain.CartLine `json:"lines"`
}

// Cart is the shopping cart of one table. Lines keep insertion order and
// never hold a quantity below 1. The subtotal is always derived from lines.
type Cart struct {
	table int
	store port.StateStore
	log   *logger.Logger

	mu    sync.Mutex
	lines []domain.CartLine
}

func NewCart(table int, store port.StateStore, log *logger.Logger) *Cart {
	return &Cart{table: table, store: store, log: log}
}

// Load restores the persisted snapshot. A missing or unreadable snapshot
// leaves the cart empty.
func (c *Cart) Load(ctx context.Context) error {
	raw, ok, err := c.store.Get(ctx, cartKey(c.table))
	if err != nil {
		return fmt.Errorf("load cart: %w", err)
	}
	if !ok {
		return nil
	}

	var snap cartSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		c.log.Error("cart_decode_failed", "discarding unreadable cart snapshot", err, slog.Int("table", c.table))
		return nil
	}

	lines := make([]domain.CartLine, 0, len(snap.Lines))
	for _, l := range snap.Lines {
		if l.Qty > 0 {
			lines = append(lines, l)
		}
	}

	c.mu.Lock()
	c.lines = lines
	c.mu.Unlock()
	return nil
}

func (c *Cart) QuantityOf(id int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i := c.indexLocked(id); i >= 0 {
		return c.lines[i].Qty
	}
	return 0
}

// Increment adds delta of item, creating the line if absent.
func (c *Cart) Increment(ctx context.Context, item domain.MenuItem, delta int) error {
	if delta <= 0 {
		return ErrInvalidDelta
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if i := c.indexLocked(item.ID); i >= 0 {
		c.lines[i].Qty += delta
	} else {
		c.lines = append(c.lines, domain.CartLine{Item: item, Qty: delta})
	}
	c.persistLocked(ctx)
	return nil
}

// Decrement lowers the quantity by delta and drops the line at zero.
// A missing id is a no-op.
func (c *Cart) Decrement(ctx context.Context, id int64, delta int) error {
	if delta <= 0 {
		return ErrInvalidDelta
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexLocked(id)
	if i < 0 {
		return nil
	}
	c.lines[i].Qty -= delta
	if c.lines[i].Qty <= 0 {
		c.removeAtLocked(i)
	}
	c.persistLocked(ctx)
	return nil
}

// SetQuantity sets an existing line's quantity. Zero removes the line;
// a negative quantity is rejected and leaves the cart untouched.
func (c *Cart) SetQuantity(ctx context.Context, id int64, qty int) error {
	if qty < 0 {
		return ErrNegativeQuantity
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexLocked(id)
	if i < 0 {
		return nil
	}
	if qty == 0 {
		c.removeAtLocked(i)
	} else {
		c.lines[i].Qty = qty
	}
	c.persistLocked(ctx)
	return nil
}

func (c *Cart) Remove(ctx context.Context, id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i := c.indexLocked(id); i >= 0 {
		c.removeAtLocked(i)
		c.persistLocked(ctx)
	}
}

func (c *Cart) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lines = nil
	c.persistLocked(ctx)
}

// Consume takes the given lines out of the cart by quantity. Anything added
// after the lines were read stays in the cart.
func (c *Cart) Consume(ctx context.Context, lines []domain.CartLine) {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := false
	for _, l := range lines {
		i := c.indexLocked(l.Item.ID)
		if i < 0 || l.Qty <= 0 {
			continue
		}
		c.lines[i].Qty -= l.Qty
		if c.lines[i].Qty <= 0 {
			c.removeAtLocked(i)
		}
		changed = true
	}
	if changed {
		c.persistLocked(ctx)
	}
}

func (c *Cart) Lines() []domain.CartLine {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]domain.CartLine(nil), c.lines...)
}

func (c *Cart) Subtotal() domain.Amount {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.subtotalLocked()
}

func (c *Cart) TotalQuantity() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, l := range c.lines {
		n += l.Qty
	}
	return n
}

func (c *Cart) Totals() domain.Totals {
	c.mu.Lock()
	defer c.mu.Unlock()

	return domain.NewTotals(c.subtotalLocked())
}

func (c *Cart) Empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.lines) == 0
}

func (c *Cart) subtotalLocked() domain.Amount {
	var sum domain.Amount
	for _, l := range c.lines {
		sum += l.Total()
	}
	return sum
}

func (c *Cart) indexLocked(id int64) int {
	for i, l := range c.lines {
		if l.Item.ID == id {
			return i
		}
	}
	return -1
}

func (c *Cart) removeAtLocked(i int) {
	c.lines = append(c.lines[:i], c.lines[i+1:]...)
}

func (c *Cart) persistLocked(ctx context.Context) {
	raw, err := json.Marshal(cartSnapshot{Lines: c.lines})
	if err != nil {
		c.log.Error("cart_encode_failed", "could not encode cart", err, slog.Int("table", c.table))
		return
	}
	if err := c.store.Set(ctx, cartKey(c.table), raw); err != nil {
		c.log.Error("cart_persist_failed", "cart kept in memory only", err, slog.Int("table", c.table))
	}
}
