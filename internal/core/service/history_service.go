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

func historyKey(table int) string {
	return fmt.Sprintf("order_history:%d", table)
}

// HistoryLog is the advisory local record of orders created at one table.
// The backend stays the source of truth; entries are reconciled whenever an
// order is fetched again.
type HistoryLog struct {
	table int
	store port.StateStore
	log   *logger.Logger

	mu      sync.Mutex
	loaded  bool
	entries []domain.HistoryEntry
}

func NewHistoryLog(table int, store port.StateStore, log *logger.Logger) *HistoryLog {
	return &HistoryLog{table: table, store: store, log: log}
}

// Append records a newly created order. An entry with the same id is
// replaced rather than duplicated.
func (h *HistoryLog) Append(ctx context.Context, entry domain.HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loadLocked(ctx)

	for i := range h.entries {
		if h.entries[i].ID == entry.ID {
			h.entries[i] = entry
			h.persistLocked(ctx)
			return
		}
	}
	h.entries = append(h.entries, entry)
	h.persistLocked(ctx)
}

// UpdateStatus sets the status of a known order. Unknown ids and repeated
// statuses are no-ops. It reports whether anything changed.
func (h *HistoryLog) UpdateStatus(ctx context.Context, id domain.OrderID, status domain.OrderStatus) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loadLocked(ctx)

	for i := range h.entries {
		if h.entries[i].ID != id {
			continue
		}
		if h.entries[i].Status == status {
			return false
		}
		h.entries[i].Status = status
		h.persistLocked(ctx)
		return true
	}
	return false
}

func (h *HistoryLog) List(ctx context.Context) []domain.HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loadLocked(ctx)

	return append([]domain.HistoryEntry(nil), h.entries...)
}

// Pending lists entries still awaiting payment, newest first. It backs the
// "order in progress" recovery after a reload.
func (h *HistoryLog) Pending(ctx context.Context) []domain.HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loadLocked(ctx)

	var out []domain.HistoryEntry
	for i := len(h.entries) - 1; i >= 0; i-- {
		if h.entries[i].Status == domain.OrderStatusPending {
			out = append(out, h.entries[i])
		}
	}
	return out
}

func (h *HistoryLog) loadLocked(ctx context.Context) {
	if h.loaded {
		return
	}

	raw, ok, err := h.store.Get(ctx, historyKey(h.table))
	if err != nil {
		// retried on the next access
		h.log.Error("history_load_failed", "could not load order history", err, slog.Int("table", h.table))
		return
	}
	h.loaded = true
	if !ok {
		if len(h.entries) > 0 {
			h.persistLocked(ctx)
		}
		return
	}

	var stored []domain.HistoryEntry
	if err := json.Unmarshal(raw, &stored); err != nil {
		h.log.Error("history_decode_failed", "discarding unreadable order history", err, slog.Int("table", h.table))
		stored = nil
	}
	if len(h.entries) == 0 {
		h.entries = stored
		return
	}

	// entries recorded before the load finished stay after the stored ones
	// and win over a stored entry with the same id
	pending := make(map[domain.OrderID]struct{}, len(h.entries))
	for _, e := range h.entries {
		pending[e.ID] = struct{}{}
	}
	merged := make([]domain.HistoryEntry, 0, len(stored)+len(h.entries))
	for _, e := range stored {
		if _, ok := pending[e.ID]; !ok {
			merged = append(merged, e)
		}
	}
	h.entries = append(merged, h.entries...)
	h.persistLocked(ctx)
}

// persistLocked writes the entries back. Nothing is written until a load
// has succeeded, so a partial history never replaces the stored one.
func (h *HistoryLog) persistLocked(ctx context.Context) {
	if !h.loaded {
		return
	}
	raw, err := json.Marshal(h.entries)
	if err != nil {
		h.log.Error("history_encode_failed", "could not encode order history", err, slog.Int("table", h.table))
		return
	}
	if err := h.store.Set(ctx, historyKey(h.table), raw); err != nil {
		h.log.Error("history_persist_failed", "order history kept in memory only", err, slog.Int("table", h.table))
	}
}
