package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/rl1809/table-order/internal/logger"
	"github.com/rl1809/table-order/internal/port"
)

func sessionKey(table int) string {
	return fmt.Sprintf("customer_session:%d", table)
}

// Sessions hands out the customer token a table's orders are scoped to.
// The state store is the single authority: a token is minted with a
// set-if-absent write and whatever value won is read back.
type Sessions struct {
	store    port.StateStore
	log      *logger.Logger
	newToken func() string

	mu     sync.Mutex
	tokens map[int]string
}

func NewSessions(store port.StateStore, log *logger.Logger) *Sessions {
	return &Sessions{
		store:    store,
		log:      log,
		newToken: uuid.NewString,
		tokens:   make(map[int]string),
	}
}

// GetOrCreate returns the token for table, minting and persisting one on
// first use. If the store is unreachable the token is kept in memory for
// the life of the process.
func (s *Sessions) GetOrCreate(ctx context.Context, table int) (string, error) {
	if table <= 0 {
		return "", ErrInvalidTable
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if token, ok := s.tokens[table]; ok {
		return token, nil
	}

	token, err := s.resolve(ctx, table)
	if err != nil {
		token = s.newToken()
		s.log.Error("session_persist_failed", "customer session kept in memory only", err,
			slog.Int("table", table))
	}

	s.tokens[table] = token
	return token, nil
}

func (s *Sessions) resolve(ctx context.Context, table int) (string, error) {
	key := sessionKey(table)

	value, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("read session: %w", err)
	}
	if ok && len(value) > 0 {
		return string(value), nil
	}

	if _, err := s.store.SetIfAbsent(ctx, key, []byte(s.newToken())); err != nil {
		return "", fmt.Errorf("mint session: %w", err)
	}

	value, ok, err = s.store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("read back session: %w", err)
	}
	if !ok || len(value) == 0 {
		return "", fmt.Errorf("session for table %d vanished after write", table)
	}

	s.log.Info("session_created", "customer session ready", slog.Int("table", table))
	return string(value), nil
}

// Forget drops the table's token so the next GetOrCreate mints a new one.
func (s *Sessions) Forget(ctx context.Context, table int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tokens, table)
	if err := s.store.Delete(ctx, sessionKey(table)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
