package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const createStateTable = `
CREATE TABLE IF NOT EXISTS client_state (
	state_key   VARCHAR(191) NOT NULL PRIMARY KEY,
	state_value MEDIUMBLOB   NOT NULL,
	created_at  TIMESTAMP    NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at  TIMESTAMP    NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
)`

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// Migrate creates the client_state table if it does not exist.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, createStateTable); err != nil {
		return fmt.Errorf("create client_state: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := m.db.QueryRowContext(ctx, `
		SELECT state_value FROM client_state WHERE state_key = ?`, key,
	).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query state: %w", err)
	}

	return value, true, nil
}

func (m *MySQLAdapter) Set(ctx context.Context, key string, value []byte) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO client_state (state_key, state_value)
		VALUES (?, ?)
		ON DUPLICATE KEY UPDATE state_value = VALUES(state_value)`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}
	return nil
}

// SetIfAbsent relies on the primary key: INSERT IGNORE affects no rows when
// the key already exists.
func (m *MySQLAdapter) SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	result, err := m.db.ExecContext(ctx, `
		INSERT IGNORE INTO client_state (state_key, state_value)
		VALUES (?, ?)`,
		key, value,
	)
	if err != nil {
		return false, fmt.Errorf("insert state: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows == 1, nil
}

func (m *MySQLAdapter) Delete(ctx context.Context, key string) error {
	if _, err := m.db.ExecContext(ctx, `DELETE FROM client_state WHERE state_key = ?`, key); err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}
