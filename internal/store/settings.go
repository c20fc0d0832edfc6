package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Settings is the small synchronous key-value store for lightweight
// configuration. Writes commit before returning and never touch the sync
// queue; settings are local-only state.
//
// Keys used by the data layer itself are namespaced "inkwell.".
type Settings struct {
	conn *sql.DB
}

// Settings returns the settings view over this store.
func (s *Store) Settings() *Settings {
	return &Settings{conn: s.conn}
}

// Set stores a value under key, overwriting any previous value.
func (st *Settings) Set(key, value string) error {
	return st.SetContext(context.Background(), key, value)
}

// SetContext stores a value with context support.
func (st *Settings) SetContext(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO settings (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := st.conn.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set setting %q: %w", key, mapError(err))
	}
	return nil
}

// Get retrieves a value by key. The second return is false if the key is unset.
func (st *Settings) Get(key string) (string, bool, error) {
	return st.GetContext(context.Background(), key)
}

// GetContext retrieves a value with context support.
func (st *Settings) GetContext(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := st.conn.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get setting %q: %w", key, mapError(err))
	}
	return value, true, nil
}

// Delete removes a key. Returns nil if the key doesn't exist (idempotent).
func (st *Settings) Delete(key string) error {
	return st.DeleteContext(context.Background(), key)
}

// DeleteContext removes a key with context support.
func (st *Settings) DeleteContext(ctx context.Context, key string) error {
	if _, err := st.conn.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete setting %q: %w", key, err)
	}
	return nil
}
