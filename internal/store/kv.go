package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/roach88/capgate/internal/lease"
)

var _ lease.Store = (*Store)(nil)

func wallClockMs() int64 {
	return time.Now().UnixMilli()
}

// Get implements lease.Store.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, NewError(OpGet, key, err)
	}
	return value, true, nil
}

// Set implements lease.Store.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at_ms)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at_ms = excluded.updated_at_ms
	`, key, value, s.now())
	if err != nil {
		return NewError(OpSet, key, err)
	}
	return nil
}

// Remove implements lease.Store. Removing a missing key is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return NewError(OpRemove, key, err)
	}
	return nil
}

// GetAll implements lease.Store.
func (s *Store) GetAll(ctx context.Context, prefix string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value FROM kv
		WHERE substr(key, 1, length(?)) = ?
		ORDER BY key ASC
	`, prefix, prefix)
	if err != nil {
		return nil, NewError(OpGetAll, prefix, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, NewError(OpGetAll, prefix, err)
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, NewError(OpGetAll, prefix, err)
	}
	return out, nil
}

// Sweep deletes rows under prefix that have not been written since
// olderThanMs and returns how many were removed. Leases are normally
// removed by their coordinators; Sweep clears rows left by processes that
// exited mid-lease.
func (s *Store) Sweep(ctx context.Context, prefix string, olderThanMs int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM kv
		WHERE substr(key, 1, length(?)) = ? AND updated_at_ms < ?
	`, prefix, prefix, olderThanMs)
	if err != nil {
		return 0, NewError(OpSweep, prefix, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, NewError(OpSweep, prefix, err)
	}
	if n > 0 {
		s.logger.Debug("stale lease rows swept", "prefix", prefix, "removed", n)
	}
	return n, nil
}
