package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"kickoff/internal/types"
	"time"
)

const counterSchema = `CREATE TABLE IF NOT EXISTS counters (
	key TEXT PRIMARY KEY,
	count INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
)`

// CounterStore implements ports.CounterStore on the counters table.
// Expired rows are treated as absent and replaced on the next write.
type CounterStore struct {
	db      *sql.DB
	timeNow func() time.Time
}

func NewCounterStore(db *sql.DB) (*CounterStore, error) {
	if _, err := db.Exec(counterSchema); err != nil {
		return nil, fmt.Errorf("create counters: %w", err)
	}
	return &CounterStore{db: db, timeNow: time.Now}, nil
}

func (s *CounterStore) Acquire(ctx context.Context, scope string, ratePerWindow int, window time.Duration) (bool, error) {
	if ratePerWindow <= 0 {
		return false, nil
	}
	now := s.timeNow()
	key := fmt.Sprintf("rate:%s:%d", scope, now.Unix()/60)
	expires := now.Add(window + 2*time.Minute).UnixMilli()

	// the conditional upsert only bumps rows still under capacity
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO counters (key, count, expires_at) VALUES (?, 1, ?)
		 ON CONFLICT(key) DO UPDATE SET count = count + 1
		 WHERE counters.count < ?`,
		key, expires, ratePerWindow)
	if err != nil {
		return false, types.Err(types.ErrDataStoreAccess, err, "acquire %s", scope)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *CounterStore) Incr(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error) {
	now := s.timeNow().UnixMilli()
	expires := now + ttl.Milliseconds()
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO counters (key, count, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		    count = CASE WHEN counters.expires_at <= ? THEN excluded.count ELSE counters.count + excluded.count END,
		    expires_at = CASE WHEN counters.expires_at <= ? THEN excluded.expires_at ELSE counters.expires_at END
		 RETURNING count`,
		key, n, expires, now, now)
	var v int64
	if err := row.Scan(&v); err != nil {
		return 0, types.Err(types.ErrDataStoreAccess, err, "incr %s", key)
	}
	return v, nil
}

func (s *CounterStore) Count(ctx context.Context, key string) (int64, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT count FROM counters WHERE key = ? AND expires_at > ?`, key, s.timeNow().UnixMilli())
	var v int64
	if err := row.Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, types.Err(types.ErrDataStoreAccess, err, "count %s", key)
	}
	return v, nil
}

// PurgeExpired deletes counters past their expiry and returns how many were removed.
func (s *CounterStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM counters WHERE expires_at <= ?`, s.timeNow().UnixMilli())
	if err != nil {
		return 0, types.Err(types.ErrDataStoreAccess, err, "purge counters")
	}
	return res.RowsAffected()
}
