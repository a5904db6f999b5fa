package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"kickoff/internal/types"
	"strings"
)

const cacheSchema = `CREATE TABLE IF NOT EXISTS cache_entries (
	key TEXT PRIMARY KEY,
	data TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	ttl INTEGER NOT NULL
)`

// CacheStore implements ports.CacheBackend on the cache_entries table.
type CacheStore struct {
	db *sql.DB
}

func NewCacheStore(db *sql.DB) (*CacheStore, error) {
	if _, err := db.Exec(cacheSchema); err != nil {
		return nil, fmt.Errorf("create cache_entries: %w", err)
	}
	return &CacheStore{db: db}, nil
}

func (s *CacheStore) Load(ctx context.Context, key string) (*types.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, data, timestamp, ttl FROM cache_entries WHERE key = ?`, key)
	var e types.CacheEntry
	if err := row.Scan(&e.Key, &e.Data, &e.Timestamp, &e.TTL); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, types.Err(types.ErrDataStoreAccess, err, "get %s", key)
	}
	return &e, nil
}

func (s *CacheStore) Put(ctx context.Context, entry types.CacheEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, data, timestamp, ttl) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		    data = excluded.data,
		    timestamp = excluded.timestamp,
		    ttl = excluded.ttl`,
		entry.Key, entry.Data, entry.Timestamp, entry.TTL)
	if err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "put %s", entry.Key)
	}
	return nil
}

func (s *CacheStore) Scan(ctx context.Context) ([]types.CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, data, timestamp, ttl FROM cache_entries`)
	if err != nil {
		return nil, types.Err(types.ErrDataStoreAccess, err, "scan")
	}
	defer rows.Close()
	var entries []types.CacheEntry
	for rows.Next() {
		var e types.CacheEntry
		if err := rows.Scan(&e.Key, &e.Data, &e.Timestamp, &e.TTL); err != nil {
			return nil, types.Err(types.ErrDataStoreAccess, err, "scan row")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *CacheStore) DeleteBatch(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key IN (`+placeholders+`)`, args...)
	if err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "delete %d keys", len(keys))
	}
	return nil
}
