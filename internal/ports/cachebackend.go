package ports

import (
	"context"
	"kickoff/internal/types"
)

// CacheBackend persists cache documents. Backends never interpret Data nor
// expiry; the cache store owns TTL semantics.
type CacheBackend interface {
	// Load returns the entry stored at key, or (nil,nil) if there is none.
	Load(ctx context.Context, key string) (*types.CacheEntry, error)

	// Put overwrites the entry at entry.Key unconditionally.
	Put(ctx context.Context, entry types.CacheEntry) error

	// Scan returns every stored entry.
	Scan(ctx context.Context) ([]types.CacheEntry, error)

	// DeleteBatch removes the given keys; missing keys are ignored.
	DeleteBatch(ctx context.Context, keys []string) error
}
