package redis

import (
	"context"
	"errors"
	"fmt"
	"kickoff/internal/types"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	cacheKeyNameTemplate = "_kickoff_cache_%s"
	scanBatch            = 500
	// expiryGrace keeps documents past their logical expiry so Stats can still count them.
	expiryGrace = time.Hour
)

// CacheStore implements ports.CacheBackend with one JSON string per key.
type CacheStore struct {
	cli *redis.Client
}

func NewCacheStore(cli *redis.Client) *CacheStore {
	return &CacheStore{cli: cli}
}

func (s *CacheStore) Load(ctx context.Context, key string) (*types.CacheEntry, error) {
	out := s.cli.Get(ctx, getCacheKeyName(key))
	if out.Err() != nil {
		if errors.Is(out.Err(), redis.Nil) {
			return nil, nil
		}
		return nil, types.Err(types.ErrDataStoreAccess, out.Err(), "get %s", key)
	}
	var e types.CacheEntry
	if err := json.Unmarshal([]byte(out.Val()), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *CacheStore) Put(ctx context.Context, entry types.CacheEntry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	ttl := time.Duration(entry.TTL)*time.Millisecond + expiryGrace
	if err := s.cli.Set(ctx, getCacheKeyName(entry.Key), string(b), ttl).Err(); err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "set %s", entry.Key)
	}
	return nil
}

func (s *CacheStore) Scan(ctx context.Context) ([]types.CacheEntry, error) {
	var (
		cursor  uint64
		entries []types.CacheEntry
	)
	for {
		keys, next, err := s.cli.Scan(ctx, cursor, getCacheKeyName("*"), scanBatch).Result()
		if err != nil {
			return nil, types.Err(types.ErrDataStoreAccess, err, "scan")
		}
		if len(keys) > 0 {
			vals, err := s.cli.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, types.Err(types.ErrDataStoreAccess, err, "mget")
			}
			for i, v := range vals {
				raw, ok := v.(string)
				if !ok {
					continue // expired between SCAN and MGET
				}
				var e types.CacheEntry
				if err := json.Unmarshal([]byte(raw), &e); err != nil {
					log.WithError(err).WithField("key", keys[i]).Warn("skipping undecodable cache document")
					continue
				}
				if e.Key == "" {
					e.Key = strings.TrimPrefix(keys[i], getCacheKeyName(""))
				}
				entries = append(entries, e)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return entries, nil
}

func (s *CacheStore) DeleteBatch(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	pipe := s.cli.Pipeline()
	for _, k := range keys {
		pipe.Unlink(ctx, getCacheKeyName(k))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "unlink %d keys", len(keys))
	}
	return nil
}

func getCacheKeyName(key string) string {
	return fmt.Sprintf(cacheKeyNameTemplate, key)
}
