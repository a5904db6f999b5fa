package redis

import (
	"context"
	"errors"
	"fmt"
	"kickoff/internal/types"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	counterKeyNameTemplate = "_kickoff_count_%s"
	windowKeyNameTemplate  = "_kickoff_rwin_%s_%d" // for rate limiting
)

// CounterStore implements ports.CounterStore on plain redis counters.
type CounterStore struct {
	cli *redis.Client
}

func NewCounterStore(cli *redis.Client) *CounterStore {
	return &CounterStore{cli: cli}
}

func (s *CounterStore) Acquire(ctx context.Context, key string, ratePerWindow int, window time.Duration) (bool, error) {
	if ratePerWindow <= 0 {
		return false, nil
	}
	// Window bucketing by integer minutes only.
	epochMin := time.Now().Unix() / 60

	cacheKey := getWindowKeyName(key, epochMin)
	outC := s.cli.HGet(ctx, cacheKey, "count")
	if outC.Err() != nil {
		if errors.Is(outC.Err(), redis.Nil) {
			// does not exist yet, proceed
			out := s.cli.HIncrBy(ctx, cacheKey, "count", 1)
			if e1 := out.Err(); e1 != nil {
				return false, types.Err(types.ErrDataStoreAccess, e1, "acquire %s", key)
			}
			e2 := s.cli.Expire(ctx, cacheKey, 2*window).Err()
			return e2 == nil, e2
		}
		return false, types.Err(types.ErrDataStoreAccess, outC.Err(), "acquire %s", key)
	}
	if outC.Val() != "" {
		count, err := strconv.Atoi(outC.Val())
		if err != nil {
			return false, fmt.Errorf("invalid count: %w", err)
		}
		if count >= ratePerWindow {
			return false, nil // at capacity
		}
	}
	if err := s.cli.HIncrBy(ctx, cacheKey, "count", 1).Err(); err != nil {
		return false, types.Err(types.ErrDataStoreAccess, err, "acquire %s", key)
	}
	return true, nil
}

func (s *CounterStore) Incr(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error) {
	name := getCounterKeyName(key)
	pipe := s.cli.TxPipeline()
	incr := pipe.IncrBy(ctx, name, n)
	pipe.ExpireNX(ctx, name, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, types.Err(types.ErrDataStoreAccess, err, "incr %s", key)
	}
	return incr.Val(), nil
}

func (s *CounterStore) Count(ctx context.Context, key string) (int64, error) {
	v, err := s.cli.Get(ctx, getCounterKeyName(key)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, types.Err(types.ErrDataStoreAccess, err, "count %s", key)
	}
	return v, nil
}

func getCounterKeyName(key string) string {
	return fmt.Sprintf(counterKeyNameTemplate, key)
}

func getWindowKeyName(key string, epochMin int64) string {
	return fmt.Sprintf(windowKeyNameTemplate, key, epochMin)
}
