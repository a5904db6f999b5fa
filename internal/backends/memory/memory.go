// Package memory keeps cache documents and counters in process memory. It is
// used by tests and by single-process runs that need no persistence.
package memory

import (
	"context"
	"kickoff/internal/types"
	"sort"
	"sync"
	"time"
)

type CacheStore struct {
	mu      sync.RWMutex
	entries map[string]types.CacheEntry
	// FailWith, when set, is returned by every call.
	FailWith error
}

func NewCacheStore() *CacheStore {
	return &CacheStore{entries: make(map[string]types.CacheEntry)}
}

func (s *CacheStore) Load(_ context.Context, key string) (*types.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	e, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *CacheStore) Put(_ context.Context, entry types.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	s.entries[entry.Key] = entry
	return nil
}

// Scan returns entries ordered by key.
func (s *CacheStore) Scan(_ context.Context) ([]types.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	out := make([]types.CacheEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *CacheStore) DeleteBatch(_ context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

// Len is the number of stored entries, expired or not.
func (s *CacheStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

type counter struct {
	value     int64
	expiresAt time.Time
}

type CounterStore struct {
	mu       sync.Mutex
	counters map[string]counter
	timeNow  func() time.Time
}

func NewCounterStore() *CounterStore {
	return &CounterStore{counters: make(map[string]counter), timeNow: time.Now}
}

// SetTimeNowFn replaces the clock used for counter expiry.
func (s *CounterStore) SetTimeNowFn(f func() time.Time) {
	s.mu.Lock()
	s.timeNow = f
	s.mu.Unlock()
}

func (s *CounterStore) Acquire(_ context.Context, scope string, ratePerWindow int, window time.Duration) (bool, error) {
	if ratePerWindow <= 0 {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.timeNow()
	key := scope + "#" + now.Truncate(time.Minute).Format(time.RFC3339)
	c := s.live(key, now)
	if c.value >= int64(ratePerWindow) {
		return false, nil
	}
	if c.value == 0 {
		c.expiresAt = now.Add(window + 2*time.Minute)
	}
	c.value++
	s.counters[key] = c
	return true, nil
}

func (s *CounterStore) Incr(_ context.Context, key string, n int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.timeNow()
	c := s.live(key, now)
	if c.value == 0 && c.expiresAt.IsZero() {
		c.expiresAt = now.Add(ttl)
	}
	c.value += n
	s.counters[key] = c
	return c.value, nil
}

func (s *CounterStore) Count(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live(key, s.timeNow()).value, nil
}

// live returns the counter at key, or the zero counter when absent or expired.
func (s *CounterStore) live(key string, now time.Time) counter {
	c, ok := s.counters[key]
	if !ok || !now.Before(c.expiresAt) {
		delete(s.counters, key)
		return counter{}
	}
	return c
}
