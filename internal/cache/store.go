// Package cache is the TTL document cache in front of the provider. Entries are
// keyed by collection and query parameters; expired entries are never served.
package cache

import (
	"context"
	"kickoff/internal/clock"
	"kickoff/internal/metrics"
	"kickoff/internal/ports"
	"kickoff/internal/types"
	"time"

	json "github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
)

type Store struct {
	backend ports.CacheBackend
	clock   clock.Clock
}

type Stats struct {
	TotalEntries   int   `json:"total_entries"`
	ExpiredEntries int   `json:"expired_entries"`
	SizeBytes      int64 `json:"size_bytes"`
}

func NewStore(backend ports.CacheBackend, c clock.Clock) *Store {
	if c == nil {
		c = clock.Real{}
	}
	return &Store{backend: backend, clock: c}
}

// Get returns the JSON document cached for (collection, params). Missing,
// expired and unreadable entries are all reported as absent. Expired entries
// are left in place for Cleanup.
func (s *Store) Get(ctx context.Context, collection string, params types.Params) ([]byte, bool) {
	key := Key(collection, params)
	lg := log.WithFields(log.Fields{"collection": collection, "key": key})

	entry, err := s.backend.Load(ctx, key)
	if err != nil {
		lg.WithError(err).Warn("cache load failed, treating as miss")
		metrics.CacheOps.WithLabelValues(collection, "error").Inc()
		return nil, false
	}
	if entry == nil {
		lg.Debug("cache miss")
		metrics.CacheOps.WithLabelValues(collection, "miss").Inc()
		return nil, false
	}
	if entry.Expired(clock.EpochMillis(s.clock)) {
		lg.Debug("cache entry expired")
		metrics.CacheOps.WithLabelValues(collection, "expired").Inc()
		return nil, false
	}
	data, err := DecodePayload(entry.Data)
	if err != nil {
		lg.WithError(err).Warn("cache entry undecodable, treating as miss")
		metrics.CacheOps.WithLabelValues(collection, "error").Inc()
		return nil, false
	}
	lg.Debug("cache hit")
	metrics.CacheOps.WithLabelValues(collection, "hit").Inc()
	return data, true
}

// Set overwrites the entry for (collection, params) with value, stamped now.
// Failures are logged and otherwise ignored.
func (s *Store) Set(ctx context.Context, collection string, params types.Params, value any, ttl time.Duration) {
	key := Key(collection, params)
	lg := log.WithFields(log.Fields{"collection": collection, "key": key, "ttl": ttl})

	data, err := EncodePayload(value)
	if err != nil {
		lg.WithError(err).Warn("cache value not encodable")
		metrics.CacheOps.WithLabelValues(collection, "error").Inc()
		return
	}
	entry := types.CacheEntry{
		Key:       key,
		Data:      data,
		Timestamp: clock.EpochMillis(s.clock),
		TTL:       ttl.Milliseconds(),
	}
	if err := s.backend.Put(ctx, entry); err != nil {
		lg.WithError(err).Warn("cache write failed")
		metrics.CacheOps.WithLabelValues(collection, "error").Inc()
		return
	}
	lg.Debug("cache set")
	metrics.CacheOps.WithLabelValues(collection, "set").Inc()
}

// Has reports whether a live entry exists without decoding it.
func (s *Store) Has(ctx context.Context, collection string, params types.Params) bool {
	entry, err := s.backend.Load(ctx, Key(collection, params))
	if err != nil || entry == nil {
		return false
	}
	return !entry.Expired(clock.EpochMillis(s.clock))
}

// Stats scans the whole store. SizeBytes sums the serialized data lengths.
func (s *Store) Stats(ctx context.Context) Stats {
	entries, err := s.backend.Scan(ctx)
	if err != nil {
		log.WithError(err).Warn("cache stats scan failed")
		return Stats{}
	}
	now := clock.EpochMillis(s.clock)
	st := Stats{TotalEntries: len(entries)}
	for _, e := range entries {
		if e.Expired(now) {
			st.ExpiredEntries++
		}
		st.SizeBytes += int64(len(e.Data))
	}
	return st
}

// Cleanup deletes every expired entry and returns how many were deleted.
// Live entries are never touched.
func (s *Store) Cleanup(ctx context.Context) int {
	entries, err := s.backend.Scan(ctx)
	if err != nil {
		log.WithError(err).Warn("cache cleanup scan failed")
		return 0
	}
	now := clock.EpochMillis(s.clock)
	expired := make([]string, 0)
	for _, e := range entries {
		if e.Expired(now) {
			expired = append(expired, e.Key)
		}
	}
	if len(expired) == 0 {
		return 0
	}
	if err := s.backend.DeleteBatch(ctx, expired); err != nil {
		log.WithError(err).WithField("expired", len(expired)).Warn("cache cleanup delete failed")
		return 0
	}
	metrics.CacheCleanupDeleted.Add(float64(len(expired)))
	log.WithField("deleted", len(expired)).Info("cache cleanup done")
	return len(expired)
}

// GetJSON decodes the cached document into T. A document that does not decode
// into T is a miss.
func GetJSON[T any](ctx context.Context, s *Store, collection string, params types.Params) (T, bool) {
	var v T
	raw, ok := s.Get(ctx, collection, params)
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		log.WithError(err).WithField("collection", collection).Warn("cached document has unexpected shape")
		return v, false
	}
	return v, true
}

// SetJSON is Set with a typed value.
func SetJSON[T any](ctx context.Context, s *Store, collection string, params types.Params, v T, ttl time.Duration) {
	s.Set(ctx, collection, params, v, ttl)
}
