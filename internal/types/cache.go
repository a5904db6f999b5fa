package types

// Logical collections in the cache store.
const (
	CollectionFixtures   = "fixtures"
	CollectionStatistics = "statistics"
	CollectionEvents     = "events"
	CollectionLineups    = "lineups"
	CollectionTeams      = "teams"
	CollectionLeagues    = "leagues"
)

// CacheEntry is the persisted cache document. Data is opaque to the backends.
type CacheEntry struct {
	Key       string `json:"key" dynamodbav:"key"`
	Data      string `json:"data" dynamodbav:"data"`
	Timestamp int64  `json:"timestamp" dynamodbav:"timestamp"` // ms
	TTL       int64  `json:"ttl" dynamodbav:"ttl"`             // ms
}

// ExpiresAt returns the instant (ms) from which the entry must no longer be served.
func (e CacheEntry) ExpiresAt() int64 {
	return e.Timestamp + e.TTL
}

// Expired reports whether the entry is logically absent at nowMs.
func (e CacheEntry) Expired(nowMs int64) bool {
	return nowMs >= e.ExpiresAt()
}

// Params is the query parameter object a cache key is derived from.
type Params map[string]string
