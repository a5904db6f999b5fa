package syncer

import (
	"kickoff/internal/clock"
	"sync"
	"time"
)

// ttlMap is a minimal in-process map whose entries fall out after a fixed age.
// Expiration is lazy on Get and Values; Purge drops expired entries.
type ttlMap[K comparable, V any] struct {
	mu    sync.RWMutex
	data  map[K]ttlEntry[V]
	clock clock.Clock
}

type ttlEntry[V any] struct {
	val V
	exp time.Time
}

func newTTLMap[K comparable, V any](c clock.Clock) *ttlMap[K, V] {
	return &ttlMap[K, V]{data: make(map[K]ttlEntry[V]), clock: c}
}

// Get returns the value and true if found and not expired; otherwise zero value and false.
func (t *ttlMap[K, V]) Get(k K) (V, bool) {
	t.mu.RLock()
	e, ok := t.data[k]
	t.mu.RUnlock()
	if !ok || !t.clock.Now().Before(e.exp) {
		var zero V
		return zero, false
	}
	return e.val, true
}

func (t *ttlMap[K, V]) Set(k K, v V, ttl time.Duration) {
	t.mu.Lock()
	t.data[k] = ttlEntry[V]{val: v, exp: t.clock.Now().Add(ttl)}
	t.mu.Unlock()
}

// Values returns every live value in no particular order.
func (t *ttlMap[K, V]) Values() []V {
	now := t.clock.Now()
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]V, 0, len(t.data))
	for _, e := range t.data {
		if now.Before(e.exp) {
			out = append(out, e.val)
		}
	}
	return out
}

// Purge removes expired entries and returns how many were removed.
func (t *ttlMap[K, V]) Purge() int {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for k, e := range t.data {
		if !now.Before(e.exp) {
			delete(t.data, k)
			n++
		}
	}
	return n
}

func (t *ttlMap[K, V]) Clear() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.data)
	t.data = make(map[K]ttlEntry[V])
	return n
}
