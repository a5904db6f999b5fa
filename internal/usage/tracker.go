// Package usage counts provider calls per calendar day.
package usage

import (
	"context"
	"kickoff/internal/clock"
	"kickoff/internal/ports"
	"kickoff/internal/types"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// counterTTL keeps a day's counter around long enough to be read the next morning.
const counterTTL = 48 * time.Hour

// Tracker keeps the daily call tally in a shared CounterStore so every
// instance sees the same budget. A local tally covers store outages.
type Tracker struct {
	store ports.CounterStore
	clock clock.Clock
	loc   *time.Location
	quota int

	mu       sync.Mutex
	localDay string
	local    int64
}

// New returns a tracker whose days roll over at midnight in loc. store may be nil.
func New(store ports.CounterStore, c clock.Clock, loc *time.Location, quota int) *Tracker {
	if loc == nil {
		loc = time.UTC
	}
	return &Tracker{store: store, clock: c, loc: loc, quota: quota}
}

func (t *Tracker) day() string {
	return t.clock.Now().In(t.loc).Format(types.DateLayout)
}

func dayKey(day string) string { return "usage:" + day }

// Record counts one provider call.
func (t *Tracker) Record(ctx context.Context) {
	day := t.day()
	t.mu.Lock()
	if t.localDay != day {
		t.localDay, t.local = day, 0
	}
	t.local++
	t.mu.Unlock()

	if t.store == nil {
		return
	}
	if _, err := t.store.Incr(ctx, dayKey(day), 1, counterTTL); err != nil {
		log.WithError(err).Warn("usage counter write failed, keeping local tally")
	}
}

// Today returns the calls recorded so far today.
func (t *Tracker) Today(ctx context.Context) int64 {
	day := t.day()
	t.mu.Lock()
	local := int64(0)
	if t.localDay == day {
		local = t.local
	}
	t.mu.Unlock()

	if t.store == nil {
		return local
	}
	n, err := t.store.Count(ctx, dayKey(day))
	if err != nil {
		log.WithError(err).Warn("usage counter read failed, using local tally")
		return local
	}
	return max(n, local)
}

// Ratio is today's usage as a share of the daily quota.
func (t *Tracker) Ratio(ctx context.Context) float64 {
	if t.quota <= 0 {
		return 0
	}
	return float64(t.Today(ctx)) / float64(t.quota)
}

