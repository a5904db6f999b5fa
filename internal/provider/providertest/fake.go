// Package providertest provides an in-memory ports.Provider for tests.
package providertest

import (
	"context"
	"kickoff/internal/clock"
	"kickoff/internal/types"
	"sync"
	"time"
)

type Call struct {
	Endpoint string
	At       time.Time
	Query    types.FixtureQuery
	Ref      types.MatchRef
}

// Fake answers from the configured functions and records every call. Unset
// functions return empty data.
type Fake struct {
	Clock clock.Clock

	FixturesFn   func(q types.FixtureQuery) ([]types.Fixture, error)
	StatisticsFn func(ref types.MatchRef) (types.StatPair, error)
	EventsFn     func(ref types.MatchRef) (types.EventPair, error)
	LineupsFn    func(ref types.MatchRef) (types.LineupPair, error)

	mu    sync.Mutex
	calls []Call
}

func (f *Fake) record(c Call) {
	if f.Clock != nil {
		c.At = f.Clock.Now()
	}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *Fake) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// CountOf returns the number of calls to one endpoint.
func (f *Fake) CountOf(endpoint string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Endpoint == endpoint {
			n++
		}
	}
	return n
}

func (f *Fake) Reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

func (f *Fake) Fixtures(_ context.Context, q types.FixtureQuery) ([]types.Fixture, error) {
	f.record(Call{Endpoint: "fixtures", Query: q})
	if f.FixturesFn == nil {
		return []types.Fixture{}, nil
	}
	return f.FixturesFn(q)
}

func (f *Fake) Statistics(_ context.Context, ref types.MatchRef) (types.StatPair, error) {
	f.record(Call{Endpoint: "statistics", Ref: ref})
	if f.StatisticsFn == nil {
		return types.StatPair{}, nil
	}
	return f.StatisticsFn(ref)
}

func (f *Fake) Events(_ context.Context, ref types.MatchRef) (types.EventPair, error) {
	f.record(Call{Endpoint: "events", Ref: ref})
	if f.EventsFn == nil {
		return types.EventPair{}, nil
	}
	return f.EventsFn(ref)
}

func (f *Fake) Lineups(_ context.Context, ref types.MatchRef) (types.LineupPair, error) {
	f.record(Call{Endpoint: "lineups", Ref: ref})
	if f.LineupsFn == nil {
		return types.LineupPair{}, nil
	}
	return f.LineupsFn(ref)
}
