// Package reader is the low-latency read path: a short-lived in-process tier,
// the cache store, and a provider fallback that backfills the store.
package reader

import (
	"context"
	"errors"
	"kickoff/internal/cache"
	"kickoff/internal/clock"
	"kickoff/internal/metrics"
	"kickoff/internal/policy"
	"kickoff/internal/ports"
	"kickoff/internal/provider"
	"kickoff/internal/query"
	"kickoff/internal/types"
	"kickoff/internal/validate"
	"slices"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

type Reader struct {
	store     *cache.Store
	provider  ports.Provider
	validator *validate.Validator
	clock     clock.Clock
	memory    *expirable.LRU[string, any]
	group     singleflight.Group
	fallback  string
	seasons   provider.Seasons
}

func New(
	store *cache.Store,
	p ports.Provider,
	v *validate.Validator,
	c clock.Clock,
	cfg types.ReaderConfig,
	leagues []types.League,
) *Reader {
	fallback := cfg.FallbackPolicy
	if fallback == "" {
		fallback = types.FallbackAllOrNothing
	}
	return &Reader{
		store:     store,
		provider:  p,
		validator: v,
		clock:     c,
		memory:    expirable.NewLRU[string, any](cfg.MemorySize, nil, cfg.MemoryTTL),
		fallback:  fallback,
		seasons:   provider.NewSeasons(leagues),
	}
}

// Season returns the configured season for a league, or the season date falls in.
func (r *Reader) Season(leagueID int, date string) int {
	return r.seasons.For(leagueID, date, r.clock.Now())
}

// lookup consults the in-process tier, then the cache store. A store hit
// warms the in-process tier.
func lookup[T any](ctx context.Context, r *Reader, collection string, params types.Params) (T, bool) {
	key := cache.Key(collection, params)
	if v, ok := r.memory.Get(key); ok {
		if t, ok := v.(T); ok {
			metrics.ReaderTier.WithLabelValues("memory").Inc()
			return t, true
		}
	}
	if v, ok := cache.GetJSON[T](ctx, r.store, collection, params); ok {
		metrics.ReaderTier.WithLabelValues("store").Inc()
		r.memory.Add(key, v)
		return v, true
	}
	var zero T
	return zero, false
}

// fetch calls the provider for an exact query and backfills both tiers.
// Identical concurrent misses share one upstream call. Transport failures
// yield the zero value; only a missing API key is returned, as
// types.ErrServiceUnavailable.
func fetch[T any](
	ctx context.Context,
	r *Reader,
	collection string,
	params types.Params,
	call func(ctx context.Context) (T, error),
	ttl func(v T) time.Duration,
	empty func(v T) bool,
) (T, error) {
	key := cache.Key(collection, params)
	v, err, shared := r.group.Do(key, func() (any, error) {
		res, err := call(ctx)
		if err != nil {
			return res, err
		}
		d := ttl(res)
		var stored any = res
		if empty(res) {
			stored = nil
			d = min(d, policy.EmptyTTL)
		}
		r.store.Set(ctx, collection, params, stored, d)
		r.memory.Add(key, res)
		return res, nil
	})
	var zero T
	if err != nil {
		if errors.Is(err, types.ErrMissingAPIKey) {
			metrics.ReaderTier.WithLabelValues("unavailable").Inc()
			return zero, types.Unavailable(err)
		}
		log.WithError(err).WithField("key", key).Warn("provider fallback failed, serving empty result")
		metrics.ReaderTier.WithLabelValues("empty").Inc()
		return zero, nil
	}
	metrics.ReaderTier.WithLabelValues("provider").Inc()
	if shared {
		log.WithField("key", key).Debug("provider fallback coalesced")
	}
	t, _ := v.(T)
	return t, nil
}

// GetFixturesByDateRangeAndLeague returns one league's fixtures over [from, to].
func (r *Reader) GetFixturesByDateRangeAndLeague(ctx context.Context, from, to string, leagueID int) ([]types.Fixture, error) {
	params := cache.FixtureListParams(leagueID, from, to)
	if v, ok := lookup[[]types.Fixture](ctx, r, types.CollectionFixtures, params); ok {
		return SortFixtures(v), nil
	}
	v, err := r.fetchFixtures(ctx, from, to, leagueID)
	return SortFixtures(v), err
}

func (r *Reader) fetchFixtures(ctx context.Context, from, to string, leagueID int) ([]types.Fixture, error) {
	q := types.FixtureQuery{LeagueID: leagueID, Season: r.Season(leagueID, from), From: from, To: to}
	return fetch(ctx, r, types.CollectionFixtures, cache.FixtureListParams(leagueID, from, to),
		func(ctx context.Context) ([]types.Fixture, error) { return r.provider.Fixtures(ctx, q) },
		func(v []types.Fixture) time.Duration { return policy.BatchTTL(v, r.clock.Now()) },
		func(v []types.Fixture) bool { return len(v) == 0 },
	)
}

// Filter narrows fixtures with a JMESPath predicate evaluated per fixture.
func (r *Reader) Filter(fixtures []types.Fixture, expr string) ([]types.Fixture, error) {
	return query.FilterFixtures(fixtures, expr)
}

// SortFixtures returns a copy of fixtures with finished matches first, then
// by kickoff, latest first.
func SortFixtures(in []types.Fixture) []types.Fixture {
	fixtures := slices.Clone(in)
	sort.SliceStable(fixtures, func(i, j int) bool {
		a, b := fixtures[i], fixtures[j]
		if fa, fb := a.Status.IsFinished(), b.Status.IsFinished(); fa != fb {
			return fa
		}
		if !a.Kickoff.Equal(b.Kickoff) {
			return a.Kickoff.After(b.Kickoff)
		}
		return a.ID < b.ID
	})
	return fixtures
}
