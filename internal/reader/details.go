package reader

import (
	"context"
	"errors"
	"kickoff/internal/cache"
	"kickoff/internal/policy"
	"kickoff/internal/types"
	"time"

	"golang.org/x/sync/errgroup"
)

// GetMatchesWithDetails enriches live and finished fixtures with statistics,
// events and lineups, repairs events that disagree with the score and returns
// the batch sorted. Each detail kind is loaded by its own concurrent pass.
func (r *Reader) GetMatchesWithDetails(ctx context.Context, fixtures []types.Fixture) ([]types.Fixture, error) {
	var targets []types.Fixture
	for _, f := range fixtures {
		if f.Status.NeedsDetail() {
			targets = append(targets, f)
		}
	}
	if len(targets) == 0 {
		return SortFixtures(fixtures), nil
	}

	var (
		stats   map[int]types.StatPair
		events  map[int]types.EventPair
		lineups map[int]types.LineupPair
	)
	var g errgroup.Group
	g.Go(func() (err error) {
		stats, err = r.statisticsBatch(ctx, targets)
		return
	})
	g.Go(func() (err error) {
		events, err = r.eventsBatch(ctx, targets)
		return
	})
	g.Go(func() (err error) {
		lineups, err = r.lineupsBatch(ctx, targets)
		return
	})
	unavail := g.Wait()

	merged := make([]types.Fixture, len(fixtures))
	for i, f := range fixtures {
		if v, ok := stats[f.ID]; ok {
			f.Statistics = &v
		}
		if v, ok := events[f.ID]; ok {
			f.Events = &v
		}
		if v, ok := lineups[f.ID]; ok {
			f.Lineups = &v
		}
		merged[i] = f
	}
	if unavail != nil {
		return SortFixtures(merged), unavail
	}

	merged = r.validator.RepairAll(ctx, merged, r.refetchEvents(merged))
	return SortFixtures(merged), nil
}

// refetchEvents binds event repair to the provider and writes repaired
// events back to the cache.
func (r *Reader) refetchEvents(batch []types.Fixture) func(ctx context.Context, ref types.MatchRef) (types.EventPair, error) {
	byID := make(map[int]types.Fixture, len(batch))
	for _, f := range batch {
		byID[f.ID] = f
	}
	return func(ctx context.Context, ref types.MatchRef) (types.EventPair, error) {
		ev, err := r.provider.Events(ctx, ref)
		if err != nil {
			return ev, err
		}
		params := cache.FixtureParams(ref.FixtureID)
		r.store.Set(ctx, types.CollectionEvents, params, ev, policy.MatchTTL(byID[ref.FixtureID], r.clock.Now()))
		r.memory.Add(cache.Key(types.CollectionEvents, params), ev)
		return ev, nil
	}
}

// detailBatch resolves one detail kind for every target through the tiers.
// A missing API key stops the pass and is returned; other failures leave the
// fixture without that detail.
func detailBatch[T any](
	ctx context.Context,
	r *Reader,
	collection string,
	targets []types.Fixture,
	call func(ctx context.Context, ref types.MatchRef) (T, error),
	ttl func(f types.Fixture) time.Duration,
	empty func(v T) bool,
) (map[int]T, error) {
	out := make(map[int]T, len(targets))
	for _, f := range targets {
		params := cache.FixtureParams(f.ID)
		if v, ok := lookup[T](ctx, r, collection, params); ok {
			if !empty(v) {
				out[f.ID] = v
			}
			continue
		}
		ref := f.Ref()
		v, err := fetch(ctx, r, collection, params,
			func(ctx context.Context) (T, error) { return call(ctx, ref) },
			func(T) time.Duration { return ttl(f) },
			empty,
		)
		if err != nil {
			if errors.Is(err, types.ErrServiceUnavailable) {
				return out, err
			}
			continue
		}
		if !empty(v) {
			out[f.ID] = v
		}
	}
	return out, nil
}

func (r *Reader) statisticsBatch(ctx context.Context, targets []types.Fixture) (map[int]types.StatPair, error) {
	return detailBatch(ctx, r, types.CollectionStatistics, targets, r.provider.Statistics,
		func(f types.Fixture) time.Duration { return policy.MatchTTL(f, r.clock.Now()) },
		func(v types.StatPair) bool { return v.Empty() },
	)
}

func (r *Reader) eventsBatch(ctx context.Context, targets []types.Fixture) (map[int]types.EventPair, error) {
	return detailBatch(ctx, r, types.CollectionEvents, targets, r.provider.Events,
		func(f types.Fixture) time.Duration { return policy.MatchTTL(f, r.clock.Now()) },
		func(v types.EventPair) bool { return v.Empty() },
	)
}

func (r *Reader) lineupsBatch(ctx context.Context, targets []types.Fixture) (map[int]types.LineupPair, error) {
	ttl, _ := policy.StaticTTLFor(types.CollectionLineups)
	return detailBatch(ctx, r, types.CollectionLineups, targets, r.provider.Lineups,
		func(types.Fixture) time.Duration { return ttl },
		func(v types.LineupPair) bool { return v.Empty() },
	)
}
