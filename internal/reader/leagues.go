package reader

import (
	"context"
	"kickoff/internal/cache"
	"kickoff/internal/types"
	"sync"

	"golang.org/x/sync/errgroup"
)

// maxFallbackFetches bounds concurrent provider calls of one multi-league read.
const maxFallbackFetches = 4

type leagueResult struct {
	fixtures []types.Fixture
	hit      bool
}

// GetMultipleLeaguesFixtures returns the fixtures of every league on date.
// Cached tiers are consulted for all leagues in parallel. With the
// all_or_nothing policy the provider is only asked when the combined result
// is empty; with per_league every league that missed is fetched.
func (r *Reader) GetMultipleLeaguesFixtures(ctx context.Context, date string, leagueIDs []int) ([]types.Fixture, error) {
	results := make([]leagueResult, len(leagueIDs))
	var g errgroup.Group
	for i, id := range leagueIDs {
		g.Go(func() error {
			v, ok := lookup[[]types.Fixture](ctx, r, types.CollectionFixtures, cache.FixtureListParams(id, date, date))
			results[i] = leagueResult{fixtures: v, hit: ok}
			return nil
		})
	}
	_ = g.Wait()

	var refetch []int
	switch r.fallback {
	case types.FallbackPerLeague:
		for i, res := range results {
			if !res.hit {
				refetch = append(refetch, i)
			}
		}
	default:
		if countFixtures(results) == 0 {
			for i := range results {
				refetch = append(refetch, i)
			}
		}
	}

	if len(refetch) > 0 {
		var (
			mu      sync.Mutex
			unavail error
		)
		fg, fctx := errgroup.WithContext(ctx)
		fg.SetLimit(maxFallbackFetches)
		for _, i := range refetch {
			id := leagueIDs[i]
			fg.Go(func() error {
				v, err := r.fetchFixtures(fctx, date, date, id)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					unavail = err
					return nil
				}
				results[i] = leagueResult{fixtures: v, hit: true}
				return nil
			})
		}
		_ = fg.Wait()
		if unavail != nil && countFixtures(results) == 0 {
			return nil, unavail
		}
	}

	all := make([]types.Fixture, 0, countFixtures(results))
	for _, res := range results {
		all = append(all, res.fixtures...)
	}
	return SortFixtures(all), nil
}

func countFixtures(results []leagueResult) int {
	n := 0
	for _, res := range results {
		n += len(res.fixtures)
	}
	return n
}
