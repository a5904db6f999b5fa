package ports

import (
	"context"
	"kickoff/internal/types"
)

// Provider is the upstream football data source. Every method is one upstream
// request and fails with a transport error or types.ErrMissingAPIKey.
type Provider interface {
	Fixtures(ctx context.Context, q types.FixtureQuery) ([]types.Fixture, error)
	Statistics(ctx context.Context, ref types.MatchRef) (types.StatPair, error)
	Events(ctx context.Context, ref types.MatchRef) (types.EventPair, error)
	Lineups(ctx context.Context, ref types.MatchRef) (types.LineupPair, error)
}
