package provider

import (
	"context"
	"errors"
	"kickoff/internal/metrics"
	"kickoff/internal/ports"
	"kickoff/internal/types"
)

// Recorder receives one notification per upstream request.
type Recorder interface {
	Record(ctx context.Context)
}

// Counting decorates a Provider so every upstream request is recorded, whether
// it succeeds or not. Requests refused locally for a missing key are not counted.
type Counting struct {
	next ports.Provider
	rec  Recorder
}

func NewCounting(next ports.Provider, rec Recorder) *Counting {
	return &Counting{next: next, rec: rec}
}

func (c *Counting) Fixtures(ctx context.Context, q types.FixtureQuery) ([]types.Fixture, error) {
	out, err := c.next.Fixtures(ctx, q)
	c.observe(ctx, "fixtures", err)
	return out, err
}

func (c *Counting) Statistics(ctx context.Context, ref types.MatchRef) (types.StatPair, error) {
	out, err := c.next.Statistics(ctx, ref)
	c.observe(ctx, "statistics", err)
	return out, err
}

func (c *Counting) Events(ctx context.Context, ref types.MatchRef) (types.EventPair, error) {
	out, err := c.next.Events(ctx, ref)
	c.observe(ctx, "events", err)
	return out, err
}

func (c *Counting) Lineups(ctx context.Context, ref types.MatchRef) (types.LineupPair, error) {
	out, err := c.next.Lineups(ctx, ref)
	c.observe(ctx, "lineups", err)
	return out, err
}

func (c *Counting) observe(ctx context.Context, endpoint string, err error) {
	switch {
	case errors.Is(err, types.ErrMissingAPIKey):
		metrics.ProviderCalls.WithLabelValues(endpoint, "no_key").Inc()
		return
	case err != nil:
		metrics.ProviderCalls.WithLabelValues(endpoint, "error").Inc()
	default:
		metrics.ProviderCalls.WithLabelValues(endpoint, "ok").Inc()
	}
	c.rec.Record(ctx)
}
