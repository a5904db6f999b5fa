// Package provider talks to the upstream football data API.
package provider

import (
	"context"
	"kickoff/internal/types"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"resty.dev/v3"
)

const apiKeyHdrName = "x-apisports-key"

// Client is a ports.Provider backed by API-Football v3.
type Client struct {
	rc       *resty.Client
	apiKey   string
	timezone string
}

func NewClient(cfg types.ProviderConfig, timezone string) *Client {
	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	return &Client{rc: rc, apiKey: cfg.APIKey, timezone: timezone}
}

// Close releases the underlying HTTP transport.
func (c *Client) Close() error {
	return c.rc.Close()
}

func (c *Client) Fixtures(ctx context.Context, q types.FixtureQuery) ([]types.Fixture, error) {
	params := map[string]string{}
	if q.Live {
		params["live"] = "all"
	} else {
		params["league"] = strconv.Itoa(q.LeagueID)
		params["season"] = strconv.Itoa(q.Season)
		params["from"] = q.From
		params["to"] = q.To
	}
	if c.timezone != "" {
		params["timezone"] = c.timezone
	}
	var env envelope[apiFixture]
	if err := c.get(ctx, "/fixtures", params, &env); err != nil {
		return nil, err
	}
	out := make([]types.Fixture, 0, len(env.Response))
	for _, a := range env.Response {
		out = append(out, a.toFixture())
	}
	return out, nil
}

func (c *Client) Statistics(ctx context.Context, ref types.MatchRef) (types.StatPair, error) {
	var env envelope[apiTeamStatistics]
	if err := c.get(ctx, "/fixtures/statistics", fixtureParam(ref), &env); err != nil {
		return types.StatPair{}, err
	}
	var pair types.StatPair
	for _, ts := range env.Response {
		st := &types.TeamStatistics{TeamID: ts.Team.ID, Items: ts.Statistics}
		switch ts.Team.ID {
		case ref.HomeID:
			pair.Home = st
		case ref.AwayID:
			pair.Away = st
		}
	}
	return pair, nil
}

func (c *Client) Events(ctx context.Context, ref types.MatchRef) (types.EventPair, error) {
	var env envelope[apiEvent]
	if err := c.get(ctx, "/fixtures/events", fixtureParam(ref), &env); err != nil {
		return types.EventPair{}, err
	}
	pair := types.EventPair{Home: []types.Event{}, Away: []types.Event{}}
	for _, a := range env.Response {
		e := a.toEvent()
		switch e.TeamID {
		case ref.HomeID:
			pair.Home = append(pair.Home, e)
		case ref.AwayID:
			pair.Away = append(pair.Away, e)
		}
	}
	return pair, nil
}

func (c *Client) Lineups(ctx context.Context, ref types.MatchRef) (types.LineupPair, error) {
	var env envelope[apiLineup]
	if err := c.get(ctx, "/fixtures/lineups", fixtureParam(ref), &env); err != nil {
		return types.LineupPair{}, err
	}
	var pair types.LineupPair
	for _, a := range env.Response {
		switch a.Team.ID {
		case ref.HomeID:
			pair.Home = a.toLineup()
		case ref.AwayID:
			pair.Away = a.toLineup()
		}
	}
	return pair, nil
}

func (c *Client) get(ctx context.Context, path string, params map[string]string, result interface{ errorText() string }) error {
	if c.apiKey == "" {
		return types.ErrMissingAPIKey
	}
	start := time.Now()
	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeader(apiKeyHdrName, c.apiKey).
		SetQueryParams(params).
		SetResult(result).
		Get(path)
	lg := log.WithFields(log.Fields{"path": path, "params": params, "elapsed": time.Since(start)})
	if err != nil {
		lg.WithError(err).Warn("provider request failed")
		return types.Err(types.ErrProviderTransport, err, "GET %s", path)
	}
	if resp.IsError() {
		lg.WithField("status", resp.StatusCode()).Warn("provider returned an error status")
		return types.Err(types.ErrProviderTransport, nil, "GET %s: status %d", path, resp.StatusCode())
	}
	if msg := result.errorText(); msg != "" {
		lg.WithField("errors", msg).Warn("provider rejected request")
		return types.Err(types.ErrProviderRejected, nil, "GET %s: %s", path, msg)
	}
	lg.Debug("provider request done")
	return nil
}

func fixtureParam(ref types.MatchRef) map[string]string {
	return map[string]string{"fixture": strconv.Itoa(ref.FixtureID)}
}
