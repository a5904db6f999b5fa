package provider

import (
	"kickoff/internal/types"
	"time"

	json "github.com/goccy/go-json"
)

// envelope is the common API-Football response wrapper. errors is either an
// empty list or an object keyed by field.
type envelope[T any] struct {
	Errors   json.RawMessage `json:"errors"`
	Results  int             `json:"results"`
	Response []T             `json:"response"`
}

func (e envelope[T]) errorText() string {
	switch string(e.Errors) {
	case "", "[]", "{}", "null":
		return ""
	}
	return string(e.Errors)
}

type apiTeam struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Logo string `json:"logo"`
}

type apiFixture struct {
	Fixture struct {
		ID    int       `json:"id"`
		Date  time.Time `json:"date"`
		Venue struct {
			Name string `json:"name"`
		} `json:"venue"`
		Status struct {
			Short   string `json:"short"`
			Elapsed *int   `json:"elapsed"`
		} `json:"status"`
	} `json:"fixture"`
	League struct {
		ID     int    `json:"id"`
		Season int    `json:"season"`
		Round  string `json:"round"`
	} `json:"league"`
	Teams struct {
		Home apiTeam `json:"home"`
		Away apiTeam `json:"away"`
	} `json:"teams"`
	Goals struct {
		Home *int `json:"home"`
		Away *int `json:"away"`
	} `json:"goals"`
}

func (a apiFixture) toFixture() types.Fixture {
	return types.Fixture{
		ID:       a.Fixture.ID,
		LeagueID: a.League.ID,
		Season:   a.League.Season,
		Round:    a.League.Round,
		Kickoff:  a.Fixture.Date,
		Status:   types.StatusCode(a.Fixture.Status.Short),
		Elapsed:  deref(a.Fixture.Status.Elapsed),
		Venue:    a.Fixture.Venue.Name,
		Home:     types.Team(a.Teams.Home),
		Away:     types.Team(a.Teams.Away),
		Goals:    types.Score{Home: deref(a.Goals.Home), Away: deref(a.Goals.Away)},
	}
}

type apiTeamStatistics struct {
	Team       apiTeam          `json:"team"`
	Statistics []types.StatItem `json:"statistics"`
}

type apiEvent struct {
	Time struct {
		Elapsed int  `json:"elapsed"`
		Extra   *int `json:"extra"`
	} `json:"time"`
	Team   apiTeam `json:"team"`
	Player struct {
		Name string `json:"name"`
	} `json:"player"`
	Assist struct {
		Name *string `json:"name"`
	} `json:"assist"`
	Type     string  `json:"type"`
	Detail   string  `json:"detail"`
	Comments *string `json:"comments"`
}

func (a apiEvent) toEvent() types.Event {
	return types.Event{
		Minute:   a.Time.Elapsed,
		Extra:    deref(a.Time.Extra),
		TeamID:   a.Team.ID,
		Player:   a.Player.Name,
		Assist:   deref(a.Assist.Name),
		Type:     a.Type,
		Detail:   a.Detail,
		Comments: deref(a.Comments),
	}
}

type apiLineupPlayer struct {
	Player types.LineupPlayer `json:"player"`
}

type apiLineup struct {
	Team      apiTeam `json:"team"`
	Formation string  `json:"formation"`
	Coach     struct {
		Name string `json:"name"`
	} `json:"coach"`
	StartXI     []apiLineupPlayer `json:"startXI"`
	Substitutes []apiLineupPlayer `json:"substitutes"`
}

func (a apiLineup) toLineup() *types.Lineup {
	players := func(in []apiLineupPlayer) []types.LineupPlayer {
		out := make([]types.LineupPlayer, 0, len(in))
		for _, p := range in {
			out = append(out, p.Player)
		}
		return out
	}
	return &types.Lineup{
		TeamID:      a.Team.ID,
		Formation:   a.Formation,
		Coach:       a.Coach.Name,
		StartXI:     players(a.StartXI),
		Substitutes: players(a.Substitutes),
	}
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
