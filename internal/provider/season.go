package provider

import (
	"kickoff/internal/types"
	"time"
)

// SeasonFor derives the season a date belongs to for leagues without a
// configured season. Seasons start in July.
func SeasonFor(d time.Time) int {
	if d.Month() >= time.July {
		return d.Year()
	}
	return d.Year() - 1
}

// Seasons maps league ids to their configured season.
type Seasons map[int]int

func NewSeasons(leagues []types.League) Seasons {
	s := make(Seasons, len(leagues))
	for _, l := range leagues {
		if l.Season > 0 {
			s[l.ID] = l.Season
		}
	}
	return s
}

// For returns the configured season of leagueID, or the season date falls in.
// fallback is used when date does not parse.
func (s Seasons) For(leagueID int, date string, fallback time.Time) int {
	if v, ok := s[leagueID]; ok {
		return v
	}
	d, err := time.Parse(types.DateLayout, date)
	if err != nil {
		d = fallback
	}
	return SeasonFor(d)
}
