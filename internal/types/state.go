package types

import "time"

// LiveMatchState is the detector's in-memory view of one match seen live in the latest scan.
type LiveMatchState struct {
	MatchID    int        `json:"match_id"`
	Status     StatusCode `json:"status"`
	Minute     int        `json:"minute"`
	HomeScore  int        `json:"home_score"`
	AwayScore  int        `json:"away_score"`
	LastUpdate time.Time  `json:"last_update"`
	// NeedsUpdate is set when status, minute or score moved since the previous scan.
	NeedsUpdate bool `json:"needs_update"`
}

// Changed reports whether the fixture differs from the recorded state.
func (s LiveMatchState) Changed(f Fixture) bool {
	return s.Status != f.Status ||
		s.Minute != f.Elapsed ||
		s.HomeScore != f.Goals.Home ||
		s.AwayScore != f.Goals.Away
}

// LiveUpdate is what the detector fans out to subscribers when a live match moves.
type LiveUpdate struct {
	Kind      string     `json:"kind"` // "update" or "ended"
	MatchID   int        `json:"match_id"`
	LeagueID  int        `json:"league_id"`
	Status    StatusCode `json:"status"`
	Minute    int        `json:"minute"`
	HomeTeam  string     `json:"home_team"`
	AwayTeam  string     `json:"away_team"`
	HomeScore int        `json:"home_score"`
	AwayScore int        `json:"away_score"`
	At        int64      `json:"at"`
}

const (
	LiveUpdateKindUpdate = "update"
	LiveUpdateKindEnded  = "ended"
)
