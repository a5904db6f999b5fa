package types

import "time"

// StatusCode is the provider's short match status code.
type StatusCode string

const (
	StatusTBD         StatusCode = "TBD"
	StatusNotStarted  StatusCode = "NS"
	StatusFirstHalf   StatusCode = "1H"
	StatusHalfTime    StatusCode = "HT"
	StatusSecondHalf  StatusCode = "2H"
	StatusExtraTime   StatusCode = "ET"
	StatusBreakTime   StatusCode = "BT"
	StatusPenalties   StatusCode = "P"
	StatusLive        StatusCode = "LIVE"
	StatusSuspended   StatusCode = "SUSP"
	StatusInterrupted StatusCode = "INT"
	StatusFullTime    StatusCode = "FT"
	StatusAfterET     StatusCode = "AET"
	StatusAfterPens   StatusCode = "PEN"
	StatusPostponed   StatusCode = "PST"
	StatusCancelled   StatusCode = "CANC"
	StatusAbandoned   StatusCode = "ABD"
	StatusAwarded     StatusCode = "AWD"
	StatusWalkover    StatusCode = "WO"
)

var liveStatuses = map[StatusCode]bool{
	StatusFirstHalf:  true,
	StatusHalfTime:   true,
	StatusSecondHalf: true,
	StatusExtraTime:  true,
	StatusBreakTime:  true,
	StatusPenalties:  true,
	StatusLive:       true,
}

var finishedStatuses = map[StatusCode]bool{
	StatusFullTime:  true,
	StatusAfterET:   true,
	StatusAfterPens: true,
}

func (s StatusCode) IsLive() bool     { return liveStatuses[s] }
func (s StatusCode) IsFinished() bool { return finishedStatuses[s] }

// NeedsDetail is true for matches that have statistics, events and lineups worth fetching.
func (s StatusCode) NeedsDetail() bool { return s.IsLive() || s.IsFinished() }

type Team struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Logo string `json:"logo,omitempty"`
}

type Score struct {
	Home int `json:"home"`
	Away int `json:"away"`
}

// Fixture is a single scheduled or played match. Detail payloads are only set
// after enrichment by the reader.
type Fixture struct {
	ID       int        `json:"id"`
	LeagueID int        `json:"league_id"`
	Season   int        `json:"season"`
	Round    string     `json:"round,omitempty"`
	Kickoff  time.Time  `json:"kickoff"`
	Status   StatusCode `json:"status"`
	Elapsed  int        `json:"elapsed"`
	Venue    string     `json:"venue,omitempty"`
	Home     Team       `json:"home"`
	Away     Team       `json:"away"`
	Goals    Score      `json:"goals"`

	Statistics *StatPair   `json:"statistics,omitempty"`
	Events     *EventPair  `json:"events,omitempty"`
	Lineups    *LineupPair `json:"lineups,omitempty"`
}

// Ref returns the minimal tuple the provider needs for per-fixture detail calls.
func (f Fixture) Ref() MatchRef {
	return MatchRef{FixtureID: f.ID, HomeID: f.Home.ID, AwayID: f.Away.ID}
}

// MatchRef identifies a fixture and its two sides for detail lookups.
type MatchRef struct {
	FixtureID int `json:"fixture_id"`
	HomeID    int `json:"home_id"`
	AwayID    int `json:"away_id"`
}

type StatItem struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

type TeamStatistics struct {
	TeamID int        `json:"team_id"`
	Items  []StatItem `json:"items"`
}

type StatPair struct {
	Home *TeamStatistics `json:"home"`
	Away *TeamStatistics `json:"away"`
}

func (p *StatPair) Empty() bool { return p == nil || (p.Home == nil && p.Away == nil) }

const (
	EventTypeGoal  = "Goal"
	EventTypeCard  = "Card"
	EventTypeSubst = "subst"
	EventTypeVar   = "Var"

	EventDetailMissedPenalty = "Missed Penalty"
	EventCommentShootout     = "Penalty Shootout"
)

type Event struct {
	Minute   int    `json:"minute"`
	Extra    int    `json:"extra,omitempty"`
	TeamID   int    `json:"team_id"`
	Player   string `json:"player,omitempty"`
	Assist   string `json:"assist,omitempty"`
	Type     string `json:"type"`
	Detail   string `json:"detail,omitempty"`
	Comments string `json:"comments,omitempty"`
}

// CountsAsGoal is true for goal events that contribute to the official score.
// Missed penalties and shootout kicks do not.
func (e Event) CountsAsGoal() bool {
	if e.Type != EventTypeGoal {
		return false
	}
	if e.Detail == EventDetailMissedPenalty {
		return false
	}
	return e.Comments != EventCommentShootout
}

type EventPair struct {
	Home []Event `json:"home"`
	Away []Event `json:"away"`
}

func (p *EventPair) Empty() bool { return p == nil || (len(p.Home) == 0 && len(p.Away) == 0) }

type LineupPlayer struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Number int    `json:"number"`
	Pos    string `json:"pos,omitempty"`
}

type Lineup struct {
	TeamID      int            `json:"team_id"`
	Formation   string         `json:"formation,omitempty"`
	Coach       string         `json:"coach,omitempty"`
	StartXI     []LineupPlayer `json:"start_xi"`
	Substitutes []LineupPlayer `json:"substitutes"`
}

type LineupPair struct {
	Home *Lineup `json:"home"`
	Away *Lineup `json:"away"`
}

func (p *LineupPair) Empty() bool { return p == nil || (p.Home == nil && p.Away == nil) }

// FixtureQuery selects fixtures from the provider. Either a league with a date
// range or Live must be set.
type FixtureQuery struct {
	LeagueID int
	Season   int
	From     string // YYYY-MM-DD
	To       string // YYYY-MM-DD
	Live     bool
}

const DateLayout = "2006-01-02"
