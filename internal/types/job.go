package types

import (
	"fmt"
	"time"
)

// JobType is the kind of upstream data a SyncJob fetches.
type JobType string

const (
	JobFixtures JobType = "fixtures"
	JobStats    JobType = "stats"
	JobEvents   JobType = "events"
	JobLineups  JobType = "lineups"
)

// JobStatus follows pending -> running -> completed | failed.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

type JobPriority int

const (
	PriorityNormal JobPriority = iota
	PriorityHigh
)

// JobMetadata carries the type-specific parameters of a job.
type JobMetadata struct {
	LeagueID int        `json:"league_id,omitempty"`
	Season   int        `json:"season,omitempty"`
	From     string     `json:"from,omitempty"`
	To       string     `json:"to,omitempty"`
	Match    MatchRef   `json:"match,omitempty"`
	Status   StatusCode `json:"status,omitempty"`
	Kickoff  time.Time  `json:"kickoff,omitempty"`
	// Details asks a fixtures job to queue detail jobs for the matches it returns.
	Details bool `json:"details,omitempty"`
}

// Fixture rebuilds the fixture fields a detail job was created from, enough
// for TTL decisions.
func (m JobMetadata) Fixture() Fixture {
	return Fixture{
		ID:       m.Match.FixtureID,
		LeagueID: m.LeagueID,
		Season:   m.Season,
		Kickoff:  m.Kickoff,
		Status:   m.Status,
		Home:     Team{ID: m.Match.HomeID},
		Away:     Team{ID: m.Match.AwayID},
	}
}

type SyncJob struct {
	ID         string      `json:"id"`
	Type       JobType     `json:"type"`
	Status     JobStatus   `json:"status"`
	Priority   JobPriority `json:"priority"`
	Metadata   JobMetadata `json:"metadata"`
	Error      string      `json:"error,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	StartedAt  time.Time   `json:"started_at,omitempty"`
	FinishedAt time.Time   `json:"finished_at,omitempty"`
}

// JobID derives the dedup key for a (type, subject) pair.
func JobID(t JobType, subject string) string {
	return fmt.Sprintf("%s:%s", t, subject)
}

// NewFixturesJob builds a job fetching one league's fixtures over a date range.
func NewFixturesJob(leagueID, season int, from, to string) SyncJob {
	return SyncJob{
		ID:     JobID(JobFixtures, fmt.Sprintf("league=%d:%s..%s", leagueID, from, to)),
		Type:   JobFixtures,
		Status: JobPending,
		Metadata: JobMetadata{
			LeagueID: leagueID,
			Season:   season,
			From:     from,
			To:       to,
		},
	}
}

// NewDetailJob builds a stats, events or lineups job for one fixture.
func NewDetailJob(t JobType, f Fixture) SyncJob {
	return SyncJob{
		ID:     DetailJobID(t, f.ID),
		Type:   t,
		Status: JobPending,
		Metadata: JobMetadata{
			LeagueID: f.LeagueID,
			Season:   f.Season,
			Match:    f.Ref(),
			Status:   f.Status,
			Kickoff:  f.Kickoff,
		},
	}
}

func DetailJobID(t JobType, fixtureID int) string {
	return JobID(t, fmt.Sprintf("fixture=%d", fixtureID))
}

// DetailJobTypes are the per-fixture job kinds in the order they are queued.
var DetailJobTypes = []JobType{JobStats, JobEvents, JobLineups}
