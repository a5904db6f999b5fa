// Package policy decides how long cached football data stays fresh.
package policy

import (
	"kickoff/internal/types"
	"time"
)

const (
	LiveTTL           = time.Minute
	RecentFinishedTTL = 30 * time.Minute
	SettledTTL        = 24 * time.Hour
	DefaultTTL        = 2 * time.Hour
	// EmptyTTL is how long a confirmed-empty answer is trusted.
	EmptyTTL = 30 * time.Minute

	staticTTL  = 10080 * time.Minute // teams, leagues
	lineupsTTL = 43200 * time.Minute

	// recentWindow separates just-finished matches from settled ones.
	recentWindow = 2 * time.Hour
)

// BatchTTL picks the TTL of a fixture list. The first matching rule wins:
// any live match, any match finished within the last two hours, every match
// finished and older than two hours, otherwise the default.
func BatchTTL(fixtures []types.Fixture, now time.Time) time.Duration {
	if len(fixtures) == 0 {
		return EmptyTTL
	}
	for _, f := range fixtures {
		if f.Status.IsLive() {
			return LiveTTL
		}
	}
	for _, f := range fixtures {
		if f.Status.IsFinished() && recent(f, now) {
			return RecentFinishedTTL
		}
	}
	for _, f := range fixtures {
		if !f.Status.IsFinished() {
			return DefaultTTL
		}
	}
	return SettledTTL
}

// MatchTTL applies the same thresholds to a single fixture.
func MatchTTL(f types.Fixture, now time.Time) time.Duration {
	switch {
	case f.Status.IsLive():
		return LiveTTL
	case f.Status.IsFinished() && recent(f, now):
		return RecentFinishedTTL
	case f.Status.IsFinished():
		return SettledTTL
	default:
		return DefaultTTL
	}
}

// StaticTTLFor returns the fixed TTL of collections that do not depend on match status.
func StaticTTLFor(collection string) (time.Duration, bool) {
	switch collection {
	case types.CollectionTeams, types.CollectionLeagues:
		return staticTTL, true
	case types.CollectionLineups:
		return lineupsTTL, true
	}
	return 0, false
}

func recent(f types.Fixture, now time.Time) bool {
	return now.Sub(f.Kickoff) <= recentWindow
}
