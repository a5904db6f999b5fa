// Package validate cross-checks goal events against the official score.
package validate

import (
	"context"
	"kickoff/internal/clock"
	"kickoff/internal/metrics"
	"kickoff/internal/types"
	"time"

	log "github.com/sirupsen/logrus"
)

// Refetch loads fresh events for a match, normally straight from the provider.
type Refetch func(ctx context.Context, ref types.MatchRef) (types.EventPair, error)

// NeedsValidation is true for matches that can carry goal events.
func NeedsValidation(f types.Fixture) bool {
	return f.Status.IsLive() || f.Status.IsFinished()
}

// Validate reports whether each side's goals equal its scoring events.
// A nonzero score with no events at all is inconsistent.
func Validate(f types.Fixture) bool {
	if f.Events.Empty() {
		return f.Goals.Home == 0 && f.Goals.Away == 0
	}
	return countGoals(f.Events.Home) == f.Goals.Home &&
		countGoals(f.Events.Away) == f.Goals.Away
}

func countGoals(events []types.Event) int {
	n := 0
	for _, e := range events {
		if e.CountsAsGoal() {
			n++
		}
	}
	return n
}

type Validator struct {
	clock clock.Clock
	delay time.Duration
}

// New returns a validator that waits delay between refetches in RepairAll.
func New(c clock.Clock, delay time.Duration) *Validator {
	return &Validator{clock: c, delay: delay}
}

// Repair replaces f's events with refetched ones. On error f is returned unchanged.
func (v *Validator) Repair(ctx context.Context, f types.Fixture, refetch Refetch) types.Fixture {
	lg := log.WithFields(log.Fields{"fixture": f.ID, "home": f.Goals.Home, "away": f.Goals.Away})
	events, err := refetch(ctx, f.Ref())
	if err != nil {
		lg.WithError(err).Warn("event repair failed, keeping cached events")
		metrics.ValidatorRepairs.WithLabelValues("failed").Inc()
		return f
	}
	f.Events = &events
	if Validate(f) {
		metrics.ValidatorRepairs.WithLabelValues("repaired").Inc()
		lg.Info("events repaired")
	} else {
		metrics.ValidatorRepairs.WithLabelValues("still_inconsistent").Inc()
		lg.Info("refetched events still disagree with the score")
	}
	return f
}

// RepairAll repairs every inconsistent fixture, one at a time with the
// configured delay between calls, and returns the batch with repaired
// fixtures substituted by id.
func (v *Validator) RepairAll(ctx context.Context, fixtures []types.Fixture, refetch Refetch) []types.Fixture {
	var broken []int
	for i, f := range fixtures {
		if NeedsValidation(f) && !Validate(f) {
			broken = append(broken, i)
		}
	}
	if len(broken) == 0 {
		return fixtures
	}
	log.WithField("count", len(broken)).Info("repairing inconsistent events")

	out := make([]types.Fixture, len(fixtures))
	copy(out, fixtures)
	repaired := make(map[int]types.Fixture, len(broken))
	for n, i := range broken {
		if n > 0 {
			if err := v.clock.Sleep(ctx, v.delay); err != nil {
				break
			}
		}
		f := v.Repair(ctx, fixtures[i], refetch)
		repaired[f.ID] = f
	}
	for i, f := range out {
		if r, ok := repaired[f.ID]; ok {
			out[i] = r
		}
	}
	return out
}
