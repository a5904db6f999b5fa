package syncer

import (
	"context"
	"errors"
	"kickoff/internal/cache"
	"kickoff/internal/types"
	"time"

	log "github.com/sirupsen/logrus"
)

// Forced sync kinds.
const (
	KindToday     = "today"
	KindYesterday = "yesterday"
	KindTomorrow  = "tomorrow"
	KindLive      = "live"
)

var errNoAPIKey = types.Err(types.ErrServiceUnavailable, types.ErrMissingAPIKey, "")

// day is a calendar date in the configured timezone.
func (s *Syncer) day(offset int) string {
	return s.clock.Now().In(s.loc).AddDate(0, 0, offset).Format(types.DateLayout)
}

// SmartSync queues the jobs that matter at this hour of the day, skipping
// anything already cached, and returns how many were queued. It does not drain.
//
//	06-10  yesterday and today; yesterday's details while usage is low
//	10-18  today with details
//	18-22  today with details, tomorrow, and a priority pass over live matches
//	22-06  tomorrow
func (s *Syncer) SmartSync(ctx context.Context) (int, error) {
	if !s.hasKey {
		return 0, errNoAPIKey
	}
	hour := s.clock.Now().In(s.loc).Hour()
	n := 0
	switch {
	case hour >= 6 && hour < 10:
		details := s.usage == nil || s.usage.Ratio(ctx) < s.cfg.DetailUsageRatio
		n += s.planDay(ctx, s.day(-1), details, types.PriorityNormal)
		n += s.planDay(ctx, s.day(0), false, types.PriorityNormal)
	case hour >= 10 && hour < 18:
		n += s.planDay(ctx, s.day(0), true, types.PriorityNormal)
	case hour >= 18 && hour < 22:
		n += s.LivePass(ctx)
		n += s.planDay(ctx, s.day(0), true, types.PriorityNormal)
		n += s.planDay(ctx, s.day(1), false, types.PriorityNormal)
	default:
		n += s.planDay(ctx, s.day(1), false, types.PriorityNormal)
	}
	log.WithFields(log.Fields{"hour": hour, "queued": n}).Info("smart sync dispatched")
	return n, nil
}

// planDay queues one day's fixtures for every league unless cached. With
// details, a cached day has its missing details queued instead.
func (s *Syncer) planDay(ctx context.Context, date string, details bool, p types.JobPriority) int {
	n := 0
	for _, l := range s.leagues {
		params := cache.FixtureListParams(l.ID, date, date)
		if fixtures, ok := cache.GetJSON[[]types.Fixture](ctx, s.store, types.CollectionFixtures, params); ok {
			if details {
				n += s.queueDetails(ctx, fixtures, p)
			}
			continue
		}
		job := types.NewFixturesJob(l.ID, s.seasons.For(l.ID, date, s.clock.Now()), date, date)
		job.Metadata.Details = details
		if s.add(job, p) {
			n++
		}
	}
	return n
}

// LivePass queues priority events and statistics refreshes for every match
// in the cached live list.
func (s *Syncer) LivePass(ctx context.Context) int {
	live, ok := cache.GetJSON[[]types.Fixture](ctx, s.store, types.CollectionFixtures, cache.LiveParams())
	if !ok {
		return 0
	}
	return s.QueueLive(live)
}

// QueueLive queues priority events and statistics jobs for the given matches.
func (s *Syncer) QueueLive(fixtures []types.Fixture) int {
	n := 0
	for _, f := range fixtures {
		if s.EnqueuePriority(types.NewDetailJob(types.JobEvents, f)) {
			n++
		}
		if s.EnqueuePriority(types.NewDetailJob(types.JobStats, f)) {
			n++
		}
	}
	return n
}

// QueueForced queues a day's fixtures with details for every league,
// regardless of what is cached. The live kind queues today at priority.
func (s *Syncer) QueueForced(kind string) (int, error) {
	if !s.hasKey {
		return 0, errNoAPIKey
	}
	offset, p := 0, types.PriorityNormal
	switch kind {
	case KindToday:
	case KindYesterday:
		offset = -1
	case KindTomorrow:
		offset = 1
	case KindLive:
		p = types.PriorityHigh
	default:
		return 0, types.Err(types.ErrInvalidInput, errors.New("unknown sync kind"), "kind %q", kind)
	}
	date := s.day(offset)
	n := 0
	for _, l := range s.leagues {
		job := types.NewFixturesJob(l.ID, s.seasons.For(l.ID, date, s.clock.Now()), date, date)
		job.Metadata.Details = true
		if s.add(job, p) {
			n++
		}
	}
	log.WithFields(log.Fields{"kind": kind, "date": date, "queued": n}).Info("forced sync queued")
	return n, nil
}

// ForceSync queues the forced jobs and drains the queue.
func (s *Syncer) ForceSync(ctx context.Context, kind string) (DrainResult, error) {
	if _, err := s.QueueForced(kind); err != nil {
		return DrainResult{}, err
	}
	return s.ForceDrain(ctx), nil
}

// ForceDrain drains the queue now. A halt left by Stop is lifted first, so
// explicit requests still run after the scheduler has been stopped.
func (s *Syncer) ForceDrain(ctx context.Context) DrainResult {
	s.Resume()
	return s.Drain(ctx)
}

// Populate queues fixture lists over [from, to] for every league in windows of
// batch days, skipping windows already cached. It returns the queued job ids.
func (s *Syncer) Populate(ctx context.Context, from, to time.Time, batch int) []string {
	batch = max(batch, 1)
	var ids []string
	for _, l := range s.leagues {
		for start := from; !start.After(to); start = start.AddDate(0, 0, batch) {
			end := start.AddDate(0, 0, batch-1)
			if end.After(to) {
				end = to
			}
			f, t := start.Format(types.DateLayout), end.Format(types.DateLayout)
			if s.store.Has(ctx, types.CollectionFixtures, cache.FixtureListParams(l.ID, f, t)) {
				continue
			}
			job := types.NewFixturesJob(l.ID, s.seasons.For(l.ID, f, s.clock.Now()), f, t)
			s.Enqueue(job)
			ids = append(ids, job.ID)
		}
	}
	return ids
}
