package syncer

import (
	"context"
	"errors"
	"kickoff/internal/cache"
	"kickoff/internal/metrics"
	"kickoff/internal/policy"
	"kickoff/internal/types"
	"time"

	log "github.com/sirupsen/logrus"
)

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
	// Skipped is set when another drain was already running.
	Skipped bool `json:"skipped,omitempty"`
	// Aborted is set when the daily quota guard stopped the pass.
	Aborted bool `json:"aborted,omitempty"`
	// Halted is set when Stop or ctx ended the pass.
	Halted     bool      `json:"halted,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Drain runs queued jobs one at a time until the queue is empty, the quota
// guard trips, or the syncer is stopped. Consecutive dequeues are at least
// Spacing apart, across drain passes too. Jobs queued while draining are
// picked up by the same pass.
func (s *Syncer) Drain(ctx context.Context) (res DrainResult) {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return DrainResult{Skipped: true}
	}
	s.draining = true
	s.idle = make(chan struct{})
	haltCtx := s.haltCtx
	halted := s.halted
	s.mu.Unlock()

	res = DrainResult{StartedAt: s.clock.Now()}
	lg := log.WithField("component", "syncer")

	defer func() {
		s.mu.Lock()
		res.Remaining = len(s.queue)
		res.FinishedAt = s.clock.Now()
		s.lastDrain = &res
		s.draining = false
		close(s.idle)
		s.mu.Unlock()
		lg.WithFields(log.Fields{
			"processed": res.Processed,
			"failed":    res.Failed,
			"remaining": res.Remaining,
			"aborted":   res.Aborted,
			"halted":    res.Halted,
		}).Debug("drain finished")
	}()

	if halted {
		res.Halted = true
		return res
	}

	for {
		if s.queueLen() == 0 {
			return res
		}
		if err := s.waitTurn(ctx, haltCtx); err != nil {
			res.Halted = true
			return res
		}
		if s.overQuota(ctx) {
			res.Aborted = true
			metrics.SyncAborts.Inc()
			lg.WithField("usage", s.usage.Today(ctx)).Info("daily quota guard reached, leaving remaining jobs queued")
			return res
		}
		job := s.pop()
		if job == nil {
			return res
		}
		err := s.run(ctx, job)
		s.finish(job, err)
		res.Processed++
		if err != nil {
			res.Failed++
		}
	}
}

// WaitIdle blocks until no drain is running or ctx is done.
func (s *Syncer) WaitIdle(ctx context.Context) error {
	s.mu.Lock()
	if !s.draining {
		s.mu.Unlock()
		return nil
	}
	idle := s.idle
	s.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Syncer) Draining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draining
}

func (s *Syncer) queueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// waitTurn reserves the next slot on the limiter and sleeps until it is due.
// A halt or ctx cancellation ends the wait with an error.
func (s *Syncer) waitTurn(ctx, haltCtx context.Context) error {
	if err := haltCtx.Err(); err != nil {
		return err
	}
	now := s.clock.Now()
	r := s.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(haltCtx, cancel)
	defer stop()

	if err := s.clock.Sleep(wctx, delay); err != nil {
		r.CancelAt(s.clock.Now())
		return err
	}
	if err := haltCtx.Err(); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Syncer) overQuota(ctx context.Context) bool {
	if s.usage == nil {
		return false
	}
	limit := s.cfg.AbortRatio * float64(s.cfg.DailyQuota)
	return float64(s.usage.Today(ctx)) > limit
}

func (s *Syncer) pop() *types.SyncJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	job := s.queue[0]
	s.queue = s.queue[1:]
	job.Status = types.JobRunning
	job.StartedAt = s.clock.Now()
	s.running = job
	metrics.SyncQueueDepth.Set(float64(len(s.queue)))
	return job
}

func (s *Syncer) finish(job *types.SyncJob, err error) {
	s.mu.Lock()
	job.FinishedAt = s.clock.Now()
	if err != nil {
		job.Status = types.JobFailed
		job.Error = err.Error()
	} else {
		job.Status = types.JobCompleted
	}
	delete(s.index, job.ID)
	s.running = nil
	done := *job
	s.mu.Unlock()

	s.history.Set(done.ID, done, s.cfg.HistoryRetention)
	metrics.SyncJobs.WithLabelValues(string(done.Type), string(done.Status)).Inc()

	lg := log.WithFields(log.Fields{"job": done.ID, "took": done.FinishedAt.Sub(done.StartedAt)})
	if err != nil {
		lg.WithError(err).Warn("sync job failed")
		return
	}
	lg.Debug("sync job completed")
}

// run fetches the job's payload and writes it to the cache under the TTL
// the policy assigns to it.
func (s *Syncer) run(ctx context.Context, job *types.SyncJob) error {
	now := s.clock.Now()
	md := job.Metadata
	switch job.Type {
	case types.JobFixtures:
		fixtures, err := s.provider.Fixtures(ctx, types.FixtureQuery{
			LeagueID: md.LeagueID,
			Season:   md.Season,
			From:     md.From,
			To:       md.To,
		})
		if err != nil {
			return err
		}
		put(ctx, s, types.CollectionFixtures, cache.FixtureListParams(md.LeagueID, md.From, md.To),
			fixtures, len(fixtures) == 0, policy.BatchTTL(fixtures, now))
		if md.From != md.To {
			s.splitDays(ctx, md, fixtures, now)
		}
		if md.Details {
			s.queueDetails(ctx, fixtures, job.Priority)
		}
		return nil

	case types.JobStats:
		v, err := s.provider.Statistics(ctx, md.Match)
		if err != nil {
			return err
		}
		put(ctx, s, types.CollectionStatistics, cache.FixtureParams(md.Match.FixtureID),
			v, v.Empty(), policy.MatchTTL(md.Fixture(), now))
		return nil

	case types.JobEvents:
		v, err := s.provider.Events(ctx, md.Match)
		if err != nil {
			return err
		}
		put(ctx, s, types.CollectionEvents, cache.FixtureParams(md.Match.FixtureID),
			v, v.Empty(), policy.MatchTTL(md.Fixture(), now))
		return nil

	case types.JobLineups:
		v, err := s.provider.Lineups(ctx, md.Match)
		if err != nil {
			return err
		}
		ttl, _ := policy.StaticTTLFor(types.CollectionLineups)
		put(ctx, s, types.CollectionLineups, cache.FixtureParams(md.Match.FixtureID),
			v, v.Empty(), ttl)
		return nil
	}
	return types.Err(types.ErrInvalidInput, errors.New("unknown job type"), "job %s has type %q", job.ID, job.Type)
}

// put stores v, or a confirmed-empty marker with a capped TTL when empty.
func put[T any](ctx context.Context, s *Syncer, collection string, params types.Params, v T, empty bool, ttl time.Duration) {
	if empty {
		s.store.Set(ctx, collection, params, nil, min(ttl, policy.EmptyTTL))
		return
	}
	cache.SetJSON(ctx, s.store, collection, params, v, ttl)
}

// splitDays writes a multi-day fixture list back as one entry per day, the
// shape date lookups read.
func (s *Syncer) splitDays(ctx context.Context, md types.JobMetadata, fixtures []types.Fixture, now time.Time) {
	from, err := time.ParseInLocation(types.DateLayout, md.From, s.loc)
	if err != nil {
		return
	}
	to, err := time.ParseInLocation(types.DateLayout, md.To, s.loc)
	if err != nil {
		return
	}
	byDay := make(map[string][]types.Fixture)
	for _, f := range fixtures {
		d := f.Kickoff.In(s.loc).Format(types.DateLayout)
		byDay[d] = append(byDay[d], f)
	}
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		date := d.Format(types.DateLayout)
		day := byDay[date]
		put(ctx, s, types.CollectionFixtures, cache.FixtureListParams(md.LeagueID, date, date),
			day, len(day) == 0, policy.BatchTTL(day, now))
	}
}

// queueDetails queues stats, events and lineups jobs for every fixture that
// has details worth fetching and no live cache entry for them.
func (s *Syncer) queueDetails(ctx context.Context, fixtures []types.Fixture, p types.JobPriority) int {
	n := 0
	for _, f := range fixtures {
		if !f.Status.NeedsDetail() {
			continue
		}
		for _, t := range types.DetailJobTypes {
			if s.store.Has(ctx, collectionOf(t), cache.FixtureParams(f.ID)) {
				continue
			}
			if s.add(types.NewDetailJob(t, f), p) {
				n++
			}
		}
	}
	return n
}

func (s *Syncer) add(job types.SyncJob, p types.JobPriority) bool {
	if p == types.PriorityHigh {
		return s.EnqueuePriority(job)
	}
	return s.Enqueue(job)
}

func collectionOf(t types.JobType) string {
	switch t {
	case types.JobStats:
		return types.CollectionStatistics
	case types.JobEvents:
		return types.CollectionEvents
	case types.JobLineups:
		return types.CollectionLineups
	}
	return types.CollectionFixtures
}
