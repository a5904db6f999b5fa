// Package syncer keeps the cache warm ahead of reads. Jobs are queued by the
// time-of-day dispatcher, the live detector, forced syncs and population
// passes, and drained one at a time within the provider budget.
package syncer

import (
	"context"
	"kickoff/internal/cache"
	"kickoff/internal/clock"
	"kickoff/internal/metrics"
	"kickoff/internal/ports"
	"kickoff/internal/provider"
	"kickoff/internal/types"
	"kickoff/internal/usage"
	"slices"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Deps are the collaborators a Syncer is built from.
type Deps struct {
	Store    *cache.Store
	Provider ports.Provider
	Usage    *usage.Tracker
	Clock    clock.Clock
	Location *time.Location
	Leagues  []types.League
	// HasAPIKey is false when no provider key is configured. Forced syncs
	// then fail fast instead of queueing jobs bound to fail.
	HasAPIKey bool
}

type Syncer struct {
	cfg      types.SyncConfig
	store    *cache.Store
	provider ports.Provider
	usage    *usage.Tracker
	clock    clock.Clock
	loc      *time.Location
	leagues  []types.League
	seasons  provider.Seasons
	hasKey   bool
	limiter  *rate.Limiter

	mu        sync.Mutex
	queue     []*types.SyncJob
	index     map[string]*types.SyncJob // pending and running jobs by id
	running   *types.SyncJob
	draining  bool
	idle      chan struct{}
	halted    bool
	haltCtx   context.Context
	halt      context.CancelFunc
	lastDrain *DrainResult

	history *ttlMap[string, types.SyncJob]
}

func New(cfg types.SyncConfig, d Deps) *Syncer {
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if cfg.HistoryRetention <= 0 {
		cfg.HistoryRetention = time.Hour
	}
	rpm := max(cfg.MaxRequestsPerMinute, 1)
	haltCtx, halt := context.WithCancel(context.Background())
	return &Syncer{
		cfg:      cfg,
		store:    d.Store,
		provider: d.Provider,
		usage:    d.Usage,
		clock:    d.Clock,
		loc:      d.Location,
		leagues:  d.Leagues,
		seasons:  provider.NewSeasons(d.Leagues),
		hasKey:   d.HasAPIKey,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
		index:    make(map[string]*types.SyncJob),
		haltCtx:  haltCtx,
		halt:     halt,
		history:  newTTLMap[string, types.SyncJob](d.Clock),
	}
}

// Spacing is the minimum gap between two job dequeues.
func (s *Syncer) Spacing() time.Duration {
	return time.Minute / time.Duration(max(s.cfg.MaxRequestsPerMinute, 1))
}

// Enqueue appends job unless a job with the same id is pending or running.
// It reports whether the job was added.
func (s *Syncer) Enqueue(job types.SyncJob) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[job.ID]; ok {
		return false
	}
	j := s.prepare(job, types.PriorityNormal)
	s.queue = append(s.queue, j)
	s.index[j.ID] = j
	metrics.SyncQueueDepth.Set(float64(len(s.queue)))
	return true
}

// EnqueuePriority puts job ahead of every normal job, behind priority jobs
// queued earlier. A pending normal job with the same id is replaced; a
// pending priority or running job with the same id makes this a no-op.
func (s *Syncer) EnqueuePriority(job types.SyncJob) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.index[job.ID]; ok {
		if existing.Status == types.JobRunning || existing.Priority == types.PriorityHigh {
			return false
		}
		s.queue = slices.DeleteFunc(s.queue, func(j *types.SyncJob) bool { return j.ID == job.ID })
		delete(s.index, job.ID)
	}
	j := s.prepare(job, types.PriorityHigh)
	at := 0
	for at < len(s.queue) && s.queue[at].Priority == types.PriorityHigh {
		at++
	}
	s.queue = slices.Insert(s.queue, at, j)
	s.index[j.ID] = j
	metrics.SyncQueueDepth.Set(float64(len(s.queue)))
	return true
}

func (s *Syncer) prepare(job types.SyncJob, p types.JobPriority) *types.SyncJob {
	job.Status = types.JobPending
	job.Priority = p
	job.Error = ""
	job.CreatedAt = s.clock.Now()
	job.StartedAt, job.FinishedAt = time.Time{}, time.Time{}
	return &job
}

// Pending returns a snapshot of the queue in dequeue order.
func (s *Syncer) Pending() []types.SyncJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.SyncJob, len(s.queue))
	for i, j := range s.queue {
		out[i] = *j
	}
	return out
}

// Job returns the current state of a job: queued, running or recently finished.
func (s *Syncer) Job(id string) (types.SyncJob, bool) {
	s.mu.Lock()
	j, ok := s.index[id]
	var cp types.SyncJob
	if ok {
		cp = *j
	}
	s.mu.Unlock()
	if ok {
		return cp, true
	}
	return s.history.Get(id)
}

// Stop halts draining. Waits between jobs are cut short; an in-flight
// provider call finishes and its job completes normally.
func (s *Syncer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halted {
		return
	}
	s.halted = true
	s.halt()
	log.Info("syncer halted")
}

// Resume re-enables draining after Stop. Queued jobs are kept.
func (s *Syncer) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.halted {
		return
	}
	s.halted = false
	s.haltCtx, s.halt = context.WithCancel(context.Background())
	log.Info("syncer resumed")
}

func (s *Syncer) Halted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halted
}

// ClearQueue drops every pending job and returns how many were dropped. A
// running job is left alone.
func (s *Syncer) ClearQueue() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queue)
	for _, j := range s.queue {
		delete(s.index, j.ID)
	}
	s.queue = nil
	metrics.SyncQueueDepth.Set(0)
	log.WithField("dropped", n).Info("sync queue cleared")
	return n
}

// PurgeHistory forgets every finished job.
func (s *Syncer) PurgeHistory() int {
	return s.history.Clear()
}

// TrimHistory forgets finished jobs older than the retention period.
func (s *Syncer) TrimHistory() int {
	return s.history.Purge()
}

type Stats struct {
	Pending    int             `json:"pending"`
	Priority   int             `json:"priority"`
	Running    *types.SyncJob  `json:"running,omitempty"`
	Completed  int             `json:"completed"`
	Failed     int             `json:"failed"`
	Draining   bool            `json:"draining"`
	Halted     bool            `json:"halted"`
	UsageToday int64           `json:"usage_today"`
	DailyQuota int             `json:"daily_quota"`
	LastDrain  *DrainResult    `json:"last_drain,omitempty"`
	Recent     []types.SyncJob `json:"recent"`
}

const recentJobs = 20

func (s *Syncer) GetStats(ctx context.Context) Stats {
	s.mu.Lock()
	st := Stats{
		Pending:    len(s.queue),
		Draining:   s.draining,
		Halted:     s.halted,
		DailyQuota: s.cfg.DailyQuota,
	}
	for _, j := range s.queue {
		if j.Priority == types.PriorityHigh {
			st.Priority++
		}
	}
	if s.running != nil {
		cp := *s.running
		st.Running = &cp
	}
	if s.lastDrain != nil {
		cp := *s.lastDrain
		st.LastDrain = &cp
	}
	s.mu.Unlock()

	done := s.history.Values()
	for _, j := range done {
		if j.Status == types.JobFailed {
			st.Failed++
		} else {
			st.Completed++
		}
	}
	slices.SortFunc(done, func(a, b types.SyncJob) int { return b.FinishedAt.Compare(a.FinishedAt) })
	st.Recent = done[:min(len(done), recentJobs)]
	if s.usage != nil {
		st.UsageToday = s.usage.Today(ctx)
	}
	return st
}
