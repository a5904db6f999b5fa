// Package scheduler runs the background sync cadences under a concurrency
// cap and the daily call ceiling.
package scheduler

import (
	"context"
	"errors"
	"kickoff/internal/clock"
	"kickoff/internal/syncer"
	"kickoff/internal/types"
	"kickoff/internal/usage"
	"maps"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Operation kinds.
const (
	OpQuick  = "quick"
	OpSmart  = "smart"
	OpFull   = "full"
	OpHealth = "health"
)

type Deps struct {
	Syncer    *syncer.Syncer
	Populator *syncer.Populator
	Usage     *usage.Tracker
	Clock     clock.Clock
	Location  *time.Location
}

type AutoScheduler struct {
	syncer    *syncer.Syncer
	populator *syncer.Populator
	usage     *usage.Tracker
	clock     clock.Clock
	loc       *time.Location

	mu      sync.Mutex
	cfg     types.SchedulerConfig
	running bool
	opCtx   context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	active  int
	runs    map[string]int
	denied  map[string]int
	lastRun map[string]time.Time
	lastErr map[string]string

	ops sync.WaitGroup
}

func New(cfg types.SchedulerConfig, d Deps) *AutoScheduler {
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	return &AutoScheduler{
		syncer:    d.Syncer,
		populator: d.Populator,
		usage:     d.Usage,
		clock:     d.Clock,
		loc:       d.Location,
		cfg:       cfg,
		runs:      make(map[string]int),
		denied:    make(map[string]int),
		lastRun:   make(map[string]time.Time),
		lastErr:   make(map[string]string),
	}
}

// Start arms the timers. It is a no-op when disabled or already running.
func (a *AutoScheduler) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.cfg.Enabled || a.running {
		return
	}
	a.syncer.Resume()
	a.running = true
	a.opCtx = ctx
	a.startLocked()
	log.WithFields(log.Fields{
		"quick": a.cfg.QuickInterval,
		"smart": a.cfg.SmartInterval,
		"full":  a.cfg.FullInterval,
	}).Info("scheduler started")
}

// startLocked arms the timers. Operations run under the Start context, so
// re-arming the timers does not cancel them.
func (a *AutoScheduler) startLocked() {
	var ctx context.Context
	ctx, a.cancel = context.WithCancel(a.opCtx)
	a.done = make(chan struct{})
	go a.loop(ctx, a.opCtx, a.cfg, a.done)
}

// stopTimersLocked cancels the timer loop and returns its done channel. The
// caller waits on it without holding the lock.
func (a *AutoScheduler) stopTimersLocked() chan struct{} {
	if a.cancel == nil {
		return nil
	}
	a.cancel()
	done := a.done
	a.cancel, a.done = nil, nil
	return done
}

// Stop clears the timers, halts the syncer and any population pass, and
// waits for operations still running. Provider calls already in flight finish.
func (a *AutoScheduler) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	done := a.stopTimersLocked()
	a.mu.Unlock()

	a.populator.Stop()
	a.syncer.Stop()
	if done != nil {
		<-done
	}
	a.ops.Wait()
	log.Info("scheduler stopped")
}

// loop starts each due operation on its own goroutine so a long population
// pass does not hold back the other timers.
func (a *AutoScheduler) loop(ctx, opCtx context.Context, cfg types.SchedulerConfig, done chan struct{}) {
	defer close(done)
	fire := func(kind string) {
		a.ops.Add(1)
		go func() {
			defer a.ops.Done()
			_ = a.Trigger(opCtx, kind)
		}()
	}
	quick := time.NewTicker(cfg.QuickInterval)
	smart := time.NewTicker(cfg.SmartInterval)
	full := time.NewTicker(cfg.FullInterval)
	health := time.NewTicker(cfg.HealthInterval)
	defer quick.Stop()
	defer smart.Stop()
	defer full.Stop()
	defer health.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-quick.C:
			fire(OpQuick)
		case <-smart.C:
			fire(OpSmart)
		case <-full.C:
			fire(OpFull)
		case <-health.C:
			fire(OpHealth)
		}
	}
}

// IsOperationAllowed reports whether a new sync operation may start now,
// with the reason when it may not.
func (a *AutoScheduler) IsOperationAllowed(ctx context.Context, kind string) (bool, string) {
	today := a.usageToday(ctx)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allowedLocked(today)
}

// tryAcquire checks the gate and takes an operation slot in one step.
func (a *AutoScheduler) tryAcquire(ctx context.Context) (bool, string) {
	today := a.usageToday(ctx)
	a.mu.Lock()
	defer a.mu.Unlock()
	ok, reason := a.allowedLocked(today)
	if ok {
		a.active++
	}
	return ok, reason
}

func (a *AutoScheduler) allowedLocked(usageToday int64) (bool, string) {
	switch {
	case !a.cfg.Enabled:
		return false, "scheduler disabled"
	case !a.running:
		return false, "scheduler stopped"
	case a.active >= a.cfg.MaxConcurrent:
		return false, "too many operations running"
	case usageToday > int64(a.cfg.DailyCallCeiling):
		return false, "daily call ceiling reached"
	}
	return true, ""
}

func (a *AutoScheduler) usageToday(ctx context.Context) int64 {
	if a.usage == nil {
		return 0
	}
	return a.usage.Today(ctx)
}

var errDenied = errors.New("operation not allowed")

// Trigger runs one operation now if allowed. Health checks are always allowed.
func (a *AutoScheduler) Trigger(ctx context.Context, kind string) error {
	if kind == OpHealth {
		a.mu.Lock()
		a.runs[OpHealth]++
		a.lastRun[OpHealth] = a.clock.Now()
		a.mu.Unlock()
		a.healthCheck(ctx)
		return nil
	}
	var op func(ctx context.Context) error
	switch kind {
	case OpQuick:
		op = a.quick
	case OpSmart:
		op = a.smart
	case OpFull:
		op = a.full
	default:
		return types.Err(types.ErrInvalidInput, errors.New("unknown operation"), "kind %q", kind)
	}
	return a.run(ctx, kind, op)
}

func (a *AutoScheduler) run(ctx context.Context, kind string, op func(ctx context.Context) error) error {
	lg := log.WithField("op", kind)
	if ok, reason := a.tryAcquire(ctx); !ok {
		a.mu.Lock()
		a.denied[kind]++
		a.mu.Unlock()
		lg.WithField("reason", reason).Debug("scheduled operation skipped")
		return types.Err(errDenied, errors.New(reason), "")
	}

	err := op(ctx)

	a.mu.Lock()
	a.active--
	a.runs[kind]++
	a.lastRun[kind] = a.clock.Now()
	if err != nil {
		a.lastErr[kind] = err.Error()
	} else {
		delete(a.lastErr, kind)
	}
	a.mu.Unlock()
	if err != nil {
		lg.WithError(err).Warn("scheduled operation failed")
	}
	return err
}

func (a *AutoScheduler) quick(ctx context.Context) error {
	if _, err := a.syncer.SmartSync(ctx); err != nil {
		return err
	}
	a.syncer.Drain(ctx)
	return nil
}

func (a *AutoScheduler) smart(ctx context.Context) error {
	_, _, err := a.populator.Run(ctx, syncer.PopulateQuick)
	return err
}

// full runs the wide population pass inside the low-activity window and a
// quick one otherwise.
func (a *AutoScheduler) full(ctx context.Context) error {
	mode := syncer.PopulateQuick
	if a.lowActivity() {
		mode = syncer.PopulateFull
	}
	_, _, err := a.populator.Run(ctx, mode)
	return err
}

func (a *AutoScheduler) lowActivity() bool {
	a.mu.Lock()
	start, end := a.cfg.LowActivityStartHour, a.cfg.LowActivityEndHour
	a.mu.Unlock()
	h := a.clock.Now().In(a.loc).Hour()
	if start <= end {
		return h >= start && h < end
	}
	return h >= start || h < end
}

// healthCheck logs the state of the sync pipeline and retries a population
// pass that left failed batches when nothing else is running.
func (a *AutoScheduler) healthCheck(ctx context.Context) {
	st := a.syncer.GetStats(ctx)
	last, ok := a.populator.LastResult()
	a.mu.Lock()
	active := a.active
	a.mu.Unlock()

	lg := log.WithFields(log.Fields{
		"pending":     st.Pending,
		"failed_jobs": st.Failed,
		"usage":       st.UsageToday,
		"active":      active,
	})
	if ok {
		lg = lg.WithFields(log.Fields{"last_populate": last.Mode, "failed_batches": last.FailedBatches})
	}
	lg.Info("scheduler health")

	if ok && last.FailedBatches > 0 && active == 0 && !a.populator.Running() && !st.Draining {
		log.WithField("failed_batches", last.FailedBatches).Info("retrying population after failed batches")
		_ = a.run(ctx, OpSmart, a.smart)
	}
}

// UpdateConfig validates and applies cfg, re-arming the timers if running.
// Disabling a running scheduler stops it.
func (a *AutoScheduler) UpdateConfig(ctx context.Context, cfg types.SchedulerConfig) error {
	if err := cfg.Validate(); err != nil {
		return types.Err(types.ErrInvalidConfig, err, "")
	}
	a.mu.Lock()
	a.cfg = cfg
	running := a.running
	var done chan struct{}
	if running && cfg.Enabled {
		done = a.stopTimersLocked()
	}
	a.mu.Unlock()

	if running && !cfg.Enabled {
		a.Stop()
		return nil
	}
	if done != nil {
		<-done
		a.mu.Lock()
		if a.running && a.cancel == nil {
			a.startLocked()
		}
		a.mu.Unlock()
	}
	log.WithField("config", cfg).Info("scheduler config updated")
	return nil
}

type Status struct {
	Config       types.SchedulerConfig  `json:"config"`
	Running      bool                   `json:"running"`
	Active       int                    `json:"active"`
	Runs         map[string]int         `json:"runs"`
	Denied       map[string]int         `json:"denied"`
	LastRun      map[string]time.Time   `json:"last_run"`
	LastError    map[string]string      `json:"last_error,omitempty"`
	UsageToday   int64                  `json:"usage_today"`
	LastPopulate *syncer.PopulateResult `json:"last_populate,omitempty"`
}

func (a *AutoScheduler) GetStatus(ctx context.Context) Status {
	a.mu.Lock()
	st := Status{
		Config:    a.cfg,
		Running:   a.running,
		Active:    a.active,
		Runs:      maps.Clone(a.runs),
		Denied:    maps.Clone(a.denied),
		LastRun:   maps.Clone(a.lastRun),
		LastError: maps.Clone(a.lastErr),
	}
	a.mu.Unlock()

	if a.usage != nil {
		st.UsageToday = a.usage.Today(ctx)
	}
	if last, ok := a.populator.LastResult(); ok {
		st.LastPopulate = &last
	}
	return st
}
