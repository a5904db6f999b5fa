// Package live watches in-play matches and reacts to every change with
// priority detail refreshes and pushed updates.
package live

import (
	"context"
	"kickoff/internal/cache"
	"kickoff/internal/clock"
	"kickoff/internal/metrics"
	"kickoff/internal/policy"
	"kickoff/internal/ports"
	"kickoff/internal/pub"
	"kickoff/internal/syncer"
	"kickoff/internal/types"
	"slices"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type Deps struct {
	Store       *cache.Store
	Provider    ports.Provider
	Syncer      *syncer.Syncer
	Clock       clock.Clock
	Location    *time.Location
	Publisher   ports.Publisher   // optional
	Broadcaster ports.Broadcaster // optional
	// Allow gates scheduled scans, typically on the daily provider budget.
	// Nil allows every scan.
	Allow func(ctx context.Context) bool
}

// Detector polls the provider's live feed, diffs it against the previous
// scan and fans out what moved.
type Detector struct {
	cfg   types.LiveConfig
	store *cache.Store
	prov  ports.Provider
	sync  *syncer.Syncer
	clock clock.Clock
	loc   *time.Location
	pub   ports.Publisher
	bc    ports.Broadcaster
	allow func(ctx context.Context) bool

	mu        sync.Mutex
	states    map[int]*types.LiveMatchState
	fixtures  map[int]types.Fixture
	scans     int
	skipped   int
	published int
	lastScan  time.Time
	lastErr   string

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	drains sync.WaitGroup
}

func New(cfg types.LiveConfig, d Deps) *Detector {
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	return &Detector{
		cfg:      cfg,
		store:    d.Store,
		prov:     d.Provider,
		sync:     d.Syncer,
		clock:    d.Clock,
		loc:      d.Location,
		pub:      d.Publisher,
		bc:       d.Broadcaster,
		allow:    d.Allow,
		states:   make(map[int]*types.LiveMatchState),
		fixtures: make(map[int]types.Fixture),
	}
}

// ScanResult is what one scan saw and did.
type ScanResult struct {
	Live    int `json:"live"`
	Changed int `json:"changed"`
	Ended   int `json:"ended"`
	Queued  int `json:"queued"`
}

// Start scans immediately and then every ScanInterval until Stop or ctx ends.
// It is a no-op when disabled or already running.
func (d *Detector) Start(ctx context.Context) {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if !d.cfg.Enabled || d.cancel != nil {
		return
	}
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	go d.loop(ctx, d.done)
	log.WithField("interval", d.cfg.ScanInterval).Info("live detector started")
}

func (d *Detector) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(d.cfg.ScanInterval)
	defer t.Stop()
	for {
		d.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (d *Detector) tick(ctx context.Context) {
	if d.allow != nil && !d.allow(ctx) {
		d.mu.Lock()
		d.skipped++
		d.mu.Unlock()
		log.Debug("live scan skipped by budget gate")
		return
	}
	if _, err := d.scan(ctx); err != nil {
		log.WithError(err).Warn("live scan failed")
	}
}

// Stop ends the scan loop and waits for it. Background drains already started
// run to completion.
func (d *Detector) Stop() {
	d.runMu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Info("live detector stopped")
}

func (d *Detector) Running() bool {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	return d.cancel != nil
}

// ForceScan runs one scan now, bypassing the budget gate.
func (d *Detector) ForceScan(ctx context.Context) (ScanResult, error) {
	return d.scan(ctx)
}

// Wait blocks until background drains started by scans have finished.
func (d *Detector) Wait() {
	d.drains.Wait()
}

func (d *Detector) scan(ctx context.Context) (ScanResult, error) {
	fixtures, err := d.prov.Fixtures(ctx, types.FixtureQuery{Live: true})
	now := d.clock.Now()

	d.mu.Lock()
	d.scans++
	d.lastScan = now
	if err != nil {
		d.lastErr = err.Error()
		d.mu.Unlock()
		return ScanResult{}, types.Unavailable(err)
	}
	d.lastErr = ""
	d.mu.Unlock()

	var stored any = fixtures
	if len(fixtures) == 0 {
		stored = nil
	}
	d.store.Set(ctx, types.CollectionFixtures, cache.LiveParams(), stored, policy.LiveTTL)

	changed, ended := d.diff(fixtures, now)
	res := ScanResult{Live: len(fixtures), Changed: len(changed), Ended: len(ended)}
	metrics.LiveMatches.Set(float64(len(fixtures)))

	if d.sync != nil {
		res.Queued += d.sync.QueueLive(changed)
		for _, f := range ended {
			date := f.Kickoff.In(d.loc).Format(types.DateLayout)
			job := types.NewFixturesJob(f.LeagueID, f.Season, date, date)
			job.Metadata.Details = true
			if d.sync.Enqueue(job) {
				res.Queued++
			}
		}
	}

	for _, f := range changed {
		d.publish(ctx, update(types.LiveUpdateKindUpdate, f, now))
	}
	for _, f := range ended {
		d.publish(ctx, update(types.LiveUpdateKindEnded, f, now))
	}

	if res.Queued > 0 && d.sync != nil {
		d.drains.Add(1)
		go func() {
			defer d.drains.Done()
			d.sync.ForceDrain(context.Background())
		}()
	}

	log.WithFields(log.Fields{
		"live":    res.Live,
		"changed": res.Changed,
		"ended":   res.Ended,
		"queued":  res.Queued,
	}).Debug("live scan done")
	return res, nil
}

// diff records the scan and returns the matches that moved since the last
// one and the matches that are no longer live.
func (d *Detector) diff(fixtures []types.Fixture, now time.Time) (changed, ended []types.Fixture) {
	d.mu.Lock()
	defer d.mu.Unlock()
	seen := make(map[int]bool, len(fixtures))
	for _, f := range fixtures {
		seen[f.ID] = true
		st, ok := d.states[f.ID]
		if ok && !st.Changed(f) {
			st.NeedsUpdate = false
			d.fixtures[f.ID] = f
			continue
		}
		d.states[f.ID] = &types.LiveMatchState{
			MatchID:     f.ID,
			Status:      f.Status,
			Minute:      f.Elapsed,
			HomeScore:   f.Goals.Home,
			AwayScore:   f.Goals.Away,
			LastUpdate:  now,
			NeedsUpdate: true,
		}
		d.fixtures[f.ID] = f
		changed = append(changed, f)
	}
	for id := range d.states {
		if seen[id] {
			continue
		}
		ended = append(ended, d.fixtures[id])
		delete(d.states, id)
		delete(d.fixtures, id)
	}
	slices.SortFunc(ended, func(a, b types.Fixture) int { return a.ID - b.ID })
	return changed, ended
}

func update(kind string, f types.Fixture, now time.Time) types.LiveUpdate {
	return types.LiveUpdate{
		Kind:      kind,
		MatchID:   f.ID,
		LeagueID:  f.LeagueID,
		Status:    f.Status,
		Minute:    f.Elapsed,
		HomeTeam:  f.Home.Name,
		AwayTeam:  f.Away.Name,
		HomeScore: f.Goals.Home,
		AwayScore: f.Goals.Away,
		At:        now.UnixMilli(),
	}
}

func (d *Detector) publish(ctx context.Context, u types.LiveUpdate) {
	d.mu.Lock()
	d.published++
	d.mu.Unlock()
	if d.bc != nil {
		d.bc.Broadcast(u)
	}
	if d.pub == nil || d.cfg.SNSArn == "" {
		return
	}
	if err := pub.Update(ctx, d.pub, d.cfg.SNSArn, u); err != nil {
		log.WithError(err).WithField("match", u.MatchID).Warn("live update publish failed")
	}
}

type Stats struct {
	Enabled   bool                   `json:"enabled"`
	Running   bool                   `json:"running"`
	Interval  time.Duration          `json:"interval"`
	Scans     int                    `json:"scans"`
	Skipped   int                    `json:"skipped"`
	Published int                    `json:"published"`
	LastScan  time.Time              `json:"last_scan,omitempty"`
	LastError string                 `json:"last_error,omitempty"`
	Matches   []types.LiveMatchState `json:"matches"`
}

func (d *Detector) GetStats() Stats {
	running := d.Running()
	d.mu.Lock()
	defer d.mu.Unlock()
	st := Stats{
		Enabled:   d.cfg.Enabled,
		Running:   running,
		Interval:  d.cfg.ScanInterval,
		Scans:     d.scans,
		Skipped:   d.skipped,
		Published: d.published,
		LastScan:  d.lastScan,
		LastError: d.lastErr,
		Matches:   make([]types.LiveMatchState, 0, len(d.states)),
	}
	for _, s := range d.states {
		st.Matches = append(st.Matches, *s)
	}
	slices.SortFunc(st.Matches, func(a, b types.LiveMatchState) int { return a.MatchID - b.MatchID })
	return st
}
