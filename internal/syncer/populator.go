package syncer

import (
	"context"
	"kickoff/internal/types"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	PopulateQuick = "quick"
	PopulateFull  = "full"
)

// PopulateResult is the outcome of the latest population pass. A batch is one
// league over one date window; batches left queued by a halt or the quota
// guard count as failed.
type PopulateResult struct {
	Mode          string    `json:"mode"`
	Batches       int       `json:"batches"`
	FailedBatches int       `json:"failed_batches"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// Populator fills the cache ahead of reads over a window around today.
type Populator struct {
	syncer *Syncer

	mu      sync.Mutex
	running bool
	last    *PopulateResult
}

func NewPopulator(s *Syncer) *Populator {
	return &Populator{syncer: s}
}

// Run queues the batches of a quick (yesterday..tomorrow) or full
// (configured past and future days) pass and drains them. A pass already in
// progress makes this a no-op returning false.
func (p *Populator) Run(ctx context.Context, mode string) (PopulateResult, bool, error) {
	s := p.syncer
	if !s.hasKey {
		return PopulateResult{}, false, errNoAPIKey
	}
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return PopulateResult{}, false, nil
	}
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	now := s.clock.Now().In(s.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	from, to, batch := today.AddDate(0, 0, -1), today.AddDate(0, 0, 1), 3
	if mode == PopulateFull {
		from = today.AddDate(0, 0, -s.cfg.FullPastDays)
		to = today.AddDate(0, 0, s.cfg.FullFutureDays)
		batch = s.cfg.BatchDays
	} else {
		mode = PopulateQuick
	}

	res := PopulateResult{Mode: mode, StartedAt: s.clock.Now()}
	ids := s.Populate(ctx, from, to, batch)
	res.Batches = len(ids)

	// Another drain may own the queue; wait for it, then drain what is left.
	for attempt := 0; attempt < 2; attempt++ {
		if d := s.Drain(ctx); !d.Skipped {
			break
		}
		if err := s.WaitIdle(ctx); err != nil {
			break
		}
	}

	for _, id := range ids {
		j, ok := s.Job(id)
		if !ok || j.Status != types.JobCompleted {
			res.FailedBatches++
		}
	}
	res.FinishedAt = s.clock.Now()

	p.mu.Lock()
	p.last = &res
	p.mu.Unlock()

	log.WithFields(log.Fields{
		"mode":    res.Mode,
		"batches": res.Batches,
		"failed":  res.FailedBatches,
	}).Info("population pass finished")
	return res, true, nil
}

// LastResult returns the latest finished pass, if any.
func (p *Populator) LastResult() (PopulateResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return PopulateResult{}, false
	}
	return *p.last, true
}

func (p *Populator) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Stop halts the pass between batches. In-flight calls finish.
func (p *Populator) Stop() {
	p.syncer.Stop()
}
