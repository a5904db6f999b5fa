package scheduler

import (
	"context"
	"errors"
	"kickoff/internal/backends/memory"
	"kickoff/internal/cache"
	"kickoff/internal/clock"
	"kickoff/internal/provider"
	"kickoff/internal/provider/providertest"
	"kickoff/internal/syncer"
	"kickoff/internal/types"
	"kickoff/internal/usage"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type SchedulerTestSuite struct {
	suite.Suite
	clock     *clock.Fake
	provider  *providertest.Fake
	usage     *usage.Tracker
	syncer    *syncer.Syncer
	populator *syncer.Populator
	cfg       types.SchedulerConfig
	sched     *AutoScheduler
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerTestSuite))
}

func (s *SchedulerTestSuite) SetupTest() {
	s.clock = clock.NewFake(time.Date(2025, 9, 27, 13, 0, 0, 0, time.UTC))
	store := cache.NewStore(memory.NewCacheStore(), s.clock)
	counters := memory.NewCounterStore()
	counters.SetTimeNowFn(s.clock.Now)
	s.usage = usage.New(counters, s.clock, time.UTC, 7500)
	s.provider = &providertest.Fake{Clock: s.clock}
	s.syncer = syncer.New(types.DefaultSyncConfig(), syncer.Deps{
		Store:     store,
		Provider:  provider.NewCounting(s.provider, s.usage),
		Usage:     s.usage,
		Clock:     s.clock,
		Leagues:   []types.League{{ID: 128}, {ID: 39}},
		HasAPIKey: true,
	})
	s.populator = syncer.NewPopulator(s.syncer)
	s.cfg = types.DefaultSchedulerConfig()
	s.sched = s.newScheduler()
}

func (s *SchedulerTestSuite) newScheduler() *AutoScheduler {
	return New(s.cfg, Deps{
		Syncer:    s.syncer,
		Populator: s.populator,
		Usage:     s.usage,
		Clock:     s.clock,
	})
}

func (s *SchedulerTestSuite) TearDownTest() {
	s.sched.Stop()
}

func (s *SchedulerTestSuite) TestIsOperationAllowed() {
	ctx := context.Background()
	ok, reason := s.sched.IsOperationAllowed(ctx, OpQuick)
	s.False(ok)
	s.Equal("scheduler stopped", reason)

	s.sched.Start(ctx)
	ok, _ = s.sched.IsOperationAllowed(ctx, OpQuick)
	s.True(ok)

	s.cfg.DailyCallCeiling = 2
	s.Require().NoError(s.sched.UpdateConfig(ctx, s.cfg))
	for range 3 {
		s.usage.Record(ctx)
	}
	ok, reason = s.sched.IsOperationAllowed(ctx, OpQuick)
	s.False(ok)
	s.Equal("daily call ceiling reached", reason)

	s.sched.Stop()
	s.cfg.Enabled = false
	s.sched = s.newScheduler()
	s.sched.Start(ctx)
	ok, reason = s.sched.IsOperationAllowed(ctx, OpQuick)
	s.False(ok)
	s.Equal("scheduler disabled", reason)
}

func (s *SchedulerTestSuite) TestQuickRunsSmartSyncAndDrains() {
	ctx := context.Background()
	s.sched.Start(ctx)
	s.NoError(s.sched.Trigger(ctx, OpQuick))
	s.Equal(2, s.provider.CountOf("fixtures"))
	s.Empty(s.syncer.Pending())

	st := s.sched.GetStatus(ctx)
	s.Equal(1, st.Runs[OpQuick])
	s.EqualValues(2, st.UsageToday)
	s.Zero(st.Active)
}

func (s *SchedulerTestSuite) TestConcurrencyCap() {
	ctx := context.Background()
	s.sched.Start(ctx)
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	s.provider.FixturesFn = func(types.FixtureQuery) ([]types.Fixture, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return nil, nil
	}

	done := make(chan error)
	go func() { done <- s.sched.Trigger(ctx, OpSmart) }()
	<-entered

	ok, reason := s.sched.IsOperationAllowed(ctx, OpQuick)
	s.False(ok)
	s.Equal("too many operations running", reason)
	s.ErrorIs(s.sched.Trigger(ctx, OpQuick), errDenied)
	s.Equal(1, s.sched.GetStatus(ctx).Denied[OpQuick])

	close(release)
	s.NoError(<-done)
	ok, _ = s.sched.IsOperationAllowed(ctx, OpQuick)
	s.True(ok)
}

func (s *SchedulerTestSuite) TestTimersRunIndependently() {
	s.cfg.QuickInterval = 20 * time.Millisecond
	s.cfg.SmartInterval = 10 * time.Millisecond
	s.cfg.HealthInterval = 20 * time.Millisecond
	s.sched = s.newScheduler()

	entered := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	var calls atomic.Int32
	s.provider.FixturesFn = func(types.FixtureQuery) ([]types.Fixture, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return nil, nil
	}

	ctx := context.Background()
	s.sched.Start(ctx)
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		s.FailNow("smart population never reached the provider")
	}

	// smart holds the only slot, quick is turned away and health keeps ticking
	s.Eventually(func() bool {
		return s.sched.GetStatus(ctx).Denied[OpQuick] >= 1
	}, 2*time.Second, 5*time.Millisecond)
	health := s.sched.GetStatus(ctx).Runs[OpHealth]
	s.Eventually(func() bool {
		return s.sched.GetStatus(ctx).Runs[OpHealth] >= health+2
	}, 2*time.Second, 5*time.Millisecond)

	st := s.sched.GetStatus(ctx)
	s.Equal(1, st.Active)
	s.Zero(st.Runs[OpQuick])
	s.Zero(st.Runs[OpSmart])
}

func (s *SchedulerTestSuite) TestStopWaitsForRunningOperations() {
	s.cfg.SmartInterval = 10 * time.Millisecond
	s.sched = s.newScheduler()

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	s.provider.FixturesFn = func(types.FixtureQuery) ([]types.Fixture, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return nil, nil
	}

	ctx := context.Background()
	s.sched.Start(ctx)
	<-entered

	stopped := make(chan struct{})
	go func() {
		s.sched.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		s.Fail("stop returned while a population pass was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-stopped
	st := s.sched.GetStatus(ctx)
	s.Zero(st.Active)
	s.Equal(1, st.Runs[OpSmart])
}

func (s *SchedulerTestSuite) TestForceSyncAfterStop() {
	ctx := context.Background()
	s.sched.Start(ctx)
	s.sched.Stop()
	s.True(s.syncer.Halted())

	res, err := s.syncer.ForceSync(ctx, syncer.KindToday)
	s.Require().NoError(err)
	s.Equal(2, res.Processed)
	s.Zero(res.Remaining)
	s.False(res.Halted)
	s.Equal(2, s.provider.CountOf("fixtures"))
}

func (s *SchedulerTestSuite) TestFullPopulatesInLowActivityWindow() {
	ctx := context.Background()
	s.sched.Start(ctx)

	s.clock.Set(time.Date(2025, 9, 27, 3, 0, 0, 0, time.UTC))
	s.NoError(s.sched.Trigger(ctx, OpFull))
	st := s.sched.GetStatus(ctx)
	s.Require().NotNil(st.LastPopulate)
	s.Equal(syncer.PopulateFull, st.LastPopulate.Mode)

	s.clock.Set(time.Date(2025, 9, 28, 13, 0, 0, 0, time.UTC))
	s.NoError(s.sched.Trigger(ctx, OpFull))
	st = s.sched.GetStatus(ctx)
	s.Equal(syncer.PopulateQuick, st.LastPopulate.Mode)
}

func (s *SchedulerTestSuite) TestLowActivityWindowWraps() {
	s.cfg.LowActivityStartHour, s.cfg.LowActivityEndHour = 23, 4
	s.sched = s.newScheduler()
	for hour, want := range map[int]bool{23: true, 0: true, 3: true, 4: false, 12: false} {
		s.clock.Set(time.Date(2025, 9, 27, hour, 0, 0, 0, time.UTC))
		s.Equal(want, s.sched.lowActivity(), "hour %d", hour)
	}
}

func (s *SchedulerTestSuite) TestHealthCheckRetriesFailedPopulation() {
	ctx := context.Background()
	s.sched.Start(ctx)
	s.provider.FixturesFn = func(q types.FixtureQuery) ([]types.Fixture, error) {
		if q.LeagueID == 39 {
			return nil, errors.New("upstream 502")
		}
		return nil, nil
	}
	s.NoError(s.sched.Trigger(ctx, OpSmart))
	last, ok := s.populator.LastResult()
	s.True(ok)
	s.Equal(1, last.FailedBatches)

	s.provider.FixturesFn = nil
	s.provider.Reset()
	s.NoError(s.sched.Trigger(ctx, OpHealth))
	// only the failed league is fetched again
	s.Equal(1, s.provider.CountOf("fixtures"))
	last, _ = s.populator.LastResult()
	s.Zero(last.FailedBatches)
	s.Equal(2, s.sched.GetStatus(ctx).Runs[OpSmart])
}

func (s *SchedulerTestSuite) TestStopHaltsSyncer() {
	ctx := context.Background()
	s.sched.Start(ctx)
	s.False(s.syncer.Halted())

	s.sched.Stop()
	s.True(s.syncer.Halted())
	s.False(s.sched.GetStatus(ctx).Running)

	s.sched.Start(ctx)
	s.False(s.syncer.Halted())
	s.True(s.sched.GetStatus(ctx).Running)
}

func (s *SchedulerTestSuite) TestUpdateConfig() {
	ctx := context.Background()
	s.sched.Start(ctx)

	bad := s.cfg
	bad.MaxConcurrent = 0
	s.ErrorIs(s.sched.UpdateConfig(ctx, bad), types.ErrInvalidConfig)

	s.cfg.MaxConcurrent = 2
	s.NoError(s.sched.UpdateConfig(ctx, s.cfg))
	st := s.sched.GetStatus(ctx)
	s.True(st.Running)
	s.Equal(2, st.Config.MaxConcurrent)

	s.cfg.Enabled = false
	s.NoError(s.sched.UpdateConfig(ctx, s.cfg))
	s.False(s.sched.GetStatus(ctx).Running)
}

func (s *SchedulerTestSuite) TestTimersFire() {
	s.cfg.QuickInterval = 20 * time.Millisecond
	s.sched = s.newScheduler()
	s.sched.Start(context.Background())
	s.Eventually(func() bool {
		return s.sched.GetStatus(context.Background()).Runs[OpQuick] >= 1
	}, 2*time.Second, 10*time.Millisecond)
}
