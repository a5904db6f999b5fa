package syncer

import (
	"context"
	"errors"
	"fmt"
	"kickoff/internal/backends/memory"
	"kickoff/internal/cache"
	"kickoff/internal/clock"
	"kickoff/internal/policy"
	"kickoff/internal/provider"
	"kickoff/internal/provider/providertest"
	"kickoff/internal/types"
	"kickoff/internal/usage"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

var saturday = time.Date(2025, 9, 27, 13, 0, 0, 0, time.UTC)

type SyncerTestSuite struct {
	suite.Suite
	clock    *clock.Fake
	backend  *memory.CacheStore
	store    *cache.Store
	provider *providertest.Fake
	counters *memory.CounterStore
	usage    *usage.Tracker
	cfg      types.SyncConfig
	leagues  []types.League
	hasKey   bool
	syncer   *Syncer
}

func TestSyncerSuite(t *testing.T) {
	suite.Run(t, new(SyncerTestSuite))
}

func (s *SyncerTestSuite) SetupTest() {
	s.clock = clock.NewFake(saturday)
	s.backend = memory.NewCacheStore()
	s.store = cache.NewStore(s.backend, s.clock)
	s.provider = &providertest.Fake{Clock: s.clock}
	s.counters = memory.NewCounterStore()
	s.counters.SetTimeNowFn(s.clock.Now)
	s.cfg = types.DefaultSyncConfig()
	s.leagues = []types.League{{ID: 128, Season: 2025}, {ID: 39}}
	s.hasKey = true
	s.syncer = s.newSyncer()
}

func (s *SyncerTestSuite) newSyncer() *Syncer {
	s.usage = usage.New(s.counters, s.clock, time.UTC, s.cfg.DailyQuota)
	return New(s.cfg, Deps{
		Store:     s.store,
		Provider:  provider.NewCounting(s.provider, s.usage),
		Usage:     s.usage,
		Clock:     s.clock,
		Location:  time.UTC,
		Leagues:   s.leagues,
		HasAPIKey: s.hasKey,
	})
}

func fixture(id int, status types.StatusCode, kickoff time.Time) types.Fixture {
	return types.Fixture{
		ID:       id,
		LeagueID: 128,
		Season:   2025,
		Status:   status,
		Kickoff:  kickoff,
		Home:     types.Team{ID: id * 10},
		Away:     types.Team{ID: id*10 + 1},
	}
}

func (s *SyncerTestSuite) entryTTL(collection string, params types.Params) time.Duration {
	e, err := s.backend.Load(context.Background(), cache.Key(collection, params))
	s.Require().NoError(err)
	s.Require().NotNil(e, "no entry for %s", collection)
	return time.Duration(e.TTL) * time.Millisecond
}

func ids(jobs []types.SyncJob) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}

func (s *SyncerTestSuite) TestEnqueueIsIdempotent() {
	job := types.NewFixturesJob(128, 2025, "2025-09-27", "2025-09-27")
	s.True(s.syncer.Enqueue(job))
	s.False(s.syncer.Enqueue(job))
	s.Len(s.syncer.Pending(), 1)

	// still a no-op while the job runs
	s.provider.FixturesFn = func(types.FixtureQuery) ([]types.Fixture, error) {
		s.False(s.syncer.Enqueue(job))
		return nil, nil
	}
	s.syncer.Drain(context.Background())
	s.Empty(s.syncer.Pending())
	s.True(s.syncer.Enqueue(job))
}

func (s *SyncerTestSuite) TestPriorityOrdering() {
	a := types.NewDetailJob(types.JobEvents, fixture(1, types.StatusFullTime, saturday))
	b := types.NewDetailJob(types.JobEvents, fixture(2, types.StatusFullTime, saturday))
	p1 := types.NewDetailJob(types.JobStats, fixture(3, types.StatusFirstHalf, saturday))
	p2 := types.NewDetailJob(types.JobStats, fixture(4, types.StatusFirstHalf, saturday))

	s.True(s.syncer.Enqueue(a))
	s.True(s.syncer.Enqueue(b))
	s.True(s.syncer.EnqueuePriority(p1))
	s.True(s.syncer.EnqueuePriority(p2))
	s.Equal([]string{p1.ID, p2.ID, a.ID, b.ID}, ids(s.syncer.Pending()))

	// a pending normal job is promoted, a pending priority job is left alone
	s.True(s.syncer.EnqueuePriority(b))
	s.False(s.syncer.EnqueuePriority(p1))
	pending := s.syncer.Pending()
	s.Equal([]string{p1.ID, p2.ID, b.ID, a.ID}, ids(pending))
	s.Equal(types.PriorityHigh, pending[2].Priority)
}

func (s *SyncerTestSuite) TestDrainRespectsRateLimit() {
	for i := 1; i <= 25; i++ {
		s.syncer.Enqueue(types.NewDetailJob(types.JobStats, fixture(i, types.StatusFullTime, saturday.Add(-48*time.Hour))))
	}
	res := s.syncer.Drain(context.Background())
	s.Equal(25, res.Processed)
	s.Zero(res.Failed)
	s.Zero(res.Remaining)

	calls := s.provider.Calls()
	s.Require().Len(calls, 25)
	s.GreaterOrEqual(calls[24].At.Sub(calls[0].At), 24*6*time.Second)
	for i := range calls {
		inWindow := 0
		for j := i; j < len(calls) && calls[j].At.Sub(calls[i].At) < time.Minute; j++ {
			inWindow++
		}
		s.LessOrEqual(inWindow, 10, "window starting at call %d", i)
	}
}

func (s *SyncerTestSuite) TestSpacingCarriesAcrossDrains() {
	ctx := context.Background()
	s.syncer.Enqueue(types.NewDetailJob(types.JobStats, fixture(1, types.StatusFullTime, saturday)))
	s.syncer.Drain(ctx)
	s.syncer.Enqueue(types.NewDetailJob(types.JobStats, fixture(2, types.StatusFullTime, saturday)))
	s.syncer.Drain(ctx)

	calls := s.provider.Calls()
	s.Require().Len(calls, 2)
	s.Equal(6*time.Second, calls[1].At.Sub(calls[0].At))
}

func (s *SyncerTestSuite) TestJobTTLs() {
	ctx := context.Background()
	live := fixture(1, types.StatusSecondHalf, saturday.Add(-time.Hour))
	settled := fixture(2, types.StatusFullTime, saturday.Add(-48*time.Hour))
	s.provider.FixturesFn = func(q types.FixtureQuery) ([]types.Fixture, error) {
		if q.LeagueID == 128 {
			return []types.Fixture{live, settled}, nil
		}
		return nil, nil
	}
	s.provider.StatisticsFn = func(types.MatchRef) (types.StatPair, error) {
		return types.StatPair{Home: &types.TeamStatistics{TeamID: 20}}, nil
	}
	s.provider.LineupsFn = func(types.MatchRef) (types.LineupPair, error) {
		return types.LineupPair{Home: &types.Lineup{TeamID: 20}}, nil
	}

	s.syncer.Enqueue(types.NewFixturesJob(128, 2025, "2025-09-27", "2025-09-27"))
	s.syncer.Enqueue(types.NewFixturesJob(39, 2025, "2025-09-27", "2025-09-27"))
	s.syncer.Enqueue(types.NewDetailJob(types.JobStats, settled))
	s.syncer.Enqueue(types.NewDetailJob(types.JobLineups, settled))
	s.syncer.Enqueue(types.NewDetailJob(types.JobEvents, settled))
	res := s.syncer.Drain(ctx)
	s.Equal(5, res.Processed)

	s.Equal(policy.LiveTTL, s.entryTTL(types.CollectionFixtures, cache.FixtureListParams(128, "2025-09-27", "2025-09-27")))
	s.Equal(policy.EmptyTTL, s.entryTTL(types.CollectionFixtures, cache.FixtureListParams(39, "2025-09-27", "2025-09-27")))
	s.Equal(policy.SettledTTL, s.entryTTL(types.CollectionStatistics, cache.FixtureParams(2)))
	lineups, _ := policy.StaticTTLFor(types.CollectionLineups)
	s.Equal(lineups, s.entryTTL(types.CollectionLineups, cache.FixtureParams(2)))
	// empty events are trusted for the capped TTL only
	s.Equal(policy.EmptyTTL, s.entryTTL(types.CollectionEvents, cache.FixtureParams(2)))

	empty, ok := cache.GetJSON[[]types.Fixture](ctx, s.store, types.CollectionFixtures, cache.FixtureListParams(39, "2025-09-27", "2025-09-27"))
	s.True(ok)
	s.Empty(empty)
}

func (s *SyncerTestSuite) TestFailureIsIsolated() {
	s.provider.StatisticsFn = func(ref types.MatchRef) (types.StatPair, error) {
		if ref.FixtureID == 2 {
			return types.StatPair{}, errors.New("connection reset")
		}
		return types.StatPair{Home: &types.TeamStatistics{TeamID: ref.HomeID}}, nil
	}
	for i := 1; i <= 3; i++ {
		s.syncer.Enqueue(types.NewDetailJob(types.JobStats, fixture(i, types.StatusFullTime, saturday)))
	}
	res := s.syncer.Drain(context.Background())
	s.Equal(3, res.Processed)
	s.Equal(1, res.Failed)

	failed, ok := s.syncer.Job(types.DetailJobID(types.JobStats, 2))
	s.True(ok)
	s.Equal(types.JobFailed, failed.Status)
	s.Contains(failed.Error, "connection reset")

	done, ok := s.syncer.Job(types.DetailJobID(types.JobStats, 3))
	s.True(ok)
	s.Equal(types.JobCompleted, done.Status)

	st := s.syncer.GetStats(context.Background())
	s.Equal(2, st.Completed)
	s.Equal(1, st.Failed)
	s.Len(st.Recent, 3)
}

func (s *SyncerTestSuite) TestQuotaGuardAbortsDrain() {
	s.cfg.DailyQuota = 10
	s.cfg.AbortRatio = 0.5
	s.syncer = s.newSyncer()
	for i := 1; i <= 10; i++ {
		s.syncer.Enqueue(types.NewDetailJob(types.JobEvents, fixture(i, types.StatusFullTime, saturday)))
	}
	res := s.syncer.Drain(context.Background())
	s.True(res.Aborted)
	s.Equal(6, res.Processed)
	s.Equal(4, res.Remaining)
	s.Len(s.syncer.Pending(), 4)
	s.EqualValues(6, s.usage.Today(context.Background()))
}

func (s *SyncerTestSuite) TestConcurrentDrainIsSkipped() {
	entered := make(chan struct{})
	release := make(chan struct{})
	s.provider.EventsFn = func(types.MatchRef) (types.EventPair, error) {
		close(entered)
		<-release
		return types.EventPair{}, nil
	}
	s.syncer.Enqueue(types.NewDetailJob(types.JobEvents, fixture(1, types.StatusFullTime, saturday)))

	done := make(chan DrainResult)
	go func() { done <- s.syncer.Drain(context.Background()) }()
	<-entered

	s.True(s.syncer.Draining())
	s.True(s.syncer.Drain(context.Background()).Skipped)
	close(release)

	res := <-done
	s.Equal(1, res.Processed)
	s.NoError(s.syncer.WaitIdle(context.Background()))
	s.False(s.syncer.Draining())
}

func (s *SyncerTestSuite) TestStopHaltsBetweenJobs() {
	ctx := context.Background()
	first := true
	s.provider.EventsFn = func(types.MatchRef) (types.EventPair, error) {
		if first {
			first = false
			s.syncer.Stop()
		}
		return types.EventPair{}, nil
	}
	for i := 1; i <= 3; i++ {
		s.syncer.Enqueue(types.NewDetailJob(types.JobEvents, fixture(i, types.StatusFullTime, saturday)))
	}

	res := s.syncer.Drain(ctx)
	s.True(res.Halted)
	s.Equal(1, res.Processed)
	s.Equal(2, res.Remaining)
	s.True(s.syncer.Drain(ctx).Halted)

	s.syncer.Resume()
	res = s.syncer.Drain(ctx)
	s.False(res.Halted)
	s.Equal(2, res.Processed)
}

func (s *SyncerTestSuite) TestForceDrainLiftsHalt() {
	ctx := context.Background()
	s.syncer.Stop()
	n, err := s.syncer.QueueForced(KindToday)
	s.Require().NoError(err)
	s.Equal(2, n)
	s.True(s.syncer.Drain(ctx).Halted)

	res := s.syncer.ForceDrain(ctx)
	s.False(res.Halted)
	s.Equal(2, res.Processed)
	s.False(s.syncer.Halted())

	s.syncer.Stop()
	res, err = s.syncer.ForceSync(ctx, KindTomorrow)
	s.Require().NoError(err)
	s.False(res.Halted)
	s.Equal(2, res.Processed)
	s.Zero(res.Remaining)
}

func (s *SyncerTestSuite) TestClearQueueAndHistory() {
	ctx := context.Background()
	s.syncer.Enqueue(types.NewDetailJob(types.JobEvents, fixture(1, types.StatusFullTime, saturday)))
	s.syncer.Drain(ctx)
	s.syncer.Enqueue(types.NewDetailJob(types.JobEvents, fixture(2, types.StatusFullTime, saturday)))
	s.syncer.Enqueue(types.NewDetailJob(types.JobEvents, fixture(3, types.StatusFullTime, saturday)))

	s.Equal(2, s.syncer.ClearQueue())
	s.Empty(s.syncer.Pending())
	s.Equal(1, s.syncer.GetStats(ctx).Completed)

	s.clock.Advance(s.cfg.HistoryRetention)
	s.Zero(s.syncer.GetStats(ctx).Completed)
	s.Equal(1, s.syncer.TrimHistory())

	s.syncer.Enqueue(types.NewDetailJob(types.JobEvents, fixture(4, types.StatusFullTime, saturday)))
	s.syncer.Drain(ctx)
	s.Equal(1, s.syncer.PurgeHistory())
	s.Zero(s.syncer.GetStats(ctx).Completed)
}

func (s *SyncerTestSuite) TestSmartSyncWindows() {
	ctx := context.Background()
	at := func(hour int) time.Time { return time.Date(2025, 9, 27, hour, 0, 0, 0, time.UTC) }
	cases := []struct {
		hour    int
		dates   []string
		details []bool
	}{
		{8, []string{"2025-09-26", "2025-09-26", "2025-09-27", "2025-09-27"}, []bool{true, true, false, false}},
		{13, []string{"2025-09-27", "2025-09-27"}, []bool{true, true}},
		{23, []string{"2025-09-28", "2025-09-28"}, []bool{false, false}},
		{3, []string{"2025-09-28", "2025-09-28"}, []bool{false, false}},
	}
	for _, tc := range cases {
		s.syncer.ClearQueue()
		s.clock.Set(at(tc.hour))
		n, err := s.syncer.SmartSync(ctx)
		s.Require().NoError(err)
		s.Equal(len(tc.dates), n, "hour %d", tc.hour)

		pending := s.syncer.Pending()
		s.Require().Len(pending, len(tc.dates))
		for i, j := range pending {
			s.Equal(types.JobFixtures, j.Type)
			s.Equal(tc.dates[i], j.Metadata.From, "hour %d", tc.hour)
			s.Equal(tc.details[i], j.Metadata.Details, "hour %d", tc.hour)
		}
	}
}

func (s *SyncerTestSuite) TestSmartSyncEveningLivePass() {
	ctx := context.Background()
	s.clock.Set(time.Date(2025, 9, 27, 20, 0, 0, 0, time.UTC))
	live := fixture(7, types.StatusSecondHalf, s.clock.Now().Add(-time.Hour))
	s.store.Set(ctx, types.CollectionFixtures, cache.LiveParams(), []types.Fixture{live}, time.Minute)

	n, err := s.syncer.SmartSync(ctx)
	s.NoError(err)
	s.Equal(6, n)

	pending := s.syncer.Pending()
	s.Equal(types.DetailJobID(types.JobEvents, 7), pending[0].ID)
	s.Equal(types.DetailJobID(types.JobStats, 7), pending[1].ID)
	s.Equal(types.PriorityHigh, pending[0].Priority)
	s.Equal("2025-09-27", pending[2].Metadata.From)
	s.Equal("2025-09-28", pending[5].Metadata.From)
}

func (s *SyncerTestSuite) TestSmartSyncSkipsCachedDays() {
	ctx := context.Background()
	finished := fixture(1, types.StatusFullTime, saturday.Add(-3*time.Hour))
	s.store.Set(ctx, types.CollectionFixtures, cache.FixtureListParams(128, "2025-09-27", "2025-09-27"),
		[]types.Fixture{finished}, time.Hour)
	s.store.Set(ctx, types.CollectionLineups, cache.FixtureParams(1), types.LineupPair{}, time.Hour)

	n, err := s.syncer.SmartSync(ctx)
	s.NoError(err)
	// league 128 is cached: only its missing stats and events; league 39 needs its list
	s.Equal(3, n)
	s.ElementsMatch([]string{
		types.DetailJobID(types.JobStats, 1),
		types.DetailJobID(types.JobEvents, 1),
		types.NewFixturesJob(39, 0, "2025-09-27", "2025-09-27").ID,
	}, ids(s.syncer.Pending()))
}

func (s *SyncerTestSuite) TestMorningSkipsDetailsUnderHeavyUsage() {
	ctx := context.Background()
	s.cfg.DailyQuota = 10
	s.syncer = s.newSyncer()
	for range 7 {
		s.usage.Record(ctx)
	}
	s.clock.Set(time.Date(2025, 9, 27, 7, 0, 0, 0, time.UTC))

	_, err := s.syncer.SmartSync(ctx)
	s.NoError(err)
	for _, j := range s.syncer.Pending() {
		s.False(j.Metadata.Details)
	}
}

func (s *SyncerTestSuite) TestMissingAPIKey() {
	s.hasKey = false
	s.syncer = s.newSyncer()

	_, err := s.syncer.SmartSync(context.Background())
	s.ErrorIs(err, types.ErrServiceUnavailable)
	_, err = s.syncer.ForceSync(context.Background(), KindToday)
	s.ErrorIs(err, types.ErrServiceUnavailable)
	_, _, err = NewPopulator(s.syncer).Run(context.Background(), PopulateQuick)
	s.ErrorIs(err, types.ErrServiceUnavailable)

	s.Empty(s.syncer.Pending())
	s.Zero(s.provider.Count())
}

func (s *SyncerTestSuite) TestForceSyncKinds() {
	_, err := s.syncer.QueueForced("someday")
	s.ErrorIs(err, types.ErrInvalidInput)

	n, err := s.syncer.QueueForced(KindYesterday)
	s.NoError(err)
	s.Equal(2, n)
	s.Equal("2025-09-26", s.syncer.Pending()[0].Metadata.From)

	n, err = s.syncer.QueueForced(KindLive)
	s.NoError(err)
	s.Equal(2, n)
	pending := s.syncer.Pending()
	s.Equal(types.PriorityHigh, pending[0].Priority)
	s.Equal("2025-09-27", pending[0].Metadata.From)
	s.True(pending[0].Metadata.Details)
}

func (s *SyncerTestSuite) TestForceSyncFetchesDetails() {
	finished := fixture(1, types.StatusFullTime, saturday.Add(-3*time.Hour))
	upcoming := fixture(2, types.StatusNotStarted, saturday.Add(5*time.Hour))
	s.provider.FixturesFn = func(q types.FixtureQuery) ([]types.Fixture, error) {
		if q.LeagueID == 128 {
			return []types.Fixture{finished, upcoming}, nil
		}
		return nil, nil
	}

	res, err := s.syncer.ForceSync(context.Background(), KindToday)
	s.NoError(err)
	s.Equal(5, res.Processed)
	s.Equal(2, s.provider.CountOf("fixtures"))
	s.Equal(1, s.provider.CountOf("statistics"))
	s.Equal(1, s.provider.CountOf("events"))
	s.Equal(1, s.provider.CountOf("lineups"))
	for _, c := range s.provider.Calls() {
		if c.Endpoint != "fixtures" {
			s.Equal(1, c.Ref.FixtureID)
		}
	}
}

func (s *SyncerTestSuite) TestQuickPopulateWritesDays() {
	ctx := context.Background()
	s.leagues = []types.League{{ID: 128, Season: 2025}}
	s.syncer = s.newSyncer()
	s.provider.FixturesFn = func(q types.FixtureQuery) ([]types.Fixture, error) {
		s.Equal("2025-09-26", q.From)
		s.Equal("2025-09-28", q.To)
		return []types.Fixture{
			fixture(1, types.StatusFullTime, time.Date(2025, 9, 26, 18, 0, 0, 0, time.UTC)),
			fixture(2, types.StatusNotStarted, time.Date(2025, 9, 28, 18, 0, 0, 0, time.UTC)),
		}, nil
	}

	p := NewPopulator(s.syncer)
	res, ran, err := p.Run(ctx, PopulateQuick)
	s.NoError(err)
	s.True(ran)
	s.Equal(1, res.Batches)
	s.Zero(res.FailedBatches)
	s.Equal(PopulateQuick, res.Mode)

	day := func(d string) []types.Fixture {
		v, ok := cache.GetJSON[[]types.Fixture](ctx, s.store, types.CollectionFixtures, cache.FixtureListParams(128, d, d))
		s.True(ok, d)
		return v
	}
	s.Len(day("2025-09-26"), 1)
	s.Empty(day("2025-09-27"))
	s.Len(day("2025-09-28"), 1)
	s.Equal(policy.SettledTTL, s.entryTTL(types.CollectionFixtures, cache.FixtureListParams(128, "2025-09-26", "2025-09-26")))

	last, ok := p.LastResult()
	s.True(ok)
	s.Equal(res, last)

	// a second pass finds everything cached
	res, _, err = p.Run(ctx, PopulateQuick)
	s.NoError(err)
	s.Zero(res.Batches)
	s.Equal(1, s.provider.Count())
}

func (s *SyncerTestSuite) TestFullPopulateCountsFailedBatches() {
	s.leagues = []types.League{{ID: 128, Season: 2025}}
	s.syncer = s.newSyncer()
	var windows []string
	s.provider.FixturesFn = func(q types.FixtureQuery) ([]types.Fixture, error) {
		windows = append(windows, fmt.Sprintf("%s..%s", q.From, q.To))
		if q.From == "2025-09-27" {
			return nil, errors.New("upstream 500")
		}
		return nil, nil
	}

	res, _, err := NewPopulator(s.syncer).Run(context.Background(), PopulateFull)
	s.NoError(err)
	s.Equal(PopulateFull, res.Mode)
	s.Equal(3, res.Batches)
	s.Equal(1, res.FailedBatches)
	s.Equal([]string{
		"2025-09-20..2025-09-26",
		"2025-09-27..2025-10-03",
		"2025-10-04..2025-10-04",
	}, windows)
}
