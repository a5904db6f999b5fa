package sqlite

import (
	"context"
	"database/sql"
	"kickoff/internal/types"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type StoreTestSuite struct {
	suite.Suite
	db       *sql.DB
	cache    *CacheStore
	counters *CounterStore
	now      time.Time
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (s *StoreTestSuite) SetupTest() {
	db, err := Open(":memory:")
	s.Require().NoError(err)
	s.db = db
	s.cache, err = NewCacheStore(db)
	s.Require().NoError(err)
	s.counters, err = NewCounterStore(db)
	s.Require().NoError(err)
	s.now = time.Date(2025, 9, 27, 12, 0, 30, 0, time.UTC)
	s.counters.timeNow = func() time.Time { return s.now }
}

func (s *StoreTestSuite) TearDownTest() {
	s.NoError(s.db.Close())
}

func (s *StoreTestSuite) TestOpenRequiresPath() {
	_, err := Open("  ")
	s.Error(err)
}

func (s *StoreTestSuite) TestOpenFile() {
	db, err := Open(filepath.Join(s.T().TempDir(), "kickoff.db"))
	s.Require().NoError(err)
	defer db.Close()
	_, err = NewCacheStore(db)
	s.NoError(err)
}

func (s *StoreTestSuite) TestCacheRoundTrip() {
	ctx := context.Background()
	missing, err := s.cache.Load(ctx, "fixtures_date_2025-09-27")
	s.NoError(err)
	s.Nil(missing)

	e := types.CacheEntry{Key: "k1", Data: "abc", Timestamp: 1000, TTL: 60000}
	s.NoError(s.cache.Put(ctx, e))
	got, err := s.cache.Load(ctx, "k1")
	s.NoError(err)
	s.Equal(e, *got)

	e.Data = "def"
	e.Timestamp = 2000
	s.NoError(s.cache.Put(ctx, e))
	got, err = s.cache.Load(ctx, "k1")
	s.NoError(err)
	s.Equal("def", got.Data)
	s.Equal(int64(2000), got.Timestamp)
}

func (s *StoreTestSuite) TestCacheScanAndDelete() {
	ctx := context.Background()
	for _, k := range []string{"a", "b", "c"} {
		s.NoError(s.cache.Put(ctx, types.CacheEntry{Key: k, Data: "x", Timestamp: 1, TTL: 1}))
	}
	all, err := s.cache.Scan(ctx)
	s.NoError(err)
	s.Len(all, 3)

	s.NoError(s.cache.DeleteBatch(ctx, []string{"a", "c", "missing"}))
	s.NoError(s.cache.DeleteBatch(ctx, nil))
	all, err = s.cache.Scan(ctx)
	s.NoError(err)
	s.Len(all, 1)
	s.Equal("b", all[0].Key)
}

func (s *StoreTestSuite) TestIncrAndCount() {
	ctx := context.Background()
	v, err := s.counters.Incr(ctx, "usage:2025-09-27", 1, time.Hour)
	s.NoError(err)
	s.Equal(int64(1), v)
	v, err = s.counters.Incr(ctx, "usage:2025-09-27", 2, time.Hour)
	s.NoError(err)
	s.Equal(int64(3), v)

	c, err := s.counters.Count(ctx, "usage:2025-09-27")
	s.NoError(err)
	s.Equal(int64(3), c)

	c, err = s.counters.Count(ctx, "usage:2025-09-26")
	s.NoError(err)
	s.Equal(int64(0), c)
}

func (s *StoreTestSuite) TestIncrRestartsAfterExpiry() {
	ctx := context.Background()
	_, err := s.counters.Incr(ctx, "k", 5, time.Minute)
	s.NoError(err)

	s.now = s.now.Add(2 * time.Minute)
	c, err := s.counters.Count(ctx, "k")
	s.NoError(err)
	s.Equal(int64(0), c)

	v, err := s.counters.Incr(ctx, "k", 1, time.Minute)
	s.NoError(err)
	s.Equal(int64(1), v)
}

func (s *StoreTestSuite) TestAcquireWindow() {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := s.counters.Acquire(ctx, "ip:1.2.3.4", 3, time.Minute)
		s.NoError(err)
		s.True(ok)
	}
	ok, err := s.counters.Acquire(ctx, "ip:1.2.3.4", 3, time.Minute)
	s.NoError(err)
	s.False(ok)

	ok, err = s.counters.Acquire(ctx, "ip:5.6.7.8", 3, time.Minute)
	s.NoError(err)
	s.True(ok)

	s.now = s.now.Add(time.Minute)
	ok, err = s.counters.Acquire(ctx, "ip:1.2.3.4", 3, time.Minute)
	s.NoError(err)
	s.True(ok)

	ok, err = s.counters.Acquire(ctx, "ip:1.2.3.4", 0, time.Minute)
	s.NoError(err)
	s.False(ok)
}

func (s *StoreTestSuite) TestPurgeExpired() {
	ctx := context.Background()
	_, err := s.counters.Incr(ctx, "short", 1, time.Minute)
	s.NoError(err)
	_, err = s.counters.Incr(ctx, "long", 1, time.Hour)
	s.NoError(err)

	s.now = s.now.Add(10 * time.Minute)
	n, err := s.counters.PurgeExpired(ctx)
	s.NoError(err)
	s.Equal(int64(1), n)
}
