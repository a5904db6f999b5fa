package stream

import (
	"context"
	"errors"
	"kickoff/internal/clock"
	"kickoff/internal/types"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 9, 27, 20, 0, 0, 0, time.UTC)

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry(clock.NewFake(now), time.Minute)
	s := r.Open(nil)
	require.NotEmpty(t, s.ID)
	assert.Equal(t, 1, r.Len())

	got, ok := r.Get(s.ID)
	require.True(t, ok)
	assert.Same(t, s, got)

	assert.True(t, r.Close(s.ID))
	assert.False(t, r.Close(s.ID))
	_, ok = r.Get(s.ID)
	assert.False(t, ok)
	select {
	case <-s.Done():
	default:
		t.Fatal("closed session not done")
	}
}

func TestBroadcastHonoursLeagueFilter(t *testing.T) {
	r := NewRegistry(clock.NewFake(now), time.Minute)
	all := r.Open(nil)
	laLiga := r.Open([]int{140})

	n := r.Broadcast(types.LiveUpdate{Kind: types.LiveUpdateKindUpdate, MatchID: 1, LeagueID: 39})
	assert.Equal(t, 1, n)
	n = r.Broadcast(types.LiveUpdate{Kind: types.LiveUpdateKindUpdate, MatchID: 2, LeagueID: 140})
	assert.Equal(t, 2, n)

	assert.Equal(t, 1, (<-all.Updates()).MatchID)
	assert.Equal(t, 2, (<-all.Updates()).MatchID)
	assert.Equal(t, 2, (<-laLiga.Updates()).MatchID)
}

func TestBroadcastDropsForSlowSession(t *testing.T) {
	r := NewRegistry(clock.NewFake(now), time.Minute)
	s := r.Open(nil)
	for i := 0; i < sessionBuffer+5; i++ {
		r.Broadcast(types.LiveUpdate{MatchID: i})
	}
	assert.Len(t, s.Updates(), sessionBuffer)
	assert.Equal(t, 5, s.Dropped())
}

func TestSweepIdle(t *testing.T) {
	c := clock.NewFake(now)
	r := NewRegistry(c, 5*time.Minute)
	quiet := r.Open(nil)
	busy := r.Open(nil)

	c.Advance(4 * time.Minute)
	assert.True(t, r.Touch(busy.ID))
	c.Advance(2 * time.Minute)

	assert.Equal(t, 1, r.SweepIdle())
	_, ok := r.Get(quiet.ID)
	assert.False(t, ok)
	_, ok = r.Get(busy.ID)
	assert.True(t, ok)

	assert.Equal(t, 1, r.CloseAll())
	assert.Zero(t, r.Len())
}

func fixedBackOff() *backoff.ExponentialBackOff {
	b := DefaultBackOff()
	b.RandomizationFactor = 0
	return b
}

func TestReconnectorGivesUp(t *testing.T) {
	c := clock.NewFake(now)
	var states []State
	dials := 0
	r := NewReconnector(func(context.Context, func()) error {
		dials++
		return errors.New("connection refused")
	}, WithClock(c), WithBackOff(fixedBackOff()), WithMaxAttempts(3), WithStateHook(func(s State) {
		states = append(states, s)
	}))

	err := r.Run(context.Background())
	require.ErrorIs(t, err, ErrGaveUp)
	assert.Equal(t, 3, dials)
	assert.Equal(t, 3*time.Second, c.Slept())
	assert.Equal(t, []State{Connecting, Waiting, Connecting, Waiting, Connecting, Disconnected}, states)
	assert.Equal(t, Disconnected, r.State())
}

func TestReconnectorResetsAfterConnect(t *testing.T) {
	c := clock.NewFake(now)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dials := 0
	r := NewReconnector(func(_ context.Context, connected func()) error {
		dials++
		switch dials {
		case 1:
			return errors.New("refused")
		case 2, 3:
			connected()
			return errors.New("stream closed")
		}
		cancel()
		return ctx.Err()
	}, WithClock(c), WithBackOff(fixedBackOff()), WithMaxAttempts(2))

	err := r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 4, dials)
	assert.Zero(t, r.Attempts())
	// 1s after the refusal, then 1s after each drop since a connect resets the backoff
	assert.Equal(t, 3*time.Second, c.Slept())
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "waiting", Waiting.String())
	assert.Equal(t, "connected", Connected.String())
}
