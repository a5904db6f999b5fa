package validate

import (
	"context"
	"errors"
	"kickoff/internal/clock"
	"kickoff/internal/types"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

func goal(team int) types.Event {
	return types.Event{TeamID: team, Type: types.EventTypeGoal, Detail: "Normal Goal"}
}

func match(id, home, away int, homeEvents, awayEvents []types.Event) types.Fixture {
	return types.Fixture{
		ID:     id,
		Status: types.StatusFullTime,
		Home:   types.Team{ID: 10},
		Away:   types.Team{ID: 20},
		Goals:  types.Score{Home: home, Away: away},
		Events: &types.EventPair{Home: homeEvents, Away: awayEvents},
	}
}

type ValidatorTestSuite struct {
	suite.Suite
	clock *clock.Fake
	v     *Validator
}

func TestValidatorSuite(t *testing.T) {
	suite.Run(t, new(ValidatorTestSuite))
}

func (s *ValidatorTestSuite) SetupTest() {
	s.clock = clock.NewFake(time.Date(2025, 9, 27, 20, 0, 0, 0, time.UTC))
	s.v = New(s.clock, 500*time.Millisecond)
}

func (s *ValidatorTestSuite) TestValidateCorrectness() {
	f := match(1, 2, 1, []types.Event{goal(10), goal(10)}, []types.Event{goal(20)})
	s.True(Validate(f))

	f.Events.Home = f.Events.Home[:1]
	s.False(Validate(f))
}

func (s *ValidatorTestSuite) TestValidateIgnoresNonScoringEvents() {
	missed := types.Event{TeamID: 10, Type: types.EventTypeGoal, Detail: types.EventDetailMissedPenalty}
	shootout := types.Event{TeamID: 20, Type: types.EventTypeGoal, Detail: "Penalty", Comments: types.EventCommentShootout}
	card := types.Event{TeamID: 20, Type: types.EventTypeCard}
	f := match(1, 1, 1, []types.Event{goal(10), missed}, []types.Event{goal(20), shootout, card})
	s.True(Validate(f))
}

func (s *ValidatorTestSuite) TestValidateNoEvents() {
	f := match(1, 0, 0, nil, nil)
	s.True(Validate(f))
	f.Goals.Home = 1
	s.False(Validate(f))
	f.Events = nil
	s.False(Validate(f))
}

func (s *ValidatorTestSuite) TestNeedsValidation() {
	s.True(NeedsValidation(types.Fixture{Status: types.StatusHalfTime}))
	s.True(NeedsValidation(types.Fixture{Status: types.StatusAfterET}))
	s.False(NeedsValidation(types.Fixture{Status: types.StatusNotStarted}))
}

func (s *ValidatorTestSuite) TestRepairFailureKeepsOriginal() {
	f := match(1, 2, 0, []types.Event{goal(10)}, nil)
	got := s.v.Repair(context.Background(), f, func(context.Context, types.MatchRef) (types.EventPair, error) {
		return types.EventPair{}, errors.New("timeout")
	})
	s.Equal(f, got)
}

func (s *ValidatorTestSuite) TestRepairAllSubstitutesById() {
	ok := match(1, 1, 0, []types.Event{goal(10)}, nil)
	broken1 := match(2, 2, 0, []types.Event{goal(10)}, nil)
	broken2 := match(3, 0, 1, nil, nil)
	upcoming := types.Fixture{ID: 4, Status: types.StatusNotStarted, Goals: types.Score{Home: 1}}

	var refs []types.MatchRef
	refetch := func(_ context.Context, ref types.MatchRef) (types.EventPair, error) {
		refs = append(refs, ref)
		switch ref.FixtureID {
		case 2:
			return types.EventPair{Home: []types.Event{goal(10), goal(10)}}, nil
		default:
			return types.EventPair{Away: []types.Event{goal(20)}}, nil
		}
	}
	start := s.clock.Now()
	out := s.v.RepairAll(context.Background(), []types.Fixture{ok, broken1, broken2, upcoming}, refetch)

	s.Len(refs, 2)
	s.Equal(types.MatchRef{FixtureID: 2, HomeID: 10, AwayID: 20}, refs[0])
	s.Equal(500*time.Millisecond, s.clock.Now().Sub(start))
	s.Require().Len(out, 4)
	s.Equal(ok, out[0])
	s.True(Validate(out[1]))
	s.True(Validate(out[2]))
	s.Equal(upcoming, out[3])
}

func (s *ValidatorTestSuite) TestRepairAllNothingToDo() {
	in := []types.Fixture{match(1, 0, 0, nil, nil)}
	out := s.v.RepairAll(context.Background(), in, nil)
	s.Equal(in, out)
}
