package provider

import (
	"context"
	"errors"
	"kickoff/internal/types"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

const fixturesBody = `{
  "errors": [],
  "results": 2,
  "response": [
    {"fixture": {"id": 1001, "date": "2025-09-27T19:00:00+00:00", "venue": {"name": "Monumental"}, "status": {"short": "NS", "elapsed": null}},
     "league": {"id": 128, "season": 2025, "round": "2nd Phase - 10"},
     "teams": {"home": {"id": 435, "name": "River Plate"}, "away": {"id": 451, "name": "Boca Juniors"}},
     "goals": {"home": null, "away": null}},
    {"fixture": {"id": 1002, "date": "2025-09-27T21:30:00+00:00", "venue": {"name": "Cilindro"}, "status": {"short": "2H", "elapsed": 67}},
     "league": {"id": 128, "season": 2025, "round": "2nd Phase - 10"},
     "teams": {"home": {"id": 436, "name": "Racing Club"}, "away": {"id": 453, "name": "Independiente"}},
     "goals": {"home": 2, "away": 1}}
  ]
}`

const eventsBody = `{
  "errors": [],
  "results": 3,
  "response": [
    {"time": {"elapsed": 12, "extra": null}, "team": {"id": 436}, "player": {"name": "A"}, "assist": {"name": null}, "type": "Goal", "detail": "Normal Goal", "comments": null},
    {"time": {"elapsed": 40, "extra": 2}, "team": {"id": 453}, "player": {"name": "B"}, "assist": {"name": "C"}, "type": "Card", "detail": "Yellow Card", "comments": "Foul"},
    {"time": {"elapsed": 55, "extra": null}, "team": {"id": 436}, "player": {"name": "D"}, "assist": {"name": null}, "type": "Goal", "detail": "Penalty", "comments": null}
  ]
}`

const lineupsBody = `{
  "errors": {},
  "results": 1,
  "response": [
    {"team": {"id": 436}, "formation": "4-4-2", "coach": {"name": "Coach"},
     "startXI": [{"player": {"id": 1, "name": "GK", "number": 1, "pos": "G"}}],
     "substitutes": [{"player": {"id": 12, "name": "Sub", "number": 12, "pos": "G"}}]}
  ]
}`

type ClientTestSuite struct {
	suite.Suite
	srv      *httptest.Server
	lastReq  *http.Request
	body     string
	status   int
	provider *Client
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}

func (s *ClientTestSuite) SetupTest() {
	s.status = http.StatusOK
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.lastReq = r
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(s.status)
		_, _ = w.Write([]byte(s.body))
	}))
	s.provider = NewClient(types.ProviderConfig{APIKey: "secret-key", BaseURL: s.srv.URL, Timeout: 5 * time.Second}, "UTC")
}

func (s *ClientTestSuite) TearDownTest() {
	_ = s.provider.Close()
	s.srv.Close()
}

func (s *ClientTestSuite) TestFixtures() {
	s.body = fixturesBody
	got, err := s.provider.Fixtures(context.Background(), types.FixtureQuery{
		LeagueID: 128, Season: 2025, From: "2025-09-27", To: "2025-09-27",
	})
	s.Require().NoError(err)
	s.Require().Len(got, 2)

	s.Equal("/fixtures", s.lastReq.URL.Path)
	s.Equal("secret-key", s.lastReq.Header.Get(apiKeyHdrName))
	q := s.lastReq.URL.Query()
	s.Equal("128", q.Get("league"))
	s.Equal("2025", q.Get("season"))
	s.Equal("2025-09-27", q.Get("from"))
	s.Equal("UTC", q.Get("timezone"))

	s.Equal(1001, got[0].ID)
	s.Equal(types.StatusNotStarted, got[0].Status)
	s.Equal(0, got[0].Goals.Home)
	s.Equal("Monumental", got[0].Venue)
	s.Equal(types.StatusSecondHalf, got[1].Status)
	s.Equal(67, got[1].Elapsed)
	s.Equal(types.Score{Home: 2, Away: 1}, got[1].Goals)
	s.Equal(types.MatchRef{FixtureID: 1002, HomeID: 436, AwayID: 453}, got[1].Ref())
}

func (s *ClientTestSuite) TestLiveFixtures() {
	s.body = `{"errors": [], "results": 0, "response": []}`
	got, err := s.provider.Fixtures(context.Background(), types.FixtureQuery{Live: true})
	s.NoError(err)
	s.Empty(got)
	s.Equal("all", s.lastReq.URL.Query().Get("live"))
	s.Empty(s.lastReq.URL.Query().Get("league"))
}

func (s *ClientTestSuite) TestEventsSplitBySide() {
	s.body = eventsBody
	got, err := s.provider.Events(context.Background(), types.MatchRef{FixtureID: 1002, HomeID: 436, AwayID: 453})
	s.Require().NoError(err)
	s.Equal("1002", s.lastReq.URL.Query().Get("fixture"))
	s.Len(got.Home, 2)
	s.Len(got.Away, 1)
	s.Equal(2, got.Away[0].Extra)
	s.Equal("C", got.Away[0].Assist)
	s.True(got.Home[1].CountsAsGoal())
}

func (s *ClientTestSuite) TestLineups() {
	s.body = lineupsBody
	got, err := s.provider.Lineups(context.Background(), types.MatchRef{FixtureID: 1002, HomeID: 436, AwayID: 453})
	s.Require().NoError(err)
	s.Require().NotNil(got.Home)
	s.Nil(got.Away)
	s.Equal("4-4-2", got.Home.Formation)
	s.Equal("GK", got.Home.StartXI[0].Name)
	s.Len(got.Home.Substitutes, 1)
}

func (s *ClientTestSuite) TestStatistics() {
	s.body = `{"errors": [], "results": 2, "response": [
		{"team": {"id": 436}, "statistics": [{"type": "Shots on Goal", "value": 5}]},
		{"team": {"id": 453}, "statistics": [{"type": "Ball Possession", "value": "45%"}]}]}`
	got, err := s.provider.Statistics(context.Background(), types.MatchRef{FixtureID: 1002, HomeID: 436, AwayID: 453})
	s.Require().NoError(err)
	s.Equal("Shots on Goal", got.Home.Items[0].Type)
	s.Equal("45%", got.Away.Items[0].Value)
}

func (s *ClientTestSuite) TestRejectedAndTransportErrors() {
	s.body = `{"errors": {"token": "invalid key"}, "results": 0, "response": []}`
	_, err := s.provider.Events(context.Background(), types.MatchRef{FixtureID: 1})
	s.True(errors.Is(err, types.ErrProviderRejected))

	s.status = http.StatusInternalServerError
	s.body = `{}`
	_, err = s.provider.Events(context.Background(), types.MatchRef{FixtureID: 1})
	s.True(errors.Is(err, types.ErrProviderTransport))
}

func (s *ClientTestSuite) TestMissingKey() {
	c := NewClient(types.ProviderConfig{BaseURL: s.srv.URL, Timeout: time.Second}, "")
	defer c.Close()
	s.lastReq = nil
	_, err := c.Fixtures(context.Background(), types.FixtureQuery{Live: true})
	s.True(errors.Is(err, types.ErrMissingAPIKey))
	s.Nil(s.lastReq)
}

func (s *ClientTestSuite) TestSeasonFor() {
	s.Equal(2025, SeasonFor(time.Date(2025, 9, 27, 0, 0, 0, 0, time.UTC)))
	s.Equal(2024, SeasonFor(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))
}

type countingRecorder struct{ n int }

func (r *countingRecorder) Record(context.Context) { r.n++ }

func (s *ClientTestSuite) TestCountingRecordsEveryRequest() {
	rec := &countingRecorder{}
	s.body = eventsBody
	p := NewCounting(s.provider, rec)
	_, _ = p.Events(context.Background(), types.MatchRef{FixtureID: 1})
	s.status = http.StatusBadGateway
	_, _ = p.Statistics(context.Background(), types.MatchRef{FixtureID: 1})
	s.Equal(2, rec.n)

	noKey := NewCounting(NewClient(types.ProviderConfig{BaseURL: s.srv.URL}, ""), rec)
	_, _ = noKey.Lineups(context.Background(), types.MatchRef{FixtureID: 1})
	s.Equal(2, rec.n)
}
