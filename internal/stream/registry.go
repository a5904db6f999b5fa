// Package stream fans live updates out to long-lived client sessions and
// keeps the client side of such a session connected.
package stream

import (
	"kickoff/internal/clock"
	"kickoff/internal/metrics"
	"kickoff/internal/types"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const sessionBuffer = 32

// Session is one subscriber. Updates are buffered; a subscriber that falls
// behind loses updates rather than stalling the broadcaster.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	leagues   map[int]bool

	updates chan types.LiveUpdate
	done    chan struct{}
	once    sync.Once

	mu         sync.Mutex
	lastActive time.Time
	dropped    int
}

func (s *Session) Updates() <-chan types.LiveUpdate { return s.updates }

// Done is closed when the session is closed by its owner or the idle sweep.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wants reports whether the session subscribed to the league. No filter means all.
func (s *Session) Wants(leagueID int) bool {
	return len(s.leagues) == 0 || s.leagues[leagueID]
}

func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Dropped is the number of updates lost to a full buffer.
func (s *Session) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

func (s *Session) close() {
	s.once.Do(func() { close(s.done) })
}

// Registry owns the open sessions.
type Registry struct {
	clock clock.Clock
	idle  time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(c clock.Clock, idle time.Duration) *Registry {
	if c == nil {
		c = clock.Real{}
	}
	return &Registry{clock: c, idle: idle, sessions: make(map[string]*Session)}
}

// Open creates a session subscribed to leagues, or to everything when empty.
func (r *Registry) Open(leagues []int) *Session {
	now := r.clock.Now()
	s := &Session{
		ID:         uuid.NewString(),
		CreatedAt:  now,
		leagues:    make(map[int]bool, len(leagues)),
		updates:    make(chan types.LiveUpdate, sessionBuffer),
		done:       make(chan struct{}),
		lastActive: now,
	}
	for _, id := range leagues {
		s.leagues[id] = true
	}
	r.mu.Lock()
	r.sessions[s.ID] = s
	n := len(r.sessions)
	r.mu.Unlock()
	metrics.StreamSessions.Set(float64(n))
	log.WithFields(log.Fields{"session": s.ID, "open": n}).Debug("stream session opened")
	return s
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Touch marks the session active now.
func (r *Registry) Touch(id string) bool {
	s, ok := r.Get(id)
	if ok {
		s.touch(r.clock.Now())
	}
	return ok
}

// Close disposes of a session. Closing an unknown id is a no-op.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.close()
	metrics.StreamSessions.Set(float64(n))
	log.WithField("session", id).Debug("stream session closed")
	return true
}

// Broadcast offers u to every interested session and returns how many took it.
func (r *Registry) Broadcast(u types.LiveUpdate) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.sessions {
		if !s.Wants(u.LeagueID) {
			continue
		}
		select {
		case s.updates <- u:
			n++
		default:
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
		}
	}
	return n
}

// SweepIdle closes sessions inactive for longer than the idle timeout and
// returns how many were closed.
func (r *Registry) SweepIdle() int {
	if r.idle <= 0 {
		return 0
	}
	now := r.clock.Now()
	var stale []string
	r.mu.RLock()
	for id, s := range r.sessions {
		if now.Sub(s.LastActive()) > r.idle {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()
	n := 0
	for _, id := range stale {
		if r.Close(id) {
			n++
		}
	}
	if n > 0 {
		log.WithField("closed", n).Info("idle stream sessions swept")
	}
	return n
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll disposes of every session, on shutdown.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	for _, s := range all {
		s.close()
	}
	metrics.StreamSessions.Set(0)
	return len(all)
}
