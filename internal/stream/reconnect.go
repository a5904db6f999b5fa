package stream

import (
	"context"
	"errors"
	"kickoff/internal/clock"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	log "github.com/sirupsen/logrus"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Waiting
)

var stateNames = map[State]string{
	Disconnected: "disconnected",
	Connecting:   "connecting",
	Connected:    "connected",
	Waiting:      "waiting",
}

func (s State) String() string { return stateNames[s] }

// ErrGaveUp is returned by Run once MaxAttempts consecutive connects failed.
var ErrGaveUp = errors.New("gave up reconnecting")

// DialFunc opens a stream and blocks while it is up. It calls connected once
// the stream is established and returns when the stream ends.
type DialFunc func(ctx context.Context, connected func()) error

// Reconnector keeps a stream open: disconnected -> connecting -> connected,
// and on loss waiting -> connecting again after a backoff. A successful
// connect resets the attempt count and the backoff.
type Reconnector struct {
	dial        DialFunc
	clock       clock.Clock
	backoff     backoff.BackOff
	maxAttempts int
	onState     func(State)

	mu       sync.Mutex
	state    State
	attempts int
}

type ReconnectorOption func(*Reconnector)

func WithBackOff(b backoff.BackOff) ReconnectorOption {
	return func(r *Reconnector) { r.backoff = b }
}

func WithClock(c clock.Clock) ReconnectorOption {
	return func(r *Reconnector) { r.clock = c }
}

// WithMaxAttempts caps consecutive failed connects. 0 retries forever.
func WithMaxAttempts(n int) ReconnectorOption {
	return func(r *Reconnector) { r.maxAttempts = n }
}

func WithStateHook(f func(State)) ReconnectorOption {
	return func(r *Reconnector) { r.onState = f }
}

// DefaultBackOff grows from 1s to 30s with jitter.
func DefaultBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Second
	b.RandomizationFactor = 0.2
	return b
}

func NewReconnector(dial DialFunc, opts ...ReconnectorOption) *Reconnector {
	r := &Reconnector{
		dial:        dial,
		clock:       clock.Real{},
		backoff:     DefaultBackOff(),
		maxAttempts: 10,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Reconnector) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Attempts is the number of consecutive failed connects.
func (r *Reconnector) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

func (r *Reconnector) set(s State) {
	r.mu.Lock()
	changed := r.state != s
	r.state = s
	r.mu.Unlock()
	if changed && r.onState != nil {
		r.onState(s)
	}
}

// Run drives the state machine until ctx ends or the attempts are exhausted.
// The backoff wait is cancelled with ctx.
func (r *Reconnector) Run(ctx context.Context) error {
	defer r.set(Disconnected)
	r.backoff.Reset()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.set(Connecting)
		err := r.dial(ctx, func() {
			r.mu.Lock()
			r.attempts = 0
			r.mu.Unlock()
			r.backoff.Reset()
			r.set(Connected)
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}

		r.mu.Lock()
		if r.state != Connected {
			r.attempts++
		}
		attempts := r.attempts
		r.mu.Unlock()
		if r.maxAttempts > 0 && attempts >= r.maxAttempts {
			log.WithError(err).WithField("attempts", attempts).Warn("stream reconnect attempts exhausted")
			return errors.Join(ErrGaveUp, err)
		}

		wait := r.backoff.NextBackOff()
		r.set(Waiting)
		log.WithError(err).WithFields(log.Fields{"attempt": attempts, "wait": wait}).Info("stream lost, reconnecting")
		if err := r.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}
