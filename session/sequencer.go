/*
Package session orders forecast requests per browser session.

PROBLEM:
  A user can press "Create forecast" several times before the first fit
  returns. Without ordering, whichever request finishes last wins, so an old
  store's chart can overwrite a newer one.

DESIGN:
  - Begin issues a monotonic sequence number for the session (a Ticket).
  - Run executes the work for a ticket while holding the session's slot, so
    invocations within a session never overlap.
  - A ticket that is no longer the newest when it gets the slot is skipped;
    one that is overtaken while running has its result discarded. Both
    return ErrSuperseded.
  - Sessions are independent; different sessions run concurrently.

  The no-overlap guarantee covers work that returns. When fn gives up on a
  cancelled context, Run releases the slot at once; if fn left a goroutine
  behind (forecast.Forecaster abandons a fit that outlives its deadline),
  that goroutine may still be computing while the next ticket runs. Its
  result is never delivered.

LIFECYCLE:
  Every Ticket from Begin must be passed to Run. A janitor goroutine
  (Start/Stop) evicts sessions idle for longer than the TTL; Forget removes
  one immediately (e.g. when a websocket closes).

SEE ALSO:
  - api/handlers.go: CreateForecast (HTTP)
  - api/ws.go: websocket channel
*/
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrSuperseded is returned when a newer request for the same session was
// issued before this one completed.
var ErrSuperseded = errors.New("superseded by a newer request")

// Ticket identifies one request within a session.
type Ticket struct {
	Session string
	Seq     uint64
}

type state struct {
	slot     chan struct{}
	latest   uint64
	pending  int
	lastSeen time.Time
}

// Sequencer tracks per-session ordering.
type Sequencer struct {
	TTL           time.Duration
	SweepInterval time.Duration

	mu       sync.Mutex
	sessions map[string]*state
	now      func() time.Time
	log      zerolog.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewSequencer creates a sequencer that evicts sessions idle for ttl.
func NewSequencer(ttl time.Duration, log zerolog.Logger) *Sequencer {
	return &Sequencer{
		TTL:           ttl,
		SweepInterval: time.Minute,
		sessions:      make(map[string]*state),
		now:           time.Now,
		log:           log.With().Str("component", "session").Logger(),
	}
}

// Begin issues the next ticket for session.
func (s *Sequencer) Begin(session string) Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[session]
	if !ok {
		st = &state{slot: make(chan struct{}, 1)}
		s.sessions[session] = st
	}
	st.latest++
	st.pending++
	st.lastSeen = s.now()
	return Ticket{Session: session, Seq: st.latest}
}

// Latest returns the newest sequence number issued for session.
func (s *Sequencer) Latest(session string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.sessions[session]; ok {
		return st.latest
	}
	return 0
}

// IsCurrent reports whether t is still the newest ticket of its session.
func (s *Sequencer) IsCurrent(t Ticket) bool {
	return s.Latest(t.Session) == t.Seq
}

// Forget drops a session. Tickets already issued still run to completion.
func (s *Sequencer) Forget(session string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, session)
}

// Len returns the number of tracked sessions.
func (s *Sequencer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Run executes fn for ticket t once no other request of the session is
// running. It returns ErrSuperseded without calling fn when a newer ticket
// exists by then, and discards fn's result when one appears while it runs.
func Run[T any](ctx context.Context, s *Sequencer, t Ticket, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	st := s.acquireState(t)
	defer s.done(st)

	select {
	case st.slot <- struct{}{}:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	defer func() { <-st.slot }()

	if !s.isCurrent(st, t) {
		return zero, ErrSuperseded
	}

	out, err := fn(ctx)
	if !s.isCurrent(st, t) {
		return zero, ErrSuperseded
	}
	return out, err
}

// acquireState returns the session state for t, recreating it if the session
// was forgotten after Begin.
func (s *Sequencer) acquireState(t Ticket) *state {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[t.Session]
	if !ok {
		st = &state{slot: make(chan struct{}, 1), latest: t.Seq, pending: 1}
		s.sessions[t.Session] = st
	}
	return st
}

func (s *Sequencer) isCurrent(st *state, t Ticket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return st.latest == t.Seq
}

func (s *Sequencer) done(st *state) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.pending > 0 {
		st.pending--
	}
	st.lastSeen = s.now()
}

// =============================================================================
// JANITOR
// =============================================================================

// Start begins evicting idle sessions in the background.
func (s *Sequencer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker != nil || s.TTL <= 0 {
		return
	}
	s.ticker = time.NewTicker(s.SweepInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)
	s.log.Debug().Dur("ttl", s.TTL).Msg("session janitor started")
}

// Stop halts the janitor.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	ticker, stop := s.ticker, s.stop
	s.ticker, s.stop = nil, nil
	s.mu.Unlock()

	if ticker == nil {
		return
	}
	ticker.Stop()
	close(stop)
	s.wg.Wait()
	s.log.Debug().Msg("session janitor stopped")
}

func (s *Sequencer) run(ticker *time.Ticker, stop chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case <-ticker.C:
			if n := s.sweep(); n > 0 {
				s.log.Debug().Int("evicted", n).Msg("evicted idle sessions")
			}
		case <-stop:
			return
		}
	}
}

// sweep evicts idle sessions with no request in flight.
func (s *Sequencer) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.TTL)
	n := 0
	for id, st := range s.sessions {
		if st.pending == 0 && st.lastSeen.Before(cutoff) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}
