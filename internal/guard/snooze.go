package guard

import (
	"sync"
	"time"

	"github.com/haramshield/haramshield-go/internal/conf"
	"github.com/haramshield/haramshield-go/internal/logger"
	"github.com/haramshield/haramshield-go/internal/observability/metrics"
)

// Snooze is the single global pause window [start, until). While it is
// active the capture scheduler runs no cycles.
type Snooze struct {
	store   StateStore
	now     func() time.Time
	metrics *metrics.EnforcementMetrics
	log     logger.Logger

	mu    sync.Mutex
	until time.Time
	timer *time.Timer
	gen   uint64        // invalidates timers of replaced windows
	done  chan struct{} // closed on every state change
}

// SnoozeOption configures a Snooze.
type SnoozeOption func(*Snooze)

// WithSnoozeClock replaces time.Now.
func WithSnoozeClock(now func() time.Time) SnoozeOption {
	return func(s *Snooze) { s.now = now }
}

// WithSnoozeMetrics exports the snooze state as a gauge.
func WithSnoozeMetrics(m *metrics.EnforcementMetrics) SnoozeOption {
	return func(s *Snooze) { s.metrics = m }
}

// NewSnooze creates an inactive snooze. Call Restore to pick up a window
// persisted by a previous run.
func NewSnooze(store StateStore, opts ...SnoozeOption) *Snooze {
	s := &Snooze{
		store: store,
		now:   time.Now,
		log:   GetLogger(),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens a window of length d, or of the configured default when d is
// not positive. It returns false without changing anything while a window is
// already active.
func (s *Snooze) Start(d time.Duration) bool {
	if d <= 0 {
		d = s.store.Current().Snooze.DefaultDuration
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Before(s.until) {
		return false
	}
	s.armLocked(now.Add(d), d)
	s.persist(true, s.until)
	s.log.Info("snooze started",
		logger.Duration("duration", d),
		logger.Time("until", s.until))
	return true
}

// Clear ends the active window early. It is a no-op when not snoozed.
func (s *Snooze) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.until.IsZero() {
		return
	}
	s.clearLocked()
	s.log.Info("snooze cleared")
}

// Active reports whether a window is open and when it ends.
func (s *Snooze) Active() (bool, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.now().Before(s.until) {
		return true, s.until
	}
	return false, time.Time{}
}

// Done returns a channel closed at the next state change. Callers re-read
// Active after it fires.
func (s *Snooze) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Restore re-arms a window persisted by a previous run, or clears the
// persisted flag if that window has already ended.
func (s *Snooze) Restore() {
	state := s.store.Current().State
	if !state.Snoozed {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	until := time.UnixMilli(state.SnoozeUntil)
	if !now.Before(until) {
		s.persist(false, time.Time{})
		s.log.Debug("persisted snooze already expired")
		return
	}
	s.armLocked(until, until.Sub(now))
	s.log.Info("snooze restored", logger.Time("until", until))
}

// Stop disarms the auto-clear timer without touching persisted state.
func (s *Snooze) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Snooze) armLocked(until time.Time, d time.Duration) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.until = until
	s.timer = time.AfterFunc(d, func() { s.expire(gen) })
	s.metrics.SetSnoozed(true)
	s.signalLocked()
}

func (s *Snooze) expire(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.until.IsZero() {
		return
	}
	s.clearLocked()
	s.log.Info("snooze expired")
}

func (s *Snooze) clearLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	s.until = time.Time{}
	s.persist(false, time.Time{})
	s.metrics.SetSnoozed(false)
	s.signalLocked()
}

func (s *Snooze) signalLocked() {
	close(s.done)
	s.done = make(chan struct{})
}

func (s *Snooze) persist(snoozed bool, until time.Time) {
	var ms int64
	if !until.IsZero() {
		ms = until.UnixMilli()
	}
	if _, err := s.store.Update(func(c *conf.Settings) {
		c.State.Snoozed = snoozed
		c.State.SnoozeUntil = ms
	}); err != nil {
		// the in-memory window stays authoritative
		s.log.Warn("failed to persist snooze state", logger.Error(err))
	}
}
