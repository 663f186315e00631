// Package focus tracks which application is in the foreground and starts,
// stops or blocks capture for it. All transitions run on one goroutine.
package focus

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/haramshield/haramshield-go/internal/conf"
	"github.com/haramshield/haramshield-go/internal/datastore"
	"github.com/haramshield/haramshield-go/internal/detection"
	"github.com/haramshield/haramshield-go/internal/events"
	"github.com/haramshield/haramshield-go/internal/logger"
)

// Kind is the type of a focus event.
type Kind int

const (
	// WindowChanged means a different window came to the foreground.
	WindowChanged Kind = iota
	// ContentChanged means the foreground window's content changed.
	ContentChanged
)

func (k Kind) String() string {
	if k == ContentChanged {
		return "content-changed"
	}
	return "window-changed"
}

// Event is one observation from the focus-event source.
type Event struct {
	Package string
	Kind    Kind
	Text    string // visible text, if the source provides it
	At      time.Time
}

// State is Idle when Tracking is empty.
type State struct {
	Tracking string
	Since    time.Time
}

// Idle reports whether no package is tracked.
func (s State) Idle() bool { return s.Tracking == "" }

func (s State) String() string {
	if s.Idle() {
		return "idle"
	}
	return "tracking(" + s.Tracking + ")"
}

// Capture starts and stops the capture loop. scheduler.Scheduler implements it.
type Capture interface {
	Start(pkg string)
	Stop()
}

// TamperInspector checks events for tamper attempts. guard.Tamper
// implements it.
type TamperInspector interface {
	Inspect(ctx context.Context, pkg, text string) bool
}

// LockLookup reads active locks.
type LockLookup interface {
	GetActiveLock(ctx context.Context, pkg string, now time.Time) (*datastore.LockedApp, error)
}

// WhitelistLookup answers whitelist membership.
type WhitelistLookup interface {
	Contains(ctx context.Context, pkg string) (bool, error)
}

// Deps are the collaborators of a Machine.
type Deps struct {
	Settings  func() *conf.Settings
	Capture   Capture
	Tamper    TamperInspector
	Locks     LockLookup
	Whitelist WhitelistLookup
	Signals   events.Publisher
}

// DefaultQueueSize bounds pending events.
const DefaultQueueSize = 64

// lookupTimeout bounds the lock and whitelist queries of one transition.
const lookupTimeout = 2 * time.Second

// Machine is the focus state machine.
type Machine struct {
	deps   Deps
	events chan Event
	now    func() time.Time
	log    logger.Logger

	mu    sync.RWMutex
	state State
}

// Option configures a Machine.
type Option func(*Machine)

// WithQueueSize sets the event queue length.
func WithQueueSize(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.events = make(chan Event, n)
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// New creates an idle machine.
func New(deps Deps, opts ...Option) *Machine {
	if deps.Signals == nil {
		deps.Signals = events.Discard{}
	}
	m := &Machine{
		deps:   deps,
		events: make(chan Event, DefaultQueueSize),
		now:    time.Now,
		log:    GetLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Submit queues e without blocking and reports whether it fit.
func (m *Machine) Submit(e Event) bool {
	if e.At.IsZero() {
		e.At = m.now()
	}
	select {
	case m.events <- e:
		return true
	default:
		m.log.Warn("focus event queue full, dropping event",
			logger.String("package", e.Package),
			logger.String("kind", e.Kind.String()))
		return false
	}
}

// Run handles events until ctx is done. Capture is stopped on exit.
func (m *Machine) Run(ctx context.Context) error {
	defer m.deps.Capture.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-m.events:
			m.Handle(ctx, e)
		}
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Handle applies one event synchronously. Run calls it for queued events;
// calling it directly from several goroutines is not supported.
func (m *Machine) Handle(ctx context.Context, e Event) {
	e.Package = strings.TrimSpace(e.Package)
	if e.Package == "" {
		return
	}

	// tamper inspection ignores the monitoring switch and the snooze
	if m.deps.Tamper != nil && m.deps.Tamper.Inspect(ctx, e.Package, e.Text) {
		return
	}

	settings := m.deps.Settings()
	if !settings.Monitoring.Enabled || e.Kind != WindowChanged {
		return
	}
	if Ignored(e.Package, settings.Main.Package) {
		return
	}
	if e.Package == m.State().Tracking {
		return
	}

	m.transition(ctx, e)
}

func (m *Machine) transition(ctx context.Context, e Event) {
	pkg := e.Package
	m.setTracking(pkg, e.At)
	log := m.log.With(logger.String("package", pkg))

	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	whitelisted, err := m.deps.Whitelist.Contains(ctx, pkg)
	if err != nil {
		log.Warn("whitelist lookup failed, treating as not whitelisted", logger.Error(err))
	}
	if whitelisted {
		m.deps.Capture.Stop()
		log.Debug("tracking whitelisted package")
		return
	}

	lock, err := m.deps.Locks.GetActiveLock(ctx, pkg, m.now())
	if err != nil {
		// fail toward protection
		log.Warn("lock lookup failed, starting capture", logger.Error(err))
		m.deps.Capture.Start(pkg)
		return
	}
	if lock != nil {
		m.deps.Capture.Stop()
		m.deps.Signals.TryPublish(events.ShowBlock(pkg, lock.Remaining(m.now()), detection.Category(lock.Category)))
		log.Info("locked package opened",
			logger.String("category", lock.Category),
			logger.Duration("remaining", lock.Remaining(m.now())))
		return
	}

	m.deps.Capture.Start(pkg)
}

func (m *Machine) setTracking(pkg string, at time.Time) {
	m.mu.Lock()
	m.state = State{Tracking: pkg, Since: at}
	m.mu.Unlock()
}

// Ignored reports whether pkg is never tracked: the agent itself and the
// OS shell surfaces.
func Ignored(pkg, own string) bool {
	switch {
	case pkg == own:
		return true
	case strings.HasPrefix(pkg, "com.android"), strings.HasPrefix(pkg, "android"):
		return true
	case strings.Contains(pkg, "launcher"), strings.Contains(pkg, "systemui"):
		return true
	}
	return false
}
