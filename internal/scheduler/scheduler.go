// Package scheduler runs the periodic capture loop for the package in
// focus, pacing it by the user interval and the device power state.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/haramshield/haramshield-go/internal/conf"
	"github.com/haramshield/haramshield-go/internal/events"
	"github.com/haramshield/haramshield-go/internal/logger"
)

// CycleFunc runs one capture, classify and decide cycle for pkg.
type CycleFunc func(ctx context.Context, pkg string)

// SnoozeState is the read side of the snooze window. guard.Snooze
// implements it.
type SnoozeState interface {
	Active() (bool, time.Time)
	Done() <-chan struct{}
}

// CaptureConfig returns the live capture settings.
type CaptureConfig func() conf.CaptureSettings

// Scheduler owns at most one capture loop. Start replaces the running loop;
// the old loop's context is cancelled, which aborts its wait and any
// non-essential continuation of its in-flight cycle.
type Scheduler struct {
	cycle   CycleFunc
	snooze  SnoozeState
	power   PowerMonitor
	config  CaptureConfig
	signals events.Publisher
	log     logger.Logger

	base       context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup

	mu     sync.Mutex
	target string
	cancel context.CancelFunc
	closed bool
}

// New creates a stopped scheduler.
func New(cycle CycleFunc, snooze SnoozeState, power PowerMonitor, config CaptureConfig, signals events.Publisher) *Scheduler {
	if power == nil {
		power = PowerFunc(func() bool { return false })
	}
	if signals == nil {
		signals = events.Discard{}
	}
	base, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cycle:      cycle,
		snooze:     snooze,
		power:      power,
		config:     config,
		signals:    signals,
		log:        GetLogger(),
		base:       base,
		cancelBase: cancel,
	}
}

// Start targets pkg, replacing any running loop.
func (s *Scheduler) Start(pkg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || pkg == "" {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(s.base)
	s.target, s.cancel = pkg, cancel
	s.wg.Go(func() { s.loop(ctx, pkg) })
	s.log.Debug("capture loop started", logger.String("package", pkg))
}

// Stop cancels the running loop. It does not wait for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Close stops the scheduler for good and waits for loops to exit.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.stopLocked()
	s.mu.Unlock()

	s.cancelBase()
	s.wg.Wait()
}

// Target returns the package being captured, or "" when stopped.
func (s *Scheduler) Target() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Running reports whether a loop is active.
func (s *Scheduler) Running() bool {
	return s.Target() != ""
}

// Interval returns the wait before the next cycle: the user interval, raised
// to the power-state floor and never below the absolute minimum.
func (s *Scheduler) Interval() time.Duration {
	c := s.config()
	floor := c.HighPowerFloor
	if c.PowerSaver || s.power.LowPower() {
		floor = c.LowPowerFloor
	}
	return max(c.Interval, floor, c.Minimum)
}

func (s *Scheduler) stopLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.target != "" {
		s.log.Debug("capture loop stopped", logger.String("package", s.target))
	}
	s.target = ""
}

func (s *Scheduler) loop(ctx context.Context, pkg string) {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		if !s.waitSnooze(ctx) {
			return
		}

		timer.Reset(s.Interval())
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		// a snooze may have started during the wait
		if active, _ := s.snooze.Active(); active {
			continue
		}

		s.cycle(ctx, pkg)
		if ctx.Err() != nil {
			return
		}
		s.signals.TryPublish(events.Pulse(pkg))
	}
}

// waitSnooze blocks while a snooze window is open. It returns false when ctx
// ends first.
func (s *Scheduler) waitSnooze(ctx context.Context) bool {
	for {
		changed := s.snooze.Done()
		active, until := s.snooze.Active()
		if !active {
			return true
		}

		s.log.Debug("capture paused by snooze", logger.Time("until", until))
		wait := time.NewTimer(time.Until(until))
		select {
		case <-ctx.Done():
			wait.Stop()
			return false
		case <-changed:
		case <-wait.C:
		}
		wait.Stop()
	}
}
