package focus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haramshield/haramshield-go/internal/conf"
	"github.com/haramshield/haramshield-go/internal/datastore"
	"github.com/haramshield/haramshield-go/internal/detection"
	"github.com/haramshield/haramshield-go/internal/errors"
	"github.com/haramshield/haramshield-go/internal/events"
)

var epoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type fakeCapture struct {
	mu      sync.Mutex
	started []string
	stops   int
}

func (c *fakeCapture) Start(pkg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = append(c.started, pkg)
}

func (c *fakeCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
}

func (c *fakeCapture) snapshot() ([]string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.started...), c.stops
}

type fakeLocks struct {
	locks map[string]datastore.LockedApp
	err   error
}

func (f *fakeLocks) GetActiveLock(_ context.Context, pkg string, now time.Time) (*datastore.LockedApp, error) {
	if f.err != nil {
		return nil, f.err
	}
	if l, ok := f.locks[pkg]; ok && l.Active(now) {
		return &l, nil
	}
	return nil, nil
}

type fakeWhitelist map[string]bool

func (w fakeWhitelist) Contains(_ context.Context, pkg string) (bool, error) { return w[pkg], nil }

type fakeTamper struct{ hits []string }

func (f *fakeTamper) Inspect(_ context.Context, pkg, text string) bool {
	if pkg == "com.android.settings" && text == "haramshield" {
		f.hits = append(f.hits, pkg)
		return true
	}
	return false
}

type signalLog struct {
	mu  sync.Mutex
	got []events.Signal
}

func (s *signalLog) TryPublish(sig events.Signal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, sig)
	return true
}

type fixture struct {
	machine  *Machine
	capture  *fakeCapture
	locks    *fakeLocks
	tamper   *fakeTamper
	signals  *signalLog
	settings *conf.Settings
}

func newFixture() *fixture {
	f := &fixture{
		capture:  &fakeCapture{},
		locks:    &fakeLocks{locks: map[string]datastore.LockedApp{}},
		tamper:   &fakeTamper{},
		signals:  &signalLog{},
		settings: conf.DefaultSettings(),
	}
	f.machine = New(Deps{
		Settings:  func() *conf.Settings { return f.settings },
		Capture:   f.capture,
		Tamper:    f.tamper,
		Locks:     f.locks,
		Whitelist: fakeWhitelist{"com.quran.reader": true},
		Signals:   f.signals,
	}, WithClock(func() time.Time { return epoch }))
	return f
}

func window(pkg string) Event { return Event{Package: pkg, Kind: WindowChanged, At: epoch} }

func TestUnlockedPackageStartsCapture(t *testing.T) {
	t.Parallel()

	f := newFixture()
	assert.True(t, f.machine.State().Idle())

	f.machine.Handle(t.Context(), window("com.example.browser"))
	started, _ := f.capture.snapshot()
	assert.Equal(t, []string{"com.example.browser"}, started)
	assert.Equal(t, "tracking(com.example.browser)", f.machine.State().String())
}

func TestSamePackageIsNoOp(t *testing.T) {
	t.Parallel()

	f := newFixture()
	for range 3 {
		f.machine.Handle(t.Context(), window("com.example.browser"))
	}
	started, _ := f.capture.snapshot()
	assert.Len(t, started, 1)
}

func TestIgnoredPackages(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.machine.Handle(t.Context(), window("com.example.browser"))
	for _, pkg := range []string{
		f.settings.Main.Package,
		"com.android.settings",
		"android",
		"com.google.android.apps.nexuslauncher",
		"com.android.systemui",
		"com.vendor.systemui.plugin",
		"  ",
	} {
		f.machine.Handle(t.Context(), window(pkg))
	}
	assert.Equal(t, "com.example.browser", f.machine.State().Tracking)
	started, _ := f.capture.snapshot()
	assert.Len(t, started, 1)
}

func TestWhitelistedPackageStopsCapture(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.machine.Handle(t.Context(), window("com.example.browser"))
	f.machine.Handle(t.Context(), window("com.quran.reader"))

	started, stops := f.capture.snapshot()
	assert.Equal(t, []string{"com.example.browser"}, started)
	assert.Equal(t, 1, stops)
	assert.Equal(t, "com.quran.reader", f.machine.State().Tracking)
}

func TestLockedPackageShowsBlock(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.locks.locks["com.casino"] = datastore.NewLock("com.casino", string(detection.CategoryGambling), 1, epoch.Add(-time.Minute), 10*time.Minute)

	f.machine.Handle(t.Context(), window("com.casino"))

	started, stops := f.capture.snapshot()
	assert.Empty(t, started)
	assert.Equal(t, 1, stops)
	require.Len(t, f.signals.got, 1)
	sig := f.signals.got[0]
	assert.Equal(t, events.KindShowBlock, sig.Kind)
	assert.Equal(t, 9*time.Minute, sig.Remaining)
	assert.Equal(t, detection.CategoryGambling, sig.Category)
}

func TestExpiredLockStartsCapture(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.locks.locks["com.casino"] = datastore.NewLock("com.casino", string(detection.CategoryGambling), 1, epoch.Add(-time.Hour), time.Minute)
	f.machine.Handle(t.Context(), window("com.casino"))

	started, _ := f.capture.snapshot()
	assert.Equal(t, []string{"com.casino"}, started)
	assert.Empty(t, f.signals.got)
}

func TestLockLookupFailureFailsTowardProtection(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.locks.err = errors.NewStd("database is locked")
	f.machine.Handle(t.Context(), window("com.example.browser"))

	started, _ := f.capture.snapshot()
	assert.Equal(t, []string{"com.example.browser"}, started)
}

func TestMonitoringDisabled(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.settings.Monitoring.Enabled = false
	f.machine.Handle(t.Context(), window("com.example.browser"))
	assert.True(t, f.machine.State().Idle())

	// tamper inspection still runs
	f.machine.Handle(t.Context(), Event{Package: "com.android.settings", Kind: ContentChanged, Text: "haramshield"})
	assert.Len(t, f.tamper.hits, 1)
}

func TestContentChangedDoesNotTransition(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.machine.Handle(t.Context(), Event{Package: "com.example.browser", Kind: ContentChanged})
	assert.True(t, f.machine.State().Idle())
}

func TestRunProcessesQueueAndStopsCapture(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		_ = f.machine.Run(ctx)
		close(done)
	}()

	require.True(t, f.machine.Submit(window("a.one")))
	require.True(t, f.machine.Submit(window("b.two")))
	require.Eventually(t, func() bool { return f.machine.State().Tracking == "b.two" }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	_, stops := f.capture.snapshot()
	assert.Equal(t, 1, stops, "capture stopped on exit")
}

func TestSubmitDropsWhenFull(t *testing.T) {
	t.Parallel()

	f := newFixture()
	m := New(Deps{Settings: func() *conf.Settings { return f.settings }, Capture: f.capture}, WithQueueSize(1))
	assert.True(t, m.Submit(window("a")))
	assert.False(t, m.Submit(window("b")))
}
