package enforcement

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haramshield/haramshield-go/internal/conf"
	"github.com/haramshield/haramshield-go/internal/datastore"
	"github.com/haramshield/haramshield-go/internal/detection"
	"github.com/haramshield/haramshield-go/internal/errors"
	"github.com/haramshield/haramshield-go/internal/observability/metrics"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store  *datastore.Store
	engine *Engine
	clock  *clock
	m      *metrics.EnforcementMetrics
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testPolicy() detection.Policy {
	return detection.NewPolicy(conf.LockoutSettings{
		Strict:  10 * time.Minute,
		Warning: time.Minute,
		Default: 5 * time.Minute,
	}, 10*time.Minute)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := datastore.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	m, err := metrics.NewEnforcementMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	c := &clock{now: epoch}
	e := New(store.Locks(), store.Violations(), store.Whitelist(), testPolicy,
		WithClock(c.Now), WithMetrics(m))
	return &fixture{store: store, engine: e, clock: c, m: m}
}

func violating(category detection.Category, confidence, threshold float32) detection.Summary {
	return detection.Aggregate([]detection.Result{
		detection.NewResult(category, confidence, threshold, detection.WithDetector("test")),
	}, time.Millisecond)
}

func (f *fixture) logCount(t *testing.T) int64 {
	t.Helper()
	n, err := f.store.Violations().Count(t.Context())
	require.NoError(t, err)
	return n
}

func TestDecideNoViolation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	clean := detection.Aggregate([]detection.Result{detection.NewResult(detection.CategoryExplicit, 0.5, 0.8)}, 0)

	d := f.engine.Decide(t.Context(), "com.app", "App", clean)
	assert.Equal(t, NoAction, d.Outcome)
	assert.Zero(t, f.logCount(t))
}

// Detector confidence 0.91 over threshold 0.80 for explicit content locks
// the app for the strict preset and writes one log entry.
func TestDecideLocksExplicitContent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	d := f.engine.Decide(t.Context(), "com.browser", "Browser", violating(detection.CategoryExplicit, 0.91, 0.80))

	require.Equal(t, AppLocked, d.Outcome, "err: %v", d.Err)
	require.NotNil(t, d.Lock)
	require.NotNil(t, d.Entry)
	assert.Equal(t, 10*time.Minute, d.Lock.Until().Sub(epoch))
	assert.Equal(t, 10*time.Minute, d.Remaining(epoch))
	assert.Equal(t, epoch, d.DecidedAt)
	assert.Equal(t, 10*time.Minute, d.RemainingAtDecision())
	assert.Equal(t, "explicit-content", d.Lock.Category)
	assert.Equal(t, "Browser", d.Entry.AppLabel)
	assert.True(t, d.Entry.LockedOut)
	assert.Equal(t, int64(1), f.logCount(t))
	assert.InDelta(t, 1, testutil.ToFloat64(f.m.Decisions.WithLabelValues("app-locked")), 0)

	locked, err := f.store.Locks().IsLocked(t.Context(), "com.browser", epoch)
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestDecideDurationPerCategory(t *testing.T) {
	t.Parallel()

	for category, want := range map[detection.Category]time.Duration{
		detection.CategoryGambling:   10 * time.Minute,
		detection.CategoryObscured:   10 * time.Minute,
		detection.CategoryIntoxicant: time.Minute,
		detection.CategoryBlasphemy:  5 * time.Minute,
		detection.CategoryUnknown:    5 * time.Minute,
	} {
		f := newFixture(t)
		d := f.engine.Decide(t.Context(), "com.app", "", violating(category, 1, 0.5))
		require.Equal(t, AppLocked, d.Outcome, category)
		assert.Equal(t, want, d.Remaining(epoch), category)
	}
}

func TestDecideIsIdempotentWhileLocked(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := t.Context()

	first := f.engine.Decide(ctx, "com.app", "", violating(detection.CategoryGambling, 0.9, 0.6))
	require.Equal(t, AppLocked, first.Outcome)

	for range 5 {
		f.clock.Advance(time.Second)
		d := f.engine.Decide(ctx, "com.app", "", violating(detection.CategoryExplicit, 0.99, 0.6))
		assert.Equal(t, AlreadyLocked, d.Outcome)
		require.NotNil(t, d.Lock)
		assert.Equal(t, first.Lock.LockUntil, d.Lock.LockUntil)
	}
	assert.Equal(t, int64(1), f.logCount(t))

	// after expiry a new decision locks again
	f.clock.Advance(10 * time.Minute)
	d := f.engine.Decide(ctx, "com.app", "", violating(detection.CategoryGambling, 0.9, 0.6))
	assert.Equal(t, AppLocked, d.Outcome)
	assert.Equal(t, int64(2), f.logCount(t))
}

func TestWhitelistPrecedence(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := t.Context()

	require.Equal(t, AppLocked, f.engine.Decide(ctx, "com.app", "", violating(detection.CategoryGambling, 0.9, 0.6)).Outcome)

	require.NoError(t, f.store.Whitelist().Add(ctx, &datastore.WhitelistedApp{PackageName: "com.app", AddedAt: epoch.UnixMilli()}))
	locked, err := f.store.Locks().IsLocked(ctx, "com.app", epoch)
	require.NoError(t, err)
	assert.False(t, locked)

	d := f.engine.Decide(ctx, "com.app", "", violating(detection.CategoryExplicit, 1, 0.5))
	assert.Equal(t, Whitelisted, d.Outcome)
	assert.Equal(t, int64(1), f.logCount(t), "whitelisted decisions are not logged")
}

func TestConcurrentDecisionsLockOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := t.Context()

	var mu sync.Mutex
	outcomes := map[Outcome]int{}
	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			d := f.engine.Decide(ctx, "com.race", "", violating(detection.CategoryGambling, 0.9, 0.6))
			mu.Lock()
			outcomes[d.Outcome]++
			mu.Unlock()
		})
	}
	// unrelated packages proceed in parallel
	for i := range 5 {
		wg.Go(func() {
			pkg := "com.other" + string(rune('a'+i))
			assert.Equal(t, AppLocked, f.engine.Decide(ctx, pkg, "", violating(detection.CategoryGambling, 0.9, 0.6)).Outcome)
		})
	}
	wg.Wait()

	assert.Equal(t, map[Outcome]int{AppLocked: 1, AlreadyLocked: 9}, outcomes)
	assert.Equal(t, int64(6), f.logCount(t))
	assert.Zero(t, f.engine.keys.size())
}

func TestDecideSurvivesCancelledContext(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	d := f.engine.Decide(ctx, "com.app", "", violating(detection.CategoryGambling, 0.9, 0.6))
	assert.Equal(t, AppLocked, d.Outcome)
}

func TestPunishLogsEveryAttempt(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := t.Context()
	const settings = "com.android.settings"

	require.NoError(t, f.store.Whitelist().Add(ctx, &datastore.WhitelistedApp{PackageName: settings}))

	var untils []int64
	for range 3 {
		d := f.engine.Punish(ctx, settings, detection.CategoryTampering, 10*time.Minute, 1)
		require.Equal(t, AppLocked, d.Outcome)
		untils = append(untils, d.Lock.LockUntil)
		f.clock.Advance(time.Second)
	}

	entries, err := f.store.Violations().ForPackage(ctx, settings, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.Equal(t, "tampering", e.Category)
	}
	assert.Less(t, untils[0], untils[2], "each attempt renews the punitive lock")
}

type failingLog struct{}

func (failingLog) Append(context.Context, *datastore.ViolationLog) error {
	return errors.NewStd("disk full")
}

type memLocks struct {
	mu        sync.Mutex
	inserted  int
	insertErr error
}

func (m *memLocks) GetActiveLock(context.Context, string, time.Time) (*datastore.LockedApp, error) {
	return nil, nil
}

func (m *memLocks) Insert(context.Context, *datastore.LockedApp, time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.inserted++
	return nil
}

func (m *memLocks) Upsert(context.Context, *datastore.LockedApp) error { return nil }

type noWhitelist struct{}

func (noWhitelist) Contains(context.Context, string) (bool, error) { return false, nil }

type memLog struct {
	mu      sync.Mutex
	entries []datastore.ViolationLog
}

func (m *memLog) Append(_ context.Context, e *datastore.ViolationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

func TestLogFailureIsSurfacedAndSkipsLock(t *testing.T) {
	t.Parallel()

	locks := &memLocks{}
	e := New(locks, failingLog{}, noWhitelist{}, testPolicy)

	d := e.Decide(t.Context(), "com.app", "", violating(detection.CategoryGambling, 0.9, 0.6))
	assert.Equal(t, Failed, d.Outcome)
	require.Error(t, d.Err)
	assert.True(t, errors.IsCategory(d.Err, errors.CategoryEnforcement))
	assert.Zero(t, locks.inserted, "no lock without its log entry")
}

func TestDuplicateLockAbortsWrite(t *testing.T) {
	t.Parallel()

	locks := &memLocks{insertErr: datastore.ErrDuplicateLock}
	log := &memLog{}
	e := New(locks, log, noWhitelist{}, testPolicy)

	d := e.Decide(t.Context(), "com.app", "", violating(detection.CategoryGambling, 0.9, 0.6))
	assert.Equal(t, Failed, d.Outcome)
	assert.ErrorIs(t, d.Err, datastore.ErrDuplicateLock)
	assert.Len(t, log.entries, 1, "the log entry is kept as evidence")
}

func TestOutcomeString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "no-action", NoAction.String())
	assert.Equal(t, "app-locked", AppLocked.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}
