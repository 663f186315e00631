package pipeline

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haramshield/haramshield-go/internal/classifier"
	"github.com/haramshield/haramshield-go/internal/conf"
	"github.com/haramshield/haramshield-go/internal/datastore"
	"github.com/haramshield/haramshield-go/internal/detection"
	"github.com/haramshield/haramshield-go/internal/enforcement"
	"github.com/haramshield/haramshield-go/internal/errors"
	"github.com/haramshield/haramshield-go/internal/events"
	"github.com/haramshield/haramshield-go/internal/keyword"
	"github.com/haramshield/haramshield-go/internal/source"
)

func solid(c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	for y := range 100 {
		for x := range 100 {
			img.Set(x, y, c)
		}
	}
	return img
}

type frames struct {
	img   image.Image
	err   error
	calls atomic.Int64
}

func (f *frames) Capture(context.Context) (image.Image, error) {
	f.calls.Add(1)
	return f.img, f.err
}

type fakeClassifier struct {
	name   string
	result detection.Result
	calls  atomic.Int64
}

func (c *fakeClassifier) Name() string { return c.name }

func (c *fakeClassifier) Classify(context.Context, image.Image) (detection.Result, classifier.Scores) {
	c.calls.Add(1)
	return c.result, nil
}

type blockingOCR struct{}

func (blockingOCR) Recognize(ctx context.Context, _ image.Image) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type signals struct {
	mu  sync.Mutex
	got []events.Signal
}

func (s *signals) TryPublish(sig events.Signal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, sig)
	return true
}

func (s *signals) kinds() []events.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Kind
	for _, sig := range s.got {
		out = append(out, sig.Kind)
	}
	return out
}

type fixture struct {
	settings *conf.Settings
	db       *datastore.Store
	signals  *signals
	frames   *frames
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := datastore.OpenSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := conf.DefaultSettings()
	s.Detection.Timeout = 100 * time.Millisecond
	return &fixture{
		settings: s,
		db:       db,
		signals:  &signals{},
		frames:   &frames{img: solid(color.White)},
	}
}

func (f *fixture) engine() *enforcement.Engine {
	return enforcement.New(f.db.Locks(), f.db.Violations(), f.db.Whitelist(), func() detection.Policy {
		return detection.NewPolicy(f.settings.Lockout, f.settings.Tamper.Lockout)
	})
}

func (f *fixture) pipeline(ocr source.OCR, classifiers ...classifier.Classifier) *Pipeline {
	return New(Deps{
		Settings:    func() *conf.Settings { return f.settings },
		Frames:      f.frames,
		OCR:         ocr,
		Matcher:     keyword.New(),
		Classifiers: classifiers,
		Engine:      f.engine(),
		Signals:     f.signals,
	})
}

func TestRunMonitoringDisabled(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.settings.Monitoring.Enabled = false
	_, d := f.pipeline(source.StaticOCR("casino")).Run(t.Context(), "com.app")

	assert.Equal(t, enforcement.NoAction, d.Outcome)
	assert.Zero(t, f.frames.calls.Load())
}

func TestRunCleanFrame(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	visual := &fakeClassifier{name: "explicit", result: detection.NewResult(detection.CategoryExplicit, 0.2, 0.7, detection.WithDetector("explicit"))}
	summary, d := f.pipeline(source.StaticOCR("weather forecast"), visual).Run(t.Context(), "com.app")

	assert.False(t, summary.HasViolation)
	assert.Len(t, summary.Results, 2)
	assert.Equal(t, enforcement.NoAction, d.Outcome)
	assert.Empty(t, f.signals.kinds())
}

func TestRunMissingFrameFailsOpen(t *testing.T) {
	t.Parallel()

	for name, fr := range map[string]*frames{
		"nil frame":     {},
		"capture error": {err: errors.NewStd("truncated png")},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.frames = fr
			visual := &fakeClassifier{name: "explicit"}

			summary, d := f.pipeline(source.StaticOCR("casino"), visual).Run(t.Context(), "com.bank")
			assert.False(t, summary.HasViolation)
			assert.Empty(t, summary.Results)
			assert.Equal(t, enforcement.NoAction, d.Outcome)
			assert.Zero(t, visual.calls.Load(), "detectors skipped")
			assert.Empty(t, f.signals.kinds())

			lock, err := f.db.Locks().GetActiveLock(t.Context(), "com.bank", time.Now())
			require.NoError(t, err)
			assert.Nil(t, lock)
		})
	}
}

type slowFrames struct{}

func (slowFrames) Capture(ctx context.Context) (image.Image, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRunCaptureTimeoutFailsOpen(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.settings.Detection.Timeout = 30 * time.Millisecond
	p := f.pipeline(source.StaticOCR("casino"))
	p.deps.Frames = slowFrames{}

	start := time.Now()
	summary, d := p.Run(t.Context(), "com.app")
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, summary.HasViolation)
	assert.Equal(t, enforcement.NoAction, d.Outcome)
}

func TestRunBlackFrameIsObscured(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.frames = &frames{img: solid(color.Black)}
	visual := &fakeClassifier{name: "explicit"}

	summary, d := f.pipeline(source.StaticOCR("casino"), visual).Run(t.Context(), "com.bank")
	require.True(t, summary.HasViolation)
	assert.Equal(t, detection.CategoryObscured, summary.Highest.Category)
	assert.Zero(t, visual.calls.Load(), "visual detectors skipped")
	require.Equal(t, enforcement.AppLocked, d.Outcome, "err: %v", d.Err)
	assert.Equal(t, string(detection.CategoryObscured), d.Lock.Category)
}

func TestRunObscuredDisabled(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.frames = &frames{img: solid(color.Black)}
	f.settings.Detection.Enabled.Obscured = false
	summary, d := f.pipeline(nil).Run(t.Context(), "com.bank")
	assert.False(t, summary.HasViolation)
	assert.Equal(t, enforcement.NoAction, d.Outcome)
}

func TestRunVisualViolationKicksAndBlocks(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	visual := &fakeClassifier{name: "explicit", result: detection.NewResult(detection.CategoryExplicit, 0.91, 0.80, detection.WithDetector("explicit"))}
	_, d := f.pipeline(source.StaticOCR(""), visual).Run(t.Context(), "com.browser")

	require.Equal(t, enforcement.AppLocked, d.Outcome, "err: %v", d.Err)
	assert.Equal(t, []events.Kind{events.KindForceHome, events.KindShowBlock}, f.signals.kinds())

	f.signals.mu.Lock()
	block := f.signals.got[1]
	f.signals.mu.Unlock()
	assert.Equal(t, "com.browser", block.Package)
	assert.Equal(t, detection.CategoryExplicit, block.Category)
	assert.InDelta(t, (10 * time.Minute).Seconds(), block.Remaining.Seconds(), 5)
	assert.NotEmpty(t, block.TraceID)
}

func TestRunKeywordViolation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	summary, d := f.pipeline(source.StaticOCR("Play POKER tonight")).Run(t.Context(), "com.social")

	require.True(t, summary.HasViolation)
	assert.Equal(t, DetectorKeyword, summary.Highest.Detector)
	assert.Equal(t, detection.CategoryGambling, summary.Highest.Category)
	require.Equal(t, enforcement.AppLocked, d.Outcome)

	entries, err := f.db.Violations().ForPackage(t.Context(), "com.social", 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Detail, "poker")
}

func TestRunOCRTimeoutFailsOpen(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.settings.Detection.Timeout = 30 * time.Millisecond
	start := time.Now()
	summary, d := f.pipeline(blockingOCR{}).Run(t.Context(), "com.app")

	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, summary.HasViolation)
	assert.Equal(t, enforcement.NoAction, d.Outcome)
}

func TestRunDisabledCategoryIsDropped(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.settings.Detection.Enabled.Gambling = false
	summary, _ := f.pipeline(source.StaticOCR("casino")).Run(t.Context(), "com.app")
	assert.False(t, summary.HasViolation)
}

type failingDecider struct{ fail atomic.Bool }

func (d *failingDecider) Decide(_ context.Context, pkg, _ string, _ detection.Summary) enforcement.Decision {
	if d.fail.Load() {
		return enforcement.Decision{Outcome: enforcement.Failed, Package: pkg, Err: errors.NewStd("disk full")}
	}
	return enforcement.Decision{Outcome: enforcement.Whitelisted, Package: pkg}
}

func TestDegradedFlag(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	decider := &failingDecider{}
	decider.fail.Store(true)
	p := New(Deps{
		Settings: func() *conf.Settings { return f.settings },
		Matcher:  keyword.New(),
		Engine:   decider,
		Signals:  f.signals,
	})

	_, d := p.Analyze(t.Context(), "com.app", nil, "casino")
	assert.Equal(t, enforcement.Failed, d.Outcome)
	assert.True(t, p.Degraded())
	assert.NotContains(t, f.signals.kinds(), events.KindShowBlock)

	decider.fail.Store(false)
	_, d = p.Analyze(t.Context(), "com.app", nil, "casino")
	assert.Equal(t, enforcement.Whitelisted, d.Outcome)
	assert.False(t, p.Degraded())
}

func TestAnalyzeCancelledSkipsSignals(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, d := f.pipeline(nil).Analyze(ctx, "com.app", nil, "whiskey tasting")
	assert.Equal(t, enforcement.AppLocked, d.Outcome, "committed decision is not rolled back")
	assert.Empty(t, f.signals.kinds())
}

func TestAnalyzeSecondCycleAlreadyLocked(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p := f.pipeline(nil)
	_, first := p.Analyze(t.Context(), "com.app", nil, "casino")
	_, second := p.Analyze(t.Context(), "com.app", nil, "casino")

	assert.Equal(t, enforcement.AppLocked, first.Outcome)
	assert.Equal(t, enforcement.AlreadyLocked, second.Outcome)
	n, err := f.db.Violations().Count(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
