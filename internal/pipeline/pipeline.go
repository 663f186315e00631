// Package pipeline runs one capture, classify and decide cycle for the
// package in focus.
package pipeline

import (
	"context"
	"image"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/haramshield/haramshield-go/internal/classifier"
	"github.com/haramshield/haramshield-go/internal/conf"
	"github.com/haramshield/haramshield-go/internal/detection"
	"github.com/haramshield/haramshield-go/internal/enforcement"
	"github.com/haramshield/haramshield-go/internal/events"
	"github.com/haramshield/haramshield-go/internal/keyword"
	"github.com/haramshield/haramshield-go/internal/logger"
	"github.com/haramshield/haramshield-go/internal/observability/metrics"
	"github.com/haramshield/haramshield-go/internal/source"
)

// Detector names that are not visual models.
const (
	DetectorKeyword  = "keyword"
	DetectorObscured = "obscured"
)

// Cycle results reported to metrics.
const (
	resultSkipped   = "skipped"
	resultClean     = "clean"
	resultViolation = "violation"
	resultFailed    = "failed"
	resultNoFrame   = "no-frame"
)

// Decider applies a summary to a package. enforcement.Engine implements it.
type Decider interface {
	Decide(ctx context.Context, pkg, appLabel string, summary detection.Summary) enforcement.Decision
}

// TextMatcher finds prohibited keywords. keyword.Matcher implements it.
type TextMatcher interface {
	Match(text string) (keyword.Match, bool)
}

// Deps are the collaborators of a Pipeline. Frames, OCR and Matcher may be
// nil, which disables the corresponding stage.
type Deps struct {
	Settings    func() *conf.Settings
	Frames      source.FrameSource
	OCR         source.OCR
	Matcher     TextMatcher
	Classifiers []classifier.Classifier
	Engine      Decider
	Signals     events.Publisher
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records cycle outcomes.
func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithAppLabels resolves a package name to a display label for log entries.
func WithAppLabels(fn func(pkg string) string) Option {
	return func(p *Pipeline) { p.appLabel = fn }
}

// Pipeline is safe for concurrent use; per-package serialisation happens in
// the decision engine.
type Pipeline struct {
	deps     Deps
	models   map[string]bool // detector names of visual models
	appLabel func(string) string
	metrics  *metrics.PipelineMetrics
	log      logger.Logger

	degraded atomic.Bool
}

// New creates a pipeline.
func New(deps Deps, opts ...Option) *Pipeline {
	if deps.Signals == nil {
		deps.Signals = events.Discard{}
	}
	p := &Pipeline{
		deps:     deps,
		models:   make(map[string]bool, len(deps.Classifiers)),
		appLabel: func(pkg string) string { return pkg },
		log:      GetLogger(),
	}
	for _, c := range deps.Classifiers {
		p.models[c.Name()] = true
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Degraded reports whether the last decision failed to persist. Surrounding
// UI shows a generic "protection may be degraded" notice while it is set.
func (p *Pipeline) Degraded() bool {
	return p.degraded.Load()
}

// Run captures a frame for pkg and processes it.
func (p *Pipeline) Run(ctx context.Context, pkg string) (detection.Summary, enforcement.Decision) {
	settings := p.deps.Settings()
	if !settings.Monitoring.Enabled {
		return p.skip(pkg)
	}

	ctx, log, traceID := p.trace(ctx, pkg)
	start := time.Now()

	frame, ok := p.capture(ctx, log, settings.Detection.Timeout)
	if !ok {
		p.metrics.RecordCycle(resultNoFrame, time.Since(start).Seconds())
		return detection.Summary{Latency: time.Since(start)}, enforcement.Decision{Outcome: enforcement.NoAction, Package: pkg}
	}
	var results []detection.Result
	if classifier.Obscured(frame) {
		results = []detection.Result{p.obscured(settings)}
	} else {
		results = p.detect(ctx, settings, frame, "", false)
	}
	return p.finish(ctx, log, traceID, pkg, settings, results, start)
}

// Analyze processes a caller-supplied frame and text, as a manual check. A
// nil img skips the visual detectors; text is matched as-is.
func (p *Pipeline) Analyze(ctx context.Context, pkg string, img image.Image, text string) (detection.Summary, enforcement.Decision) {
	settings := p.deps.Settings()
	ctx, log, traceID := p.trace(ctx, pkg)
	start := time.Now()

	var results []detection.Result
	if img != nil && classifier.Obscured(img) {
		results = []detection.Result{p.obscured(settings)}
	} else {
		results = p.detect(ctx, settings, img, text, true)
	}
	return p.finish(ctx, log, traceID, pkg, settings, results, start)
}

func (p *Pipeline) trace(ctx context.Context, pkg string) (context.Context, logger.Logger, string) {
	id := uuid.NewString()
	ctx = logger.WithTraceID(ctx, id)
	return ctx, p.log.WithContext(ctx).With(logger.String("package", pkg)), id
}

func (p *Pipeline) skip(pkg string) (detection.Summary, enforcement.Decision) {
	p.metrics.RecordCycle(resultSkipped, 0)
	return detection.Summary{}, enforcement.Decision{Outcome: enforcement.NoAction, Package: pkg}
}

// capture returns false when no usable frame was read. The cycle is then
// skipped: a half-written or missing screenshot is not evidence of anything.
func (p *Pipeline) capture(ctx context.Context, log logger.Logger, timeout time.Duration) (image.Image, bool) {
	if p.deps.Frames == nil {
		return nil, false
	}
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	frame, err := p.deps.Frames.Capture(ctx)
	if err != nil {
		log.Debug("frame capture failed, cycle skipped", logger.Error(err))
		return nil, false
	}
	if frame == nil {
		log.Debug("no frame captured, cycle skipped")
		return nil, false
	}
	return frame, true
}

func (p *Pipeline) obscured(settings *conf.Settings) detection.Result {
	return detection.NewResult(detection.CategoryObscured, 1.0, settings.Detection.Thresholds.Obscured,
		detection.WithDetector(DetectorObscured),
		detection.WithLabel("screen unreadable"))
}

// detect fans the frame out to every visual classifier and the text
// detector and joins them. Each branch is bounded and fails open, so a
// branch never returns an error to the group.
func (p *Pipeline) detect(ctx context.Context, settings *conf.Settings, img image.Image, text string, haveText bool) []detection.Result {
	timeout := settings.Detection.Timeout
	results := make([]detection.Result, len(p.deps.Classifiers)+1)

	var g errgroup.Group
	if img != nil {
		for i, c := range p.deps.Classifiers {
			g.Go(func() error {
				cctx, cancel := withTimeout(ctx, timeout)
				defer cancel()
				results[i], _ = c.Classify(cctx, img)
				return nil
			})
		}
	}
	g.Go(func() error {
		results[len(results)-1] = p.matchText(ctx, settings, img, text, haveText)
		return nil
	})
	_ = g.Wait()

	// classifiers skipped for a nil frame leave zero results
	return slices.DeleteFunc(results, func(r detection.Result) bool { return r.Detector == "" })
}

func (p *Pipeline) matchText(ctx context.Context, settings *conf.Settings, img image.Image, text string, haveText bool) detection.Result {
	if p.deps.Matcher == nil {
		return detection.NoViolation(DetectorKeyword)
	}
	if !haveText {
		text = p.recognize(ctx, settings.Detection.Timeout, img)
	}
	m, ok := p.deps.Matcher.Match(text)
	if !ok {
		return detection.NoViolation(DetectorKeyword)
	}
	threshold := detection.ThresholdsFrom(settings.Detection.Thresholds).For(m.Category)
	return detection.NewResult(m.Category, 1.0, threshold,
		detection.WithDetector(DetectorKeyword),
		detection.WithLabel(m.Label()))
}

// recognize fails open to no text.
func (p *Pipeline) recognize(ctx context.Context, timeout time.Duration, img image.Image) string {
	if p.deps.OCR == nil || img == nil {
		return ""
	}
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	type ocrResult struct {
		text string
		err  error
	}
	done := make(chan ocrResult, 1)
	go func() {
		text, err := p.deps.OCR.Recognize(ctx, img)
		done <- ocrResult{text, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			p.log.Debug("text recognition failed", logger.Error(r.err))
			return ""
		}
		return r.text
	case <-ctx.Done():
		p.log.Debug("text recognition timed out", logger.Error(ctx.Err()))
		return ""
	}
}

func (p *Pipeline) finish(ctx context.Context, log logger.Logger, traceID, pkg string, settings *conf.Settings, results []detection.Result, start time.Time) (detection.Summary, enforcement.Decision) {
	results = detection.EnabledFrom(settings.Detection.Enabled).Filter(results)
	summary := detection.Aggregate(results, time.Since(start))

	if !summary.HasViolation {
		p.metrics.RecordCycle(resultClean, summary.Latency.Seconds())
		log.Trace("cycle clean", logger.Duration("latency", summary.Latency))
		return summary, enforcement.Decision{Outcome: enforcement.NoAction, Package: pkg}
	}

	for _, r := range summary.Results {
		if r.IsViolation {
			p.metrics.RecordDetection(r.Detector, string(r.Category))
		}
	}

	if p.critical(summary, settings.Detection.CriticalConfidence) {
		p.publish(ctx, events.ForceHome(pkg, "critical").WithTrace(traceID))
	}

	d := p.deps.Engine.Decide(ctx, pkg, p.appLabel(pkg), summary)
	switch d.Outcome {
	case enforcement.AppLocked, enforcement.AlreadyLocked:
		p.degraded.Store(false)
		p.publish(ctx, events.ShowBlock(pkg, d.RemainingAtDecision(), detection.Category(d.Lock.Category)).WithTrace(traceID))
	case enforcement.Failed:
		if !p.degraded.Swap(true) {
			log.Warn("protection degraded", logger.Error(d.Err))
		}
		p.metrics.RecordCycle(resultFailed, time.Since(start).Seconds())
		return summary, d
	default:
		p.degraded.Store(false)
	}

	p.metrics.RecordCycle(resultViolation, time.Since(start).Seconds())
	log.Info("violation handled",
		logger.String("outcome", d.Outcome.String()),
		logger.String("category", string(summary.Highest.Category)),
		logger.Float32("confidence", summary.Highest.Confidence),
		logger.String("detector", summary.Highest.Detector),
		logger.Any("categories", summary.Categories()))
	return summary, d
}

// critical reports whether the user must be sent home before the decision:
// a visual model fired, or any detector is nearly certain.
func (p *Pipeline) critical(s detection.Summary, criticalConfidence float32) bool {
	if s.Highest != nil && s.Highest.Confidence >= criticalConfidence {
		return true
	}
	for _, r := range s.Results {
		if r.IsViolation && p.models[r.Detector] {
			return true
		}
	}
	return false
}

// publish drops UI signals of a cancelled cycle; the decision itself has
// already been committed.
func (p *Pipeline) publish(ctx context.Context, s events.Signal) {
	if ctx.Err() != nil {
		return
	}
	p.deps.Signals.TryPublish(s)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
