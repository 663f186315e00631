// Package classifier runs fixed-purpose single-frame image models and turns
// their output into detection results. Every failure fails open: the caller
// gets a no-violation result and the failure is logged.
package classifier

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haramshield/haramshield-go/internal/detection"
	"github.com/haramshield/haramshield-go/internal/errors"
	"github.com/haramshield/haramshield-go/internal/logger"
	"github.com/haramshield/haramshield-go/internal/observability/metrics"
)

// Scores are the raw model probabilities for one frame. Nil when the
// classifier failed open.
type Scores []float32

// Classifier maps a frame to a detection result.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, img image.Image) (detection.Result, Scores)
}

// Model is a loaded inference model taking NHWC float32 RGB input.
type Model interface {
	InputSize() (width, height int)
	Infer(input []float32) ([]float32, error)
	Close()
}

// ThresholdFunc returns the live violation threshold.
type ThresholdFunc func() float32

// Fail-open reasons reported to metrics.
const (
	reasonNoModel   = "no-model"
	reasonNoFrame   = "no-frame"
	reasonTimeout   = "timeout"
	reasonCancelled = "cancelled"
	reasonInvoke    = "invoke"
	reasonShape     = "shape"
	reasonPanic     = "panic"
	reasonBusy      = "busy"
)

// Option configures a ModelClassifier.
type Option func(*ModelClassifier)

// WithTimeout bounds a single inference. Zero means no bound beyond ctx.
func WithTimeout(d time.Duration) Option {
	return func(c *ModelClassifier) { c.timeout = d }
}

// WithMetrics attaches classifier metrics.
func WithMetrics(m *metrics.ClassifierMetrics) Option {
	return func(c *ModelClassifier) { c.metrics = m }
}

// ModelClassifier is one classifier instance backed by one model. The model
// may be nil, in which case every frame fails open.
type ModelClassifier struct {
	name      string
	layout    Layout
	threshold ThresholdFunc
	timeout   time.Duration
	metrics   *metrics.ClassifierMetrics
	log       logger.Logger

	mu    sync.Mutex // serialises inference and guards model
	model Model

	// inflight is set while an inference goroutine exists, including one
	// abandoned by a timed out caller. At most one runs per classifier.
	inflight atomic.Bool
}

// New creates a classifier. A nil model is allowed.
func New(name string, layout Layout, model Model, threshold ThresholdFunc, opts ...Option) *ModelClassifier {
	c := &ModelClassifier{
		name:      name,
		layout:    layout,
		model:     model,
		threshold: threshold,
		log:       GetLogger().With(logger.String("classifier", name)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.metrics.SetModelLoaded(name, model != nil)
	return c
}

var _ Classifier = (*ModelClassifier)(nil)

// Name implements Classifier.
func (c *ModelClassifier) Name() string { return c.name }

// Family names the output layout the model must match.
func (c *ModelClassifier) Family() string { return c.layout.Family() }

// Loaded reports whether a model is present.
func (c *ModelClassifier) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model != nil
}

// Swap replaces the model and closes the previous one. It waits for any
// running inference to finish.
func (c *ModelClassifier) Swap(model Model) {
	c.mu.Lock()
	old := c.model
	c.model = model
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	c.metrics.SetModelLoaded(c.name, model != nil)
	c.log.Info("model swapped", logger.Bool("loaded", model != nil))
}

// Close releases the model.
func (c *ModelClassifier) Close() {
	c.Swap(nil)
}

type inference struct {
	scores Scores
	reason string
	err    error
}

// Classify implements Classifier. The violation flag is decided once, with a
// strict comparison against the live threshold.
func (c *ModelClassifier) Classify(ctx context.Context, img image.Image) (detection.Result, Scores) {
	if img == nil {
		return c.failOpen(reasonNoFrame, nil), nil
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if !c.inflight.CompareAndSwap(false, true) {
		return c.failOpen(reasonBusy, errors.NewStd("previous inference still running")), nil
	}

	start := time.Now()
	done := make(chan inference, 1)
	go func() {
		defer c.inflight.Store(false)
		defer func() {
			if r := recover(); r != nil {
				done <- inference{reason: reasonPanic, err: fmt.Errorf("inference panic: %v", r)}
			}
		}()
		done <- c.infer(img)
	}()

	var out inference
	select {
	case <-ctx.Done():
		reason := reasonCancelled
		if ctx.Err() == context.DeadlineExceeded {
			reason = reasonTimeout
		}
		return c.failOpen(reason, ctx.Err()), nil
	case out = <-done:
	}
	if out.err != nil {
		return c.failOpen(out.reason, out.err), nil
	}

	category, score, label := c.layout.Score(out.scores)
	r := detection.NewResult(category, score, c.threshold(),
		detection.WithLabel(label),
		detection.WithDetector(c.name))

	elapsed := time.Since(start)
	c.metrics.RecordInference(c.name, elapsed.Seconds(), r.IsViolation)
	c.log.Trace("classified frame",
		logger.String("category", string(r.Category)),
		logger.Float32("score", r.Confidence),
		logger.Bool("violation", r.IsViolation),
		logger.Duration("elapsed", elapsed))

	return r, out.scores
}

func (c *ModelClassifier) infer(img image.Image) inference {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.model == nil {
		return inference{reason: reasonNoModel, err: errors.NewStd("model not loaded")}
	}

	w, h := c.model.InputSize()
	probs, err := c.model.Infer(Preprocess(img, w, h))
	if err != nil {
		return inference{reason: reasonInvoke, err: err}
	}
	if n := c.layout.Classes(); n > 0 && len(probs) != n {
		return inference{reason: reasonShape, err: fmt.Errorf("model returned %d classes, layout %s expects %d", len(probs), c.layout.Family(), n)}
	}
	return inference{scores: probs}
}

func (c *ModelClassifier) failOpen(reason string, err error) detection.Result {
	c.metrics.RecordFailOpen(c.name, reason)
	if reason == reasonNoModel || reason == reasonNoFrame {
		c.log.Debug("classifier skipped", logger.String("reason", reason))
	} else {
		c.log.Warn("classifier failed open",
			logger.String("reason", reason),
			logger.Error(errors.New(err).
				Component("classifier").
				Category(errors.CategoryInference).
				Context("classifier", c.name).
				Build()))
	}
	return detection.NoViolation(c.name)
}
