package classifier

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haramshield/haramshield-go/internal/detection"
	"github.com/haramshield/haramshield-go/internal/errors"
	"github.com/haramshield/haramshield-go/internal/observability/metrics"
)

type fakeModel struct {
	w, h    int
	out     []float32
	err     error
	block   chan struct{}
	panics  bool
	closed  atomic.Bool
	lastLen atomic.Int64
	calls   atomic.Int64
}

func (f *fakeModel) InputSize() (int, int) { return f.w, f.h }

func (f *fakeModel) Infer(input []float32) ([]float32, error) {
	f.lastLen.Store(int64(len(input)))
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	if f.panics {
		panic("boom")
	}
	return f.out, f.err
}

func (f *fakeModel) Close() { f.closed.Store(true) }

func fixed(v float32) ThresholdFunc { return func() float32 { return v } }

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	return img
}

var white = color.RGBA{255, 255, 255, 255}

func TestExplicitCompositeScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		out       []float32
		threshold float32
		violation bool
		label     string
	}{
		// hentai 0.2 + porn 0.5 + sexy 0.21 = 0.91
		{"composite above threshold", []float32{0.05, 0.2, 0.04, 0.5, 0.21}, 0.80, true, "porn"},
		{"composite equal is not a violation", []float32{0.3, 0.25, 0.25, 0.25, 0.0}, 0.50, false, "hentai"},
		{"neutral frame", []float32{0.1, 0.0, 0.9, 0.0, 0.0}, 0.70, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := &fakeModel{w: 8, h: 8, out: tt.out}
			c := New("explicit", ExplicitLayout{}, m, fixed(tt.threshold))

			r, scores := c.Classify(t.Context(), solid(16, 16, white))
			assert.Equal(t, detection.CategoryExplicit, r.Category)
			assert.Equal(t, tt.violation, r.IsViolation)
			assert.Equal(t, tt.label, r.Label)
			assert.Equal(t, "explicit", r.Detector)
			assert.Equal(t, Scores(tt.out), scores)
			assert.Equal(t, int64(8*8*3), m.lastLen.Load())
		})
	}
}

func TestFailOpen(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	cm, err := metrics.NewClassifierMetrics(reg)
	require.NoError(t, err)

	frame := solid(16, 16, white)

	t.Run("nil model", func(t *testing.T) {
		c := New("nil-model", ExplicitLayout{}, nil, fixed(0.5), WithMetrics(cm))
		r, scores := c.Classify(t.Context(), frame)
		assert.False(t, r.IsViolation)
		assert.Nil(t, scores)
		assert.False(t, c.Loaded())
	})

	t.Run("invoke error", func(t *testing.T) {
		c := New("invoke", ExplicitLayout{}, &fakeModel{w: 4, h: 4, err: errors.NewStd("bad")}, fixed(0.5), WithMetrics(cm))
		r, _ := c.Classify(t.Context(), frame)
		assert.False(t, r.IsViolation)
		assert.InDelta(t, 1, testutil.ToFloat64(cm.FailOpenTotal.WithLabelValues("invoke", reasonInvoke)), 0)
	})

	t.Run("shape mismatch", func(t *testing.T) {
		c := New("shape", ExplicitLayout{}, &fakeModel{w: 4, h: 4, out: []float32{1, 0}}, fixed(0.5), WithMetrics(cm))
		r, _ := c.Classify(t.Context(), frame)
		assert.False(t, r.IsViolation)
		assert.InDelta(t, 1, testutil.ToFloat64(cm.FailOpenTotal.WithLabelValues("shape", reasonShape)), 0)
	})

	t.Run("panic", func(t *testing.T) {
		c := New("panic", ExplicitLayout{}, &fakeModel{w: 4, h: 4, panics: true}, fixed(0.5), WithMetrics(cm))
		var r detection.Result
		require.NotPanics(t, func() { r, _ = c.Classify(t.Context(), frame) })
		assert.False(t, r.IsViolation)
	})

	t.Run("nil frame", func(t *testing.T) {
		c := New("frame", ExplicitLayout{}, &fakeModel{w: 4, h: 4}, fixed(0.5))
		r, _ := c.Classify(t.Context(), nil)
		assert.False(t, r.IsViolation)
	})
}

func TestClassifyTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	m := &fakeModel{w: 4, h: 4, out: []float32{0, 1, 0, 0, 0}, block: release}
	c := New("slow", ExplicitLayout{}, m, fixed(0.1), WithTimeout(20*time.Millisecond))

	start := time.Now()
	r, scores := c.Classify(t.Context(), solid(8, 8, white))
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, r.IsViolation, "a timed out inference must fail open")
	assert.Nil(t, scores)

	close(release)
	// Swap waits for the abandoned inference to release the model
	c.Swap(nil)
	assert.True(t, m.closed.Load())
}

func TestClassifyHungModelRunsOneInference(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	m := &fakeModel{w: 4, h: 4, out: []float32{0, 1, 0, 0, 0}, block: release}
	reg := prometheus.NewRegistry()
	cm, err := metrics.NewClassifierMetrics(reg)
	require.NoError(t, err)
	c := New("hung", ExplicitLayout{}, m, fixed(0.1), WithTimeout(10*time.Millisecond), WithMetrics(cm))

	for range 5 {
		r, _ := c.Classify(t.Context(), solid(8, 8, white))
		assert.False(t, r.IsViolation)
	}
	require.Eventually(t, func() bool { return m.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), m.calls.Load(), "later cycles must not queue behind the hung inference")
	assert.InDelta(t, 1, testutil.ToFloat64(cm.FailOpenTotal.WithLabelValues("hung", reasonTimeout)), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(cm.FailOpenTotal.WithLabelValues("hung", reasonBusy)), 0)

	close(release)
	require.Eventually(t, func() bool { return !c.inflight.Load() }, time.Second, 5*time.Millisecond)

	r, _ := c.Classify(t.Context(), solid(8, 8, white))
	assert.True(t, r.IsViolation, "a released model serves the next frame")
	assert.Equal(t, int64(2), m.calls.Load())
	c.Close()
}

func TestClassifyCancelled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	m := &fakeModel{w: 4, h: 4, out: []float32{0, 1, 0, 0, 0}, block: release}
	c := New("cancel", ExplicitLayout{}, m, fixed(0.1))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	r, _ := c.Classify(ctx, solid(8, 8, white))
	assert.False(t, r.IsViolation)

	close(release)
	c.Close()
}

func TestSwapUsesNewModel(t *testing.T) {
	t.Parallel()

	first := &fakeModel{w: 4, h: 4, out: []float32{0, 0, 1, 0, 0}}
	c := New("swap", ExplicitLayout{}, first, fixed(0.5))

	r, _ := c.Classify(t.Context(), solid(8, 8, white))
	assert.False(t, r.IsViolation)

	c.Swap(&fakeModel{w: 4, h: 4, out: []float32{0, 0, 0, 1, 0}})
	assert.True(t, first.closed.Load())

	r, _ = c.Classify(t.Context(), solid(8, 8, white))
	assert.True(t, r.IsViolation)
}

func TestLiveThreshold(t *testing.T) {
	t.Parallel()

	var threshold atomic.Value
	threshold.Store(float32(0.9))
	c := New("live", ExplicitLayout{}, &fakeModel{w: 4, h: 4, out: []float32{0, 0, 0, 0.85, 0}},
		func() float32 { return threshold.Load().(float32) })

	r, _ := c.Classify(t.Context(), solid(8, 8, white))
	assert.False(t, r.IsViolation)

	threshold.Store(float32(0.8))
	r, _ = c.Classify(t.Context(), solid(8, 8, white))
	assert.True(t, r.IsViolation)
}

func TestLabelLayout(t *testing.T) {
	t.Parallel()

	l := NewLabelLayout([]string{"person", "Bottle", "wine glass", "dog"}, DefaultObjectTargets)
	assert.Equal(t, 4, l.Classes())

	cat, score, label := l.Score([]float32{0.9, 0.4, 0.7, 0.1})
	assert.Equal(t, detection.CategoryIntoxicant, cat)
	assert.InDelta(t, 0.7, score, 1e-6)
	assert.Equal(t, "wine glass", label)

	cat, score, _ = l.Score([]float32{0.9, 0, 0, 0.1})
	assert.Equal(t, detection.CategoryUnknown, cat)
	assert.Zero(t, score)
}

func TestLoadLabels(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "labels.txt")
	require.NoError(t, os.WriteFile(path, []byte("person\n\n bottle \ncup\n"), 0o600))

	labels, err := LoadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"person", "bottle", "cup"}, labels)

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	_, err = LoadLabels(empty)
	require.Error(t, err)

	_, err = LoadLabels(filepath.Join(dir, "missing.txt"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryLabelLoad))
}

func TestLoadTFLiteModelMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadTFLiteModel(filepath.Join(t.TempDir(), "missing.tflite"), "explicit-5class", 1)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryModelLoad))
}
