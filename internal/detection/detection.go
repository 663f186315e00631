// Package detection holds the content categories, per-detector results and
// the aggregation rule that turns one frame's results into a decision-ready
// summary.
package detection

import (
	"fmt"
	"strings"
	"time"
)

// Category is the closed set of things a detector can report.
type Category string

const (
	CategoryExplicit   Category = "explicit-content"
	CategoryIntoxicant Category = "intoxicant"
	CategoryGambling   Category = "gambling"
	CategoryBlasphemy  Category = "blasphemy"
	CategoryObscured   Category = "screen-obscured"
	CategoryUnknown    Category = "unknown"

	// CategoryTampering marks punitive locks from the anti-tamper guard.
	// It is never produced by a content detector.
	CategoryTampering Category = "tampering"
)

// ContentCategories lists the categories content detectors may report.
var ContentCategories = []Category{
	CategoryExplicit,
	CategoryIntoxicant,
	CategoryGambling,
	CategoryBlasphemy,
	CategoryObscured,
	CategoryUnknown,
}

var categoryAliases = map[string]Category{
	"explicit-content": CategoryExplicit,
	"explicit":         CategoryExplicit,
	"nsfw":             CategoryExplicit,
	"intoxicant":       CategoryIntoxicant,
	"intoxicants":      CategoryIntoxicant,
	"alcohol":          CategoryIntoxicant,
	"tobacco":          CategoryIntoxicant,
	"gambling":         CategoryGambling,
	"blasphemy":        CategoryBlasphemy,
	"anti_islamic":     CategoryBlasphemy,
	"anti-islamic":     CategoryBlasphemy,
	"screen-obscured":  CategoryObscured,
	"screen_blocked":   CategoryObscured,
	"obscured":         CategoryObscured,
	"unknown":          CategoryUnknown,
	"tampering":        CategoryTampering,
	"tamper":           CategoryTampering,
}

// ParseCategory maps a canonical name or legacy alias to a Category.
func ParseCategory(s string) (Category, bool) {
	c, ok := categoryAliases[strings.ToLower(strings.TrimSpace(s))]
	return c, ok
}

// String implements fmt.Stringer.
func (c Category) String() string {
	return string(c)
}

// BoundingBox is a normalized region, all values in [0,1].
type BoundingBox struct {
	X, Y, W, H float32
}

// Result is one detector's verdict on one frame. IsViolation is decided once
// in NewResult and never recomputed.
type Result struct {
	Category    Category
	Confidence  float32
	IsViolation bool
	Timestamp   time.Time
	Box         *BoundingBox
	Label       string
	Detector    string
}

// Option decorates a Result at creation.
type Option func(*Result)

// WithLabel attaches a human-readable label such as the matched keyword.
func WithLabel(label string) Option {
	return func(r *Result) { r.Label = label }
}

// WithBox attaches a bounding box.
func WithBox(box BoundingBox) Option {
	return func(r *Result) { r.Box = &box }
}

// WithDetector records which detector produced the result.
func WithDetector(name string) Option {
	return func(r *Result) { r.Detector = name }
}

// WithTimestamp overrides the creation time.
func WithTimestamp(ts time.Time) Option {
	return func(r *Result) { r.Timestamp = ts }
}

// NewResult builds a result. The violation flag uses a strict comparison:
// confidence equal to the threshold is not a violation.
func NewResult(category Category, confidence, threshold float32, opts ...Option) Result {
	confidence = clamp01(confidence)
	r := Result{
		Category:    category,
		Confidence:  confidence,
		IsViolation: confidence > threshold,
		Timestamp:   time.Now(),
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// NoViolation is the fail-open result a detector returns when it cannot
// produce a verdict.
func NoViolation(detector string) Result {
	return Result{
		Category:  CategoryUnknown,
		Timestamp: time.Now(),
		Detector:  detector,
	}
}

func (r Result) String() string {
	return fmt.Sprintf("%s(%.3f violation=%t)", r.Category, r.Confidence, r.IsViolation)
}

func clamp01(v float32) float32 {
	return min(max(v, 0), 1)
}
