// Package metrics provides custom Prometheus metrics for HaramShield components.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// ClassifierMetrics contains Prometheus metrics for the visual classifiers.
// A nil *ClassifierMetrics is valid and records nothing.
type ClassifierMetrics struct {
	InferenceDuration *prometheus.HistogramVec
	InferenceTotal    *prometheus.CounterVec
	FailOpenTotal     *prometheus.CounterVec
	ModelLoaded       *prometheus.GaugeVec
}

// NewClassifierMetrics creates and registers classifier metrics.
func NewClassifierMetrics(registry prometheus.Registerer) (*ClassifierMetrics, error) {
	m := &ClassifierMetrics{
		InferenceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "haramshield_classifier_inference_duration_seconds",
			Help:    "Time taken for one classifier inference",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		}, []string{"classifier"}),
		InferenceTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "haramshield_classifier_inferences_total",
			Help: "Total number of classifier inferences",
		}, []string{"classifier", "status"}),
		FailOpenTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "haramshield_classifier_fail_open_total",
			Help: "Inferences that failed open to no violation",
		}, []string{"classifier", "reason"}),
		ModelLoaded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "haramshield_classifier_model_loaded",
			Help: "Whether the classifier model is loaded (1) or not (0)",
		}, []string{"classifier"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register classifier metrics: %w", err)
	}
	return m, nil
}

// RecordInference records a completed inference.
func (m *ClassifierMetrics) RecordInference(classifier string, seconds float64, violation bool) {
	if m == nil {
		return
	}
	status := "clean"
	if violation {
		status = "violation"
	}
	m.InferenceTotal.WithLabelValues(classifier, status).Inc()
	m.InferenceDuration.WithLabelValues(classifier).Observe(seconds)
}

// RecordFailOpen records an inference that returned no violation because of a failure.
func (m *ClassifierMetrics) RecordFailOpen(classifier, reason string) {
	if m == nil {
		return
	}
	m.InferenceTotal.WithLabelValues(classifier, "failed").Inc()
	m.FailOpenTotal.WithLabelValues(classifier, reason).Inc()
}

// SetModelLoaded flags whether a classifier has a usable model.
func (m *ClassifierMetrics) SetModelLoaded(classifier string, loaded bool) {
	if m == nil {
		return
	}
	m.ModelLoaded.WithLabelValues(classifier).Set(boolToFloat(loaded))
}

// Describe implements the prometheus.Collector interface.
func (m *ClassifierMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.InferenceDuration.Describe(ch)
	m.InferenceTotal.Describe(ch)
	m.FailOpenTotal.Describe(ch)
	m.ModelLoaded.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *ClassifierMetrics) Collect(ch chan<- prometheus.Metric) {
	m.InferenceDuration.Collect(ch)
	m.InferenceTotal.Collect(ch)
	m.FailOpenTotal.Collect(ch)
	m.ModelLoaded.Collect(ch)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
