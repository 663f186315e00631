package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics contains metrics for capture cycles and outbound signals.
// A nil *PipelineMetrics is valid and records nothing.
type PipelineMetrics struct {
	Cycles          *prometheus.CounterVec
	CycleDuration   prometheus.Histogram
	Detections      *prometheus.CounterVec
	SignalsSent     *prometheus.CounterVec
	SignalsDropped  *prometheus.CounterVec
	IntegrationSend *prometheus.CounterVec
}

// NewPipelineMetrics creates and registers pipeline metrics.
func NewPipelineMetrics(registry prometheus.Registerer) (*PipelineMetrics, error) {
	m := &PipelineMetrics{
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "haramshield_cycles_total",
			Help: "Capture cycles partitioned by result",
		}, []string{"result"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "haramshield_cycle_duration_seconds",
			Help:    "Time from capture to decision for one cycle",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 11), // 5ms to ~5s
		}),
		Detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "haramshield_violations_detected_total",
			Help: "Violating detector results partitioned by detector and category",
		}, []string{"detector", "category"}),
		SignalsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "haramshield_signals_published_total",
			Help: "Outbound signals published partitioned by kind",
		}, []string{"kind"}),
		SignalsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "haramshield_signals_dropped_total",
			Help: "Outbound signals dropped because the bus was full",
		}, []string{"kind"}),
		IntegrationSend: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "haramshield_integration_sends_total",
			Help: "Deliveries to MQTT and notification services",
		}, []string{"integration", "status"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

// RecordCycle records one finished cycle.
func (m *PipelineMetrics) RecordCycle(result string, seconds float64) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(result).Inc()
	m.CycleDuration.Observe(seconds)
}

// RecordDetection counts one violating detector result.
func (m *PipelineMetrics) RecordDetection(detector, category string) {
	if m == nil {
		return
	}
	m.Detections.WithLabelValues(detector, category).Inc()
}

// RecordSignal counts a published or dropped signal.
func (m *PipelineMetrics) RecordSignal(kind string, dropped bool) {
	if m == nil {
		return
	}
	if dropped {
		m.SignalsDropped.WithLabelValues(kind).Inc()
		return
	}
	m.SignalsSent.WithLabelValues(kind).Inc()
}

// RecordIntegration counts one delivery attempt to an external integration.
func (m *PipelineMetrics) RecordIntegration(integration string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.IntegrationSend.WithLabelValues(integration, status).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Cycles.Describe(ch)
	ch <- m.CycleDuration.Desc()
	m.Detections.Describe(ch)
	m.SignalsSent.Describe(ch)
	m.SignalsDropped.Describe(ch)
	m.IntegrationSend.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Cycles.Collect(ch)
	ch <- m.CycleDuration
	m.Detections.Collect(ch)
	m.SignalsSent.Collect(ch)
	m.SignalsDropped.Collect(ch)
	m.IntegrationSend.Collect(ch)
}
