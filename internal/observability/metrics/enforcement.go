package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// EnforcementMetrics contains metrics for lock decisions and the guard subsystem.
// A nil *EnforcementMetrics is valid and records nothing.
type EnforcementMetrics struct {
	Decisions        *prometheus.CounterVec
	LocksCreated     *prometheus.CounterVec
	TamperAttempts   prometheus.Counter
	SnoozeActive     prometheus.Gauge
	ExpiredSwept     prometheus.Counter
	ViolationsPruned prometheus.Counter
}

// NewEnforcementMetrics creates and registers enforcement metrics.
func NewEnforcementMetrics(registry prometheus.Registerer) (*EnforcementMetrics, error) {
	m := &EnforcementMetrics{
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "haramshield_decisions_total",
			Help: "Enforcement decisions partitioned by outcome",
		}, []string{"outcome"}),
		LocksCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "haramshield_locks_created_total",
			Help: "Locks written partitioned by category",
		}, []string{"category"}),
		TamperAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "haramshield_tamper_attempts_total",
			Help: "Tamper attempts detected since start",
		}),
		SnoozeActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "haramshield_snooze_active",
			Help: "Whether a snooze window is active (1) or not (0)",
		}),
		ExpiredSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "haramshield_locks_swept_total",
			Help: "Expired lock records removed by the janitor",
		}),
		ViolationsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "haramshield_violations_pruned_total",
			Help: "Violation log entries removed by retention",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register enforcement metrics: %w", err)
	}
	return m, nil
}

// RecordDecision counts one decision outcome.
func (m *EnforcementMetrics) RecordDecision(outcome string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(outcome).Inc()
}

// RecordLock counts one lock write.
func (m *EnforcementMetrics) RecordLock(category string) {
	if m == nil {
		return
	}
	m.LocksCreated.WithLabelValues(category).Inc()
}

// RecordTamper counts one tamper attempt.
func (m *EnforcementMetrics) RecordTamper() {
	if m == nil {
		return
	}
	m.TamperAttempts.Inc()
}

// SetSnoozed mirrors the snooze state.
func (m *EnforcementMetrics) SetSnoozed(active bool) {
	if m == nil {
		return
	}
	m.SnoozeActive.Set(boolToFloat(active))
}

// RecordJanitor adds the rows removed by one retention run.
func (m *EnforcementMetrics) RecordJanitor(swept, pruned int64) {
	if m == nil {
		return
	}
	m.ExpiredSwept.Add(float64(swept))
	m.ViolationsPruned.Add(float64(pruned))
}

// Describe implements the prometheus.Collector interface.
func (m *EnforcementMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Decisions.Describe(ch)
	m.LocksCreated.Describe(ch)
	ch <- m.TamperAttempts.Desc()
	ch <- m.SnoozeActive.Desc()
	ch <- m.ExpiredSwept.Desc()
	ch <- m.ViolationsPruned.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *EnforcementMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Decisions.Collect(ch)
	m.LocksCreated.Collect(ch)
	ch <- m.TamperAttempts
	ch <- m.SnoozeActive
	ch <- m.ExpiredSwept
	ch <- m.ViolationsPruned
}
