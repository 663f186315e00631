// Package retention keeps the lock table and the violation log bounded:
// expired locks are swept and old log entries pruned on cron schedules.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haramshield/haramshield-go/internal/conf"
	"github.com/haramshield/haramshield-go/internal/errors"
	"github.com/haramshield/haramshield-go/internal/logger"
	"github.com/haramshield/haramshield-go/internal/observability/metrics"
)

// LockSweeper deletes expired locks.
type LockSweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

// ViolationPruner deletes log entries older than a cutoff.
type ViolationPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Janitor runs the sweep and prune jobs.
type Janitor struct {
	locks      LockSweeper
	violations ViolationPruner
	settings   func() conf.RetentionSettings
	metrics    *metrics.EnforcementMetrics
	now        func() time.Time
	log        logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// Option configures a Janitor.
type Option func(*Janitor)

// WithMetrics records removed rows.
func WithMetrics(m *metrics.EnforcementMetrics) Option {
	return func(j *Janitor) { j.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(j *Janitor) { j.now = now }
}

// New creates a stopped janitor.
func New(locks LockSweeper, violations ViolationPruner, settings func() conf.RetentionSettings, opts ...Option) *Janitor {
	j := &Janitor{
		locks:      locks,
		violations: violations,
		settings:   settings,
		now:        time.Now,
		log:        GetLogger(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Start runs both jobs once, then schedules them. Jobs run with ctx, so
// cancelling it makes in-flight jobs fail fast; call Stop to end the
// schedule.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return nil
	}
	cfg := j.settings()

	c := cron.New(
		cron.WithLogger(cronLogger{j.log}),
		cron.WithChain(cron.Recover(cronLogger{j.log}), cron.SkipIfStillRunning(cronLogger{j.log})),
	)
	jobs := []struct {
		name     string
		schedule string
		run      func(context.Context) (int64, error)
	}{
		{"sweep-expired-locks", cfg.SweepSchedule, j.Sweep},
		{"prune-violations", cfg.PruneSchedule, j.Prune},
	}
	for _, job := range jobs {
		if job.schedule == "" {
			j.log.Info("retention job disabled", logger.String("job", job.name))
			continue
		}
		if _, err := c.AddFunc(job.schedule, func() { j.runJob(ctx, job.name, job.run) }); err != nil {
			return errors.New(fmt.Errorf("invalid schedule %q for %s: %w", job.schedule, job.name, err)).
				Component("retention").
				Category(errors.CategoryConfiguration).
				Build()
		}
	}

	// catch up on anything that expired while the agent was down
	for _, job := range jobs {
		j.runJob(ctx, job.name, job.run)
	}

	c.Start()
	j.cron, j.running = c, true
	j.log.Info("retention janitor started",
		logger.String("sweep_schedule", cfg.SweepSchedule),
		logger.String("prune_schedule", cfg.PruneSchedule),
		logger.Duration("violation_retention", cfg.Violations))
	return nil
}

// Stop ends the schedule and waits for running jobs.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.running {
		return
	}
	<-j.cron.Stop().Done()
	j.running = false
	j.log.Info("retention janitor stopped")
}

// Running reports whether the schedule is active.
func (j *Janitor) Running() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// NextRun returns the earliest upcoming job time, or zero when stopped.
func (j *Janitor) NextRun() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()

	var next time.Time
	if !j.running {
		return next
	}
	for _, e := range j.cron.Entries() {
		if next.IsZero() || e.Next.Before(next) {
			next = e.Next
		}
	}
	return next
}

// Sweep deletes locks whose end time has passed.
func (j *Janitor) Sweep(ctx context.Context) (int64, error) {
	n, err := j.locks.SweepExpired(ctx, j.now())
	if err == nil {
		j.metrics.RecordJanitor(n, 0)
	}
	return n, err
}

// Prune deletes violation log entries older than the retention window. A
// non-positive window keeps everything.
func (j *Janitor) Prune(ctx context.Context) (int64, error) {
	keep := j.settings().Violations
	if keep <= 0 {
		return 0, nil
	}
	n, err := j.violations.DeleteOlderThan(ctx, j.now().Add(-keep))
	if err == nil {
		j.metrics.RecordJanitor(0, n)
	}
	return n, err
}

func (j *Janitor) runJob(ctx context.Context, name string, run func(context.Context) (int64, error)) {
	n, err := run(ctx)
	if err != nil {
		j.log.Error("retention job failed", logger.String("job", name), logger.Error(err))
		return
	}
	if n > 0 {
		j.log.Info("retention job completed", logger.String("job", name), logger.Int64("removed", n))
	} else {
		j.log.Debug("retention job completed, nothing removed", logger.String("job", name))
	}
}

// cronLogger routes cron's own logging into the module logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(kvFields(keysAndValues), logger.Error(err))...)
}

func kvFields(kv []any) []logger.Field {
	fields := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, logger.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}
