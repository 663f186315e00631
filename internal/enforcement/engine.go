// Package enforcement decides what to do about a detection summary and is
// the only writer of locks and violation log entries.
package enforcement

import (
	"context"
	"time"

	"github.com/haramshield/haramshield-go/internal/datastore"
	"github.com/haramshield/haramshield-go/internal/detection"
	"github.com/haramshield/haramshield-go/internal/errors"
	"github.com/haramshield/haramshield-go/internal/logger"
	"github.com/haramshield/haramshield-go/internal/observability/metrics"
)

// writeTimeout bounds the log and lock writes of one decision. The writes
// run detached from the caller's cancellation so a stopped cycle cannot
// leave a log entry without its lock.
const writeTimeout = 5 * time.Second

// LockStore is the subset of the lock repository the engine uses.
type LockStore interface {
	GetActiveLock(ctx context.Context, pkg string, now time.Time) (*datastore.LockedApp, error)
	Insert(ctx context.Context, lock *datastore.LockedApp, now time.Time) error
	Upsert(ctx context.Context, lock *datastore.LockedApp) error
}

// ViolationLog is the append side of the violation log.
type ViolationLog interface {
	Append(ctx context.Context, entry *datastore.ViolationLog) error
}

// Whitelist answers membership queries.
type Whitelist interface {
	Contains(ctx context.Context, pkg string) (bool, error)
}

// PolicyFunc returns the live lockout policy.
type PolicyFunc func() detection.Policy

// Outcome is the kind of decision taken.
type Outcome int

const (
	NoAction Outcome = iota
	AlreadyLocked
	Whitelisted
	AppLocked
	// Failed means a persistence step failed. It is never silently dropped:
	// a missed lock write weakens protection.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case NoAction:
		return "no-action"
	case AlreadyLocked:
		return "already-locked"
	case Whitelisted:
		return "whitelisted"
	case AppLocked:
		return "app-locked"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Decision is the result of Decide or Punish.
type Decision struct {
	Outcome   Outcome
	Package   string
	Violation *detection.Result       // the violation acted on, if any
	Lock      *datastore.LockedApp    // set for AppLocked and AlreadyLocked
	Entry     *datastore.ViolationLog // set for AppLocked, and for Failed after the log write
	Err       error                   // set for Failed
	DecidedAt time.Time               // engine clock when the decision was taken
}

// Remaining returns how long the decision's lock holds at now.
func (d Decision) Remaining(now time.Time) time.Duration {
	if d.Lock == nil {
		return 0
	}
	return d.Lock.Remaining(now)
}

// RemainingAtDecision is Remaining measured on the engine's clock at the
// moment of the decision.
func (d Decision) RemainingAtDecision() time.Duration {
	return d.Remaining(d.DecidedAt)
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics attaches enforcement metrics.
func WithMetrics(m *metrics.EnforcementMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine serialises decisions per package. Decisions for different packages
// run in parallel.
type Engine struct {
	locks      LockStore
	violations ViolationLog
	whitelist  Whitelist
	policy     PolicyFunc
	now        func() time.Time
	keys       *keyMutex
	metrics    *metrics.EnforcementMetrics
	log        logger.Logger
}

// New creates an engine.
func New(locks LockStore, violations ViolationLog, whitelist Whitelist, policy PolicyFunc, opts ...Option) *Engine {
	e := &Engine{
		locks:      locks,
		violations: violations,
		whitelist:  whitelist,
		policy:     policy,
		now:        time.Now,
		keys:       newKeyMutex(),
		log:        GetLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide applies the summary to pkg. The order of checks matters: an active
// lock wins over the whitelist so repeated detections on a locked package
// never log twice, and the violation is logged before the lock is written so
// the evidence survives a failed lock write.
func (e *Engine) Decide(ctx context.Context, pkg, appLabel string, summary detection.Summary) Decision {
	if !summary.HasViolation || summary.Highest == nil {
		return e.finish(Decision{Outcome: NoAction, Package: pkg})
	}
	violation := *summary.Highest

	unlock := e.keys.Lock(pkg)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	now := e.now()
	d := Decision{Package: pkg, Violation: &violation, DecidedAt: now}

	active, err := e.locks.GetActiveLock(ctx, pkg, now)
	if err != nil {
		return e.fail(d, err, "lock lookup failed")
	}
	if active != nil {
		d.Outcome, d.Lock = AlreadyLocked, active
		return e.finish(d)
	}

	whitelisted, err := e.whitelist.Contains(ctx, pkg)
	if err != nil {
		return e.fail(d, err, "whitelist lookup failed")
	}
	if whitelisted {
		d.Outcome = Whitelisted
		return e.finish(d)
	}

	duration := e.policy().Lockout(violation.Category)
	entry := &datastore.ViolationLog{
		PackageName: pkg,
		Category:    string(violation.Category),
		Confidence:  violation.Confidence,
		Timestamp:   now.UnixMilli(),
		AppLabel:    appLabel,
		Detail:      violation.Label,
		LockedOut:   true,
	}
	if err := e.violations.Append(ctx, entry); err != nil {
		return e.fail(d, err, "violation log write failed")
	}
	d.Entry = entry

	lock := datastore.NewLock(pkg, string(violation.Category), violation.Confidence, now, duration)
	if err := e.locks.Insert(ctx, &lock, now); err != nil {
		if errors.Is(err, datastore.ErrDuplicateLock) {
			// the active-lock check above ran under the same key lock, so a
			// duplicate here means a writer bypassed the engine
			e.log.Error("duplicate active lock detected, write aborted",
				logger.String("package", pkg),
				logger.String("category", string(violation.Category)),
				logger.Error(err))
		}
		return e.fail(d, err, "lock write failed")
	}

	d.Outcome, d.Lock = AppLocked, &lock
	e.metrics.RecordLock(lock.Category)
	e.log.Info("app locked",
		logger.String("package", pkg),
		logger.String("category", lock.Category),
		logger.Float32("confidence", violation.Confidence),
		logger.Duration("duration", duration),
		logger.String("detector", violation.Detector))
	return e.finish(d)
}

// Punish is the tamper lock path. It logs and locks pkg unconditionally,
// replacing any existing lock and ignoring the whitelist, so every tamper
// attempt produces its own entry.
func (e *Engine) Punish(ctx context.Context, pkg string, category detection.Category, duration time.Duration, confidence float32) Decision {
	unlock := e.keys.Lock(pkg)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	now := e.now()

	violation := detection.NewResult(category, confidence, 0,
		detection.WithTimestamp(now),
		detection.WithDetector("tamper-guard"))
	d := Decision{Package: pkg, Violation: &violation, DecidedAt: now}

	entry := &datastore.ViolationLog{
		PackageName: pkg,
		Category:    string(category),
		Confidence:  violation.Confidence,
		Timestamp:   now.UnixMilli(),
		Detail:      "tamper attempt",
		LockedOut:   true,
	}
	if err := e.violations.Append(ctx, entry); err != nil {
		return e.fail(d, err, "violation log write failed")
	}
	d.Entry = entry

	lock := datastore.NewLock(pkg, string(category), violation.Confidence, now, duration)
	if err := e.locks.Upsert(ctx, &lock); err != nil {
		return e.fail(d, err, "punitive lock write failed")
	}

	d.Outcome, d.Lock = AppLocked, &lock
	e.metrics.RecordLock(lock.Category)
	e.log.Warn("punitive lock applied",
		logger.String("package", pkg),
		logger.String("category", string(category)),
		logger.Duration("duration", duration))
	return e.finish(d)
}

func (e *Engine) fail(d Decision, err error, msg string) Decision {
	d.Outcome = Failed
	d.Err = errors.New(err).
		Component("enforcement").
		Category(errors.CategoryEnforcement).
		Priority(errors.PriorityHigh).
		Context("package", d.Package).
		Build()
	e.log.Error(msg,
		logger.String("package", d.Package),
		logger.Error(err))
	return e.finish(d)
}

func (e *Engine) finish(d Decision) Decision {
	e.metrics.RecordDecision(d.Outcome.String())
	return d
}
