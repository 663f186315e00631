package guard

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/haramshield/haramshield-go/internal/conf"
	"github.com/haramshield/haramshield-go/internal/detection"
	"github.com/haramshield/haramshield-go/internal/enforcement"
	"github.com/haramshield/haramshield-go/internal/events"
	"github.com/haramshield/haramshield-go/internal/logger"
	"github.com/haramshield/haramshield-go/internal/observability/metrics"
)

// Punisher applies the punitive lock. enforcement.Engine implements it.
type Punisher interface {
	Punish(ctx context.Context, pkg string, category detection.Category, duration time.Duration, confidence float32) enforcement.Decision
}

var _ Punisher = (*enforcement.Engine)(nil)

// Tamper watches the system settings surface for attempts to disable the
// agent. It only counts attempts and exposes the hardening policy; the
// disable-protection UI enforces the delay.
type Tamper struct {
	store   StateStore
	engine  Punisher
	signals events.Publisher
	metrics *metrics.EnforcementMetrics
	log     logger.Logger

	mu sync.Mutex // serialises counter updates
}

// TamperOption configures a Tamper.
type TamperOption func(*Tamper)

// WithTamperMetrics counts attempts.
func WithTamperMetrics(m *metrics.EnforcementMetrics) TamperOption {
	return func(t *Tamper) { t.metrics = m }
}

// NewTamper creates the anti-tamper guard.
func NewTamper(store StateStore, engine Punisher, signals events.Publisher, opts ...TamperOption) *Tamper {
	t := &Tamper{
		store:   store,
		engine:  engine,
		signals: signals,
		log:     GetLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Inspect checks one focus event and reports whether it was a tamper
// attempt. An attempt is the settings surface showing text that names the
// agent. Each attempt increments the persisted counter, sends the user home
// and records its own punitive lock against the settings package.
func (t *Tamper) Inspect(ctx context.Context, pkg, text string) bool {
	cfg := t.store.Current().Tamper
	if pkg == "" || pkg != cfg.SettingsPackage || !mentionsAgent(text, cfg.Keywords) {
		return false
	}

	attempts := t.increment()
	t.metrics.RecordTamper()
	t.log.Warn("tamper attempt detected",
		logger.String("package", pkg),
		logger.Int("attempts", attempts))

	t.signals.TryPublish(events.ForceHome(pkg, "tamper"))

	d := t.engine.Punish(ctx, pkg, detection.CategoryTampering, cfg.Lockout, 1.0)
	if d.Outcome == enforcement.AppLocked {
		t.signals.TryPublish(events.ShowBlock(pkg, d.RemainingAtDecision(), detection.CategoryTampering))
	}
	t.signals.TryPublish(events.TamperDetected(pkg, attempts))

	if attempts == cfg.HardeningThreshold {
		t.log.Warn("protection hardened",
			logger.Int("attempts", attempts),
			logger.Duration("disable_delay", cfg.HardenedDelay))
	}
	return true
}

// Attempts returns the persisted attempt counter.
func (t *Tamper) Attempts() int {
	return t.store.Current().State.TamperAttempts
}

// Hardened reports whether the attempt count reached the hardening threshold.
func (t *Tamper) Hardened() bool {
	s := t.store.Current()
	return s.Tamper.HardeningThreshold > 0 && s.State.TamperAttempts >= s.Tamper.HardeningThreshold
}

// RequiredDisableDelay is the confirmation delay the disable-protection UI
// must impose, zero until hardened.
func (t *Tamper) RequiredDisableDelay() time.Duration {
	if !t.Hardened() {
		return 0
	}
	return t.store.Current().Tamper.HardenedDelay
}

// Reset zeroes the counter.
func (t *Tamper) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, err := t.store.Update(func(s *conf.Settings) { s.State.TamperAttempts = 0 })
	if err == nil {
		t.log.Info("tamper counter reset")
	}
	return err
}

func (t *Tamper) increment() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	attempts := t.store.Current().State.TamperAttempts + 1
	if _, err := t.store.Update(func(s *conf.Settings) { s.State.TamperAttempts = attempts }); err != nil {
		t.log.Error("failed to persist tamper counter", logger.Error(err))
	}
	return attempts
}

func mentionsAgent(text string, keywords []string) bool {
	text = strings.ToLower(text)
	if strings.TrimSpace(text) == "" {
		return false
	}
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" && strings.Contains(text, k) {
			return true
		}
	}
	return false
}
