package detection

import (
	"time"

	"github.com/haramshield/haramshield-go/internal/conf"
)

// Severity ranks how harshly a category is enforced.
type Severity int

const (
	SeverityWarning Severity = iota + 1
	SeverityStandard
	SeverityStrict
	SeverityPunitive
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityStandard:
		return "standard"
	case SeverityStrict:
		return "strict"
	case SeverityPunitive:
		return "punitive"
	default:
		return "unknown"
	}
}

// Rule is the enforcement policy for one category.
type Rule struct {
	Severity Severity
	Lockout  time.Duration
}

// Policy is the single category to lockout table. Categories without a rule,
// including CategoryUnknown, get the fallback, which is never the strict
// preset.
type Policy struct {
	rules    map[Category]Rule
	fallback Rule
}

// NewPolicy builds the table from the lockout presets and the tamper lockout.
func NewPolicy(lockout conf.LockoutSettings, tamperLockout time.Duration) Policy {
	strict := Rule{Severity: SeverityStrict, Lockout: lockout.Strict}
	return Policy{
		rules: map[Category]Rule{
			CategoryExplicit:   strict,
			CategoryGambling:   strict,
			CategoryObscured:   strict,
			CategoryIntoxicant: {Severity: SeverityWarning, Lockout: lockout.Warning},
			CategoryBlasphemy:  {Severity: SeverityStandard, Lockout: lockout.Default},
			CategoryTampering:  {Severity: SeverityPunitive, Lockout: tamperLockout},
		},
		fallback: Rule{Severity: SeverityStandard, Lockout: lockout.Default},
	}
}

// Rule returns the rule for c, or the fallback.
func (p Policy) Rule(c Category) Rule {
	if r, ok := p.rules[c]; ok {
		return r
	}
	return p.fallback
}

// Lockout returns the lockout duration for c.
func (p Policy) Lockout(c Category) time.Duration {
	return p.Rule(c).Lockout
}

// Thresholds maps each content category to its confidence threshold.
type Thresholds map[Category]float32

// ThresholdsFrom reads the per-category thresholds from settings. Keyword
// matches always carry confidence 1.0, above the highest allowed threshold.
func ThresholdsFrom(t conf.Thresholds) Thresholds {
	return Thresholds{
		CategoryExplicit:   t.Explicit,
		CategoryIntoxicant: t.Intoxicant,
		CategoryGambling:   t.Gambling,
		CategoryBlasphemy:  t.Blasphemy,
		CategoryObscured:   t.Obscured,
		CategoryUnknown:    conf.ThresholdMax,
	}
}

// For returns the threshold for c. Unlisted categories use the maximum.
func (t Thresholds) For(c Category) float32 {
	if v, ok := t[c]; ok {
		return v
	}
	return conf.ThresholdMax
}

// Enabled reports which categories are switched on in settings.
type Enabled map[Category]bool

// EnabledFrom reads the category switches. Unknown and tampering are always on.
func EnabledFrom(s conf.CategorySwitches) Enabled {
	return Enabled{
		CategoryExplicit:   s.Explicit,
		CategoryIntoxicant: s.Intoxicant,
		CategoryGambling:   s.Gambling,
		CategoryBlasphemy:  s.Blasphemy,
		CategoryObscured:   s.Obscured,
		CategoryUnknown:    true,
		CategoryTampering:  true,
	}
}

// Filter drops results whose category is disabled.
func (e Enabled) Filter(results []Result) []Result {
	out := results[:0:0]
	for _, r := range results {
		if on, ok := e[r.Category]; !ok || on {
			out = append(out, r)
		}
	}
	return out
}
