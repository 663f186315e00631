// Package events carries outbound signals from the pipeline to the
// presentation layer and integrations through a non-blocking bus.
package events

import (
	"fmt"
	"time"

	"github.com/haramshield/haramshield-go/internal/detection"
)

// Kind identifies an outbound signal.
type Kind string

const (
	// KindShowBlock asks the UI to show the block screen for a package.
	KindShowBlock Kind = "show-block"
	// KindForceHome asks the UI to redirect to the home screen immediately.
	KindForceHome Kind = "force-home"
	// KindPulse is the scheduler heartbeat, sent once per cycle.
	KindPulse Kind = "pulse"
	// KindTamper reports a detected tamper attempt.
	KindTamper Kind = "tamper"
)

// Signal is one outbound message. Fields not relevant to the kind are zero.
type Signal struct {
	Kind      Kind               `json:"kind"`
	Package   string             `json:"package,omitempty"`
	Remaining time.Duration      `json:"remaining,omitempty"`
	Category  detection.Category `json:"category,omitempty"`
	Reason    string             `json:"reason,omitempty"`
	Attempts  int                `json:"attempts,omitempty"`
	TraceID   string             `json:"trace_id,omitempty"`
	At        time.Time          `json:"at"`
}

// ShowBlock builds a show-block signal.
func ShowBlock(pkg string, remaining time.Duration, category detection.Category) Signal {
	return Signal{Kind: KindShowBlock, Package: pkg, Remaining: remaining, Category: category, At: time.Now()}
}

// ForceHome builds a force-home signal.
func ForceHome(pkg, reason string) Signal {
	return Signal{Kind: KindForceHome, Package: pkg, Reason: reason, At: time.Now()}
}

// Pulse builds a heartbeat for the package the scheduler is targeting.
func Pulse(pkg string) Signal {
	return Signal{Kind: KindPulse, Package: pkg, At: time.Now()}
}

// TamperDetected builds a tamper signal carrying the attempt count.
func TamperDetected(pkg string, attempts int) Signal {
	return Signal{Kind: KindTamper, Package: pkg, Attempts: attempts, Category: detection.CategoryTampering, At: time.Now()}
}

// WithTrace returns a copy of s tagged with a cycle trace id.
func (s Signal) WithTrace(id string) Signal {
	s.TraceID = id
	return s
}

func (s Signal) String() string {
	switch s.Kind {
	case KindShowBlock:
		return fmt.Sprintf("%s(%s %s %s)", s.Kind, s.Package, s.Category, s.Remaining.Round(time.Second))
	case KindTamper:
		return fmt.Sprintf("%s(%s attempts=%d)", s.Kind, s.Package, s.Attempts)
	default:
		return fmt.Sprintf("%s(%s)", s.Kind, s.Package)
	}
}

// Publisher accepts signals without blocking.
type Publisher interface {
	TryPublish(s Signal) bool
}

// Consumer receives signals from the bus workers.
type Consumer interface {
	// Name identifies the consumer in logs and stats.
	Name() string
	// Consume handles one signal. Errors are counted and logged.
	Consume(s Signal) error
}
