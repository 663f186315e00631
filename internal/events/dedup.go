package events

import (
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultDedupWindows suppress repeats of the same signal that arrive in
// quick succession, e.g. several cycles finding the same locked app before
// the UI has reacted. Pulses and tamper signals are never suppressed.
var DefaultDedupWindows = map[Kind]time.Duration{
	KindShowBlock: 2 * time.Second,
	KindForceHome: time.Second,
}

// Deduplicator drops repeated signals within a per-kind window.
type Deduplicator struct {
	windows    map[Kind]time.Duration
	seen       *cache.Cache
	suppressed atomic.Uint64
}

// NewDeduplicator creates a deduplicator. A nil map uses DefaultDedupWindows.
func NewDeduplicator(windows map[Kind]time.Duration) *Deduplicator {
	if windows == nil {
		windows = DefaultDedupWindows
	}
	// no janitor goroutine; expired keys are dropped by Prune
	return &Deduplicator{windows: windows, seen: cache.New(cache.NoExpiration, 0)}
}

// ShouldDeliver records s and reports whether it is new within its window.
func (d *Deduplicator) ShouldDeliver(s Signal) bool {
	if d == nil {
		return true
	}
	window, ok := d.windows[s.Kind]
	if !ok || window <= 0 {
		return true
	}
	key := string(s.Kind) + "|" + s.Package + "|" + string(s.Category)
	if err := d.seen.Add(key, struct{}{}, window); err != nil {
		d.suppressed.Add(1)
		return false
	}
	return true
}

// Prune removes expired keys.
func (d *Deduplicator) Prune() {
	if d != nil {
		d.seen.DeleteExpired()
	}
}

// Suppressed returns how many signals were dropped as duplicates.
func (d *Deduplicator) Suppressed() uint64 {
	if d == nil {
		return 0
	}
	return d.suppressed.Load()
}
