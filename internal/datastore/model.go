package datastore

import "time"

// LockedApp is the single lock record for a package. Timestamps are Unix
// milliseconds. A record with LockUntil <= now is expired even if it has not
// been swept yet.
type LockedApp struct {
	PackageName string  `gorm:"primaryKey;size:255"`
	LockUntil   int64   `gorm:"not null;index"`
	Category    string  `gorm:"size:32;not null"`
	Confidence  float32 `gorm:"not null"`
	LockedAt    int64   `gorm:"not null"`
}

// TableName implements gorm's tabler.
func (LockedApp) TableName() string { return "locked_apps" }

// NewLock builds a lock for pkg lasting d from now.
func NewLock(pkg, category string, confidence float32, now time.Time, d time.Duration) LockedApp {
	return LockedApp{
		PackageName: pkg,
		LockUntil:   now.Add(d).UnixMilli(),
		Category:    category,
		Confidence:  confidence,
		LockedAt:    now.UnixMilli(),
	}
}

// Until returns the expiry time.
func (l LockedApp) Until() time.Time { return time.UnixMilli(l.LockUntil) }

// Active reports whether the lock is in force at now.
func (l LockedApp) Active(now time.Time) bool { return now.UnixMilli() < l.LockUntil }

// Remaining returns how long the lock still holds at now, or 0.
func (l LockedApp) Remaining(now time.Time) time.Duration {
	return max(0, time.Duration(l.LockUntil-now.UnixMilli())*time.Millisecond)
}

// ViolationLog is one append-only violation record.
type ViolationLog struct {
	ID          uint    `gorm:"primaryKey;autoIncrement"`
	PackageName string  `gorm:"size:255;not null;index"`
	Category    string  `gorm:"size:32;not null;index"`
	Confidence  float32 `gorm:"not null"`
	Timestamp   int64   `gorm:"not null;index"` // Unix milliseconds
	AppLabel    string  `gorm:"size:255"`
	Detail      string  `gorm:"size:255"` // detector label, e.g. the matched keyword
	LockedOut   bool    `gorm:"not null"`
}

// TableName implements gorm's tabler.
func (ViolationLog) TableName() string { return "violation_logs" }

// At returns the entry's timestamp.
func (v ViolationLog) At() time.Time { return time.UnixMilli(v.Timestamp) }

// WhitelistedApp exempts a package from enforcement.
type WhitelistedApp struct {
	PackageName string `gorm:"primaryKey;size:255"`
	AppLabel    string `gorm:"size:255"`
	AddedAt     int64  `gorm:"not null"` // Unix milliseconds
}

// TableName implements gorm's tabler.
func (WhitelistedApp) TableName() string { return "whitelisted_apps" }
