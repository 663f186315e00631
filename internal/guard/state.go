// Package guard holds the global snooze window and the anti-tamper
// subsystem. Both keep their state in the persisted settings so that it
// survives a restart.
package guard

import "github.com/haramshield/haramshield-go/internal/conf"

// StateStore reads and mutates persisted settings. conf.Store implements it.
type StateStore interface {
	Current() *conf.Settings
	Update(fn func(*conf.Settings)) (*conf.Settings, error)
}

var _ StateStore = (*conf.Store)(nil)
