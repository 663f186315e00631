package conf

import (
	"os"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/spf13/viper"

	"github.com/haramshield/haramshield-go/internal/errors"
	"github.com/haramshield/haramshield-go/internal/logger"
)

// Store publishes immutable settings snapshots. Readers call Current and
// never block; writers go through Update, which clones the latest snapshot,
// applies the mutation, clamps, persists and swaps the pointer.
//
// The config file is shared with other processes, such as CLI commands run
// next to the agent. Update therefore starts from the file's contents rather
// than the in-memory snapshot, and Reload (driven by Watch) picks up edits
// made elsewhere.
type Store struct {
	current atomic.Pointer[Settings]
	path    string

	writeMu sync.Mutex

	subsMu sync.Mutex
	subs   map[int]chan *Settings
	nextID int
}

// NewStore wraps an initial snapshot. An empty path disables persistence.
func NewStore(initial *Settings, path string) *Store {
	s := &Store{
		path: path,
		subs: make(map[int]chan *Settings),
	}
	snapshot := initial.Clone()
	Normalize(snapshot)
	s.current.Store(snapshot)
	return s
}

// Current returns the latest snapshot. Callers must treat it as read-only.
func (s *Store) Current() *Settings {
	return s.current.Load()
}

// Path returns the file the store persists to.
func (s *Store) Path() string {
	return s.path
}

// Update applies fn to a copy of the latest settings and publishes the
// result. The new snapshot is published even if persisting it fails; the
// returned error reports the persistence failure.
func (s *Store) Update(fn func(*Settings)) (*Settings, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	base := s.current.Load()
	disk, ok, err := s.readFile()
	switch {
	case err != nil:
		GetLogger().Warn("config file unreadable, updating from memory", logger.Error(err))
	case ok:
		base = disk
	}

	next := base.Clone()
	fn(next)
	Normalize(next)

	if err := ValidateSettings(next); err != nil {
		return s.current.Load(), errors.New(err).
			Component("configuration").
			Category(errors.CategoryValidation).
			Context("operation", "settings-update").
			Build()
	}

	s.current.Store(next)
	s.notify(next)

	if s.path == "" {
		return next, nil
	}
	if err := SaveYAMLConfig(s.path, next); err != nil {
		GetLogger().Error("failed to persist settings", logger.Error(err))
		return next, err
	}
	return next, nil
}

// Reload replaces the snapshot with the config file's contents and publishes
// it when anything changed. A missing file keeps the current snapshot.
func (s *Store) Reload() (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	disk, ok, err := s.readFile()
	if err != nil || !ok {
		return false, err
	}
	if reflect.DeepEqual(disk, s.current.Load()) {
		return false, nil
	}
	s.current.Store(disk)
	s.notify(disk)
	return true, nil
}

// readFile loads the persisted settings the same way startup does, so env
// overrides keep applying. ok is false when there is no file to read.
func (s *Store) readFile() (settings *Settings, ok bool, err error) {
	if s.path == "" {
		return nil, false, nil
	}
	if _, err := os.Stat(s.path); err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, errors.New(err).
			Component("configuration").
			Category(errors.CategoryFileIO).
			Context("operation", "stat-config").
			Build()
	}
	settings, _, err = LoadWith(viper.New(), s.path)
	if err != nil {
		return nil, false, err
	}
	return settings, true, nil
}

// Subscribe returns a channel that receives each new snapshot. Slow
// subscribers only see the latest snapshot. The returned func unsubscribes.
func (s *Store) Subscribe() (<-chan *Settings, func()) {
	ch := make(chan *Settings, 1)

	s.subsMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subsMu.Unlock()

	return ch, func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
}

func (s *Store) notify(next *Settings) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	for _, ch := range s.subs {
		// drop a stale pending snapshot so the newest one always fits
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- next:
		default:
		}
	}
}
