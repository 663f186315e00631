package keyword

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haramshield/haramshield-go/internal/errors"
	"github.com/haramshield/haramshield-go/internal/logger"
)

// DefaultReloadDebounce collapses the burst of events editors emit on save.
const DefaultReloadDebounce = 250 * time.Millisecond

// Watch reloads the blocklist at path whenever it changes, until ctx is
// cancelled. The parent directory is watched rather than the file so that
// atomic rename-over saves keep being seen. A failed reload keeps the
// previous list.
func (m *Matcher) Watch(ctx context.Context, path string, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultReloadDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.New(err).
			Component("keyword").
			Category(errors.CategorySystem).
			Build()
	}
	defer func() { _ = w.Close() }()

	target := filepath.Clean(path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return errors.New(err).
			Component("keyword").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	m.log.Info("watching blocklist", logger.String("path", target))

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			timer.Reset(debounce)

		case <-timer.C:
			// a vanished file keeps the last good list
			if _, err := m.LoadBlocklist(target); err != nil {
				m.log.Warn("blocklist reload failed", logger.Error(err))
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			m.log.Warn("blocklist watcher error", logger.Error(err))
		}
	}
}
