package conf

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haramshield/haramshield-go/internal/errors"
	"github.com/haramshield/haramshield-go/internal/logger"
)

// DefaultWatchDebounce collapses the create and rename events of one save.
const DefaultWatchDebounce = 200 * time.Millisecond

// Watch reloads the store whenever its config file changes on disk, until
// ctx is cancelled. The directory is watched so atomic rename-over saves,
// including the store's own, are seen. Reloads that change nothing are not
// published.
func (s *Store) Watch(ctx context.Context, debounce time.Duration) error {
	if s.path == "" {
		return nil
	}
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	log := GetLogger()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.New(err).
			Component("configuration").
			Category(errors.CategorySystem).
			Build()
	}
	defer func() { _ = w.Close() }()

	target := filepath.Clean(s.path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return errors.New(err).
			Component("configuration").
			Category(errors.CategoryFileIO).
			Context("path", target).
			Build()
	}
	log.Debug("watching config file", logger.String("path", target))

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
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(debounce)

		case <-timer.C:
			changed, err := s.Reload()
			switch {
			case err != nil:
				log.Warn("config reload failed, keeping current settings", logger.Error(err))
			case changed:
				log.Info("settings reloaded from disk", logger.String("path", target))
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", logger.Error(err))
		}
	}
}
