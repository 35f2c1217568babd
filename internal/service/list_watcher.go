package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mir00r/sip-dispatcher/pkg/logger"
)

// ReloadFunc reloads the destination list
type ReloadFunc func(ctx context.Context) error

// ListWatcher reloads the destination list when its file changes. The
// directory is watched rather than the file so that editors replacing the
// file by rename are seen too.
type ListWatcher struct {
	path     string
	reload   ReloadFunc
	debounce time.Duration
	logger   *logger.Logger

	mu      sync.Mutex
	reloads int
	lastErr error
}

// NewListWatcher creates a watcher for the list file at path
func NewListWatcher(path string, reload ReloadFunc, debounce time.Duration, log *logger.Logger) *ListWatcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &ListWatcher{
		path:     filepath.Clean(path),
		reload:   reload,
		debounce: debounce,
		logger:   log.ReloadLogger().WithField("list_file", path),
	}
}

// Run watches until ctx is done
func (w *ListWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}
	w.logger.Info("Started destination list watcher")

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.WithField("op", event.Op.String()).Debug("destination list changed")
			timer.Reset(w.debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Error while watching destination list")
		case <-timer.C:
			w.fire(ctx)
		case <-ctx.Done():
			w.logger.Info("Stopped destination list watcher")
			return nil
		}
	}
}

func (w *ListWatcher) fire(ctx context.Context) {
	err := w.reload(ctx)

	w.mu.Lock()
	w.reloads++
	w.lastErr = err
	w.mu.Unlock()

	if err != nil {
		w.logger.WithError(err).Error("Destination list reload failed, keeping the active list")
		return
	}
	w.logger.Info("Destination list reloaded")
}

// Stats returns how many reloads the watcher triggered and the last error
func (w *ListWatcher) Stats() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads, w.lastErr
}
