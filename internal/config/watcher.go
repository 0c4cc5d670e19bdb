package config

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a config file for changes and republishes a freshly
// loaded Config behind an atomic pointer, so readers never block on a
// reload in progress. Adapted from the teacher's pkg/config.Watcher.
type Watcher struct {
	path    string
	current atomic.Pointer[Config]
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	onChange func(*Config)
}

// NewWatcher loads path once, starts watching it for writes, and returns
// a Watcher whose Config() is immediately usable.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("load initial config: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch config file: %w", err)
	}

	w := &Watcher{path: path, watcher: fsw, logger: logger}
	w.current.Store(cfg)
	return w, nil
}

// Config returns the most recently loaded configuration.
func (w *Watcher) Config() *Config {
	return w.current.Load()
}

// OnChange registers a callback invoked after each successful reload,
// e.g. to trigger FilterEngine.Reload or SubnetMatcher.Refresh.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.onChange = fn
}

// Start blocks, watching for file events until ctx is canceled. Rapid
// successive writes (editors often save twice) are debounced.
func (w *Watcher) Start(ctx context.Context) error {
	w.logger.Info("starting config watcher", "path", w.path)

	const debounceDelay = 100 * time.Millisecond
	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case <-ctx.Done():
			return w.watcher.Close()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				debounce.Reset(debounceDelay)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("config watcher error", "error", err)

		case <-debounce.C:
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Error("config reload failed", "error", err)
				continue
			}
			w.current.Store(cfg)
			w.logger.Info("config reloaded")
			if w.onChange != nil {
				w.onChange(cfg)
			}
		}
	}
}

// Close stops the underlying file watcher.
func (w *Watcher) Close() error {
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
