// Package watch reloads a data source configuration file when it changes on
// disk and hands every valid revision to the orchestrator.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/stacklok/toolhive-datasource/internal/config"
)

// ApplyFunc receives every configuration revision that loaded and validated
type ApplyFunc func(cfg *config.Config)

// Watcher observes a configuration file. The file is only read; an invalid
// revision is logged and the previous configuration stays active.
type Watcher struct {
	path  string
	apply ApplyFunc

	mu      sync.RWMutex
	current *config.Config

	watcherMu sync.Mutex
	watcher   *fsnotify.Watcher
}

// New loads the configuration at path. apply is not called for the initial
// load; use Current to read it.
func New(path string, apply ApplyFunc) (*Watcher, error) {
	w := &Watcher{
		path:  path,
		apply: apply,
	}

	cfg, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("failed to load initial configuration: %w", err)
	}
	w.current = cfg

	return w, nil
}

// Current returns the active configuration
func (w *Watcher) Current() *config.Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Reload reads the file and applies it if valid
func (w *Watcher) Reload() error {
	cfg, err := w.load()
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	if w.apply != nil {
		w.apply(cfg)
	}
	slog.Info("Configuration reloaded", "path", w.path, "sources", len(cfg.DataSource.List))
	return nil
}

func (w *Watcher) load() (*config.Config, error) {
	cfg, err := config.LoadConfig(config.WithConfigPath(w.path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return cfg, nil
}

// Watch reloads the configuration on every external change to the file.
// It blocks until ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context) error {
	w.watcherMu.Lock()
	if w.watcher != nil {
		w.watcherMu.Unlock()
		return fmt.Errorf("config watcher is already running")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.watcherMu.Unlock()
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	w.watcher = watcher
	w.watcherMu.Unlock()

	if err := watcher.Add(w.path); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to watch config file %s: %w", w.path, err)
	}

	slog.Info("Started watching configuration file", "path", w.path)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Stopping config file watcher")
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher event channel closed")
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if err := w.Reload(); err != nil {
					slog.Error("Failed to reload config, keeping the previous one", "path", w.path, "error", err)
				}
			}

			// Atomic replacements remove the watched inode
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				slog.Debug("Config file replaced, re-watching", "path", w.path)
				if err := watcher.Add(w.path); err != nil {
					slog.Warn("Failed to re-watch config file, hot reload is stopped",
						"path", w.path, "error", err)
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			slog.Error("File watcher error", "error", err)
		}
	}
}

// Close releases the file watcher
func (w *Watcher) Close() error {
	w.watcherMu.Lock()
	defer w.watcherMu.Unlock()

	if w.watcher == nil {
		return nil
	}
	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close file watcher: %w", err)
	}
	w.watcher = nil
	return nil
}
