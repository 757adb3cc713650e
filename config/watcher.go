package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/c360studio/retouch/model"
)

// ProfileWatcher watches the model profile file and applies changes to a
// live registry after a debounce delay. The watch covers the containing
// directory because editors typically replace files by rename, which
// would orphan a watch on the file itself. A file that fails to parse or
// validate leaves the registry unchanged.
type ProfileWatcher struct {
	path     string
	registry *model.Registry
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration

	// Debouncing: collect changes before reloading
	pendingMu sync.Mutex
	pending   bool

	reloads  atomic.Int64
	failures atomic.Int64
}

// NewProfileWatcher creates a watcher for the given profile file.
func NewProfileWatcher(path string, registry *model.Registry, debounce time.Duration, logger *slog.Logger) (*ProfileWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve profile path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	return &ProfileWatcher{
		path:     absPath,
		registry: registry,
		watcher:  fsw,
		logger:   logger,
		debounce: debounce,
	}, nil
}

// Start begins watching the profile file for changes.
func (w *ProfileWatcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch profile directory: %w", err)
	}

	go w.processEvents(ctx)

	w.logger.Info("Profile watcher started",
		"path", w.path,
		"debounce", w.debounce)

	return nil
}

// Stop stops the watcher.
func (w *ProfileWatcher) Stop() error {
	return w.watcher.Close()
}

// Reloads returns the number of successful reloads applied.
func (w *ProfileWatcher) Reloads() int64 {
	return w.reloads.Load()
}

// Failures returns the number of rejected reload attempts.
func (w *ProfileWatcher) Failures() int64 {
	return w.failures.Load()
}

// processEvents handles fsnotify events with debouncing.
func (w *ProfileWatcher) processEvents(ctx context.Context) {
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "error", err)

		case <-ticker.C:
			w.flushPending()
		}
	}
}

// handleFSEvent marks a reload pending when the profile file changed.
func (w *ProfileWatcher) handleFSEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}

	w.pendingMu.Lock()
	w.pending = true
	w.pendingMu.Unlock()

	w.logger.Debug("Profile change detected", "op", event.Op.String())
}

// flushPending applies an accumulated change, if any.
func (w *ProfileWatcher) flushPending() {
	w.pendingMu.Lock()
	pending := w.pending
	w.pending = false
	w.pendingMu.Unlock()

	if !pending {
		return
	}
	w.Reload()
}

// Reload parses the profile file and swaps the registry contents.
// Endpoint health state survives the swap; a bad file is rejected and
// the previous registry contents stay in effect.
func (w *ProfileWatcher) Reload() {
	cfg, err := model.LoadConfigFile(w.path)
	if err != nil {
		w.failures.Add(1)
		w.logger.Error("Profile reload failed, keeping previous profiles",
			"path", w.path,
			"error", err)
		return
	}

	if err := w.registry.Replace(cfg); err != nil {
		w.failures.Add(1)
		w.logger.Error("Profile reload rejected, keeping previous profiles",
			"path", w.path,
			"error", err)
		return
	}

	w.reloads.Add(1)
	w.logger.Info("Model profiles reloaded",
		"path", w.path,
		"endpoints", len(cfg.Endpoints),
		"profiles", len(cfg.Profiles))
}
