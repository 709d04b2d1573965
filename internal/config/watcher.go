package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/guardrail-io/admission/internal/observability"
)

// KeyFileCallback is called with the freshly loaded key file after a
// change on disk.
type KeyFileCallback func(*KeyFile)

// ErrorCallback is called when a reload fails. The previous key set
// stays active.
type ErrorCallback func(error)

// KeyFileWatcher watches an API key file and triggers reloads, so keys
// rotate without a process restart. Editors and secret mounts replace
// files rather than write in place, so the watch covers the whole
// directory and filters events down to the target path.
type KeyFileWatcher struct {
	path          string
	watcher       *fsnotify.Watcher
	callback      KeyFileCallback
	errorCallback ErrorCallback
	logger        observability.Logger
	debounceDelay time.Duration
	mu            sync.Mutex
	stopCh        chan struct{}
	stopOnce      sync.Once
	running       bool
}

// WatcherOption is a functional option for the watcher.
type WatcherOption func(*KeyFileWatcher)

// WithDebounceDelay sets the delay used to coalesce bursts of file
// events into a single reload.
func WithDebounceDelay(delay time.Duration) WatcherOption {
	return func(w *KeyFileWatcher) {
		w.debounceDelay = delay
	}
}

// WithWatcherLogger sets the logger for the watcher.
func WithWatcherLogger(logger observability.Logger) WatcherOption {
	return func(w *KeyFileWatcher) {
		w.logger = logger
	}
}

// WithErrorCallback sets the callback invoked when a reload fails.
func WithErrorCallback(callback ErrorCallback) WatcherOption {
	return func(w *KeyFileWatcher) {
		w.errorCallback = callback
	}
}

// NewKeyFileWatcher creates a watcher for the given key file.
func NewKeyFileWatcher(path string, callback KeyFileCallback, opts ...WatcherOption) (*KeyFileWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &KeyFileWatcher{
		path:          absPath,
		watcher:       fsWatcher,
		callback:      callback,
		logger:        observability.NopLogger(),
		debounceDelay: 100 * time.Millisecond,
		stopCh:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Start loads the key file, delivers it to the callback, and begins
// watching for changes.
func (w *KeyFileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	kf, err := LoadKeyFile(w.path)
	if err != nil {
		return err
	}
	w.callback(kf)

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	w.logger.Info("watching API key file",
		observability.String("path", w.path),
		observability.Int("keys", len(kf.Keys)),
	)

	go w.watch(ctx)
	return nil
}

// Stop stops the watcher. Safe to call multiple times.
func (w *KeyFileWatcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	return w.watcher.Close()
}

// watch delivers debounced reloads until stopped.
func (w *KeyFileWatcher) watch(ctx context.Context) {
	var debounce *time.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(w.debounceDelay)
				debounceCh = debounce.C
			} else {
				debounce.Reset(w.debounceDelay)
			}

		case <-debounceCh:
			debounce = nil
			debounceCh = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("key file watch error", observability.Error(err))
			if w.errorCallback != nil {
				w.errorCallback(err)
			}

		case <-ctx.Done():
			return

		case <-w.stopCh:
			return
		}
	}
}

// reload loads the key file and hands it to the callback. Failures are
// reported and the previous key set stays in effect.
func (w *KeyFileWatcher) reload() {
	kf, err := LoadKeyFile(w.path)
	if err != nil {
		w.logger.Error("failed to reload key file",
			observability.String("path", w.path),
			observability.Error(err),
		)
		if w.errorCallback != nil {
			w.errorCallback(err)
		}
		return
	}

	w.logger.Info("reloaded API key file",
		observability.String("path", w.path),
		observability.Int("keys", len(kf.Keys)),
	)
	w.callback(kf)
}
