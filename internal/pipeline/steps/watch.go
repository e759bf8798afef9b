package steps

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 100 * time.Millisecond

// Watcher serves the registry loaded from a YAML file and reloads it when the file
// changes. An invalid edit is logged and the previous registry stays in effect.
type Watcher struct {
	path    string
	current atomic.Pointer[Registry]
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	debounceMu sync.Mutex
	debounce   *time.Timer

	listenersMu sync.Mutex
	listeners   []func(*Registry)
}

// NewWatcher loads path and starts watching its directory
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	reg, err := Load(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}

	w := &Watcher{path: path, watcher: fw, logger: logger}
	w.current.Store(reg)
	go w.loop()
	logger.Info("watching role registry", "path", path)
	return w, nil
}

// Current implements Provider
func (w *Watcher) Current() *Registry {
	return w.current.Load()
}

// OnChange registers fn to run after every successful reload
func (w *Watcher) OnChange(fn func(*Registry)) {
	w.listenersMu.Lock()
	defer w.listenersMu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Close stops watching
func (w *Watcher) Close() error {
	w.debounceMu.Lock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounceMu.Unlock()
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	target := filepath.Clean(w.path)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("role registry watch error", "error", err)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *Watcher) reload() {
	reg, err := Load(w.path)
	if err != nil {
		w.logger.Error("ignoring invalid role registry", "path", w.path, "error", err)
		return
	}
	w.current.Store(reg)
	w.logger.Info("role registry reloaded", "path", w.path, "steps", len(reg.Steps))

	w.listenersMu.Lock()
	listeners := slices.Clone(w.listeners)
	w.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(reg)
	}
}
