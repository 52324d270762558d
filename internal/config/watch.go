package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	appLog "agendacal/internal/log"
)

// Watcher re-reads the config file when it changes on disk and hands the
// validated result to registered callbacks. Only settings that are safe to
// swap at runtime (auth, log level) are acted on by callers; the rest need
// a restart.
type Watcher struct {
	path   string
	getenv func(string) string

	mu       sync.Mutex
	onChange []func(*Config)
}

// NewWatcher creates a Watcher for path. getenv supplies env overrides
// applied after every reload (nil means os.Getenv).
func NewWatcher(path string, getenv func(string) string) *Watcher {
	return &Watcher{path: path, getenv: getenv}
}

// OnChange registers a callback invoked after every successful reload.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Reload reads, normalizes and validates the file, then notifies callbacks.
// An invalid file leaves callers on their previous config.
func (w *Watcher) Reload() (*Config, error) {
	cfg, err := Load(w.path)
	if err != nil {
		return nil, fmt.Errorf("config reload %s: %w", w.path, err)
	}
	cfg.ApplyEnv(w.getenv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	w.mu.Lock()
	callbacks := make([]func(*Config), len(w.onChange))
	copy(callbacks, w.onChange)
	w.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
	return cfg, nil
}

// Watch starts a background goroutine that reloads on file changes.
// Call the returned stop function to clean up.
//
// The parent directory is watched rather than the file itself so that
// atomic replace-by-rename (as Save does) keeps being observed.
func (w *Watcher) Watch() (stop func(), err error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", dir, err)
	}

	target := filepath.Clean(w.path)
	done := make(chan struct{})
	go func() {
		defer fw.Close()
		for {
			select {
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
					if _, err := w.Reload(); err != nil {
						appLog.Error("config reload failed; keeping previous settings", err, "path", w.path)
						continue
					}
					appLog.Info("config reloaded", "path", w.path)
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				appLog.Error("config watcher error", err, "path", w.path)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}
