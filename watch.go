package llmgate

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher reloads the config file on change and invokes a callback
// with the parsed result. Used to hot-swap tenant budgets and the
// unrestricted allow-list without a restart; provider descriptors are
// immutable for the process lifetime and changes to them require one.
type ConfigWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	done    chan struct{}
}

// WatchConfig starts watching path. onChange is called from a background
// goroutine with each successfully parsed config; parse failures are logged
// and the previous config stays in effect.
//
// The parent directory is watched, not the file itself, so atomic saves
// (write to a temp file, rename over the original) are picked up and the
// watch survives the file being replaced.
func WatchConfig(path string, logger *slog.Logger, onChange func(Config)) (*ConfigWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &ConfigWatcher{
		path:    path,
		watcher: watcher,
		logger:  logger,
		done:    make(chan struct{}),
	}

	base := filepath.Base(path)

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				// The directory watch reports every file in it.
				if filepath.Base(event.Name) != base {
					continue
				}
				// Editors save via plain writes or atomic rename/create.
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				cfg, err := LoadConfig(w.path)
				if err != nil {
					w.logger.Warn("config reload failed", "path", w.path, "error", err)
					continue
				}
				w.logger.Info("config reloaded", "path", w.path)
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("config watch error", "error", err)
			case <-w.done:
				return
			}
		}
	}()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		// Fall back to watching the file directly.
		if ferr := watcher.Add(path); ferr != nil {
			watcher.Close()
			return nil, err
		}
	}

	return w, nil
}

// Close stops the watcher.
func (w *ConfigWatcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
