package config

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/bnema/uterm/internal/logger"
)

// Watch re-reads the config file whenever it changes on disk and hands
// the fresh configuration to onChange. The returned stop function
// closes the watcher; onChange runs on the watcher goroutine.
func Watch(onChange func(*Config)) (func(), error) {
	path := Path()
	if path == "" {
		return nil, fmt.Errorf("no config file to watch")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	// Watch the directory: editors replace the file, which would drop a
	// watch on the file itself.
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Name != path {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if err := Init(); err != nil {
					logger.Warnf("Config reload failed: %v", err)
					continue
				}
				logger.Debugf("Config reloaded from %s", path)
				onChange(Get())
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warnf("Config watcher error: %v", err)
			}
		}
	}()

	return func() { _ = w.Close() }, nil
}
