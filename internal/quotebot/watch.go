package quotebot

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDebounce coalesces the burst of events an editor save produces.
const DefaultReloadDebounce = 200 * time.Millisecond

// WatchFixtures reloads the fixtures file at path whenever it changes and
// hands each valid script to apply. A file that fails to decode or validate
// is logged and the previous script stays in use. The watch runs until ctx
// is done.
func WatchFixtures(ctx context.Context, path string, debounce time.Duration, apply func(*Fixtures), logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultReloadDebounce
	}
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fixtures watcher: %w", err)
	}
	// Editors often replace the file, so watch the directory.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	go func() {
		defer watcher.Close()

		timer := time.NewTimer(debounce)
		timer.Stop()
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				timer.Reset(debounce)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Fixtures watcher error", "path", path, "error", err)

			case <-timer.C:
				fx, err := LoadFixtures(path)
				if err != nil {
					logger.Error("Fixtures reload failed, keeping previous script", "path", path, "error", err)
					continue
				}
				apply(fx)
				logger.Info("Fixtures reloaded", "path", path, "quotes", len(fx.Quotes))
			}
		}
	}()

	return nil
}
