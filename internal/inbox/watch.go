package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// watch returns a channel that receives a value whenever a file matching
// pattern is created, written or renamed in dir. Events are coalesced: the
// channel holds at most one pending wake-up. The watcher closes with ctx.
func watch(ctx context.Context, dir, pattern string) (<-chan struct{}, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	wake := make(chan struct{}, 1)
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if ok, _ := filepath.Match(pattern, filepath.Base(ev.Name)); !ok {
					continue
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("inbox watcher error", "dir", dir, "error", err)
			}
		}
	}()
	return wake, nil
}
