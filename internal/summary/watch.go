package summary

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses the burst of events an editor save produces.
const reloadDebounce = 200 * time.Millisecond

// WatchPrompts reloads the prompt file whenever it changes and passes the new
// templates to apply. The directory is watched rather than the file so
// editors that save by rename keep working. A file that fails to parse is
// logged and the previous templates stay in effect. It returns once the
// watch is established; watching stops when ctx is done.
func WatchPrompts(ctx context.Context, path string, logger *log.Logger, apply func(Prompts)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("summary: watch prompts: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return fmt.Errorf("summary: watch prompts: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("summary: watch prompts: %w", err)
	}

	go func() {
		defer watcher.Close()
		var (
			timer   *time.Timer
			timerCh <-chan time.Time
		)
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(reloadDebounce)
				} else {
					timer.Reset(reloadDebounce)
				}
				timerCh = timer.C
			case <-timerCh:
				timerCh = nil
				p, err := LoadPrompts(abs)
				if err != nil {
					if logger != nil {
						logger.Printf("[summary] prompt reload failed, keeping previous: %v", err)
					}
					continue
				}
				apply(p)
				if logger != nil {
					logger.Printf("[summary] prompts reloaded from %s", abs)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if logger != nil {
					logger.Printf("[summary] prompt watcher error: %v", err)
				}
			}
		}
	}()
	return nil
}
