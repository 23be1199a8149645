package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mwantia/datenest/pkg/log"
)

// Watcher calls a handler once file-system activity below the library root
// has been quiet for the debounce window.
type Watcher struct {
	scanner  *Scanner
	debounce time.Duration
	log      log.LoggerService
	watcher  *fsnotify.Watcher
}

func NewWatcher(scanner *Scanner, debounce time.Duration, logger log.LoggerService) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	w := &Watcher{
		scanner:  scanner,
		debounce: debounce,
		log:      logger,
		watcher:  watcher,
	}

	if err := w.addRecursive(scanner.Root()); err != nil {
		watcher.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.scanner.Excluded(path) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// Run blocks until ctx is done. Errors returned by handler are logged and
// do not stop the watcher.
func (w *Watcher) Run(ctx context.Context, handler func(ctx context.Context) error) error {
	defer w.watcher.Close()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !w.scanner.Excluded(event.Name) {
					if err := w.addRecursive(event.Name); err != nil {
						w.log.Warn("Failed to watch '%s': %v", event.Name, err)
					}
				}
			}

			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil

			w.log.Debug("Changes settled, running handler")
			if err := handler(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.log.Error("Handler failed: %v", err)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("Watcher error: %v", err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}

	base := filepath.Base(event.Name)
	// Staging files of our own atomic writes.
	if len(base) > 0 && base[0] == '.' {
		return false
	}
	return !w.scanner.Excluded(filepath.Dir(event.Name))
}
