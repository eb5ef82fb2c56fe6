package internal

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports when the document tree has changed and then stayed quiet for
// the debounce interval. Bursts of events collapse into one signal.
type Watcher struct {
	debounce time.Duration
	logger   *slog.Logger
}

func NewWatcher(debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{debounce: debounce, logger: logger}
}

// Watch starts monitoring root and its subdirectories. The returned channel is
// closed when ctx ends.
func (w *Watcher) Watch(ctx context.Context, root string) (<-chan struct{}, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := addTree(fw, root); err != nil {
		fw.Close()
		return nil, err
	}

	changes := make(chan struct{}, 1)
	go func() {
		defer close(changes)
		defer fw.Close()

		w.logger.Info("watching source directory", "dir", root, "debounce", w.debounce)

		timer := time.NewTimer(w.debounce)
		timer.Stop()
		pending := false

		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				w.logger.Info("file watcher stopped", "dir", root)
				return

			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if !relevant(event) {
					continue
				}
				if event.Has(fsnotify.Create) {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						if err := addTree(fw, event.Name); err != nil {
							w.logger.Warn("cannot watch new directory", "dir", event.Name, "error", err)
						}
					}
				}
				w.logger.Debug("source changed", "file", event.Name, "op", event.Op.String())
				timer.Reset(w.debounce)
				pending = true

			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("file watcher error", "error", err)

			case <-timer.C:
				if !pending {
					continue
				}
				pending = false
				select {
				case changes <- struct{}{}:
				default:
					// a signal is already queued
				}
			}
		}
	}()

	return changes, nil
}

func relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	base := filepath.Base(event.Name)
	return !strings.HasPrefix(base, ".") && !strings.HasSuffix(base, "~")
}

func addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return fs.SkipDir
		}
		return fw.Add(path)
	})
}
