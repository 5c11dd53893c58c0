package catalog

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"

	"github.com/redshiftplayer/redshift-sync/logging"
)

const debounceInterval = 300 * time.Millisecond

// Watcher monitors the library root for filesystem changes and nudges the
// given channel after a quiet period. It exists so the daemon can rescan
// promptly instead of waiting for the next session.
type Watcher struct {
	root    string
	nudge   chan<- struct{}
	watcher *fsnotify.Watcher
}

// NewWatcher creates a recursive watcher over the library root.
func NewWatcher(root string, nudge chan<- struct{}) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{root: root, nudge: nudge, watcher: w}, nil
}

// Start begins watching and debouncing events. Blocks until ctx is
// cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	l := logging.Sub("watcher")
	if err := w.addRecursive(w.root); err != nil {
		return err
	}
	l.Info("watching library", "root", w.root)

	timer := time.NewTimer(debounceInterval)
	timer.Stop()
	dirty := false

	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			// New directories need their own watch.
			if event.Op.Has(fsnotify.Create) {
				if info, err := afero.NewOsFs().Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(event.Name); err != nil {
						l.Warn("watch add failed", "path", event.Name, "err", err)
					}
				}
			}
			dirty = true
			timer.Reset(debounceInterval)
			// This fires once per fs event during bulk copies.
			if logging.Enabled(slog.LevelDebug) {
				l.Debug("fs event", "op", event.Op.String(), "path", event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			l.Warn("watch error", "err", err)

		case <-timer.C:
			if dirty {
				dirty = false
				select {
				case w.nudge <- struct{}{}:
				default:
					// a rescan is already pending
				}
				l.Debug("library dirty, rescan nudged")
			}
		}
	}
}

// Close stops the underlying watcher.
func (w *Watcher) Close() {
	w.watcher.Close()
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}
