package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/blackwell-systems/dupwrap/internal/notify"
)

var errGraceExpired = errors.New("grace period expired")

// Run watches BinDir until ctx is cancelled or the directory vanishes for
// longer than VanishGrace. On cancellation it runs the shutdown cleanup and
// returns only after it has finished.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	binDir := w.opts.BinDir

	if !dirExists(binDir) {
		w.logger.Info("waiting for bin dir", "dir", binDir)
	}
	if err := w.awaitDir(ctx, fw, 0); err != nil {
		if ctx.Err() != nil {
			w.shutdown(ctx)
			return nil
		}
		return err
	}

	for {
		// The parent reports the bin dir's own removal by name.
		if err := fw.Add(filepath.Dir(binDir)); err != nil {
			w.logger.Warn("cannot watch parent of bin dir", "dir", filepath.Dir(binDir), "error", err)
		}

		if err := fw.Add(binDir); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to watch %s: %w", binDir, err)
		} else if err == nil {
			w.logger.Info("watching", "dir", binDir, "product", w.opts.Product)
			w.reconcile(ctx)
			if err := w.watch(ctx, fw); err != nil {
				return err
			}
			if ctx.Err() != nil {
				w.shutdown(ctx)
				return nil
			}
		}

		w.logger.Warn("bin dir vanished", "dir", binDir, "grace", w.opts.VanishGrace)
		err := w.awaitDir(ctx, fw, w.opts.VanishGrace)
		switch {
		case err == nil:
			w.logger.Info("bin dir is back", "dir", binDir)
		case ctx.Err() != nil:
			w.shutdown(ctx)
			return nil
		case errors.Is(err, errGraceExpired):
			w.mu.Lock()
			w.state = Terminating
			w.mu.Unlock()
			w.logger.Error("bin dir did not come back, stopping", "dir", binDir)
			w.notify(ctx, fmt.Sprintf("%s disappeared; %s supervisor stopped", binDir, w.opts.Product), notify.Error)
			return nil
		default:
			return err
		}
	}
}

// watch blocks on events for the bin dir. It returns nil when ctx is
// cancelled or the bin dir is gone.
func (w *Watcher) watch(ctx context.Context, fw *fsnotify.Watcher) error {
	binDir := w.opts.BinDir
	var settle <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return errors.New("fsnotify event channel closed")
			}
			if ev.Name != binDir && filepath.Dir(ev.Name) != binDir {
				continue
			}
			w.logger.Debug("event", "op", ev.Op.String(), "name", ev.Name)

			if ev.Name == binDir && (ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)) && !dirExists(binDir) {
				return nil
			}
			if settle == nil {
				settle = time.After(w.opts.Settle)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("fsnotify error channel closed")
			}
			// Usually a queue overflow; events may have been lost.
			w.logger.Warn("fsnotify error", "error", err)
			if settle == nil {
				settle = time.After(w.opts.Settle)
			}

		case <-settle:
			settle = nil
			if !dirExists(binDir) {
				return nil
			}
			w.reconcile(ctx)
		}
	}
}

// awaitDir blocks until the bin dir exists. It watches the nearest existing
// ancestor instead of polling. A zero grace waits indefinitely.
func (w *Watcher) awaitDir(ctx context.Context, fw *fsnotify.Watcher, grace time.Duration) error {
	binDir := w.opts.BinDir
	parent := filepath.Dir(binDir)

	var deadline <-chan time.Time
	if grace > 0 {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		deadline = timer.C
	}

	var watched string
	defer func() {
		if watched != "" && watched != parent {
			_ = fw.Remove(watched)
		}
	}()

	for {
		if dirExists(binDir) {
			return nil
		}

		if anc := nearestExisting(parent); anc != watched {
			if watched != "" && watched != parent {
				_ = fw.Remove(watched)
			}
			if err := fw.Add(anc); err != nil {
				return fmt.Errorf("failed to watch %s: %w", anc, err)
			}
			watched = anc
			// Re-check: the dir may have appeared before the watch existed.
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return errGraceExpired
		case _, ok := <-fw.Events:
			if !ok {
				return errors.New("fsnotify event channel closed")
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("fsnotify error channel closed")
			}
			w.logger.Warn("fsnotify error", "error", err)
		}
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func nearestExisting(path string) string {
	for {
		if dirExists(path) {
			return path
		}
		next := filepath.Dir(path)
		if next == path {
			return path
		}
		path = next
	}
}
