package watcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/blackwell-systems/dupwrap/internal/linkstate"
	"github.com/blackwell-systems/dupwrap/internal/notify"
	"github.com/blackwell-systems/dupwrap/internal/version"
)

// State is the supervisor's view of the bin dir.
type State int

const (
	Unwrapped State = iota
	Wrapped
	Terminating
)

func (s State) String() string {
	switch s {
	case Unwrapped:
		return "unwrapped"
	case Wrapped:
		return "wrapped"
	case Terminating:
		return "terminating"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Linker is the part of *linkstate.Topology the watcher drives.
type Linker interface {
	Slot(v version.Version) string
	Inspect(v version.Version) linkstate.State
	Wrap(v version.Version) error
	Unwrap(v version.Version) error
	Relink(path string) error
	Prune(keep version.Version) ([]string, error)
}

// Options configures a Watcher.
type Options struct {
	BinDir  string
	Product string

	// VanishGrace is how long a removed bin dir may stay absent before Run
	// gives up. Default: 10s
	VanishGrace time.Duration

	// Settle collects a burst of events into one reconcile. Default: 250ms
	Settle time.Duration
}

// Watcher wraps the newest duplicacy binary in BinDir and keeps it wrapped.
type Watcher struct {
	opts     Options
	topo     Linker
	notifier notify.Notifier
	logger   *slog.Logger

	// mu serializes reconcile and shutdown; they are the only code paths
	// that mutate the topology.
	mu          sync.Mutex
	state       State
	current     *version.Version
	lastFailure string
}

// New creates a new Watcher instance.
func New(opts Options, topo Linker, n notify.Notifier, logger *slog.Logger) (*Watcher, error) {
	if topo == nil {
		return nil, fmt.Errorf("linker cannot be nil")
	}
	if opts.BinDir == "" {
		return nil, fmt.Errorf("bin dir is required")
	}
	opts.BinDir = filepath.Clean(opts.BinDir)
	if opts.Product == "" {
		opts.Product = "duplicacy"
	}
	if opts.VanishGrace <= 0 {
		opts.VanishGrace = 10 * time.Second
	}
	if opts.Settle <= 0 {
		opts.Settle = 250 * time.Millisecond
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Watcher{
		opts:     opts,
		topo:     topo,
		notifier: n,
		logger:   logger,
		state:    Unwrapped,
	}, nil
}

// State returns the current state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Current returns the wrapped version, or nil.
func (w *Watcher) Current() *version.Version {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return nil
	}
	v := *w.current
	return &v
}

func (w *Watcher) notify(ctx context.Context, text string, sev notify.Severity) {
	notify.Send(ctx, w.notifier, w.logger, text, sev)
}

// fail notifies an error once per distinct message so a persistent problem
// does not notify on every directory event.
func (w *Watcher) fail(ctx context.Context, text string) {
	w.logger.Error(text)
	if text == w.lastFailure {
		return
	}
	w.lastFailure = text
	w.notify(ctx, text, notify.Error)
}

// reconcile brings the topology in line with the newest binary in BinDir.
func (w *Watcher) reconcile(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == Terminating {
		return
	}

	v, err := version.Resolve(w.opts.BinDir, w.opts.Product)
	if err != nil {
		w.fail(ctx, fmt.Sprintf("cannot scan %s: %v", w.opts.BinDir, err))
		return
	}
	if v == nil {
		// Upgrade window: the old binary is gone and the new one has not
		// landed yet.
		w.logger.Info("no binary in bin dir", "dir", w.opts.BinDir, "product", w.opts.Product)
		return
	}

	if w.current != nil && w.current.Name == v.Name && w.topo.Inspect(*v) == linkstate.Wrapped {
		return
	}

	if w.current != nil {
		if err := w.topo.Unwrap(*w.current); err != nil {
			// Expected when the application deleted or replaced the old
			// version.
			w.logger.Warn("unwrap of previous binding failed", "version", w.current.Name, "error", err)
		} else {
			w.logger.Info("unwrapped", "version", w.current.Name)
		}
		w.current = nil
		w.state = Unwrapped
	}

	err = w.topo.Wrap(*v)
	switch {
	case err == nil:
	case errors.Is(err, linkstate.ErrAlreadyWrapped):
		w.logger.Info("adopting existing wrap", "version", v.Name)
		w.current = v
		w.state = Wrapped
		w.lastFailure = ""
		return
	default:
		w.fail(ctx, fmt.Sprintf("failed to wrap %s: %v", v.Name, err))
		return
	}

	w.current = v
	w.state = Wrapped
	w.lastFailure = ""
	w.logger.Info("wrapped", "version", v.Name)

	if removed, err := w.topo.Prune(*v); err != nil {
		w.logger.Warn("prune failed", "error", err)
	} else if len(removed) > 0 {
		w.logger.Info("pruned preserved binaries", "removed", removed)
	}

	w.notify(ctx, "wrapped "+v.Name, notify.Information)
}

// shutdown unwraps and points the host link at the newest real binary.
// It runs once, after the event loop has stopped.
func (w *Watcher) shutdown(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// The run context is already cancelled; notifications must still go out.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	w.state = Terminating

	target := w.current
	if target == nil {
		if v, err := version.Resolve(w.opts.BinDir, w.opts.Product); err == nil && v != nil && w.topo.Inspect(*v) == linkstate.Wrapped {
			target = v
		}
	}
	if target != nil {
		if err := w.topo.Unwrap(*target); err != nil {
			w.logger.Warn("unwrap on shutdown failed", "version", target.Name, "error", err)
		} else {
			w.logger.Info("unwrapped", "version", target.Name)
		}
	}
	w.current = nil

	v, err := version.Resolve(w.opts.BinDir, w.opts.Product)
	if err != nil || v == nil || !linkstate.Executable(w.topo.Slot(*v)) {
		w.fail(ctx, fmt.Sprintf("no executable %s binary in %s", w.opts.Product, w.opts.BinDir))
		return
	}

	if err := w.topo.Relink(w.topo.Slot(*v)); err != nil {
		w.fail(ctx, fmt.Sprintf("failed to restore %s: %v", v.Name, err))
		return
	}
	w.logger.Info("restored", "version", v.Name)
	w.notify(ctx, "restored "+v.Name, notify.Information)
}
