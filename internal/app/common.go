package app

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/blackwell-systems/dupwrap/internal/config"
	"github.com/blackwell-systems/dupwrap/internal/linkstate"
	"github.com/blackwell-systems/dupwrap/internal/notify"
	"github.com/blackwell-systems/dupwrap/internal/store"
	"github.com/blackwell-systems/dupwrap/internal/watcher"
)

// loadConfig loads and validates the configuration selected by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func openStore(cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.Paths.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return st, nil
}

func newTopology(cfg *config.Config) *linkstate.Topology {
	return linkstate.New(cfg.Paths.BinDir, cfg.Paths.StorageDir, cfg.Paths.HostLink, cfg.Paths.Shim)
}

// newNotifier returns the configured delivery backend, journaled to st
// under source.
func newNotifier(cfg *config.Config, st *store.Store, source string, logger *slog.Logger) notify.Notifier {
	n := notify.New(cfg.Notify.Backend, cfg.Notify.Command, cfg.Notify.AppName, cfg.Notify.Category, logger)
	if st == nil {
		return n
	}
	return &notify.Journal{Store: st, Source: source, Next: n}
}

func newWatcher(cfg *config.Config, st *store.Store, logger *slog.Logger) (*watcher.Watcher, error) {
	return watcher.New(watcher.Options{
		BinDir:      cfg.Paths.BinDir,
		Product:     cfg.Product,
		VanishGrace: cfg.VanishGrace(),
	}, newTopology(cfg), newNotifier(cfg, st, "watcher", logger), logger)
}

// daemonArgs are the arguments the background supervisor is started with.
func daemonArgs() []string {
	args := []string{"watch", "--daemon-child"}
	if configPath != "" {
		path := configPath
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		args = append(args, "--config", path)
	}
	if verbose {
		args = append(args, "--verbose")
	}
	return args
}
