// Command dupwrap-shim stands in for the duplicacy CLI binary in the
// Duplicacy Web Edition bin directory. The supervisor symlinks the binary's
// slot to this executable and moves the real binary to its storage dir.
//
// For backup, copy, prune, check and restore the shim runs the real binary
// as a child, relays its output and signals unchanged, and sends one
// summary notification (plus optional health check pings) when it exits.
// Every other command is exec'd directly.
//
// The shim writes nothing of its own to stdout or stderr unless the real
// binary cannot be run; its log goes to paths.shim_log.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/blackwell-systems/dupwrap/internal/config"
	"github.com/blackwell-systems/dupwrap/internal/health"
	"github.com/blackwell-systems/dupwrap/internal/interceptor"
	"github.com/blackwell-systems/dupwrap/internal/notify"
	"github.com/blackwell-systems/dupwrap/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, cfgErr := loadConfig()
	logger, closeLog := openLog(cfg.Paths.ShimLog)
	defer closeLog()
	if cfgErr != nil {
		logger.Warn("using default config", "error", cfgErr)
	}

	ctx := context.Background()
	argv0 := os.Args[0]
	inv := interceptor.ParseArgs(os.Args[1:])

	self, err := os.Executable()
	if err != nil {
		logger.Warn("cannot resolve own executable", "error", err)
	}

	binary, err := interceptor.FindReal(argv0, cfg.Paths.StorageDir, cfg.Paths.HostLink, self)
	if err != nil {
		logger.Error("no real binary", "argv0", argv0, "error", err)
		fmt.Fprintf(os.Stderr, "dupwrap-shim: %v\n", err)
		return 1
	}

	if !inv.Wrapped() {
		if inv.Command != "" && !inv.Passthrough() {
			n := notify.New(cfg.Notify.Backend, cfg.Notify.Command, cfg.Notify.AppName, cfg.Notify.Category, logger)
			notify.Send(ctx, n, logger,
				fmt.Sprintf("[duplicacy %s] %s; unrecognized command, running without notifications", inv.Operation(), inv.CommandLine()),
				notify.Warning)
		}
		logger.Debug("exec", "binary", binary, "command", inv.Command)
		closeLog()
		if err := interceptor.Exec(binary, argv0, inv.Args); err != nil {
			fmt.Fprintf(os.Stderr, "dupwrap-shim: %v\n", err)
		}
		return 1
	}

	st, err := store.Open(cfg.Paths.DB)
	if err != nil {
		logger.Warn("run history unavailable", "error", err)
		st = nil
	}

	var n notify.Notifier = notify.New(cfg.Notify.Backend, cfg.Notify.Command, cfg.Notify.AppName, cfg.Notify.Category, logger)
	r := &interceptor.Runner{
		Binary:     binary,
		Invocation: inv,
		Pinger:     health.NewHTTPPinger(cfg.HealthTimeout(), cfg.Health.Retries),
		Stdin:      os.Stdin,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		Logger:     logger,
	}
	if st != nil {
		defer st.Close()
		n = &notify.Journal{Store: st, Source: "shim", Next: n}
		r.Store = st
	}
	r.Notifier = n

	code, err := r.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dupwrap-shim: %v\n", err)
	}

	if st != nil {
		cutoff := time.Now().Add(-cfg.HistoryRetention())
		if runs, events, err := st.PruneHistory(cutoff); err != nil {
			logger.Warn("failed to prune history", "error", err)
		} else if runs+events > 0 {
			logger.Debug("pruned history", "runs", runs, "events", events)
		}
	}
	return code
}

// loadConfig falls back to the defaults so a broken config never stops a
// backup.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load("")
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		return config.Default(), err
	}
	return cfg, nil
}

// openLog appends to path, or discards when it cannot be opened.
func openLog(path string) (*slog.Logger, func()) {
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	if path == "" {
		return discard, func() {}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return discard, func() {}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return discard, func() {}
	}

	level := slog.LevelInfo
	if os.Getenv("DUPWRAP_DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level})).With("pid", os.Getpid())

	var closed bool
	return logger, func() {
		if !closed {
			closed = true
			f.Close()
		}
	}
}
