package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/dupwrap/internal/config"
	"github.com/blackwell-systems/dupwrap/internal/output"
	"github.com/blackwell-systems/dupwrap/internal/watcher"
)

// errDisabled is returned when the supervisor is started while disabled.
var errDisabled = errors.New("dupwrap is disabled (run 'dupwrap enable' first)")

var (
	watchDaemon      bool
	watchDaemonChild bool
	watchPIDFile     string
	watchLogFile     string
	watchStop        bool

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Supervise the duplicacy binary in the Web Edition bin directory",
		Long: `Watch the Duplicacy Web Edition bin directory and keep the newest duplicacy
binary wrapped by the notification shim.

On start the newest binary is wrapped. Whenever the bin directory changes
(an upgrade downloads a new binary, or replaces the shim) the newest binary
is wrapped again and older preserved copies are removed. If the bin
directory is removed and does not come back within the grace period, the
supervisor stops.

On SIGTERM, SIGINT or SIGHUP the supervisor unwraps the binary and points
the host duplicacy link at it before exiting.

Watch modes:
  • Foreground (default): Run in current terminal with Ctrl+C to stop
  • Daemon: Run as a background process
  • Stop: Stop a running daemon and wait for its cleanup`,
		Example: `  # Run in foreground (Ctrl+C to stop)
  dupwrap watch

  # Run as background daemon
  dupwrap watch --daemon

  # Stop running daemon
  dupwrap watch --stop

  # Use custom PID and log files
  dupwrap watch --daemon --pid-file /tmp/watch.pid --log-file /tmp/watch.log`,
		RunE: runWatch,
	}
)

func init() {
	watchCmd.Flags().BoolVar(&watchDaemon, "daemon", false, "run as background daemon")
	watchCmd.Flags().BoolVar(&watchDaemonChild, "daemon-child", false, "internal flag for daemon child process")
	watchCmd.Flags().StringVar(&watchPIDFile, "pid-file", "", "PID file path (default: paths.pid_file)")
	watchCmd.Flags().StringVar(&watchLogFile, "log-file", "", "log file path (default: paths.log_file)")
	watchCmd.Flags().BoolVar(&watchStop, "stop", false, "stop running daemon")

	watchCmd.Flags().MarkHidden("daemon-child")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if watchPIDFile != "" {
		cfg.Paths.PIDFile = watchPIDFile
	}
	if watchLogFile != "" {
		cfg.Paths.LogFile = watchLogFile
	}

	if watchStop {
		return stopWatchDaemon(cfg)
	}

	// The daemon child was gated by its parent.
	if watchDaemonChild {
		return runWatchDaemonChild(cfg)
	}

	if err := checkEnabled(cfg); err != nil {
		return err
	}
	if watchDaemon {
		return startWatchDaemon(cfg)
	}
	return runWatchForeground(cfg)
}

// checkEnabled refuses to start a disabled supervisor.
func checkEnabled(cfg *config.Config) error {
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	enabled, err := st.Enabled()
	if err != nil {
		return fmt.Errorf("failed to read enabled flag: %w", err)
	}
	if !enabled {
		return errDisabled
	}
	return nil
}

func stopWatchDaemon(cfg *config.Config) error {
	running, err := watcher.IsDaemonRunning(cfg.Paths.PIDFile)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}
	if !running {
		fmt.Println("Daemon is not running")
		return nil
	}

	spinner := output.NewSpinner("Stopping daemon").ShowElapsed()
	spinner.Start()
	if err := watcher.StopDaemon(cfg.Paths.PIDFile, cfg.StopTimeout()); err != nil {
		spinner.Stop()
		if errors.Is(err, watcher.ErrNotRunning) {
			fmt.Println("Daemon is not running")
			return nil
		}
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	spinner.StopWithMessage("✓ Daemon stopped")
	return nil
}

func startWatchDaemon(cfg *config.Config) error {
	running, err := watcher.IsDaemonRunning(cfg.Paths.PIDFile)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}
	if running {
		return fmt.Errorf("daemon already running (PID file: %s)", cfg.Paths.PIDFile)
	}

	if err := ensureShim(cfg); err != nil {
		return err
	}

	args := daemonArgs()
	if watchPIDFile != "" {
		args = append(args, "--pid-file", cfg.Paths.PIDFile)
	}

	spinner := output.NewSpinner("Starting daemon")
	spinner.Start()
	if err := watcher.StartDaemon(cfg.Paths.PIDFile, cfg.Paths.LogFile, args...); err != nil {
		spinner.Stop()
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	spinner.StopWithMessage("✓ Daemon started")

	fmt.Printf("\nSupervising %s\n", cfg.Paths.BinDir)
	fmt.Printf("  PID file: %s\n", cfg.Paths.PIDFile)
	fmt.Printf("  Log file: %s\n", cfg.Paths.LogFile)
	fmt.Printf("\nTo stop: dupwrap stop\n")
	return nil
}

// runWatchDaemonChild runs in the background process; stdout and stderr
// are the log file.
func runWatchDaemonChild(cfg *config.Config) error {
	logger := newLogger(os.Stderr)

	st, err := openStore(cfg)
	if err != nil {
		logger.Warn("running without journal", "error", err)
	} else {
		defer st.Close()
	}

	w, err := newWatcher(cfg, st, logger)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	return watcher.RunDaemon(context.Background(), w, cfg.Paths.PIDFile)
}

func runWatchForeground(cfg *config.Config) error {
	running, err := watcher.IsDaemonRunning(cfg.Paths.PIDFile)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}
	if running {
		return fmt.Errorf("daemon already running (PID file: %s); stop it first", cfg.Paths.PIDFile)
	}

	if err := ensureShim(cfg); err != nil {
		return err
	}

	logger := newLogger(os.Stderr)
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	w, err := newWatcher(cfg, st, logger)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	fmt.Printf("Supervising %s (press Ctrl+C to stop)...\n\n", cfg.Paths.BinDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer stop()

	if err := w.Run(ctx); err != nil {
		return fmt.Errorf("watcher failed: %w", err)
	}
	fmt.Println("Supervisor stopped")
	return nil
}
