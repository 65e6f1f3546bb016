package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/dupwrap/internal/config"
	"github.com/blackwell-systems/dupwrap/internal/linkstate"
	"github.com/blackwell-systems/dupwrap/internal/output"
	"github.com/blackwell-systems/dupwrap/internal/shim"
	"github.com/blackwell-systems/dupwrap/internal/version"
	"github.com/blackwell-systems/dupwrap/internal/watcher"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the supervisor, the wrapped binary and the last run",
	Long: `Display the current state of dupwrap:

  • Supervisor running status and PID
  • Whether the supervisor is enabled
  • The newest duplicacy binary and whether it is wrapped
  • Where the host duplicacy link points
  • The most recent wrapped run`,
	Example: `  dupwrap status`,
	Args:    cobra.NoArgs,
	RunE:    runStatus,
}

func init() {
	RootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	running, err := watcher.IsDaemonRunning(cfg.Paths.PIDFile)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}

	const label = "%-14s"
	fmt.Println()

	if running {
		pid, _ := watcher.DaemonPID(cfg.Paths.PIDFile)
		fmt.Printf(label+"running (since %s, PID %d)\n", "Supervisor:", pidFileAge(cfg.Paths.PIDFile), pid)
	} else {
		fmt.Printf(label+"stopped  (run 'dupwrap start')\n", "Supervisor:")
	}

	printBinaryStatus(cfg, label)
	printRunStatus(cfg, label)

	fmt.Println()
	return nil
}

func printBinaryStatus(cfg *config.Config, label string) {
	topo := newTopology(cfg)

	if _, err := os.Stat(cfg.Paths.BinDir); os.IsNotExist(err) {
		fmt.Printf(label+"%s (missing)\n", "Bin dir:", cfg.Paths.BinDir)
	} else {
		fmt.Printf(label+"%s\n", "Bin dir:", cfg.Paths.BinDir)
	}

	v, err := version.Resolve(cfg.Paths.BinDir, cfg.Product)
	switch {
	case err != nil:
		fmt.Printf(label+"unknown (%v)\n", "Binary:", err)
	case v == nil:
		fmt.Printf(label+"none\n", "Binary:")
	default:
		state := topo.Inspect(*v)
		fmt.Printf(label+"%s · %s\n", "Binary:", v.Name, state)
		if state == linkstate.Foreign {
			fmt.Printf("              ⚠ The slot is a symlink dupwrap did not create; it will not be touched.\n")
		}
	}

	if target := topo.HostTarget(); target != "" {
		fmt.Printf(label+"%s → %s\n", "Host link:", cfg.Paths.HostLink, target)
	} else {
		fmt.Printf(label+"%s (not a symlink)\n", "Host link:", cfg.Paths.HostLink)
	}
	if ok, _ := shim.HostLinkOnPath(cfg.Paths.HostLink); !ok {
		fmt.Printf("              ⚠ %s is not on PATH\n", filepath.Dir(cfg.Paths.HostLink))
	}

	if linkstate.Executable(cfg.Paths.Shim) {
		fmt.Printf(label+"%s\n", "Shim:", cfg.Paths.Shim)
	} else {
		fmt.Printf(label+"%s (missing, run 'dupwrap install')\n", "Shim:", cfg.Paths.Shim)
	}
}

func printRunStatus(cfg *config.Config, label string) {
	if _, err := os.Stat(cfg.Paths.DB); os.IsNotExist(err) {
		fmt.Printf(label+"yes\n", "Enabled:")
		fmt.Printf(label+"none recorded\n", "Last run:")
		return
	}

	st, err := openStore(cfg)
	if err != nil {
		fmt.Printf(label+"unknown (%v)\n", "Enabled:", err)
		return
	}
	defer st.Close()

	enabled, err := st.Enabled()
	switch {
	case err != nil:
		fmt.Printf(label+"unknown (%v)\n", "Enabled:", err)
	case enabled:
		fmt.Printf(label+"yes\n", "Enabled:")
	default:
		fmt.Printf(label+"no  (run 'dupwrap enable')\n", "Enabled:")
	}

	last, err := st.GetLastRun()
	if err != nil || last == nil {
		fmt.Printf(label+"none recorded\n", "Last run:")
		return
	}
	count, _ := st.CountRuns()
	fmt.Printf(label+"%s · %s · exit %d · %s\n", "Last run:",
		last.Operation, last.Severity, last.ExitCode, output.FormatRelativeTime(last.StartedAt, time.Now()))
	fmt.Printf(label+"%d recorded (see 'dupwrap history')\n", "Runs:", count)
}

// pidFileAge describes how long ago the PID file was written.
func pidFileAge(pidFile string) string {
	info, err := os.Stat(pidFile)
	if err != nil {
		return "unknown"
	}
	return output.FormatRelativeTime(info.ModTime(), time.Now())
}
