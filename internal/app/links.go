package app

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/dupwrap/internal/config"
	"github.com/blackwell-systems/dupwrap/internal/linkstate"
	"github.com/blackwell-systems/dupwrap/internal/version"
	"github.com/blackwell-systems/dupwrap/internal/watcher"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Print the newest duplicacy binary in the bin directory",
	Long: `Print the path of the newest duplicacy binary in the Web Edition bin
directory, as the supervisor would choose it. Exits with an error when there
is none.`,
	Example: `  dupwrap resolve`,
	Args:    cobra.NoArgs,
	RunE:    runResolve,
}

var wrapCmd = &cobra.Command{
	Use:   "wrap",
	Short: "Wrap the newest binary once, without supervising",
	Long: `Put the shim in front of the newest duplicacy binary and point the host
link at the preserved real binary, then exit. The binary is not re-wrapped
after an upgrade; use 'dupwrap start' for that.

Refused while the supervisor is running.`,
	Example: `  dupwrap wrap`,
	Args:    cobra.NoArgs,
	RunE:    runWrap,
}

var unwrapCmd = &cobra.Command{
	Use:   "unwrap",
	Short: "Restore the real newest binary, without supervising",
	Long: `Remove the shim from the newest duplicacy binary's slot, put the real
binary back, and point the host link at it. The host link target from
before the wrap is not known outside the supervisor.

Refused while the supervisor is running; use 'dupwrap stop' instead.`,
	Example: `  dupwrap unwrap`,
	Args:    cobra.NoArgs,
	RunE:    runUnwrap,
}

func init() {
	RootCmd.AddCommand(resolveCmd)
	RootCmd.AddCommand(wrapCmd)
	RootCmd.AddCommand(unwrapCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	v, err := resolveNewest(cfg)
	if err != nil {
		return err
	}
	fmt.Println(newTopology(cfg).Slot(*v))
	return nil
}

func runWrap(cmd *cobra.Command, args []string) error {
	cfg, err := manualConfig()
	if err != nil {
		return err
	}
	v, err := resolveNewest(cfg)
	if err != nil {
		return err
	}

	if err := ensureShim(cfg); err != nil {
		return err
	}

	topo := newTopology(cfg)
	if err := topo.Wrap(*v); err != nil {
		if errors.Is(err, linkstate.ErrAlreadyWrapped) {
			fmt.Printf("%s is already wrapped\n", v.Name)
			return nil
		}
		return fmt.Errorf("failed to wrap %s: %w", v.Name, err)
	}
	removed, err := topo.Prune(*v)
	if err != nil {
		return fmt.Errorf("wrapped %s, but failed to prune old binaries: %w", v.Name, err)
	}

	fmt.Printf("✓ Wrapped %s\n", v.Name)
	for _, path := range removed {
		fmt.Printf("  removed %s\n", path)
	}
	return nil
}

func runUnwrap(cmd *cobra.Command, args []string) error {
	cfg, err := manualConfig()
	if err != nil {
		return err
	}
	v, err := resolveNewest(cfg)
	if err != nil {
		return err
	}

	topo := newTopology(cfg)
	if state := topo.Inspect(*v); state != linkstate.Wrapped {
		fmt.Printf("%s is not wrapped (%s)\n", v.Name, state)
		return nil
	}
	if err := topo.Unwrap(*v); err != nil {
		return fmt.Errorf("failed to unwrap %s: %w", v.Name, err)
	}

	fmt.Printf("✓ Unwrapped %s\n", v.Name)
	return nil
}

// manualConfig loads the config for a one-shot topology change, which must
// not race the supervisor.
func manualConfig() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	running, err := watcher.IsDaemonRunning(cfg.Paths.PIDFile)
	if err != nil {
		return nil, fmt.Errorf("failed to check daemon status: %w", err)
	}
	if running {
		return nil, fmt.Errorf("the supervisor is running; stop it with 'dupwrap stop' first")
	}
	return cfg, nil
}

func resolveNewest(cfg *config.Config) (*version.Version, error) {
	v, err := version.Resolve(cfg.Paths.BinDir, cfg.Product)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("no %s binary in %s", cfg.Product, cfg.Paths.BinDir)
	}
	return v, nil
}
