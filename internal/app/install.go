package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/dupwrap/internal/config"
	"github.com/blackwell-systems/dupwrap/internal/shim"
)

var (
	installFrom string

	installCmd = &cobra.Command{
		Use:   "install",
		Short: "Install the dupwrap-shim executable at paths.shim",
		Long: `Copy the dupwrap-shim executable to paths.shim, where the supervisor links
wrapped binary slots. The shim is taken from --from, or from the directory of
the running dupwrap binary, or from PATH.

'dupwrap start', 'dupwrap watch' and 'dupwrap wrap' install the shim
themselves when it is missing; run install to replace an existing one after
an upgrade of dupwrap.`,
		Example: `  # Install or update the shim
  dupwrap install

  # Install a specific build
  dupwrap install --from ./dist/dupwrap-shim`,
		Args: cobra.NoArgs,
		RunE: runInstall,
	}
)

func init() {
	installCmd.Flags().StringVar(&installFrom, "from", "", "shim executable to install")
	RootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	src := installFrom
	if src == "" {
		self, _ := os.Executable()
		if src, err = shim.Locate(self); err != nil {
			return err
		}
	}
	if err := shim.Install(src, cfg.Paths.Shim); err != nil {
		return fmt.Errorf("failed to install shim: %w", err)
	}

	fmt.Printf("✓ Installed %s\n", cfg.Paths.Shim)
	if ok, reason := shim.HostLinkOnPath(cfg.Paths.HostLink); !ok {
		fmt.Printf("⚠ %s\n", reason)
	}
	return nil
}

// ensureShim installs the shim when paths.shim has none, so a wrap never
// links a slot to a missing file.
func ensureShim(cfg *config.Config) error {
	self, _ := os.Executable()
	installed, err := shim.Ensure(cfg.Paths.Shim, self)
	if err != nil {
		return fmt.Errorf("shim missing at %s: %w (run 'dupwrap install --from <path>')", cfg.Paths.Shim, err)
	}
	if installed {
		fmt.Printf("Installed %s\n", cfg.Paths.Shim)
	}
	return nil
}
