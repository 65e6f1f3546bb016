package app

import (
	"fmt"

	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the supervisor in the background",
	Long: `Start the supervisor as a background daemon. Equivalent to
'dupwrap watch --daemon'. Refuses to start while dupwrap is disabled.`,
	Example: `  dupwrap start`,
	Args:    cobra.NoArgs,
	RunE:    runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background supervisor",
	Long: `Stop the background supervisor and wait until it has unwrapped the binary
and restored the host link. Equivalent to 'dupwrap watch --stop'.`,
	Example: `  dupwrap stop`,
	Args:    cobra.NoArgs,
	RunE:    runStop,
}

var enableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Allow the supervisor to start",
	Long: `Persist the enabled flag so 'dupwrap start' and 'dupwrap watch' run.
A fresh install is enabled.`,
	Example: `  dupwrap enable && dupwrap start`,
	Args:    cobra.NoArgs,
	RunE:    runEnable,
}

var disableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Stop the supervisor and keep it stopped",
	Long: `Stop a running supervisor (restoring the unwrapped binary) and persist the
disabled flag so it is not started again until 'dupwrap enable'.`,
	Example: `  dupwrap disable`,
	Args:    cobra.NoArgs,
	RunE:    runDisable,
}

func init() {
	RootCmd.AddCommand(startCmd)
	RootCmd.AddCommand(stopCmd)
	RootCmd.AddCommand(enableCmd)
	RootCmd.AddCommand(disableCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := checkEnabled(cfg); err != nil {
		return err
	}
	return startWatchDaemon(cfg)
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return stopWatchDaemon(cfg)
}

func runEnable(cmd *cobra.Command, args []string) error {
	return setEnabled(true)
}

func runDisable(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := setEnabled(false); err != nil {
		return err
	}
	return stopWatchDaemon(cfg)
}

func setEnabled(enabled bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SetEnabled(enabled); err != nil {
		return fmt.Errorf("failed to save enabled flag: %w", err)
	}

	if enabled {
		fmt.Println("✓ dupwrap enabled")
		fmt.Println("Run 'dupwrap start' to start the supervisor.")
	} else {
		fmt.Println("✓ dupwrap disabled")
	}
	return nil
}
