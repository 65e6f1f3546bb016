package app

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool

	// RootCmd is the root command for dupwrap
	RootCmd = &cobra.Command{
		Use:   "dupwrap",
		Short: "Keep the Duplicacy CLI wrapped across Web Edition upgrades",
		Long: `dupwrap puts a notification shim in front of the duplicacy CLI binary that
Duplicacy Web Edition downloads, and keeps it there when the Web Edition
upgrades the binary.

Every backup, copy, prune, check and restore the Web Edition runs then
produces one summary notification in the QNAP Notification Center, and can
ping a health check URL. Options for the shim ride in the -comment
argument of the duplicacy command line:

  -comment "log_at_start,log_verbose,healthchecks=https://hc-ping.com/<uuid>"

The supervisor ('dupwrap watch') watches the Web Edition bin directory and
re-wraps the newest binary whenever it changes. When it stops it unwraps and
points the host duplicacy link back at the real binary.

Examples:
  # Start the supervisor in the background
  dupwrap start

  # Check what is wrapped and what ran recently
  dupwrap status
  dupwrap history

  # Stop the supervisor and keep it stopped
  dupwrap disable`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("dupwrap: notifications for the Duplicacy CLI")
			fmt.Println()
			fmt.Println("Run 'dupwrap start' to wrap the CLI and keep it wrapped.")
			fmt.Println("Run 'dupwrap status' to see what is wrapped.")
			fmt.Println("Run 'dupwrap --help' for the full reference.")
			return nil
		},
	}
)

func init() {
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: $DUPWRAP_CONFIG, then $XDG_CONFIG_HOME/dupwrap/config.yaml; the shim only reads those two)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	RootCmd.SuggestionsMinimumDistance = 2

	RootCmd.AddCommand(watchCmd)
}

// Execute runs the root command
func Execute() error {
	return RootCmd.Execute()
}
