package app

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/dupwrap/internal/output"
)

var (
	historyLimit  int
	historyEvents bool
	historyLast   bool

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "List recent wrapped runs and notifications",
		Long: `List the duplicacy runs the shim has recorded, newest first.

With --events, list the notifications sent by the supervisor and the shim
instead. With --last, show the most recent run in full, including its
summary.`,
		Example: `  # Last 20 runs
  dupwrap history

  # Everything recorded
  dupwrap history --limit 0

  # Supervisor and shim notifications
  dupwrap history --events

  # Full summary of the most recent run
  dupwrap history --last`,
		Args: cobra.NoArgs,
		RunE: runHistory,
	}
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of entries to show (0 for all)")
	historyCmd.Flags().BoolVar(&historyEvents, "events", false, "show notifications instead of runs")
	historyCmd.Flags().BoolVar(&historyLast, "last", false, "show the most recent run in full")

	RootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	if historyLimit < 0 {
		return fmt.Errorf("--limit must be 0 or greater, got %d", historyLimit)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	now := time.Now()

	switch {
	case historyEvents:
		events, err := st.ListEvents(historyLimit)
		if err != nil {
			return fmt.Errorf("failed to list notifications: %w", err)
		}
		fmt.Print(output.RenderEventTable(events, now))
	case historyLast:
		last, err := st.GetLastRun()
		if err != nil {
			return fmt.Errorf("failed to read last run: %w", err)
		}
		if last == nil {
			fmt.Println("No runs recorded.")
			return nil
		}
		fmt.Print(output.RenderRunDetail(last, now))
	default:
		runs, err := st.ListRuns(historyLimit)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}
		fmt.Print(output.RenderRunTable(runs, now))
	}
	return nil
}
