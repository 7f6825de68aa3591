package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/eddiefleurent/strike_advisor/internal/notify"
	"github.com/eddiefleurent/strike_advisor/internal/scan"
)

var scanCmd = &cobra.Command{
	Use:   "scan [pass]",
	Short: "Run a single scan pass now",
	Long: `Run one pass immediately, ignoring the schedule.

Passes:
  full       - evaluate every position and record the morning baseline (default)
  post_open  - urgent decisions that differ from the morning baseline
  midday     - pull-back, compress and weekly-roll opportunities
  pre_close  - positions expiring today
  evening    - next-day prep, informational only

Each invocation starts a fresh day context, so the duplicate filter and the
morning baseline do not carry over between separate scan commands.`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"full", "post_open", "midday", "pre_close", "evening"},
	RunE:      runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	pass := scan.PassFull
	if len(args) == 1 {
		p, err := scan.ParsePass(args[0])
		if err != nil {
			return err
		}
		pass = p
	}

	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.scanner.RunPass(cmd.Context(), pass, time.Now())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s pass %s: %d evaluated, %d decisions, %d recorded, %d notified, %d errors\n",
		res.Pass, res.Day, res.Evaluated, res.Decisions, res.Recorded, res.Notified, res.Errors)
	for _, item := range res.Delivered {
		fmt.Fprintf(out, "  #%d %-17s %s\n", item.Snapshot, item.Verdict.Reason, notify.Render(item.Position, item.Decision))
	}
	for _, item := range res.Informational {
		fmt.Fprintf(out, "  prep %s\n", notify.Render(item.Position, item.Decision))
	}
	return nil
}
