// Package cmd holds the advisor's command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "advisor",
	Short: "Roll and adjustment advisor for short option positions",
	Long: `Advisor watches a book of short calls and puts, decides when a roll,
compress or close is warranted, and learns from what was actually traded.

Commands:
  run        - run the five daily scan passes on schedule
  scan       - run a single pass now
  reconcile  - match a day's notified recommendations to executions
  outcomes   - settle matched trades whose option has closed or expired
  weekly     - summarize a week of reconciliation and mine patterns
  history    - show the snapshot history of a position`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
}
