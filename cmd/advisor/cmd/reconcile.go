package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/eddiefleurent/strike_advisor/internal/models"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Match a day's notified recommendations to executions",
	Long: `Reconcile reads the execution ledger and classifies every recommendation
notified on the day as consent, modify, reject, independent or no_action.
Re-running a day rewrites the same match rows.

Examples:
  advisor reconcile
  advisor reconcile --day 2025-06-13`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

var outcomesCmd = &cobra.Command{
	Use:   "outcomes",
	Short: "Settle matched trades that have closed or expired",
	Args:  cobra.NoArgs,
	RunE:  runOutcomes,
}

var weeklyCmd = &cobra.Command{
	Use:   "weekly",
	Short: "Summarize an ISO week of reconciliation",
	Long: `Weekly counts classifications, totals realized P&L and mines behavioral
patterns. Suggested parameter changes are advisory and never applied.`,
	Args: cobra.NoArgs,
	RunE: runWeekly,
}

var (
	reconcileDay string
	outcomesAsOf string
	weeklyYear   int
	weeklyWeek   int
)

func init() {
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(outcomesCmd)
	rootCmd.AddCommand(weeklyCmd)

	reconcileCmd.Flags().StringVar(&reconcileDay, "day", "", "day to reconcile, YYYY-MM-DD (default today)")
	outcomesCmd.Flags().StringVar(&outcomesAsOf, "as-of", "", "settle as of this day, YYYY-MM-DD (default today)")
	weeklyCmd.Flags().IntVar(&weeklyYear, "year", 0, "ISO year (default current)")
	weeklyCmd.Flags().IntVar(&weeklyWeek, "week", 0, "ISO week (default current)")
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	day, err := parseDay(reconcileDay, a.loc)
	if err != nil {
		return err
	}
	report, err := a.reconciler.Reconcile(cmd.Context(), day, time.Now())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "reconciled %s: %d matches (%d stale removed)\n", report.Day, len(report.Matches), report.Deleted)
	for _, c := range models.AllClassifications {
		fmt.Fprintf(out, "  %-12s %d\n", c, report.Counts[c])
	}
	for _, m := range report.Matches {
		exec := m.ExecutionID
		if exec == "" {
			exec = "-"
		}
		fmt.Fprintf(out, "  %-6s %-12s score %5.1f  exec %s\n", m.Symbol, m.Classification, m.Confidence, exec)
	}
	return nil
}

func runOutcomes(cmd *cobra.Command, _ []string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	asOf := time.Now()
	if outcomesAsOf != "" {
		day, err := parseDay(outcomesAsOf, a.loc)
		if err != nil {
			return err
		}
		// the whole day counts
		asOf = day.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	n, err := a.reconciler.TrackOutcomes(cmd.Context(), asOf)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "settled %d outcome(s)\n", n)
	return nil
}

func runWeekly(cmd *cobra.Command, _ []string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	now := time.Now()
	year, week := now.In(a.loc).ISOWeek()
	if weeklyYear != 0 {
		year = weeklyYear
	}
	if weeklyWeek != 0 {
		week = weeklyWeek
	}

	ws, err := a.reconciler.WeeklySummary(cmd.Context(), year, week, now)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "week %d-W%02d: %d outcome(s), realized P&L $%.2f\n", ws.Year, ws.Week, ws.Outcomes, ws.RealizedPnL)
	for _, c := range models.AllClassifications {
		fmt.Fprintf(out, "  %-12s %d\n", c, ws.Counts[c])
	}
	for _, p := range ws.Patterns {
		fmt.Fprintf(out, "  pattern %s (%d): %s\n", p.Name, p.Occurrences, p.Description)
	}
	for _, c := range ws.Candidates {
		fmt.Fprintf(out, "  suggest %s %.2f -> %.2f: %s\n", c.Parameter, c.Current, c.Suggested, c.Rationale)
	}
	return nil
}
