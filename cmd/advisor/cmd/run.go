package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/eddiefleurent/strike_advisor/internal/scan"
	"github.com/eddiefleurent/strike_advisor/internal/util"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daily scan passes on schedule",
	Long: `Run ticks on schedule.check_interval and starts each configured pass once per
trading day. After the evening pass the previous trading day and then the
current one are reconciled against the execution ledger and matured trades
are settled; on Fridays the week's summary is written as well.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.logger.Info("advisor starting")
	return a.scanner.Run(ctx)
}

// endOfDay runs the daily batch jobs once the evening pass has finished.
func (a *app) endOfDay(ctx context.Context, pass scan.Pass, now time.Time) {
	if pass != scan.PassEvening {
		return
	}
	log := a.logger.WithField("job", "end_of_day")
	if _, err := os.Stat(a.cfg.Holdings.LedgerPath); errors.Is(err, os.ErrNotExist) {
		log.Warnf("execution ledger %s not found; every recommendation will reconcile without a trade",
			a.cfg.Holdings.LedgerPath)
	}

	// The previous trading day is redone first: its match window now includes
	// today's trades. Reruns rewrite the same rows.
	for _, day := range []time.Time{util.PreviousTradingDay(now.In(a.loc)), now} {
		report, err := a.reconciler.Reconcile(ctx, day, now)
		if err != nil {
			log.WithError(err).Error("reconciliation failed")
			continue
		}
		log.WithFields(logrus.Fields{"day": report.Day, "matches": len(report.Matches)}).Info("reconciled")
	}

	if _, err := a.reconciler.TrackOutcomes(ctx, now); err != nil {
		log.WithError(err).Error("outcome tracking failed")
	}

	local := now.In(a.loc)
	if local.Weekday() == time.Friday {
		year, week := local.ISOWeek()
		if _, err := a.reconciler.WeeklySummary(ctx, year, week, now); err != nil {
			log.WithError(err).Error("weekly summary failed")
		}
	}
}
