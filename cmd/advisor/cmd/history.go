package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/eddiefleurent/strike_advisor/internal/models"
	"github.com/eddiefleurent/strike_advisor/internal/storage"
)

var historyCmd = &cobra.Command{
	Use:   "history <position-key|recommendation-id>",
	Short: "Show the snapshot history of a position",
	Long: `History prints every snapshot recorded for a recommendation, oldest first.
The argument is either a recommendation id or a position key such as
AAPL|180.00|call|2025-03-21|IRA.`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	id := args[0]
	if strings.Contains(id, "|") {
		id = models.RecommendationID(id)
	}
	rec, err := a.store.GetRecommendation(cmd.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("no recommendation %s", args[0])
	}
	if err != nil {
		return err
	}

	snaps, err := a.lifecycle.History(cmd.Context(), rec.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%s", rec.PositionKey, rec.Status)
	if rec.ResolutionReason != "" {
		fmt.Fprintf(out, ": %s", rec.ResolutionReason)
	}
	fmt.Fprintln(out, ")")
	for _, s := range snaps {
		sent := " "
		if s.Notified {
			sent = "*"
		}
		fmt.Fprintf(out, "%s #%-3d %s %-18s %-7s %-17s %s\n", sent, s.Number,
			s.CreatedAt.In(a.loc).Format("2006-01-02 15:04"), s.Action, s.Priority, s.VerdictReason, s.Reason)
	}
	return nil
}
