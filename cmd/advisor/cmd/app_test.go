package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/strike_advisor/internal/config"
	"github.com/eddiefleurent/strike_advisor/internal/holdings"
	"github.com/eddiefleurent/strike_advisor/internal/mock"
	"github.com/eddiefleurent/strike_advisor/internal/models"
	"github.com/eddiefleurent/strike_advisor/internal/scan"
)

func writeWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	exp := time.Now().AddDate(0, 0, 21).Format("2006-01-02")
	positions := fmt.Sprintf(`positions:
  - symbol: AAPL
    strike: 190
    option_type: call
    expiration: %q
    contracts: 1
    original_premium: 4.20
`, exp)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "positions.yaml"), []byte(positions), 0o600))

	cfg := fmt.Sprintf(`environment:
  log_level: error
schedule:
  timezone: UTC
storage:
  path: %q
holdings:
  path: %q
  ledger_path: %q
`, filepath.Join(dir, "advisor.db"), filepath.Join(dir, "positions.yaml"), filepath.Join(dir, "executions.yaml"))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestCommandsEndToEnd(t *testing.T) {
	path := writeWorkspace(t)

	out := execute(t, "--config", path, "scan", "full")
	assert.Contains(t, out, "full pass")
	assert.Contains(t, out, "1 evaluated")

	out = execute(t, "--config", path, "reconcile")
	assert.Contains(t, out, "reconciled")
	assert.Contains(t, out, "consent")

	out = execute(t, "--config", path, "outcomes")
	assert.Contains(t, out, "settled 0 outcome(s)")

	out = execute(t, "--config", path, "weekly", "--year", "2025", "--week", "24")
	assert.Contains(t, out, "week 2025-W24")
}

func TestScanRejectsUnknownPass(t *testing.T) {
	path := writeWorkspace(t)
	rootCmd.SetArgs([]string{"--config", path, "scan", "lunch"})
	assert.Error(t, rootCmd.Execute())
}

func TestNewLogger(t *testing.T) {
	l, err := newLogger(config.EnvironmentConfig{LogLevel: "warn", LogFormat: "json"})
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, l.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)

	_, err = newLogger(config.EnvironmentConfig{LogLevel: "loud"})
	assert.Error(t, err)
}

func TestParseDay(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	d, err := parseDay("2025-06-13", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 13, 0, 0, 0, 0, loc), d)

	_, err = parseDay("13/06/2025", loc)
	assert.Error(t, err)

	today, err := parseDay("", loc)
	require.NoError(t, err)
	assert.Equal(t, loc, today.Location())
}

func TestAnchoredBookTracksUnderlyings(t *testing.T) {
	path := writeWorkspace(t)
	market := mock.NewMarket(nil)
	book := anchoredBook{file: holdings.NewFile(filepath.Join(filepath.Dir(path), "positions.yaml")), market: market}

	positions, err := book.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)

	ind, err := market.Indicators(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.InDelta(t, 190, ind.Price, 190*0.10)
}

func TestEndOfDayRevisitsPreviousTradingDay(t *testing.T) {
	path := writeWorkspace(t)
	a, err := newApp(path)
	require.NoError(t, err)
	defer a.Close()
	ctx := context.Background()

	// Tuesday recommendation, answered by a roll on Wednesday morning
	tue := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)
	pos := models.Position{
		Symbol: "AAPL", Strike: 200, OptionType: models.OptionCall,
		Expiration: time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC), Contracts: 1, OriginalPremium: 2.5,
	}
	d := &models.Decision{
		Action: models.ActionRollITM, Priority: models.PriorityHigh, Reason: "ITM",
		Target: &models.Target{Strike: 210, Expiration: time.Date(2025, 7, 18, 0, 0, 0, 0, time.UTC), Premium: 3.1},
		Detail: models.ITMRollDetail{ITMPercent: 4, CostCap: 2},
	}
	rec, _, verdict, err := a.lifecycle.Record(ctx, pos, d, models.MarketContext{}, tue)
	require.NoError(t, err)
	require.True(t, verdict.Notify)

	a.endOfDay(ctx, scan.PassEvening, tue.Add(9*time.Hour))
	stored, err := a.store.MatchesForDays(ctx, "2025-06-10", "2025-06-10")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, models.ClassReject, stored[0].Classification)

	ledger := `executions:
  - id: x1
    symbol: AAPL
    option_type: call
    action: roll
    strike: 210
    expiration: "2025-07-18"
    premium: 3.1
    contracts: 1
    executed_at: "2025-06-11T09:45:00Z"
`
	require.NoError(t, os.WriteFile(a.cfg.Holdings.LedgerPath, []byte(ledger), 0o600))

	a.endOfDay(ctx, scan.PassEvening, tue.AddDate(0, 0, 1).Add(9*time.Hour))
	stored, err = a.store.MatchesForDays(ctx, "2025-06-10", "2025-06-11")
	require.NoError(t, err)
	require.Len(t, stored, 1, "the roll answers Tuesday and is not independent on Wednesday")
	assert.Equal(t, "2025-06-10", stored[0].Day.Format("2006-01-02"))
	assert.Equal(t, rec.ID, stored[0].RecommendationID)
	assert.Equal(t, "x1", stored[0].ExecutionID)
	assert.Equal(t, models.ClassConsent, stored[0].Classification)
}
