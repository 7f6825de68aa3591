package notify

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/strike_advisor/internal/models"
)

var pos = models.Position{
	Symbol:          "NVDA",
	OptionType:      models.OptionCall,
	Strike:          180,
	Expiration:      time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC),
	Contracts:       1,
	OriginalPremium: 4.2,
}

func TestRender(t *testing.T) {
	aug := time.Date(2025, 8, 15, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		decision *models.Decision
		contains []string
	}{
		{
			name: "compress",
			decision: &models.Decision{
				Action: models.ActionCompress, Priority: models.PriorityMedium, Reason: "weekly income",
				Target: &models.Target{Strike: 180, Expiration: aug, NetCost: -0.25},
				Detail: models.CompressDetail{Mode: models.CompressWeeklyIncome, FromExpiration: pos.Expiration, CostCap: 1},
			},
			contains: []string{"[MEDIUM] COMPRESS NVDA 180.00C Jun 20", "weekly income", "$0.25 credit", "cap $1.00"},
		},
		{
			name: "catastrophic",
			decision: &models.Decision{
				Action: models.ActionCloseCatastrophic, Priority: models.PriorityUrgent, Reason: "no escape",
				Detail: models.CatastrophicDetail{HorizonDays: 180, CostCap: 5, BuyBack: 21.4, Candidates: 12},
			},
			contains: []string{"[URGENT]", "no roll within 180 days under $5.00", "buy back ~$21.40"},
		},
		{
			name: "redeploy",
			decision: &models.Decision{
				Action: models.ActionRollWeekly, Priority: models.PriorityMedium, Reason: "captured",
				Detail: models.WeeklyRollDetail{ProfitPercent: 0.72, Redeploy: true},
			},
			contains: []string{"72% captured; close and redeploy"},
		},
		{
			name: "monitor",
			decision: &models.Decision{
				Action: models.ActionMonitor, Priority: models.PriorityLow, Reason: "far dated",
				Detail:           models.MonitorDetail{Tag: models.MonitorForCompress, ITMPercent: 0.031},
				TechnicalSummary: "price 185.00 | RSI 61.0",
			},
			contains: []string{"watching (monitor for compress), 3.1% ITM", "RSI 61.0"},
		},
		{
			name: "no detail",
			decision: &models.Decision{
				Action: models.ActionRollITM, Priority: models.PriorityHigh, Reason: "ITM",
				Target: &models.Target{Strike: 190, Expiration: aug, NetCost: 0.8},
			},
			contains: []string{"to 190.00 Aug 15 for $0.80 debit"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Render(pos, tt.decision)
			for _, want := range tt.contains {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestLogNotifier(t *testing.T) {
	logger, hook := test.NewNullLogger()
	n := NewLogNotifier(logger)

	d := &models.Decision{Action: models.ActionNearITMWarning, Priority: models.PriorityHigh, Reason: "0.8% OTM",
		Detail: models.NearITMDetail{OTMPercent: 0.008, DaysToExpiry: 3}}
	err := n.Notify(context.Background(), Notification{
		Position: pos, Decision: d, Pass: "full_scan", Snapshot: 2,
		Verdict: models.Verdict{Notify: true, Reason: models.VerdictFirstSnapshot},
	})
	require.NoError(t, err)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, pos.Key(), entry.Data["position"])
	assert.Equal(t, 2, entry.Data["snapshot"])
	assert.Contains(t, entry.Message, "0.8% OTM with 3 days left")

	assert.Error(t, n.Notify(context.Background(), Notification{Position: pos}))
}
