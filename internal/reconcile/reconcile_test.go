package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/strike_advisor/internal/config"
	"github.com/eddiefleurent/strike_advisor/internal/lifecycle"
	"github.com/eddiefleurent/strike_advisor/internal/models"
	"github.com/eddiefleurent/strike_advisor/internal/storage"
)

type mockExecutions struct {
	mock.Mock
}

func (m *mockExecutions) Executions(ctx context.Context, from, to time.Time) ([]models.Execution, error) {
	args := m.Called(ctx, from, to)
	execs, _ := args.Get(0).([]models.Execution)
	return execs, args.Error(1)
}

var (
	day     = time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	morning = day.Add(14 * time.Hour)
	expJul  = time.Date(2025, 7, 18, 0, 0, 0, 0, time.UTC)
	expJun  = time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)
)

func defaultReconCfg() config.ReconciliationConfig {
	return config.Default().Reconciliation
}

type fixture struct {
	store *storage.MockStorage
	life  *lifecycle.Manager
	execs *mockExecutions
	r     *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := storage.NewMockStorage()
	execs := &mockExecutions{}
	return &fixture{
		store: store,
		life:  lifecycle.NewManager(store, lifecycle.Options{}, logger),
		execs: execs,
		r:     NewReconciler(store, execs, defaultReconCfg(), time.UTC, logger),
	}
}

func position(symbol string, strike float64) models.Position {
	return models.Position{
		Symbol:          symbol,
		OptionType:      models.OptionPut,
		Strike:          strike,
		Expiration:      expJun,
		Contracts:       2,
		OriginalPremium: 2.5,
	}
}

func (f *fixture) notify(t *testing.T, pos models.Position, d *models.Decision) *models.Recommendation {
	t.Helper()
	rec, _, v, err := f.life.Record(context.Background(), pos, d, models.MarketContext{}, morning)
	require.NoError(t, err)
	require.True(t, v.Notify)
	return rec
}

func itmRoll(strike, premium float64) *models.Decision {
	return &models.Decision{
		Action:   models.ActionRollITM,
		Priority: models.PriorityHigh,
		Reason:   "ITM",
		Target:   &models.Target{Strike: strike, Expiration: expJul, NetCost: 0.4, Premium: premium},
	}
}

func execution(id, symbol string, action models.ExecutionAction, strike, premium float64, exp, at time.Time) models.Execution {
	return models.Execution{
		ID: id, Symbol: symbol, OptionType: models.OptionPut, Action: action,
		Strike: strike, Premium: premium, Expiration: exp, Contracts: 2, ExecutedAt: at,
	}
}

func byRecommendation(ms []models.Match, recID string) *models.Match {
	for i := range ms {
		if ms[i].RecommendationID == recID {
			return &ms[i]
		}
	}
	return nil
}

func TestReconcileIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := f.notify(t, position("AAPL", 200), itmRoll(190, 2.0))
	execs := []models.Execution{
		execution("e1", "AAPL", models.ExecRoll, 190, 2.0, expJul, day.Add(15*time.Hour)),
		execution("e2", "TSLA", models.ExecSellToOpen, 250, 3.0, expJul, day.Add(16*time.Hour)),
	}
	f.execs.On("Executions", mock.Anything, day, day.AddDate(0, 0, 2)).Return(execs, nil)

	first, err := f.r.Reconcile(ctx, day, day.Add(20*time.Hour))
	require.NoError(t, err)
	require.Len(t, first.Matches, 2)

	m := byRecommendation(first.Matches, rec.ID)
	require.NotNil(t, m)
	assert.Equal(t, models.ClassConsent, m.Classification)
	assert.Equal(t, "e1", m.ExecutionID)
	assert.Equal(t, 100.0, m.Confidence)
	assert.Equal(t, 1, first.Counts[models.ClassIndependent])

	second, err := f.r.Reconcile(ctx, day, day.Add(21*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, second.Deleted)

	stored, err := f.store.MatchesForDays(ctx, "2025-06-10", "2025-06-10")
	require.NoError(t, err)
	require.Len(t, stored, 2, "rerun must update rows, not add them")

	firstIDs := map[string]models.Classification{}
	for _, m := range first.Matches {
		firstIDs[m.ID] = m.Classification
	}
	for _, m := range stored {
		assert.Equal(t, firstIDs[m.ID], m.Classification, "match %s", m.ID)
	}

	got, err := f.store.GetRecommendation(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, got.Status)
	assert.Equal(t, models.ResolvedExecuted, got.ResolutionReason)
}

func TestReconcileClassifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	modified := f.notify(t, position("AAPL", 200), itmRoll(190, 2.0))
	rejected := f.notify(t, position("MSFT", 400), itmRoll(380, 3.0))
	warned := f.notify(t, position("AMZN", 180), &models.Decision{
		Action: models.ActionNearITMWarning, Priority: models.PriorityMedium, Reason: "1.5% OTM",
	})
	farOff := f.notify(t, position("NFLX", 600), itmRoll(580, 4.0))

	execs := []models.Execution{
		// 3.7% lower strike than recommended
		execution("e1", "AAPL", models.ExecRoll, 183, 2.0, expJul, day.Add(15*time.Hour)),
		// nothing like the recommendation: scores below the minimum
		execution("e2", "NFLX", models.ExecSellToOpen, 900, 12.0, expJul.AddDate(0, 3, 0), day.Add(15*time.Hour)),
	}
	f.execs.On("Executions", mock.Anything, mock.Anything, mock.Anything).Return(execs, nil)

	report, err := f.r.Reconcile(ctx, day, day.Add(20*time.Hour))
	require.NoError(t, err)

	m := byRecommendation(report.Matches, modified.ID)
	require.NotNil(t, m)
	assert.Equal(t, models.ClassModify, m.Classification)
	assert.InDelta(t, -3.68, m.StrikeDeltaPct, 0.01)

	assert.Equal(t, models.ClassReject, byRecommendation(report.Matches, rejected.ID).Classification)
	assert.Equal(t, models.ClassNoAction, byRecommendation(report.Matches, warned.ID).Classification)

	far := byRecommendation(report.Matches, farOff.ID)
	assert.Equal(t, models.ClassReject, far.Classification)
	assert.Empty(t, far.ExecutionID, "a below-threshold score never forces a match")
	assert.Equal(t, 1, report.Counts[models.ClassIndependent])
}

func TestReconcileDropsStaleMatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.notify(t, position("AAPL", 200), itmRoll(190, 2.0))
	e := execution("e1", "TSLA", models.ExecSellToOpen, 250, 3.0, expJul, day.Add(15*time.Hour))

	f.execs.On("Executions", mock.Anything, mock.Anything, mock.Anything).Return([]models.Execution{e}, nil).Once()
	_, err := f.r.Reconcile(ctx, day, day.Add(20*time.Hour))
	require.NoError(t, err)

	// The ledger now reports the TSLA trade under the AAPL symbol.
	e.Symbol = "AAPL"
	e.Strike, e.Premium, e.Action = 190, 2.0, models.ExecRoll
	f.execs.On("Executions", mock.Anything, mock.Anything, mock.Anything).Return([]models.Execution{e}, nil).Once()
	report, err := f.r.Reconcile(ctx, day, day.Add(21*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)

	stored, err := f.store.MatchesForDays(ctx, "2025-06-10", "2025-06-10")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, models.ClassConsent, stored[0].Classification)
	f.execs.AssertExpectations(t)
}

func TestReconcileExecutionUsedOnlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := f.notify(t, position("AAPL", 200), itmRoll(190, 2.0))
	e := execution("e1", "AAPL", models.ExecRoll, 190, 2.0, expJul, day.AddDate(0, 0, 1).Add(15*time.Hour))
	f.execs.On("Executions", mock.Anything, mock.Anything, mock.Anything).Return([]models.Execution{e}, nil)

	first, err := f.r.Reconcile(ctx, day, day.Add(20*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "e1", byRecommendation(first.Matches, rec.ID).ExecutionID)

	// Next day: the execution was consumed by yesterday's recommendation.
	next, err := f.r.Reconcile(ctx, day.AddDate(0, 0, 1), day.AddDate(0, 0, 1).Add(20*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, next.Matches)
}

func TestScore(t *testing.T) {
	tests := []struct {
		name    string
		d       deltas
		aligned bool
		want    float64
	}{
		{"exact aligned clamps to 100", deltas{}, true, 100},
		{"exact unaligned", deltas{}, false, 100},
		{"strike penalty", deltas{strikePct: 5}, false, 85},
		{"strike penalty capped", deltas{strikePct: -40}, false, 70},
		{"expiration penalty", deltas{days: -7}, false, 86},
		{"expiration penalty capped", deltas{days: 60}, false, 70},
		{"premium penalty", deltas{premiumPct: 10}, false, 95},
		{"premium penalty capped", deltas{premiumPct: 90}, false, 80},
		{"everything wrong", deltas{strikePct: 50, days: 90, premiumPct: 200}, true, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, score(tt.d, tt.aligned), 1e-9)
		})
	}
}

func TestClassify(t *testing.T) {
	r := &Reconciler{cfg: defaultReconCfg()}
	assert.Equal(t, models.ClassConsent, r.classify(deltas{strikePct: 3, days: 2}))
	assert.Equal(t, models.ClassModify, r.classify(deltas{strikePct: 3.1}))
	assert.Equal(t, models.ClassModify, r.classify(deltas{days: -3}))
	assert.Equal(t, models.ClassNoAction, unmatched(models.ActionMonitor))
	assert.Equal(t, models.ClassReject, unmatched(models.ActionCompress))
}
