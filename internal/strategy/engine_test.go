package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/strike_advisor/internal/config"
	"github.com/eddiefleurent/strike_advisor/internal/models"
)

var testNow = time.Date(2025, 1, 6, 15, 0, 0, 0, time.UTC)

// fakeSearcher returns canned candidates per roll kind and records every request.
type fakeSearcher struct {
	byKind   map[models.RollKind][]models.RollCandidate
	err      error
	requests []models.RollRequest
}

func (f *fakeSearcher) SearchRolls(_ context.Context, req models.RollRequest) ([]models.RollCandidate, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.byKind[req.Kind], nil
}

func newTestEngine() *Engine {
	logger, _ := test.NewNullLogger()
	return NewEngine(config.Default().Decision, 30*time.Minute, logger)
}

func indicators(price float64) *models.Indicators {
	return &models.Indicators{
		Symbol:          "X",
		Price:           price,
		RSI:             50,
		BollingerLower:  price * 0.95,
		BollingerMiddle: price,
		BollingerUpper:  price * 1.05,
		Volatility:      0.30,
		AsOf:            testNow.Add(-5 * time.Minute),
	}
}

func daysOut(n int) time.Time {
	y, m, d := testNow.AddDate(0, 0, n).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func candidate(strike float64, days int, netCost float64) models.RollCandidate {
	return models.RollCandidate{Strike: strike, Expiration: daysOut(days), NetCost: netCost, Premium: 1, ProbOTM: 0.8}
}

func TestEvaluate_CompressScenario(t *testing.T) {
	// $180 call, 10 DTE, price $183 (1.7% ITM), 65% captured, shorter $185 at a $0.10 credit
	pos := models.Position{
		Symbol: "X", Strike: 180, OptionType: models.OptionCall, Expiration: daysOut(10),
		Contracts: 1, OriginalPremium: 10.00, CurrentPremium: 3.50,
	}
	rolls := &fakeSearcher{byKind: map[models.RollKind][]models.RollCandidate{
		models.RollCompress: {{Strike: 185, Expiration: daysOut(3), Premium: 3.60, BuyBack: 3.50, NetCost: -0.10, ProbOTM: 0.55}},
		models.RollEscape:   {candidate(190, 38, 1.50)},
	}}

	d := newTestEngine().Evaluate(context.Background(), pos, indicators(183), rolls, testNow)

	require.NotNil(t, d)
	assert.Equal(t, models.ActionCompress, d.Action)
	assert.Equal(t, models.PriorityMedium, d.Priority)
	require.NotNil(t, d.Target)
	assert.Equal(t, 185.0, d.Target.Strike)
	assert.InDelta(t, -0.10, d.Target.NetCost, 1e-9)
	detail, ok := d.Detail.(models.CompressDetail)
	require.True(t, ok, "detail %T", d.Detail)
	assert.Equal(t, models.CompressWeeklyIncome, detail.Mode)
	assert.NotEmpty(t, d.TechnicalSummary)
}

func TestEvaluate_MonitorForCompressScenario(t *testing.T) {
	// $370 call, 240 DTE, 20% ITM, nothing within the 45-90 day window under $5
	pos := models.Position{
		Symbol: "Y", Strike: 370, OptionType: models.OptionCall, Expiration: daysOut(240),
		Contracts: 1, OriginalPremium: 15, CurrentPremium: 82,
	}
	rolls := &fakeSearcher{byKind: map[models.RollKind][]models.RollCandidate{
		models.RollCompress: {candidate(370, 60, 2.40)},
		models.RollEscape:   {candidate(450, 75, 9.80)},
	}}

	d := newTestEngine().Evaluate(context.Background(), pos, indicators(444), rolls, testNow)

	require.NotNil(t, d)
	assert.Equal(t, models.ActionMonitor, d.Action)
	assert.Equal(t, models.PriorityLow, d.Priority)
	detail, ok := d.Detail.(models.MonitorDetail)
	require.True(t, ok)
	assert.Equal(t, models.MonitorForCompress, detail.Tag)
	assert.Equal(t, 5.0, detail.CostCap)

	for _, req := range rolls.requests {
		assert.LessOrEqual(t, req.MaxDays, 90, "far-dated handling must not run the wide escape search")
	}
}

func TestEvaluate_FarDatedSameStrikeCompress(t *testing.T) {
	pos := models.Position{
		Symbol: "Y", Strike: 370, OptionType: models.OptionCall, Expiration: daysOut(240),
		Contracts: 1, OriginalPremium: 15, CurrentPremium: 82,
	}
	rolls := &fakeSearcher{byKind: map[models.RollKind][]models.RollCandidate{
		models.RollCompress: {candidate(370, 60, 0.80), candidate(370, 30, -0.50)},
	}}

	d := newTestEngine().Evaluate(context.Background(), pos, indicators(444), rolls, testNow)

	require.NotNil(t, d)
	assert.Equal(t, models.ActionCompress, d.Action)
	assert.Equal(t, daysOut(60), d.Target.Expiration, "30-day candidate is outside the window")
	assert.Equal(t, models.CompressSameStrike, d.Detail.(models.CompressDetail).Mode)
}

func TestEvaluate_CostCapLaw(t *testing.T) {
	// orig $2.00, 12% ITM -> cap = max($0.40, $5) = $5.00
	pos := models.Position{
		Symbol: "Z", Strike: 100, OptionType: models.OptionCall, Expiration: daysOut(30),
		Contracts: 1, OriginalPremium: 2.00, CurrentPremium: 12.40,
	}

	tests := []struct {
		name       string
		cands      []models.RollCandidate
		wantAction models.Action
		wantCost   float64
	}{
		{"over cap rejected", []models.RollCandidate{candidate(115, 60, 5.50)}, models.ActionCloseCatastrophic, 12.40},
		{"under cap accepted", []models.RollCandidate{candidate(115, 60, 4.90)}, models.ActionRollITM, 4.90},
		{"only the capped one wins", []models.RollCandidate{candidate(115, 45, 5.50), candidate(115, 60, 4.90)}, models.ActionRollITM, 4.90},
		{"ITM strike never escapes", []models.RollCandidate{candidate(110, 60, 1.00)}, models.ActionCloseCatastrophic, 12.40},
		{"beyond horizon ignored", []models.RollCandidate{candidate(115, 200, 1.00)}, models.ActionCloseCatastrophic, 12.40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rolls := &fakeSearcher{byKind: map[models.RollKind][]models.RollCandidate{models.RollEscape: tt.cands}}
			d := newTestEngine().Evaluate(context.Background(), pos, indicators(112), rolls, testNow)

			require.NotNil(t, d)
			assert.Equal(t, tt.wantAction, d.Action)
			require.NotNil(t, d.Target)
			assert.InDelta(t, tt.wantCost, d.Target.NetCost, 1e-9)

			if d.Action == models.ActionCloseCatastrophic {
				assert.Equal(t, models.PriorityUrgent, d.Priority)
				detail := d.Detail.(models.CatastrophicDetail)
				assert.Equal(t, 180, detail.HorizonDays)
				assert.Equal(t, 5.0, detail.CostCap)
			}
		})
	}
}

func TestEvaluate_RollITMNeverExceedsCap(t *testing.T) {
	cases := []struct {
		price    float64
		origPrem float64
		wantCap  float64
	}{
		{103, 1.00, 2},  // 3% ITM
		{107, 1.00, 3},  // 7% ITM
		{115, 1.00, 5},  // 15% ITM
		{103, 30.00, 6}, // premium floor above severity
	}

	engine := newTestEngine()
	for _, c := range cases {
		pos := models.Position{
			Symbol: "Z", Strike: 100, OptionType: models.OptionCall, Expiration: daysOut(20),
			Contracts: 1, OriginalPremium: c.origPrem, CurrentPremium: c.price - 100 + 0.5,
		}
		ind := indicators(c.price)
		ind.RSI = 50
		for cost := 0.5; cost <= 8.0; cost += 0.5 {
			rolls := &fakeSearcher{byKind: map[models.RollKind][]models.RollCandidate{
				models.RollEscape: {candidate(c.price+5, 50, cost)},
			}}
			d := engine.Evaluate(context.Background(), pos, ind, rolls, testNow)
			require.NotNil(t, d)
			if cost <= c.wantCap {
				assert.Equal(t, models.ActionRollITM, d.Action, "price %.0f cost %.2f", c.price, cost)
				assert.LessOrEqual(t, d.Target.NetCost, c.wantCap)
			} else {
				assert.Equal(t, models.ActionCloseCatastrophic, d.Action, "price %.0f cost %.2f", c.price, cost)
			}
		}
	}
}

func TestEvaluate_Purity(t *testing.T) {
	pos := models.Position{
		Symbol: "X", Strike: 180, OptionType: models.OptionCall, Expiration: daysOut(10),
		Contracts: 1, OriginalPremium: 10.00, CurrentPremium: 3.50,
	}
	rolls := &fakeSearcher{byKind: map[models.RollKind][]models.RollCandidate{
		models.RollCompress: {candidate(185, 3, -0.10), candidate(182, 3, -0.10), candidate(184, 5, 0.20)},
	}}
	engine := newTestEngine()

	first := engine.Evaluate(context.Background(), pos, indicators(183), rolls, testNow)
	for i := 0; i < 5; i++ {
		again := engine.Evaluate(context.Background(), pos, indicators(183), rolls, testNow)
		assert.Equal(t, first, again)
	}
}

func TestEvaluate_QuietOTMPositionTwice(t *testing.T) {
	pos := models.Position{
		Symbol: "Q", Strike: 90, OptionType: models.OptionPut, Expiration: daysOut(30),
		Contracts: 1, OriginalPremium: 1.50, CurrentPremium: 1.20,
	}
	rolls := &fakeSearcher{}
	engine := newTestEngine()

	assert.Nil(t, engine.Evaluate(context.Background(), pos, indicators(100), rolls, testNow))
	assert.Nil(t, engine.Evaluate(context.Background(), pos, indicators(100), rolls, testNow))
}

func TestEvaluate_NoDecisionOnMissingData(t *testing.T) {
	itmPut := models.Position{
		Symbol: "M", Strike: 100, OptionType: models.OptionPut, Expiration: daysOut(20),
		Contracts: 1, OriginalPremium: 2,
	}
	stale := indicators(85)
	stale.AsOf = testNow.Add(-2 * time.Hour)
	noVol := indicators(85)
	noVol.Volatility = 0
	expired := itmPut
	expired.Expiration = daysOut(-1)

	tests := []struct {
		name  string
		pos   models.Position
		ind   *models.Indicators
		rolls *fakeSearcher
	}{
		{"nil indicators", itmPut, nil, &fakeSearcher{}},
		{"zero price", itmPut, &models.Indicators{Symbol: "M", AsOf: testNow}, &fakeSearcher{}},
		{"stale indicators", itmPut, stale, &fakeSearcher{}},
		{"unobserved premium without volatility", itmPut, noVol, &fakeSearcher{}},
		{"expired position", expired, indicators(85), &fakeSearcher{}},
		{"roll search failure", itmPut, indicators(85), &fakeSearcher{err: errors.New("chain timeout")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestEngine().Evaluate(context.Background(), tt.pos, tt.ind, tt.rolls, testNow)
			assert.Nil(t, d, "got %+v", d)
		})
	}
}

func TestEvaluate_NearITMWarning(t *testing.T) {
	pos := models.Position{
		Symbol: "N", Strike: 100, OptionType: models.OptionCall, Expiration: daysOut(5),
		Contracts: 1, OriginalPremium: 1.00, CurrentPremium: 0.90,
	}
	engine := newTestEngine()

	d := engine.Evaluate(context.Background(), pos, indicators(99.5), &fakeSearcher{}, testNow)
	require.NotNil(t, d)
	assert.Equal(t, models.ActionNearITMWarning, d.Action)
	assert.Equal(t, models.PriorityHigh, d.Priority)
	assert.Nil(t, d.Target)

	d = engine.Evaluate(context.Background(), pos, indicators(98.5), &fakeSearcher{}, testNow)
	require.NotNil(t, d)
	assert.Equal(t, models.PriorityMedium, d.Priority)

	d = engine.Evaluate(context.Background(), pos, indicators(97), &fakeSearcher{}, testNow)
	assert.Nil(t, d, "3% OTM is not near the strike")
}

func TestEvaluate_ProfitCaptureRoll(t *testing.T) {
	pos := models.Position{
		Symbol: "P", Strike: 90, OptionType: models.OptionPut, Expiration: daysOut(20),
		Contracts: 1, OriginalPremium: 2.00, CurrentPremium: 0.60,
	}
	rolls := &fakeSearcher{byKind: map[models.RollKind][]models.RollCandidate{
		models.RollWeekly: {
			{Strike: 95, Expiration: daysOut(7), Premium: 0.90, ProbOTM: 0.75},
			{Strike: 97, Expiration: daysOut(7), Premium: 1.40, ProbOTM: 0.62},
			{Strike: 94, Expiration: daysOut(14), Premium: 1.10, ProbOTM: 0.80},
			{Strike: 93, Expiration: daysOut(21), Premium: 1.60, ProbOTM: 0.85},
		},
	}}

	d := newTestEngine().Evaluate(context.Background(), pos, indicators(100), rolls, testNow)

	require.NotNil(t, d)
	assert.Equal(t, models.ActionRollWeekly, d.Action)
	require.NotNil(t, d.Target)
	assert.Equal(t, 94.0, d.Target.Strike)
	assert.False(t, d.Detail.(models.WeeklyRollDetail).Redeploy)

	d = newTestEngine().Evaluate(context.Background(), pos, indicators(100), &fakeSearcher{}, testNow)
	require.NotNil(t, d)
	assert.Equal(t, models.ActionRollWeekly, d.Action)
	assert.Nil(t, d.Target)
	assert.True(t, d.Detail.(models.WeeklyRollDetail).Redeploy)
}

func TestEvaluate_PullBack(t *testing.T) {
	pos := models.Position{
		Symbol: "B", Strike: 90, OptionType: models.OptionPut, Expiration: daysOut(45),
		Contracts: 1, OriginalPremium: 2.00, CurrentPremium: 1.40,
	}
	rolls := &fakeSearcher{byKind: map[models.RollKind][]models.RollCandidate{
		models.RollPullBack: {
			candidate(90, 10, 0.25), // too expensive
			candidate(92, 17, 0.00), // closer to the money
			candidate(90, 17, 0.05),
		},
	}}

	d := newTestEngine().Evaluate(context.Background(), pos, indicators(100), rolls, testNow)

	require.NotNil(t, d)
	assert.Equal(t, models.ActionPullBack, d.Action)
	assert.Equal(t, models.PriorityHigh, d.Priority)
	assert.Equal(t, 90.0, d.Target.Strike)
	assert.Equal(t, 28, d.Detail.(models.PullBackDetail).DaysSaved)
}

func TestEvaluate_TechnicalReversionMonitor(t *testing.T) {
	pos := models.Position{
		Symbol: "R", Strike: 100, OptionType: models.OptionPut, Expiration: daysOut(20),
		Contracts: 1, OriginalPremium: 3.00, CurrentPremium: 4.50,
	}
	ind := indicators(96)
	ind.RSI = 35
	ind.BollingerLower, ind.BollingerMiddle, ind.BollingerUpper = 95, 100, 105

	rolls := &fakeSearcher{}
	d := newTestEngine().Evaluate(context.Background(), pos, ind, rolls, testNow)

	require.NotNil(t, d)
	assert.Equal(t, models.ActionMonitor, d.Action)
	assert.Equal(t, models.MonitorTechnicalRevert, d.Detail.(models.MonitorDetail).Tag)
	assert.Empty(t, rolls.requests, "reversion monitor needs no roll search")
}

func TestSeverityCap(t *testing.T) {
	assert.Equal(t, 2.0, severityCap(0.01))
	assert.Equal(t, 3.0, severityCap(0.05))
	assert.Equal(t, 5.0, severityCap(0.10))
	assert.Equal(t, 5.0, severityCap(0.40))
}
