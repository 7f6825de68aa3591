package strategy

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/eddiefleurent/strike_advisor/internal/models"
	"github.com/eddiefleurent/strike_advisor/internal/util"
)

// ITM-severity debit caps for escape rolls.
const (
	severeITMPct   = 0.10
	moderateITMPct = 0.05
	severeCap      = 5.00
	moderateCap    = 3.00
	mildCap        = 2.00

	// supportProximityPct is how close price must sit to support/resistance to count as pinned.
	supportProximityPct = 0.01
)

// severityCap returns the escape debit cap for an ITM fraction.
func severityCap(itm float64) float64 {
	switch {
	case itm >= severeITMPct:
		return severeCap
	case itm >= moderateITMPct:
		return moderateCap
	default:
		return mildCap
	}
}

// escapeCap is max(severity cap, premium cap % of the original premium).
func (e *Engine) escapeCap(pos models.Position, itm float64) float64 {
	return math.Max(severityCap(itm), e.config.ITM.PremiumCapPct*pos.OriginalPremium)
}

func (e *Engine) pullBack(ev *evaluation) (*models.Decision, error) {
	if ev.itm > 0 || ev.dte <= 7 {
		return nil, nil
	}
	maxCost := e.config.PullBack.MaxNetCost
	cands, err := ev.search(models.RollRequest{
		Kind:       models.RollPullBack,
		MinDays:    1,
		MaxDays:    ev.dte - 1,
		MaxNetCost: maxCost,
	})
	if err != nil {
		return nil, err
	}

	best, ok := pick(cands, func(c models.RollCandidate) bool {
		return c.NetCost <= maxCost &&
			util.DateOnly(c.Expiration).Before(util.DateOnly(ev.pos.Expiration)) &&
			util.DaysBetween(ev.now, c.Expiration) >= 1 &&
			ev.pos.IsFurtherOTM(c.Strike)
	}, byCostThenExpiration)
	if !ok {
		return nil, nil
	}

	saved := util.DaysBetween(best.Expiration, ev.pos.Expiration)
	return &models.Decision{
		Action:   models.ActionPullBack,
		Priority: models.PriorityHigh,
		Reason: fmt.Sprintf("re-enter %d days earlier at $%.2f strike for %s",
			saved, best.Strike, costText(best.NetCost)),
		Target: target(best),
		Detail: models.PullBackDetail{
			FromExpiration: ev.pos.Expiration,
			ToExpiration:   best.Expiration,
			CostBound:      maxCost,
			DaysSaved:      saved,
		},
		Rationale: fmt.Sprintf("%d weeks of exposure remain; the same premium is available on a shorter clock",
			ev.dte/7),
	}, nil
}

func (e *Engine) weeklyIncomeCompress(ev *evaluation) (*models.Decision, error) {
	cfg := e.config
	if ev.itm <= 0 || ev.itm > cfg.WeeklyIncome.MaxITMPct || ev.profit < cfg.ProfitCapturePct {
		return nil, nil
	}
	cands, err := ev.search(models.RollRequest{
		Kind:       models.RollCompress,
		MinDays:    1,
		MaxDays:    ev.dte - 1,
		MaxNetCost: cfg.WeeklyIncome.MaxDebit,
	})
	if err != nil {
		return nil, err
	}

	currentDist := math.Abs(ev.pos.Strike - ev.price)
	best, ok := pick(cands, func(c models.RollCandidate) bool {
		return c.NetCost <= cfg.WeeklyIncome.MaxDebit &&
			util.DateOnly(c.Expiration).Before(util.DateOnly(ev.pos.Expiration)) &&
			util.DaysBetween(ev.now, c.Expiration) >= 1 &&
			math.Abs(c.Strike-ev.price) <= currentDist+0.005
	}, byCostThenExpiration)
	if !ok {
		return nil, nil
	}

	return &models.Decision{
		Action:   models.ActionCompress,
		Priority: models.PriorityMedium,
		Reason: fmt.Sprintf("%.1f%% ITM with %.0f%% captured: compress to %s $%.2f for %s",
			ev.itm*100, ev.profit*100, best.Expiration.Format("Jan 02"), best.Strike, costText(best.NetCost)),
		Target: target(best),
		Detail: models.CompressDetail{
			FromExpiration: ev.pos.Expiration,
			Mode:           models.CompressWeeklyIncome,
			ITMPercent:     ev.itm,
			ProfitPercent:  ev.profit,
			CostCap:        cfg.WeeklyIncome.MaxDebit,
		},
		Rationale: "most of the premium is banked; a shorter expiration keeps collecting while the strike moves toward the money",
	}, nil
}

func (e *Engine) technicalReversion(ev *evaluation) (*models.Decision, error) {
	cfg := e.config.Reversion
	if ev.itm <= 0 || ev.itm > cfg.MaxITMPct || ev.dte < cfg.MinDays {
		return nil, nil
	}
	ind := ev.ind
	if ind.RSI <= 0 {
		return nil, nil
	}

	bp := ind.BollingerPosition()
	var banded, pinned bool
	switch ev.pos.OptionType {
	case models.OptionPut:
		rsiOK := ind.RSI < cfg.PutRSIMax
		banded = ind.HasBands() && bp < cfg.PutBandMax && rsiOK
		pinned = rsiOK && near(ind.Price, ind.Support)
	case models.OptionCall:
		rsiOK := ind.RSI > cfg.CallRSIMin
		banded = ind.HasBands() && bp > cfg.CallBandMin && rsiOK
		pinned = rsiOK && near(ind.Price, ind.Resistance)
	}
	if !banded && !pinned {
		return nil, nil
	}

	level := "band extreme"
	if !banded {
		level = "support/resistance"
	}
	return &models.Decision{
		Action:   models.ActionMonitor,
		Priority: models.PriorityLow,
		Reason: fmt.Sprintf("%.1f%% ITM at a %s (RSI %.0f, BB %.2f); reversion likely, hold",
			ev.itm*100, level, ind.RSI, bp),
		Detail: models.MonitorDetail{
			Tag:               models.MonitorTechnicalRevert,
			ITMPercent:        ev.itm,
			RSI:               ind.RSI,
			BollingerPosition: bp,
		},
		Rationale: fmt.Sprintf("%d days remain for the underlying to move back past the strike", ev.dte),
	}, nil
}

func (e *Engine) itmHandling(ev *evaluation) (*models.Decision, error) {
	if ev.itm <= 0 {
		return nil, nil
	}
	if ev.dte > e.config.ITM.FarDatedDays {
		return e.compressFarDated(ev)
	}
	return e.escapeNearDated(ev)
}

func (e *Engine) compressFarDated(ev *evaluation) (*models.Decision, error) {
	cfg := e.config.ITM
	inWindow := func(c models.RollCandidate) bool {
		days := util.DaysBetween(ev.now, c.Expiration)
		return days >= cfg.CompressMinDays && days <= cfg.CompressMaxDays &&
			util.DateOnly(c.Expiration).Before(util.DateOnly(ev.pos.Expiration))
	}

	same, err := ev.search(models.RollRequest{
		Kind:       models.RollCompress,
		MinDays:    cfg.CompressMinDays,
		MaxDays:    cfg.CompressMaxDays,
		MaxNetCost: cfg.SameStrikeMaxDebit,
	})
	if err != nil {
		return nil, err
	}
	mode := models.CompressSameStrike
	costCap := cfg.SameStrikeMaxDebit
	best, ok := pick(same, func(c models.RollCandidate) bool {
		return inWindow(c) && util.StrikesEqual(c.Strike, ev.pos.Strike) && c.NetCost <= cfg.SameStrikeMaxDebit
	}, byCostThenExpiration)

	if !ok {
		costCap = e.escapeCap(ev.pos, ev.itm)
		escapes, err := ev.search(models.RollRequest{
			Kind:       models.RollEscape,
			MinDays:    cfg.CompressMinDays,
			MaxDays:    cfg.CompressMaxDays,
			MaxNetCost: costCap,
		})
		if err != nil {
			return nil, err
		}
		mode = models.CompressOTMEscape
		best, ok = pick(escapes, func(c models.RollCandidate) bool {
			return inWindow(c) && ev.pos.StrikeIsOTM(c.Strike, ev.price) && c.NetCost <= costCap
		}, byExpirationThenCost)
	}

	if !ok {
		return &models.Decision{
			Action:   models.ActionMonitor,
			Priority: models.PriorityLow,
			Reason: fmt.Sprintf("%.1f%% ITM with %d days left; no %d-%d day compress within $%.2f yet",
				ev.itm*100, ev.dte, cfg.CompressMinDays, cfg.CompressMaxDays, costCap),
			Detail: models.MonitorDetail{
				Tag:               models.MonitorForCompress,
				ITMPercent:        ev.itm,
				RSI:               ev.ind.RSI,
				BollingerPosition: ev.ind.BollingerPosition(),
				CostCap:           costCap,
			},
			Rationale: "far-dated assignment risk is low; wait for a cost-neutral compress",
		}, nil
	}

	return &models.Decision{
		Action:   models.ActionCompress,
		Priority: models.PriorityMedium,
		Reason: fmt.Sprintf("%.1f%% ITM, %d days left: compress to %s $%.2f for %s",
			ev.itm*100, ev.dte, best.Expiration.Format("Jan 02"), best.Strike, costText(best.NetCost)),
		Target: target(best),
		Detail: models.CompressDetail{
			FromExpiration: ev.pos.Expiration,
			Mode:           mode,
			ITMPercent:     ev.itm,
			ProfitPercent:  ev.profit,
			CostCap:        costCap,
		},
		Rationale: "shortening duration frees capital and brings the next adjustment point closer",
	}, nil
}

func (e *Engine) escapeNearDated(ev *evaluation) (*models.Decision, error) {
	horizon := e.config.ITM.EscapeHorizonDays
	costCap := e.escapeCap(ev.pos, ev.itm)

	cands, err := ev.search(models.RollRequest{
		Kind:       models.RollEscape,
		MinDays:    1,
		MaxDays:    horizon,
		MaxNetCost: costCap,
	})
	if err != nil {
		return nil, err
	}

	best, ok := pick(cands, func(c models.RollCandidate) bool {
		days := util.DaysBetween(ev.now, c.Expiration)
		return days >= 1 && days <= horizon &&
			ev.pos.StrikeIsOTM(c.Strike, ev.price) &&
			c.NetCost <= costCap
	}, byExpirationThenCost)

	if !ok {
		return &models.Decision{
			Action:   models.ActionCloseCatastrophic,
			Priority: models.PriorityUrgent,
			Reason: fmt.Sprintf("%.1f%% ITM with %d days left and no OTM roll within $%.2f over %d days: close",
				ev.itm*100, ev.dte, costCap, horizon),
			Target: &models.Target{
				Strike:     ev.pos.Strike,
				Expiration: ev.pos.Expiration,
				NetCost:    util.RoundCents(ev.premium),
			},
			Detail: models.CatastrophicDetail{
				ITMPercent:  ev.itm,
				HorizonDays: horizon,
				CostCap:     costCap,
				BuyBack:     util.RoundCents(ev.premium),
				Candidates:  len(cands),
			},
			Rationale: "every roll within the search horizon exceeds the debit cap",
		}, nil
	}

	return &models.Decision{
		Action:   models.ActionRollITM,
		Priority: models.PriorityHigh,
		Reason: fmt.Sprintf("%.1f%% ITM with %d days left: roll to %s $%.2f for %s",
			ev.itm*100, ev.dte, best.Expiration.Format("Jan 02 2006"), best.Strike, costText(best.NetCost)),
		Target: target(best),
		Detail: models.ITMRollDetail{
			ITMPercent: ev.itm,
			CostCap:    costCap,
			ProbOTM:    best.ProbOTM,
		},
		Rationale: fmt.Sprintf("escape to an OTM strike; debit capped at $%.2f", costCap),
	}, nil
}

func (e *Engine) nearITMWarning(ev *evaluation) (*models.Decision, error) {
	cfg := e.config.NearITM
	if ev.itm > 0 || ev.otm > cfg.MaxOTMPct || ev.dte > cfg.MaxDays {
		return nil, nil
	}
	priority := models.PriorityMedium
	if ev.otm <= cfg.HighOTMPct {
		priority = models.PriorityHigh
	}
	return &models.Decision{
		Action:   models.ActionNearITMWarning,
		Priority: priority,
		Reason: fmt.Sprintf("price %.2f is %.1f%% from the $%.2f strike with %d days left",
			ev.price, ev.otm*100, ev.pos.Strike, ev.dte),
		Detail: models.NearITMDetail{
			OTMPercent:   ev.otm,
			DaysToExpiry: ev.dte,
		},
	}, nil
}

func (e *Engine) profitCapture(ev *evaluation) (*models.Decision, error) {
	cfg := e.config
	if ev.itm > 0 || ev.profit < cfg.ProfitCapturePct {
		return nil, nil
	}
	cands, err := ev.search(models.RollRequest{
		Kind:       models.RollWeekly,
		MinDays:    1,
		MaxDays:    cfg.WeeklyRoll.MaxDays,
		MaxNetCost: ev.premium,
	})
	if err != nil {
		return nil, err
	}

	best, ok := pick(cands, func(c models.RollCandidate) bool {
		days := util.DaysBetween(ev.now, c.Expiration)
		return days >= 1 && days <= cfg.WeeklyRoll.MaxDays &&
			c.ProbOTM >= cfg.WeeklyRoll.MinProbOTM &&
			ev.pos.StrikeIsOTM(c.Strike, ev.price)
	}, byPremium)

	d := &models.Decision{
		Action:   models.ActionRollWeekly,
		Priority: models.PriorityMedium,
	}
	if !ok {
		d.Reason = fmt.Sprintf("%.0f%% of premium captured; close and redeploy", ev.profit*100)
		d.Detail = models.WeeklyRollDetail{ProfitPercent: ev.profit, Redeploy: true}
		return d, nil
	}
	d.Reason = fmt.Sprintf("%.0f%% of premium captured; roll to %s $%.2f for $%.2f premium",
		ev.profit*100, best.Expiration.Format("Jan 02"), best.Strike, best.Premium)
	d.Target = target(best)
	d.Detail = models.WeeklyRollDetail{ProfitPercent: ev.profit, ProbOTM: best.ProbOTM}
	d.Rationale = fmt.Sprintf("remaining $%.2f of premium is not worth the risk of holding", ev.premium)
	return d, nil
}

// pick returns the first acceptable candidate under order.
func pick(
	cands []models.RollCandidate,
	accept func(models.RollCandidate) bool,
	order func(a, b models.RollCandidate) int,
) (models.RollCandidate, bool) {
	var ok []models.RollCandidate
	for _, c := range cands {
		if accept(c) {
			ok = append(ok, c)
		}
	}
	if len(ok) == 0 {
		return models.RollCandidate{}, false
	}
	slices.SortStableFunc(ok, order)
	return ok[0], true
}

func byCostThenExpiration(a, b models.RollCandidate) int {
	return cmp.Or(
		cmp.Compare(a.NetCost, b.NetCost),
		a.Expiration.Compare(b.Expiration),
		cmp.Compare(a.Strike, b.Strike),
	)
}

func byExpirationThenCost(a, b models.RollCandidate) int {
	return cmp.Or(
		a.Expiration.Compare(b.Expiration),
		cmp.Compare(a.NetCost, b.NetCost),
		cmp.Compare(b.ProbOTM, a.ProbOTM),
		cmp.Compare(a.Strike, b.Strike),
	)
}

func byPremium(a, b models.RollCandidate) int {
	return cmp.Or(
		cmp.Compare(b.Premium, a.Premium),
		a.Expiration.Compare(b.Expiration),
		cmp.Compare(a.Strike, b.Strike),
	)
}

func target(c models.RollCandidate) *models.Target {
	return &models.Target{
		Strike:     c.Strike,
		Expiration: c.Expiration,
		NetCost:    c.NetCost,
		Premium:    c.Premium,
	}
}

func costText(net float64) string {
	if net < 0 {
		return fmt.Sprintf("$%.2f credit", -net)
	}
	return fmt.Sprintf("$%.2f debit", net)
}

func near(price, level float64) bool {
	return level > 0 && math.Abs(price-level)/level <= supportProximityPct
}
