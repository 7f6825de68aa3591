// Package strategy implements the per-position decision policy for short options.
package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/strike_advisor/internal/config"
	"github.com/eddiefleurent/strike_advisor/internal/marketdata"
	"github.com/eddiefleurent/strike_advisor/internal/models"
)

// Engine maps (position, indicators, roll search) to at most one decision.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	config          config.DecisionConfig
	maxIndicatorAge time.Duration
	logger          logrus.FieldLogger
	rules           []rule
}

// rule returns (nil, nil) when it does not apply so the next rule runs.
type rule struct {
	name string
	eval func(e *Engine, ev *evaluation) (*models.Decision, error)
}

// evaluation is the precomputed state one Evaluate call shares across rules.
type evaluation struct {
	ctx     context.Context
	now     time.Time
	pos     models.Position
	ind     *models.Indicators
	rolls   marketdata.RollSearcher
	price   float64
	premium float64
	itm     float64
	otm     float64
	profit  float64
	dte     int
}

// NewEngine creates a decision engine. maxIndicatorAge <= 0 disables the staleness check.
func NewEngine(cfg config.DecisionConfig, maxIndicatorAge time.Duration, logger logrus.FieldLogger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{
		config:          cfg,
		maxIndicatorAge: maxIndicatorAge,
		logger:          logger,
		// Weekly-income compress precedes generic ITM handling.
		rules: []rule{
			{"pull_back", (*Engine).pullBack},
			{"weekly_income_compress", (*Engine).weeklyIncomeCompress},
			{"technical_reversion", (*Engine).technicalReversion},
			{"itm", (*Engine).itmHandling},
			{"near_itm", (*Engine).nearITMWarning},
			{"profit_capture", (*Engine).profitCapture},
		},
	}
}

// Evaluate runs the rules in priority order and returns the first decision, or nil.
// Missing or stale data and roll-search failures yield nil, never a guess.
func (e *Engine) Evaluate(
	ctx context.Context,
	pos models.Position,
	ind *models.Indicators,
	rolls marketdata.RollSearcher,
	now time.Time,
) *models.Decision {
	log := e.logger.WithField("position", pos.Key())

	ev, reason := e.prepare(ctx, pos, ind, rolls, now)
	if ev == nil {
		log.Debugf("no decision: %s", reason)
		return nil
	}

	for _, r := range e.rules {
		d, err := r.eval(e, ev)
		if err != nil {
			log.WithField("rule", r.name).Warnf("no decision: %v", err)
			return nil
		}
		if d != nil {
			d.TechnicalSummary = technicalSummary(ev)
			return d
		}
	}
	return nil
}

func (e *Engine) prepare(
	ctx context.Context,
	pos models.Position,
	ind *models.Indicators,
	rolls marketdata.RollSearcher,
	now time.Time,
) (*evaluation, string) {
	if !ind.Usable(now, e.maxIndicatorAge) {
		return nil, "indicators missing or stale"
	}
	if rolls == nil {
		return nil, "no roll searcher"
	}
	dte := pos.DaysToExpiry(now)
	if dte < 0 {
		return nil, "position expired"
	}
	premium, ok := pos.PremiumNow(ind.Price, ind.Volatility, now)
	if !ok {
		return nil, "premium unobserved and volatility unknown"
	}

	return &evaluation{
		ctx:     ctx,
		now:     now,
		pos:     pos,
		ind:     ind,
		rolls:   rolls,
		price:   ind.Price,
		premium: premium,
		itm:     pos.ITMPercent(ind.Price),
		otm:     pos.OTMPercent(ind.Price),
		profit:  pos.ProfitPercent(premium),
		dte:     dte,
	}, ""
}

func (ev *evaluation) search(req models.RollRequest) ([]models.RollCandidate, error) {
	req.Position = ev.pos
	req.CurrentPrice = ev.price
	cands, err := ev.rolls.SearchRolls(ev.ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s roll search: %w", req.Kind, err)
	}
	return cands, nil
}

func technicalSummary(ev *evaluation) string {
	ind := ev.ind
	s := fmt.Sprintf("price %.2f | RSI %.1f | BB %.2f", ind.Price, ind.RSI, ind.BollingerPosition())
	if ind.SMA20 > 0 {
		s += fmt.Sprintf(" | SMA20 %.2f", ind.SMA20)
	}
	if ind.SMA50 > 0 {
		s += fmt.Sprintf(" | SMA50 %.2f", ind.SMA50)
	}
	if ind.Support > 0 && ind.Resistance > 0 {
		s += fmt.Sprintf(" | S/R %.2f/%.2f", ind.Support, ind.Resistance)
	}
	if !ind.NextEarnings.IsZero() && ind.NextEarnings.After(ev.now) && !ind.NextEarnings.After(ev.pos.Expiration) {
		s += " | earnings " + ind.NextEarnings.Format("2006-01-02")
	}
	return s
}
