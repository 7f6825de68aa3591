package reconcile

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/strike_advisor/internal/models"
	"github.com/eddiefleurent/strike_advisor/internal/storage"
	"github.com/eddiefleurent/strike_advisor/internal/util"
)

// Pattern names.
const (
	PatternStrikeDeviation     = "strike_deviation"
	PatternExpirationDeviation = "expiration_deviation"
	PatternLowPremiumRejection = "low_premium_rejection"
	PatternIgnoredUrgent       = "ignored_urgent"
)

// minIgnoredUrgent is how many rejected urgent recommendations make a pattern.
const minIgnoredUrgent = 2

// WeekStart returns Monday 00:00 of the ISO week in loc.
func WeekStart(year, week int, loc *time.Location) time.Time {
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, loc)
	offset := (int(jan4.Weekday()) + 6) % 7
	return jan4.AddDate(0, 0, -offset+(week-1)*7)
}

// WeeklySummary aggregates the ISO week's matches and outcomes, mines patterns, and
// persists the result. Candidates are advisory only.
func (r *Reconciler) WeeklySummary(ctx context.Context, year, week int, now time.Time) (*models.WeeklySummary, error) {
	if week < 1 || week > 53 {
		return nil, fmt.Errorf("weekly summary: invalid ISO week %d", week)
	}
	start := WeekStart(year, week, r.loc)
	end := start.AddDate(0, 0, 7)

	matches, err := r.store.MatchesForDays(ctx, storage.DayKey(start), storage.DayKey(end.AddDate(0, 0, -1)))
	if err != nil {
		return nil, fmt.Errorf("weekly summary: %w", err)
	}
	outcomes, err := r.store.OutcomesClosedBetween(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("weekly summary: %w", err)
	}

	ws := &models.WeeklySummary{
		Year:        year,
		Week:        week,
		GeneratedAt: now,
		Counts:      make(map[models.Classification]int, len(models.AllClassifications)),
		Patterns:    []models.Pattern{},
		Candidates:  []models.ParameterCandidate{},
		Outcomes:    len(outcomes),
	}
	for _, c := range models.AllClassifications {
		ws.Counts[c] = 0
	}
	for _, m := range matches {
		ws.Counts[m.Classification]++
	}

	pnl := decimal.Zero
	for _, o := range outcomes {
		pnl = pnl.Add(decimal.NewFromFloat(o.NetProfit))
	}
	ws.RealizedPnL = pnl.Round(2).InexactFloat64()

	r.minePatterns(ws, matches)

	if err := r.store.SaveWeeklySummary(ctx, ws); err != nil {
		return nil, fmt.Errorf("weekly summary: %w", err)
	}
	r.logger.WithField("week", fmt.Sprintf("%d-W%02d", year, week)).
		Infof("weekly summary: %d matches, %d patterns, P&L %.2f", len(matches), len(ws.Patterns), ws.RealizedPnL)
	return ws, nil
}

func (r *Reconciler) minePatterns(ws *models.WeeklySummary, matches []models.Match) {
	var strikes, days []float64
	var lowPremiumRejects, urgentRejects int
	for _, m := range matches {
		switch m.Classification {
		case models.ClassModify:
			// a modify may deviate on one dimension only
			if math.Abs(m.StrikeDeltaPct) > r.cfg.StrikeModifyPct {
				strikes = append(strikes, m.StrikeDeltaPct)
			}
			if absInt(m.ExpirationDeltaDays) > r.cfg.ExpirationModifyDays {
				days = append(days, float64(m.ExpirationDeltaDays))
			}
		case models.ClassReject:
			if m.RecommendedPremium > 0 && m.RecommendedPremium < r.cfg.LowPremiumThreshold {
				lowPremiumRejects++
			}
			if m.RecommendedPriority == models.PriorityUrgent {
				urgentRejects++
			}
		}
	}

	if mean, ok := consistentDeviation(strikes, r.cfg.PatternMinCount, r.cfg.StrikeModifyPct); ok {
		ws.Patterns = append(ws.Patterns, models.Pattern{
			Name:        PatternStrikeDeviation,
			Description: fmt.Sprintf("strikes chosen %.1f%% %s than recommended", math.Abs(mean), direction(mean, "higher", "lower")),
			Occurrences: len(strikes),
			Magnitude:   mean,
		})
		ws.Candidates = append(ws.Candidates, models.ParameterCandidate{
			Parameter: "strike_offset_pct",
			Current:   0,
			Suggested: util.RoundCents(mean),
			Rationale: "recommended strikes are consistently adjusted in the same direction",
		})
	}

	if mean, ok := consistentDeviation(days, r.cfg.PatternMinCount, float64(r.cfg.ExpirationModifyDays)); ok {
		ws.Patterns = append(ws.Patterns, models.Pattern{
			Name:        PatternExpirationDeviation,
			Description: fmt.Sprintf("expirations chosen %.1f days %s than recommended", math.Abs(mean), direction(mean, "later", "earlier")),
			Occurrences: len(days),
			Magnitude:   mean,
		})
		ws.Candidates = append(ws.Candidates, models.ParameterCandidate{
			Parameter: "expiration_offset_days",
			Current:   0,
			Suggested: math.Round(mean),
			Rationale: "recommended expirations are consistently adjusted in the same direction",
		})
	}

	if r.cfg.PatternMinCount > 0 && lowPremiumRejects >= r.cfg.PatternMinCount {
		ws.Patterns = append(ws.Patterns, models.Pattern{
			Name:        PatternLowPremiumRejection,
			Description: fmt.Sprintf("rejected %d recommendations with premium below %.2f", lowPremiumRejects, r.cfg.LowPremiumThreshold),
			Occurrences: lowPremiumRejects,
			Magnitude:   r.cfg.LowPremiumThreshold,
		})
		ws.Candidates = append(ws.Candidates, models.ParameterCandidate{
			Parameter: "min_recommended_premium",
			Current:   0,
			Suggested: r.cfg.LowPremiumThreshold,
			Rationale: "low-premium recommendations are routinely ignored",
		})
	}

	if urgentRejects >= minIgnoredUrgent {
		ws.Patterns = append(ws.Patterns, models.Pattern{
			Name:        PatternIgnoredUrgent,
			Description: fmt.Sprintf("%d urgent recommendations were not acted on", urgentRejects),
			Occurrences: urgentRejects,
		})
	}
}

// consistentDeviation reports the mean of values when there are at least minCount of
// them, they all share a sign, and the mean magnitude exceeds threshold.
func consistentDeviation(values []float64, minCount int, threshold float64) (float64, bool) {
	if minCount <= 0 || len(values) < minCount {
		return 0, false
	}
	pos, neg := 0, 0
	sum := 0.0
	for _, v := range values {
		switch {
		case v > 0:
			pos++
		case v < 0:
			neg++
		}
		sum += v
	}
	if pos != len(values) && neg != len(values) {
		return 0, false
	}
	mean := sum / float64(len(values))
	if math.Abs(mean) <= threshold {
		return 0, false
	}
	return mean, true
}

func direction(v float64, up, down string) string {
	if v > 0 {
		return up
	}
	return down
}
