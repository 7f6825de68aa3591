// Package reconcile compares what the advisor recommended with what the user actually
// traded: it matches notified snapshots to executions, tracks how matched positions
// finished, and mines weekly behavioral patterns.
package reconcile

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/strike_advisor/internal/config"
	"github.com/eddiefleurent/strike_advisor/internal/marketdata"
	"github.com/eddiefleurent/strike_advisor/internal/models"
	"github.com/eddiefleurent/strike_advisor/internal/storage"
)

// matchWindowDays is how many calendar days of executions, starting on the
// recommendation day, can answer a recommendation.
const matchWindowDays = 2

// Reconciler runs the end-of-day reconciliation batch.
type Reconciler struct {
	store  storage.Interface
	execs  marketdata.ExecutionSource
	cfg    config.ReconciliationConfig
	loc    *time.Location
	logger logrus.FieldLogger
}

// Report summarizes one Reconcile run.
type Report struct {
	Day     string
	Matches []models.Match
	Counts  map[models.Classification]int
	Deleted int
}

// NewReconciler creates a reconciler. execs may be nil, in which case only executions
// already stored are considered. Day boundaries are midnight in loc.
func NewReconciler(
	store storage.Interface,
	execs marketdata.ExecutionSource,
	cfg config.ReconciliationConfig,
	loc *time.Location,
	logger logrus.FieldLogger,
) *Reconciler {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reconciler{store: store, execs: execs, cfg: cfg, loc: loc, logger: logger}
}

func (r *Reconciler) dayStart(t time.Time) time.Time {
	y, m, d := t.In(r.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, r.loc)
}

// Reconcile matches the snapshots notified on day to executions. Re-running a day
// with unchanged inputs rewrites the same match rows.
func (r *Reconciler) Reconcile(ctx context.Context, day time.Time, now time.Time) (*Report, error) {
	start := r.dayStart(day)
	end := start.AddDate(0, 0, 1)
	windowEnd := start.AddDate(0, 0, matchWindowDays)
	dayKey := storage.DayKey(start)
	log := r.logger.WithField("day", dayKey)

	var fetched []models.Execution
	if r.execs != nil {
		var err error
		fetched, err = r.execs.Executions(ctx, start, windowEnd)
		if err != nil {
			return nil, fmt.Errorf("fetch executions for %s: %w", dayKey, err)
		}
	}

	report := &Report{Day: dayKey, Counts: make(map[models.Classification]int)}
	err := r.store.WithTx(ctx, func(tx storage.Store) error {
		report.Matches, report.Deleted = nil, 0
		clear(report.Counts)

		if len(fetched) > 0 {
			if err := tx.SaveExecutions(ctx, fetched); err != nil {
				return err
			}
		}

		snaps, err := tx.NotifiedSnapshotsBetween(ctx, start, end)
		if err != nil {
			return err
		}
		execs, err := tx.ExecutionsBetween(ctx, start, windowEnd)
		if err != nil {
			return err
		}
		used, err := tx.UsedExecutionIDs(ctx, dayKey)
		if err != nil {
			return err
		}
		previous, err := tx.MatchesForDays(ctx, dayKey, dayKey)
		if err != nil {
			return err
		}

		latest, err := r.latestPerRecommendation(ctx, tx, snaps)
		if err != nil {
			return err
		}

		var matches []models.Match
		for _, item := range latest {
			m := r.matchOne(item.rec, item.snap, execs, used, start, now)
			if m.ExecutionID != "" {
				used[m.ExecutionID] = true
			}
			matches = append(matches, m)
		}

		for _, e := range execs {
			if used[e.ID] || e.ExecutedAt.Before(start) || !e.ExecutedAt.Before(end) {
				continue
			}
			matches = append(matches, models.Match{
				ID:             newID(now),
				Day:            start,
				ExecutionID:    e.ID,
				Symbol:         e.Symbol,
				Classification: models.ClassIndependent,
				CreatedAt:      now,
				UpdatedAt:      now,
			})
		}

		keep := make(map[string]bool, len(matches))
		for i := range matches {
			if err := tx.UpsertMatch(ctx, &matches[i]); err != nil {
				return err
			}
			keep[matches[i].ID] = true
			report.Counts[matches[i].Classification]++
		}
		for _, old := range previous {
			if keep[old.ID] {
				continue
			}
			if err := tx.DeleteMatch(ctx, old.ID); err != nil {
				return err
			}
			report.Deleted++
		}

		for _, item := range latest {
			if err := r.markExecuted(ctx, tx, item.rec, matches, now); err != nil {
				return err
			}
		}

		report.Matches = matches
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", dayKey, err)
	}

	log.WithFields(logrus.Fields{
		"matches": len(report.Matches),
		"deleted": report.Deleted,
	}).Info("reconciled day")
	return report, nil
}

type recSnapshot struct {
	rec  *models.Recommendation
	snap *models.Snapshot
}

// latestPerRecommendation keeps the highest-numbered notified snapshot per
// recommendation, ordered most urgent first so contested executions go to them.
func (r *Reconciler) latestPerRecommendation(ctx context.Context, tx storage.Store, snaps []models.Snapshot) ([]recSnapshot, error) {
	byRec := make(map[string]*models.Snapshot)
	for i := range snaps {
		s := &snaps[i]
		if cur, ok := byRec[s.RecommendationID]; !ok || s.Number > cur.Number {
			byRec[s.RecommendationID] = s
		}
	}

	out := make([]recSnapshot, 0, len(byRec))
	for id, snap := range byRec {
		rec, err := tx.GetRecommendation(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load recommendation %s: %w", id, err)
		}
		out = append(out, recSnapshot{rec: rec, snap: snap})
	}
	slices.SortFunc(out, func(a, b recSnapshot) int {
		return cmp.Or(
			cmp.Compare(b.snap.Priority.Rank(), a.snap.Priority.Rank()),
			cmp.Compare(a.rec.ID, b.rec.ID),
		)
	})
	return out, nil
}

// matchOne scores every unused execution on the recommendation's symbol and accepts
// the best one at or above the minimum score.
func (r *Reconciler) matchOne(
	rec *models.Recommendation,
	snap *models.Snapshot,
	execs []models.Execution,
	used map[string]bool,
	day, now time.Time,
) models.Match {
	m := models.Match{
		ID:                  newID(now),
		Day:                 day,
		RecommendationID:    rec.ID,
		SnapshotID:          snap.ID,
		Symbol:              rec.Symbol,
		RecommendedAction:   snap.Action,
		RecommendedPriority: snap.Priority,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if snap.Target != nil {
		m.RecommendedPremium = snap.Target.Premium
	}

	ref := referenceFor(rec, snap)
	var best *scored
	for _, e := range execs {
		if used[e.ID] || e.Symbol != rec.Symbol {
			continue
		}
		d := compare(ref, e)
		aligned := e.Action.AlignsWith(snap.Action)
		c := scored{exec: e, deltas: d, aligned: aligned, score: score(d, aligned)}
		if best == nil || c.score > best.score ||
			(c.score == best.score && c.exec.ExecutedAt.Before(best.exec.ExecutedAt)) {
			best = &c
		}
	}

	if best == nil || best.score < r.cfg.MinScore {
		m.Classification = unmatched(snap.Action)
		if best != nil {
			m.Confidence = best.score
		}
		return m
	}

	m.ExecutionID = best.exec.ID
	m.Confidence = best.score
	m.StrikeDeltaPct = best.deltas.strikePct
	m.ExpirationDeltaDays = best.deltas.days
	m.PremiumDeltaPct = best.deltas.premiumPct
	m.Classification = r.classify(best.deltas)
	return m
}

// markExecuted resolves a still-active recommendation whose snapshot was acted on.
func (r *Reconciler) markExecuted(ctx context.Context, tx storage.Store, rec *models.Recommendation, matches []models.Match, now time.Time) error {
	acted := false
	for _, m := range matches {
		if m.RecommendationID == rec.ID && m.HasExecution() {
			acted = true
			break
		}
	}
	if !acted {
		return nil
	}

	cur, err := tx.GetRecommendation(ctx, rec.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !cur.IsActive() {
		return nil
	}
	if err := cur.Transition(models.StatusResolved, models.ResolvedExecuted, now); err != nil {
		return err
	}
	return tx.SaveRecommendation(ctx, cur)
}

func newID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}
