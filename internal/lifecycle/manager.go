// Package lifecycle keeps the versioned history of recommendations and decides
// which recorded snapshots are worth interrupting the user for.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/strike_advisor/internal/models"
	"github.com/eddiefleurent/strike_advisor/internal/storage"
	"github.com/eddiefleurent/strike_advisor/internal/util"
)

// DefaultCooldown is how long an unchanged decision stays quiet after it was last sent.
const DefaultCooldown = 4 * time.Hour

// targetStrikeTolerance is the strike move, in dollars, that still counts as the same target.
const targetStrikeTolerance = 1.0

// Options tune notify/suppress behavior.
type Options struct {
	Cooldown time.Duration
	// Silent actions are recorded but never notified.
	Silent map[models.Action]bool
}

// Manager records decisions against recommendations.
type Manager struct {
	store  storage.Interface
	opts   Options
	logger logrus.FieldLogger
}

// NewManager creates a lifecycle manager over store.
func NewManager(store storage.Interface, opts Options, logger logrus.FieldLogger) *Manager {
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Silent == nil {
		opts.Silent = map[models.Action]bool{models.ActionMonitor: true}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{store: store, opts: opts, logger: logger}
}

// FindOrCreate returns the active recommendation for pos, reactivating a resolved
// one or creating a new one as needed.
func (m *Manager) FindOrCreate(ctx context.Context, pos models.Position, now time.Time) (*models.Recommendation, error) {
	var rec *models.Recommendation
	err := m.store.WithTx(ctx, func(tx storage.Store) error {
		var err error
		rec, err = m.findOrCreate(ctx, tx, pos, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (m *Manager) findOrCreate(ctx context.Context, tx storage.Store, pos models.Position, now time.Time) (*models.Recommendation, error) {
	id := models.RecommendationID(pos.Key())

	rec, err := tx.GetRecommendation(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		rec = models.NewRecommendation(pos, now)
		if err := tx.SaveRecommendation(ctx, rec); err != nil {
			return nil, fmt.Errorf("create recommendation for %s: %w", pos.Key(), err)
		}
		m.logger.WithFields(logrus.Fields{
			"recommendation": rec.ID,
			"position":       rec.PositionKey,
		}).Info("created recommendation")
		return rec, nil
	case err != nil:
		return nil, fmt.Errorf("load recommendation for %s: %w", pos.Key(), err)
	}

	if rec.IsActive() {
		return rec, nil
	}
	if err := rec.Transition(models.StatusActive, models.ConditionReappeared, now); err != nil {
		return nil, err
	}
	if err := tx.SaveRecommendation(ctx, rec); err != nil {
		return nil, fmt.Errorf("reactivate recommendation %s: %w", rec.ID, err)
	}
	m.logger.WithField("recommendation", rec.ID).Info("reactivated recommendation")
	return rec, nil
}

// Record appends decision d as the next snapshot of pos's recommendation and
// returns the notify/suppress verdict. The whole step is one unit of work.
func (m *Manager) Record(
	ctx context.Context,
	pos models.Position,
	d *models.Decision,
	market models.MarketContext,
	now time.Time,
) (*models.Recommendation, *models.Snapshot, models.Verdict, error) {
	if d == nil {
		return nil, nil, models.Verdict{}, errors.New("record: nil decision")
	}

	var (
		rec     *models.Recommendation
		snap    *models.Snapshot
		verdict models.Verdict
	)
	err := m.store.WithTx(ctx, func(tx storage.Store) error {
		var err error
		if rec, err = m.findOrCreate(ctx, tx, pos, now); err != nil {
			return err
		}

		prev, err := tx.LatestSnapshot(ctx, rec.ID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("load latest snapshot: %w", err)
		}
		if errors.Is(err, storage.ErrNotFound) {
			prev = nil
		}

		var lastNotified *models.Snapshot
		if prev != nil {
			lastNotified, err = tx.LatestNotifiedSnapshot(ctx, rec.ID)
			if errors.Is(err, storage.ErrNotFound) {
				lastNotified = nil
			} else if err != nil {
				return fmt.Errorf("load last notified snapshot: %w", err)
			}
		}

		number := rec.LastSnapshotNumber + 1
		if prev != nil && prev.Number >= number {
			number = prev.Number + 1
		}

		snap = &models.Snapshot{
			ID:               ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
			RecommendationID: rec.ID,
			Number:           number,
			Action:           d.Action,
			Priority:         d.Priority,
			Reason:           d.Reason,
			Target:           d.Target,
			Detail:           d.Detail,
			TechnicalSummary: d.TechnicalSummary,
			Rationale:        d.Rationale,
			Market:           market,
			CreatedAt:        now,
		}
		if prev != nil {
			snap.ActionChanged = prev.Action != d.Action
			snap.TargetChanged = targetMoved(prev.Target, d.Target)
			snap.PriorityChanged = prev.Priority != d.Priority
		}

		verdict = m.verdict(snap, prev, lastNotified, now)
		snap.Notified = verdict.Notify
		snap.VerdictReason = verdict.Reason

		if err := tx.InsertSnapshot(ctx, snap); err != nil {
			return err
		}
		rec.LastSnapshotNumber = number
		rec.UpdatedAt = now
		return tx.SaveRecommendation(ctx, rec)
	})
	if err != nil {
		return nil, nil, models.Verdict{}, fmt.Errorf("record %s: %w", pos.Key(), err)
	}

	m.logger.WithFields(logrus.Fields{
		"recommendation": rec.ID,
		"snapshot":       snap.Number,
		"action":         snap.Action,
		"notify":         verdict.Notify,
		"verdict":        verdict.Reason,
	}).Debug("recorded snapshot")
	return rec, snap, verdict, nil
}

// verdict applies the notify rules top-down; the first that matches wins.
func (m *Manager) verdict(snap, prev, lastNotified *models.Snapshot, now time.Time) models.Verdict {
	switch {
	case m.opts.Silent[snap.Action]:
		return models.Verdict{Reason: models.VerdictSilentAction}
	case prev == nil:
		return models.Verdict{Notify: true, Reason: models.VerdictFirstSnapshot}
	case snap.ActionChanged:
		return models.Verdict{Notify: true, Reason: models.VerdictActionChanged}
	case snap.TargetChanged:
		return models.Verdict{Notify: true, Reason: models.VerdictTargetChanged}
	case snap.Priority.Rank() > prev.Priority.Rank():
		return models.Verdict{Notify: true, Reason: models.VerdictPriorityEscalated}
	case lastNotified == nil || now.Sub(lastNotified.CreatedAt) >= m.opts.Cooldown:
		return models.Verdict{Notify: true, Reason: models.VerdictCooldownReminder}
	}
	return models.Verdict{Reason: models.VerdictDuplicate}
}

// targetMoved reports a strike move beyond the tolerance or any expiration change.
func targetMoved(prev, next *models.Target) bool {
	switch {
	case prev == nil && next == nil:
		return false
	case prev == nil || next == nil:
		return true
	}
	if math.Abs(next.Strike-prev.Strike) > targetStrikeTolerance {
		return true
	}
	return util.DaysBetween(prev.Expiration, next.Expiration) != 0
}

// Resolve closes the recommendation with one of the resolution reasons.
func (m *Manager) Resolve(ctx context.Context, recID, reason string, now time.Time) error {
	return m.store.WithTx(ctx, func(tx storage.Store) error {
		return m.resolve(ctx, tx, recID, reason, now)
	})
}

func (m *Manager) resolve(ctx context.Context, tx storage.Store, recID, reason string, now time.Time) error {
	rec, err := tx.GetRecommendation(ctx, recID)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", recID, err)
	}
	if err := rec.Transition(models.StatusResolved, reason, now); err != nil {
		return err
	}
	if err := tx.SaveRecommendation(ctx, rec); err != nil {
		return fmt.Errorf("resolve %s: %w", recID, err)
	}
	m.logger.WithFields(logrus.Fields{
		"recommendation": rec.ID,
		"reason":         reason,
		"days_active":    rec.DaysActive,
	}).Info("resolved recommendation")
	return nil
}

// Sweep resolves active recommendations whose option has expired or whose position
// is no longer in open. It returns how many were resolved.
func (m *Manager) Sweep(ctx context.Context, open []models.Position, now time.Time) (int, error) {
	present := make(map[string]bool, len(open))
	for _, p := range open {
		present[p.Key()] = true
	}

	resolved := 0
	err := m.store.WithTx(ctx, func(tx storage.Store) error {
		resolved = 0
		active, err := tx.ListRecommendations(ctx, models.StatusActive)
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		for _, rec := range active {
			var reason string
			switch {
			case util.DaysBetween(now, rec.Expiration) < 0:
				reason = models.ResolvedExpired
			case !present[rec.PositionKey]:
				reason = models.ResolvedPositionClosed
			default:
				continue
			}
			if err := m.resolve(ctx, tx, rec.ID, reason, now); err != nil {
				return err
			}
			resolved++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if resolved > 0 {
		m.logger.Infof("sweep resolved %d stale recommendation(s)", resolved)
	}
	return resolved, nil
}

// History returns every snapshot recorded for the recommendation, oldest first.
func (m *Manager) History(ctx context.Context, recID string) ([]models.Snapshot, error) {
	return m.store.ListSnapshots(ctx, recID)
}
