package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/strike_advisor/internal/models"
	"github.com/eddiefleurent/strike_advisor/internal/storage"
)

var sharesPerContract = decimal.NewFromInt(int64(models.SharesPerContract))

// TrackOutcomes settles matched positions whose opening leg expired before asOf.
// It returns the number of outcomes written.
func (r *Reconciler) TrackOutcomes(ctx context.Context, asOf time.Time) (int, error) {
	cutoff := r.dayStart(asOf)
	written := 0

	err := r.store.WithTx(ctx, func(tx storage.Store) error {
		written = 0
		pending, err := tx.MatchesAwaitingOutcome(ctx)
		if err != nil {
			return err
		}

		for _, m := range pending {
			open, err := tx.GetExecution(ctx, m.ExecutionID)
			if errors.Is(err, storage.ErrNotFound) {
				r.logger.WithField("match", m.ID).Warnf("execution %s missing; outcome deferred", m.ExecutionID)
				continue
			}
			if err != nil {
				return err
			}
			if !open.Action.Opens() {
				continue
			}
			expiry := time.Date(open.Expiration.Year(), open.Expiration.Month(), open.Expiration.Day(), 0, 0, 0, 0, r.loc)
			if !expiry.Before(cutoff) {
				continue
			}

			later, err := tx.ExecutionsBetween(ctx, open.ExecutedAt.Add(time.Nanosecond), cutoff)
			if err != nil {
				return err
			}
			o := settle(m.ID, open, closingExecution(open, later), expiry)
			if err := tx.SaveOutcome(ctx, &o); err != nil {
				return err
			}
			written++

			r.logger.WithFields(logrus.Fields{
				"match":      m.ID,
				"symbol":     open.Symbol,
				"result":     o.Result,
				"net_profit": o.NetProfit,
			}).Info("outcome recorded")
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("track outcomes: %w", err)
	}
	return written, nil
}

// closingExecution finds the first later trade that ends the opened contract.
func closingExecution(open *models.Execution, later []models.Execution) *models.Execution {
	for i := range later {
		e := &later[i]
		if e.ID == open.ID || !sameContract(open, e) {
			continue
		}
		switch e.Action {
		case models.ExecBuyToClose, models.ExecAssigned, models.ExecExpired:
			return e
		}
	}
	return nil
}

func sameContract(a, b *models.Execution) bool {
	return a.Symbol == b.Symbol &&
		a.OptionType == b.OptionType &&
		a.Account == b.Account &&
		decimal.NewFromFloat(a.Strike).Equal(decimal.NewFromFloat(b.Strike)) &&
		a.Expiration.Format("2006-01-02") == b.Expiration.Format("2006-01-02")
}

// settle computes the outcome; money math runs in decimal so per-contract cents
// survive the contract multiplier.
func settle(matchID string, open, closing *models.Execution, expiry time.Time) models.Outcome {
	opened := decimal.NewFromFloat(open.Premium)
	contracts := decimal.NewFromInt(int64(open.Contracts))

	o := models.Outcome{MatchID: matchID}
	realized := opened

	switch {
	case closing == nil || closing.Action == models.ExecExpired:
		o.Result = models.OutcomeExpiredWorthless
		o.ClosedAt = expiry
		if closing != nil {
			o.ClosingExecution = closing.ID
			o.ClosedAt = closing.ExecutedAt
		}
	case closing.Action == models.ExecAssigned:
		o.Result = models.OutcomeAssigned
		o.ClosingExecution = closing.ID
		o.ClosedAt = closing.ExecutedAt
	default:
		realized = opened.Sub(decimal.NewFromFloat(closing.Premium))
		o.Result = models.OutcomeClosedLoss
		if realized.IsPositive() {
			o.Result = models.OutcomeClosedProfit
		}
		o.ClosingExecution = closing.ID
		o.ClosedAt = closing.ExecutedAt
	}

	o.RealizedPremium = realized.Round(2).InexactFloat64()
	o.NetProfit = realized.Mul(contracts).Mul(sharesPerContract).Round(2).InexactFloat64()
	return o
}
