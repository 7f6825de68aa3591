package reconcile

import (
	"math"
	"time"

	"github.com/eddiefleurent/strike_advisor/internal/models"
	"github.com/eddiefleurent/strike_advisor/internal/util"
)

// Score penalties and bonus.
const (
	maxScore          = 100.0
	strikePenaltyCap  = 30.0
	strikePenaltyPer  = 3.0 // per percent of strike difference
	expiryPenaltyCap  = 30.0
	expiryPenaltyPer  = 2.0 // per day of expiration difference
	premiumPenaltyCap = 20.0
	premiumPenaltyDiv = 2.0 // one point per two percent of premium difference
	alignedBonus      = 10.0
)

// reference is what an execution is compared against: the snapshot's target when it
// has one, else the recommended contract itself.
type reference struct {
	expiration time.Time
	strike     float64
	premium    float64
}

// deltas are the signed execution-minus-recommendation differences.
type deltas struct {
	strikePct  float64
	days       int
	premiumPct float64
}

// scored is one execution considered for a snapshot.
type scored struct {
	exec    models.Execution
	deltas  deltas
	score   float64
	aligned bool
}

func referenceFor(rec *models.Recommendation, snap *models.Snapshot) reference {
	if t := snap.Target; t != nil {
		return reference{expiration: t.Expiration, strike: t.Strike, premium: t.Premium}
	}
	return reference{expiration: rec.Expiration, strike: rec.Strike}
}

func compare(ref reference, exec models.Execution) deltas {
	d := deltas{
		strikePct: util.PctDiff(exec.Strike, ref.strike),
		days:      util.DaysBetween(ref.expiration, exec.Expiration),
	}
	if ref.premium > 0 {
		d.premiumPct = util.PctDiff(exec.Premium, ref.premium)
	}
	return d
}

// score rates how well exec fits the snapshot, clamped to 0..100.
func score(d deltas, aligned bool) float64 {
	s := maxScore
	s -= math.Min(strikePenaltyCap, strikePenaltyPer*math.Abs(d.strikePct))
	s -= math.Min(expiryPenaltyCap, expiryPenaltyPer*math.Abs(float64(d.days)))
	s -= math.Min(premiumPenaltyCap, math.Abs(d.premiumPct)/premiumPenaltyDiv)
	if aligned {
		s += alignedBonus
	}
	return util.Clamp(s, 0, maxScore)
}

// classify turns an accepted candidate into consent or modify.
func (r *Reconciler) classify(d deltas) models.Classification {
	if math.Abs(d.strikePct) > r.cfg.StrikeModifyPct || absInt(d.days) > r.cfg.ExpirationModifyDays {
		return models.ClassModify
	}
	return models.ClassConsent
}

// unmatched classifies a snapshot no execution was accepted for.
func unmatched(action models.Action) models.Classification {
	if action.Informational() {
		return models.ClassNoAction
	}
	return models.ClassReject
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
