package models

import (
	"time"

	"github.com/eddiefleurent/strike_advisor/internal/util"
)

// Indicators is the technical picture of one underlying supplied by the
// market-data collaborator.
type Indicators struct {
	NextEarnings    time.Time `json:"next_earnings,omitempty"`
	AsOf            time.Time `json:"as_of"`
	Symbol          string    `json:"symbol"`
	Price           float64   `json:"price"`
	SMA20           float64   `json:"sma20"`
	SMA50           float64   `json:"sma50"`
	SMA200          float64   `json:"sma200"`
	RSI             float64   `json:"rsi"`
	BollingerUpper  float64   `json:"bollinger_upper"`
	BollingerMiddle float64   `json:"bollinger_middle"`
	BollingerLower  float64   `json:"bollinger_lower"`
	Support         float64   `json:"support"`
	Resistance      float64   `json:"resistance"`
	// Volatility is annualized, as a decimal (0.25 = 25%)
	Volatility float64 `json:"volatility"`
}

// BollingerPosition returns where price sits inside the bands, 0 at the lower band and
// 1 at the upper band. Returns 0.5 when the bands are missing or collapsed.
func (i *Indicators) BollingerPosition() float64 {
	width := i.BollingerUpper - i.BollingerLower
	if width <= 0 {
		return 0.5
	}
	return util.Clamp((i.Price-i.BollingerLower)/width, 0, 1)
}

// HasBands reports whether Bollinger bands were supplied.
func (i *Indicators) HasBands() bool {
	return i.BollingerUpper > i.BollingerLower && i.BollingerLower > 0
}

// Usable reports whether the indicator set can drive a decision at now.
// maxAge <= 0 disables the staleness check.
func (i *Indicators) Usable(now time.Time, maxAge time.Duration) bool {
	if i == nil || i.Price <= 0 {
		return false
	}
	if maxAge > 0 && !i.AsOf.IsZero() && now.Sub(i.AsOf) > maxAge {
		return false
	}
	return true
}

// RollKind tells the roll searcher which family of candidates is wanted.
type RollKind string

const (
	// RollPullBack asks for an earlier expiration at the same or a further OTM strike
	RollPullBack RollKind = "pull_back"
	// RollCompress asks for a shorter or nearer expiration, strike same or toward ATM
	RollCompress RollKind = "compress"
	// RollEscape asks for an OTM strike at any expiration within the horizon
	RollEscape RollKind = "escape"
	// RollWeekly asks for a fresh near-term strike after profit capture
	RollWeekly RollKind = "weekly"
)

// RollRequest describes the constraint handed to the roll searcher.
type RollRequest struct {
	Position     Position `json:"position"`
	Kind         RollKind `json:"kind"`
	CurrentPrice float64  `json:"current_price"`
	MinDays      int      `json:"min_days"`
	MaxDays      int      `json:"max_days"`
	// MaxNetCost is the largest acceptable debit; negative values require a credit.
	MaxNetCost float64 `json:"max_net_cost"`
}

// RollCandidate is one (strike, expiration) the position could be rolled into.
type RollCandidate struct {
	Expiration time.Time `json:"expiration"`
	Strike     float64   `json:"strike"`
	// Premium is the new sale price
	Premium float64 `json:"premium"`
	// BuyBack is the price to close the existing option
	BuyBack float64 `json:"buy_back"`
	// NetCost = BuyBack - Premium; negative is a credit
	NetCost float64 `json:"net_cost"`
	ProbOTM float64 `json:"prob_otm"`
}
