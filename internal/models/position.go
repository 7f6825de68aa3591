// Package models provides the data structures shared by the decision, lifecycle and
// reconciliation components.
package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/eddiefleurent/strike_advisor/internal/util"
)

// SharesPerContract is the option multiplier used for dollar P&L.
const SharesPerContract = 100

// OptionType is the right of a short option contract.
type OptionType string

const (
	// OptionCall is a sold call
	OptionCall OptionType = "call"
	// OptionPut is a sold put
	OptionPut OptionType = "put"
)

// Valid returns true if the OptionType is one of the defined constants
func (t OptionType) Valid() bool {
	switch t {
	case OptionCall, OptionPut:
		return true
	default:
		return false
	}
}

// ParseOptionType accepts call/put in any case plus the single-letter C/P forms.
func ParseOptionType(s string) (OptionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "call", "c":
		return OptionCall, nil
	case "put", "p":
		return OptionPut, nil
	}
	return "", fmt.Errorf("unknown option type %q", s)
}

// Position is one open short option as supplied by the holdings collaborator.
// The core never mutates it.
type Position struct {
	Expiration      time.Time  `json:"expiration" yaml:"expiration"`
	Symbol          string     `json:"symbol" yaml:"symbol"`
	Account         string     `json:"account" yaml:"account"`
	OptionType      OptionType `json:"option_type" yaml:"option_type"`
	Strike          float64    `json:"strike" yaml:"strike"`
	OriginalPremium float64    `json:"original_premium" yaml:"original_premium"`
	// CurrentPremium is the observed buy-back price; zero means not observed.
	CurrentPremium float64 `json:"current_premium,omitempty" yaml:"current_premium,omitempty"`
	Contracts      int     `json:"contracts" yaml:"contracts"`
}

// Key returns the canonical identity string of the position.
func (p Position) Key() string {
	return PositionKey(p.Symbol, p.Strike, p.OptionType, p.Expiration, p.Account)
}

// PositionKey builds the identity string from its parts.
func PositionKey(symbol string, strike float64, optType OptionType, expiration time.Time, account string) string {
	return fmt.Sprintf("%s|%.2f|%s|%s|%s",
		strings.ToUpper(strings.TrimSpace(symbol)),
		strike,
		optType,
		expiration.Format("2006-01-02"),
		strings.TrimSpace(account))
}

// Validate checks the fields the decision engine relies on.
func (p Position) Validate() error {
	if strings.TrimSpace(p.Symbol) == "" {
		return errors.New("position symbol is required")
	}
	if !p.OptionType.Valid() {
		return fmt.Errorf("position %s: invalid option type %q", p.Symbol, p.OptionType)
	}
	if p.Strike <= 0 {
		return fmt.Errorf("position %s: strike must be positive (current: %.2f)", p.Symbol, p.Strike)
	}
	if p.Expiration.IsZero() {
		return fmt.Errorf("position %s: expiration is required", p.Symbol)
	}
	if p.Contracts <= 0 {
		return fmt.Errorf("position %s: contracts must be > 0 (current: %d)", p.Symbol, p.Contracts)
	}
	if p.OriginalPremium < 0 || p.CurrentPremium < 0 {
		return fmt.Errorf("position %s: premiums cannot be negative", p.Symbol)
	}
	return nil
}

// DaysToExpiry returns calendar days from now until expiration. Negative once expired.
func (p Position) DaysToExpiry(now time.Time) int {
	return util.DaysBetween(now, p.Expiration)
}

// ITMPercent is the relative distance of price past the strike on the adverse side,
// as a fraction (0.05 == 5%). Zero when the option is at or out of the money.
func (p Position) ITMPercent(price float64) float64 {
	if p.Strike <= 0 {
		return 0
	}
	var d float64
	if p.OptionType == OptionCall {
		d = (price - p.Strike) / p.Strike
	} else {
		d = (p.Strike - price) / p.Strike
	}
	if d <= 0 {
		return 0
	}
	return d
}

// OTMPercent is the favorable-side distance from the strike as a fraction.
func (p Position) OTMPercent(price float64) float64 {
	if p.Strike <= 0 {
		return 0
	}
	var d float64
	if p.OptionType == OptionCall {
		d = (p.Strike - price) / p.Strike
	} else {
		d = (price - p.Strike) / p.Strike
	}
	if d <= 0 {
		return 0
	}
	return d
}

// IsITM reports whether price sits strictly past the strike on the adverse side.
func (p Position) IsITM(price float64) bool {
	return p.ITMPercent(price) > 0
}

// Intrinsic returns the per-share intrinsic value at price.
func (p Position) Intrinsic(price float64) float64 {
	if p.OptionType == OptionCall {
		return math.Max(0, price-p.Strike)
	}
	return math.Max(0, p.Strike-price)
}

// IsFurtherOTM reports whether strike is at least as far on the favorable side as the
// position's own strike (higher for calls, lower for puts).
func (p Position) IsFurtherOTM(strike float64) bool {
	if p.OptionType == OptionCall {
		return strike >= p.Strike-0.005
	}
	return strike <= p.Strike+0.005
}

// StrikeIsOTM reports whether strike would be out of the money at price.
func (p Position) StrikeIsOTM(strike, price float64) bool {
	if p.OptionType == OptionCall {
		return strike > price
	}
	return strike < price
}

// EstimatePremium approximates the buy-back price as intrinsic value plus a
// volatility-scaled time value: S*sigma*sqrt(T)*phi(d) with d = ln(S/K)/(sigma*sqrt(T)).
// Returns false when volatility is unknown.
func (p Position) EstimatePremium(price, volatility float64, now time.Time) (float64, bool) {
	if price <= 0 || volatility <= 0 || p.Strike <= 0 {
		return 0, false
	}
	days := float64(p.DaysToExpiry(now))
	if days < 0 {
		return p.Intrinsic(price), true
	}
	// Expiration day still carries a few hours of time value.
	if days < 0.5 {
		days = 0.5
	}
	sqrtT := math.Sqrt(days / 365.0)
	sigmaT := volatility * sqrtT
	d := math.Log(price/p.Strike) / sigmaT
	phi := math.Exp(-d*d/2) / math.Sqrt(2*math.Pi)
	timeValue := price * sigmaT * phi
	return util.RoundCents(p.Intrinsic(price) + timeValue), true
}

// PremiumNow returns the observed current premium or, when unobserved, the estimate.
func (p Position) PremiumNow(price, volatility float64, now time.Time) (float64, bool) {
	if p.CurrentPremium > 0 {
		return p.CurrentPremium, true
	}
	return p.EstimatePremium(price, volatility, now)
}

// ProfitPercent returns (original - current) / original as a fraction.
// May be negative (loss); zero when the original premium is unknown.
func (p Position) ProfitPercent(currentPremium float64) float64 {
	if p.OriginalPremium <= 0 {
		return 0
	}
	return (p.OriginalPremium - currentPremium) / p.OriginalPremium
}
