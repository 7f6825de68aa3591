package models

import (
	"math"
	"strings"
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestITMAndOTMPercent(t *testing.T) {
	call := Position{Symbol: "X", Strike: 180, OptionType: OptionCall}
	put := Position{Symbol: "Y", Strike: 100, OptionType: OptionPut}

	tests := []struct {
		name    string
		pos     Position
		price   float64
		wantITM float64
		wantOTM float64
	}{
		{"call in the money", call, 183, 3.0 / 180, 0},
		{"call out of the money", call, 176.4, 0, 0.02},
		{"call at the money", call, 180, 0, 0},
		{"put in the money", put, 88, 0.12, 0},
		{"put out of the money", put, 101, 0, 0.01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pos.ITMPercent(tt.price); math.Abs(got-tt.wantITM) > 1e-9 {
				t.Errorf("ITMPercent(%v) = %v, want %v", tt.price, got, tt.wantITM)
			}
			if got := tt.pos.OTMPercent(tt.price); math.Abs(got-tt.wantOTM) > 1e-9 {
				t.Errorf("OTMPercent(%v) = %v, want %v", tt.price, got, tt.wantOTM)
			}
		})
	}
}

func TestDaysToExpiry(t *testing.T) {
	p := Position{Expiration: day(2025, 6, 20)}
	now := time.Date(2025, 6, 10, 14, 30, 0, 0, time.UTC)

	if got := p.DaysToExpiry(now); got != 10 {
		t.Fatalf("DaysToExpiry() = %d, want 10", got)
	}
	if got := p.DaysToExpiry(day(2025, 6, 21)); got != -1 {
		t.Fatalf("DaysToExpiry() after expiration = %d, want -1", got)
	}
}

func TestEstimatePremium(t *testing.T) {
	now := day(2025, 1, 2)
	p := Position{Symbol: "X", Strike: 100, OptionType: OptionCall, Expiration: now.AddDate(0, 0, 30)}

	atm, ok := p.EstimatePremium(100, 0.30, now)
	if !ok {
		t.Fatal("expected estimate with known volatility")
	}
	// ATM approximation: 0.4 * S * sigma * sqrt(T)
	want := 0.4 * 100 * 0.30 * math.Sqrt(30.0/365.0)
	if math.Abs(atm-want) > 0.05 {
		t.Errorf("ATM estimate = %v, want about %v", atm, want)
	}

	itm, _ := p.EstimatePremium(110, 0.30, now)
	if itm < 10 {
		t.Errorf("ITM estimate %v must include intrinsic value 10", itm)
	}

	otm, _ := p.EstimatePremium(85, 0.30, now)
	if otm >= atm {
		t.Errorf("OTM estimate %v should be below ATM estimate %v", otm, atm)
	}

	if _, ok := p.EstimatePremium(100, 0, now); ok {
		t.Error("expected no estimate without volatility")
	}
}

func TestPremiumNowPrefersObserved(t *testing.T) {
	now := day(2025, 1, 2)
	p := Position{Strike: 100, OptionType: OptionPut, Expiration: now.AddDate(0, 0, 10), CurrentPremium: 0.42}
	got, ok := p.PremiumNow(95, 0, now)
	if !ok || got != 0.42 {
		t.Fatalf("PremiumNow() = %v,%v want 0.42,true", got, ok)
	}
}

func TestProfitPercent(t *testing.T) {
	p := Position{OriginalPremium: 2.00}
	if got := p.ProfitPercent(0.70); math.Abs(got-0.65) > 1e-9 {
		t.Errorf("ProfitPercent = %v, want 0.65", got)
	}
	if got := p.ProfitPercent(3.00); got >= 0 {
		t.Errorf("ProfitPercent on a loss should be negative, got %v", got)
	}
	if got := (Position{}).ProfitPercent(1); got != 0 {
		t.Errorf("ProfitPercent without original premium = %v, want 0", got)
	}
}

func TestKeyIsCanonical(t *testing.T) {
	exp := day(2025, 3, 21)
	a := Position{Symbol: "aapl ", Strike: 180, OptionType: OptionCall, Expiration: exp, Account: "IRA"}
	b := Position{Symbol: "AAPL", Strike: 180.0, OptionType: OptionCall, Expiration: exp.Add(16 * time.Hour), Account: "IRA"}

	if a.Key() != b.Key() {
		t.Fatalf("keys differ: %q vs %q", a.Key(), b.Key())
	}
	if !strings.HasPrefix(a.Key(), "AAPL|180.00|call|2025-03-21|IRA") {
		t.Fatalf("unexpected key %q", a.Key())
	}
	if RecommendationID(a.Key()) != RecommendationID(b.Key()) {
		t.Fatal("recommendation ids must be deterministic per identity")
	}
}

func TestValidate(t *testing.T) {
	valid := Position{Symbol: "X", Strike: 10, OptionType: OptionPut, Expiration: day(2025, 1, 17), Contracts: 1}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := valid
	bad.OptionType = "straddle"
	if err := bad.Validate(); err == nil {
		t.Error("expected error for invalid option type")
	}

	bad = valid
	bad.Contracts = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for zero contracts")
	}
}

func TestParseOptionType(t *testing.T) {
	for in, want := range map[string]OptionType{"C": OptionCall, "put": OptionPut, " Call ": OptionCall, "p": OptionPut} {
		got, err := ParseOptionType(in)
		if err != nil || got != want {
			t.Errorf("ParseOptionType(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseOptionType("x"); err == nil {
		t.Error("expected error for unknown type")
	}
}
