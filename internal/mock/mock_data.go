// Package mock provides a synthetic market used when no live data feed is
// configured. Prices follow a bounded random walk and option premiums come from
// the same volatility model the decision engine uses for estimates.
package mock

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/eddiefleurent/strike_advisor/internal/marketdata"
	"github.com/eddiefleurent/strike_advisor/internal/models"
	"github.com/eddiefleurent/strike_advisor/internal/util"
)

const (
	historyLen = 200
	rsiPeriod  = 14
	bandPeriod = 20
	// strikeSpan bounds the strike grid to +-25% of the underlying.
	strikeSpan = 0.25
)

// secureFloat64 generates a cryptographically secure random float64 between 0 and 1
func secureFloat64() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		return 0.5
	}
	return float64(n.Int64()) / (1 << 53)
}

// secureInt63n generates a cryptographically secure random int64 between 0 and n-1
func secureInt63n(n int64) int64 {
	r, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return n / 2
	}
	return r.Int64()
}

type symbolState struct {
	closes     []float64
	volatility float64
	earnings   time.Time
}

func (s *symbolState) last() float64 {
	return s.closes[len(s.closes)-1]
}

// Market is an in-memory market for a set of tracked underlyings. It satisfies
// both marketdata.IndicatorProvider and marketdata.RollSearcher.
type Market struct {
	mu      sync.Mutex
	symbols map[string]*symbolState
	now     func() time.Time
	// Drift is the per-call random walk amplitude as a fraction of price. Zero freezes prices.
	Drift float64
}

var (
	_ marketdata.IndicatorProvider = (*Market)(nil)
	_ marketdata.RollSearcher      = (*Market)(nil)
)

// NewMarket creates an empty market clocked by now (time.Now when nil).
func NewMarket(now func() time.Time) *Market {
	if now == nil {
		now = time.Now
	}
	return &Market{symbols: make(map[string]*symbolState), now: now, Drift: 0.002}
}

// Track starts following symbol at price with annualized volatility vol. A
// synthetic close history is generated so moving averages are populated.
// Tracking an already known symbol is a no-op.
func (m *Market) Track(symbol string, price, vol float64) {
	symbol = strings.ToUpper(symbol)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.symbols[symbol]; ok || price <= 0 {
		return
	}
	if vol <= 0 {
		vol = 0.20 + secureFloat64()*0.25
	}

	// Walk backwards from today's price so the newest close equals price.
	closes := make([]float64, historyLen)
	closes[historyLen-1] = price
	daily := vol / math.Sqrt(252)
	for i := historyLen - 2; i >= 0; i-- {
		step := (secureFloat64() - 0.5) * 2 * daily
		closes[i] = math.Max(0.01, closes[i+1]*(1-step))
	}
	m.symbols[symbol] = &symbolState{
		closes:     closes,
		volatility: vol,
		earnings:   util.DateOnly(m.now()).AddDate(0, 0, 10+int(secureInt63n(60))),
	}
}

// Anchor tracks every position's underlying near its strike, leaving known
// symbols alone.
func (m *Market) Anchor(positions []models.Position) {
	for _, p := range positions {
		// Start within +-5% of the strike so the book mixes ITM and OTM legs.
		m.Track(p.Symbol, p.Strike*(0.95+secureFloat64()*0.10), 0)
	}
}

// SetPrice forces the latest close for a tracked symbol.
func (m *Market) SetPrice(symbol string, price float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.symbols[strings.ToUpper(symbol)]
	if !ok {
		return fmt.Errorf("%s: %w", symbol, marketdata.ErrNoData)
	}
	s.closes[len(s.closes)-1] = price
	return nil
}

// Indicators advances the symbol's random walk one step and returns the
// resulting technical picture.
func (m *Market) Indicators(ctx context.Context, symbol string) (*models.Indicators, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.symbols[strings.ToUpper(symbol)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", symbol, marketdata.ErrNoData)
	}
	if m.Drift > 0 {
		next := s.last() * (1 + (secureFloat64()-0.5)*2*m.Drift)
		s.closes = append(s.closes[1:], util.RoundCents(next))
	}
	return indicatorsFor(strings.ToUpper(symbol), s, m.now()), nil
}

func indicatorsFor(symbol string, s *symbolState, now time.Time) *models.Indicators {
	mid, sd := meanStd(tail(s.closes, bandPeriod))
	recent := tail(s.closes, bandPeriod)
	support, resistance := recent[0], recent[0]
	for _, c := range recent {
		support = math.Min(support, c)
		resistance = math.Max(resistance, c)
	}
	return &models.Indicators{
		Symbol:          symbol,
		AsOf:            now,
		Price:           s.last(),
		SMA20:           util.RoundCents(mean(tail(s.closes, 20))),
		SMA50:           util.RoundCents(mean(tail(s.closes, 50))),
		SMA200:          util.RoundCents(mean(tail(s.closes, 200))),
		RSI:             math.Round(rsi(s.closes, rsiPeriod)*10) / 10,
		BollingerUpper:  util.RoundCents(mid + 2*sd),
		BollingerMiddle: util.RoundCents(mid),
		BollingerLower:  util.RoundCents(mid - 2*sd),
		Support:         support,
		Resistance:      resistance,
		Volatility:      s.volatility,
		NextEarnings:    s.earnings,
	}
}

// SearchRolls prices a grid of Friday expirations and strikes for the request.
// The result honors the kind's shape but not the cost bound.
func (m *Market) SearchRolls(ctx context.Context, req models.RollRequest) ([]models.RollCandidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	s, ok := m.symbols[strings.ToUpper(req.Position.Symbol)]
	var vol float64
	if ok {
		vol = s.volatility
	}
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", req.Position.Symbol, marketdata.ErrNoData)
	}

	now := m.now()
	price := req.CurrentPrice
	pos := req.Position
	buyBack, ok := pos.PremiumNow(price, vol, now)
	if !ok {
		return nil, fmt.Errorf("%s: cannot price current option", pos.Symbol)
	}

	var out []models.RollCandidate
	for _, exp := range fridays(now, req.MinDays, req.MaxDays) {
		shorter := util.DateOnly(exp).Before(util.DateOnly(pos.Expiration))
		for _, k := range strikeGrid(price) {
			if !shapeAllows(req.Kind, pos, price, k, shorter) {
				continue
			}
			leg := models.Position{Symbol: pos.Symbol, OptionType: pos.OptionType, Strike: k, Expiration: exp, Contracts: 1}
			premium, ok := leg.EstimatePremium(price, vol, now)
			if !ok || premium < 0.05 {
				continue
			}
			out = append(out, models.RollCandidate{
				Expiration: exp,
				Strike:     k,
				Premium:    premium,
				BuyBack:    buyBack,
				NetCost:    util.RoundCents(buyBack - premium),
				ProbOTM:    probOTM(pos.OptionType, price, k, vol, util.DaysBetween(now, exp)),
			})
		}
	}
	return out, nil
}

func shapeAllows(kind models.RollKind, pos models.Position, price, strike float64, shorter bool) bool {
	switch kind {
	case models.RollPullBack:
		return shorter && (util.StrikesEqual(strike, pos.Strike) || pos.IsFurtherOTM(strike))
	case models.RollCompress:
		return shorter && math.Abs(strike-price) <= math.Abs(pos.Strike-price)+0.005
	case models.RollEscape, models.RollWeekly:
		return pos.StrikeIsOTM(strike, price)
	}
	return false
}

// fridays lists weekly expirations whose calendar distance from now is in [minDays, maxDays].
func fridays(now time.Time, minDays, maxDays int) []time.Time {
	if minDays < 1 {
		minDays = 1
	}
	today := util.DateOnly(now)
	first := today.AddDate(0, 0, (int(time.Friday)-int(today.Weekday())+7)%7)
	var out []time.Time
	for d := first; util.DaysBetween(now, d) <= maxDays; d = d.AddDate(0, 0, 7) {
		if util.DaysBetween(now, d) >= minDays {
			out = append(out, d)
		}
	}
	return out
}

func strikeStep(price float64) float64 {
	switch {
	case price < 25:
		return 0.5
	case price < 100:
		return 1
	case price < 250:
		return 2.5
	default:
		return 5
	}
}

func strikeGrid(price float64) []float64 {
	step := strikeStep(price)
	lo := util.RoundToTick(price*(1-strikeSpan), step)
	hi := price * (1 + strikeSpan)
	var out []float64
	for k := math.Max(step, lo); k <= hi; k += step {
		out = append(out, util.RoundToTick(k, step))
	}
	return out
}

// probOTM is the lognormal probability the option finishes out of the money.
func probOTM(t models.OptionType, price, strike, vol float64, days int) float64 {
	if days < 1 {
		days = 1
	}
	sigmaT := vol * math.Sqrt(float64(days)/365.0)
	if sigmaT <= 0 {
		return 0.5
	}
	z := math.Log(strike/price) / sigmaT
	if t == models.OptionPut {
		z = -z
	}
	return math.Round(normCDF(z)*1000) / 1000
}

func normCDF(z float64) float64 {
	return 0.5 * (1 + math.Erf(z/math.Sqrt2))
}

func tail(xs []float64, n int) []float64 {
	if n > len(xs) {
		n = len(xs)
	}
	return xs[len(xs)-n:]
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func meanStd(xs []float64) (float64, float64) {
	mu := mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - mu) * (x - mu)
	}
	if len(xs) == 0 {
		return mu, 0
	}
	return mu, math.Sqrt(ss / float64(len(xs)))
}

// rsi is Wilder's relative strength index over the last period changes.
func rsi(closes []float64, period int) float64 {
	if len(closes) <= period {
		return 50
	}
	var gain, loss float64
	recent := tail(closes, period+1)
	for i := 1; i < len(recent); i++ {
		ch := recent[i] - recent[i-1]
		if ch > 0 {
			gain += ch
		} else {
			loss -= ch
		}
	}
	if loss == 0 {
		if gain == 0 {
			return 50
		}
		return 100
	}
	rs := gain / loss
	return 100 - 100/(1+rs)
}
