package scan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/strike_advisor/internal/config"
	"github.com/eddiefleurent/strike_advisor/internal/lifecycle"
	"github.com/eddiefleurent/strike_advisor/internal/marketdata"
	"github.com/eddiefleurent/strike_advisor/internal/models"
	"github.com/eddiefleurent/strike_advisor/internal/notify"
	"github.com/eddiefleurent/strike_advisor/internal/storage"
	"github.com/eddiefleurent/strike_advisor/internal/strategy"
)

// Monday
var monday = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

func daysOut(from time.Time, n int) time.Time {
	y, m, d := from.AddDate(0, 0, n).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type book struct {
	mu        sync.Mutex
	positions []models.Position
	err       error
}

func (b *book) Positions(context.Context) ([]models.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Position(nil), b.positions...), b.err
}

func (b *book) add(p models.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions = append(b.positions, p)
}

type quotes struct {
	mu     sync.Mutex
	prices map[string]float64
	calls  map[string]int
}

func (q *quotes) Indicators(_ context.Context, symbol string) (*models.Indicators, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls[symbol]++
	price, ok := q.prices[symbol]
	if !ok {
		return nil, marketdata.ErrNoData
	}
	return &models.Indicators{
		Symbol:          symbol,
		Price:           price,
		RSI:             50,
		BollingerLower:  price * 0.95,
		BollingerMiddle: price,
		BollingerUpper:  price * 1.05,
		Volatility:      0.30,
	}, nil
}

type recorder struct {
	mu   sync.Mutex
	sent []notify.Notification
	err  error
}

func (r *recorder) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, n)
	return nil
}

func (r *recorder) symbols() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.sent {
		out = append(out, n.Position.Symbol)
	}
	return out
}

type fixture struct {
	scanner *Scanner
	store   *storage.MockStorage
	book    *book
	quotes  *quotes
	sent    *recorder
}

func itmCall(symbol string) models.Position {
	// 12% ITM with no escape available -> CLOSE_CATASTROPHIC
	return models.Position{
		Symbol: symbol, Strike: 100, OptionType: models.OptionCall, Expiration: daysOut(monday, 30),
		Contracts: 1, OriginalPremium: 2.00, CurrentPremium: 12.40,
	}
}

func newFixture(t *testing.T, positions ...models.Position) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := storage.NewMockStorage()
	f := &fixture{
		store: store,
		book:  &book{positions: positions},
		quotes: &quotes{
			prices: map[string]float64{"Z": 112, "Y": 112, "N": 99.5, "Q": 100, "E": 99.5, "F": 99.5},
			calls:  map[string]int{},
		},
		sent: &recorder{},
	}
	noRolls := marketdata.RollSearcherFunc(func(context.Context, models.RollRequest) ([]models.RollCandidate, error) {
		return nil, nil
	})
	s, err := New(Deps{
		Positions:  f.book,
		Indicators: f.quotes,
		Rolls:      noRolls,
		Engine:     strategy.NewEngine(config.Default().Decision, 0, logger),
		Lifecycle:  lifecycle.NewManager(store, lifecycle.Options{}, logger),
		Notifier:   f.sent,
	}, Options{
		Location:    time.UTC,
		Parallelism: 4,
		Schedule:    map[Pass]string{PassFull: "08:45", PassPostOpen: "09:45", PassMidday: "12:30"},
		Now:         func() time.Time { return monday },
	}, logger)
	require.NoError(t, err)
	f.scanner = s
	return f
}

func standardBook() []models.Position {
	return []models.Position{
		itmCall("Z"),
		{Symbol: "N", Strike: 100, OptionType: models.OptionCall, Expiration: daysOut(monday, 5),
			Contracts: 1, OriginalPremium: 1.00, CurrentPremium: 0.90},
		{Symbol: "Q", Strike: 90, OptionType: models.OptionPut, Expiration: daysOut(monday, 30),
			Contracts: 1, OriginalPremium: 1.50, CurrentPremium: 1.20},
		{Symbol: "Q", Strike: 85, OptionType: models.OptionPut, Expiration: daysOut(monday, 30),
			Contracts: 1, OriginalPremium: 1.00, CurrentPremium: 0.80},
	}
}

func TestRunPassFull(t *testing.T) {
	f := newFixture(t, standardBook()...)
	ctx := context.Background()

	res, err := f.scanner.RunPass(ctx, PassFull, monday)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Evaluated)
	assert.Equal(t, 2, res.Decisions)
	assert.Equal(t, 2, res.Recorded)
	assert.Equal(t, 2, res.Notified)
	assert.Zero(t, res.Errors)
	assert.Equal(t, []string{"N", "Z"}, f.sent.symbols(), "delivery is ordered by identity")

	for _, item := range res.Delivered {
		assert.Equal(t, models.VerdictFirstSnapshot, item.Verdict.Reason)
		assert.Equal(t, 1, item.Snapshot)
	}
	assert.Equal(t, 1, f.quotes.calls["Q"], "indicators fetched once per symbol")

	sc := f.scanner.ContextFor(monday)
	assert.Equal(t, 2, sc.Filter.Len())
	quiet := standardBook()[2]
	assert.False(t, sc.Filter.Seen(quiet.Key(), monday), "quiet position leaves the filter untouched")
	base, ok := sc.Baseline(quiet.Key())
	assert.True(t, ok)
	assert.Empty(t, base)

	// Same picture an hour later: the filter stops both before persistence.
	res, err = f.scanner.RunPass(ctx, PassFull, monday.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Filtered)
	assert.Zero(t, res.Recorded)
	assert.Len(t, f.sent.sent, 2)
}

func TestRunPassSweepsClosedPositions(t *testing.T) {
	f := newFixture(t, standardBook()...)
	ctx := context.Background()

	_, err := f.scanner.RunPass(ctx, PassFull, monday)
	require.NoError(t, err)

	f.book.positions = f.book.positions[1:] // Z closed
	res, err := f.scanner.RunPass(ctx, PassFull, monday.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Swept)

	active, err := f.store.ListRecommendations(ctx, models.StatusActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "N", active[0].Symbol)
}

func TestRunPassPostOpenDiffsAgainstBaseline(t *testing.T) {
	f := newFixture(t, standardBook()...)
	ctx := context.Background()

	_, err := f.scanner.RunPass(ctx, PassFull, monday)
	require.NoError(t, err)

	// A new urgent position appears after the morning scan.
	f.book.add(itmCall("Y"))
	res, err := f.scanner.RunPass(ctx, PassPostOpen, monday.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 5, res.Evaluated)
	assert.Equal(t, 1, res.Recorded)
	require.Len(t, res.Delivered, 1)
	assert.Equal(t, "Y", res.Delivered[0].Position.Symbol)
	assert.Equal(t, []string{"N", "Z", "Y"}, f.sent.symbols())
}

func TestRunPassMiddayOpportunitiesOnly(t *testing.T) {
	f := newFixture(t, standardBook()...)

	res, err := f.scanner.RunPass(context.Background(), PassMidday, monday)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Decisions)
	assert.Zero(t, res.Recorded)
	assert.Empty(t, f.sent.sent)
}

func TestRunPassPreCloseExpiringToday(t *testing.T) {
	today := itmCall("Z")
	today.Expiration = daysOut(monday, 0)
	f := newFixture(t, today, standardBook()[1])

	res, err := f.scanner.RunPass(context.Background(), PassPreClose, monday.Add(6*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Evaluated)
}

func TestRunPassEveningIsInformational(t *testing.T) {
	friday := time.Date(2025, 1, 10, 20, 0, 0, 0, time.UTC)
	nextMonday := models.Position{Symbol: "E", Strike: 100, OptionType: models.OptionCall,
		Expiration: daysOut(friday, 3), Contracts: 1, OriginalPremium: 1, CurrentPremium: 0.9}
	tuesday := nextMonday
	tuesday.Symbol = "F"
	tuesday.Expiration = daysOut(friday, 4)
	f := newFixture(t, nextMonday, tuesday)
	ctx := context.Background()

	res, err := f.scanner.RunPass(ctx, PassEvening, friday)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Evaluated)
	require.Len(t, res.Informational, 1)
	assert.Equal(t, models.ActionNearITMWarning, res.Informational[0].Decision.Action)
	assert.Zero(t, res.Recorded)
	assert.Empty(t, f.sent.sent)

	recs, err := f.store.ListRecommendations(ctx, models.StatusActive)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Zero(t, f.scanner.ContextFor(friday).Filter.Len())
}

func TestRunPassIsolatesFailures(t *testing.T) {
	f := newFixture(t, standardBook()...)
	f.sent.err = errors.New("smtp down")
	ctx := context.Background()

	res, err := f.scanner.RunPass(ctx, PassFull, monday)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Recorded, "persisted before notifying")
	assert.Zero(t, res.Notified)
	assert.Equal(t, 2, res.Errors)

	f2 := newFixture(t, standardBook()...)
	f2.store.FailOn("InsertSnapshot", errors.New("disk full"))
	res, err = f2.scanner.RunPass(ctx, PassFull, monday)
	require.NoError(t, err)
	assert.Zero(t, res.Recorded)
	assert.Equal(t, 2, res.Errors)
	assert.Empty(t, f2.sent.sent)

	delete(f.quotes.prices, "N")
	res, err = f.scanner.RunPass(ctx, PassFull, monday.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Decisions, "missing data yields no decision for that position only")
}

func TestRunPassRetriesUnrecordedDecisions(t *testing.T) {
	f := newFixture(t, standardBook()...)
	ctx := context.Background()

	f.store.FailOn("InsertSnapshot", errors.New("disk full"))
	res, err := f.scanner.RunPass(ctx, PassFull, monday)
	require.NoError(t, err)
	assert.Zero(t, res.Recorded)
	assert.Zero(t, f.scanner.ContextFor(monday).Filter.Len())

	f.store.FailOn("InsertSnapshot", nil)
	res, err = f.scanner.RunPass(ctx, PassFull, monday.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, res.Filtered)
	assert.Equal(t, 2, res.Recorded)
	assert.Equal(t, 2, res.Notified)
	assert.ElementsMatch(t, []string{"N", "Z"}, f.sent.symbols())
}

func TestRunPassFailedDeliveryKeepsVerdict(t *testing.T) {
	f := newFixture(t, itmCall("Z"))
	f.sent.err = errors.New("smtp down")
	ctx := context.Background()

	res, err := f.scanner.RunPass(ctx, PassFull, monday)
	require.NoError(t, err)
	require.Len(t, res.Delivered, 1)
	assert.False(t, res.Delivered[0].Notified)
	assert.True(t, res.Delivered[0].Verdict.Notify)

	recs, err := f.store.ListRecommendations(ctx, models.StatusActive)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	last, err := f.store.LatestNotifiedSnapshot(ctx, recs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, last.Number, "cooldown counts from the verdict, not the delivery")
}

func TestRunPassBookFailure(t *testing.T) {
	f := newFixture(t)
	f.book.err = errors.New("file gone")
	_, err := f.scanner.RunPass(context.Background(), PassFull, monday)
	assert.ErrorContains(t, err, "file gone")
}

func TestContextForRollsAtMidnight(t *testing.T) {
	f := newFixture(t)
	a := f.scanner.ContextFor(monday)
	assert.Same(t, a, f.scanner.ContextFor(monday.Add(14*time.Hour+59*time.Minute)))

	b := f.scanner.ContextFor(monday.Add(15 * time.Hour))
	assert.NotSame(t, a, b)
	assert.Equal(t, "2025-01-07", b.Day)
}

func TestDueAndTick(t *testing.T) {
	f := newFixture(t, standardBook()...)
	var after []Pass
	f.scanner.opts.AfterPass = func(_ context.Context, p Pass, _ time.Time) { after = append(after, p) }

	assert.Equal(t, []Pass{PassFull}, f.scanner.Due(monday))
	assert.Equal(t, []Pass{PassFull, PassPostOpen, PassMidday}, f.scanner.Due(monday.Add(4*time.Hour)))
	assert.Empty(t, f.scanner.Due(time.Date(2025, 1, 11, 13, 0, 0, 0, time.UTC)), "weekend")

	f.scanner.Tick(context.Background())
	assert.Len(t, f.sent.sent, 2)
	assert.Equal(t, []Pass{PassFull}, after)
	assert.Empty(t, f.scanner.Due(monday))
	assert.Equal(t, []Pass{PassFull}, f.scanner.Due(monday.AddDate(0, 0, 1)))
}

func TestNewValidates(t *testing.T) {
	_, err := New(Deps{}, Options{}, nil)
	assert.Error(t, err)

	f := newFixture(t)
	deps := f.scanner.deps
	_, err = New(deps, Options{Schedule: map[Pass]string{PassFull: "9am"}}, nil)
	assert.Error(t, err)
}

func TestParsePass(t *testing.T) {
	for _, s := range []string{"full", "FULL_SCAN", " midday "} {
		_, err := ParsePass(s)
		assert.NoError(t, err, s)
	}
	_, err := ParsePass("lunch")
	assert.Error(t, err)
}
