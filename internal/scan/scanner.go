package scan

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/strike_advisor/internal/holdings"
	"github.com/eddiefleurent/strike_advisor/internal/lifecycle"
	"github.com/eddiefleurent/strike_advisor/internal/marketdata"
	"github.com/eddiefleurent/strike_advisor/internal/models"
	"github.com/eddiefleurent/strike_advisor/internal/notify"
	"github.com/eddiefleurent/strike_advisor/internal/strategy"
	"github.com/eddiefleurent/strike_advisor/internal/util"
)

const dayLayout = "2006-01-02"

// Deps are the collaborators a Scanner coordinates.
type Deps struct {
	Positions  holdings.PositionSource
	Indicators marketdata.IndicatorProvider
	Rolls      marketdata.RollSearcher
	Engine     *strategy.Engine
	Lifecycle  *lifecycle.Manager
	Notifier   notify.Notifier
}

// Options tune scheduling and fan-out.
type Options struct {
	Location    *time.Location
	Parallelism int
	// Schedule maps each pass to its local "HH:MM" start time. Passes without an
	// entry are never started by Run.
	Schedule      map[Pass]string
	CheckInterval time.Duration
	Now           func() time.Time
	// AfterPass, when set, runs after every scheduled pass started by Tick.
	AfterPass func(ctx context.Context, pass Pass, now time.Time)
}

// Scanner runs passes over the position book.
type Scanner struct {
	deps   Deps
	opts   Options
	logger logrus.FieldLogger

	mu      sync.Mutex
	current *ScanContext
	// lastRun maps pass -> day key of its last scheduled run
	lastRun map[Pass]string
}

// Item is one evaluated position within a pass.
type Item struct {
	Position models.Position
	Decision *models.Decision
	Market   models.MarketContext
	Verdict  models.Verdict
	Snapshot int
	Notified bool
}

// Result summarizes one pass.
type Result struct {
	Pass      Pass
	Day       string
	Evaluated int
	Decisions int
	Filtered  int
	Recorded  int
	Notified  int
	Swept     int
	Errors    int
	Delivered []Item
	// Informational holds evening items, which are logged only.
	Informational []Item
}

// New creates a scanner.
func New(deps Deps, opts Options, logger logrus.FieldLogger) (*Scanner, error) {
	switch {
	case deps.Positions == nil:
		return nil, errors.New("scanner: position source is required")
	case deps.Indicators == nil || deps.Rolls == nil:
		return nil, errors.New("scanner: market data collaborators are required")
	case deps.Engine == nil || deps.Lifecycle == nil:
		return nil, errors.New("scanner: engine and lifecycle manager are required")
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLogNotifier(logger)
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	for p, clock := range opts.Schedule {
		if _, err := time.Parse("15:04", clock); err != nil {
			return nil, fmt.Errorf("scanner: %s start %q must be HH:MM", p, clock)
		}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scanner{deps: deps, opts: opts, logger: logger, lastRun: make(map[Pass]string)}, nil
}

// ContextFor returns the scan context for now's local day, replacing the
// previous one once the day has rolled over.
func (s *Scanner) ContextFor(now time.Time) *ScanContext {
	day := now.In(s.opts.Location).Format(dayLayout)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.Day != day {
		if s.current != nil {
			s.logger.WithField("day", day).Debugf("scan context rolled from %s", s.current.Day)
		}
		s.current = newScanContext(day, s.opts.Location)
	}
	return s.current
}

type evaluation struct {
	pos    models.Position
	ind    *models.Indicators
	d      *models.Decision
	market models.MarketContext
}

// RunPass executes one pass at now. Failures for individual positions are
// logged and counted; only a failure to load the book aborts the pass.
func (s *Scanner) RunPass(ctx context.Context, pass Pass, now time.Time) (*Result, error) {
	log := s.logger.WithField("pass", pass)
	positions, err := s.deps.Positions.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s pass: loading positions: %w", pass, err)
	}

	sc := s.ContextFor(now)
	res := &Result{Pass: pass, Day: sc.Day}

	if pass == PassFull {
		n, err := s.deps.Lifecycle.Sweep(ctx, positions, now)
		if err != nil {
			log.WithError(err).Error("sweep failed")
			res.Errors++
		}
		res.Swept = n
	}

	local := now.In(s.opts.Location)
	var selected []models.Position
	for _, p := range positions {
		if pass.selects(p, local) {
			selected = append(selected, p)
		}
	}
	slices.SortFunc(selected, func(a, b models.Position) int { return strings.Compare(a.Key(), b.Key()) })

	evals, err := s.evaluate(ctx, selected, now)
	if err != nil {
		return nil, fmt.Errorf("%s pass: %w", pass, err)
	}
	res.Evaluated = len(evals)

	for _, ev := range evals {
		id := ev.pos.Key()
		if pass == PassFull {
			hash := ""
			if ev.d != nil {
				hash = ev.d.Hash()
			}
			sc.SetBaseline(id, hash)
		}
		if ev.d == nil {
			continue
		}
		res.Decisions++
		if !pass.keeps(sc, id, ev.d) {
			continue
		}
		if pass.Informational() {
			item := Item{Position: ev.pos, Decision: ev.d, Market: ev.market}
			res.Informational = append(res.Informational, item)
			log.WithFields(logrus.Fields{"position": id, "action": ev.d.Action}).
				Info("next-day prep: " + notify.Render(ev.pos, ev.d))
			continue
		}
		s.deliver(ctx, sc, pass, ev, now, res)
	}

	log.WithFields(logrus.Fields{
		"evaluated": res.Evaluated,
		"decisions": res.Decisions,
		"recorded":  res.Recorded,
		"notified":  res.Notified,
		"errors":    res.Errors,
	}).Info("pass complete")
	return res, nil
}

// deliver runs on the single writer: filter, then persist, then notify.
func (s *Scanner) deliver(ctx context.Context, sc *ScanContext, pass Pass, ev evaluation, now time.Time, res *Result) {
	id := ev.pos.Key()
	log := s.logger.WithFields(logrus.Fields{"pass": pass, "position": id})

	if !sc.Filter.ShouldSend(id, ev.d, now) {
		res.Filtered++
		log.Debug("unchanged since earlier today")
		return
	}

	_, snap, verdict, err := s.deps.Lifecycle.Record(ctx, ev.pos, ev.d, ev.market, now)
	if err != nil {
		// unrecorded decisions must stay eligible for the next pass
		sc.Filter.Forget(id, now)
		res.Errors++
		log.WithError(err).Error("recording decision failed")
		return
	}
	res.Recorded++

	item := Item{Position: ev.pos, Decision: ev.d, Market: ev.market, Verdict: verdict, Snapshot: snap.Number}
	if verdict.Notify {
		err := s.deps.Notifier.Notify(ctx, notify.Notification{
			Position: ev.pos, Decision: ev.d, Verdict: verdict, Pass: string(pass), Snapshot: snap.Number,
		})
		if err != nil {
			res.Errors++
			log.WithError(err).WithField("snapshot", snap.Number).
				Warn("notification failed; snapshot stays marked notified and starts the cooldown")
		} else {
			item.Notified = true
			res.Notified++
		}
	} else {
		log.WithField("verdict", verdict.Reason).Debug("suppressed")
	}
	res.Delivered = append(res.Delivered, item)
}

// evaluate fetches indicators once per symbol and runs the engine for every
// position concurrently. The returned slice keeps the input order.
func (s *Scanner) evaluate(ctx context.Context, positions []models.Position, now time.Time) ([]evaluation, error) {
	var symbols []string
	for _, p := range positions {
		if !slices.Contains(symbols, p.Symbol) {
			symbols = append(symbols, p.Symbol)
		}
	}

	inds := make([]*models.Indicators, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Parallelism)
	for i, sym := range symbols {
		g.Go(func() error {
			ind, err := s.deps.Indicators.Indicators(gctx, sym)
			if err != nil {
				s.logger.WithField("symbol", sym).WithError(err).Warn("indicators unavailable")
				return nil
			}
			inds[i] = ind
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bySymbol := make(map[string]*models.Indicators, len(symbols))
	for i, sym := range symbols {
		bySymbol[sym] = inds[i]
	}

	out := make([]evaluation, len(positions))
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Parallelism)
	for i, pos := range positions {
		g.Go(func() error {
			ind := bySymbol[pos.Symbol]
			out[i] = evaluation{
				pos:    pos,
				ind:    ind,
				d:      s.deps.Engine.Evaluate(gctx, pos, ind, s.deps.Rolls, now),
				market: marketContext(pos, ind, now),
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func marketContext(pos models.Position, ind *models.Indicators, now time.Time) models.MarketContext {
	mc := models.MarketContext{DaysToExpiry: pos.DaysToExpiry(now)}
	if ind == nil {
		return mc
	}
	mc.Price = ind.Price
	mc.RSI = ind.RSI
	mc.BollingerPosition = ind.BollingerPosition()
	mc.ITMPercent = pos.ITMPercent(ind.Price)
	mc.OTMPercent = pos.OTMPercent(ind.Price)
	mc.Volatility = ind.Volatility
	if premium, ok := pos.PremiumNow(ind.Price, ind.Volatility, now); ok {
		mc.CurrentPremium = util.RoundCents(premium)
		mc.ProfitPercent = pos.ProfitPercent(premium)
	}
	return mc
}

// Due returns the scheduled passes whose start time has passed on now's local
// day and that have not yet run that day, in daily order. Weekends have none.
func (s *Scanner) Due(now time.Time) []Pass {
	local := now.In(s.opts.Location)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return nil
	}
	day := local.Format(dayLayout)
	clock := local.Format("15:04")

	s.mu.Lock()
	defer s.mu.Unlock()
	var due []Pass
	for _, p := range Passes {
		start, ok := s.opts.Schedule[p]
		if !ok || clock < start || s.lastRun[p] == day {
			continue
		}
		due = append(due, p)
	}
	return due
}

func (s *Scanner) markRun(p Pass, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun[p] = now.In(s.opts.Location).Format(dayLayout)
}

// Tick runs every pass that is due at the current time.
func (s *Scanner) Tick(ctx context.Context) {
	now := s.opts.Now()
	for _, p := range s.Due(now) {
		if _, err := s.RunPass(ctx, p, now); err != nil {
			s.logger.WithField("pass", p).WithError(err).Error("pass failed")
		}
		// A failed pass is not retried until the next day.
		s.markRun(p, now)
		if s.opts.AfterPass != nil {
			s.opts.AfterPass(ctx, p, now)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Run ticks on the check interval until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	s.logger.WithField("interval", s.opts.CheckInterval).Info("scanner starting")
	ticker := time.NewTicker(s.opts.CheckInterval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scanner stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}
