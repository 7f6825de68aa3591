package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/strike_advisor/internal/config"
	"github.com/eddiefleurent/strike_advisor/internal/holdings"
	"github.com/eddiefleurent/strike_advisor/internal/lifecycle"
	"github.com/eddiefleurent/strike_advisor/internal/marketdata"
	"github.com/eddiefleurent/strike_advisor/internal/mock"
	"github.com/eddiefleurent/strike_advisor/internal/models"
	"github.com/eddiefleurent/strike_advisor/internal/notify"
	"github.com/eddiefleurent/strike_advisor/internal/reconcile"
	"github.com/eddiefleurent/strike_advisor/internal/retry"
	"github.com/eddiefleurent/strike_advisor/internal/scan"
	"github.com/eddiefleurent/strike_advisor/internal/storage"
	"github.com/eddiefleurent/strike_advisor/internal/strategy"
)

// app is the fully wired advisor.
type app struct {
	cfg        *config.Config
	logger     *logrus.Logger
	loc        *time.Location
	store      storage.Interface
	lifecycle  *lifecycle.Manager
	scanner    *scan.Scanner
	reconciler *reconcile.Reconciler
}

func newLogger(env config.EnvironmentConfig) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	level, err := logrus.ParseLevel(env.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	logger.SetLevel(level)
	if env.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}

// anchoredBook reloads the holdings file and makes sure the synthetic market
// follows every underlying in it.
type anchoredBook struct {
	file   *holdings.File
	market *mock.Market
}

func (b anchoredBook) Positions(ctx context.Context) ([]models.Position, error) {
	positions, err := b.file.Positions(ctx)
	if err != nil {
		return nil, err
	}
	b.market.Anchor(positions)
	return positions, nil
}

func newApp(path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Environment)
	if err != nil {
		return nil, err
	}
	loc := cfg.LocationOrDefault()

	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	cb := cfg.MarketData.CircuitBreaker
	mdOpts := marketdata.Options{
		Breaker: marketdata.CircuitBreakerSettings{
			MaxRequests:  cb.MaxRequests,
			Interval:     parseDuration(cb.Interval, time.Minute),
			Timeout:      parseDuration(cb.Timeout, 30*time.Second),
			MinRequests:  cb.MinRequests,
			FailureRatio: cb.FailureRatio,
		},
		CallTimeout: cfg.GetMarketDataTimeout(),
		Retry: retry.NewClient(logger.WithField("component", "retry"), retry.Config{
			MaxRetries: cfg.MarketData.Retries,
			Timeout:    cfg.GetMarketDataTimeout(),
		}),
		Logger: logger.WithField("component", "marketdata"),
	}
	market := mock.NewMarket(nil)
	logger.Info("using synthetic market data")

	manager := lifecycle.NewManager(store, lifecycle.Options{
		Cooldown: cfg.GetCooldown(),
		Silent:   cfg.SilentActionSet(),
	}, logger.WithField("component", "lifecycle"))

	schedule := make(map[scan.Pass]string)
	for name, clock := range cfg.PassTimes() {
		p, err := scan.ParsePass(name)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		schedule[p] = clock
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		loc:       loc,
		store:     store,
		lifecycle: manager,
		reconciler: reconcile.NewReconciler(store, holdings.NewLedger(cfg.Holdings.LedgerPath),
			cfg.Reconciliation, loc, logger.WithField("component", "reconcile")),
	}

	a.scanner, err = scan.New(scan.Deps{
		Positions:  anchoredBook{file: holdings.NewFile(cfg.Holdings.Path), market: market},
		Indicators: marketdata.NewResilientIndicators(market, mdOpts),
		Rolls:      marketdata.NewResilientRolls(market, mdOpts),
		Engine:     strategy.NewEngine(cfg.Decision, cfg.GetMaxIndicatorAge(), logger.WithField("component", "engine")),
		Lifecycle:  manager,
		Notifier:   notify.NewLogNotifier(logger.WithField("component", "notify")),
	}, scan.Options{
		Location:      loc,
		Parallelism:   cfg.Scan.Parallelism,
		Schedule:      schedule,
		CheckInterval: cfg.GetCheckInterval(),
		AfterPass:     a.endOfDay,
	}, logger.WithField("component", "scan"))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// parseDay reads YYYY-MM-DD in loc; empty means today.
func parseDay(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Now().In(loc), nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("day must be YYYY-MM-DD: %w", err)
	}
	return t, nil
}
