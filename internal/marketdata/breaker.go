package marketdata

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/eddiefleurent/strike_advisor/internal/models"
	"github.com/eddiefleurent/strike_advisor/internal/retry"
)

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// DefaultCircuitBreakerSettings mirror the config defaults.
var DefaultCircuitBreakerSettings = CircuitBreakerSettings{
	MaxRequests:  3,                // Allow 3 requests when half-open
	Interval:     60 * time.Second, // Reset counts every minute
	Timeout:      30 * time.Second, // Open circuit for 30 seconds
	MinRequests:  5,                // Minimum requests before tripping
	FailureRatio: 0.6,              // Trip if 60% failure rate
}

// Options tune the resilient wrappers.
type Options struct {
	Breaker CircuitBreakerSettings
	// CallTimeout bounds every individual collaborator call; zero disables it.
	CallTimeout time.Duration
	Retry       *retry.Client
	Logger      logrus.FieldLogger
}

func newBreaker(name string, settings CircuitBreakerSettings, logger logrus.FieldLogger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			// a missing symbol says nothing about the collaborator's health
			return err == nil || errors.Is(err, ErrNoData)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithField("breaker", name).Warnf("circuit breaker state changed from %s to %s", from, to)
		},
	})
}

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods
func execCircuitBreaker[T any](
	ctx context.Context,
	breaker *gobreaker.CircuitBreaker,
	timeout time.Duration,
	fn func(context.Context) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) {
		callCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return fn(callCtx)
	})
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

func withRetry[T any](ctx context.Context, c *retry.Client, op string, fn func(context.Context) (T, error)) (T, error) {
	if c == nil {
		return fn(ctx)
	}
	return retry.Do(ctx, c, op, fn)
}

func (o Options) normalized() Options {
	if o.Breaker == (CircuitBreakerSettings{}) {
		o.Breaker = DefaultCircuitBreakerSettings
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	return o
}

// ResilientIndicators wraps an IndicatorProvider with a timeout, retries and a circuit breaker.
type ResilientIndicators struct {
	next    IndicatorProvider
	breaker *gobreaker.CircuitBreaker
	opts    Options
}

var _ IndicatorProvider = (*ResilientIndicators)(nil)

// NewResilientIndicators wraps next.
func NewResilientIndicators(next IndicatorProvider, opts Options) *ResilientIndicators {
	opts = opts.normalized()
	return &ResilientIndicators{
		next:    next,
		breaker: newBreaker("IndicatorProvider", opts.Breaker, opts.Logger),
		opts:    opts,
	}
}

// Indicators wraps the underlying call with retry and circuit breaker
func (r *ResilientIndicators) Indicators(ctx context.Context, symbol string) (*models.Indicators, error) {
	return withRetry(ctx, r.opts.Retry, "indicators "+symbol, func(ctx context.Context) (*models.Indicators, error) {
		return execCircuitBreaker(ctx, r.breaker, r.opts.CallTimeout, func(ctx context.Context) (*models.Indicators, error) {
			return r.next.Indicators(ctx, symbol)
		})
	})
}

// State exposes the breaker state for logging.
func (r *ResilientIndicators) State() gobreaker.State {
	return r.breaker.State()
}

// ResilientRolls wraps a RollSearcher with a timeout, retries and a circuit breaker.
type ResilientRolls struct {
	next    RollSearcher
	breaker *gobreaker.CircuitBreaker
	opts    Options
}

var _ RollSearcher = (*ResilientRolls)(nil)

// NewResilientRolls wraps next.
func NewResilientRolls(next RollSearcher, opts Options) *ResilientRolls {
	opts = opts.normalized()
	return &ResilientRolls{
		next:    next,
		breaker: newBreaker("RollSearcher", opts.Breaker, opts.Logger),
		opts:    opts,
	}
}

// SearchRolls wraps the underlying call with retry and circuit breaker
func (r *ResilientRolls) SearchRolls(ctx context.Context, req models.RollRequest) ([]models.RollCandidate, error) {
	op := "roll search " + req.Position.Symbol + " " + string(req.Kind)
	return withRetry(ctx, r.opts.Retry, op, func(ctx context.Context) ([]models.RollCandidate, error) {
		return execCircuitBreaker(ctx, r.breaker, r.opts.CallTimeout, func(ctx context.Context) ([]models.RollCandidate, error) {
			return r.next.SearchRolls(ctx, req)
		})
	})
}

// State exposes the breaker state for logging.
func (r *ResilientRolls) State() gobreaker.State {
	return r.breaker.State()
}
