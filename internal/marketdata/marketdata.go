// Package marketdata defines the market-data collaborators the advisor consults
// and the resilience wrappers placed around them.
package marketdata

import (
	"context"
	"errors"
	"time"

	"github.com/eddiefleurent/strike_advisor/internal/models"
)

// ErrNoData is returned when a collaborator has nothing for the symbol.
var ErrNoData = errors.New("no market data")

// IndicatorProvider supplies the technical picture of an underlying.
type IndicatorProvider interface {
	Indicators(ctx context.Context, symbol string) (*models.Indicators, error)
}

// RollSearcher proposes roll candidates for a request. Implementations may
// return candidates outside the request's cost bound; callers re-check.
type RollSearcher interface {
	SearchRolls(ctx context.Context, req models.RollRequest) ([]models.RollCandidate, error)
}

// ExecutionSource lists realized trades from the transaction ledger.
type ExecutionSource interface {
	Executions(ctx context.Context, from, to time.Time) ([]models.Execution, error)
}

// IndicatorProviderFunc adapts a function to IndicatorProvider.
type IndicatorProviderFunc func(ctx context.Context, symbol string) (*models.Indicators, error)

func (f IndicatorProviderFunc) Indicators(ctx context.Context, symbol string) (*models.Indicators, error) {
	return f(ctx, symbol)
}

// RollSearcherFunc adapts a function to RollSearcher.
type RollSearcherFunc func(ctx context.Context, req models.RollRequest) ([]models.RollCandidate, error)

func (f RollSearcherFunc) SearchRolls(ctx context.Context, req models.RollRequest) ([]models.RollCandidate, error) {
	return f(ctx, req)
}
