package storage

import (
	"context"
	"time"

	"github.com/eddiefleurent/strike_advisor/internal/models"
)

// Store is the set of reads and writes available both directly and inside a
// unit of work. Day keys are "YYYY-MM-DD" local calendar dates.
type Store interface {
	// Recommendations
	GetRecommendation(ctx context.Context, id string) (*models.Recommendation, error)
	SaveRecommendation(ctx context.Context, rec *models.Recommendation) error
	ListRecommendations(ctx context.Context, status models.RecommendationStatus) ([]models.Recommendation, error)

	// Snapshots (append-only)
	InsertSnapshot(ctx context.Context, snap *models.Snapshot) error
	LatestSnapshot(ctx context.Context, recID string) (*models.Snapshot, error)
	LatestNotifiedSnapshot(ctx context.Context, recID string) (*models.Snapshot, error)
	ListSnapshots(ctx context.Context, recID string) ([]models.Snapshot, error)
	NotifiedSnapshotsBetween(ctx context.Context, from, to time.Time) ([]models.Snapshot, error)

	// Executions mirrored from the transaction ledger
	SaveExecutions(ctx context.Context, execs []models.Execution) error
	GetExecution(ctx context.Context, id string) (*models.Execution, error)
	ExecutionsBetween(ctx context.Context, from, to time.Time) ([]models.Execution, error)

	// Matches
	UpsertMatch(ctx context.Context, m *models.Match) error
	DeleteMatch(ctx context.Context, id string) error
	MatchesForDays(ctx context.Context, fromDay, toDay string) ([]models.Match, error)
	UsedExecutionIDs(ctx context.Context, excludeDay string) (map[string]bool, error)
	MatchesAwaitingOutcome(ctx context.Context) ([]models.Match, error)

	// Outcomes
	SaveOutcome(ctx context.Context, o *models.Outcome) error
	OutcomesClosedBetween(ctx context.Context, from, to time.Time) ([]models.Outcome, error)

	// Weekly summaries
	SaveWeeklySummary(ctx context.Context, s *models.WeeklySummary) error
	GetWeeklySummary(ctx context.Context, year, week int) (*models.WeeklySummary, error)
}

// Interface defines the contract for advisor persistence.
//
// Implementations must be safe for concurrent use. WithTx runs fn as one atomic
// unit of work: either every write inside it is applied or none is.
type Interface interface {
	Store
	WithTx(ctx context.Context, fn func(tx Store) error) error
	Close() error
}

// NewStorage opens the SQLite store at path.
func NewStorage(path string) (Interface, error) {
	return NewSQLiteStorage(path)
}

// DayKey formats t as a calendar-day key in t's own location.
func DayKey(t time.Time) string {
	return t.Format(dayLayout)
}

// Ensure implementations satisfy Interface
var (
	_ Interface = (*SQLiteStorage)(nil)
	_ Interface = (*MockStorage)(nil)
)
