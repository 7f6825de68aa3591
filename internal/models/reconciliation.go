package models

import "time"

// ExecutionAction is the kind of trade the transaction ledger reports.
type ExecutionAction string

const (
	ExecSellToOpen ExecutionAction = "sell_to_open"
	ExecBuyToClose ExecutionAction = "buy_to_close"
	ExecRoll       ExecutionAction = "roll"
	ExecExpired    ExecutionAction = "expired"
	ExecAssigned   ExecutionAction = "assigned"
)

// Valid returns true if the ExecutionAction is one of the defined constants
func (a ExecutionAction) Valid() bool {
	switch a {
	case ExecSellToOpen, ExecBuyToClose, ExecRoll, ExecExpired, ExecAssigned:
		return true
	default:
		return false
	}
}

// Opens reports whether the execution leaves a new short option open.
func (a ExecutionAction) Opens() bool {
	return a == ExecSellToOpen || a == ExecRoll
}

// AlignsWith reports whether the execution is the kind of trade the action asks for.
func (a ExecutionAction) AlignsWith(action Action) bool {
	switch {
	case action.IsRoll():
		return a == ExecRoll || a == ExecSellToOpen
	case action == ActionCloseCatastrophic:
		return a == ExecBuyToClose
	}
	return false
}

// Execution is a realized trade read from the transaction ledger. For rolls the
// strike/expiration/premium describe the newly opened leg.
type Execution struct {
	ExecutedAt time.Time       `json:"executed_at"`
	Expiration time.Time       `json:"expiration"`
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	Account    string          `json:"account,omitempty"`
	OptionType OptionType      `json:"option_type"`
	Action     ExecutionAction `json:"action"`
	Strike     float64         `json:"strike"`
	Premium    float64         `json:"premium"`
	Contracts  int             `json:"contracts"`
}

// Classification is how the user's behavior relates to a recommendation.
type Classification string

const (
	ClassConsent     Classification = "consent"
	ClassModify      Classification = "modify"
	ClassReject      Classification = "reject"
	ClassIndependent Classification = "independent"
	ClassNoAction    Classification = "no_action"
)

// AllClassifications lists classifications in reporting order.
var AllClassifications = []Classification{
	ClassConsent, ClassModify, ClassReject, ClassIndependent, ClassNoAction,
}

// Match links a recommendation's notified snapshot to at most one execution.
type Match struct {
	Day                 time.Time      `json:"day"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	ID                  string         `json:"id"`
	RecommendationID    string         `json:"recommendation_id,omitempty"`
	SnapshotID          string         `json:"snapshot_id,omitempty"`
	ExecutionID         string         `json:"execution_id,omitempty"`
	Symbol              string         `json:"symbol"`
	Classification      Classification `json:"classification"`
	RecommendedAction   Action         `json:"recommended_action,omitempty"`
	RecommendedPriority Priority       `json:"recommended_priority,omitempty"`
	Confidence          float64        `json:"confidence"`
	RecommendedPremium  float64        `json:"recommended_premium,omitempty"`
	StrikeDeltaPct      float64        `json:"strike_delta_pct"`
	ExpirationDeltaDays int            `json:"expiration_delta_days"`
	PremiumDeltaPct     float64        `json:"premium_delta_pct"`
}

// HasExecution reports whether the match consumed an execution.
func (m *Match) HasExecution() bool {
	return m.ExecutionID != ""
}

// OutcomeResult is the terminal state of a matched position.
type OutcomeResult string

const (
	OutcomeExpiredWorthless OutcomeResult = "expired_worthless"
	OutcomeClosedProfit     OutcomeResult = "closed_profit"
	OutcomeClosedLoss       OutcomeResult = "closed_loss"
	OutcomeAssigned         OutcomeResult = "assigned"
)

// Outcome records how a matched position finished.
type Outcome struct {
	ClosedAt         time.Time     `json:"closed_at"`
	MatchID          string        `json:"match_id"`
	ClosingExecution string        `json:"closing_execution_id,omitempty"`
	Result           OutcomeResult `json:"result"`
	RealizedPremium  float64       `json:"realized_premium"`
	NetProfit        float64       `json:"net_profit"`
}

// Pattern is one behavioral regularity mined from a week of matches.
type Pattern struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Occurrences int     `json:"occurrences"`
	Magnitude   float64 `json:"magnitude"`
}

// ParameterCandidate is an advisory parameter change. It is never applied automatically.
type ParameterCandidate struct {
	Parameter string  `json:"parameter"`
	Rationale string  `json:"rationale"`
	Current   float64 `json:"current"`
	Suggested float64 `json:"suggested"`
	AutoApply bool    `json:"auto_apply"`
}

// WeeklySummary aggregates one ISO week of reconciliation.
type WeeklySummary struct {
	GeneratedAt time.Time              `json:"generated_at"`
	Counts      map[Classification]int `json:"counts"`
	Patterns    []Pattern              `json:"patterns"`
	Candidates  []ParameterCandidate   `json:"candidates"`
	Year        int                    `json:"year"`
	Week        int                    `json:"week"`
	RealizedPnL float64                `json:"realized_pnl"`
	Outcomes    int                    `json:"outcomes"`
}
