package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// recommendationNamespace seeds the deterministic recommendation ids.
var recommendationNamespace = uuid.MustParse("5d7c2f0e-8a51-4c38-9d0b-6f1e2a4b9c73")

// RecommendationID derives the stable recommendation id for a position identity key.
func RecommendationID(positionKey string) string {
	return uuid.NewSHA1(recommendationNamespace, []byte(positionKey)).String()
}

// RecommendationStatus is active until the position disappears, expires or is acted on.
type RecommendationStatus string

const (
	StatusActive   RecommendationStatus = "active"
	StatusResolved RecommendationStatus = "resolved"
)

// Resolution reasons.
const (
	ResolvedExpired        = "expired"
	ResolvedPositionClosed = "position_closed"
	ResolvedExecuted       = "executed"
	// ConditionReappeared reactivates a resolved recommendation whose position is open again.
	ConditionReappeared = "reappeared"
)

// StatusTransition defines valid recommendation status transitions
type StatusTransition struct {
	From      RecommendationStatus
	To        RecommendationStatus
	Condition string
}

// ValidStatusTransitions lists every allowed status change and its condition.
var ValidStatusTransitions = []StatusTransition{
	{StatusActive, StatusResolved, ResolvedExpired},
	{StatusActive, StatusResolved, ResolvedPositionClosed},
	{StatusActive, StatusResolved, ResolvedExecuted},
	{StatusResolved, StatusActive, ConditionReappeared},
}

// Recommendation is the stable identity that snapshots hang off. Strike, expiration,
// contracts and original premium are fixed at creation.
type Recommendation struct {
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
	ResolvedAt         time.Time            `json:"resolved_at,omitempty"`
	Expiration         time.Time            `json:"expiration"`
	ID                 string               `json:"id"`
	PositionKey        string               `json:"position_key"`
	Symbol             string               `json:"symbol"`
	Account            string               `json:"account"`
	OptionType         OptionType           `json:"option_type"`
	Status             RecommendationStatus `json:"status"`
	ResolutionReason   string               `json:"resolution_reason,omitempty"`
	Strike             float64              `json:"strike"`
	OriginalPremium    float64              `json:"original_premium"`
	Contracts          int                  `json:"contracts"`
	DaysActive         int                  `json:"days_active"`
	LastSnapshotNumber int                  `json:"last_snapshot_number"`
}

// NewRecommendation snapshots the position's identity and sizing.
func NewRecommendation(pos Position, now time.Time) *Recommendation {
	key := pos.Key()
	return &Recommendation{
		ID:              RecommendationID(key),
		PositionKey:     key,
		Symbol:          pos.Symbol,
		Account:         pos.Account,
		OptionType:      pos.OptionType,
		Strike:          pos.Strike,
		Expiration:      pos.Expiration,
		Contracts:       pos.Contracts,
		OriginalPremium: pos.OriginalPremium,
		Status:          StatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// IsActive reports whether the recommendation is still live.
func (r *Recommendation) IsActive() bool {
	return r.Status == StatusActive
}

// Transition moves the recommendation to a new status under condition.
func (r *Recommendation) Transition(to RecommendationStatus, condition string, now time.Time) error {
	allowed := false
	for _, t := range ValidStatusTransitions {
		if t.From == r.Status && t.To == to && t.Condition == condition {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("recommendation %s: invalid transition from %s to %s (condition: %s)",
			r.ID, r.Status, to, condition)
	}

	r.Status = to
	r.UpdatedAt = now
	switch to {
	case StatusResolved:
		r.ResolutionReason = condition
		r.ResolvedAt = now
		r.DaysActive = int(now.Sub(r.CreatedAt).Hours() / 24)
		if r.DaysActive < 0 {
			r.DaysActive = 0
		}
	case StatusActive:
		r.ResolutionReason = ""
		r.ResolvedAt = time.Time{}
		r.DaysActive = 0
	}
	return nil
}

// MarketContext is the market and technical picture captured with a snapshot.
type MarketContext struct {
	Price             float64 `json:"price"`
	RSI               float64 `json:"rsi"`
	BollingerPosition float64 `json:"bollinger_position"`
	ITMPercent        float64 `json:"itm_pct"`
	OTMPercent        float64 `json:"otm_pct"`
	ProfitPercent     float64 `json:"profit_pct"`
	CurrentPremium    float64 `json:"current_premium"`
	Volatility        float64 `json:"volatility"`
	DaysToExpiry      int     `json:"days_to_expiry"`
}

// VerdictReason explains a notify/suppress verdict.
type VerdictReason string

const (
	VerdictSilentAction      VerdictReason = "silent_action"
	VerdictFirstSnapshot     VerdictReason = "first_snapshot"
	VerdictActionChanged     VerdictReason = "action_changed"
	VerdictTargetChanged     VerdictReason = "target_changed"
	VerdictPriorityEscalated VerdictReason = "priority_escalated"
	VerdictCooldownReminder  VerdictReason = "cooldown_reminder"
	VerdictDuplicate         VerdictReason = "duplicate"
)

// Verdict says whether a recorded snapshot should reach the user.
type Verdict struct {
	Reason VerdictReason `json:"reason"`
	Notify bool          `json:"notify"`
}

// Snapshot is one immutable, numbered capture of a decision.
type Snapshot struct {
	CreatedAt        time.Time     `json:"created_at"`
	Detail           Detail        `json:"-"`
	Target           *Target       `json:"target,omitempty"`
	ID               string        `json:"id"`
	RecommendationID string        `json:"recommendation_id"`
	Action           Action        `json:"action"`
	Priority         Priority      `json:"priority"`
	Reason           string        `json:"reason"`
	TechnicalSummary string        `json:"technical_summary,omitempty"`
	Rationale        string        `json:"rationale,omitempty"`
	VerdictReason    VerdictReason `json:"verdict_reason"`
	Market           MarketContext `json:"market"`
	Number           int           `json:"number"`
	ActionChanged    bool          `json:"action_changed"`
	TargetChanged    bool          `json:"target_changed"`
	PriorityChanged  bool          `json:"priority_changed"`
	Notified         bool          `json:"notified"`
}

// Decision rebuilds the decision this snapshot captured.
func (s *Snapshot) Decision() *Decision {
	return &Decision{
		Action:           s.Action,
		Priority:         s.Priority,
		Reason:           s.Reason,
		Target:           s.Target,
		Detail:           s.Detail,
		TechnicalSummary: s.TechnicalSummary,
		Rationale:        s.Rationale,
	}
}
