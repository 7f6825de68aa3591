package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Action is the closed set of things the engine can recommend.
type Action string

const (
	// ActionPullBack re-enters at an earlier expiration
	ActionPullBack Action = "PULL_BACK"
	// ActionRollITM escapes an ITM position to an OTM strike
	ActionRollITM Action = "ROLL_ITM"
	// ActionCompress shortens duration at the same or a nearer strike
	ActionCompress Action = "COMPRESS"
	// ActionNearITMWarning flags an OTM position about to be challenged
	ActionNearITMWarning Action = "NEAR_ITM_WARNING"
	// ActionRollWeekly redeploys a mostly-captured premium
	ActionRollWeekly Action = "ROLL_WEEKLY"
	// ActionCloseCatastrophic closes a position no roll can rescue
	ActionCloseCatastrophic Action = "CLOSE_CATASTROPHIC"
	// ActionMonitor asks the user to keep watching
	ActionMonitor Action = "MONITOR"
)

// Valid returns true if the Action is one of the defined constants
func (a Action) Valid() bool {
	switch a {
	case ActionPullBack, ActionRollITM, ActionCompress, ActionNearITMWarning,
		ActionRollWeekly, ActionCloseCatastrophic, ActionMonitor:
		return true
	default:
		return false
	}
}

// Informational reports actions that ask for no trade.
func (a Action) Informational() bool {
	return a == ActionMonitor || a == ActionNearITMWarning
}

// IsRoll reports actions executed as a close-and-reopen.
func (a Action) IsRoll() bool {
	switch a {
	case ActionPullBack, ActionRollITM, ActionCompress, ActionRollWeekly:
		return true
	}
	return false
}

// Opportunity reports the optional, income-improving actions scanned midday.
func (a Action) Opportunity() bool {
	return a == ActionPullBack || a == ActionCompress || a == ActionRollWeekly
}

// Priority orders decisions: urgent > high > medium > low.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank maps the priority to a comparable integer; unknown priorities rank 0.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Target is where a roll or close should land.
type Target struct {
	Expiration time.Time `json:"expiration"`
	Strike     float64   `json:"strike"`
	NetCost    float64   `json:"net_cost"`
	// Premium is the expected sale price of the new leg, zero for closes.
	Premium float64 `json:"premium,omitempty"`
}

// Decision is the engine output for one position. It is immutable once built;
// "no decision" is a nil *Decision.
type Decision struct {
	Detail           Detail   `json:"-"`
	Target           *Target  `json:"target,omitempty"`
	Action           Action   `json:"action"`
	Priority         Priority `json:"priority"`
	Reason           string   `json:"reason"`
	TechnicalSummary string   `json:"technical_summary,omitempty"`
	Rationale        string   `json:"rationale,omitempty"`
}

// Hash fingerprints the parts of a decision that make it "the same alert":
// action, target strike, target expiration and priority.
func (d *Decision) Hash() string {
	strike, exp := 0.0, ""
	if d.Target != nil {
		strike = d.Target.Strike
		exp = d.Target.Expiration.Format("2006-01-02")
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%.2f|%s|%s", d.Action, strike, exp, d.Priority)))
	return hex.EncodeToString(sum[:8])
}

// Detail is the per-action payload. The set of implementations is closed; callers
// switch on the concrete type.
type Detail interface {
	Kind() Action
	isDetail()
}

// PullBackDetail carries the pull-back re-entry facts.
type PullBackDetail struct {
	FromExpiration time.Time `json:"from_expiration"`
	ToExpiration   time.Time `json:"to_expiration"`
	CostBound      float64   `json:"cost_bound"`
	DaysSaved      int       `json:"days_saved"`
}

// CompressMode distinguishes the three compress paths.
type CompressMode string

const (
	CompressWeeklyIncome CompressMode = "weekly_income"
	CompressSameStrike   CompressMode = "same_strike"
	CompressOTMEscape    CompressMode = "otm_escape"
)

// CompressDetail carries the compress facts.
type CompressDetail struct {
	FromExpiration time.Time    `json:"from_expiration"`
	Mode           CompressMode `json:"mode"`
	ITMPercent     float64      `json:"itm_pct"`
	ProfitPercent  float64      `json:"profit_pct"`
	CostCap        float64      `json:"cost_cap"`
}

// ITMRollDetail carries the escape-roll facts.
type ITMRollDetail struct {
	ITMPercent float64 `json:"itm_pct"`
	CostCap    float64 `json:"cost_cap"`
	ProbOTM    float64 `json:"prob_otm"`
}

// CatastrophicDetail records the search that was exhausted, for auditability.
type CatastrophicDetail struct {
	ITMPercent  float64 `json:"itm_pct"`
	HorizonDays int     `json:"horizon_days"`
	CostCap     float64 `json:"cost_cap"`
	BuyBack     float64 `json:"buy_back"`
	Candidates  int     `json:"candidates_seen"`
}

// NearITMDetail carries the distance-to-strike facts.
type NearITMDetail struct {
	OTMPercent   float64 `json:"otm_pct"`
	DaysToExpiry int     `json:"days_to_expiry"`
}

// WeeklyRollDetail carries the profit-capture facts.
type WeeklyRollDetail struct {
	ProfitPercent float64 `json:"profit_pct"`
	ProbOTM       float64 `json:"prob_otm,omitempty"`
	// Redeploy is set when no replacement strike was found: close and redeploy later.
	Redeploy bool `json:"redeploy,omitempty"`
}

// Monitor tags.
const (
	MonitorForCompress     = "monitor_for_compress"
	MonitorTechnicalRevert = "technical_reversion"
)

// MonitorDetail carries why the position is only being watched.
type MonitorDetail struct {
	Tag               string  `json:"tag"`
	ITMPercent        float64 `json:"itm_pct"`
	RSI               float64 `json:"rsi,omitempty"`
	BollingerPosition float64 `json:"bollinger_position,omitempty"`
	CostCap           float64 `json:"cost_cap,omitempty"`
}

func (PullBackDetail) Kind() Action     { return ActionPullBack }
func (CompressDetail) Kind() Action     { return ActionCompress }
func (ITMRollDetail) Kind() Action      { return ActionRollITM }
func (CatastrophicDetail) Kind() Action { return ActionCloseCatastrophic }
func (NearITMDetail) Kind() Action      { return ActionNearITMWarning }
func (WeeklyRollDetail) Kind() Action   { return ActionRollWeekly }
func (MonitorDetail) Kind() Action      { return ActionMonitor }

func (PullBackDetail) isDetail()     {}
func (CompressDetail) isDetail()     {}
func (ITMRollDetail) isDetail()      {}
func (CatastrophicDetail) isDetail() {}
func (NearITMDetail) isDetail()      {}
func (WeeklyRollDetail) isDetail()   {}
func (MonitorDetail) isDetail()      {}

// EncodeDetail serializes a detail for persistence. A nil detail encodes as "".
func EncodeDetail(d Detail) (string, error) {
	if d == nil {
		return "", nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encoding %s detail: %w", d.Kind(), err)
	}
	return string(b), nil
}

// DecodeDetail restores the detail persisted for action.
func DecodeDetail(action Action, raw string) (Detail, error) {
	if raw == "" {
		return nil, nil
	}
	var (
		d   Detail
		err error
	)
	switch action {
	case ActionPullBack:
		var v PullBackDetail
		err = json.Unmarshal([]byte(raw), &v)
		d = v
	case ActionCompress:
		var v CompressDetail
		err = json.Unmarshal([]byte(raw), &v)
		d = v
	case ActionRollITM:
		var v ITMRollDetail
		err = json.Unmarshal([]byte(raw), &v)
		d = v
	case ActionCloseCatastrophic:
		var v CatastrophicDetail
		err = json.Unmarshal([]byte(raw), &v)
		d = v
	case ActionNearITMWarning:
		var v NearITMDetail
		err = json.Unmarshal([]byte(raw), &v)
		d = v
	case ActionRollWeekly:
		var v WeeklyRollDetail
		err = json.Unmarshal([]byte(raw), &v)
		d = v
	case ActionMonitor:
		var v MonitorDetail
		err = json.Unmarshal([]byte(raw), &v)
		d = v
	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s detail: %w", action, err)
	}
	return d, nil
}
