// Package scan drives the five daily passes over the open-position book and
// routes each decision through suppression, persistence and delivery.
package scan

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/eddiefleurent/strike_advisor/internal/dedupe"
	"github.com/eddiefleurent/strike_advisor/internal/models"
	"github.com/eddiefleurent/strike_advisor/internal/util"
)

// Pass names one of the scheduled scans of a trading day.
type Pass string

const (
	PassFull     Pass = "full"
	PassPostOpen Pass = "post_open"
	PassMidday   Pass = "midday"
	PassPreClose Pass = "pre_close"
	PassEvening  Pass = "evening"
)

// Passes lists the passes in the order they run during a day.
var Passes = []Pass{PassFull, PassPostOpen, PassMidday, PassPreClose, PassEvening}

// ParsePass accepts a pass name; "full_scan" is an alias for full.
func ParsePass(s string) (Pass, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "full_scan" {
		return PassFull, nil
	}
	for _, p := range Passes {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown pass %q", s)
}

// Informational reports passes whose output is never recorded or delivered.
func (p Pass) Informational() bool {
	return p == PassEvening
}

// ScanContext is the mutable state shared by every pass of one local calendar day.
type ScanContext struct {
	Day    string
	Filter *dedupe.Filter

	mu       sync.Mutex
	baseline map[string]string
}

func newScanContext(day string, loc *time.Location) *ScanContext {
	return &ScanContext{
		Day:      day,
		Filter:   dedupe.NewFilter(loc),
		baseline: make(map[string]string),
	}
}

// SetBaseline records the morning decision hash for a position identity. An
// empty hash means the full pass produced no decision.
func (c *ScanContext) SetBaseline(id, hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseline[id] = hash
}

// Baseline returns the morning decision hash for id.
func (c *ScanContext) Baseline(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.baseline[id]
	return h, ok
}

// selects reports whether pos is in scope for the pass before evaluation.
// local is now in the schedule's timezone.
func (p Pass) selects(pos models.Position, local time.Time) bool {
	dte := util.DaysBetween(local, pos.Expiration)
	switch p {
	case PassPreClose:
		return dte == 0
	case PassEvening:
		return dte >= 1 && dte <= util.DaysBetween(local, util.NextTradingDay(local))
	}
	return dte >= 0
}

// keeps reports whether a decision produced by the pass goes on to delivery.
func (p Pass) keeps(sc *ScanContext, id string, d *models.Decision) bool {
	switch p {
	case PassPostOpen:
		if d.Priority != models.PriorityUrgent {
			return false
		}
		base, ok := sc.Baseline(id)
		return !ok || base != d.Hash()
	case PassMidday:
		return d.Action.Opportunity()
	}
	return true
}
