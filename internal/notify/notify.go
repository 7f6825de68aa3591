// Package notify renders decisions for people and hands them to a delivery channel.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/strike_advisor/internal/models"
)

// Notification is one decision cleared for delivery.
type Notification struct {
	Position models.Position
	Decision *models.Decision
	Verdict  models.Verdict
	Pass     string
	// Snapshot is the number of the persisted snapshot this notification reports.
	Snapshot int
}

// Notifier delivers notifications. Implementations must be safe for sequential use
// by one writer; the scan pipeline never calls Notify concurrently.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	logger logrus.FieldLogger
}

// NewLogNotifier creates a notifier that logs at info level.
func NewLogNotifier(logger logrus.FieldLogger) *LogNotifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the rendered notification.
func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	if n.Decision == nil {
		return fmt.Errorf("notify %s: nil decision", n.Position.Key())
	}
	l.logger.WithFields(logrus.Fields{
		"position": n.Position.Key(),
		"action":   n.Decision.Action,
		"priority": n.Decision.Priority,
		"verdict":  n.Verdict.Reason,
		"pass":     n.Pass,
		"snapshot": n.Snapshot,
	}).Info(Render(n.Position, n.Decision))
	return nil
}

// Render formats a decision as a one-paragraph alert.
func Render(pos models.Position, d *models.Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %s %.2f%s %s: %s",
		strings.ToUpper(string(d.Priority)), d.Action, pos.Symbol, pos.Strike,
		optionLetter(pos.OptionType), pos.Expiration.Format("Jan 02"), d.Reason)

	if line := detailLine(d); line != "" {
		b.WriteString(" | ")
		b.WriteString(line)
	}
	if d.TechnicalSummary != "" {
		b.WriteString(" | ")
		b.WriteString(d.TechnicalSummary)
	}
	return b.String()
}

func detailLine(d *models.Decision) string {
	t := d.Target
	switch v := d.Detail.(type) {
	case models.PullBackDetail:
		return fmt.Sprintf("pull back %s -> %s (%d days sooner) %s",
			v.FromExpiration.Format("Jan 02"), v.ToExpiration.Format("Jan 02"), v.DaysSaved, targetText(t))
	case models.CompressDetail:
		return fmt.Sprintf("compress (%s) from %s %s, cap %s",
			strings.ReplaceAll(string(v.Mode), "_", " "), v.FromExpiration.Format("Jan 02"), targetText(t), money(v.CostCap))
	case models.ITMRollDetail:
		return fmt.Sprintf("escape %.1f%% ITM %s, cap %s, P(OTM) %.0f%%",
			v.ITMPercent*100, targetText(t), money(v.CostCap), v.ProbOTM*100)
	case models.CatastrophicDetail:
		return fmt.Sprintf("no roll within %d days under %s (%d candidates); buy back ~%s",
			v.HorizonDays, money(v.CostCap), v.Candidates, money(v.BuyBack))
	case models.NearITMDetail:
		return fmt.Sprintf("%.1f%% OTM with %d days left", v.OTMPercent*100, v.DaysToExpiry)
	case models.WeeklyRollDetail:
		if v.Redeploy {
			return fmt.Sprintf("%.0f%% captured; close and redeploy", v.ProfitPercent*100)
		}
		return fmt.Sprintf("%.0f%% captured; roll %s", v.ProfitPercent*100, targetText(t))
	case models.MonitorDetail:
		return fmt.Sprintf("watching (%s), %.1f%% ITM", strings.ReplaceAll(v.Tag, "_", " "), v.ITMPercent*100)
	case nil:
		return targetText(t)
	}
	return ""
}

func targetText(t *models.Target) string {
	if t == nil {
		return ""
	}
	s := fmt.Sprintf("to %.2f %s", t.Strike, t.Expiration.Format("Jan 02"))
	switch {
	case t.NetCost < 0:
		s += " for " + money(-t.NetCost) + " credit"
	case t.NetCost > 0:
		s += " for " + money(t.NetCost) + " debit"
	default:
		s += " even"
	}
	return s
}

func money(x float64) string {
	return fmt.Sprintf("$%.2f", x)
}

func optionLetter(t models.OptionType) string {
	if t == models.OptionCall {
		return "C"
	}
	return "P"
}
