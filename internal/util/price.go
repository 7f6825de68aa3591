// Package util provides common utility functions for price calculations.
package util

import (
	"math"
	"time"
)

// RoundToTick rounds x to the nearest tick increment.
// For example, with tick=0.01, 1.2345 becomes 1.23 or 1.24 depending on rounding.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Round(x/tick) * tick
}

// RoundCents rounds a dollar amount to the nearest cent.
func RoundCents(x float64) float64 {
	return RoundToTick(x, 0.01)
}

// PctDiff returns the signed percentage difference of actual relative to base,
// e.g. PctDiff(103, 100) == 3. A non-positive base yields 0.
func PctDiff(actual, base float64) float64 {
	if base <= 0 {
		return 0
	}
	return (actual - base) / base * 100
}

// StrikesEqual compares two strikes at penny precision.
func StrikesEqual(a, b float64) bool {
	return math.Abs(a-b) < 0.005
}

// DateOnly truncates t to midnight in its own location.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DaysBetween returns the whole calendar days from -> to (negative when to is earlier).
// Both times are compared by calendar date in UTC so a 16:00 expiration timestamp
// still counts as its own day.
func DaysBetween(from, to time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(math.Round(t.Sub(f).Hours() / 24))
}

// NextTradingDay returns midnight of the first weekday after day, in day's
// location. Exchange holidays are not modeled.
func NextTradingDay(day time.Time) time.Time {
	return stepWeekday(day, 1)
}

// PreviousTradingDay returns midnight of the last weekday before day.
func PreviousTradingDay(day time.Time) time.Time {
	return stepWeekday(day, -1)
}

func stepWeekday(day time.Time, step int) time.Time {
	next := DateOnly(day).AddDate(0, 0, step)
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, step)
	}
	return next
}

// Clamp bounds x to [lo, hi].
func Clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
