package scores

import (
	"fmt"
	"time"

	"github.com/disgoorg/repbot/internal/domain/keys"
)

// Timeframe is an aggregation window with its own collection.
type Timeframe string

const (
	Daily   Timeframe = "daily"
	Weekly  Timeframe = "weekly"
	Monthly Timeframe = "monthly"
	Yearly  Timeframe = "yearly"
	AllTime Timeframe = "alltime"
)

// Timeframes lists every window in display order.
var Timeframes = []Timeframe{Daily, Weekly, Monthly, Yearly, AllTime}

// Periodic lists the windows that reset on a calendar boundary.
var Periodic = []Timeframe{Daily, Weekly, Monthly, Yearly}

// ParseTimeframe accepts the canonical names plus "all-time".
func ParseTimeframe(s string) (Timeframe, error) {
	switch s {
	case "daily":
		return Daily, nil
	case "weekly":
		return Weekly, nil
	case "monthly":
		return Monthly, nil
	case "yearly":
		return Yearly, nil
	case "alltime", "all-time", "all":
		return AllTime, nil
	}
	return "", fmt.Errorf("unknown timeframe %q", s)
}

// Key returns the collection holding the timeframe's scores.
func (tf Timeframe) Key() string {
	switch tf {
	case Daily:
		return string(keys.ScoresDaily)
	case Weekly:
		return string(keys.ScoresWeekly)
	case Monthly:
		return string(keys.ScoresMonthly)
	case Yearly:
		return string(keys.ScoresYearly)
	default:
		return string(keys.ScoresAllTime)
	}
}

// Title is the heading used on rendered leaderboards.
func (tf Timeframe) Title() string {
	switch tf {
	case Daily:
		return "Today"
	case Weekly:
		return "This Week"
	case Monthly:
		return "This Month"
	case Yearly:
		return "This Year"
	default:
		return "All Time"
	}
}

// NextBoundary returns the instant the timeframe next resets, in UTC.
// All-time never resets and reports false.
func NextBoundary(tf Timeframe, now time.Time) (time.Time, bool) {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	switch tf {
	case Daily:
		return midnight.AddDate(0, 0, 1), true
	case Weekly:
		// Weeks start on Sunday.
		days := 7 - int(now.Weekday())
		return midnight.AddDate(0, 0, days), true
	case Monthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0), true
	case Yearly:
		return time.Date(now.Year()+1, time.January, 1, 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

// UntilBoundary is the expiry to apply to a periodic collection, rounded up to
// whole seconds.
func UntilBoundary(tf Timeframe, now time.Time) (time.Duration, bool) {
	next, ok := NextBoundary(tf, now)
	if !ok {
		return 0, false
	}
	d := next.Sub(now.UTC())
	if rem := d % time.Second; rem != 0 {
		d += time.Second - rem
	}
	return d, true
}
