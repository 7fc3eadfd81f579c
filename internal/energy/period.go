package energy

import (
	"fmt"
	"time"
)

// Period is a calendar comparison period.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// ParsePeriod validates s. An empty string means month.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case "":
		return PeriodMonth, nil
	case PeriodDay, PeriodWeek, PeriodMonth:
		return Period(s), nil
	default:
		return "", fmt.Errorf("invalid period %q: must be day, week or month", s)
	}
}

// StartOfDay returns midnight of t's day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// StartOfWeek returns midnight of the Monday of t's week.
func StartOfWeek(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return StartOfDay(t).AddDate(0, 0, -offset)
}

// StartOfMonth returns midnight of the first day of t's month.
func StartOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

// DaysInMonth returns the number of days in t's month.
func DaysInMonth(t time.Time) int {
	start := StartOfMonth(t)
	return start.AddDate(0, 1, -1).Day()
}

// Bounds returns the start of the current period containing now and the
// previous period [prevStart, prevEnd) where prevEnd equals curStart.
func Bounds(p Period, now time.Time) (curStart, prevStart, prevEnd time.Time) {
	switch p {
	case PeriodDay:
		curStart = StartOfDay(now)
		prevStart = curStart.AddDate(0, 0, -1)
	case PeriodWeek:
		curStart = StartOfWeek(now)
		prevStart = curStart.AddDate(0, 0, -7)
	default:
		curStart = StartOfMonth(now)
		prevStart = curStart.AddDate(0, -1, 0)
	}
	return curStart, prevStart, curStart
}
