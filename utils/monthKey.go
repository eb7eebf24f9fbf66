package utils

import (
	"fmt"
	"strings"
	"time"
)

// Month keys are "YYYY-MM" strings. The format sorts lexicographically in
// calendar order, which the storage layer relies on for range queries.

const monthKeyLayout = "2006-01"

// NormalizeMonthKey trims and validates a month key, returning the canonical
// zero-padded form.
func NormalizeMonthKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	t, err := time.Parse(monthKeyLayout, key)
	if err != nil {
		return "", fmt.Errorf("invalid month key %q: %w", key, err)
	}
	return t.Format(monthKeyLayout), nil
}

func MonthKeyFromTime(t time.Time) string {
	return t.UTC().Format(monthKeyLayout)
}

// LatestClosedMonthKey is the month before the one containing now. The
// subtraction starts from the first of the month: stepping back from a day
// the shorter prior month does not have would normalize forward and land in
// the current month again (Mar 31 minus one month is "Feb 31", which Go
// reads as Mar 3).
func LatestClosedMonthKey(now time.Time) string {
	t := now.UTC()
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return MonthKeyFromTime(first.AddDate(0, -1, 0))
}

// AddMonths offsets a month key by n calendar months (n may be negative).
func AddMonths(key string, n int) (string, error) {
	t, err := time.Parse(monthKeyLayout, strings.TrimSpace(key))
	if err != nil {
		return "", fmt.Errorf("invalid month key %q: %w", key, err)
	}
	return t.AddDate(0, n, 0).Format(monthKeyLayout), nil
}

// MonthKeyRange enumerates month keys from `from` through `to`, inclusive on
// both ends. Returns an error if either key is invalid or from > to.
func MonthKeyRange(from, to string) ([]string, error) {
	start, err := time.Parse(monthKeyLayout, strings.TrimSpace(from))
	if err != nil {
		return nil, fmt.Errorf("invalid month key %q: %w", from, err)
	}
	end, err := time.Parse(monthKeyLayout, strings.TrimSpace(to))
	if err != nil {
		return nil, fmt.Errorf("invalid month key %q: %w", to, err)
	}
	if start.After(end) {
		return nil, fmt.Errorf("month range start %q is after end %q", from, to)
	}
	var keys []string
	for t := start; !t.After(end); t = t.AddDate(0, 1, 0) {
		keys = append(keys, t.Format(monthKeyLayout))
	}
	return keys, nil
}

// CompareMonthKeys orders two canonical month keys (-1, 0, +1).
func CompareMonthKeys(a, b string) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// MonthStart is midnight UTC on the first day of the month.
func MonthStart(key string) (time.Time, error) {
	t, err := time.Parse(monthKeyLayout, strings.TrimSpace(key))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month key %q: %w", key, err)
	}
	return t, nil
}

// MonthEnd is the last instant before the next month starts.
func MonthEnd(key string) (time.Time, error) {
	start, err := MonthStart(key)
	if err != nil {
		return time.Time{}, err
	}
	return start.AddDate(0, 1, 0).Add(-time.Nanosecond), nil
}

func DaysInMonth(key string) (int, error) {
	start, err := MonthStart(key)
	if err != nil {
		return 0, err
	}
	return start.AddDate(0, 1, -1).Day(), nil
}
