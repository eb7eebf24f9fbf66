package utils

import (
	"testing"
	"time"
)

func TestNormalizeMonthKey(t *testing.T) {
	got, err := NormalizeMonthKey(" 2025-03 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "2025-03" {
		t.Fatalf("expected 2025-03, got %s", got)
	}

	for _, bad := range []string{"", "2025", "2025-13", "2025-00", "202503", "garbage"} {
		if _, err := NormalizeMonthKey(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestAddMonths_YearBoundaries(t *testing.T) {
	cases := []struct {
		key  string
		n    int
		want string
	}{
		{"2025-01", -1, "2024-12"},
		{"2024-12", 1, "2025-01"},
		{"2025-06", -23, "2023-07"},
		{"2025-06", 0, "2025-06"},
		{"2023-02", 24, "2025-02"},
	}
	for _, c := range cases {
		got, err := AddMonths(c.key, c.n)
		if err != nil {
			t.Fatalf("AddMonths(%s, %d): %v", c.key, c.n, err)
		}
		if got != c.want {
			t.Fatalf("AddMonths(%s, %d) = %s, want %s", c.key, c.n, got, c.want)
		}
	}
}

func TestMonthKeyRange_InclusiveBothEnds(t *testing.T) {
	keys, err := MonthKeyRange("2024-11", "2025-02")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"2024-11", "2024-12", "2025-01", "2025-02"}
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %v", len(want), keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys[%d] = %s, want %s", i, keys[i], want[i])
		}
	}

	single, err := MonthKeyRange("2025-02", "2025-02")
	if err != nil || len(single) != 1 || single[0] != "2025-02" {
		t.Fatalf("single month range broken: %v %v", single, err)
	}

	if _, err := MonthKeyRange("2025-03", "2025-02"); err == nil {
		t.Fatal("expected error for reversed range")
	}
}

func TestMonthBoundsAndDayCount(t *testing.T) {
	start, err := MonthStart("2024-02")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !start.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start: %v", start)
	}

	end, err := MonthEnd("2024-02")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if end.Month() != time.February || end.Day() != 29 {
		t.Fatalf("leap February end wrong: %v", end)
	}

	days, err := DaysInMonth("2024-02")
	if err != nil || days != 29 {
		t.Fatalf("DaysInMonth(2024-02) = %d, %v", days, err)
	}
	days, _ = DaysInMonth("2025-02")
	if days != 28 {
		t.Fatalf("DaysInMonth(2025-02) = %d", days)
	}
}

func TestLatestClosedMonthKey(t *testing.T) {
	cases := []struct {
		now  time.Time
		want string
	}{
		{time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC), "2024-12"},
		// Days the prior month does not have must not normalize forward
		// into the current month.
		{time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC), "2026-02"},
		{time.Date(2026, 3, 29, 23, 59, 59, 0, time.UTC), "2026-02"},
		{time.Date(2026, 5, 31, 12, 0, 0, 0, time.UTC), "2026-04"},
		{time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC), "2026-06"},
		{time.Date(2026, 10, 31, 0, 0, 0, 0, time.UTC), "2026-09"},
		{time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC), "2026-11"},
		{time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "2025-12"},
		{time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), "2024-01"},
	}
	for _, c := range cases {
		if got := LatestClosedMonthKey(c.now); got != c.want {
			t.Fatalf("LatestClosedMonthKey(%v) = %s, want %s", c.now, got, c.want)
		}
	}
}
