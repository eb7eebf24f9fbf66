package workflow

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestConcentratedNames_TopFiveFlaggedWhenShareHigh(t *testing.T) {
	byName := map[string]decimal.Decimal{
		"A": decimal.NewFromInt(500),
		"B": decimal.NewFromInt(300),
		"C": decimal.NewFromInt(100),
		"D": decimal.NewFromInt(50),
		"E": decimal.NewFromInt(30),
		"F": decimal.NewFromInt(20),
	}
	sorted := []string{"A", "B", "C", "D", "E", "F"}
	total := decimal.NewFromInt(1000)

	flags := concentratedNames(sorted, byName, total)
	for _, name := range []string{"A", "B", "C", "D", "E"} {
		if !flags[name] {
			t.Fatalf("expected %s flagged", name)
		}
	}
	if flags["F"] {
		t.Fatal("sixth counterparty must not be flagged")
	}
}

func TestConcentratedNames_NoFlagsBelowThreshold(t *testing.T) {
	// Ten equal counterparties: top five hold 50%, under the 60% threshold.
	byName := map[string]decimal.Decimal{}
	var sorted []string
	for _, name := range []string{"A", "B", "C", "D", "E", "G", "H", "I", "J", "K"} {
		byName[name] = decimal.NewFromInt(100)
		sorted = append(sorted, name)
	}
	flags := concentratedNames(sorted, byName, decimal.NewFromInt(1000))
	if len(flags) != 0 {
		t.Fatalf("expected no flags, got %v", flags)
	}
}

func TestConcentratedNames_EmptyTotal(t *testing.T) {
	flags := concentratedNames(nil, nil, decimal.Zero)
	if len(flags) != 0 {
		t.Fatalf("expected no flags on zero total, got %v", flags)
	}
}

func TestRowsForMonth_FiltersToOneMonth(t *testing.T) {
	rows := []CounterpartyRow{
		{Month: "2026-06", Name: "Acme", Balance: decimal.NewFromInt(100)},
		{Month: "2026-07", Name: "Acme", Balance: decimal.NewFromInt(150)},
		{Month: "2026-07", Name: "Globex", Balance: decimal.NewFromInt(80)},
	}
	got := rowsForMonth(rows, "2026-07")
	if len(got) != 2 {
		t.Fatalf("expected 2 rows for 2026-07, got %d", len(got))
	}
	for _, r := range got {
		if r.Month != "2026-07" {
			t.Fatalf("row for wrong month leaked: %+v", r)
		}
	}
	if got := rowsForMonth(rows, "2026-01"); len(got) != 0 {
		t.Fatalf("expected no rows for uncovered month, got %d", len(got))
	}
}

func TestExplicitCounterpartyTotals_AggregatesAbsByName(t *testing.T) {
	totals := explicitCounterpartyTotals([]CounterpartyRow{
		{Month: "2026-07", Name: "Acme", Balance: decimal.NewFromInt(100)},
		{Month: "2026-07", Name: "Acme", Balance: decimal.NewFromInt(-40)},
		{Month: "2026-07", Name: "Globex", Balance: decimal.NewFromInt(-80)},
	})
	if len(totals) != 2 {
		t.Fatalf("expected 2 names, got %d", len(totals))
	}
	if !totals["Acme"].Equal(decimal.NewFromInt(140)) {
		t.Fatalf("expected Acme 140 (magnitudes summed), got %s", totals["Acme"])
	}
	if !totals["Globex"].Equal(decimal.NewFromInt(80)) {
		t.Fatalf("expected Globex 80, got %s", totals["Globex"])
	}
}

func TestMatchesAnyKeyword(t *testing.T) {
	if !matchesAnyKeyword("Direct Sales Income", revenueKeywords) {
		t.Fatal("expected revenue keyword match")
	}
	if !matchesAnyKeyword("COST OF GOODS SOLD", expenseKeywords) {
		t.Fatal("keyword match must be case insensitive")
	}
	if matchesAnyKeyword("Sundry Debtors", expenseKeywords) {
		t.Fatal("unexpected keyword match")
	}
}

func TestLinesFromMap_SortedByBucket(t *testing.T) {
	lines := linesFromMap(map[string]decimal.Decimal{
		"Zeta":  decimal.NewFromInt(1),
		"Alpha": decimal.NewFromInt(2),
		"Mid":   decimal.NewFromInt(3),
	})
	if len(lines) != 3 || lines[0].Bucket != "Alpha" || lines[1].Bucket != "Mid" || lines[2].Bucket != "Zeta" {
		t.Fatalf("expected stable bucket order, got %+v", lines)
	}
}
