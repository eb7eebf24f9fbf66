package workflow

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/cfo_backend/models"
	"bitbucket.org/mmdatafocus/cfo_backend/utils"
)

// NOTE: These tests are intentionally DB-free. They exercise the numeric
// semantics of the reader and its helpers against in-memory fixtures.
// Full DB integration tests should be added in an environment that can run MySQL.

// newFixtureReader assembles a loaded reader from per-month measure values
// without touching a database.
func newFixtureReader(companyId string, summaries map[string]models.MonthlySummary) *SnapshotReader {
	r := NewSnapshotReader(nil, nil, companyId, DefaultMonthsBack)
	r.loaded = true
	for month := range summaries {
		if r.latestMonth == "" || utils.CompareMonthKeys(month, r.latestMonth) > 0 {
			r.latestMonth = month
		}
	}
	if r.latestMonth == "" {
		return r
	}
	floor, _ := utils.AddMonths(r.latestMonth, -(DefaultMonthsBack - 1))
	r.months, _ = utils.MonthKeyRange(floor, r.latestMonth)
	for _, m := range r.months {
		r.records[m] = &MonthRecord{Month: m}
	}
	for month, s := range summaries {
		s := s
		s.Month = month
		if rec, ok := r.records[month]; ok {
			rec.Summary = &s
		}
	}
	return r
}

func (r *SnapshotReader) setCounterpartyTotals(month string, debtors, creditors *float64) {
	rec := r.records[month]
	if rec == nil {
		return
	}
	rec.DebtorsTotal = debtors
	rec.CreditorsTotal = creditors
	r.deriveDayCounts(rec)
}

func (r *SnapshotReader) addCurrentRow(kind models.CurrentBalanceKind, name string, balance float64) {
	r.currentRows[kind] = append(r.currentRows[kind], models.CurrentBalance{
		CompanyId: r.companyId,
		Kind:      kind,
		Name:      name,
		Balance:   decimal.NewFromFloat(balance),
	})
}

func f(v float64) *float64 { return &v }

func summaryWith(revenue, expenses, cash float64) models.MonthlySummary {
	return models.MonthlySummary{
		TotalRevenue:    decimal.NewFromFloat(revenue),
		TotalExpenses:   decimal.NewFromFloat(expenses),
		NetProfit:       decimal.NewFromFloat(revenue - expenses),
		CashBankBalance: decimal.NewFromFloat(cash),
	}
}

func TestPctChange_NilPropagation(t *testing.T) {
	if got := PctChange(nil, f(100)); got != nil {
		t.Fatalf("nil current must give nil, got %v", *got)
	}
	if got := PctChange(f(100), nil); got != nil {
		t.Fatalf("nil previous must give nil, got %v", *got)
	}
	if got := PctChange(f(100), f(0)); got != nil {
		t.Fatalf("zero previous must give nil, got %v", *got)
	}
	nan := math.NaN()
	if got := PctChange(&nan, f(100)); got != nil {
		t.Fatalf("NaN current must give nil, got %v", *got)
	}
}

func TestPctChange_NegativePreviousUsesAbsoluteBase(t *testing.T) {
	got := PctChange(f(-50), f(-100))
	if got == nil {
		t.Fatal("expected a value")
	}
	// (-50 - -100) / |-100| * 100 = 50
	if math.Abs(*got-50) > 1e-9 {
		t.Fatalf("expected 50, got %v", *got)
	}
}

func TestStdDev_IsPopulationStdDev(t *testing.T) {
	got := StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if got == nil {
		t.Fatal("expected a value")
	}
	if math.Abs(*got-2) > 1e-9 {
		t.Fatalf("expected population stddev 2, got %v", *got)
	}
}

func TestTrendSignal_Directions(t *testing.T) {
	up := TrendSignal([]float64{100, 200, 300})
	if up == nil || *up != 1 {
		t.Fatalf("rising series must give +1, got %v", up)
	}
	down := TrendSignal([]float64{300, 200, 100})
	if down == nil || *down != -1 {
		t.Fatalf("falling series must give -1, got %v", down)
	}
	flat := TrendSignal([]float64{500, 500, 500})
	if flat == nil || *flat != 0 {
		t.Fatalf("flat series must give 0, got %v", flat)
	}
	if got := TrendSignal([]float64{42}); got != nil {
		t.Fatalf("single point must give nil, got %v", *got)
	}
}

func TestWindowValues_DropsMissingMonths(t *testing.T) {
	r := newFixtureReader("co-1", map[string]models.MonthlySummary{
		"2026-05": summaryWith(100, 50, 10),
		"2026-07": summaryWith(300, 50, 10),
	})
	// 2026-06 has no summary: it must be absent, not zero-filled.
	values := r.WindowValues(MeasureRevenue, "2026-07", 3)
	if len(values) != 2 {
		t.Fatalf("expected 2 values, got %v", values)
	}
	if values[0] != 100 || values[1] != 300 {
		t.Fatalf("expected ascending [100 300], got %v", values)
	}
}

func TestValue_WorkingCapitalNilWhenEitherSideMissing(t *testing.T) {
	r := newFixtureReader("co-1", map[string]models.MonthlySummary{
		"2026-07": summaryWith(100, 50, 10),
	})
	if got := r.Value(MeasureWorkingCapital, "2026-07"); got != nil {
		t.Fatalf("missing counterparty totals must give nil, got %v", *got)
	}
	r.setCounterpartyTotals("2026-07", f(900), f(400))
	got := r.Value(MeasureWorkingCapital, "2026-07")
	if got == nil || *got != 500 {
		t.Fatalf("expected 500, got %v", got)
	}
}

func TestDeriveDayCounts_NilWithoutPositiveFlow(t *testing.T) {
	r := newFixtureReader("co-1", map[string]models.MonthlySummary{
		"2026-06": summaryWith(0, 0, 10),
	})
	r.setCounterpartyTotals("2026-06", f(900), f(400))
	if got := r.Value(MeasureDebtorDays, "2026-06"); got != nil {
		t.Fatalf("zero revenue must give nil debtor days, got %v", *got)
	}
	if got := r.Value(MeasureCreditorDays, "2026-06"); got != nil {
		t.Fatalf("zero expenses must give nil creditor days, got %v", *got)
	}
}

func TestDeriveDayCounts_ScalesToCalendarDays(t *testing.T) {
	r := newFixtureReader("co-1", map[string]models.MonthlySummary{
		"2026-06": summaryWith(3000, 1500, 10),
	})
	r.setCounterpartyTotals("2026-06", f(4500), f(1500))
	// 4500/3000 * 30 days = 45
	got := r.Value(MeasureDebtorDays, "2026-06")
	if got == nil || math.Abs(*got-45) > 1e-9 {
		t.Fatalf("expected 45 debtor days, got %v", got)
	}
	// 1500/1500 * 30 days = 30
	got = r.Value(MeasureCreditorDays, "2026-06")
	if got == nil || math.Abs(*got-30) > 1e-9 {
		t.Fatalf("expected 30 creditor days, got %v", got)
	}
}

func TestTopShare_ZeroWhenTotalNotPositive(t *testing.T) {
	r := newFixtureReader("co-1", nil)
	if got := r.TopShare(models.CurrentBalanceKindDebtor, 2); got != 0 {
		t.Fatalf("empty rows must give 0, got %v", got)
	}
	r.addCurrentRow(models.CurrentBalanceKindDebtor, "A", 100)
	r.addCurrentRow(models.CurrentBalanceKindDebtor, "B", -100)
	if got := r.TopShare(models.CurrentBalanceKindDebtor, 2); got != 0 {
		t.Fatalf("non-positive total must give 0, got %v", got)
	}
}

func TestTopShare_TopTwoFraction(t *testing.T) {
	r := newFixtureReader("co-1", nil)
	r.addCurrentRow(models.CurrentBalanceKindDebtor, "A", 500)
	r.addCurrentRow(models.CurrentBalanceKindDebtor, "B", 300)
	r.addCurrentRow(models.CurrentBalanceKindDebtor, "C", 200)
	got := r.TopShare(models.CurrentBalanceKindDebtor, 2)
	if math.Abs(got-0.8) > 1e-9 {
		t.Fatalf("expected 0.8, got %v", got)
	}
}
