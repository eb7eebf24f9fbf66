package workflow

import (
	"fmt"
	"math"
	"testing"

	"bitbucket.org/mmdatafocus/cfo_backend/models"
)

func TestMetricCatalog_NoDuplicateKeyScopePairs(t *testing.T) {
	seen := make(map[string]bool)
	for _, def := range MetricCatalog() {
		id := fmt.Sprintf("%s|%s", def.Key, def.Scope)
		if seen[id] {
			t.Fatalf("duplicate catalog entry %s", id)
		}
		seen[id] = true
		if def.Compute == nil {
			t.Fatalf("catalog entry %s has no compute function", id)
		}
		if len(def.Inputs) == 0 {
			t.Fatalf("catalog entry %s documents no inputs", id)
		}
	}
}

func TestMetricCatalog_Composition(t *testing.T) {
	byScope := make(map[models.MetricScope]int)
	flags := 0
	for _, def := range MetricCatalog() {
		byScope[def.Scope]++
		if def.ValueType == models.MetricValueTypeFlag {
			flags++
		}
	}

	// 6 windowed measures x 4 stats per window scope.
	for _, scope := range []models.MetricScope{
		models.MetricScope3m, models.MetricScope6m, models.MetricScope9m,
		models.MetricScope12m, models.MetricScope18m, models.MetricScope24m,
	} {
		if byScope[scope] != 24 {
			t.Fatalf("scope %s: expected 24 definitions, got %d", scope, byScope[scope])
		}
	}
	if byScope[models.MetricScopeMoM] != 6 || byScope[models.MetricScopeYoY] != 6 {
		t.Fatalf("expected 6 MoM and 6 YoY definitions, got %d/%d",
			byScope[models.MetricScopeMoM], byScope[models.MetricScopeYoY])
	}
	if byScope[models.MetricScopeMonth] != 9 {
		t.Fatalf("expected 9 month-series definitions, got %d", byScope[models.MetricScopeMonth])
	}
	if byScope[models.MetricScopeLastClosedMonth] != 3 {
		t.Fatalf("expected 3 last-closed-month definitions, got %d", byScope[models.MetricScopeLastClosedMonth])
	}
	if flags != 4 {
		t.Fatalf("expected 4 flag definitions, got %d", flags)
	}
	if len(MetricCatalog()) != 180 {
		t.Fatalf("expected 180 catalog entries, got %d", len(MetricCatalog()))
	}
}

func findMetric(t *testing.T, key string, scope models.MetricScope) MetricDefinition {
	t.Helper()
	for _, def := range MetricCatalog() {
		if def.Key == key && def.Scope == scope {
			return def
		}
	}
	t.Fatalf("metric %s/%s not in catalog", key, scope)
	return MetricDefinition{}
}

func TestCashConversionCycle_DebtorMinusCreditorDays(t *testing.T) {
	r := newFixtureReader("co-1", map[string]models.MonthlySummary{
		"2026-06": summaryWith(3000, 1500, 10),
	})
	r.setCounterpartyTotals("2026-06", f(4500), f(1500))

	def := findMetric(t, "cash_conversion_cycle", models.MetricScopeLastClosedMonth)
	got, err := def.Compute(r, "")
	if err != nil {
		t.Fatal(err)
	}
	// Debtor days 45, creditor days 30.
	if got == nil || math.Abs(*got-15) > 1e-9 {
		t.Fatalf("expected 15, got %v", got)
	}
}

func TestCashConversionCycle_NilWhenEitherDayCountMissing(t *testing.T) {
	r := newFixtureReader("co-1", map[string]models.MonthlySummary{
		"2026-06": summaryWith(3000, 0, 10),
	})
	r.setCounterpartyTotals("2026-06", f(4500), f(1500))

	def := findMetric(t, "cash_conversion_cycle", models.MetricScopeLastClosedMonth)
	got, err := def.Compute(r, "")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("missing creditor days must propagate nil, got %v", *got)
	}
}

func TestWindowAggregates_NilOnEmptyHistory(t *testing.T) {
	r := newFixtureReader("co-1", nil)
	def := findMetric(t, "revenue_avg", models.MetricScope6m)
	got, err := def.Compute(r, "")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("empty history must give nil, not zero; got %v", *got)
	}
}

func computeFlag(t *testing.T, r *SnapshotReader, key string) *float64 {
	t.Helper()
	def := findMetric(t, key, models.MetricScopeLive)
	got, err := def.Compute(r, "")
	if err != nil {
		t.Fatal(err)
	}
	return got
}

func TestCashRunwayMetric_ThreeMonthBurn(t *testing.T) {
	r := liquidityFixture(600000, map[string]float64{
		"2026-05": -100000, "2026-06": -100000, "2026-07": -100000,
	})
	def := findMetric(t, "cash_runway_months", models.MetricScopeLive)
	got, err := def.Compute(r, "")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || math.Abs(*got-6) > 1e-9 {
		t.Fatalf("expected runway 6, got %v", got)
	}
}

func TestCashRunwayMetric_NilWhenFlowNonNegative(t *testing.T) {
	r := liquidityFixture(600000, map[string]float64{
		"2026-05": 50000, "2026-06": -10000, "2026-07": 20000,
	})
	def := findMetric(t, "cash_runway_months", models.MetricScopeLive)
	got, err := def.Compute(r, "")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("non-negative average flow has no runway, got %v", *got)
	}
	if !def.AllowNull {
		t.Fatal("an undefined runway is expected, not a data gap")
	}
}

func TestRiskFlags_RunwayThresholds(t *testing.T) {
	cases := []struct {
		burn          float64
		liquidityRisk float64
		runwayRisk    float64
	}{
		// 600000 cash: runway 6 clears both, 4 only the runway flag, 2 both.
		{-100000, 0, 0},
		{-150000, 0, 1},
		{-300000, 1, 1},
	}
	for _, tc := range cases {
		r := liquidityFixture(600000, map[string]float64{
			"2026-05": tc.burn, "2026-06": tc.burn, "2026-07": tc.burn,
		})
		if got := computeFlag(t, r, "liquidity_risk"); got == nil || *got != tc.liquidityRisk {
			t.Fatalf("burn %v: expected liquidity_risk %v, got %v", tc.burn, tc.liquidityRisk, got)
		}
		if got := computeFlag(t, r, "runway_risk"); got == nil || *got != tc.runwayRisk {
			t.Fatalf("burn %v: expected runway_risk %v, got %v", tc.burn, tc.runwayRisk, got)
		}
	}
}

func TestRiskFlags_RunwayZeroWhenGrowing(t *testing.T) {
	r := liquidityFixture(600000, map[string]float64{
		"2026-05": 10000, "2026-06": 20000, "2026-07": 30000,
	})
	if got := computeFlag(t, r, "liquidity_risk"); got == nil || *got != 0 {
		t.Fatalf("growing cash carries no liquidity risk, got %v", got)
	}
}

func TestRiskFlags_NilWithoutFlowHistory(t *testing.T) {
	r := newFixtureReader("co-1", nil)
	if got := computeFlag(t, r, "liquidity_risk"); got != nil {
		t.Fatalf("no history cannot produce a flag, got %v", *got)
	}
}

func TestConcentrationRisk_TopFiveShare(t *testing.T) {
	r := newFixtureReader("co-1", nil)
	for name, bal := range map[string]float64{
		"A": 500, "B": 300, "C": 100, "D": 50, "E": 30, "F": 20,
	} {
		r.addCurrentRow(models.CurrentBalanceKindDebtor, name, bal)
	}

	// Top five hold 980 of 1000.
	if got := computeFlag(t, r, "concentration_risk"); got == nil || *got != 1 {
		t.Fatalf("expected concentration_risk 1, got %v", got)
	}
	def := findMetric(t, "top5_debtor_share", models.MetricScopeLive)
	share, err := def.Compute(r, "")
	if err != nil {
		t.Fatal(err)
	}
	if share == nil || math.Abs(*share-98) > 1e-9 {
		t.Fatalf("expected top-5 share 98, got %v", share)
	}
}

func TestConcentrationRisk_EvenBookDoesNotFlag(t *testing.T) {
	r := newFixtureReader("co-1", nil)
	for i := 0; i < 10; i++ {
		r.addCurrentRow(models.CurrentBalanceKindDebtor, fmt.Sprintf("D%d", i), 100)
	}
	if got := computeFlag(t, r, "concentration_risk"); got == nil || *got != 0 {
		t.Fatalf("even spread must not flag, got %v", got)
	}
}

func TestConcentrationRisk_NilWithoutDebtors(t *testing.T) {
	r := newFixtureReader("co-1", nil)
	if got := computeFlag(t, r, "concentration_risk"); got != nil {
		t.Fatalf("no debtor rows cannot produce a flag, got %v", *got)
	}
}

func TestLoanServicingRisk_CoverageThreshold(t *testing.T) {
	fixture := func(revenue, expenses, interest float64) *SnapshotReader {
		r := newFixtureReader("co-1", map[string]models.MonthlySummary{
			"2026-07": summaryWith(revenue, expenses, 10),
		})
		r.records["2026-07"].InterestExpense = f(interest)
		return r
	}

	// Coverage (profit + interest) / interest = (100+200)/200 = 1.5 exactly.
	if got := computeFlag(t, fixture(600, 500, 200), "loan_servicing_risk"); got == nil || *got != 0 {
		t.Fatalf("coverage at 1.5 must not flag, got %v", got)
	}
	// Coverage (−100+200)/200 = 0.5.
	if got := computeFlag(t, fixture(400, 500, 200), "loan_servicing_risk"); got == nil || *got != 1 {
		t.Fatalf("coverage 0.5 must flag, got %v", got)
	}
	// Zero interest booked: nothing to service.
	if got := computeFlag(t, fixture(600, 500, 0), "loan_servicing_risk"); got == nil || *got != 0 {
		t.Fatalf("zero interest must not flag, got %v", got)
	}
}

func TestLoanServicingRisk_NilWithoutInterestData(t *testing.T) {
	r := newFixtureReader("co-1", map[string]models.MonthlySummary{
		"2026-07": summaryWith(600, 500, 10),
	})
	if got := computeFlag(t, r, "loan_servicing_risk"); got != nil {
		t.Fatalf("unknown interest expense cannot produce a flag, got %v", *got)
	}
}
