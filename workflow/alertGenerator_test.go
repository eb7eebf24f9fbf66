package workflow

import (
	"testing"

	"bitbucket.org/mmdatafocus/cfo_backend/models"
)

func alertFixtureMonths() []string {
	return []string{"2026-02", "2026-03", "2026-04", "2026-05", "2026-06", "2026-07"}
}

func TestEvaluateAlerts_QuietBooksRaiseNothing(t *testing.T) {
	summaries := map[string]models.MonthlySummary{}
	for _, m := range alertFixtureMonths() {
		summaries[m] = summaryWith(1000, 500, 2000)
	}
	r := newFixtureReader("co-1", summaries)
	for _, m := range alertFixtureMonths() {
		r.setCounterpartyTotals(m, f(800), f(400))
	}

	if alerts := EvaluateAlerts(r); len(alerts) != 0 {
		t.Fatalf("expected no alerts, got %d: %+v", len(alerts), alerts)
	}
}

func TestEvaluateAlerts_DebtorsRisingRevenueFlat(t *testing.T) {
	summaries := map[string]models.MonthlySummary{}
	for _, m := range alertFixtureMonths() {
		summaries[m] = summaryWith(1000, 500, 2000)
	}
	r := newFixtureReader("co-1", summaries)
	for i, m := range alertFixtureMonths() {
		r.setCounterpartyTotals(m, f(float64(1000+i*400)), f(400))
	}

	alerts := EvaluateAlerts(r)
	if len(alerts) != 1 {
		t.Fatalf("expected exactly one alert, got %d: %+v", len(alerts), alerts)
	}
	if alerts[0].RuleKey != models.AlertRuleDebtorsRisingRevenueFlat {
		t.Fatalf("expected %s, got %s", models.AlertRuleDebtorsRisingRevenueFlat, alerts[0].RuleKey)
	}
	if alerts[0].Severity != models.AlertSeverityWarn {
		t.Fatalf("expected WARN, got %s", alerts[0].Severity)
	}
}

func TestEvaluateAlerts_TopDebtorConcentration(t *testing.T) {
	r := newFixtureReader("co-1", nil)
	r.addCurrentRow(models.CurrentBalanceKindDebtor, "A", 600)
	r.addCurrentRow(models.CurrentBalanceKindDebtor, "B", 300)
	r.addCurrentRow(models.CurrentBalanceKindDebtor, "C", 100)

	alerts := EvaluateAlerts(r)
	if len(alerts) != 1 {
		t.Fatalf("expected one alert, got %d: %+v", len(alerts), alerts)
	}
	if alerts[0].RuleKey != models.AlertRuleTopDebtorConcentration {
		t.Fatalf("expected %s, got %s", models.AlertRuleTopDebtorConcentration, alerts[0].RuleKey)
	}
}

func TestEvaluateAlerts_TopDebtorConcentrationExactHalfDoesNotFire(t *testing.T) {
	// Four equal debtors put the top two at exactly half the book, which
	// is not over half.
	r := newFixtureReader("co-1", nil)
	r.addCurrentRow(models.CurrentBalanceKindDebtor, "A", 250)
	r.addCurrentRow(models.CurrentBalanceKindDebtor, "B", 250)
	r.addCurrentRow(models.CurrentBalanceKindDebtor, "C", 250)
	r.addCurrentRow(models.CurrentBalanceKindDebtor, "D", 250)

	if alerts := EvaluateAlerts(r); len(alerts) != 0 {
		t.Fatalf("expected no alerts at an even split, got %d: %+v", len(alerts), alerts)
	}
}

func TestEvaluateAlerts_NoDuplicateRuleKeys(t *testing.T) {
	summaries := map[string]models.MonthlySummary{}
	for i, m := range alertFixtureMonths() {
		// Expenses rising while cash declines.
		summaries[m] = summaryWith(1000, float64(500+i*300), float64(5000-i*800))
	}
	r := newFixtureReader("co-1", summaries)
	for i, m := range alertFixtureMonths() {
		// Debtors and creditors both rising against flat revenue.
		r.setCounterpartyTotals(m, f(float64(1000+i*400)), f(float64(600+i*250)))
	}
	r.addCurrentRow(models.CurrentBalanceKindDebtor, "A", 900)
	r.addCurrentRow(models.CurrentBalanceKindDebtor, "B", 100)

	alerts := EvaluateAlerts(r)
	if len(alerts) > maxAlertsPerRun {
		t.Fatalf("alert cap exceeded: %d", len(alerts))
	}
	seen := map[string]bool{}
	for _, a := range alerts {
		if seen[a.RuleKey] {
			t.Fatalf("duplicate rule key %s", a.RuleKey)
		}
		seen[a.RuleKey] = true
	}
	if len(alerts) < 2 {
		t.Fatalf("expected multiple rules to fire, got %d: %+v", len(alerts), alerts)
	}
}

func TestAlertSetChanged(t *testing.T) {
	a := []models.Alert{{RuleKey: "X"}, {RuleKey: "Y"}}
	b := []models.Alert{{RuleKey: "Y"}, {RuleKey: "X"}}
	if alertSetChanged(a, b) {
		t.Fatal("same keys in different order must not count as changed")
	}
	if !alertSetChanged(a, []models.Alert{{RuleKey: "X"}}) {
		t.Fatal("dropped rule must count as changed")
	}
	if !alertSetChanged(a, []models.Alert{{RuleKey: "X"}, {RuleKey: "Z"}}) {
		t.Fatal("replaced rule must count as changed")
	}
}
