package workflow

import (
	"errors"
	"math"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/cfo_backend/config"
	"bitbucket.org/mmdatafocus/cfo_backend/models"
	"bitbucket.org/mmdatafocus/cfo_backend/utils"
)

func TestComputeGuarded_RecoversPanics(t *testing.T) {
	def := MetricDefinition{
		Key:   "exploding",
		Scope: models.MetricScopeLive,
		Compute: func(r *SnapshotReader, month string) (*float64, error) {
			panic("boom")
		},
	}
	value, err := computeGuarded(def, newFixtureReader("co-1", nil), "")
	if value != nil {
		t.Fatalf("panicked definition must not produce a value, got %v", *value)
	}
	if err == nil {
		t.Fatal("panicked definition must produce an error")
	}
}

func TestComputeGuarded_PassesErrorsThrough(t *testing.T) {
	wantErr := errors.New("no data")
	def := MetricDefinition{
		Key:   "failing",
		Scope: models.MetricScopeLive,
		Compute: func(r *SnapshotReader, month string) (*float64, error) {
			return nil, wantErr
		},
	}
	_, err := computeGuarded(def, newFixtureReader("co-1", nil), "")
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected original error, got %v", err)
	}
}

func TestMonthChangePct_NilWithoutPriorMonth(t *testing.T) {
	r := newFixtureReader("co-1", map[string]models.MonthlySummary{
		"2026-07": summaryWith(1200, 500, 10),
	})
	if got := monthChangePct(r, MeasureRevenue, "2026-07"); got != nil {
		t.Fatalf("no prior month must give nil, got %v", got)
	}
}

func TestMonthChangePct_Computed(t *testing.T) {
	r := newFixtureReader("co-1", map[string]models.MonthlySummary{
		"2026-06": summaryWith(1000, 500, 10),
		"2026-07": summaryWith(1200, 500, 10),
	})
	got := monthChangePct(r, MeasureRevenue, "2026-07")
	if got == nil {
		t.Fatal("expected a value")
	}
	if math.Abs(got.InexactFloat64()-20) > 1e-9 {
		t.Fatalf("expected 20%%, got %v", got)
	}
}

func TestResolveMonths_DefaultWindowEndsAtLatestClosedMonth(t *testing.T) {
	t.Setenv("RECOMPUTE_DEFAULT_MONTHS_BACK", "")
	r := NewRecomputer(nil, config.GetLogger())
	months, err := r.resolveMonths(RecomputeOptions{CompanyId: "co-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(months) != 3 {
		t.Fatalf("expected 3 months, got %v", months)
	}
	latest := utils.LatestClosedMonthKey(time.Now().UTC())
	if months[len(months)-1] != latest {
		t.Fatalf("expected window to end at %s, got %v", latest, months)
	}
}

func TestResolveMonths_AmendedMonthWidensBackwards(t *testing.T) {
	r := NewRecomputer(nil, config.GetLogger())
	latest := utils.LatestClosedMonthKey(time.Now().UTC())
	amended, _ := utils.AddMonths(latest, -10)

	months, err := r.resolveMonths(RecomputeOptions{CompanyId: "co-1", AmendedMonth: amended})
	if err != nil {
		t.Fatal(err)
	}
	if len(months) != 11 {
		t.Fatalf("expected 11 months, got %d: %v", len(months), months)
	}
	if months[0] != amended {
		t.Fatalf("expected window to start at %s, got %v", amended, months)
	}
}
