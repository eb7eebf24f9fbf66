package workflow

import (
	"fmt"

	"bitbucket.org/mmdatafocus/cfo_backend/models"
	"bitbucket.org/mmdatafocus/cfo_backend/utils"
)

// MetricDefinition is one entry of the metrics catalog. Compute returns nil
// (not zero) when the inputs are missing; the runner writes nothing then and,
// unless AllowNull is set, records the key in the missing-keys report.
type MetricDefinition struct {
	Key       string
	Scope     models.MetricScope
	ValueType models.MetricValueType

	// Inputs documents the upstream measures a definition reads. It is not
	// interpreted; it exists so the catalog is self-describing.
	Inputs []string

	// AllowNull marks definitions where nil is an expected outcome rather
	// than a data gap (a runway with growing cash has no defined value).
	AllowNull bool

	Compute func(reader *SnapshotReader, month string) (*float64, error)
}

var metricCatalog []MetricDefinition

// MetricCatalog returns the full registered catalog. The slice is shared;
// callers must not mutate it.
func MetricCatalog() []MetricDefinition {
	return metricCatalog
}

func register(def MetricDefinition) {
	metricCatalog = append(metricCatalog, def)
}

var windowScopes = map[int]models.MetricScope{
	3:  models.MetricScope3m,
	6:  models.MetricScope6m,
	9:  models.MetricScope9m,
	12: models.MetricScope12m,
	18: models.MetricScope18m,
	24: models.MetricScope24m,
}

// windowedMeasures get avg/sum/stddev/trend aggregates over every window.
var windowedMeasures = []string{
	MeasureRevenue, MeasureExpenses, MeasureNetProfit,
	MeasureDebtors, MeasureCreditors, MeasureWorkingCapital,
}

// changeMeasures get month-over-month and year-over-year percent changes.
var changeMeasures = []string{
	MeasureRevenue, MeasureExpenses, MeasureNetProfit,
	MeasureNetCashflow, MeasureCashBank, MeasureDebtors,
}

// monthSeriesMeasures get one stored value per processed month.
var monthSeriesMeasures = []string{
	MeasureRevenue, MeasureExpenses, MeasureNetProfit, MeasureNetCashflow,
	MeasureCashBank, MeasureInventory, MeasureDebtors, MeasureCreditors,
	MeasureWorkingCapital,
}

func init() {
	registerWindowAggregates()
	registerChangeMetrics()
	registerMonthSeries()
	registerLiveTotals()
	registerDayCounts()
	registerConcentration()
	registerRiskFlags()
	registerRunway()
}

func registerWindowAggregates() {
	type stat struct {
		suffix  string
		valType models.MetricValueType
		compute func(values []float64) *float64
	}
	stats := []stat{
		{"avg", models.MetricValueTypeCurrency, Mean},
		{"sum", models.MetricValueTypeCurrency, Sum},
		{"stddev", models.MetricValueTypeCurrency, StdDev},
		{"trend", models.MetricValueTypeNumber, TrendSignal},
	}
	for _, measure := range windowedMeasures {
		for window, scope := range windowScopes {
			for _, st := range stats {
				m, w, fn := measure, window, st.compute
				register(MetricDefinition{
					Key:       fmt.Sprintf("%s_%s", measure, st.suffix),
					Scope:     scope,
					ValueType: st.valType,
					Inputs:    []string{m},
					Compute: func(r *SnapshotReader, _ string) (*float64, error) {
						values := r.WindowValues(m, r.LatestMonth(), w)
						if len(values) == 0 {
							return nil, nil
						}
						return fn(values), nil
					},
				})
			}
		}
	}
}

func registerChangeMetrics() {
	for _, measure := range changeMeasures {
		m := measure
		register(MetricDefinition{
			Key:       m + "_change",
			Scope:     models.MetricScopeMoM,
			ValueType: models.MetricValueTypePercent,
			Inputs:    []string{m},
			Compute: func(r *SnapshotReader, _ string) (*float64, error) {
				latest := r.LatestMonth()
				prev, err := utils.AddMonths(latest, -1)
				if err != nil {
					return nil, err
				}
				return PctChange(r.Value(m, latest), r.Value(m, prev)), nil
			},
		})
		register(MetricDefinition{
			Key:       m + "_change",
			Scope:     models.MetricScopeYoY,
			ValueType: models.MetricValueTypePercent,
			Inputs:    []string{m},
			Compute: func(r *SnapshotReader, _ string) (*float64, error) {
				latest := r.LatestMonth()
				prev, err := utils.AddMonths(latest, -12)
				if err != nil {
					return nil, err
				}
				return PctChange(r.Value(m, latest), r.Value(m, prev)), nil
			},
		})
	}
}

func registerMonthSeries() {
	for _, measure := range monthSeriesMeasures {
		m := measure
		register(MetricDefinition{
			Key:       m,
			Scope:     models.MetricScopeMonth,
			ValueType: models.MetricValueTypeCurrency,
			Inputs:    []string{m},
			Compute: func(r *SnapshotReader, month string) (*float64, error) {
				return r.Value(m, month), nil
			},
		})
	}
}

func registerLiveTotals() {
	kinds := []struct {
		key  string
		kind models.CurrentBalanceKind
	}{
		{"current_cash_total", models.CurrentBalanceKindCash},
		{"current_debtors_total", models.CurrentBalanceKindDebtor},
		{"current_creditors_total", models.CurrentBalanceKindCreditor},
		{"current_loans_total", models.CurrentBalanceKindLoan},
	}
	for _, k := range kinds {
		kind := k.kind
		register(MetricDefinition{
			Key:       k.key,
			Scope:     models.MetricScopeLive,
			ValueType: models.MetricValueTypeCurrency,
			Inputs:    []string{"current_balances"},
			Compute: func(r *SnapshotReader, _ string) (*float64, error) {
				return r.CurrentTotal(kind), nil
			},
		})
	}
	register(MetricDefinition{
		Key:       "current_working_capital",
		Scope:     models.MetricScopeLive,
		ValueType: models.MetricValueTypeCurrency,
		Inputs:    []string{"current_balances"},
		Compute: func(r *SnapshotReader, _ string) (*float64, error) {
			return r.CurrentWorkingCapital(), nil
		},
	})
}

func registerDayCounts() {
	for _, measure := range []string{MeasureDebtorDays, MeasureCreditorDays} {
		m := measure
		register(MetricDefinition{
			Key:       m,
			Scope:     models.MetricScopeLastClosedMonth,
			ValueType: models.MetricValueTypeNumber,
			Inputs:    []string{m},
			Compute: func(r *SnapshotReader, _ string) (*float64, error) {
				return r.Value(m, r.LatestMonth()), nil
			},
		})
	}
	register(MetricDefinition{
		Key:       "cash_conversion_cycle",
		Scope:     models.MetricScopeLastClosedMonth,
		ValueType: models.MetricValueTypeNumber,
		Inputs:    []string{MeasureDebtorDays, MeasureCreditorDays},
		Compute: func(r *SnapshotReader, _ string) (*float64, error) {
			debtorDays := r.Value(MeasureDebtorDays, r.LatestMonth())
			creditorDays := r.Value(MeasureCreditorDays, r.LatestMonth())
			if debtorDays == nil || creditorDays == nil {
				return nil, nil
			}
			return utils.FinitePtr(*debtorDays - *creditorDays), nil
		},
	})
}

const (
	concentrationTopCount = 5

	// Thresholds for the boolean risk flags.
	liquidityRiskRunwayMonths = 3.0
	runwayRiskMonths          = 6.0
	concentrationRiskShare    = 0.6
	loanServiceCoverageMin    = 1.5

	// Burn window for the runway metric. The stored liquidity status row
	// uses its own, longer window (see liquidity.go).
	runwayBurnWindow = 3
)

func registerConcentration() {
	kinds := []struct {
		key  string
		kind models.CurrentBalanceKind
	}{
		{"top5_debtor_share", models.CurrentBalanceKindDebtor},
		{"top5_creditor_share", models.CurrentBalanceKindCreditor},
	}
	for _, k := range kinds {
		kind := k.kind
		register(MetricDefinition{
			Key:       k.key,
			Scope:     models.MetricScopeLive,
			ValueType: models.MetricValueTypePercent,
			Inputs:    []string{"current_balances"},
			Compute: func(r *SnapshotReader, _ string) (*float64, error) {
				if len(r.CurrentRows(kind)) == 0 {
					return nil, nil
				}
				share := r.TopShare(kind, concentrationTopCount) * 100
				return utils.FinitePtr(share), nil
			},
		})
	}
}

// Risk flags are booleans stored as 0/1. A nil input anywhere means the flag
// cannot be evaluated and nothing is written.
func registerRiskFlags() {
	runwayFlag := func(threshold float64) func(*SnapshotReader, string) (*float64, error) {
		return func(r *SnapshotReader, _ string) (*float64, error) {
			runway, growing := catalogRunway(r)
			if growing {
				return flagValue(false), nil
			}
			if runway == nil {
				return nil, nil
			}
			return flagValue(*runway < threshold), nil
		}
	}
	runwayInputs := []string{MeasureNetCashflow, MeasureCashBank, "current_balances"}
	register(MetricDefinition{
		Key:       "liquidity_risk",
		Scope:     models.MetricScopeLive,
		ValueType: models.MetricValueTypeFlag,
		Inputs:    runwayInputs,
		Compute:   runwayFlag(liquidityRiskRunwayMonths),
	})
	register(MetricDefinition{
		Key:       "runway_risk",
		Scope:     models.MetricScopeLive,
		ValueType: models.MetricValueTypeFlag,
		Inputs:    runwayInputs,
		Compute:   runwayFlag(runwayRiskMonths),
	})
	register(MetricDefinition{
		Key:       "concentration_risk",
		Scope:     models.MetricScopeLive,
		ValueType: models.MetricValueTypeFlag,
		Inputs:    []string{"current_balances"},
		Compute: func(r *SnapshotReader, _ string) (*float64, error) {
			if len(r.CurrentRows(models.CurrentBalanceKindDebtor)) == 0 {
				return nil, nil
			}
			share := r.TopShare(models.CurrentBalanceKindDebtor, concentrationTopCount)
			return flagValue(share > concentrationRiskShare), nil
		},
	})
	register(MetricDefinition{
		Key:       "loan_servicing_risk",
		Scope:     models.MetricScopeLive,
		ValueType: models.MetricValueTypeFlag,
		Inputs:    []string{MeasureInterest, MeasureNetProfit},
		Compute: func(r *SnapshotReader, _ string) (*float64, error) {
			interest := r.Value(MeasureInterest, r.LatestMonth())
			if interest == nil {
				return nil, nil
			}
			if *interest <= 0 {
				// No interest booked this month, nothing to service.
				return flagValue(false), nil
			}
			profit := r.Value(MeasureNetProfit, r.LatestMonth())
			if profit == nil {
				return nil, nil
			}
			coverage := (*profit + *interest) / *interest
			return flagValue(coverage < loanServiceCoverageMin), nil
		},
	})
}

func registerRunway() {
	register(MetricDefinition{
		Key:       "cash_runway_months",
		Scope:     models.MetricScopeLive,
		ValueType: models.MetricValueTypeNumber,
		Inputs:    []string{MeasureNetCashflow, MeasureCashBank, "current_balances"},
		AllowNull: true,
		Compute: func(r *SnapshotReader, _ string) (*float64, error) {
			runway, _ := catalogRunway(r)
			return runway, nil
		},
	})
}

// catalogRunway is months of cash left at the average net outflow of the
// last runwayBurnWindow closed months. growing reports a non-negative
// average flow, where a runway is undefined; runway is also nil when flow
// history or cash is missing.
func catalogRunway(r *SnapshotReader) (runway *float64, growing bool) {
	flows := r.WindowValues(MeasureNetCashflow, r.LatestMonth(), runwayBurnWindow)
	avg := Mean(flows)
	if avg == nil {
		return nil, false
	}
	if *avg >= 0 {
		return nil, true
	}
	cash := r.CurrentTotal(models.CurrentBalanceKindCash)
	if cash == nil {
		cash = r.Value(MeasureCashBank, r.LatestMonth())
	}
	if cash == nil {
		return nil, false
	}
	return utils.FinitePtr(*cash / -*avg), false
}

func flagValue(on bool) *float64 {
	v := 0.0
	if on {
		v = 1.0
	}
	return &v
}
