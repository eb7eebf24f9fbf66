package workflow

import (
	"database/sql"
	"fmt"
	"math"
	"sort"

	"bitbucket.org/mmdatafocus/cfo_backend/config"
	"bitbucket.org/mmdatafocus/cfo_backend/models"
	"bitbucket.org/mmdatafocus/cfo_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Measure keys served by the SnapshotReader.
const (
	MeasureRevenue        = "revenue"
	MeasureExpenses       = "expenses"
	MeasureNetProfit      = "net_profit"
	MeasureNetCashflow    = "net_cashflow"
	MeasureCashBank       = "cash_bank"
	MeasureInventory      = "inventory"
	MeasureDebtors        = "debtors"
	MeasureCreditors      = "creditors"
	MeasureWorkingCapital = "working_capital"
	MeasureDebtorDays     = "debtor_days"
	MeasureCreditorDays   = "creditor_days"
	MeasureInterest       = "interest_expense"
)

const DefaultMonthsBack = 24

// MonthRecord is one month's assembled view: the summary row plus the
// aggregated counterparty totals and day counts derived from it.
type MonthRecord struct {
	Month          string
	Summary        *models.MonthlySummary
	DebtorsTotal   *float64
	CreditorsTotal *float64
	DebtorDays     *float64
	CreditorDays   *float64

	// InterestExpense is set only for months that have expense breakdown
	// lines; it is the sum of the interest-named buckets (possibly zero).
	InterestExpense *float64
}

// SnapshotReader assembles the multi-month time series one recomputation (or
// one read request) works from. It is constructed per (company, db handle)
// and reads the store once: after Load every lookup is served from memory.
// Missing months or measures yield nil, never an error.
type SnapshotReader struct {
	db         *gorm.DB
	logger     *logrus.Logger
	companyId  string
	monthsBack int

	loaded      bool
	latestMonth string
	months      []string
	records     map[string]*MonthRecord

	currentRows map[models.CurrentBalanceKind][]models.CurrentBalance
	liquidity   *models.CurrentLiquidity

	metricCache  map[string]*float64
	metricLoaded map[string]bool
}

func NewSnapshotReader(db *gorm.DB, logger *logrus.Logger, companyId string, monthsBack int) *SnapshotReader {
	if monthsBack <= 0 {
		monthsBack = DefaultMonthsBack
	}
	return &SnapshotReader{
		db:           db,
		logger:       logger,
		companyId:    companyId,
		monthsBack:   monthsBack,
		records:      make(map[string]*MonthRecord),
		currentRows:  make(map[models.CurrentBalanceKind][]models.CurrentBalance),
		metricCache:  make(map[string]*float64),
		metricLoaded: make(map[string]bool),
	}
}

// Load performs the one batch of queries this reader will issue: latest
// month, all summary rows inside the window, counterparty totals per month,
// and the current-balance rows. Safe to call more than once; only the first
// call hits the store.
func (r *SnapshotReader) Load() error {
	if r.loaded {
		return nil
	}

	var latest sql.NullString
	err := r.db.Model(&models.MonthlySummary{}).
		Where("company_id = ?", r.companyId).
		Select("MAX(month)").Scan(&latest).Error
	if err != nil {
		config.LogError(r.logger, "dataAccess.go", "Load", "LatestMonth", r.companyId, err)
		return err
	}
	if !latest.Valid || latest.String == "" {
		// No history at all: empty but valid reader.
		r.loaded = true
		return nil
	}
	r.latestMonth = latest.String

	floor, err := utils.AddMonths(r.latestMonth, -(r.monthsBack - 1))
	if err != nil {
		return err
	}
	r.months, err = utils.MonthKeyRange(floor, r.latestMonth)
	if err != nil {
		return err
	}
	for _, m := range r.months {
		r.records[m] = &MonthRecord{Month: m}
	}

	var summaries []models.MonthlySummary
	err = r.db.Where("company_id = ? AND month >= ?", r.companyId, floor).
		Order("month ASC").Find(&summaries).Error
	if err != nil {
		config.LogError(r.logger, "dataAccess.go", "Load", "Summaries", r.companyId, err)
		return err
	}
	for i := range summaries {
		if rec, ok := r.records[summaries[i].Month]; ok {
			rec.Summary = &summaries[i]
		}
	}

	type kindTotal struct {
		Month string
		Kind  models.BreakdownKind
		Total float64
	}
	var totals []kindTotal
	err = r.db.Model(&models.CounterpartyBreakdown{}).
		Select("month, kind, SUM(closing_balance) AS total").
		Where("company_id = ? AND month >= ?", r.companyId, floor).
		Group("month, kind").
		Scan(&totals).Error
	if err != nil {
		config.LogError(r.logger, "dataAccess.go", "Load", "CounterpartyTotals", r.companyId, err)
		return err
	}
	for _, t := range totals {
		rec, ok := r.records[t.Month]
		if !ok {
			continue
		}
		v := t.Total
		switch t.Kind {
		case models.BreakdownKindDebtor:
			rec.DebtorsTotal = &v
		case models.BreakdownKindCreditor:
			rec.CreditorsTotal = &v
		}
	}

	type interestTotal struct {
		Month string
		Total float64
	}
	var interest []interestTotal
	err = r.db.Model(&models.SnapshotBreakdown{}).
		Select("month, COALESCE(SUM(CASE WHEN LOWER(bucket) LIKE '%interest%' THEN amount ELSE 0 END), 0) AS total").
		Where("company_id = ? AND kind = ? AND month >= ?", r.companyId, models.BreakdownKindExpense, floor).
		Group("month").
		Scan(&interest).Error
	if err != nil {
		config.LogError(r.logger, "dataAccess.go", "Load", "InterestExpense", r.companyId, err)
		return err
	}
	for _, t := range interest {
		if rec, ok := r.records[t.Month]; ok {
			v := t.Total
			rec.InterestExpense = &v
		}
	}

	for _, m := range r.months {
		r.deriveDayCounts(r.records[m])
	}

	var currents []models.CurrentBalance
	err = r.db.Where("company_id = ?", r.companyId).Find(&currents).Error
	if err != nil {
		config.LogError(r.logger, "dataAccess.go", "Load", "CurrentBalances", r.companyId, err)
		return err
	}
	for _, row := range currents {
		r.currentRows[row.Kind] = append(r.currentRows[row.Kind], row)
	}

	var liquidity models.CurrentLiquidity
	err = r.db.Where("company_id = ?", r.companyId).First(&liquidity).Error
	if err == nil {
		r.liquidity = &liquidity
	} else if err != gorm.ErrRecordNotFound {
		config.LogError(r.logger, "dataAccess.go", "Load", "CurrentLiquidity", r.companyId, err)
		return err
	}

	r.loaded = true
	return nil
}

// Day counts: balance outstanding divided by the month's flow, scaled to the
// month's calendar days. Nil when flow is zero or inputs are missing.
func (r *SnapshotReader) deriveDayCounts(rec *MonthRecord) {
	if rec == nil || rec.Summary == nil {
		return
	}
	days, err := utils.DaysInMonth(rec.Month)
	if err != nil {
		return
	}
	revenue := rec.Summary.TotalRevenue.InexactFloat64()
	expenses := rec.Summary.TotalExpenses.InexactFloat64()
	if rec.DebtorsTotal != nil && revenue > 0 {
		rec.DebtorDays = utils.FinitePtr(*rec.DebtorsTotal / revenue * float64(days))
	}
	if rec.CreditorsTotal != nil && expenses > 0 {
		rec.CreditorDays = utils.FinitePtr(*rec.CreditorsTotal / expenses * float64(days))
	}
}

func (r *SnapshotReader) CompanyId() string { return r.companyId }

func (r *SnapshotReader) LatestMonth() string { return r.latestMonth }

func (r *SnapshotReader) Months() []string { return r.months }

func (r *SnapshotReader) Record(month string) *MonthRecord {
	return r.records[month]
}

func (r *SnapshotReader) LatestRecord() *MonthRecord {
	if r.latestMonth == "" {
		return nil
	}
	return r.records[r.latestMonth]
}

// Value returns one measure for one month, nil when missing.
func (r *SnapshotReader) Value(measure string, month string) *float64 {
	rec := r.records[month]
	if rec == nil {
		return nil
	}
	switch measure {
	case MeasureDebtors:
		return rec.DebtorsTotal
	case MeasureCreditors:
		return rec.CreditorsTotal
	case MeasureDebtorDays:
		return rec.DebtorDays
	case MeasureCreditorDays:
		return rec.CreditorDays
	case MeasureInterest:
		return rec.InterestExpense
	case MeasureWorkingCapital:
		if rec.DebtorsTotal == nil || rec.CreditorsTotal == nil {
			return nil
		}
		return utils.FinitePtr(*rec.DebtorsTotal - *rec.CreditorsTotal)
	}
	if rec.Summary == nil {
		return nil
	}
	switch measure {
	case MeasureRevenue:
		return utils.FinitePtr(rec.Summary.TotalRevenue.InexactFloat64())
	case MeasureExpenses:
		return utils.FinitePtr(rec.Summary.TotalExpenses.InexactFloat64())
	case MeasureNetProfit:
		return utils.FinitePtr(rec.Summary.NetProfit.InexactFloat64())
	case MeasureNetCashflow:
		return utils.FinitePtr(rec.Summary.NetCashflow.InexactFloat64())
	case MeasureCashBank:
		return utils.FinitePtr(rec.Summary.CashBankBalance.InexactFloat64())
	case MeasureInventory:
		return utils.FinitePtr(rec.Summary.InventoryTotal.InexactFloat64())
	}
	return nil
}

// WindowValues returns the trailing-window series for a measure, ascending
// by month, with missing and non-finite entries dropped (never zero-filled).
func (r *SnapshotReader) WindowValues(measure string, endMonth string, window int) []float64 {
	if window <= 0 || endMonth == "" {
		return nil
	}
	start, err := utils.AddMonths(endMonth, -(window - 1))
	if err != nil {
		return nil
	}
	keys, err := utils.MonthKeyRange(start, endMonth)
	if err != nil {
		return nil
	}
	var values []float64
	for _, m := range keys {
		if v := r.Value(measure, m); v != nil && utils.IsFinite(*v) {
			values = append(values, *v)
		}
	}
	return values
}

// CurrentTotal sums the as-of-now balance rows of one kind. Nil when no rows
// were loaded for that kind.
func (r *SnapshotReader) CurrentTotal(kind models.CurrentBalanceKind) *float64 {
	rows, ok := r.currentRows[kind]
	if !ok || len(rows) == 0 {
		return nil
	}
	total := 0.0
	for _, row := range rows {
		total += row.Balance.InexactFloat64()
	}
	return utils.FinitePtr(total)
}

// CurrentWorkingCapital is current debtors minus current creditors.
func (r *SnapshotReader) CurrentWorkingCapital() *float64 {
	d := r.CurrentTotal(models.CurrentBalanceKindDebtor)
	c := r.CurrentTotal(models.CurrentBalanceKindCreditor)
	if d == nil || c == nil {
		return nil
	}
	return utils.FinitePtr(*d - *c)
}

func (r *SnapshotReader) CurrentLiquidity() *models.CurrentLiquidity {
	return r.liquidity
}

// CurrentRows returns the loaded as-of-now rows of one kind, sorted by
// balance descending.
func (r *SnapshotReader) CurrentRows(kind models.CurrentBalanceKind) []models.CurrentBalance {
	rows := append([]models.CurrentBalance(nil), r.currentRows[kind]...)
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Balance.GreaterThan(rows[j].Balance)
	})
	return rows
}

// TopShare is the fraction (0..1) of the total balance held by the top-N
// counterparties of a kind. Returns 0 when the total is not positive.
func (r *SnapshotReader) TopShare(kind models.CurrentBalanceKind, topN int) float64 {
	rows := r.CurrentRows(kind)
	if len(rows) == 0 || topN <= 0 {
		return 0
	}
	total := 0.0
	for _, row := range rows {
		total += row.Balance.InexactFloat64()
	}
	if total <= 0 {
		return 0
	}
	if topN > len(rows) {
		topN = len(rows)
	}
	top := 0.0
	for _, row := range rows[:topN] {
		top += row.Balance.InexactFloat64()
	}
	return top / total
}

// StoredMetric fetches one metric row lazily and caches the result,
// including "not found" so repeated misses don't re-query.
func (r *SnapshotReader) StoredMetric(key string, scope models.MetricScope, month string) *float64 {
	cacheKey := fmt.Sprintf("%s|%s|%s", key, scope, month)
	if r.metricLoaded[cacheKey] {
		return r.metricCache[cacheKey]
	}
	r.metricLoaded[cacheKey] = true

	var metric models.Metric
	err := r.db.Where("company_id = ? AND metric_key = ? AND scope = ? AND month = ?",
		r.companyId, key, scope, month).First(&metric).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			config.LogError(r.logger, "dataAccess.go", "StoredMetric", cacheKey, r.companyId, err)
		}
		r.metricCache[cacheKey] = nil
		return nil
	}
	v := utils.FinitePtr(metric.Value.InexactFloat64())
	r.metricCache[cacheKey] = v
	return v
}

// PctChange is the percent change from previous to current. Nil when either
// input is nil, previous is zero, or any input is non-finite.
func PctChange(current, previous *float64) *float64 {
	if current == nil || previous == nil {
		return nil
	}
	if !utils.IsFinite(*current) || !utils.IsFinite(*previous) || *previous == 0 {
		return nil
	}
	return utils.FinitePtr((*current - *previous) / math.Abs(*previous) * 100)
}

func Mean(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return utils.FinitePtr(sum / float64(len(values)))
}

func Sum(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return utils.FinitePtr(sum)
}

// StdDev is the population standard deviation.
func StdDev(values []float64) *float64 {
	m := Mean(values)
	if m == nil {
		return nil
	}
	ss := 0.0
	for _, v := range values {
		d := v - *m
		ss += d * d
	}
	return utils.FinitePtr(math.Sqrt(ss / float64(len(values))))
}

// TrendSignal is +1 rising, -1 falling, 0 flat, from the least-squares slope
// of the series. Nil with fewer than 2 points.
func TrendSignal(values []float64) *float64 {
	n := len(values)
	if n < 2 {
		return nil
	}
	meanX := float64(n-1) / 2
	meanY := 0.0
	for _, v := range values {
		meanY += v
	}
	meanY /= float64(n)

	num, den := 0.0, 0.0
	for i, v := range values {
		dx := float64(i) - meanX
		num += dx * (v - meanY)
		den += dx * dx
	}
	slope := num / den

	// Flat threshold scales with the series magnitude so tiny float noise
	// on large currency values does not read as a trend.
	tol := 1e-9 * math.Max(math.Abs(meanY), 1)
	signal := 0.0
	if slope > tol {
		signal = 1
	} else if slope < -tol {
		signal = -1
	}
	return &signal
}
