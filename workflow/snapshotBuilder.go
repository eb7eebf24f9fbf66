package workflow

import (
	"errors"
	"sort"
	"strings"

	"bitbucket.org/mmdatafocus/cfo_backend/config"
	"bitbucket.org/mmdatafocus/cfo_backend/models"
	"bitbucket.org/mmdatafocus/cfo_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	snapshotSourceTransactions   = "transactions"
	snapshotSourceLedgerBalances = "ledger_balances"
)

// Counterparties inside the top-5 whose combined share reaches this
// fraction of the month total get the concentration flag.
const concentrationTopN = 5
const concentrationThreshold = 0.60

var revenueKeywords = []string{"sales", "income", "revenue"}
var expenseKeywords = []string{"expense", "purchase", "cost"}

type snapshotLine struct {
	Bucket string
	Amount decimal.Decimal
}

// CounterpartyRow is one explicitly synced receivable or payable balance for
// a month. A sync that supplies these overrides the classified ledger
// balances as the source of that month's counterparty breakdown.
type CounterpartyRow struct {
	Month   string
	Name    string
	Balance decimal.Decimal
}

// BuildMonthlySnapshot rebuilds one month: the monthly summary row (upsert)
// and all four breakdown families (delete-then-insert). Months must be built
// oldest-first so trailing averages see their prior rows.
func BuildMonthlySnapshot(tx *gorm.DB, logger *logrus.Logger, termCache *TermMappingCache, companyId, sourceSystem, month string, debtorRows, creditorRows []CounterpartyRow) error {
	revenueLines, expenseLines, source, err := monthRevenueExpenseLines(tx, logger, companyId, month)
	if err != nil {
		return err
	}

	totalRevenue := sumLines(revenueLines)
	totalExpenses := sumLines(expenseLines)
	netProfit := totalRevenue.Sub(totalExpenses)

	cash, err := monthClosingCash(tx, logger, companyId, month)
	if err != nil {
		return err
	}
	netCashflow, err := monthNetCashflow(tx, companyId, month, cash)
	if err != nil {
		return err
	}
	inventory, err := monthInventoryTotal(tx, companyId, month)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"company_id": companyId,
		"month":      month,
		"source":     source,
	}).Info("recompute.snapshot.source")

	summary := models.MonthlySummary{
		CompanyId:       companyId,
		Month:           month,
		CashBankBalance: cash,
		TotalRevenue:    totalRevenue,
		TotalExpenses:   totalExpenses,
		NetProfit:       netProfit,
		NetCashflow:     netCashflow,
		InventoryTotal:  inventory,
		SnapshotSource:  source,
	}
	err = tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "company_id"}, {Name: "month"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"cash_bank_balance", "total_revenue", "total_expenses", "net_profit",
			"net_cashflow", "inventory_total", "snapshot_source", "updated_at",
		}),
	}).Create(&summary).Error
	if err != nil {
		config.LogError(logger, "snapshotBuilder.go", "BuildMonthlySnapshot", "UpsertSummary", summary, err)
		return err
	}

	if err := rebuildSnapshotBreakdowns(tx, logger, termCache, companyId, sourceSystem, month, revenueLines, expenseLines); err != nil {
		return err
	}
	err = rebuildCounterpartyBreakdowns(tx, logger, companyId, month,
		models.BreakdownKindDebtor, models.CfoCategoryDebtors, rowsForMonth(debtorRows, month))
	if err != nil {
		return err
	}
	return rebuildCounterpartyBreakdowns(tx, logger, companyId, month,
		models.BreakdownKindCreditor, models.CfoCategoryCreditors, rowsForMonth(creditorRows, month))
}

func rowsForMonth(rows []CounterpartyRow, month string) []CounterpartyRow {
	var out []CounterpartyRow
	for _, r := range rows {
		if r.Month == month {
			out = append(out, r)
		}
	}
	return out
}

// monthRevenueExpenseLines aggregates transaction rows for the month; when
// none exist it falls back to ledger monthly balances matched by category or
// keyword heuristics, summarized by ledger name.
func monthRevenueExpenseLines(tx *gorm.DB, logger *logrus.Logger, companyId, month string) (revenue, expense []snapshotLine, source string, err error) {
	start, err := utils.MonthStart(month)
	if err != nil {
		return nil, nil, "", err
	}
	next := start.AddDate(0, 1, 0)

	type txnAgg struct {
		Type     models.BankTransactionType
		Category string
		Total    decimal.Decimal
	}
	var aggs []txnAgg
	err = tx.Model(&models.BankTransaction{}).
		Select("type, category, SUM(amount) AS total").
		Where("company_id = ? AND transaction_date >= ? AND transaction_date < ?", companyId, start, next).
		Group("type, category").
		Scan(&aggs).Error
	if err != nil {
		config.LogError(logger, "snapshotBuilder.go", "monthRevenueExpenseLines", "TransactionAgg", companyId, err)
		return nil, nil, "", err
	}

	if len(aggs) > 0 {
		for _, a := range aggs {
			bucket := a.Category
			if bucket == "" {
				bucket = "Uncategorized"
			}
			line := snapshotLine{Bucket: bucket, Amount: a.Total.Abs()}
			if a.Type == models.BankTransactionTypeIncome {
				revenue = append(revenue, line)
			} else {
				expense = append(expense, line)
			}
		}
		return revenue, expense, snapshotSourceTransactions, nil
	}

	// Fallback: no transaction rows for the month.
	var ledgerRows []models.LedgerMonthlyBalance
	err = tx.Where("company_id = ? AND month = ?", companyId, month).Find(&ledgerRows).Error
	if err != nil {
		config.LogError(logger, "snapshotBuilder.go", "monthRevenueExpenseLines", "LedgerRows", companyId, err)
		return nil, nil, "", err
	}

	revenueByName := make(map[string]decimal.Decimal)
	expenseByName := make(map[string]decimal.Decimal)
	for _, lr := range ledgerRows {
		switch {
		case lr.Category == models.CfoCategoryRevenue || matchesAnyKeyword(lr.ParentGroup, revenueKeywords):
			revenueByName[lr.LedgerName] = revenueByName[lr.LedgerName].Add(lr.Balance.Abs())
		case lr.Category == models.CfoCategoryExpenses || matchesAnyKeyword(lr.ParentGroup, expenseKeywords):
			expenseByName[lr.LedgerName] = expenseByName[lr.LedgerName].Add(lr.Balance.Abs())
		}
	}
	return linesFromMap(revenueByName), linesFromMap(expenseByName), snapshotSourceLedgerBalances, nil
}

func matchesAnyKeyword(s string, keywords []string) bool {
	s = strings.ToLower(s)
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func linesFromMap(m map[string]decimal.Decimal) []snapshotLine {
	lines := make([]snapshotLine, 0, len(m))
	for name, amount := range m {
		lines = append(lines, snapshotLine{Bucket: name, Amount: amount})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].Bucket < lines[j].Bucket })
	return lines
}

func sumLines(lines []snapshotLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Amount)
	}
	return total
}

// monthClosingCash is the latest recorded bank balance inside the calendar
// month, or 0 when none exists.
func monthClosingCash(tx *gorm.DB, logger *logrus.Logger, companyId, month string) (decimal.Decimal, error) {
	start, err := utils.MonthStart(month)
	if err != nil {
		return decimal.Zero, err
	}
	next := start.AddDate(0, 1, 0)

	var record models.BankBalanceRecord
	err = tx.Where("company_id = ? AND recorded_at >= ? AND recorded_at < ?", companyId, start, next).
		Order("recorded_at DESC").First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		config.LogError(logger, "snapshotBuilder.go", "monthClosingCash", "LatestRecord", companyId, err)
		return decimal.Zero, err
	}
	return record.Balance, nil
}

// monthNetCashflow is the closing-cash movement vs the prior month's
// summary; 0 when there is no prior row to compare against.
func monthNetCashflow(tx *gorm.DB, companyId, month string, cash decimal.Decimal) (decimal.Decimal, error) {
	prevMonth, err := utils.AddMonths(month, -1)
	if err != nil {
		return decimal.Zero, err
	}
	var prev models.MonthlySummary
	err = tx.Where("company_id = ? AND month = ?", companyId, prevMonth).First(&prev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return cash.Sub(prev.CashBankBalance), nil
}

func monthInventoryTotal(tx *gorm.DB, companyId, month string) (decimal.Decimal, error) {
	type totalRow struct {
		Total decimal.Decimal
	}
	var row totalRow
	err := tx.Model(&models.LedgerMonthlyBalance{}).
		Select("COALESCE(SUM(ABS(balance)), 0) AS total").
		Where("company_id = ? AND month = ? AND category = ?", companyId, month, models.CfoCategoryInventory).
		Scan(&row).Error
	if err != nil {
		return decimal.Zero, err
	}
	return row.Total, nil
}

// rebuildSnapshotBreakdowns destroys and recreates the revenue/expense
// breakdown lines for the month, tagging each with its canonical term.
func rebuildSnapshotBreakdowns(tx *gorm.DB, logger *logrus.Logger, termCache *TermMappingCache, companyId, sourceSystem, month string, revenueLines, expenseLines []snapshotLine) error {
	err := tx.Where("company_id = ? AND month = ?", companyId, month).
		Delete(&models.SnapshotBreakdown{}).Error
	if err != nil {
		config.LogError(logger, "snapshotBuilder.go", "rebuildSnapshotBreakdowns", "DeleteExisting", companyId, err)
		return err
	}

	insert := func(kind models.BreakdownKind, fallbackType string, lines []snapshotLine) error {
		for _, l := range lines {
			mapping, err := termCache.Resolve(tx, logger, sourceSystem, l.Bucket, fallbackType)
			if err != nil {
				return err
			}
			row := models.SnapshotBreakdown{
				CompanyId:        companyId,
				Month:            month,
				Kind:             kind,
				Bucket:           l.Bucket,
				CanonicalType:    mapping.CanonicalType,
				CanonicalSubtype: mapping.CanonicalSubtype,
				Amount:           l.Amount,
			}
			if err := tx.Create(&row).Error; err != nil {
				config.LogError(logger, "snapshotBuilder.go", "rebuildSnapshotBreakdowns", "Insert", row, err)
				return err
			}
		}
		return nil
	}

	if err := insert(models.BreakdownKindRevenue, "REVENUE", revenueLines); err != nil {
		return err
	}
	return insert(models.BreakdownKindExpense, "EXPENSE", expenseLines)
}

// rebuildCounterpartyBreakdowns destroys and recreates the debtor or
// creditor lines for a month, computing the derived columns (share, MoM
// change, trailing averages, trend, concentration flag). Explicitly synced
// rows for the month are the preferred source; the classified ledger
// balances are the fallback.
func rebuildCounterpartyBreakdowns(tx *gorm.DB, logger *logrus.Logger, companyId, month string, kind models.BreakdownKind, category models.CfoCategory, explicit []CounterpartyRow) error {
	var byName map[string]decimal.Decimal
	if len(explicit) > 0 {
		byName = explicitCounterpartyTotals(explicit)
	} else {
		var ledgerRows []models.LedgerMonthlyBalance
		err := tx.Where("company_id = ? AND month = ? AND category = ?", companyId, month, category).
			Find(&ledgerRows).Error
		if err != nil {
			config.LogError(logger, "snapshotBuilder.go", "rebuildCounterpartyBreakdowns", "LedgerRows", companyId, err)
			return err
		}
		byName = make(map[string]decimal.Decimal)
		for _, lr := range ledgerRows {
			byName[lr.LedgerName] = byName[lr.LedgerName].Add(lr.Balance.Abs())
		}
	}

	if err := tx.Where("company_id = ? AND month = ? AND kind = ?", companyId, month, kind).
		Delete(&models.CounterpartyBreakdown{}).Error; err != nil {
		config.LogError(logger, "snapshotBuilder.go", "rebuildCounterpartyBreakdowns", "DeleteExisting", companyId, err)
		return err
	}
	if len(byName) == 0 {
		return nil
	}

	names := make([]string, 0, len(byName))
	monthTotal := decimal.Zero
	for name, bal := range byName {
		names = append(names, name)
		monthTotal = monthTotal.Add(bal)
	}
	sort.Slice(names, func(i, j int) bool {
		if !byName[names[i]].Equal(byName[names[j]]) {
			return byName[names[i]].GreaterThan(byName[names[j]])
		}
		return names[i] < names[j]
	})

	concentrated := concentratedNames(names, byName, monthTotal)

	prevMonth, err := utils.AddMonths(month, -1)
	if err != nil {
		return err
	}

	for _, name := range names {
		balance := byName[name]

		pct := decimal.Zero
		if monthTotal.IsPositive() {
			pct = balance.Div(monthTotal).Mul(decimal.NewFromInt(100)).Round(4)
		}

		// MoM change: 0 when there is no prior-month row for this name.
		momChange := decimal.Zero
		var prevRow models.CounterpartyBreakdown
		err = tx.Where("company_id = ? AND month = ? AND kind = ? AND name = ?",
			companyId, prevMonth, kind, name).First(&prevRow).Error
		if err == nil {
			momChange = balance.Sub(prevRow.ClosingBalance)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			config.LogError(logger, "snapshotBuilder.go", "rebuildCounterpartyBreakdowns", "PriorRow", name, err)
			return err
		}

		avg3, avg6, avg12, err := trailingAverages(tx, companyId, month, kind, name, balance)
		if err != nil {
			return err
		}

		trend := models.TrendFlagStable
		if momChange.IsPositive() {
			trend = models.TrendFlagUp
		} else if momChange.IsNegative() {
			trend = models.TrendFlagDown
		}

		row := models.CounterpartyBreakdown{
			CompanyId:         companyId,
			Month:             month,
			Kind:              kind,
			Name:              name,
			ClosingBalance:    balance,
			PctOfTotal:        pct,
			MoMChange:         momChange,
			Avg3m:             avg3,
			Avg6m:             avg6,
			Avg12m:            avg12,
			Trend:             trend,
			ConcentrationFlag: concentrated[name],
		}
		if err := tx.Create(&row).Error; err != nil {
			config.LogError(logger, "snapshotBuilder.go", "rebuildCounterpartyBreakdowns", "Insert", row, err)
			return err
		}
	}
	return nil
}

// explicitCounterpartyTotals aggregates synced rows by name, magnitudes as
// absolute values (the same normalization the ledger path applies).
func explicitCounterpartyTotals(rows []CounterpartyRow) map[string]decimal.Decimal {
	byName := make(map[string]decimal.Decimal, len(rows))
	for _, r := range rows {
		byName[r.Name] = byName[r.Name].Add(r.Balance.Abs())
	}
	return byName
}

// concentratedNames flags each of the top-5 counterparties when their
// combined share is at least 60% of the month total.
func concentratedNames(sortedNames []string, byName map[string]decimal.Decimal, monthTotal decimal.Decimal) map[string]bool {
	flags := make(map[string]bool)
	if !monthTotal.IsPositive() {
		return flags
	}
	topN := concentrationTopN
	if topN > len(sortedNames) {
		topN = len(sortedNames)
	}
	topTotal := decimal.Zero
	for _, name := range sortedNames[:topN] {
		topTotal = topTotal.Add(byName[name])
	}
	if topTotal.Div(monthTotal).InexactFloat64() >= concentrationThreshold {
		for _, name := range sortedNames[:topN] {
			flags[name] = true
		}
	}
	return flags
}

// trailingAverages covers up to the last 12 monthly rows for this name
// (current month included), oldest rows truncated first.
func trailingAverages(tx *gorm.DB, companyId, month string, kind models.BreakdownKind, name string, current decimal.Decimal) (avg3, avg6, avg12 decimal.Decimal, err error) {
	var priors []models.CounterpartyBreakdown
	err = tx.Where("company_id = ? AND kind = ? AND name = ? AND month < ?", companyId, kind, name, month).
		Order("month DESC").Limit(11).Find(&priors).Error
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, err
	}

	// Newest first: current, then priors descending.
	values := make([]decimal.Decimal, 0, len(priors)+1)
	values = append(values, current)
	for _, p := range priors {
		values = append(values, p.ClosingBalance)
	}

	avgOf := func(n int) decimal.Decimal {
		if n > len(values) {
			n = len(values)
		}
		if n == 0 {
			return decimal.Zero
		}
		total := decimal.Zero
		for _, v := range values[:n] {
			total = total.Add(v)
		}
		return total.Div(decimal.NewFromInt(int64(n))).Round(4)
	}
	return avgOf(3), avgOf(6), avgOf(12), nil
}
