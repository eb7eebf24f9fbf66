package workflow

import (
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/cfo_backend/config"
	"bitbucket.org/mmdatafocus/cfo_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Chart-of-accounts data already validated at the connector boundary.
type CoaGroup struct {
	Name   string
	Parent string
}

type CoaLedger struct {
	Guid   string
	Name   string
	Parent string
}

type CoaBalanceItem struct {
	LedgerGuid string
	Balance    decimal.Decimal
}

type CoaMonthBalances struct {
	MonthKey string
	AsOfDate time.Time
	Items    []CoaBalanceItem
}

type ChartOfAccounts struct {
	Groups       []CoaGroup
	Ledgers      []CoaLedger
	Current      *CoaMonthBalances
	ClosedMonths []CoaMonthBalances
}

// maxGroupWalkDepth bounds the parent-chain walk so a cyclic group
// hierarchy from a broken source cannot loop forever.
const maxGroupWalkDepth = 25

// canonicalGroupCategories maps normalized group names to CFO categories.
// Names follow the account-group conventions of the supported accounting
// sources.
var canonicalGroupCategories = map[string]models.CfoCategory{
	"sales accounts":      models.CfoCategoryRevenue,
	"direct incomes":      models.CfoCategoryRevenue,
	"indirect incomes":    models.CfoCategoryRevenue,
	"income":              models.CfoCategoryRevenue,
	"revenue":             models.CfoCategoryRevenue,
	"income (direct)":     models.CfoCategoryRevenue,
	"income (indirect)":   models.CfoCategoryRevenue,
	"purchase accounts":   models.CfoCategoryExpenses,
	"direct expenses":     models.CfoCategoryExpenses,
	"indirect expenses":   models.CfoCategoryExpenses,
	"expenses":            models.CfoCategoryExpenses,
	"expenses (direct)":   models.CfoCategoryExpenses,
	"expenses (indirect)": models.CfoCategoryExpenses,
	"sundry debtors":      models.CfoCategoryDebtors,
	"accounts receivable": models.CfoCategoryDebtors,
	"sundry creditors":    models.CfoCategoryCreditors,
	"accounts payable":    models.CfoCategoryCreditors,
	"bank accounts":       models.CfoCategoryCashBank,
	"bank od a/c":         models.CfoCategoryCashBank,
	"cash-in-hand":        models.CfoCategoryCashBank,
	"cash in hand":        models.CfoCategoryCashBank,
	"loans (liability)":   models.CfoCategoryLoans,
	"secured loans":       models.CfoCategoryLoans,
	"unsecured loans":     models.CfoCategoryLoans,
	"bank loans":          models.CfoCategoryLoans,
	"stock-in-hand":       models.CfoCategoryInventory,
	"inventory":           models.CfoCategoryInventory,
	"stock in hand":       models.CfoCategoryInventory,
}

// cashBankExclusions removes false positives from the cash_bank bucket:
// these group names look like bank asset groups but are not spendable cash.
var cashBankExclusions = map[string]bool{
	"deposits":         true,
	"deposits (asset)": true,
	"fixed deposits":   true,
	"investments":      true,
}

func normalizeGroupName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// ClassifyLedger walks the ledger's group-parent chain against the canonical
// table. The walk is bounded; unknown chains classify as unknown, which the
// caller leaves out of every bucket.
func ClassifyLedger(ledger CoaLedger, groupsByName map[string]CoaGroup) models.CfoCategory {
	name := normalizeGroupName(ledger.Parent)
	for hop := 0; hop < maxGroupWalkDepth && name != ""; hop++ {
		if cashBankExclusions[name] {
			return models.CfoCategoryUnknown
		}
		if category, ok := canonicalGroupCategories[name]; ok {
			return category
		}
		group, ok := groupsByName[name]
		if !ok {
			return models.CfoCategoryUnknown
		}
		name = normalizeGroupName(group.Parent)
	}
	return models.CfoCategoryUnknown
}

// GroupIndex builds the normalized-name lookup the classification walk uses.
// Non-ledger nodes (the groups themselves) are never classified.
func GroupIndex(groups []CoaGroup) map[string]CoaGroup {
	idx := make(map[string]CoaGroup, len(groups))
	for _, g := range groups {
		idx[normalizeGroupName(g.Name)] = g
	}
	return idx
}

// UpsertLedgerMonthlyBalances writes the chart-of-accounts balances into the
// accounting-month ledger, (re)classifying every ledger. Classification here
// is authoritative and overwrites any ingest-time category.
func UpsertLedgerMonthlyBalances(tx *gorm.DB, logger *logrus.Logger, companyId string, coa ChartOfAccounts) error {
	groupIdx := GroupIndex(coa.Groups)
	ledgersByGuid := make(map[string]CoaLedger, len(coa.Ledgers))
	categories := make(map[string]models.CfoCategory, len(coa.Ledgers))
	for _, l := range coa.Ledgers {
		ledgersByGuid[l.Guid] = l
		categories[l.Guid] = ClassifyLedger(l, groupIdx)
	}

	monthSets := append([]CoaMonthBalances(nil), coa.ClosedMonths...)
	if coa.Current != nil {
		monthSets = append(monthSets, *coa.Current)
	}

	for _, set := range monthSets {
		for _, item := range set.Items {
			ledger, ok := ledgersByGuid[item.LedgerGuid]
			if !ok {
				// Balance without a ledger definition: skip the row, not the run.
				config.LogWarn(logger, "ledgerClassification.go", "UpsertLedgerMonthlyBalances",
					"UnknownLedgerGuid", map[string]string{"company_id": companyId, "ledger_guid": item.LedgerGuid, "month": set.MonthKey},
					"balance item references unknown ledger guid")
				continue
			}
			row := models.LedgerMonthlyBalance{
				CompanyId:   companyId,
				Month:       set.MonthKey,
				LedgerGuid:  ledger.Guid,
				LedgerName:  ledger.Name,
				ParentGroup: ledger.Parent,
				Category:    categories[ledger.Guid],
				Balance:     item.Balance,
				AsOfDate:    set.AsOfDate,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "company_id"}, {Name: "month"}, {Name: "ledger_guid"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"ledger_name", "parent_group", "category", "balance", "as_of_date", "updated_at",
				}),
			}).Create(&row).Error
			if err != nil {
				config.LogError(logger, "ledgerClassification.go", "UpsertLedgerMonthlyBalances", "Upsert", row, err)
				return err
			}
		}
	}
	return nil
}
