package workflow

import (
	"database/sql"

	"bitbucket.org/mmdatafocus/cfo_backend/config"
	"bitbucket.org/mmdatafocus/cfo_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type CurrentBalanceEntry struct {
	Name    string
	Balance decimal.Decimal
}

// CurrentBalancePayload is the explicit as-of-now balance set a sync can
// supply. When present it is used verbatim; no derivation runs.
type CurrentBalancePayload struct {
	Cash      []CurrentBalanceEntry
	Debtors   []CurrentBalanceEntry
	Creditors []CurrentBalanceEntry
	Loans     []CurrentBalanceEntry
}

// DeriveCurrentBalances fully replaces the current-balance tables for a
// company, either from the explicit payload or from the latest stored
// ledger month. Which source was used is recorded on every row.
func DeriveCurrentBalances(tx *gorm.DB, logger *logrus.Logger, companyId string, payload *CurrentBalancePayload) error {
	var rows []models.CurrentBalance

	if payload != nil {
		rows = rowsFromPayload(companyId, payload)
	} else {
		derived, err := rowsFromLatestLedgerMonth(tx, logger, companyId)
		if err != nil {
			return err
		}
		rows = derived
	}

	// Full replace, never a partial merge.
	if err := tx.Where("company_id = ?", companyId).Delete(&models.CurrentBalance{}).Error; err != nil {
		config.LogError(logger, "currentBalance.go", "DeriveCurrentBalances", "DeleteExisting", companyId, err)
		return err
	}
	if len(rows) > 0 {
		if err := tx.Create(&rows).Error; err != nil {
			config.LogError(logger, "currentBalance.go", "DeriveCurrentBalances", "InsertRows", companyId, err)
			return err
		}
	}

	logger.WithFields(logrus.Fields{
		"company_id": companyId,
		"rows":       len(rows),
		"source":     currentBalanceSourceOf(rows),
	}).Info("recompute.current_balances.replaced")
	return nil
}

func currentBalanceSourceOf(rows []models.CurrentBalance) string {
	if len(rows) == 0 {
		return "empty"
	}
	return string(rows[0].Source)
}

func rowsFromPayload(companyId string, payload *CurrentBalancePayload) []models.CurrentBalance {
	var rows []models.CurrentBalance
	appendKind := func(kind models.CurrentBalanceKind, entries []CurrentBalanceEntry) {
		for _, e := range entries {
			rows = append(rows, models.CurrentBalance{
				CompanyId: companyId,
				Kind:      kind,
				Name:      e.Name,
				Balance:   e.Balance,
				Source:    models.CurrentBalanceSourcePayload,
			})
		}
	}
	appendKind(models.CurrentBalanceKindCash, payload.Cash)
	appendKind(models.CurrentBalanceKindDebtor, payload.Debtors)
	appendKind(models.CurrentBalanceKindCreditor, payload.Creditors)
	appendKind(models.CurrentBalanceKindLoan, payload.Loans)
	return rows
}

// rowsFromLatestLedgerMonth summarizes the most recent ledger month by
// classification bucket. Sign normalization: debtor/creditor/loan magnitudes
// become absolute values; cash keeps the source sign so overdrafts stay
// negative.
func rowsFromLatestLedgerMonth(tx *gorm.DB, logger *logrus.Logger, companyId string) ([]models.CurrentBalance, error) {
	var latest sql.NullString
	err := tx.Model(&models.LedgerMonthlyBalance{}).
		Where("company_id = ?", companyId).
		Select("MAX(month)").Scan(&latest).Error
	if err != nil {
		config.LogError(logger, "currentBalance.go", "rowsFromLatestLedgerMonth", "LatestMonth", companyId, err)
		return nil, err
	}
	if !latest.Valid || latest.String == "" {
		return nil, nil
	}

	var ledgerRows []models.LedgerMonthlyBalance
	err = tx.Where("company_id = ? AND month = ?", companyId, latest.String).
		Find(&ledgerRows).Error
	if err != nil {
		config.LogError(logger, "currentBalance.go", "rowsFromLatestLedgerMonth", "LedgerRows", companyId, err)
		return nil, err
	}

	var rows []models.CurrentBalance
	for _, lr := range ledgerRows {
		var kind models.CurrentBalanceKind
		balance := lr.Balance
		switch lr.Category {
		case models.CfoCategoryCashBank:
			kind = models.CurrentBalanceKindCash
		case models.CfoCategoryDebtors:
			kind = models.CurrentBalanceKindDebtor
			balance = balance.Abs()
		case models.CfoCategoryCreditors:
			kind = models.CurrentBalanceKindCreditor
			balance = balance.Abs()
		case models.CfoCategoryLoans:
			kind = models.CurrentBalanceKindLoan
			balance = balance.Abs()
		default:
			continue
		}
		rows = append(rows, models.CurrentBalance{
			CompanyId:   companyId,
			Kind:        kind,
			Name:        lr.LedgerName,
			Balance:     balance,
			Source:      models.CurrentBalanceSourceDerived,
			SourceMonth: latest.String,
		})
	}
	return rows, nil
}
