package workflow

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/cfo_backend/config"
	"bitbucket.org/mmdatafocus/cfo_backend/models"
	"bitbucket.org/mmdatafocus/cfo_backend/utils"
)

// Last-resort cap on alerts stored per run.
const maxAlertsPerRun = 5

const alertTrendWindow = 6

// A measure counts as flat when it grew less than this over the window.
const flatGrowthPctMax = 2.0

type alertRule struct {
	key      string
	severity models.AlertSeverity
	evaluate func(reader *SnapshotReader) (bool, string)
}

var alertRules = []alertRule{
	{
		key:      models.AlertRuleDebtorsRisingRevenueFlat,
		severity: models.AlertSeverityWarn,
		evaluate: func(r *SnapshotReader) (bool, string) {
			return trendPairFired(r, MeasureDebtors, MeasureRevenue),
				"Debtor balances are rising while revenue is flat. Collections may be slipping."
		},
	},
	{
		key:      models.AlertRuleExpenseOutpacingCash,
		severity: models.AlertSeverityHigh,
		evaluate: func(r *SnapshotReader) (bool, string) {
			expenseTrend := TrendSignal(r.WindowValues(MeasureExpenses, r.LatestMonth(), alertTrendWindow))
			cashTrend := TrendSignal(r.WindowValues(MeasureCashBank, r.LatestMonth(), alertTrendWindow))
			fired := expenseTrend != nil && cashTrend != nil && *expenseTrend > 0 && *cashTrend < 0
			return fired, "Expenses are growing while cash balances decline."
		},
	},
	{
		key:      models.AlertRuleTopDebtorConcentration,
		severity: models.AlertSeverityWarn,
		evaluate: func(r *SnapshotReader) (bool, string) {
			if len(r.CurrentRows(models.CurrentBalanceKindDebtor)) == 0 {
				return false, ""
			}
			// Strictly over half, so an exact 50/50 split does not fire.
			share := r.TopShare(models.CurrentBalanceKindDebtor, 2)
			return share > 0.5, fmt.Sprintf(
				"Top 2 debtors hold %.0f%% of outstanding receivables.", share*100)
		},
	},
	{
		key:      models.AlertRuleCreditorsRisingExpenseFlat,
		severity: models.AlertSeverityWarn,
		evaluate: func(r *SnapshotReader) (bool, string) {
			return trendPairFired(r, MeasureCreditors, MeasureExpenses),
				"Creditor balances are rising while expenses are flat. Payables may be piling up."
		},
	},
}

func trendPairFired(r *SnapshotReader, rising, flat string) bool {
	risingTrend := TrendSignal(r.WindowValues(rising, r.LatestMonth(), alertTrendWindow))
	if risingTrend == nil || *risingTrend <= 0 {
		return false
	}
	growth := windowGrowthPct(r, flat)
	return growth != nil && *growth < flatGrowthPctMax
}

// windowGrowthPct is the percent change of a measure from the start to the
// end of the alert window. Nil when either endpoint is missing.
func windowGrowthPct(r *SnapshotReader, measure string) *float64 {
	latest := r.LatestMonth()
	start, err := utils.AddMonths(latest, -(alertTrendWindow - 1))
	if err != nil {
		return nil
	}
	return PctChange(r.Value(measure, latest), r.Value(measure, start))
}

// EvaluateAlerts runs every rule against the reader and returns the fired
// alerts, de-duplicated by rule key and capped at five.
func EvaluateAlerts(reader *SnapshotReader) []models.Alert {
	var alerts []models.Alert
	seen := make(map[string]bool)
	for _, rule := range alertRules {
		if seen[rule.key] {
			continue
		}
		fired, message := rule.evaluate(reader)
		if !fired {
			continue
		}
		seen[rule.key] = true
		alerts = append(alerts, models.Alert{
			CompanyId: reader.CompanyId(),
			RuleKey:   rule.key,
			Severity:  rule.severity,
			Message:   message,
		})
		if len(alerts) == maxAlertsPerRun {
			break
		}
	}
	return alerts
}

// RegenerateAlerts replaces the company's alert set with the currently
// firing rules. Returns true when the stored set changed.
func RegenerateAlerts(tx *gorm.DB, logger *logrus.Logger, reader *SnapshotReader) (bool, error) {
	companyId := reader.CompanyId()

	var existing []models.Alert
	if err := tx.Where("company_id = ?", companyId).Find(&existing).Error; err != nil {
		config.LogError(logger, "alertGenerator.go", "RegenerateAlerts", "LoadExisting", companyId, err)
		return false, err
	}

	alerts := EvaluateAlerts(reader)

	if err := tx.Where("company_id = ?", companyId).Delete(&models.Alert{}).Error; err != nil {
		config.LogError(logger, "alertGenerator.go", "RegenerateAlerts", "DeleteExisting", companyId, err)
		return false, err
	}
	for i := range alerts {
		if err := tx.Create(&alerts[i]).Error; err != nil {
			config.LogError(logger, "alertGenerator.go", "RegenerateAlerts", "Insert", alerts[i], err)
			return false, err
		}
	}

	changed := alertSetChanged(existing, alerts)
	if changed {
		logger.WithFields(logrus.Fields{
			"company_id":  companyId,
			"alert_count": len(alerts),
		}).Info("recompute.alerts.changed")
	}
	return changed, nil
}

func alertSetChanged(before, after []models.Alert) bool {
	if len(before) != len(after) {
		return true
	}
	keys := make(map[string]bool, len(before))
	for _, a := range before {
		keys[a.RuleKey] = true
	}
	for _, a := range after {
		if !keys[a.RuleKey] {
			return true
		}
	}
	return false
}
