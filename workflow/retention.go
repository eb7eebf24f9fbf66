package workflow

import (
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/cfo_backend/config"
	"bitbucket.org/mmdatafocus/cfo_backend/models"
	"bitbucket.org/mmdatafocus/cfo_backend/utils"
)

// TrimRetention deletes monthly rows older than the keep window, anchored on
// the latest month present in monthly summaries. With a 24-month window the
// kept range is (latest-23 .. latest+1); an in-progress current month never
// counts against the window.
//
// No-op when the company has no summaries yet.
func TrimRetention(tx *gorm.DB, logger *logrus.Logger, companyId string) error {
	latest, err := latestSummaryMonth(tx, companyId)
	if err != nil {
		config.LogError(logger, "retention.go", "TrimRetention", "LatestMonth", companyId, err)
		return err
	}
	if latest == "" {
		return nil
	}

	cutoff, err := utils.AddMonths(latest, -(config.RetentionMonths() - 1))
	if err != nil {
		return err
	}

	tables := []interface{}{
		&models.MonthlySummary{},
		&models.SnapshotBreakdown{},
		&models.CounterpartyBreakdown{},
		&models.LedgerMonthlyBalance{},
	}
	deleted := int64(0)
	for _, table := range tables {
		res := tx.Where("company_id = ? AND month < ?", companyId, cutoff).Delete(table)
		if res.Error != nil {
			config.LogError(logger, "retention.go", "TrimRetention", "Delete", table, res.Error)
			return res.Error
		}
		deleted += res.RowsAffected
	}

	// Month-scoped metrics age out with their months; other scopes are
	// singletons per key and never trimmed.
	res := tx.Where("company_id = ? AND scope = ? AND month < ?",
		companyId, models.MetricScopeMonth, cutoff).Delete(&models.Metric{})
	if res.Error != nil {
		config.LogError(logger, "retention.go", "TrimRetention", "DeleteMetrics", companyId, res.Error)
		return res.Error
	}
	deleted += res.RowsAffected

	if deleted > 0 {
		logger.WithFields(logrus.Fields{
			"company_id":   companyId,
			"cutoff_month": cutoff,
			"rows_deleted": deleted,
		}).Info("recompute.retention.trimmed")
	}
	return nil
}

func latestSummaryMonth(tx *gorm.DB, companyId string) (string, error) {
	type row struct {
		Latest *string
	}
	var r row
	err := tx.Model(&models.MonthlySummary{}).
		Select("MAX(month) AS latest").
		Where("company_id = ?", companyId).
		Scan(&r).Error
	if err != nil {
		return "", err
	}
	if r.Latest == nil {
		return "", nil
	}
	return *r.Latest, nil
}
