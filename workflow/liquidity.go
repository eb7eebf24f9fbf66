package workflow

import (
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bitbucket.org/mmdatafocus/cfo_backend/config"
	"bitbucket.org/mmdatafocus/cfo_backend/models"
	"bitbucket.org/mmdatafocus/cfo_backend/utils"
)

// Runway classification thresholds, in months of remaining cash.
const (
	runwayGreenMonths = 6
	runwayAmberMonths = 3
	burnWindowMonths  = 6
	minBurnHistory    = 3
)

// ComputeLiquidity classifies the company's cash runway from the last up to
// six closed months of net cash movement. It never persists; the caller
// decides when to write the row.
func ComputeLiquidity(reader *SnapshotReader) models.CurrentLiquidity {
	liq := models.CurrentLiquidity{
		CompanyId: reader.CompanyId(),
		Status:    models.RunwayStatusUnknown,
	}

	cash := 0.0
	if c := reader.CurrentTotal(models.CurrentBalanceKindCash); c != nil {
		cash = *c
	} else if c := reader.Value(MeasureCashBank, reader.LatestMonth()); c != nil {
		cash = *c
	}
	liq.CurrentCash = decimal.NewFromFloat(cash).Round(4)

	flows := reader.WindowValues(MeasureNetCashflow, reader.LatestMonth(), burnWindowMonths)
	if len(flows) < minBurnHistory {
		liq.StatusLabel = "Insufficient data"
		return liq
	}

	avgFlow := 0.0
	if m := Mean(flows); m != nil {
		avgFlow = *m
	}
	liq.AvgMonthlyBurn = decimal.NewFromFloat(avgFlow).Round(4)

	if avgFlow >= 0 {
		liq.Status = models.RunwayStatusGrowing
		liq.StatusLabel = "Cash position stable or growing"
		return liq
	}

	months := cash / -avgFlow
	if !utils.IsFinite(months) || months < 0 {
		months = 0
	}
	runway := decimal.NewFromFloat(months).Round(2)
	liq.RunwayMonths = &runway

	switch {
	case months >= runwayGreenMonths:
		liq.Status = models.RunwayStatusGreen
		liq.StatusLabel = "Runway above six months"
	case months >= runwayAmberMonths:
		liq.Status = models.RunwayStatusAmber
		liq.StatusLabel = "Runway between three and six months"
	default:
		liq.Status = models.RunwayStatusRed
		liq.StatusLabel = "Runway below three months"
	}
	return liq
}

// UpsertCurrentLiquidity replaces the company's single liquidity row.
func UpsertCurrentLiquidity(tx *gorm.DB, logger *logrus.Logger, reader *SnapshotReader) error {
	liq := ComputeLiquidity(reader)

	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "company_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"current_cash", "avg_monthly_burn", "runway_months",
			"status", "status_label", "updated_at",
		}),
	}).Create(&liq).Error
	if err != nil {
		config.LogError(logger, "liquidity.go", "UpsertCurrentLiquidity", "Upsert", liq, err)
		return err
	}

	logger.WithFields(logrus.Fields{
		"company_id": liq.CompanyId,
		"status":     liq.Status,
	}).Info("recompute.liquidity.updated")
	return nil
}
