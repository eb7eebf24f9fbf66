package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CurrentLiquidity is the single per-company runway classification row,
// replaced on every recomputation.
type CurrentLiquidity struct {
	CompanyId string `gorm:"primaryKey;size:64" json:"company_id"`

	CurrentCash    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"current_cash"`
	AvgMonthlyBurn decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"avg_monthly_burn"`

	// RunwayMonths is nil when cash flow is non-negative (runway is not
	// shrinking) or when there is not enough history to classify.
	RunwayMonths *decimal.Decimal `gorm:"type:decimal(9,2)" json:"runway_months"`

	Status      RunwayStatus `gorm:"size:10;not null" json:"status"`
	StatusLabel string       `gorm:"size:100;not null" json:"status_label"`

	ComputedAt time.Time `gorm:"autoCreateTime" json:"computed_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
