package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CounterpartyBreakdown holds the debtor and creditor breakdown lines for a
// month, one row per named counterparty, with the derived columns the
// dashboards read directly (share, momentum, rolling averages, flags).
//
// Rebuilt in full for a month on every recomputation of that month.
type CounterpartyBreakdown struct {
	ID        int           `gorm:"primaryKey" json:"id"`
	CompanyId string        `gorm:"size:64;not null;index:idx_cb_company_month_kind,priority:1" json:"company_id"`
	Month     string        `gorm:"size:7;not null;index:idx_cb_company_month_kind,priority:2" json:"month"`
	Kind      BreakdownKind `gorm:"size:10;not null;index:idx_cb_company_month_kind,priority:3" json:"kind"`

	Name           string          `gorm:"size:255;not null" json:"name"`
	ClosingBalance decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"closing_balance"`

	// PctOfTotal is this counterparty's share of the month total, 0..100.
	PctOfTotal decimal.Decimal `gorm:"type:decimal(9,4);default:0" json:"pct_of_total"`
	// MoMChange is the absolute change vs the prior month (0 when no prior row).
	MoMChange decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"mom_change"`

	Avg3m  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"avg_3m"`
	Avg6m  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"avg_6m"`
	Avg12m decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"avg_12m"`

	Trend TrendFlag `gorm:"size:10;not null;default:'STABLE'" json:"trend"`
	// ConcentrationFlag marks counterparties inside a top-5 group whose
	// combined share is at least 60% of the month total.
	ConcentrationFlag bool `gorm:"not null;default:false" json:"concentration_flag"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
