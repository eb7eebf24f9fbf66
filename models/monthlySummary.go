package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MonthlySummary is the per-month trial-balance aggregate every dashboard
// and metric reads from.
//
// Grain: (company_id, month). At most one row per pair; the snapshot builder
// upserts and the retention trimmer deletes rows older than the keep window.
//
// NOTE: This table is derived data and can be rebuilt from transactions and
// ledger monthly balances at any time.
type MonthlySummary struct {
	ID        int    `gorm:"primaryKey" json:"id"`
	CompanyId string `gorm:"size:64;not null;index:uniq_ms_company_month,unique;index:idx_ms_company" json:"company_id"`
	Month     string `gorm:"size:7;not null;index:uniq_ms_company_month,unique" json:"month"`

	CashBankBalance decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"cash_bank_balance"`
	TotalRevenue    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_revenue"`
	TotalExpenses   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_expenses"`
	NetProfit       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"net_profit"`
	NetCashflow     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"net_cashflow"`
	InventoryTotal  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"inventory_total"`

	// SnapshotSource records which aggregation path built this row:
	// "transactions" or "ledger_balances".
	SnapshotSource string `gorm:"size:20;not null;default:''" json:"snapshot_source"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
