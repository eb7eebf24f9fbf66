package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerMonthlyBalance is the per-ledger month-end balance from the
// accounting source, with the authoritative CFO category assignment.
//
// Upsert key: (company_id, month, ledger_guid). The classification walk may
// overwrite the category written at ingest time.
type LedgerMonthlyBalance struct {
	ID         int    `gorm:"primaryKey" json:"id"`
	CompanyId  string `gorm:"size:64;not null;index:uniq_lmb,unique,priority:1" json:"company_id"`
	Month      string `gorm:"size:7;not null;index:uniq_lmb,unique,priority:2" json:"month"`
	LedgerGuid string `gorm:"size:64;not null;index:uniq_lmb,unique,priority:3" json:"ledger_guid"`

	LedgerName  string          `gorm:"size:255;not null" json:"ledger_name"`
	ParentGroup string          `gorm:"size:255;not null;default:''" json:"parent_group"`
	Category    CfoCategory     `gorm:"size:20;not null;default:'';index" json:"category"`
	Balance     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"balance"`
	AsOfDate    time.Time       `json:"as_of_date"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
