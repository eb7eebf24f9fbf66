package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SnapshotBreakdown holds the revenue and expense breakdown lines for a
// month. Rows are destroyed and fully regenerated whenever the month is
// rebuilt; they are never patched incrementally.
//
// Grain: (company_id, month, kind, bucket).
type SnapshotBreakdown struct {
	ID        int           `gorm:"primaryKey" json:"id"`
	CompanyId string        `gorm:"size:64;not null;index:idx_sb_company_month_kind,priority:1" json:"company_id"`
	Month     string        `gorm:"size:7;not null;index:idx_sb_company_month_kind,priority:2" json:"month"`
	Kind      BreakdownKind `gorm:"size:10;not null;index:idx_sb_company_month_kind,priority:3" json:"kind"`

	// Bucket is the named line (a ledger or category name from the source).
	Bucket           string          `gorm:"size:255;not null" json:"bucket"`
	CanonicalType    string          `gorm:"size:100;not null;default:''" json:"canonical_type"`
	CanonicalSubtype string          `gorm:"size:100;not null;default:''" json:"canonical_subtype"`
	Amount           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
