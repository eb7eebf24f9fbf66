package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CurrentBalance is an as-of-now balance row for one named entity (a bank
// account, a debtor, a creditor, a loan). The whole family of rows for a
// company is replaced (delete-then-insert) each time current balances are
// recomputed; there is no partial merge.
//
// Sign convention: debtor/creditor/loan magnitudes are stored as absolute
// values. Cash keeps the source sign so overdrafts stay negative.
type CurrentBalance struct {
	ID        int                `gorm:"primaryKey" json:"id"`
	CompanyId string             `gorm:"size:64;not null;index:idx_curbal_company_kind,priority:1" json:"company_id"`
	Kind      CurrentBalanceKind `gorm:"size:10;not null;index:idx_curbal_company_kind,priority:2" json:"kind"`
	Name      string             `gorm:"size:255;not null" json:"name"`

	Balance decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"balance"`

	// Source records which derivation path produced this row: the explicit
	// sync payload, or the latest stored ledger month (with its month key).
	Source      CurrentBalanceSource `gorm:"size:10;not null" json:"source"`
	SourceMonth string               `gorm:"size:7;not null;default:''" json:"source_month"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
