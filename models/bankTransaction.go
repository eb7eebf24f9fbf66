package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BankTransaction is a raw transaction fact synced from the accounting
// source. The snapshot builder aggregates these per calendar month; when a
// month has none it falls back to ledger monthly balances.
type BankTransaction struct {
	ID        int    `gorm:"primaryKey" json:"id"`
	CompanyId string `gorm:"size:64;not null;index:idx_bt_company_date,priority:1" json:"company_id"`

	TransactionDate time.Time           `gorm:"not null;index:idx_bt_company_date,priority:2" json:"transaction_date"`
	Type            BankTransactionType `gorm:"size:10;not null" json:"type"`
	Category        string              `gorm:"size:255;not null;default:''" json:"category"`
	LedgerName      string              `gorm:"size:255;not null;default:''" json:"ledger_name"`
	Amount          decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"amount"`

	SourceRef string `gorm:"size:100;not null;default:''" json:"source_ref"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// BankBalanceRecord is a point-in-time cash/bank balance observation. The
// snapshot builder takes the latest record inside the month as the month's
// closing cash balance.
type BankBalanceRecord struct {
	ID        int    `gorm:"primaryKey" json:"id"`
	CompanyId string `gorm:"size:64;not null;index:idx_bbr_company_date,priority:1" json:"company_id"`

	RecordedAt time.Time       `gorm:"not null;index:idx_bbr_company_date,priority:2" json:"recorded_at"`
	Balance    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"balance"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
