package models

import "time"

// Alert is a latest-state row, not an append-only log: the generator
// replaces the whole set per company on every recomputation.
type Alert struct {
	ID        int    `gorm:"primaryKey" json:"id"`
	CompanyId string `gorm:"size:64;not null;index" json:"company_id"`

	RuleKey  string        `gorm:"size:100;not null" json:"rule_key"`
	Severity AlertSeverity `gorm:"size:10;not null" json:"severity"`
	Message  string        `gorm:"size:500;not null" json:"message"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
