package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Metric is one stored value of the metrics catalog.
//
// Uniqueness: (company_id, metric_key, scope, month). Month is the empty
// string for non-monthly scopes rather than NULL: MySQL unique indexes treat
// NULLs as distinct, which would break the upsert key.
//
// A missing row means "unknown / not yet computed" - consumers must never
// read absence as zero.
type Metric struct {
	ID        int         `gorm:"primaryKey" json:"id"`
	CompanyId string      `gorm:"size:64;not null;index:uniq_metric,unique,priority:1" json:"company_id"`
	MetricKey string      `gorm:"size:100;not null;index:uniq_metric,unique,priority:2" json:"metric_key"`
	Scope     MetricScope `gorm:"size:20;not null;index:uniq_metric,unique,priority:3" json:"scope"`
	Month     string      `gorm:"size:7;not null;default:'';index:uniq_metric,unique,priority:4" json:"month"`

	Value     decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"value"`
	ValueType MetricValueType  `gorm:"size:10;not null" json:"value_type"`
	ValueText *string          `gorm:"size:255" json:"value_text"`
	ChangePct *decimal.Decimal `gorm:"type:decimal(12,4)" json:"change_pct"`
	Severity  *MetricSeverity  `gorm:"size:10" json:"severity"`

	ComputedAt time.Time `gorm:"not null" json:"computed_at"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
