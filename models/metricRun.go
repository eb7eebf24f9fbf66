package models

import "time"

// MetricRun persists the summary of one metrics-runner execution. This is
// the primary observability surface for "why is this number blank":
// dashboards read the latest row to see skipped counts and missing keys.
type MetricRun struct {
	ID        int    `gorm:"primaryKey" json:"id"`
	CompanyId string `gorm:"size:64;not null;index:idx_mr_company_created,priority:1" json:"company_id"`
	JobId     string `gorm:"size:64;not null;default:''" json:"job_id"`

	TotalDefinitions int `gorm:"not null;default:0" json:"total_definitions"`
	WrittenCount     int `gorm:"not null;default:0" json:"written_count"`
	SkippedCount     int `gorm:"not null;default:0" json:"skipped_count"`
	FailureCount     int `gorm:"not null;default:0" json:"failure_count"`
	MonthsProcessed  int `gorm:"not null;default:0" json:"months_processed"`

	// JSON-encoded []MetricFailure and []string respectively.
	Failures    []byte `gorm:"type:blob" json:"failures"`
	MissingKeys []byte `gorm:"type:blob" json:"missing_keys"`

	CreatedAt time.Time `gorm:"autoCreateTime;index:idx_mr_company_created,priority:2" json:"created_at"`
}
