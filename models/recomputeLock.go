package models

import "time"

// RecomputeLock provides durable, DB-backed idempotency for recomputation
// runs. Unique constraint: (company_id, job_key, scope_key).
//
// The lock row lives outside the recomputation transaction so that a failed
// run still records FAILED with its error message.
type RecomputeLock struct {
	ID        int    `gorm:"primaryKey" json:"id"`
	CompanyId string `gorm:"size:64;not null;index:uniq_rlock,unique,priority:1" json:"company_id"`
	JobKey    string `gorm:"size:100;not null;index:uniq_rlock,unique,priority:2" json:"job_key"`
	ScopeKey  string `gorm:"size:255;not null;index:uniq_rlock,unique,priority:3" json:"scope_key"`

	Status    RecomputeLockStatus `gorm:"size:20;not null;index" json:"status"`
	LockedAt  time.Time           `gorm:"not null" json:"locked_at"`
	LastJobId string              `gorm:"size:64;not null;default:''" json:"last_job_id"`
	LastError *string             `gorm:"type:text" json:"last_error"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
