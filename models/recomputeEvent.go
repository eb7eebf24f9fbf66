package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/cfo_backend/config"
	"bitbucket.org/mmdatafocus/cfo_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RecomputeEventRecord is a transactional-outbox row: the orchestrator writes
// it inside the recomputation transaction and does NOT publish. Publishing is
// performed asynchronously by the outbox dispatcher after commit, so compute
// logic and observability stay decoupled.
type RecomputeEventRecord struct {
	ID         int       `gorm:"primary_key;index:idx_rev_dispatch,priority:3" json:"id"`
	CompanyId  string    `gorm:"size:64;not null;index" json:"company_id"`
	EventType  string    `gorm:"size:50;not null" json:"event_type"`
	OccurredAt time.Time `gorm:"index;not null" json:"occurred_at"`
	Payload    []byte    `gorm:"type:blob" json:"payload"`

	IsProcessed      bool       `gorm:"index;not null" json:"is_processed"`
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_rev_dispatch,priority:1" json:"publish_status"`
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_rev_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`

	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// RecordRecomputeEvent appends an outbox row inside the caller's transaction.
func RecordRecomputeEvent(ctx context.Context, tx *gorm.DB, companyId string, eventType string, payload interface{}) error {
	var payloadBytes []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		payloadBytes = b
	}
	record := RecomputeEventRecord{
		CompanyId:     companyId,
		EventType:     eventType,
		OccurredAt:    time.Now().UTC(),
		Payload:       payloadBytes,
		IsProcessed:   false,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return tx.Create(&record).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func ConvertToRecomputeEventMessage(record RecomputeEventRecord) config.RecomputeEventMessage {
	return config.RecomputeEventMessage{
		ID:            record.ID,
		CompanyId:     record.CompanyId,
		EventType:     record.EventType,
		OccurredAt:    record.OccurredAt,
		Payload:       record.Payload,
		CorrelationId: record.CorrelationId,
	}
}
