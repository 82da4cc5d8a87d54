package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/payments_backend/utils"
	"gorm.io/gorm"
)

// Notification outbox publish statuses. Keep these as strings (DB values).
const (
	NotifyPublishStatusPending    = "PENDING"
	NotifyPublishStatusProcessing = "PROCESSING"
	NotifyPublishStatusSent       = "SENT"
	NotifyPublishStatusFailed     = "FAILED"
	NotifyPublishStatusDead       = "DEAD"
)

// NotificationOutbox implements a transactional outbox for post-processing
// notifications: the row is written after a webhook completes and published
// asynchronously by the dispatcher. Delivery is at-least-once; consumers
// dedup on (provider, event_id).
type NotificationOutbox struct {
	ID          int             `gorm:"primary_key" json:"id"`
	Provider    PaymentProvider `gorm:"size:32;not null;index" json:"provider"`
	EventId     string          `gorm:"size:255;not null" json:"event_id"`
	EventType   string          `gorm:"size:100;not null" json:"event_type"`
	ReferenceId string          `gorm:"size:255;index" json:"reference_id"`
	UserId      int             `json:"user_id"`
	Body        json.RawMessage `gorm:"type:json" json:"body"`

	PublishStatus    string     `gorm:"size:20;not null;default:'PENDING';index" json:"publish_status"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index" json:"next_attempt_at"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`

	LockedAt *time.Time `json:"locked_at"`
	LockedBy *string    `gorm:"size:64" json:"locked_by"`

	CorrelationId string     `gorm:"size:64" json:"correlation_id"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	PublishedAt   *time.Time `json:"published_at"`
}

// EnqueueNotification writes the outbox row. It does NOT publish; publishing
// is performed asynchronously by the notification dispatcher.
func EnqueueNotification(ctx context.Context, db *gorm.DB, ev *NormalizedEvent, body json.RawMessage) error {
	rec := NotificationOutbox{
		Provider:      ev.Provider,
		EventId:       ev.EventId,
		EventType:     ev.EventType,
		ReferenceId:   ev.ReferenceId,
		UserId:        ev.UserId,
		Body:          body,
		PublishStatus: NotifyPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return db.WithContext(ctx).Create(&rec).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
