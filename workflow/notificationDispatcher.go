package workflow

import (
	"context"
	"time"

	"github.com/mmdatafocus/payments_backend/config"
	"github.com/mmdatafocus/payments_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NotificationPublisher delivers one outbox record to the downstream bus.
type NotificationPublisher interface {
	Publish(ctx context.Context, rec *models.NotificationOutbox) (messageId string, err error)
}

// PubSubNotificationPublisher publishes to the NOTIFY_TOPIC Pub/Sub topic.
type PubSubNotificationPublisher struct{}

func (PubSubNotificationPublisher) Publish(ctx context.Context, rec *models.NotificationOutbox) (string, error) {
	return config.PublishNotification(ctx, rec.Body, map[string]string{
		"provider":       string(rec.Provider),
		"event_id":       rec.EventId,
		"event_type":     rec.EventType,
		"correlation_id": rec.CorrelationId,
	})
}

// NotificationDispatcher drains the notification outbox. Claiming uses
// SELECT ... FOR UPDATE SKIP LOCKED so multiple instances can run without
// stepping on each other; a crashed worker's claims expire after LockTTL.
type NotificationDispatcher struct {
	DB          *gorm.DB
	Logger      *logrus.Logger
	Publisher   NotificationPublisher
	WorkerID    string
	BatchSize   int
	Interval    time.Duration
	LockTTL     time.Duration
	MaxAttempts int
}

func NewNotificationDispatcher(db *gorm.DB, logger *logrus.Logger, publisher NotificationPublisher) *NotificationDispatcher {
	return &NotificationDispatcher{
		DB:          db,
		Logger:      logger,
		Publisher:   publisher,
		WorkerID:    "notify-" + time.Now().Format("20060102-150405.000"),
		BatchSize:   50,
		Interval:    2 * time.Second,
		LockTTL:     30 * time.Second,
		MaxAttempts: 8,
	}
}

func (d *NotificationDispatcher) Run(ctx context.Context) {
	if d == nil || d.DB == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.processOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.Interval):
		}
	}
}

func (d *NotificationDispatcher) processOnce(ctx context.Context) {
	now := time.Now().UTC()
	staleBefore := now.Add(-d.LockTTL)

	var claimed []models.NotificationOutbox
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("publish_status IN ?", []string{models.NotifyPublishStatusPending, models.NotifyPublishStatusFailed}).
			Where("(next_attempt_at IS NULL OR next_attempt_at <= ?)", now).
			Where("(locked_at IS NULL OR locked_at <= ?)", staleBefore).
			Order("id ASC").
			Limit(d.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		for i := range claimed {
			if err := tx.Model(&models.NotificationOutbox{}).
				Where("id = ?", claimed[i].ID).
				Updates(map[string]interface{}{
					"publish_status": models.NotifyPublishStatusProcessing,
					"locked_at":      &now,
					"locked_by":      &d.WorkerID,
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		config.LogError(d.Logger, "workflow", "processOnce", "claim outbox batch", nil, err)
		return
	}

	for i := range claimed {
		d.dispatchOne(ctx, &claimed[i])
	}
}

func (d *NotificationDispatcher) dispatchOne(ctx context.Context, rec *models.NotificationOutbox) {
	msgId, err := d.Publisher.Publish(ctx, rec)
	now := time.Now().UTC()

	if err == nil {
		if uerr := d.DB.WithContext(ctx).Model(&models.NotificationOutbox{}).
			Where("id = ?", rec.ID).
			Updates(map[string]interface{}{
				"publish_status": models.NotifyPublishStatusSent,
				"published_at":   &now,
				"locked_at":      nil,
				"locked_by":      nil,
			}).Error; uerr != nil {
			config.LogError(d.Logger, "workflow", "dispatchOne", "mark sent", rec.ID, uerr)
		}
		if d.Logger != nil {
			d.Logger.WithFields(logrus.Fields{
				"record_id":  rec.ID,
				"provider":   rec.Provider,
				"event_id":   rec.EventId,
				"message_id": msgId,
			}).Info("notification published")
		}
		return
	}

	attempts := rec.PublishAttempts + 1
	status := models.NotifyPublishStatusFailed
	if attempts >= d.MaxAttempts {
		status = models.NotifyPublishStatusDead
	}
	next := now.Add(nextAttemptDelay(attempts))
	errMsg := err.Error()

	if uerr := d.DB.WithContext(ctx).Model(&models.NotificationOutbox{}).
		Where("id = ?", rec.ID).
		Updates(map[string]interface{}{
			"publish_status":     status,
			"publish_attempts":   attempts,
			"next_attempt_at":    &next,
			"last_publish_error": &errMsg,
			"locked_at":          nil,
			"locked_by":          nil,
		}).Error; uerr != nil {
		config.LogError(d.Logger, "workflow", "dispatchOne", "mark failed", rec.ID, uerr)
	}
	config.LogError(d.Logger, "workflow", "dispatchOne", "publish notification",
		map[string]interface{}{"record_id": rec.ID, "attempts": attempts, "status": status}, err)
}

// nextAttemptDelay backs off exponentially, capped at 5 minutes.
func nextAttemptDelay(attempts int) time.Duration {
	if attempts > 8 {
		attempts = 8
	}
	delay := time.Second * time.Duration(1<<attempts)
	if delay > 5*time.Minute {
		delay = 5 * time.Minute
	}
	return delay
}
