package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/mmdatafocus/payments_backend/config"
	"github.com/mmdatafocus/payments_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type WebhookEventStatus string

const (
	WebhookEventStatusProcessing WebhookEventStatus = "PROCESSING"
	WebhookEventStatusCompleted  WebhookEventStatus = "COMPLETED"
	WebhookEventStatusFailed     WebhookEventStatus = "FAILED"
)

// LockContentionError marks a FAILED row that was never processed because the
// order lock could not be obtained. Re-admission of such rows does not count
// toward the retry budget.
const LockContentionError = "order lock not obtained"

// WebhookEvent is the durable ledger row for one accepted inbound event.
// Unique constraint: (provider, event_id). Rows for confirmation-state
// providers additionally correlate on txid.
type WebhookEvent struct {
	ID          int                `gorm:"primary_key" json:"id"`
	Provider    PaymentProvider    `gorm:"size:32;not null;index:uniq_provider_event,unique" json:"provider"`
	EventId     string             `gorm:"size:255;not null;index:uniq_provider_event,unique" json:"event_id"`
	EventType   string             `gorm:"size:100;not null" json:"event_type"`
	Txid        string             `gorm:"size:255;index" json:"txid"`
	ReferenceId string             `gorm:"size:255;index" json:"reference_id"`
	Status      WebhookEventStatus `gorm:"size:20;not null;index" json:"status"`

	Amount   decimal.Decimal `gorm:"type:decimal(24,8)" json:"amount"`
	Currency string          `gorm:"size:10" json:"currency"`
	UserId   int             `gorm:"index" json:"user_id"`

	// Confirmed is denormalized out of Metadata so the state-aware dedup walk
	// can compare rows without unmarshalling payloads.
	Confirmed bool `gorm:"not null;default:0" json:"confirmed"`

	Payload  json.RawMessage `gorm:"type:json" json:"payload"`
	Metadata json.RawMessage `gorm:"type:json" json:"metadata"`

	RetryCount           int             `gorm:"not null;default:0" json:"retry_count"`
	ProcessingResult     json.RawMessage `gorm:"type:json" json:"processing_result"`
	ErrorMessage         *string         `gorm:"type:text" json:"error_message"`
	ProcessingDurationMs *int64          `json:"processing_duration_ms"`

	CreatedAt   time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

type CheckOutcome string

const (
	CheckOutcomeNew       CheckOutcome = "NEW"
	CheckOutcomeDuplicate CheckOutcome = "DUPLICATE"
	CheckOutcomeInFlight  CheckOutcome = "IN_FLIGHT"
	CheckOutcomeRetryable CheckOutcome = "RETRYABLE"
)

// CheckResult reports what the ledger already knows about an inbound event.
type CheckResult struct {
	Outcome        CheckOutcome
	ExistingId     int
	PreviousStatus WebhookEventStatus
	PreviousResult json.RawMessage
	PreviousError  *string
	RetryCount     int
	Reason         string
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// WebhookEventLedger is the single source of truth for "has this event been
// handled". It is mutated only by the orchestrator.
type WebhookEventLedger struct {
	DB         *gorm.DB
	MaxRetries int
}

func NewWebhookEventLedger(db *gorm.DB) *WebhookEventLedger {
	return &WebhookEventLedger{
		DB:         db,
		MaxRetries: config.WebhookMaxRetries(),
	}
}

// Check looks up existing rows by the provider's dedup key. The identical
// event id always wins; confirmation-state providers additionally walk rows
// sharing the txid, comparing confirmation flags.
func (l *WebhookEventLedger) Check(ctx context.Context, ev *NormalizedEvent) (CheckResult, error) {
	var existing WebhookEvent
	err := l.DB.WithContext(ctx).
		Where("provider = ? AND event_id = ?", ev.Provider, ev.EventId).
		First(&existing).Error
	if err == nil {
		return l.classifyRow(&existing), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return CheckResult{}, err
	}

	if ev.Provider.DedupStrategy() == DedupConfirmationState && ev.Txid != "" {
		var latest WebhookEvent
		err := l.DB.WithContext(ctx).
			Where("provider = ? AND txid = ?", ev.Provider, ev.Txid).
			Order("id DESC").
			First(&latest).Error
		if err == nil {
			switch ClassifyConfirmationTransition(latest.Confirmed, ev.Confirmed) {
			case ConfirmationAdmitted:
				return CheckResult{Outcome: CheckOutcomeNew}, nil
			case ConfirmationSameState:
				// Redelivery under a fresh event id; same rules as an
				// identical-id duplicate of that row.
				return l.classifyRow(&latest), nil
			case ConfirmationBackward:
				res := l.classifyRow(&latest)
				res.Outcome = CheckOutcomeDuplicate
				res.Reason = "backward confirmation transition"
				return res, nil
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return CheckResult{}, err
		}
	}

	return CheckResult{Outcome: CheckOutcomeNew}, nil
}

func (l *WebhookEventLedger) classifyRow(row *WebhookEvent) CheckResult {
	res := CheckResult{
		ExistingId:     row.ID,
		PreviousStatus: row.Status,
		PreviousResult: row.ProcessingResult,
		PreviousError:  row.ErrorMessage,
		RetryCount:     row.RetryCount,
	}
	switch row.Status {
	case WebhookEventStatusCompleted:
		res.Outcome = CheckOutcomeDuplicate
	case WebhookEventStatusProcessing:
		res.Outcome = CheckOutcomeInFlight
	case WebhookEventStatusFailed:
		if isLockContention(row.ErrorMessage) {
			res.Outcome = CheckOutcomeRetryable
		} else if row.RetryCount >= l.MaxRetries {
			// Retry budget spent; replay the stored failure terminally.
			res.Outcome = CheckOutcomeDuplicate
			res.Reason = "retry budget exhausted"
		} else {
			res.Outcome = CheckOutcomeRetryable
		}
	default:
		res.Outcome = CheckOutcomeDuplicate
	}
	return res
}

func isLockContention(errMsg *string) bool {
	return errMsg != nil && *errMsg == LockContentionError
}

// RecheckAdmission re-validates a confirmation-state admission after the order
// lock is held. Two deliveries of the same logical transition under distinct
// event ids can both pass Check before either Record; the unique index only
// covers (provider, event_id), so the second one must be caught here, where
// the lock has serialized them and the winner's row is already terminal.
// Returns nil while the admission still stands.
func (l *WebhookEventLedger) RecheckAdmission(ctx context.Context, ev *NormalizedEvent, selfId int) (*CheckResult, error) {
	if ev.Provider.DedupStrategy() != DedupConfirmationState || ev.Txid == "" {
		// Final-state providers are fully covered by the unique event id.
		return nil, nil
	}
	var twin WebhookEvent
	err := l.DB.WithContext(ctx).
		Where("provider = ? AND txid = ? AND confirmed = ? AND id <> ? AND status = ?",
			ev.Provider, ev.Txid, ev.Confirmed, selfId, WebhookEventStatusCompleted).
		Order("id ASC").
		First(&twin).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	res := l.classifyRow(&twin)
	res.Reason = "concurrent duplicate of same confirmation state"
	return &res, nil
}

// Record inserts a new PROCESSING row for the event. A duplicate-key error
// means another process recorded the identical (provider, event_id)
// microseconds earlier; it is reported as concurrent=true, never as an error.
func (l *WebhookEventLedger) Record(ctx context.Context, ev *NormalizedEvent) (id int, concurrent bool, err error) {
	var metadata json.RawMessage
	if len(ev.Metadata) > 0 {
		s, merr := utils.MarshalToJSON(ev.Metadata)
		if merr != nil {
			return 0, false, merr
		}
		metadata = json.RawMessage(s)
	}

	row := WebhookEvent{
		Provider:    ev.Provider,
		EventId:     ev.EventId,
		EventType:   ev.EventType,
		Txid:        ev.Txid,
		ReferenceId: ev.ReferenceId,
		Status:      WebhookEventStatusProcessing,
		Amount:      ev.Amount,
		Currency:    ev.Currency,
		UserId:      ev.UserId,
		Confirmed:   ev.Confirmed,
		Payload:     ev.RawPayload,
		Metadata:    metadata,
	}
	if err := l.DB.WithContext(ctx).Create(&row).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return 0, true, nil
		}
		return 0, false, err
	}
	return row.ID, false, nil
}

// MarkRetrying re-admits a FAILED row (the sole backward status transition).
// The guard on status makes concurrent re-admissions resolve to one winner;
// losers get ok=false and should re-Check. Lock-contention failures do not
// consume the retry budget.
func (l *WebhookEventLedger) MarkRetrying(ctx context.Context, id int) (ok bool, err error) {
	tx := l.DB.WithContext(ctx).Model(&WebhookEvent{}).
		Where("id = ? AND status = ?", id, WebhookEventStatusFailed).
		Updates(map[string]interface{}{
			"status":        WebhookEventStatusProcessing,
			"retry_count":   gorm.Expr("retry_count + IF(error_message <=> ?, 0, 1)", LockContentionError),
			"error_message": nil,
			"completed_at":  nil,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// UpdateStatus moves a row into a terminal state (or back to FAILED on lock
// contention). Idempotent; completed_at is always set on terminal states.
func (l *WebhookEventLedger) UpdateStatus(ctx context.Context, id int, status WebhookEventStatus, result json.RawMessage, errMsg *string, durationMs int64) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":                 status,
		"processing_duration_ms": durationMs,
	}
	switch status {
	case WebhookEventStatusCompleted:
		updates["processing_result"] = result
		updates["error_message"] = nil
		updates["completed_at"] = &now
	case WebhookEventStatusFailed:
		updates["error_message"] = errMsg
		updates["completed_at"] = &now
	}
	return l.DB.WithContext(ctx).Model(&WebhookEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// HistoryFilter narrows the audit query. Zero values mean "no filter".
type HistoryFilter struct {
	Provider    PaymentProvider
	Status      WebhookEventStatus
	Txid        string
	ReferenceId string
	UserId      int
	Since       *time.Time
	Until       *time.Time
	Limit       int
}

// History is a read-only audit query; it plays no correctness role.
func (l *WebhookEventLedger) History(ctx context.Context, f HistoryFilter) ([]*WebhookEvent, error) {
	q := l.DB.WithContext(ctx).Model(&WebhookEvent{})
	if f.Provider != "" {
		q = q.Where("provider = ?", f.Provider)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Txid != "" {
		q = q.Where("txid = ?", f.Txid)
	}
	if f.ReferenceId != "" {
		q = q.Where("reference_id = ?", f.ReferenceId)
	}
	if f.UserId > 0 {
		q = q.Where("user_id = ?", f.UserId)
	}
	if f.Since != nil {
		q = q.Where("created_at >= ?", f.Since)
	}
	if f.Until != nil {
		q = q.Where("created_at <= ?", f.Until)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = config.SearchLimit
	}
	var rows []*WebhookEvent
	if err := q.Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Get loads a single ledger row for the ops API.
func (l *WebhookEventLedger) Get(ctx context.Context, id int) (*WebhookEvent, error) {
	var row WebhookEvent
	err := l.DB.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// StuckProcessing lists PROCESSING rows older than the threshold. A stuck
// PROCESSING row is a diagnosable anomaly that requires manual investigation;
// nothing here resolves it automatically.
func (l *WebhookEventLedger) StuckProcessing(ctx context.Context, olderThan time.Duration) ([]*WebhookEvent, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	var rows []*WebhookEvent
	err := l.DB.WithContext(ctx).
		Where("status = ? AND created_at < ?", WebhookEventStatusProcessing, cutoff).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// PurgeTerminalEvents deletes COMPLETED/FAILED rows older than the horizon.
// PROCESSING rows are never deleted regardless of age.
func PurgeTerminalEvents(ctx context.Context, db *gorm.DB, horizon time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-horizon)
	tx := db.WithContext(ctx).
		Where("status IN ? AND created_at < ?",
			[]WebhookEventStatus{WebhookEventStatusCompleted, WebhookEventStatusFailed}, cutoff).
		Delete(&WebhookEvent{})
	return tx.RowsAffected, tx.Error
}
