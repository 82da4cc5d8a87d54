package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/payments_backend/config"
	"github.com/mmdatafocus/payments_backend/models"
	"github.com/sirupsen/logrus"
)

// ErrEventInFlight reports a duplicate of an event whose first delivery is
// still being processed.
var ErrEventInFlight = errors.New("event is already being processed")

type ProcessOutcome string

const (
	OutcomeRejected          ProcessOutcome = "REJECTED"
	OutcomeCompleted         ProcessOutcome = "COMPLETED"
	OutcomeFailed            ProcessOutcome = "FAILED"
	OutcomeDuplicateTerminal ProcessOutcome = "DUPLICATE_TERMINAL"
	OutcomeDuplicateInFlight ProcessOutcome = "DUPLICATE_IN_FLIGHT"
	OutcomeLockDenied        ProcessOutcome = "LOCK_DENIED"
)

// ProcessResult is the uniform outcome returned to every caller. A replay of
// a completed event is indistinguishable from the original run except for
// IdempotentReplay, which exists for observability only.
type ProcessResult struct {
	Success          bool            `json:"success"`
	Outcome          ProcessOutcome  `json:"outcome"`
	LedgerId         int             `json:"ledger_id,omitempty"`
	DurationMs       int64           `json:"duration_ms"`
	Result           json.RawMessage `json:"result,omitempty"`
	Error            string          `json:"error,omitempty"`
	IdempotentReplay bool            `json:"idempotent_replay"`
}

// TransitionFunc performs the actual order mutation (escrow confirmation,
// wallet credit, refund creation). Contract: it must be safe to have been
// abandoned by a previous crashed attempt, and it must report failure
// unambiguously; the orchestrator invokes it at most once per admitted event.
type TransitionFunc func(ctx context.Context, ev *models.NormalizedEvent) (interface{}, error)

// EventLedger is the narrow ledger surface the orchestrator needs.
// *models.WebhookEventLedger is the production implementation.
type EventLedger interface {
	Check(ctx context.Context, ev *models.NormalizedEvent) (models.CheckResult, error)
	Record(ctx context.Context, ev *models.NormalizedEvent) (id int, concurrent bool, err error)
	MarkRetrying(ctx context.Context, id int) (ok bool, err error)
	UpdateStatus(ctx context.Context, id int, status models.WebhookEventStatus, result json.RawMessage, errMsg *string, durationMs int64) error
	RecheckAdmission(ctx context.Context, ev *models.NormalizedEvent, selfId int) (*models.CheckResult, error)
}

// Notifier enqueues a post-completion notification. Optional.
type Notifier interface {
	Enqueue(ctx context.Context, ev *models.NormalizedEvent, body json.RawMessage) error
}

// Orchestrator is the single entry point for inbound webhook events. It
// sequences replay validation, deduplication, locking, transition invocation
// and status recording so that the underlying order transitions exactly once
// no matter how many times, in what order, or from how many processes an
// event arrives.
type Orchestrator struct {
	Ledger    EventLedger
	Locker    OrderLocker
	Guard     *ReplayGuard
	Notify    Notifier
	LockLease time.Duration
	Logger    *logrus.Logger
}

func NewOrchestrator(ledger EventLedger, locker OrderLocker) *Orchestrator {
	return &Orchestrator{
		Ledger:    ledger,
		Locker:    locker,
		Guard:     NewReplayGuard(),
		LockLease: config.OrderLockLease(),
		Logger:    config.GetLogger(),
	}
}

// Process runs one inbound event through the state machine:
//
//	guard -> check -> record -> [lock -> transition -> unlock] -> update
//
// Ledger writes stay outside the order lock so duplicate detection remains
// cheap under lock contention.
func (o *Orchestrator) Process(ctx context.Context, ev *models.NormalizedEvent, fn TransitionFunc) ProcessResult {
	start := time.Now()

	if err := o.Guard.Validate(ev.Timestamp); err != nil {
		// Loud by design: either an attack or provider clock skew.
		config.LogError(o.Logger, "workflow", "Process", "replay guard rejection",
			map[string]interface{}{"provider": ev.Provider, "event_id": ev.EventId}, err)
		return ProcessResult{
			Outcome:    OutcomeRejected,
			Error:      err.Error(),
			DurationMs: msSince(start),
		}
	}

	check, err := o.Ledger.Check(ctx, ev)
	if err != nil {
		return o.systemFailure(ev, start, "ledger check", err)
	}

	res, admitted, err := o.admit(ctx, ev, check, true)
	if err != nil {
		return o.systemFailure(ev, start, "ledger admit", err)
	}
	if !admitted {
		res.DurationMs = msSince(start)
		return res
	}
	ledgerId := res.LedgerId

	// The lock is scoped only around the transition invocation and covers the
	// order, not the event, so retries under fresh event ids still serialize.
	lock, err := o.Locker.Acquire(ctx, ev.LockKey(), o.LockLease)
	if errors.Is(err, ErrLockNotObtained) {
		contention := models.LockContentionError
		if uerr := o.Ledger.UpdateStatus(ctx, ledgerId, models.WebhookEventStatusFailed, nil, &contention, msSince(start)); uerr != nil {
			config.LogError(o.Logger, "workflow", "Process", "record lock contention", ev.EventId, uerr)
		}
		return ProcessResult{
			Outcome:    OutcomeLockDenied,
			LedgerId:   ledgerId,
			Error:      contention,
			DurationMs: msSince(start),
		}
	}
	if err != nil {
		msg := err.Error()
		if uerr := o.Ledger.UpdateStatus(ctx, ledgerId, models.WebhookEventStatusFailed, nil, &msg, msSince(start)); uerr != nil {
			config.LogError(o.Logger, "workflow", "Process", "record lock error", ev.EventId, uerr)
		}
		return o.systemFailure(ev, start, "acquire order lock", err)
	}

	// Two deliveries of the same confirmation transition under fresh event ids
	// can both pass the pre-insert check. The lock has serialized them, so if a
	// twin row for this (txid, confirmed) is already terminal, this delivery is
	// a duplicate and the transition must not run again.
	dup, derr := o.Ledger.RecheckAdmission(ctx, ev, ledgerId)
	if derr != nil || dup != nil {
		if rerr := lock.Release(ctx); rerr != nil {
			config.LogError(o.Logger, "workflow", "Process", "release order lock", ev.LockKey(), rerr)
		}
	}
	if derr != nil {
		msg := derr.Error()
		if uerr := o.Ledger.UpdateStatus(ctx, ledgerId, models.WebhookEventStatusFailed, nil, &msg, msSince(start)); uerr != nil {
			config.LogError(o.Logger, "workflow", "Process", "record recheck failure", ev.EventId, uerr)
		}
		return o.systemFailure(ev, start, "recheck admission", derr)
	}
	if dup != nil {
		// Fold the twin's result into this row so later redeliveries of this
		// event id replay it directly.
		if uerr := o.Ledger.UpdateStatus(ctx, ledgerId, models.WebhookEventStatusCompleted, dup.PreviousResult, nil, msSince(start)); uerr != nil {
			config.LogError(o.Logger, "workflow", "Process", "resolve duplicate admission", ev.EventId, uerr)
		}
		res := duplicateResult(*dup)
		res.DurationMs = msSince(start)
		return res
	}

	result, ferr := invokeTransition(ctx, ev, fn)
	if rerr := lock.Release(ctx); rerr != nil {
		// Lease expiry cleans up after us; nothing blocks on this.
		config.LogError(o.Logger, "workflow", "Process", "release order lock", ev.LockKey(), rerr)
	}

	if ferr != nil {
		config.LogError(o.Logger, "workflow", "Process", "transition failed",
			map[string]interface{}{"provider": ev.Provider, "event_id": ev.EventId}, ferr)
		msg := ferr.Error()
		if uerr := o.Ledger.UpdateStatus(ctx, ledgerId, models.WebhookEventStatusFailed, nil, &msg, msSince(start)); uerr != nil {
			config.LogError(o.Logger, "workflow", "Process", "record transition failure", ev.EventId, uerr)
		}
		return ProcessResult{
			Outcome:    OutcomeFailed,
			LedgerId:   ledgerId,
			Error:      msg,
			DurationMs: msSince(start),
		}
	}

	body, err := json.Marshal(result)
	if err != nil {
		msg := fmt.Sprintf("transition result not serializable: %v", err)
		if uerr := o.Ledger.UpdateStatus(ctx, ledgerId, models.WebhookEventStatusFailed, nil, &msg, msSince(start)); uerr != nil {
			config.LogError(o.Logger, "workflow", "Process", "record marshal failure", ev.EventId, uerr)
		}
		return ProcessResult{
			Outcome:    OutcomeFailed,
			LedgerId:   ledgerId,
			Error:      msg,
			DurationMs: msSince(start),
		}
	}

	duration := msSince(start)
	if err := o.Ledger.UpdateStatus(ctx, ledgerId, models.WebhookEventStatusCompleted, body, nil, duration); err != nil {
		// The transition ran; never report it as a duplicate. The row stays
		// PROCESSING and surfaces via the stuck-events report.
		config.LogError(o.Logger, "workflow", "Process", "record completion",
			map[string]interface{}{"ledger_id": ledgerId, "event_id": ev.EventId}, err)
		return ProcessResult{
			Outcome:    OutcomeFailed,
			LedgerId:   ledgerId,
			Error:      "transition completed but ledger update failed: " + err.Error(),
			DurationMs: duration,
		}
	}

	if o.Notify != nil {
		if err := o.Notify.Enqueue(ctx, ev, body); err != nil {
			config.LogError(o.Logger, "workflow", "Process", "enqueue notification", ev.EventId, err)
		}
	}

	return ProcessResult{
		Success:    true,
		Outcome:    OutcomeCompleted,
		LedgerId:   ledgerId,
		Result:     body,
		DurationMs: duration,
	}
}

// admit turns a CheckResult into either an owned PROCESSING row (admitted) or
// a final duplicate/in-flight answer. A uniqueness violation during Record
// means another process won the race microseconds earlier; the check is
// re-run exactly once and its verdict returned, which closes the race without
// ever double-invoking the transition.
func (o *Orchestrator) admit(ctx context.Context, ev *models.NormalizedEvent, check models.CheckResult, allowRecheck bool) (ProcessResult, bool, error) {
	switch check.Outcome {
	case models.CheckOutcomeDuplicate:
		return duplicateResult(check), false, nil

	case models.CheckOutcomeInFlight:
		return inFlightResult(check), false, nil

	case models.CheckOutcomeRetryable:
		ok, err := o.Ledger.MarkRetrying(ctx, check.ExistingId)
		if err != nil {
			return ProcessResult{}, false, err
		}
		if !ok {
			// A concurrent process re-admitted the row first.
			if allowRecheck {
				check2, err := o.Ledger.Check(ctx, ev)
				if err != nil {
					return ProcessResult{}, false, err
				}
				return o.admit(ctx, ev, check2, false)
			}
			return inFlightResult(check), false, nil
		}
		return ProcessResult{LedgerId: check.ExistingId}, true, nil

	default: // CheckOutcomeNew
		id, concurrent, err := o.Ledger.Record(ctx, ev)
		if err != nil {
			return ProcessResult{}, false, err
		}
		if concurrent {
			if allowRecheck {
				check2, err := o.Ledger.Check(ctx, ev)
				if err != nil {
					return ProcessResult{}, false, err
				}
				return o.admit(ctx, ev, check2, false)
			}
			return inFlightResult(check), false, nil
		}
		return ProcessResult{LedgerId: id}, true, nil
	}
}

func duplicateResult(check models.CheckResult) ProcessResult {
	res := ProcessResult{
		Outcome:          OutcomeDuplicateTerminal,
		LedgerId:         check.ExistingId,
		Success:          check.PreviousStatus == models.WebhookEventStatusCompleted,
		Result:           check.PreviousResult,
		IdempotentReplay: true,
	}
	if check.PreviousError != nil {
		res.Error = *check.PreviousError
	}
	if res.Error == "" && check.Reason != "" {
		res.Error = check.Reason
	}
	return res
}

func inFlightResult(check models.CheckResult) ProcessResult {
	return ProcessResult{
		Outcome:          OutcomeDuplicateInFlight,
		LedgerId:         check.ExistingId,
		Error:            ErrEventInFlight.Error(),
		IdempotentReplay: true,
	}
}

func (o *Orchestrator) systemFailure(ev *models.NormalizedEvent, start time.Time, context string, err error) ProcessResult {
	config.LogError(o.Logger, "workflow", "Process", context,
		map[string]interface{}{"provider": ev.Provider, "event_id": ev.EventId}, err)
	return ProcessResult{
		Outcome:    OutcomeFailed,
		Error:      err.Error(),
		DurationMs: msSince(start),
	}
}

func invokeTransition(ctx context.Context, ev *models.NormalizedEvent, fn TransitionFunc) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			// Any unexpected condition is a failure, never a silent success.
			err = fmt.Errorf("transition panic: %v", r)
		}
	}()
	if fn == nil {
		return nil, errors.New("no transition function registered for event type")
	}
	return fn(ctx, ev)
}

func msSince(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
