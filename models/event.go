package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// NormalizedEvent is the provider-agnostic event descriptor produced by a
// provider adapter and consumed by the orchestrator and the ledger. Raw
// payload field mapping lives in the adapters, never here.
type NormalizedEvent struct {
	Provider    PaymentProvider `json:"provider" validate:"required"`
	EventId     string          `json:"event_id" validate:"required"`
	EventType   string          `json:"event_type" validate:"required"`
	Txid        string          `json:"txid"`
	ReferenceId string          `json:"reference_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	UserId      int             `json:"user_id"`

	// Confirmed is the confirmation flag for state-aware providers; always
	// true for final-state providers.
	Confirmed bool `json:"confirmed"`

	Metadata   map[string]interface{} `json:"metadata"`
	RawPayload json.RawMessage        `json:"raw_payload"`

	// Timestamp is the provider-asserted event creation time. A nil timestamp
	// is rejected by the replay guard; there is no server-clock fallback.
	Timestamp *time.Time `json:"timestamp"`
}

// LockKey returns the distributed-lock key for this event. The lock is scoped
// to the order being mutated, not the webhook delivery, so concurrent
// deliveries that reference the same order serialize even when they carry
// different event ids.
func (e *NormalizedEvent) LockKey() string {
	if e.ReferenceId != "" {
		return fmt.Sprintf("order:%s", e.ReferenceId)
	}
	if e.Txid != "" {
		return fmt.Sprintf("txid:%s:%s", e.Provider, e.Txid)
	}
	return fmt.Sprintf("event:%s:%s", e.Provider, e.EventId)
}

// SettlementKey identifies the logical settlement an event credits. For
// confirmation-state providers the key is the (txid, confirmation level) pair,
// so redeliveries of the same transition under fresh event ids collide on the
// settlement table's unique index; final-state providers settle per event id.
func (e *NormalizedEvent) SettlementKey() string {
	if e.Provider.DedupStrategy() == DedupConfirmationState && e.Txid != "" {
		if e.Confirmed {
			return fmt.Sprintf("txid:%s:confirmed", e.Txid)
		}
		return fmt.Sprintf("txid:%s:unconfirmed", e.Txid)
	}
	return fmt.Sprintf("event:%s", e.EventId)
}
