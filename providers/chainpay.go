package providers

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mmdatafocus/payments_backend/models"
	"github.com/shopspring/decimal"
)

// chainpayDefaultConfirmations is used when the payload omits
// required_confirmations.
const chainpayDefaultConfirmations = 6

// ChainpayAdapter handles the Chainpay crypto processor. Chainpay notifies as
// soon as a transaction is seen (unconfirmed) and again once it has enough
// confirmations, each time under a fresh event id, so dedup is state-aware on
// the txid.
type ChainpayAdapter struct{}

type chainpayPayload struct {
	EventId               string      `json:"event_id"`
	Event                 string      `json:"event"`
	Txid                  string      `json:"txid"`
	OrderRef              string      `json:"order_ref"`
	Value                 json.Number `json:"value"`
	Coin                  string      `json:"coin"`
	UserId                int         `json:"user_id"`
	Status                string      `json:"status"`
	Confirmations         int         `json:"confirmations"`
	RequiredConfirmations int         `json:"required_confirmations"`
	CreatedAt             string      `json:"created_at"` // RFC3339
}

func (ChainpayAdapter) Provider() models.PaymentProvider {
	return models.ProviderChainpay
}

func (ChainpayAdapter) Normalize(raw []byte) (*models.NormalizedEvent, error) {
	var p chainpayPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("chainpay: malformed payload: %w", err)
	}
	if p.Txid == "" {
		return nil, fmt.Errorf("chainpay: txid is required")
	}

	amount := decimal.Zero
	if p.Value != "" {
		var err error
		amount, err = decimal.NewFromString(p.Value.String())
		if err != nil {
			return nil, fmt.Errorf("chainpay: bad value %q: %w", p.Value, err)
		}
	}

	var ts *time.Time
	if p.CreatedAt != "" {
		t, err := time.Parse(time.RFC3339, p.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("chainpay: bad created_at %q: %w", p.CreatedAt, err)
		}
		utc := t.UTC()
		ts = &utc
	}

	required := p.RequiredConfirmations
	if required <= 0 {
		required = chainpayDefaultConfirmations
	}
	confirmed := p.Status == "confirmed" || p.Confirmations >= required

	ev := &models.NormalizedEvent{
		Provider:    models.ProviderChainpay,
		EventId:     p.EventId,
		EventType:   p.Event,
		Txid:        p.Txid,
		ReferenceId: p.OrderRef,
		Amount:      amount,
		Currency:    p.Coin,
		UserId:      p.UserId,
		Confirmed:   confirmed,
		Metadata: map[string]interface{}{
			"confirmed":              confirmed,
			"confirmations":          p.Confirmations,
			"required_confirmations": required,
		},
		RawPayload: json.RawMessage(raw),
		Timestamp:  ts,
	}
	return validateEvent(ev)
}
