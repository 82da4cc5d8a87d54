package providers

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mmdatafocus/payments_backend/models"
	"github.com/shopspring/decimal"
)

// CoinpaidAdapter handles the Coinpaid crypto processor. Coinpaid delivers a
// single final event per deposit and retries it under the same event id, so
// dedup is plain (provider, event_id).
type CoinpaidAdapter struct{}

type coinpaidPayload struct {
	Id        string      `json:"id"`
	Type      string      `json:"type"`
	TxnId     string      `json:"txn_id"`
	OrderId   string      `json:"order_id"`
	Amount    json.Number `json:"amount"`
	Currency  string      `json:"currency"`
	BuyerId   int         `json:"buyer_id"`
	Timestamp int64       `json:"timestamp"` // unix seconds
}

func (CoinpaidAdapter) Provider() models.PaymentProvider {
	return models.ProviderCoinpaid
}

func (CoinpaidAdapter) Normalize(raw []byte) (*models.NormalizedEvent, error) {
	var p coinpaidPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("coinpaid: malformed payload: %w", err)
	}

	amount := decimal.Zero
	if p.Amount != "" {
		var err error
		amount, err = decimal.NewFromString(p.Amount.String())
		if err != nil {
			return nil, fmt.Errorf("coinpaid: bad amount %q: %w", p.Amount, err)
		}
	}

	var ts *time.Time
	if p.Timestamp > 0 {
		t := time.Unix(p.Timestamp, 0).UTC()
		ts = &t
	}

	ev := &models.NormalizedEvent{
		Provider:    models.ProviderCoinpaid,
		EventId:     p.Id,
		EventType:   p.Type,
		Txid:        p.TxnId,
		ReferenceId: p.OrderId,
		Amount:      amount,
		Currency:    p.Currency,
		UserId:      p.BuyerId,
		Confirmed:   true,
		RawPayload:  json.RawMessage(raw),
		Timestamp:   ts,
	}
	return validateEvent(ev)
}
