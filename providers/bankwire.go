package providers

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mmdatafocus/payments_backend/models"
	"github.com/shopspring/decimal"
)

// BankwireAdapter handles the bank-transfer processor. One final event per
// transfer; the bank reference doubles as the correlation key.
type BankwireAdapter struct{}

type bankwirePayload struct {
	PaymentId    string      `json:"payment_id"`
	Event        string      `json:"event"`
	Reference    string      `json:"reference"`
	Amount       json.Number `json:"amount"`
	Currency     string      `json:"currency"`
	SenderName   string      `json:"sender_name"`
	UserId       int         `json:"user_id"`
	TransferDate string      `json:"transfer_date"` // RFC3339
}

func (BankwireAdapter) Provider() models.PaymentProvider {
	return models.ProviderBankwire
}

func (BankwireAdapter) Normalize(raw []byte) (*models.NormalizedEvent, error) {
	var p bankwirePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("bankwire: malformed payload: %w", err)
	}

	amount := decimal.Zero
	if p.Amount != "" {
		var err error
		amount, err = decimal.NewFromString(p.Amount.String())
		if err != nil {
			return nil, fmt.Errorf("bankwire: bad amount %q: %w", p.Amount, err)
		}
	}

	var ts *time.Time
	if p.TransferDate != "" {
		t, err := time.Parse(time.RFC3339, p.TransferDate)
		if err != nil {
			return nil, fmt.Errorf("bankwire: bad transfer_date %q: %w", p.TransferDate, err)
		}
		utc := t.UTC()
		ts = &utc
	}

	var metadata map[string]interface{}
	if p.SenderName != "" {
		metadata = map[string]interface{}{"sender_name": p.SenderName}
	}

	ev := &models.NormalizedEvent{
		Provider:    models.ProviderBankwire,
		EventId:     p.PaymentId,
		EventType:   p.Event,
		ReferenceId: p.Reference,
		Amount:      amount,
		Currency:    p.Currency,
		UserId:      p.UserId,
		Confirmed:   true,
		Metadata:    metadata,
		RawPayload:  json.RawMessage(raw),
		Timestamp:   ts,
	}
	return validateEvent(ev)
}
