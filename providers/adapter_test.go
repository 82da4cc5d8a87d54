package providers

import (
	"strconv"
	"testing"
	"time"

	"github.com/mmdatafocus/payments_backend/models"
)

func TestForName(t *testing.T) {
	for _, name := range []string{"coinpaid", "COINPAID", " Coinpaid "} {
		a, ok := ForName(name)
		if !ok {
			t.Fatalf("adapter for %q not found", name)
		}
		if a.Provider() != models.ProviderCoinpaid {
			t.Fatalf("wrong adapter for %q: %s", name, a.Provider())
		}
	}
	if _, ok := ForName("stripe"); ok {
		t.Fatal("unknown provider must not resolve")
	}
}

func TestCoinpaidNormalize(t *testing.T) {
	raw := []byte(`{
		"id": "cp-100",
		"type": "deposit.completed",
		"txn_id": "abc123",
		"order_id": "ORD-7",
		"amount": "0.50000000",
		"currency": "BTC",
		"buyer_id": 42,
		"timestamp": 1767225600
	}`)

	ev, err := CoinpaidAdapter{}.Normalize(raw)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Provider != models.ProviderCoinpaid || ev.EventId != "cp-100" || ev.EventType != "deposit.completed" {
		t.Fatalf("identity fields wrong: %+v", ev)
	}
	if ev.Txid != "abc123" || ev.ReferenceId != "ORD-7" || ev.UserId != 42 {
		t.Fatalf("correlation fields wrong: %+v", ev)
	}
	if ev.Amount.String() != "0.5" || ev.Currency != "BTC" {
		t.Fatalf("amount wrong: %s %s", ev.Amount, ev.Currency)
	}
	if !ev.Confirmed {
		t.Fatal("coinpaid events are always final")
	}
	want := time.Unix(1767225600, 0).UTC()
	if ev.Timestamp == nil || !ev.Timestamp.Equal(want) {
		t.Fatalf("timestamp wrong: %v", ev.Timestamp)
	}
	if string(ev.RawPayload) != string(raw) {
		t.Fatal("raw payload must be preserved verbatim")
	}
}

func TestCoinpaidNormalize_MissingTimestampPassesThrough(t *testing.T) {
	ev, err := CoinpaidAdapter{}.Normalize([]byte(`{"id":"cp-1","type":"deposit.completed","amount":"1"}`))
	if err != nil {
		t.Fatal(err)
	}
	// The adapter never synthesizes a timestamp; rejection is the guard's job.
	if ev.Timestamp != nil {
		t.Fatalf("expected nil timestamp, got %v", ev.Timestamp)
	}
}

func TestCoinpaidNormalize_Errors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"malformed json", `{"id":`},
		{"bad amount", `{"id":"cp-1","type":"deposit.completed","amount":"not-a-number"}`},
		{"missing event id", `{"type":"deposit.completed"}`},
		{"missing event type", `{"id":"cp-1"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := (CoinpaidAdapter{}).Normalize([]byte(tc.raw)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestChainpayNormalize_ConfirmationStates(t *testing.T) {
	cases := []struct {
		name          string
		status        string
		confirmations int
		required      int
		wantConfirmed bool
	}{
		{"pending below default threshold", "pending", 2, 0, false},
		{"reaches default threshold", "pending", 6, 0, true},
		{"explicit confirmed status", "confirmed", 0, 0, true},
		{"reaches custom threshold", "pending", 3, 3, true},
		{"below custom threshold", "pending", 2, 3, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := []byte(`{
				"event_id": "chp-1",
				"event": "payment.updated",
				"txid": "deadbeef",
				"order_ref": "ORD-9",
				"value": "1.25",
				"coin": "ETH",
				"user_id": 7,
				"status": "` + tc.status + `",
				"confirmations": ` + strconv.Itoa(tc.confirmations) + `,
				"required_confirmations": ` + strconv.Itoa(tc.required) + `,
				"created_at": "2026-03-10T12:00:00Z"
			}`)
			ev, err := ChainpayAdapter{}.Normalize(raw)
			if err != nil {
				t.Fatal(err)
			}
			if ev.Confirmed != tc.wantConfirmed {
				t.Fatalf("confirmed = %v, want %v", ev.Confirmed, tc.wantConfirmed)
			}
			if ev.Metadata["confirmed"] != tc.wantConfirmed {
				t.Fatal("metadata must mirror the confirmation flag")
			}
		})
	}
}

func TestChainpayNormalize_TxidRequired(t *testing.T) {
	_, err := ChainpayAdapter{}.Normalize([]byte(`{"event_id":"chp-1","event":"payment.updated"}`))
	if err == nil {
		t.Fatal("txid is the dedup correlation key and must be required")
	}
}

func TestChainpayNormalize_BadCreatedAt(t *testing.T) {
	_, err := ChainpayAdapter{}.Normalize([]byte(`{"event_id":"chp-1","event":"payment.updated","txid":"t","created_at":"yesterday"}`))
	if err == nil {
		t.Fatal("expected error for unparseable created_at")
	}
}

func TestBankwireNormalize(t *testing.T) {
	raw := []byte(`{
		"payment_id": "bw-55",
		"event": "transfer.received",
		"reference": "ORD-3",
		"amount": "1500.00",
		"currency": "EUR",
		"sender_name": "ACME GmbH",
		"user_id": 9,
		"transfer_date": "2026-03-10T09:30:00+02:00"
	}`)

	ev, err := BankwireAdapter{}.Normalize(raw)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Provider != models.ProviderBankwire || ev.EventId != "bw-55" {
		t.Fatalf("identity fields wrong: %+v", ev)
	}
	if !ev.Confirmed {
		t.Fatal("bank transfers are final-state")
	}
	if ev.Txid != "" {
		t.Fatal("bankwire has no txid")
	}
	if ev.Metadata["sender_name"] != "ACME GmbH" {
		t.Fatalf("sender metadata wrong: %+v", ev.Metadata)
	}
	want := time.Date(2026, 3, 10, 7, 30, 0, 0, time.UTC)
	if ev.Timestamp == nil || !ev.Timestamp.Equal(want) {
		t.Fatalf("timestamp must be normalized to UTC, got %v", ev.Timestamp)
	}
}
