package models

import (
	"testing"
)

func TestClassifyConfirmationTransition(t *testing.T) {
	cases := []struct {
		name string
		prev bool
		curr bool
		want ConfirmationTransition
	}{
		{"unconfirmed to confirmed", false, true, ConfirmationAdmitted},
		{"confirmed to unconfirmed", true, false, ConfirmationBackward},
		{"unconfirmed redelivery", false, false, ConfirmationSameState},
		{"confirmed redelivery", true, true, ConfirmationSameState},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyConfirmationTransition(tc.prev, tc.curr); got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestDedupStrategy(t *testing.T) {
	if ProviderChainpay.DedupStrategy() != DedupConfirmationState {
		t.Fatal("chainpay must use confirmation-state dedup")
	}
	if ProviderCoinpaid.DedupStrategy() != DedupFinalState {
		t.Fatal("coinpaid must use final-state dedup")
	}
	if ProviderBankwire.DedupStrategy() != DedupFinalState {
		t.Fatal("bankwire must use final-state dedup")
	}
}

func TestProviderValid(t *testing.T) {
	for _, p := range []PaymentProvider{ProviderCoinpaid, ProviderChainpay, ProviderBankwire} {
		if !p.Valid() {
			t.Fatalf("%s must be valid", p)
		}
	}
	if PaymentProvider("STRIPE").Valid() {
		t.Fatal("unknown provider must be invalid")
	}
}

func strPtr(s string) *string { return &s }

func TestClassifyRow(t *testing.T) {
	ledger := &WebhookEventLedger{MaxRetries: 1}

	cases := []struct {
		name       string
		row        WebhookEvent
		want       CheckOutcome
		wantReason string
	}{
		{
			name: "completed is a terminal duplicate",
			row:  WebhookEvent{ID: 1, Status: WebhookEventStatusCompleted},
			want: CheckOutcomeDuplicate,
		},
		{
			name: "processing is in flight",
			row:  WebhookEvent{ID: 2, Status: WebhookEventStatusProcessing},
			want: CheckOutcomeInFlight,
		},
		{
			name: "failed within budget is retryable",
			row:  WebhookEvent{ID: 3, Status: WebhookEventStatusFailed, RetryCount: 0, ErrorMessage: strPtr("timeout")},
			want: CheckOutcomeRetryable,
		},
		{
			name:       "failed over budget is terminal",
			row:        WebhookEvent{ID: 4, Status: WebhookEventStatusFailed, RetryCount: 1, ErrorMessage: strPtr("timeout")},
			want:       CheckOutcomeDuplicate,
			wantReason: "retry budget exhausted",
		},
		{
			name: "lock contention stays retryable regardless of budget",
			row:  WebhookEvent{ID: 5, Status: WebhookEventStatusFailed, RetryCount: 5, ErrorMessage: strPtr(LockContentionError)},
			want: CheckOutcomeRetryable,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := ledger.classifyRow(&tc.row)
			if res.Outcome != tc.want {
				t.Fatalf("got %s, want %s", res.Outcome, tc.want)
			}
			if res.Reason != tc.wantReason {
				t.Fatalf("got reason %q, want %q", res.Reason, tc.wantReason)
			}
			if res.ExistingId != tc.row.ID {
				t.Fatalf("classification must carry the row id")
			}
		})
	}
}

func TestSettlementKey(t *testing.T) {
	// Two chainpay deliveries of the same confirmed transition under distinct
	// event ids must collide on the settlement table's unique key.
	a := &NormalizedEvent{Provider: ProviderChainpay, EventId: "EV-a", Txid: "T1", Confirmed: true}
	b := &NormalizedEvent{Provider: ProviderChainpay, EventId: "EV-b", Txid: "T1", Confirmed: true}
	if a.SettlementKey() != b.SettlementKey() {
		t.Fatalf("same confirmed transition must share a key: %s vs %s", a.SettlementKey(), b.SettlementKey())
	}

	// Unconfirmed and confirmed are distinct transitions of the same txid.
	unconf := &NormalizedEvent{Provider: ProviderChainpay, EventId: "EV-c", Txid: "T1", Confirmed: false}
	if unconf.SettlementKey() == a.SettlementKey() {
		t.Fatal("unconfirmed and confirmed must settle under distinct keys")
	}

	// Final-state providers settle per event id.
	c1 := &NormalizedEvent{Provider: ProviderCoinpaid, EventId: "E1", Txid: "T1", Confirmed: true}
	c2 := &NormalizedEvent{Provider: ProviderCoinpaid, EventId: "E2", Txid: "T1", Confirmed: true}
	if c1.SettlementKey() == c2.SettlementKey() {
		t.Fatal("final-state providers must not collide across event ids")
	}
}

func TestLockKey(t *testing.T) {
	ev := &NormalizedEvent{Provider: ProviderCoinpaid, EventId: "E1", Txid: "T1", ReferenceId: "ORD-1"}
	if ev.LockKey() != "order:ORD-1" {
		t.Fatalf("order reference must win: %s", ev.LockKey())
	}
	ev.ReferenceId = ""
	if ev.LockKey() != "txid:COINPAID:T1" {
		t.Fatalf("txid is the fallback: %s", ev.LockKey())
	}
	ev.Txid = ""
	if ev.LockKey() != "event:COINPAID:E1" {
		t.Fatalf("event id is the last resort: %s", ev.LockKey())
	}
}
