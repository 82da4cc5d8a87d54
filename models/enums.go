package models

// PaymentProvider identifies the source system of a webhook event.
type PaymentProvider string

const (
	// ProviderCoinpaid is a crypto processor that delivers one final event per payment.
	ProviderCoinpaid PaymentProvider = "COINPAID"
	// ProviderChainpay is a crypto processor that delivers an unconfirmed event
	// first and a confirmed event once the transaction has enough confirmations.
	ProviderChainpay PaymentProvider = "CHAINPAY"
	// ProviderBankwire is the bank-transfer processor (final-state delivery).
	ProviderBankwire PaymentProvider = "BANKWIRE"
)

func (p PaymentProvider) Valid() bool {
	switch p {
	case ProviderCoinpaid, ProviderChainpay, ProviderBankwire:
		return true
	}
	return false
}

// DedupStrategy selects how the ledger matches an inbound event against
// existing rows.
type DedupStrategy string

const (
	// DedupFinalState: one logical event per (provider, event_id).
	DedupFinalState DedupStrategy = "FINAL_STATE"
	// DedupConfirmationState: events correlate on txid and progress through
	// confirmation states; comparison is state-aware.
	DedupConfirmationState DedupStrategy = "CONFIRMATION_STATE"
)

func (p PaymentProvider) DedupStrategy() DedupStrategy {
	if p == ProviderChainpay {
		return DedupConfirmationState
	}
	return DedupFinalState
}

// ConfirmationTransition classifies the direction of a confirmation-state
// change between the latest ledger row for a txid and a new event.
type ConfirmationTransition string

const (
	// ConfirmationAdmitted: unconfirmed -> confirmed, a distinct admitted transition.
	ConfirmationAdmitted ConfirmationTransition = "ADMITTED"
	// ConfirmationSameState: redelivery at the same confirmation level
	// (possibly under a fresh event id); resolved by the row's status.
	ConfirmationSameState ConfirmationTransition = "SAME_STATE"
	// ConfirmationBackward: confirmed -> unconfirmed, always invalid.
	ConfirmationBackward ConfirmationTransition = "BACKWARD"
)

func ClassifyConfirmationTransition(prevConfirmed, currConfirmed bool) ConfirmationTransition {
	switch {
	case !prevConfirmed && currConfirmed:
		return ConfirmationAdmitted
	case prevConfirmed && !currConfirmed:
		return ConfirmationBackward
	default:
		return ConfirmationSameState
	}
}
