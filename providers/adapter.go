// Package providers maps raw webhook payloads to the normalized event
// descriptor. Each provider gets an explicit adapter; there is no generic
// "first field present wins" extraction, so adding a provider means adding an
// adapter, never touching the orchestrator.
package providers

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/payments_backend/models"
)

type Adapter interface {
	Provider() models.PaymentProvider
	// Normalize maps the raw payload to a NormalizedEvent. It never fills in
	// a missing timestamp; the replay guard decides what to do about that.
	Normalize(raw []byte) (*models.NormalizedEvent, error)
}

var validate = validator.New()

var registry = map[string]Adapter{}

func register(a Adapter) {
	registry[strings.ToLower(string(a.Provider()))] = a
}

func init() {
	register(CoinpaidAdapter{})
	register(ChainpayAdapter{})
	register(BankwireAdapter{})
}

// ForName resolves the adapter for a URL path segment like "coinpaid".
func ForName(name string) (Adapter, bool) {
	a, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	return a, ok
}

func validateEvent(ev *models.NormalizedEvent) (*models.NormalizedEvent, error) {
	if err := validate.Struct(ev); err != nil {
		return nil, fmt.Errorf("invalid %s event: %w", ev.Provider, err)
	}
	return ev, nil
}
