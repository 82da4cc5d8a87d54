package workflow

import (
	"context"
	"errors"
	"sync"

	"github.com/mmdatafocus/payments_backend/config"
	"github.com/mmdatafocus/payments_backend/models"
)

// TransitionRegistry maps event types to the business transition that handles
// them. The orchestrator never inspects event types itself; an unregistered
// type is the transport layer's problem.
type TransitionRegistry struct {
	mu     sync.RWMutex
	byType map[string]TransitionFunc
}

func NewTransitionRegistry() *TransitionRegistry {
	return &TransitionRegistry{byType: map[string]TransitionFunc{}}
}

func (r *TransitionRegistry) Register(eventType string, fn TransitionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[eventType] = fn
}

func (r *TransitionRegistry) For(eventType string) (TransitionFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.byType[eventType]
	return fn, ok
}

// SettleDepositTransition credits the deposit against its order. An
// unconfirmed chainpay event records a provisional settlement; the confirmed
// event is a distinct admitted transition and records the final one.
func SettleDepositTransition() TransitionFunc {
	return func(ctx context.Context, ev *models.NormalizedEvent) (interface{}, error) {
		db := config.GetDB()
		if db == nil {
			return nil, errors.New("service not ready (database not initialized)")
		}
		settlement, err := models.SettleDeposit(ctx, db, ev)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"settlement_id": settlement.ID,
			"reference_id":  settlement.ReferenceId,
			"amount":        settlement.Amount.String(),
			"currency":      settlement.Currency,
			"confirmed":     settlement.Confirmed,
			"credited_at":   settlement.CreditedAt,
		}, nil
	}
}
