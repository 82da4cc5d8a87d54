package workflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/payments_backend/config"
)

var ErrReplayRejected = errors.New("event rejected by replay guard")

// ReplayGuard validates a provider-asserted event timestamp against a
// tolerance window before any ledger interaction. A missing timestamp is a
// hard rejection: synthesizing a server-time fallback would defeat the sole
// defense against replay of a previously captured payload.
type ReplayGuard struct {
	MaxAge        time.Duration
	MaxFutureSkew time.Duration

	// now is swappable for tests.
	now func() time.Time
}

func NewReplayGuard() *ReplayGuard {
	return &ReplayGuard{
		MaxAge:        config.WebhookMaxAge(),
		MaxFutureSkew: config.WebhookMaxFutureSkew(),
		now:           time.Now,
	}
}

// Validate returns nil when now - ts falls within [-MaxFutureSkew, MaxAge].
// Pure validation; no side effects.
func (g *ReplayGuard) Validate(ts *time.Time) error {
	if ts == nil || ts.IsZero() {
		return fmt.Errorf("%w: missing event timestamp", ErrReplayRejected)
	}
	nowFn := g.now
	if nowFn == nil {
		nowFn = time.Now
	}
	age := nowFn().Sub(*ts)
	if age > g.MaxAge {
		return fmt.Errorf("%w: event is %s old (max age %s)", ErrReplayRejected, age.Truncate(time.Second), g.MaxAge)
	}
	if age < -g.MaxFutureSkew {
		return fmt.Errorf("%w: event is %s in the future (max skew %s)", ErrReplayRejected, (-age).Truncate(time.Second), g.MaxFutureSkew)
	}
	return nil
}
