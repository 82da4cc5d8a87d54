package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/payments_backend/config"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var ErrRateUnavailable = errors.New("exchange rate unavailable")

// RateSource looks up the base->quote exchange rate from wherever rates come
// from (upstream API, rates table). Sourcing semantics are out of scope here.
type RateSource interface {
	Rate(ctx context.Context, base, quote string) (decimal.Decimal, error)
}

// RateStore is the cache tier under CachedRateSource. Rates are cached as
// plain decimal strings; the production store is redis via config, tests use
// a map.
type RateStore interface {
	Get(key string) (value string, ok bool, err error)
	Set(key string, value string, ttl time.Duration) error
}

// RateCacheKeys returns the fresh- and stale-tier cache keys for a currency
// pair. Exposed so the ops API can invalidate both tiers.
func RateCacheKeys(base, quote string) (fresh string, stale string) {
	return fmt.Sprintf("fxrate:%s:%s", base, quote),
		fmt.Sprintf("fxrate:stale:%s:%s", base, quote)
}

// CachedRateSource decorates a RateSource with an explicit two-tier cache:
// a fresh tier with TTL, and a stale tier consulted only when the source
// fails. This replaces ad-hoc in-process rate memoization; TTLs and fallback
// are visible and injected, not hidden in a package global.
type CachedRateSource struct {
	Source   RateSource
	Store    RateStore
	TTL      time.Duration
	StaleTTL time.Duration
	Logger   *logrus.Logger
}

func NewCachedRateSource(source RateSource, store RateStore) *CachedRateSource {
	return &CachedRateSource{
		Source:   source,
		Store:    store,
		TTL:      5 * time.Minute,
		StaleTTL: 24 * time.Hour,
		Logger:   config.GetLogger(),
	}
}

func (c *CachedRateSource) Rate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	freshKey, staleKey := RateCacheKeys(base, quote)

	if cached, ok, err := c.Store.Get(freshKey); err == nil && ok {
		if rate, derr := decimal.NewFromString(cached); derr == nil {
			return rate, nil
		}
	}

	rate, err := c.Source.Rate(ctx, base, quote)
	if err == nil {
		val := rate.String()
		if serr := c.Store.Set(freshKey, val, c.TTL); serr != nil {
			config.LogError(c.Logger, "workflow", "Rate", "cache fresh rate", freshKey, serr)
		}
		if serr := c.Store.Set(staleKey, val, c.StaleTTL); serr != nil {
			config.LogError(c.Logger, "workflow", "Rate", "cache stale rate", staleKey, serr)
		}
		return rate, nil
	}

	// Source down: fall back to the stale tier rather than failing the webhook.
	if stale, ok, gerr := c.Store.Get(staleKey); gerr == nil && ok {
		if rate, derr := decimal.NewFromString(stale); derr == nil {
			config.LogError(c.Logger, "workflow", "Rate", "serving stale rate",
				map[string]interface{}{"base": base, "quote": quote}, err)
			return rate, nil
		}
	}

	return decimal.Zero, fmt.Errorf("%w: %s/%s: %v", ErrRateUnavailable, base, quote, err)
}

// RedisRateStore adapts the shared redis helpers to RateStore.
type RedisRateStore struct{}

func (RedisRateStore) Get(key string) (string, bool, error) {
	return config.GetRedisValue(key)
}

func (RedisRateStore) Set(key string, value string, ttl time.Duration) error {
	return config.SetRedisValue(key, value, ttl)
}
