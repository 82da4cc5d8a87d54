package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/payments_backend/config"
	"github.com/shopspring/decimal"
)

type scriptedSource struct {
	mu    sync.Mutex
	rate  decimal.Decimal
	err   error
	calls int
}

func (s *scriptedSource) Rate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.rate, s.err
}

type mapStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMapStore() *mapStore { return &mapStore{data: map[string]string{}} }

func (s *mapStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return "", false, nil
	}
	return v, true, nil
}

func (s *mapStore) Set(key string, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *mapStore) drop(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

func newTestRateSource(source RateSource, store RateStore) *CachedRateSource {
	return &CachedRateSource{
		Source:   source,
		Store:    store,
		TTL:      5 * time.Minute,
		StaleTTL: 24 * time.Hour,
		Logger:   config.GetLogger(),
	}
}

func TestCachedRateSource_CacheHitSkipsSource(t *testing.T) {
	source := &scriptedSource{rate: decimal.RequireFromString("1.0850")}
	store := newMapStore()
	c := newTestRateSource(source, store)

	first, err := c.Rate(context.Background(), "EUR", "USD")
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Rate(context.Background(), "EUR", "USD")
	if err != nil {
		t.Fatal(err)
	}
	if !first.Equal(second) {
		t.Fatalf("cached rate %s differs from sourced rate %s", second, first)
	}
	if source.calls != 1 {
		t.Fatalf("expected 1 source call, got %d", source.calls)
	}
}

func TestCachedRateSource_StaleFallbackWhenSourceDown(t *testing.T) {
	source := &scriptedSource{rate: decimal.RequireFromString("1.0850")}
	store := newMapStore()
	c := newTestRateSource(source, store)

	if _, err := c.Rate(context.Background(), "EUR", "USD"); err != nil {
		t.Fatal(err)
	}

	// Fresh tier expired, source down: the stale tier must answer.
	fresh, _ := RateCacheKeys("EUR", "USD")
	store.drop(fresh)
	source.err = errors.New("upstream 503")

	rate, err := c.Rate(context.Background(), "EUR", "USD")
	if err != nil {
		t.Fatalf("expected stale fallback, got %v", err)
	}
	if rate.String() != "1.085" {
		t.Fatalf("stale rate wrong: %s", rate)
	}
}

func TestCachedRateSource_UnavailableWhenNoTierAnswers(t *testing.T) {
	source := &scriptedSource{err: errors.New("upstream 503")}
	c := newTestRateSource(source, newMapStore())

	_, err := c.Rate(context.Background(), "EUR", "USD")
	if !errors.Is(err, ErrRateUnavailable) {
		t.Fatalf("expected ErrRateUnavailable, got %v", err)
	}
}

func TestCachedRateSource_DistinctPairsDistinctKeys(t *testing.T) {
	source := &scriptedSource{rate: decimal.RequireFromString("2")}
	store := newMapStore()
	c := newTestRateSource(source, store)

	if _, err := c.Rate(context.Background(), "EUR", "USD"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Rate(context.Background(), "GBP", "USD"); err != nil {
		t.Fatal(err)
	}
	if source.calls != 2 {
		t.Fatalf("pairs must not share cache entries, got %d source calls", source.calls)
	}
}
