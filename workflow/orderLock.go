package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
)

var ErrLockNotObtained = errors.New(
	"could not obtain order lock")

// OrderLock is a held lease on an order identifier.
type OrderLock interface {
	Release(ctx context.Context) error
}

// OrderLocker grants exclusive ownership of an order identifier for the
// duration of one processing attempt, with a bounded lease. On expiry without
// release the key becomes acquirable again; the transition function's own
// persistence layer is the source of truth, not the lock.
type OrderLocker interface {
	Acquire(ctx context.Context, key string, lease time.Duration) (OrderLock, error)
}

// RedisOrderLocker is the production OrderLocker on bsm/redislock. No retry
// strategy: under contention the caller gets ErrLockNotObtained immediately
// and the provider is told to redeliver later.
type RedisOrderLocker struct {
	Client *redislock.Client
}

func (l *RedisOrderLocker) Acquire(ctx context.Context, key string, lease time.Duration) (OrderLock, error) {
	if l.Client == nil {
		return nil, errors.New("service not ready (redis lock not initialized)")
	}
	lock, err := l.Client.Obtain(ctx, key, lease, &redislock.Options{
		Metadata: uuid.NewString(),
	})
	if err == redislock.ErrNotObtained {
		return nil, ErrLockNotObtained
	}
	if err != nil {
		return nil, err
	}
	return &redisOrderLock{lock: lock}, nil
}

type redisOrderLock struct {
	lock *redislock.Lock
}

func (r *redisOrderLock) Release(ctx context.Context) error {
	return r.lock.Release(ctx)
}
