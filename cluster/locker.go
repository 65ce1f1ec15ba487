package cluster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/warp/creditnote-engine/credit"
)

const (
	DefaultLockTTL     = 30 * time.Second
	DefaultLockWait    = 10 * time.Second
	DefaultLockBackoff = 25 * time.Millisecond
	defaultLockPrefix  = "creditnote:lock:"
)

// ErrLockTimeout is returned when the key stayed held for the whole wait.
var ErrLockTimeout = errors.New("credit note lock not obtained")

// RedisLocker implements credit.Locker across processes.
//
// TTL bounds how long a crashed holder keeps the key. Operations are short
// (one read, one or two writes) so the default TTL is far above a normal
// critical section.
type RedisLocker struct {
	client  *redislock.Client
	TTL     time.Duration
	Wait    time.Duration
	Backoff time.Duration
	Prefix  string
}

func NewRedisLocker(rdb redis.UniversalClient) *RedisLocker {
	return &RedisLocker{
		client:  redislock.New(rdb),
		TTL:     DefaultLockTTL,
		Wait:    DefaultLockWait,
		Backoff: DefaultLockBackoff,
		Prefix:  defaultLockPrefix,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	waitCtx := ctx
	if _, ok := ctx.Deadline(); !ok && l.Wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.Wait)
		defer cancel()
	}

	lock, err := l.client.Obtain(waitCtx, l.Prefix+key, l.TTL, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(l.Backoff),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}

	return func() {
		// Release outlives the caller's ctx, which may already be done.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = lock.Release(releaseCtx)
	}, nil
}

var _ credit.Locker = (*RedisLocker)(nil)
