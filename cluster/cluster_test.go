package cluster_test

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/creditnote-engine/cluster"
	"github.com/warp/creditnote-engine/credit"
	"github.com/warp/creditnote-engine/credit/store"
)

// Set TEST_REDIS_URL (e.g. redis://localhost:6379/15) to run these tests.
func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	rdb, err := cluster.Connect(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestConnect_InvalidURL(t *testing.T) {
	_, err := cluster.Connect(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestRedisLocker_ExcludesSecondHolder(t *testing.T) {
	rdb := newTestClient(t)
	locker := cluster.NewRedisLocker(rdb)
	locker.Prefix = "test:" + uuid.NewString() + ":"
	ctx := context.Background()

	release, err := locker.Lock(ctx, "note-1")
	require.NoError(t, err)

	// WHEN: a second caller waits briefly on the same key
	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(waitCtx, "note-1")

	// THEN: it gives up with the context error
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// AND: another key is free
	releaseOther, err := locker.Lock(ctx, "note-2")
	require.NoError(t, err)
	releaseOther()

	release()
	again, err := locker.Lock(ctx, "note-1")
	require.NoError(t, err)
	again()
}

func TestRedisLocker_WaitTimeout(t *testing.T) {
	rdb := newTestClient(t)
	locker := cluster.NewRedisLocker(rdb)
	locker.Prefix = "test:" + uuid.NewString() + ":"
	locker.Wait = 50 * time.Millisecond

	release, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer release()

	_, err = locker.Lock(context.Background(), "k")
	assert.ErrorIs(t, err, cluster.ErrLockTimeout)
}

func TestPublisher_RelaysRemoteChangesOnly(t *testing.T) {
	rdb := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local := cluster.NewPublisher(rdb, nil)
	remote := cluster.NewPublisher(rdb, nil)

	var seen atomic.Int32
	ready := make(chan struct{})
	go func() {
		close(ready)
		_ = local.Watch(ctx, func() { seen.Add(1) })
	}()
	<-ready
	time.Sleep(100 * time.Millisecond)

	// GIVEN: an engine attached to the remote publisher
	engine := credit.NewEngine(store.NewTxMemory())
	detach := remote.Attach(engine)
	defer detach()

	// WHEN: the remote engine creates a note, and the local side publishes too
	_, err := engine.Create(ctx, credit.CreateInput{ClientID: "c1", Amount: decimal.NewFromInt(10)})
	require.NoError(t, err)
	require.NoError(t, local.Publish(ctx))

	// THEN: only the remote change reaches the local callback
	assert.Eventually(t, func() bool { return seen.Load() == 1 }, 2*time.Second, 20*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, seen.Load())
}
