package match

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajenpan/surfmatch/core"
	xerr "github.com/ajenpan/surfmatch/core/errors"
)

func testLockerExclusive(t *testing.T, l Locker) {
	ctx := context.Background()

	lease, err := l.Lock(ctx)
	require.NoError(t, err)
	require.NoError(t, lease.Refresh(ctx))

	busy, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = l.Lock(busy)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	acquired := make(chan Lease, 1)
	go func() {
		l2, err := l.Lock(ctx)
		if assert.NoError(t, err) {
			acquired <- l2
		}
	}()

	select {
	case <-acquired:
		t.Fatal("lock acquired twice")
	case <-time.After(30 * time.Millisecond):
	}

	require.NoError(t, lease.Unlock(ctx))

	select {
	case l2 := <-acquired:
		require.NoError(t, l2.Unlock(ctx))
	case <-time.After(2 * time.Second):
		t.Fatal("lock not handed over after unlock")
	}
}

func TestLocalLocker(t *testing.T) {
	testLockerExclusive(t, NewLocalLocker())

	l := NewLocalLocker()
	lease, err := l.Lock(context.Background())
	require.NoError(t, err)
	require.NoError(t, lease.Unlock(context.Background()))
	assert.Equal(t, xerr.CodeLockLost, xerr.Code(lease.Refresh(context.Background())))
	// second unlock must not free someone else's hold
	l2, err := l.Lock(context.Background())
	require.NoError(t, err)
	require.NoError(t, lease.Unlock(context.Background()))
	assert.NoError(t, l2.Refresh(context.Background()))
}

func TestRedisLocker(t *testing.T) {
	rds := getRedisClient(t)
	testLockerExclusive(t, NewRedisLocker(rds, RedisLockerOptions{Key: "test/lock"}))
}

func TestRedisLockerExpiredLease(t *testing.T) {
	s := miniredis.RunT(t)
	rds := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rds.Close()

	ctx := context.Background()
	l := NewRedisLocker(rds, RedisLockerOptions{Key: "test/lock", TTL: time.Second})

	lease, err := l.Lock(ctx)
	require.NoError(t, err)
	require.NoError(t, lease.Refresh(ctx))

	s.FastForward(2 * time.Second)
	assert.Equal(t, xerr.CodeLockLost, xerr.Code(lease.Refresh(ctx)))

	// another holder took over; the stale lease must not release it
	other, err := l.Lock(ctx)
	require.NoError(t, err)
	assert.Equal(t, xerr.CodeLockLost, xerr.Code(lease.Unlock(ctx)))
	assert.NoError(t, other.Refresh(ctx))
	assert.NoError(t, other.Unlock(ctx))
}

func TestEtcdLocker(t *testing.T) {
	endpoints := os.Getenv("MATCH_TEST_ETCD")
	if endpoints == "" {
		t.Skip("MATCH_TEST_ETCD not set")
	}
	cli, err := core.NewEtcdClient(strings.Split(endpoints, ","), 3*time.Second)
	require.NoError(t, err)
	defer cli.Close()

	l := NewEtcdLocker(cli, "/surfmatch-test/lock/"+t.Name(), 5)
	defer l.Close()
	testLockerExclusive(t, l)
}
