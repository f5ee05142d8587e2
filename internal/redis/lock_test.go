package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockerIsExclusiveUntilReleased(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	locker := NewLocker(client)

	token, ok, err := locker.TryLock(ctx, "lock:sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, "lock:sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, locker.Release(ctx, "lock:sweep", "someone-else"))
	assert.True(t, mr.Exists("lock:sweep"))

	require.NoError(t, locker.Release(ctx, "lock:sweep", token))
	assert.False(t, mr.Exists("lock:sweep"))
}

func TestLockerLeaseExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	locker := NewLocker(client)

	_, ok, err := locker.TryLock(ctx, "lock:sweep", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = locker.TryLock(ctx, "lock:sweep", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}
