package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &Store{client: client, ttl: 24 * time.Hour}, mr
}

func TestKeyIsStableAndFieldSensitive(t *testing.T) {
	a := Key("https://cdn.example.com/a.mp4", "everyday", "t1")
	assert.Equal(t, a, Key("https://cdn.example.com/a.mp4", "everyday", "t1"))
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, Key("https://cdn.example.com/a.mp4", "everyday", "t2"))
	assert.NotEqual(t, a, Key("https://cdn.example.com/a.mp4", "broadcast", "t1"))
}

func TestPutWritesBothIndexes(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k1", "b1", []byte(`{"id":"b1"}`), 0))

	got, ok, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"b1"}`, string(got))

	got, ok, err = store.GetByBundleID(ctx, "b1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"b1"}`, string(got))

	assert.Equal(t, 24*time.Hour, mr.TTL("idem:k1"))
	assert.Equal(t, 24*time.Hour, mr.TTL("bundle:b1"))
}

func TestEntriesExpireWithTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k1", "b1", []byte("v"), time.Hour))
	mr.FastForward(time.Hour + time.Second)

	_, ok, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = store.GetByBundleID(ctx, "b1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetReturnsErrorWhenStoreUnavailable(t *testing.T) {
	store, mr := newTestStore(t)
	mr.Close()

	_, _, err := store.Get(context.Background(), "k1")
	assert.Error(t, err)
}
