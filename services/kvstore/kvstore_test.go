package kvstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/backoffice/core"
)

func testStore(t *testing.T, store core.KVStore) {
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	val := []byte("123456")
	require.NoError(t, store.Set(ctx, "otp:+243810000000", val, time.Minute))
	val[0] = 'x' // the store keeps its own copy

	got, ok, err := store.Get(ctx, "otp:+243810000000")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("123456"), got)

	require.NoError(t, store.Set(ctx, "otp:+243810000000", []byte("654321"), 0))
	got, _, err = store.Get(ctx, "otp:+243810000000")
	require.NoError(t, err)
	assert.Equal(t, []byte("654321"), got, "overwritten")

	require.NoError(t, store.Delete(ctx, "otp:+243810000000"))
	_, ok, err = store.Get(ctx, "otp:+243810000000")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, store.Delete(ctx, "otp:+243810000000"), "deleting twice is fine")

	require.NoError(t, store.Set(ctx, "short", []byte("1"), 50*time.Millisecond))
	assert.Eventually(t, func() bool {
		_, ok, err := store.Get(ctx, "short")
		return err == nil && !ok
	}, 3*time.Second, 20*time.Millisecond, "expired")
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR is not set")
	}
	conf := core.NewTestConfig()
	conf.Redis.Address = addr
	conf.AppName = "backoffice-test"
	store, err := NewRedisStore(conf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	testStore(t, store)
}

func TestNew(t *testing.T) {
	conf := core.NewTestConfig()
	store, err := New(conf)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	conf.Redis.Address = "127.0.0.1:1" // nothing listens there
	_, err = New(conf)
	assert.Error(t, err)
}
