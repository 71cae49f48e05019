package dedup

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()})), mr
}

func TestRedis_ReserveOnce(t *testing.T) {
	d, mr := newMiniRedis(t)
	ctx := context.Background()

	ok, err := d.Reserve(ctx, "evt_1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists(keyPrefix+"evt_1"))

	ok, err = d.Reserve(ctx, "evt_1", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_ReleaseAllowsRetry(t *testing.T) {
	d, _ := newMiniRedis(t)
	ctx := context.Background()

	_, err := d.Reserve(ctx, "evt_2", time.Hour)
	require.NoError(t, err)
	require.NoError(t, d.Release(ctx, "evt_2"))

	ok, err := d.Reserve(ctx, "evt_2", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedis_Expires(t *testing.T) {
	d, mr := newMiniRedis(t)
	ctx := context.Background()

	_, err := d.Reserve(ctx, "evt_3", time.Minute)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	ok, err := d.Reserve(ctx, "evt_3", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedis_Unreachable(t *testing.T) {
	d, mr := newMiniRedis(t)
	mr.Close()

	_, err := d.Reserve(context.Background(), "evt_4", time.Minute)
	assert.Error(t, err)
}

func TestMemory_ConcurrentReserve(t *testing.T) {
	m := NewMemory()
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := m.Reserve(context.Background(), "evt", time.Hour); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestMemory_Expiry(t *testing.T) {
	m := NewMemory()
	now := time.Now()
	m.now = func() time.Time { return now }

	ok, _ := m.Reserve(context.Background(), "evt", time.Minute)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = m.Reserve(context.Background(), "evt", time.Minute)
	assert.True(t, ok)
}
