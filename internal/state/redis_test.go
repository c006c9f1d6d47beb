package state

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedis(client)
}

func TestRedisStore_SetGetTake(t *testing.T) {
	ctx := context.Background()
	_, s := newTestRedis(t)

	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Nil(t, v)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	v, err = s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)

	v, err = s.Take(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)

	v, err = s.Take(ctx, "k")
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestRedisStore_Expiry(t *testing.T) {
	ctx := context.Background()
	mr, s := newTestRedis(t)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	mr.FastForward(time.Minute)
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestRedisStore_Delete(t *testing.T) {
	ctx := context.Background()
	_, s := newTestRedis(t)
	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Hour))
	require.NoError(t, s.Delete(ctx, "k"))
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestRedisStore_BackendError(t *testing.T) {
	ctx := context.Background()
	mr, s := newTestRedis(t)
	mr.SetError("server down")

	_, err := s.Get(ctx, "k")
	require.Error(t, err)
	_, err = s.Take(ctx, "k")
	require.Error(t, err)
}
