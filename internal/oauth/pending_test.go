package oauth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPendingStore_SingleUse(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryPendingStore()
	issued := time.Now()

	require.NoError(t, s.Put(ctx, "n1", issued, time.Minute))
	assert.Error(t, s.Put(ctx, "n1", issued, time.Minute))

	got, ok, err := s.Take(ctx, "n1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, got.Equal(issued))

	_, ok, err = s.Take(ctx, "n1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryPendingStore_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := NewMemoryPendingStore()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Put(ctx, "n1", now, 10*time.Minute))
	require.NoError(t, s.Put(ctx, "n2", now, time.Hour))
	assert.Equal(t, 2, s.Len())

	now = now.Add(10 * time.Minute)
	assert.Equal(t, 1, s.Len())
	_, ok, _ := s.Take(ctx, "n1")
	assert.False(t, ok)
	_, ok, _ = s.Take(ctx, "n2")
	assert.True(t, ok)
}

func newRedisPendingStore(t *testing.T) (*RedisPendingStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisPendingStore(client), mr
}

func TestRedisPendingStore_SingleUse(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisPendingStore(t)
	issued := time.Unix(0, time.Now().UnixNano())

	require.NoError(t, s.Put(ctx, "n1", issued, time.Minute))
	assert.ErrorIs(t, s.Put(ctx, "n1", issued, time.Minute), errNonceExists)
	assert.True(t, mr.Exists("oauth:pending:n1"))

	got, ok, err := s.Take(ctx, "n1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, got.Equal(issued))
	assert.False(t, mr.Exists("oauth:pending:n1"))

	_, ok, err = s.Take(ctx, "n1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.Take(ctx, "never-issued")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisPendingStore_Expiry(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisPendingStore(t)

	require.NoError(t, s.Put(ctx, "n1", time.Now(), 10*time.Minute))
	mr.FastForward(11 * time.Minute)

	_, ok, err := s.Take(ctx, "n1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisPendingStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisPendingStore(t)
	mr.Close()

	assert.Error(t, s.Put(ctx, "n1", time.Now(), time.Minute))
	_, _, err := s.Take(ctx, "n1")
	assert.Error(t, err)
}
