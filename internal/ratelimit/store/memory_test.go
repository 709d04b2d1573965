package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_GetSet(t *testing.T) {
	s := NewMemoryStore()
	defer func() { _ = s.Close() }()

	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.True(t, IsKeyNotFound(err))

	require.NoError(t, s.Set(ctx, "k", 42, 0))

	value, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(42), value)
}

func TestMemoryStore_Expiration(t *testing.T) {
	s := NewMemoryStore()
	defer func() { _ = s.Close() }()

	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", 1, 10*time.Millisecond))

	value, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), value)

	time.Sleep(20 * time.Millisecond)

	_, err = s.Get(ctx, "k")
	assert.True(t, IsKeyNotFound(err))
}

func TestMemoryStore_Sweep(t *testing.T) {
	s := NewMemoryStoreWithCleanupInterval(10 * time.Millisecond)
	defer func() { _ = s.Close() }()

	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "short", 1, 5*time.Millisecond))
	require.NoError(t, s.Set(ctx, "long", 2, time.Hour))

	assert.Eventually(t, func() bool {
		return s.Size() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryStore_Delete(t *testing.T) {
	s := NewMemoryStore()
	defer func() { _ = s.Close() }()

	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", 1, 0))
	require.NoError(t, s.Delete(ctx, "k"))

	_, err := s.Get(ctx, "k")
	assert.True(t, IsKeyNotFound(err))
}

func TestMemoryStore_ContextCancelled(t *testing.T) {
	s := NewMemoryStore()
	defer func() { _ = s.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.Set(ctx, "k", 1, 0), context.Canceled)
	assert.ErrorIs(t, s.Delete(ctx, "k"), context.Canceled)
}

func TestMemoryStore_CloseIdempotent(t *testing.T) {
	s := NewMemoryStore()
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
