package contextstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_LoadMissing(t *testing.T) {
	s := NewMemoryStore()

	blob, err := s.Load(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.NotNil(t, blob)
	assert.Empty(t, blob)
}

func TestMemoryStore_SaveAndLoad(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "conv-1", map[string]string{"summary": "short"}))

	blob, err := s.Load(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "short", blob["summary"])
}

func TestMemoryStore_CopiesOnReadAndWrite(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	original := map[string]string{"k": "v"}
	require.NoError(t, s.Save(ctx, "conv-1", original))
	original["k"] = "mutated after save"

	blob, err := s.Load(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "v", blob["k"])

	blob["k"] = "mutated after load"
	fresh, err := s.Load(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "v", fresh["k"])
}

func TestMemoryStore_InvalidID(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.Load(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidID)
	assert.ErrorIs(t, s.Save(context.Background(), "", nil), ErrInvalidID)
}

func setupRedisStore(t *testing.T, opts ...RedisOption) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisStore(client, opts...)
}

func TestRedisStore_LoadMissing(t *testing.T) {
	s := setupRedisStore(t)

	blob, err := s.Load(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.NotNil(t, blob)
	assert.Empty(t, blob)
}

func TestRedisStore_SaveAndLoad(t *testing.T) {
	s := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "conv-1", map[string]string{
		"styleGuide": "AP",
		"summary":    "a tale of two cities",
	}))

	blob, err := s.Load(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "AP", blob["styleGuide"])
	assert.Equal(t, "a tale of two cities", blob["summary"])
}

func TestRedisStore_LastWriterWins(t *testing.T) {
	s := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "conv-1", map[string]string{"k": "first"}))
	require.NoError(t, s.Save(ctx, "conv-1", map[string]string{"k": "second"}))

	blob, err := s.Load(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "second", blob["k"])
}

func TestRedisStore_TTLOption(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client, WithTTL(time.Minute), WithPrefix("test"))
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "conv-1", map[string]string{"k": "v"}))

	mr.FastForward(2 * time.Minute)

	blob, err := s.Load(ctx, "conv-1")
	require.NoError(t, err)
	assert.Empty(t, blob)
}
