package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSuppressor(t *testing.T, interval time.Duration) (*RedisSuppressor, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisSuppressor(client, interval, "node-1", zap.NewNop().Sugar()), mr
}

func TestRedisSuppressorArmsAtomically(t *testing.T) {
	s, _ := newTestSuppressor(t, time.Hour)
	ctx := context.Background()

	emit, err := s.ShouldEmit(ctx, "key-a")
	require.NoError(t, err)
	assert.True(t, emit)

	emit, err = s.ShouldEmit(ctx, "key-a")
	require.NoError(t, err)
	assert.False(t, emit, "second claim within the TTL loses")

	emit, _ = s.ShouldEmit(ctx, "key-b")
	assert.True(t, emit)
}

func TestRedisSuppressorTTLRearms(t *testing.T) {
	s, mr := newTestSuppressor(t, time.Minute)
	ctx := context.Background()

	emit, _ := s.ShouldEmit(ctx, "key")
	require.True(t, emit)

	mr.FastForward(2 * time.Minute)

	emit, err := s.ShouldEmit(ctx, "key")
	require.NoError(t, err)
	assert.True(t, emit, "expired key re-arms")
}

func TestRedisSuppressorRelease(t *testing.T) {
	s, _ := newTestSuppressor(t, time.Hour)
	ctx := context.Background()

	emit, _ := s.ShouldEmit(ctx, "key")
	require.True(t, emit)

	require.NoError(t, s.Release(ctx, "key"))
	emit, _ = s.ShouldEmit(ctx, "key")
	assert.True(t, emit, "released key emits immediately")
}

func TestRedisSuppressorInspect(t *testing.T) {
	s, _ := newTestSuppressor(t, time.Hour)
	ctx := context.Background()

	rec, err := s.Inspect(ctx, "key")
	require.NoError(t, err)
	assert.Nil(t, rec, "unarmed key has no record")

	_, err = s.ShouldEmit(ctx, "key")
	require.NoError(t, err)

	rec, err = s.Inspect(ctx, "key")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "key", rec.DedupeKey)
	assert.Equal(t, "node-1", rec.Node)
	assert.False(t, rec.ArmedAt.IsZero())
}

func TestRedisSuppressorSurfacesBackendErrors(t *testing.T) {
	s, mr := newTestSuppressor(t, time.Hour)
	mr.Close()

	_, err := s.ShouldEmit(context.Background(), "key")
	assert.Error(t, err, "callers decide fail-open, the suppressor reports truthfully")
}
