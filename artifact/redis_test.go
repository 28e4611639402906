package artifact

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRedisTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	s, err := NewRedisStore(RedisConfig{Addr: mr.Addr()}, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisPutGet(t *testing.T) {
	s, _ := newRedisTestStore(t)
	ctx := context.Background()

	id, err := s.Put(ctx, "sess-1", []byte{0x49, 0x44, 0x33}, "audio/mpeg")
	require.NoError(t, err)

	art, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x49, 0x44, 0x33}, art.Data)
	assert.Equal(t, "audio/mpeg", art.ContentType)
	assert.Equal(t, "sess-1", art.SessionID)
	assert.False(t, art.CreatedAt.IsZero())
}

func TestRedisGetMissing(t *testing.T) {
	s, _ := newRedisTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisTTLExpiry(t *testing.T) {
	s, mr := newRedisTestStore(t)
	ctx := context.Background()

	id, err := s.Put(ctx, "", []byte("x"), "audio/mpeg")
	require.NoError(t, err)

	mr.FastForward(6 * time.Minute)

	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisInvalidateSession(t *testing.T) {
	s, _ := newRedisTestStore(t)
	ctx := context.Background()

	a, err := s.Put(ctx, "sess-x", []byte("a"), "audio/mpeg")
	require.NoError(t, err)
	b, err := s.Put(ctx, "sess-x", []byte("b"), "audio/mpeg")
	require.NoError(t, err)
	other, err := s.Put(ctx, "sess-y", []byte("c"), "audio/mpeg")
	require.NoError(t, err)

	require.NoError(t, s.InvalidateSession(ctx, "sess-x"))

	_, err = s.Get(ctx, a)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, b)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, other)
	assert.NoError(t, err)
}

func TestRedisClosedStoreErrors(t *testing.T) {
	s, _ := newRedisTestStore(t)
	require.NoError(t, s.Close())

	_, err := s.Put(context.Background(), "", []byte("x"), "audio/mpeg")
	assert.Error(t, err)
}
