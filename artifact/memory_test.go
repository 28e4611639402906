package artifact

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T, cfg Config) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(cfg, zap.NewNop())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMemoryPutGet(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	ctx := context.Background()

	id, err := s.Put(ctx, "sess-1", []byte("mp3 bytes"), "audio/mpeg")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	art, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3 bytes"), art.Data)
	assert.Equal(t, "audio/mpeg", art.ContentType)
	assert.Equal(t, "sess-1", art.SessionID)
}

func TestMemoryGetUnknown(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryExpiry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTL = 10 * time.Millisecond
	cfg.ReapInterval = time.Hour // expiry is checked on Get, reaper stays out of the way
	s := newTestStore(t, cfg)
	ctx := context.Background()

	id, err := s.Put(ctx, "", []byte("x"), "audio/mpeg")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, s.Len())
}

func TestMemoryLRUEviction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBytes = 10
	s := newTestStore(t, cfg)
	ctx := context.Background()

	first, err := s.Put(ctx, "", []byte("aaaaa"), "audio/mpeg")
	require.NoError(t, err)
	second, err := s.Put(ctx, "", []byte("bbbbb"), "audio/mpeg")
	require.NoError(t, err)

	// Touch first so second becomes the eviction candidate.
	_, err = s.Get(ctx, first)
	require.NoError(t, err)

	_, err = s.Put(ctx, "", []byte("ccccc"), "audio/mpeg")
	require.NoError(t, err)

	_, err = s.Get(ctx, first)
	assert.NoError(t, err)
	_, err = s.Get(ctx, second)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.LessOrEqual(t, s.TotalBytes(), int64(10))
}

func TestMemoryInvalidateSession(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	ctx := context.Background()

	kept, err := s.Put(ctx, "sess-a", []byte("keep"), "audio/mpeg")
	require.NoError(t, err)
	dropped, err := s.Put(ctx, "sess-b", []byte("drop"), "audio/mpeg")
	require.NoError(t, err)

	require.NoError(t, s.InvalidateSession(ctx, "sess-b"))

	_, err = s.Get(ctx, kept)
	assert.NoError(t, err)
	_, err = s.Get(ctx, dropped)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryReaper(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTL = 5 * time.Millisecond
	cfg.ReapInterval = 10 * time.Millisecond
	s := newTestStore(t, cfg)
	ctx := context.Background()

	_, err := s.Put(ctx, "", []byte("x"), "audio/mpeg")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return s.Len() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryCloseIdempotent(t *testing.T) {
	s := NewMemoryStore(DefaultConfig(), zap.NewNop())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Put(context.Background(), "", []byte("x"), "audio/mpeg")
	assert.Error(t, err)
}
