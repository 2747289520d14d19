package cursors

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docsync/internal/channel"
	"github.com/roach88/docsync/internal/ir"
)

var _ channel.CursorStorage = (*RedisStore)(nil)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestNewRedisStore(t *testing.T) {
	s, _ := setupTestRedis(t)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestNewRedisStore_BadURL(t *testing.T) {
	_, err := NewRedisStore(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisStore(context.Background(), "redis://"+addr)
	assert.Error(t, err)
}

func TestRedisStore_UpsertAndList(t *testing.T) {
	s, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, ir.RemoteCursor{RemoteName: "r1", CursorType: ir.CursorOutbox, CursorOrdinal: 4}))
	require.NoError(t, s.Upsert(ctx, ir.RemoteCursor{RemoteName: "r1", CursorType: ir.CursorInbox, CursorOrdinal: 2, LastSyncedAtUtcMs: 99}))
	require.NoError(t, s.Upsert(ctx, ir.RemoteCursor{RemoteName: "r1", CursorType: ir.CursorOutbox, CursorOrdinal: 7}))

	got, err := s.List(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []ir.RemoteCursor{
		{RemoteName: "r1", CursorType: ir.CursorInbox, CursorOrdinal: 2, LastSyncedAtUtcMs: 99},
		{RemoteName: "r1", CursorType: ir.CursorOutbox, CursorOrdinal: 7},
	}, got)

	assert.True(t, mr.Exists("docsync:cursors:r1"))
}

func TestRedisStore_ListUnknownRemote(t *testing.T) {
	s, _ := setupTestRedis(t)

	got, err := s.List(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisStore_Remove(t *testing.T) {
	s, _ := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, ir.RemoteCursor{RemoteName: "r1", CursorType: ir.CursorInbox, CursorOrdinal: 1}))
	require.NoError(t, s.Upsert(ctx, ir.RemoteCursor{RemoteName: "r2", CursorType: ir.CursorInbox, CursorOrdinal: 1}))
	require.NoError(t, s.Remove(ctx, "r1"))

	got, err := s.List(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.List(ctx, "r2")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRedisStore_RejectsUnknownType(t *testing.T) {
	s, _ := setupTestRedis(t)
	err := s.Upsert(context.Background(), ir.RemoteCursor{RemoteName: "r1", CursorType: "sideways"})
	assert.Error(t, err)
}

func TestRedisStore_CorruptValue(t *testing.T) {
	s, mr := setupTestRedis(t)
	mr.HSet("docsync:cursors:r1", "inbox", "{not json")

	_, err := s.List(context.Background(), "r1")
	assert.Error(t, err)
}

func TestRedisStore_WithPrefix(t *testing.T) {
	s, mr := setupTestRedis(t)
	ctx := context.Background()
	other := s.WithPrefix("tenant-b:")

	require.NoError(t, other.Upsert(ctx, ir.RemoteCursor{RemoteName: "r1", CursorType: ir.CursorInbox, CursorOrdinal: 5}))
	assert.True(t, mr.Exists("tenant-b:r1"))

	got, err := s.List(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisStore_DrivesChannelCursors(t *testing.T) {
	s, _ := setupTestRedis(t)
	ctx := context.Background()

	var sent []ir.SyncEnvelope
	ch := channel.NewInternalChannel("channel-1", "remote-1", s, func(env ir.SyncEnvelope) error {
		sent = append(sent, env)
		return nil
	})
	require.NoError(t, ch.Init(ctx))
	require.NoError(t, ch.UpdateCursor(ctx, 12))

	got, err := s.List(ctx, "remote-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ir.CursorInbox, got[0].CursorType)
	assert.Equal(t, int64(12), got[0].CursorOrdinal)
}
