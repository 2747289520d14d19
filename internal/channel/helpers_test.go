package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/testutil"
)

// newSyncOp builds a single-operation SyncOperation for doc-1/public/main
// with the given ordinal.
func newSyncOp(id string, ordinal int64) *SyncOperation {
	op := testutil.Op(id, 0, 0)
	ops := testutil.WithContext([]ir.Operation{op}, "doc-1", "public", "main", ordinal)
	return NewSyncOperation(id, "", nil, "remote-1", "doc-1", []string{"public"}, "main", ops)
}

func newEnvelope(channelID string, ops ...ir.OperationWithContext) ir.SyncEnvelope {
	return ir.SyncEnvelope{
		Type:        ir.EnvelopeTypeOperations,
		ChannelMeta: ir.ChannelMeta{ID: channelID},
		Operations:  ops,
	}
}

func ids(items []*SyncOperation) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}

// memCursors is an in-memory CursorStorage recording every upsert.
type memCursors struct {
	mu      sync.Mutex
	cursors map[string]ir.RemoteCursor
	upserts []ir.RemoteCursor
	failing bool
}

func newMemCursors() *memCursors {
	return &memCursors{cursors: make(map[string]ir.RemoteCursor)}
}

func (m *memCursors) List(_ context.Context, remoteName string) ([]ir.RemoteCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ir.RemoteCursor
	for _, c := range m.cursors {
		if c.RemoteName == remoteName {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memCursors) Upsert(_ context.Context, c ir.RemoteCursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("storage unavailable")
	}
	m.cursors[fmt.Sprintf("%s/%s", c.RemoteName, c.CursorType)] = c
	m.upserts = append(m.upserts, c)
	return nil
}

func (m *memCursors) Remove(_ context.Context, remoteName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, c := range m.cursors {
		if c.RemoteName == remoteName {
			delete(m.cursors, k)
		}
	}
	return nil
}

func (m *memCursors) Upserts() []ir.RemoteCursor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ir.RemoteCursor(nil), m.upserts...)
}
