package store

import (
	"context"
	"fmt"

	"github.com/roach88/docsync/internal/ir"
)

// CursorStore persists remote mailbox cursors in the store's database.
// It satisfies channel.CursorStorage.
type CursorStore struct {
	s *Store
}

// Cursors returns the store's cursor table.
func (s *Store) Cursors() *CursorStore {
	return &CursorStore{s: s}
}

// List returns the cursors stored for remoteName, inbox first.
func (c *CursorStore) List(ctx context.Context, remoteName string) ([]ir.RemoteCursor, error) {
	rows, err := c.s.query(ctx, `
		SELECT remote_name, cursor_type, cursor_ordinal, last_synced_at_utc_ms
		FROM cursors
		WHERE remote_name = ?
		ORDER BY cursor_type ASC
	`, remoteName)
	if err != nil {
		return nil, fmt.Errorf("query cursors: %w", err)
	}
	defer rows.Close()

	cursors := []ir.RemoteCursor{}
	for rows.Next() {
		var cur ir.RemoteCursor
		if err := rows.Scan(&cur.RemoteName, &cur.CursorType, &cur.CursorOrdinal, &cur.LastSyncedAtUtcMs); err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		cursors = append(cursors, cur)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cursors: %w", err)
	}
	return cursors, nil
}

// Upsert writes a cursor, replacing any stored value for the same remote
// and cursor type.
func (c *CursorStore) Upsert(ctx context.Context, cur ir.RemoteCursor) error {
	_, err := c.s.exec(ctx, `
		INSERT INTO cursors (remote_name, cursor_type, cursor_ordinal, last_synced_at_utc_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(remote_name, cursor_type) DO UPDATE SET
			cursor_ordinal = excluded.cursor_ordinal,
			last_synced_at_utc_ms = excluded.last_synced_at_utc_ms
	`, cur.RemoteName, string(cur.CursorType), cur.CursorOrdinal, cur.LastSyncedAtUtcMs)
	if err != nil {
		return fmt.Errorf("upsert %s cursor for %s: %w", cur.CursorType, cur.RemoteName, err)
	}
	return nil
}

// Remove deletes every cursor of remoteName.
func (c *CursorStore) Remove(ctx context.Context, remoteName string) error {
	if _, err := c.s.exec(ctx, `DELETE FROM cursors WHERE remote_name = ?`, remoteName); err != nil {
		return fmt.Errorf("remove cursors for %s: %w", remoteName, err)
	}
	return nil
}
