package store

import (
	"context"
	"fmt"

	"github.com/roach88/docsync/internal/consistency"
	"github.com/roach88/docsync/internal/ir"
)

// SaveConsistency replaces the stored tracker snapshot.
func (s *Store) SaveConsistency(ctx context.Context, entries []consistency.Entry) error {
	err := s.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM consistency`); err != nil {
			return err
		}
		for _, e := range entries {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO consistency (consistency_key, operation_index) VALUES (?, ?)
			`, string(e.Key), e.Index); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save consistency snapshot: %w", err)
	}
	return nil
}

// LoadConsistency returns the stored tracker snapshot ordered by key.
func (s *Store) LoadConsistency(ctx context.Context) ([]consistency.Entry, error) {
	rows, err := s.query(ctx, `
		SELECT consistency_key, operation_index FROM consistency ORDER BY consistency_key ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query consistency snapshot: %w", err)
	}
	defer rows.Close()

	entries := []consistency.Entry{}
	for rows.Next() {
		var (
			key string
			e   consistency.Entry
		)
		if err := rows.Scan(&key, &e.Index); err != nil {
			return nil, fmt.Errorf("scan consistency entry: %w", err)
		}
		e.Key = ir.ConsistencyKey(key)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consistency snapshot: %w", err)
	}
	return entries, nil
}
