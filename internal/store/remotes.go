package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/docsync/internal/ir"
)

// ListRemotes returns every persisted remote ordered by name.
func (s *Store) ListRemotes(ctx context.Context) ([]ir.RemoteRecord, error) {
	rows, err := s.query(ctx, `
		SELECT name, id, collection_id, channel_config, remote_filter, remote_options
		FROM remotes
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query remotes: %w", err)
	}
	defer rows.Close()

	remotes := []ir.RemoteRecord{}
	for rows.Next() {
		r, err := scanRemote(rows)
		if err != nil {
			return nil, err
		}
		remotes = append(remotes, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate remotes: %w", err)
	}
	return remotes, nil
}

// GetRemote returns the remote called name, or ErrNotFound.
func (s *Store) GetRemote(ctx context.Context, name string) (ir.RemoteRecord, error) {
	row := s.queryRow(ctx, `
		SELECT name, id, collection_id, channel_config, remote_filter, remote_options
		FROM remotes
		WHERE name = ?
	`, name)
	r, err := scanRemote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.RemoteRecord{}, fmt.Errorf("remote %q: %w", name, ErrNotFound)
	}
	return r, err
}

// UpsertRemote stores a remote definition keyed by name.
func (s *Store) UpsertRemote(ctx context.Context, r ir.RemoteRecord) error {
	channelJSON, err := marshalText(r.Channel)
	if err != nil {
		return fmt.Errorf("upsert remote %s: channel config: %w", r.Name, err)
	}
	filterJSON, err := marshalText(r.Filter)
	if err != nil {
		return fmt.Errorf("upsert remote %s: filter: %w", r.Name, err)
	}
	optionsJSON, err := marshalText(r.Options)
	if err != nil {
		return fmt.Errorf("upsert remote %s: options: %w", r.Name, err)
	}

	_, err = s.exec(ctx, `
		INSERT INTO remotes (name, id, collection_id, channel_config, remote_filter, remote_options)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			id = excluded.id,
			collection_id = excluded.collection_id,
			channel_config = excluded.channel_config,
			remote_filter = excluded.remote_filter,
			remote_options = excluded.remote_options
	`, r.Name, r.ID, r.CollectionID, channelJSON, filterJSON, optionsJSON)
	if err != nil {
		return fmt.Errorf("upsert remote %s: %w", r.Name, err)
	}
	return nil
}

// RemoveRemote deletes a remote and its cursors. Removing an unknown remote
// is not an error.
func (s *Store) RemoveRemote(ctx context.Context, name string) error {
	err := s.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cursors WHERE remote_name = ?`, name); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM remotes WHERE name = ?`, name)
		return err
	})
	if err != nil {
		return fmt.Errorf("remove remote %s: %w", name, err)
	}
	return nil
}

func scanRemote(row rowScanner) (ir.RemoteRecord, error) {
	var (
		r                                     ir.RemoteRecord
		channelJSON, filterJSON, optionsJSON string
	)
	if err := row.Scan(&r.Name, &r.ID, &r.CollectionID, &channelJSON, &filterJSON, &optionsJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.RemoteRecord{}, err
		}
		return ir.RemoteRecord{}, fmt.Errorf("scan remote: %w", err)
	}
	if err := unmarshalText(channelJSON, &r.Channel); err != nil {
		return ir.RemoteRecord{}, fmt.Errorf("remote %s channel config: %w", r.Name, err)
	}
	if err := unmarshalText(filterJSON, &r.Filter); err != nil {
		return ir.RemoteRecord{}, fmt.Errorf("remote %s filter: %w", r.Name, err)
	}
	if err := unmarshalText(optionsJSON, &r.Options); err != nil {
		return ir.RemoteRecord{}, fmt.Errorf("remote %s options: %w", r.Name, err)
	}
	return r, nil
}
