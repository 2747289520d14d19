package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/docsync/internal/ir"
)

// IndexerState is the indexer's resume position.
type IndexerState struct {
	LastOperationID        int64
	LastOperationTimestamp string
}

// RelationshipFilter selects relationships. Empty fields match everything.
//
// With Undirected set and both ends given, edges in either direction match.
type RelationshipFilter struct {
	SourceID   string
	TargetID   string
	Types      []string
	Undirected bool
}

// EnsureDocument inserts a document node if it does not exist.
func (t *Tx) EnsureDocument(ctx context.Context, id string) error {
	if _, err := t.ExecContext(ctx, `
		INSERT INTO documents (id) VALUES (?)
		ON CONFLICT(id) DO NOTHING
	`, id); err != nil {
		return fmt.Errorf("ensure document %s: %w", id, err)
	}
	return nil
}

// InsertRelationship inserts an edge unless one with the same source,
// target and type exists. Both documents must exist. Reports whether a row
// was inserted.
func (t *Tx) InsertRelationship(ctx context.Context, rel ir.DocumentRelationship) (bool, error) {
	metadata, err := marshalMetadata(rel.Metadata)
	if err != nil {
		return false, err
	}
	res, err := t.ExecContext(ctx, `
		INSERT INTO document_relationships
		(id, source_id, target_id, relationship_type, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id, relationship_type) DO NOTHING
	`,
		rel.ID,
		rel.SourceID,
		rel.TargetID,
		rel.RelationshipType,
		metadata,
		rel.CreatedAt.UnixMilli(),
		rel.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("insert relationship %s-%s->%s: %w", rel.SourceID, rel.RelationshipType, rel.TargetID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert relationship: rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteRelationship removes an edge. Reports whether one existed.
func (t *Tx) DeleteRelationship(ctx context.Context, sourceID, targetID, relType string) (bool, error) {
	res, err := t.ExecContext(ctx, `
		DELETE FROM document_relationships
		WHERE source_id = ? AND target_id = ? AND relationship_type = ?
	`, sourceID, targetID, relType)
	if err != nil {
		return false, fmt.Errorf("delete relationship %s-%s->%s: %w", sourceID, relType, targetID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete relationship: rows affected: %w", err)
	}
	return n > 0, nil
}

// SaveIndexerState records the indexer's resume position.
func (t *Tx) SaveIndexerState(ctx context.Context, state IndexerState) error {
	if _, err := t.ExecContext(ctx, `
		INSERT INTO indexer_state (id, last_operation_id, last_operation_timestamp)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_operation_id = excluded.last_operation_id,
			last_operation_timestamp = excluded.last_operation_timestamp
	`, state.LastOperationID, state.LastOperationTimestamp); err != nil {
		return fmt.Errorf("save indexer state: %w", err)
	}
	return nil
}

// GetIndexerState returns the stored resume position. ok is false when the
// indexer has never committed a batch.
func (s *Store) GetIndexerState(ctx context.Context) (state IndexerState, ok bool, err error) {
	err = s.queryRow(ctx, `
		SELECT last_operation_id, last_operation_timestamp FROM indexer_state WHERE id = 1
	`).Scan(&state.LastOperationID, &state.LastOperationTimestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return IndexerState{}, false, nil
	}
	if err != nil {
		return IndexerState{}, false, fmt.Errorf("get indexer state: %w", err)
	}
	return state, true, nil
}

// ListRelationships returns matching relationships in creation order.
// limit <= 0 returns everything from offset on.
func (s *Store) ListRelationships(ctx context.Context, f RelationshipFilter, offset, limit int) ([]ir.DocumentRelationship, error) {
	where, args := f.where()
	query := `
		SELECT id, source_id, target_id, relationship_type, metadata, created_at, updated_at
		FROM document_relationships` + where + `
		ORDER BY created_at ASC, id ASC`
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	} else if offset > 0 {
		// SQLite requires LIMIT before OFFSET; -1 means unbounded there, and
		// Postgres accepts LIMIT ALL.
		if s.driver == DriverPostgres {
			query += ` LIMIT ALL OFFSET ?`
		} else {
			query += ` LIMIT -1 OFFSET ?`
		}
		args = append(args, offset)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query relationships: %w", err)
	}
	defer rows.Close()

	rels := []ir.DocumentRelationship{}
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		rels = append(rels, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relationships: %w", err)
	}
	return rels, nil
}

// HasRelationship reports whether any relationship matches f.
func (s *Store) HasRelationship(ctx context.Context, f RelationshipFilter) (bool, error) {
	where, args := f.where()
	var n int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM document_relationships`+where, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("count relationships: %w", err)
	}
	return n > 0, nil
}

// RelationshipTypes returns the distinct relationship types in use, sorted.
func (s *Store) RelationshipTypes(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, `
		SELECT DISTINCT relationship_type FROM document_relationships
		ORDER BY relationship_type ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query relationship types: %w", err)
	}
	defer rows.Close()

	types := []string{}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan relationship type: %w", err)
		}
		types = append(types, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relationship types: %w", err)
	}
	return types, nil
}

// DocumentExists reports whether a document node exists.
func (s *Store) DocumentExists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM documents WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("count documents: %w", err)
	}
	return n > 0, nil
}

func (f RelationshipFilter) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	switch {
	case f.Undirected && f.SourceID != "" && f.TargetID != "":
		clauses = append(clauses, `((source_id = ? AND target_id = ?) OR (source_id = ? AND target_id = ?))`)
		args = append(args, f.SourceID, f.TargetID, f.TargetID, f.SourceID)
	default:
		if f.SourceID != "" {
			clauses = append(clauses, `source_id = ?`)
			args = append(args, f.SourceID)
		}
		if f.TargetID != "" {
			clauses = append(clauses, `target_id = ?`)
			args = append(args, f.TargetID)
		}
	}
	if len(f.Types) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(f.Types)), ", ")
		clauses = append(clauses, `relationship_type IN (`+marks+`)`)
		for _, t := range f.Types {
			args = append(args, t)
		}
	}
	if len(clauses) == 0 {
		return "", args
	}
	return "\n\t\tWHERE " + strings.Join(clauses, " AND "), args
}

func scanRelationship(row rowScanner) (ir.DocumentRelationship, error) {
	var (
		rel                  ir.DocumentRelationship
		metadata             string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&rel.ID, &rel.SourceID, &rel.TargetID, &rel.RelationshipType, &metadata, &createdAt, &updatedAt); err != nil {
		return ir.DocumentRelationship{}, fmt.Errorf("scan relationship: %w", err)
	}
	m, err := unmarshalMetadata(metadata)
	if err != nil {
		return ir.DocumentRelationship{}, fmt.Errorf("relationship %s: %w", rel.ID, err)
	}
	rel.Metadata = m
	rel.CreatedAt = time.UnixMilli(createdAt).UTC()
	rel.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return rel, nil
}
