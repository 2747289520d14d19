package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/docsync/internal/ir"
)

const operationColumns = `id, op_id, document_id, document_type, scope, branch, op_index, skip, hash, timestamp_utc_ms, action_json, error`

// GetHistory returns the stored operations of one document scope ordered by
// index, then skip. Superseded operations are included; callers garbage
// collect.
//
// Returns an empty slice (not nil) if the scope has no operations.
func (s *Store) GetHistory(ctx context.Context, documentID, scope, branch string) ([]ir.Operation, error) {
	rows, err := s.query(ctx, `
		SELECT `+operationColumns+`
		FROM operations
		WHERE document_id = ? AND scope = ? AND branch = ?
		ORDER BY op_index ASC, skip ASC
	`, documentID, scope, branch)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	ops := []ir.Operation{}
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op.Operation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return ops, nil
}

// GetSinceID returns up to limit operations with an ordinal greater than
// sinceID, in ordinal order. limit <= 0 returns everything.
func (s *Store) GetSinceID(ctx context.Context, sinceID int64, limit int) ([]ir.OperationWithContext, error) {
	query := `
		SELECT ` + operationColumns + `
		FROM operations
		WHERE id > ?
		ORDER BY id ASC
	`
	args := []any{sinceID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query operations since %d: %w", sinceID, err)
	}
	defer rows.Close()

	ops := []ir.OperationWithContext{}
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return ops, nil
}

// GetOperation returns the operation stored under ordinal.
// Returns ErrNotFound if there is none.
func (s *Store) GetOperation(ctx context.Context, ordinal int64) (ir.OperationWithContext, error) {
	row := s.queryRow(ctx, `
		SELECT `+operationColumns+`
		FROM operations
		WHERE id = ?
	`, ordinal)
	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.OperationWithContext{}, fmt.Errorf("operation %d: %w", ordinal, ErrNotFound)
	}
	return op, err
}

// LatestTimestamp returns the newest operation timestamp in the store, or
// "" when the log is empty. A store holds a single collection, so
// collectionID does not narrow the query.
func (s *Store) LatestTimestamp(ctx context.Context, collectionID string) (string, error) {
	var ts sql.NullString
	if err := s.queryRow(ctx, `SELECT MAX(timestamp_utc_ms) FROM operations`).Scan(&ts); err != nil {
		return "", fmt.Errorf("latest timestamp for %q: %w", collectionID, err)
	}
	return ts.String, nil
}

// MaxOrdinal returns the highest ordinal ever assigned that is still
// stored, or 0 when the log is empty.
func (s *Store) MaxOrdinal(ctx context.Context) (int64, error) {
	var maxID sql.NullInt64
	if err := s.queryRow(ctx, `SELECT MAX(id) FROM operations`).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("max ordinal: %w", err)
	}
	return maxID.Int64, nil
}

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (ir.OperationWithContext, error) {
	var (
		op         ir.OperationWithContext
		actionJSON string
	)
	err := row.Scan(
		&op.Context.Ordinal,
		&op.Operation.ID,
		&op.Context.DocumentID,
		&op.Context.DocumentType,
		&op.Context.Scope,
		&op.Context.Branch,
		&op.Operation.Index,
		&op.Operation.Skip,
		&op.Operation.Hash,
		&op.Operation.TimestampUtcMs,
		&actionJSON,
		&op.Operation.Error,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.OperationWithContext{}, err
		}
		return ir.OperationWithContext{}, fmt.Errorf("scan operation: %w", err)
	}

	action, err := unmarshalAction(actionJSON)
	if err != nil {
		return ir.OperationWithContext{}, fmt.Errorf("operation %s: %w", op.Operation.ID, err)
	}
	op.Operation.Action = action
	return op, nil
}
