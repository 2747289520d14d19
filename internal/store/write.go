package store

import (
	"context"
	"fmt"

	"github.com/roach88/docsync/internal/ir"
)

// AppendOperations inserts operations at the end of their document scopes
// in one transaction and returns them with Context.Ordinal set to the
// assigned global ordinal.
//
// Index uniqueness per (document, scope, branch) is enforced by the schema;
// a conflicting index fails the whole batch.
func (s *Store) AppendOperations(ctx context.Context, ops []ir.OperationWithContext) ([]ir.OperationWithContext, error) {
	if len(ops) == 0 {
		return []ir.OperationWithContext{}, nil
	}
	out := make([]ir.OperationWithContext, len(ops))
	err := s.WithTx(ctx, func(tx *Tx) error {
		for i, op := range ops {
			ordinal, err := insertOperation(ctx, tx, op)
			if err != nil {
				return err
			}
			out[i] = op
			out[i].Context.Ordinal = ordinal
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("append operations: %w", err)
	}
	return out, nil
}

func insertOperation(ctx context.Context, tx *Tx, op ir.OperationWithContext) (int64, error) {
	actionJSON, err := marshalAction(op.Operation.Action)
	if err != nil {
		return 0, fmt.Errorf("operation %s: %w", op.Operation.ID, err)
	}

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO operations
		(op_id, document_id, document_type, scope, branch, op_index, skip, hash, timestamp_utc_ms, action_json, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`,
		op.Operation.ID,
		op.Context.DocumentID,
		op.Context.DocumentType,
		op.Context.Scope,
		op.Context.Branch,
		op.Operation.Index,
		op.Operation.Skip,
		op.Operation.Hash,
		op.Operation.TimestampUtcMs,
		actionJSON,
		op.Operation.Error,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert operation %s at %s/%d: %w",
			op.Operation.ID, op.Coordinate().Key(), op.Operation.Index, err)
	}
	return id, nil
}
