package reactor

import (
	"context"
	"fmt"

	"github.com/roach88/docsync/internal/ir"
)

func (r *Reactor) processWrite(ctx context.Context, req WriteRequest) (Result, error) {
	if req.DocumentID == "" {
		return Result{}, &RequestError{Field: "documentId", Message: "required"}
	}
	if req.Scope == "" {
		return Result{}, &RequestError{Field: "scope", Message: "required"}
	}
	if len(req.Actions) == 0 {
		return Result{}, &RequestError{Field: "actions", Message: "at least one action is required"}
	}
	if req.Branch == "" {
		req.Branch = DefaultBranch
	}

	raw, err := r.store.GetHistory(ctx, req.DocumentID, req.Scope, req.Branch)
	if err != nil {
		return Result{}, fmt.Errorf("write %s: %w", ir.MakeConsistencyKey(req.DocumentID, req.Scope, req.Branch), err)
	}
	next := headIndex(raw) + 1
	now := ir.FormatTimestamp(r.clock.Now())

	ops := make([]ir.OperationWithContext, len(req.Actions))
	for i, a := range req.Actions {
		if a.Scope == "" {
			a.Scope = req.Scope
		}
		if a.Scope != req.Scope {
			return Result{}, &RequestError{
				Field:   fmt.Sprintf("actions[%d].scope", i),
				Message: fmt.Sprintf("%q does not match request scope %q", a.Scope, req.Scope),
			}
		}
		if a.TimestampUtcMs == "" {
			a.TimestampUtcMs = now
		}
		if a.ID == "" {
			if a.ID, err = ir.ActionID(a); err != nil {
				return Result{}, err
			}
		}

		op := ir.Operation{
			ID:             r.newID(),
			Index:          next + int64(i),
			TimestampUtcMs: a.TimestampUtcMs,
			Action:         a,
		}
		if op.Hash, err = ir.OperationHash(op); err != nil {
			return Result{}, err
		}
		ops[i] = ir.OperationWithContext{
			Operation: op,
			Context: ir.OperationContext{
				DocumentID:   req.DocumentID,
				DocumentType: req.DocumentType,
				Scope:        req.Scope,
				Branch:       req.Branch,
			},
		}
	}

	if r.validator != nil {
		if err := r.validator.ValidateOperations(ops); err != nil {
			return Result{}, err
		}
	}

	written, err := r.store.AppendOperations(ctx, ops)
	if err != nil {
		return Result{}, err
	}
	r.logger.Debug("operations written",
		"document_id", req.DocumentID,
		"scope", req.Scope,
		"branch", req.Branch,
		"count", len(written),
		"first_index", next,
	)
	r.applied(ctx, written, "", false)
	return Result{Operations: written, Token: r.token(written)}, nil
}

// headIndex returns the highest index in ops, or -1 when empty.
func headIndex(ops []ir.Operation) int64 {
	head := int64(-1)
	for _, op := range ops {
		if op.Index > head {
			head = op.Index
		}
	}
	return head
}
