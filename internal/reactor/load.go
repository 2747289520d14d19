package reactor

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/reshuffle"
)

func (r *Reactor) processLoad(ctx context.Context, ops []ir.OperationWithContext, source string) (Result, error) {
	if len(ops) == 0 {
		return Result{}, &RequestError{Field: "operations", Message: "at least one operation is required"}
	}
	if r.validator != nil {
		if err := r.validator.ValidateOperations(ops); err != nil {
			return Result{}, err
		}
	}

	written := []ir.OperationWithContext{}
	for _, group := range groupByScope(ops) {
		out, reshuffled, err := r.loadScope(ctx, group)
		if err != nil {
			return Result{Operations: written, Token: r.token(written)}, err
		}
		if len(out) == 0 {
			continue
		}
		// A reshuffle goes back to the source as well.
		target := source
		if reshuffled {
			target = ""
		}
		r.applied(ctx, out, target, reshuffled)
		written = append(written, out...)
	}
	return Result{Operations: written, Token: r.token(written)}, nil
}

// groupByScope splits ops by consistency key in order of first appearance.
func groupByScope(ops []ir.OperationWithContext) [][]ir.OperationWithContext {
	var groups [][]ir.OperationWithContext
	pos := make(map[ir.ConsistencyKey]int)
	for _, op := range ops {
		key := op.Coordinate().Key()
		i, ok := pos[key]
		if !ok {
			i = len(groups)
			pos[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], op)
	}
	return groups
}

// loadScope applies one scope's incoming operations and reports whether the
// local tail had to be reshuffled.
func (r *Reactor) loadScope(ctx context.Context, group []ir.OperationWithContext) ([]ir.OperationWithContext, bool, error) {
	at := group[0].Context
	key := ir.MakeConsistencyKey(at.DocumentID, at.Scope, at.Branch)

	raw, err := r.store.GetHistory(ctx, at.DocumentID, at.Scope, at.Branch)
	if err != nil {
		return nil, false, fmt.Errorf("load %s: %w", key, err)
	}

	incoming := make([]ir.Operation, len(group))
	for i, op := range group {
		incoming[i] = op.Operation
	}
	incoming = dropApplied(reshuffle.Sort(incoming), raw)
	if len(incoming) == 0 {
		r.logger.Debug("load already applied", "key", key)
		return nil, false, nil
	}

	head := headIndex(raw)
	if err := checkSequence(key, head, incoming); err != nil {
		return nil, false, err
	}

	if incoming[0].Index > head {
		written, err := r.store.AppendOperations(ctx, withContext(incoming, at))
		if err != nil {
			return nil, false, fmt.Errorf("load %s: %w", key, err)
		}
		r.logger.Debug("operations loaded", "key", key, "count", len(written))
		return written, false, nil
	}
	return r.reshuffleScope(ctx, key, at, raw, head, incoming)
}

// reshuffleScope merges incoming operations that claim positions the local
// log already uses. The merged tail is appended after head; its first
// operation skips back over every conflicting position.
func (r *Reactor) reshuffleScope(ctx context.Context, key ir.ConsistencyKey, at ir.OperationContext, raw []ir.Operation, head int64, incoming []ir.Operation) ([]ir.OperationWithContext, bool, error) {
	local := reshuffle.GarbageCollect(reshuffle.Sort(raw))

	known := make(map[string]bool, len(local))
	for _, op := range local {
		if op.Action.ID != "" {
			known[op.Action.ID] = true
		}
	}

	floor := incoming[0].Index - incoming[0].Skip
	base := make([]ir.Operation, 0, len(local))
	for _, op := range local {
		if op.Index < floor {
			base = append(base, op)
		}
	}

	fresh := make([]ir.Operation, 0, len(incoming))
	for _, op := range incoming {
		if op.Action.ID != "" {
			if known[op.Action.ID] {
				continue
			}
			known[op.Action.ID] = true
		}
		fresh = append(fresh, op)
	}
	if len(fresh) == 0 {
		r.logger.Debug("load contained only known actions", "key", key)
		return nil, false, nil
	}

	merged, err := reshuffle.Merge(local, append(base, fresh...), r.reshuffle)
	if err != nil {
		return nil, false, fmt.Errorf("load %s: %w", key, err)
	}

	var tail []ir.Operation
	for _, op := range merged {
		if op.Index > head {
			tail = append(tail, op)
		}
	}
	if len(tail) == 0 {
		return nil, false, nil
	}
	if tail[0].Skip > r.maxSkip {
		return nil, false, &LoadError{
			Code:    ErrCodeExcessiveReshuffle,
			Key:     key,
			Message: fmt.Sprintf("skip %d exceeds maximum %d", tail[0].Skip, r.maxSkip),
		}
	}

	for i := range tail {
		tail[i].ID = reshuffledID(key, tail[i])
		if tail[i].Hash, err = ir.OperationHash(tail[i]); err != nil {
			return nil, false, err
		}
	}

	written, err := r.store.AppendOperations(ctx, withContext(tail, at))
	if err != nil {
		return nil, false, fmt.Errorf("load %s: %w", key, err)
	}
	r.logger.Info("operations reshuffled",
		"key", key,
		"incoming", len(fresh),
		"appended", len(written),
		"skip", tail[0].Skip,
		"first_index", tail[0].Index,
	)
	return written, true, nil
}

// dropApplied removes operations identical to one already stored, and
// repeats within the batch. sorted must be ordered by index.
func dropApplied(sorted, raw []ir.Operation) []ir.Operation {
	byIndex := make(map[int64][]ir.Operation, len(raw))
	for _, op := range raw {
		byIndex[op.Index] = append(byIndex[op.Index], op)
	}

	out := make([]ir.Operation, 0, len(sorted))
	for _, op := range sorted {
		if len(out) > 0 && reshuffle.Equal(out[len(out)-1], op) {
			continue
		}
		stored := false
		for _, have := range byIndex[op.Index] {
			if reshuffle.Equal(have, op) {
				stored = true
				break
			}
		}
		if !stored {
			out = append(out, op)
		}
	}
	return out
}

// checkSequence rejects incoming operations with uncovered gaps or repeated
// indexes. The first operation must continue at or before head+1.
func checkSequence(key ir.ConsistencyKey, head int64, ops []ir.Operation) error {
	prev := head
	for i, op := range ops {
		if i > 0 && op.Index == ops[i-1].Index {
			return &LoadError{
				Code:    ErrCodeDuplicateIndex,
				Key:     key,
				Message: fmt.Sprintf("index %d appears twice", op.Index),
			}
		}
		if op.Index-op.Skip > prev+1 {
			return &LoadError{
				Code:    ErrCodeMissingOperations,
				Key:     key,
				Message: fmt.Sprintf("operation at index %d (skip %d) leaves a gap after %d", op.Index, op.Skip, prev),
			}
		}
		prev = op.Index
	}
	return nil
}

// reshuffledID derives the id of a renumbered operation from its new slot,
// so replicas that reshuffle the same operations agree on ids.
func reshuffledID(key ir.ConsistencyKey, op ir.Operation) string {
	name := fmt.Sprintf("%s/%s/%d/%d", key, op.Action.ID, op.Index, op.Skip)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

func withContext(ops []ir.Operation, at ir.OperationContext) []ir.OperationWithContext {
	out := make([]ir.OperationWithContext, len(ops))
	for i, op := range ops {
		out[i] = ir.OperationWithContext{
			Operation: op,
			Context: ir.OperationContext{
				DocumentID:   at.DocumentID,
				DocumentType: at.DocumentType,
				Scope:        at.Scope,
				Branch:       at.Branch,
			},
		}
	}
	return out
}
