package reshuffle

import (
	"cmp"
	"slices"

	"github.com/roach88/docsync/internal/ir"
)

// Sort returns a copy of ops ordered by index, then skip.
func Sort(ops []ir.Operation) []ir.Operation {
	out := slices.Clone(ops)
	slices.SortStableFunc(out, func(a, b ir.Operation) int {
		if c := cmp.Compare(a.Index, b.Index); c != 0 {
			return c
		}
		return cmp.Compare(a.Skip, b.Skip)
	})
	return out
}

// GarbageCollect drops operations superseded by a later skip.
//
// Scanning from the end, an operation at index i with skip k supersedes every
// earlier operation whose index lies in [i-k, i-1]. Input must be sorted.
func GarbageCollect(sorted []ir.Operation) []ir.Operation {
	var kept []ir.Operation
	i := len(sorted) - 1
	for i >= 0 {
		kept = append(kept, sorted[i])
		skipUntil := sorted[i].Index - sorted[i].Skip - 1
		j := i - 1
		for j >= 0 && sorted[j].Index > skipUntil {
			j--
		}
		i = j
	}
	slices.Reverse(kept)
	if kept == nil {
		return []ir.Operation{}
	}
	return kept
}

// Equal reports whether two operations occupy the same log slot with the
// same content: index, skip and hash all match.
func Equal(a, b ir.Operation) bool {
	return a.Index == b.Index && a.Skip == b.Skip && a.Hash == b.Hash
}

// Split walks both histories position by position and returns their longest
// common prefix plus each side's remainder.
func Split(target, incoming []ir.Operation) (common, targetTail, incomingTail []ir.Operation) {
	common = []ir.Operation{}
	targetTail = []ir.Operation{}
	incomingTail = []ir.Operation{}

	n := max(len(target), len(incoming))
	diverged := false
	for i := 0; i < n; i++ {
		switch {
		case i < len(target) && i < len(incoming):
			if !diverged && Equal(target[i], incoming[i]) {
				common = append(common, target[i])
				continue
			}
			diverged = true
			targetTail = append(targetTail, target[i])
			incomingTail = append(incomingTail, incoming[i])
		case i < len(target):
			targetTail = append(targetTail, target[i])
		default:
			incomingTail = append(incomingTail, incoming[i])
		}
	}
	return common, targetTail, incomingTail
}

// FilterDuplicated returns the operations of incoming whose id does not
// appear in existing. Operations without an id are always kept.
func FilterDuplicated(incoming, existing []ir.Operation) []ir.Operation {
	seen := make(map[string]bool, len(existing))
	for _, op := range existing {
		if op.ID != "" {
			seen[op.ID] = true
		}
	}
	out := make([]ir.Operation, 0, len(incoming))
	for _, op := range incoming {
		if op.ID != "" && seen[op.ID] {
			continue
		}
		out = append(out, op)
	}
	return out
}

// Merge resolves two divergent histories of one scope into a canonical one.
//
// Both inputs are sorted and garbage collected, split at their common
// prefix, and the tails are renumbered by fn starting after the highest index
// either side has used. The first renumbered operation skips back over every
// position after the common prefix, so replicas that applied either tail
// garbage-collect it away.
//
// The result is checked with CheckIntegrity; an *IntegrityError is returned
// when it has gaps or duplicates, which means the inputs were malformed.
func Merge(target, incoming []ir.Operation, fn Reshuffler) ([]ir.Operation, error) {
	if fn == nil {
		fn = ByTimestampAndIndex
	}
	common, targetTail, incomingTail := Split(
		GarbageCollect(Sort(target)),
		GarbageCollect(Sort(incoming)),
	)

	maxCommon := lastIndex(common)
	next := 1 + max(maxCommon, lastIndex(targetTail), lastIndex(incomingTail))
	start := StartPosition{Index: next, Skip: next - (maxCommon + 1)}

	incomingTail = FilterDuplicated(incomingTail, targetTail)

	merged := append(slices.Clone(common), fn(start, targetTail, incomingTail)...)
	if issues := CheckIntegrity(merged); len(issues) > 0 {
		return nil, &IntegrityError{Issues: issues}
	}
	return merged, nil
}

// lastIndex returns the index of the last operation, or -1 when empty.
func lastIndex(sorted []ir.Operation) int64 {
	if len(sorted) == 0 {
		return -1
	}
	return sorted[len(sorted)-1].Index
}

// NextSkipNumber returns the skip an undo appended after ops would carry,
// or -1 when there is nothing left to undo.
func NextSkipNumber(sorted []ir.Operation) int64 {
	if len(sorted) == 0 {
		return -1
	}
	cleaned := GarbageCollect(sorted)

	last := cleaned[len(cleaned)-1]
	nextSkip := last.Skip + 1
	if len(cleaned) > 1 {
		nextSkip += cleaned[len(cleaned)-2].Skip
	}

	// Index 0 cannot be undone.
	lastIdx := last.Index
	if lastIdx == 0 {
		lastIdx = -1
	}
	if lastIdx < nextSkip {
		return -1
	}
	return nextSkip
}

// GroupByScope splits operations by their action scope.
func GroupByScope(ops []ir.Operation) map[string][]ir.Operation {
	out := make(map[string][]ir.Operation)
	for _, op := range ops {
		out[op.Action.Scope] = append(out[op.Action.Scope], op)
	}
	return out
}

// MergeScopes merges per-scope histories. A scope present on only one side
// is returned sorted and garbage collected rather than renumbered.
func MergeScopes(target, incoming map[string][]ir.Operation, fn Reshuffler) (map[string][]ir.Operation, error) {
	out := make(map[string][]ir.Operation, len(target))
	for scope, ops := range target {
		theirs, ok := incoming[scope]
		if !ok || len(theirs) == 0 {
			out[scope] = GarbageCollect(Sort(ops))
			continue
		}
		merged, err := Merge(ops, theirs, fn)
		if err != nil {
			return nil, &ScopeError{Scope: scope, Err: err}
		}
		out[scope] = merged
	}
	for scope, ops := range incoming {
		if _, ok := target[scope]; ok {
			continue
		}
		out[scope] = GarbageCollect(Sort(ops))
	}
	return out, nil
}
