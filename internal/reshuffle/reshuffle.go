package reshuffle

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/docsync/internal/ir"
)

// StartPosition is where a Reshuffler starts renumbering.
//
// Index is the index given to the first reshuffled operation and Skip the
// skip it carries; every later operation gets skip 0.
type StartPosition struct {
	Index int64
	Skip  int64
}

// Reshuffler orders and renumbers two divergent tails.
type Reshuffler func(start StartPosition, target, incoming []ir.Operation) []ir.Operation

// Reshuffler names accepted by ByName.
const (
	NameTimestamp         = "timestamp"
	NameTimestampAndIndex = "timestamp-index"
)

// ByName returns the named Reshuffler. An empty name selects the default,
// ByTimestampAndIndex.
func ByName(name string) (Reshuffler, error) {
	switch name {
	case "", NameTimestampAndIndex:
		return ByTimestampAndIndex, nil
	case NameTimestamp:
		return ByTimestamp, nil
	default:
		return nil, fmt.Errorf("unknown reshuffle %q: must be %q or %q", name, NameTimestamp, NameTimestampAndIndex)
	}
}

// ByTimestamp interleaves both tails by ascending timestamp.
//
// Operations with identical timestamps are ordered by hash, then action id,
// so the result does not depend on which side is the target.
func ByTimestamp(start StartPosition, target, incoming []ir.Operation) []ir.Operation {
	ops := concat(target, incoming)
	slices.SortStableFunc(ops, func(a, b ir.Operation) int {
		if c := compareTimestamps(a.TimestampUtcMs, b.TimestampUtcMs); c != 0 {
			return c
		}
		return compareIdentity(a, b)
	})
	return renumber(start, ops)
}

// ByTimestampAndIndex orders both tails by their original index first and
// by timestamp among operations that claimed the same index. Remaining ties
// are ordered by hash, then action id.
func ByTimestampAndIndex(start StartPosition, target, incoming []ir.Operation) []ir.Operation {
	ops := concat(target, incoming)
	slices.SortStableFunc(ops, func(a, b ir.Operation) int {
		if c := cmp.Compare(a.Index, b.Index); c != 0 {
			return c
		}
		if c := compareTimestamps(a.TimestampUtcMs, b.TimestampUtcMs); c != 0 {
			return c
		}
		return compareIdentity(a, b)
	})
	return renumber(start, ops)
}

func concat(a, b []ir.Operation) []ir.Operation {
	ops := make([]ir.Operation, 0, len(a)+len(b))
	ops = append(ops, a...)
	return append(ops, b...)
}

func renumber(start StartPosition, ops []ir.Operation) []ir.Operation {
	for i := range ops {
		ops[i].Index = start.Index + int64(i)
		if i == 0 {
			ops[i].Skip = start.Skip
		} else {
			ops[i].Skip = 0
		}
	}
	return ops
}

// compareTimestamps compares parsed timestamps, falling back to string order
// when either side does not parse.
func compareTimestamps(a, b string) int {
	am, aok := ir.TimestampMillis(a)
	bm, bok := ir.TimestampMillis(b)
	if aok && bok {
		return cmp.Compare(am, bm)
	}
	return strings.Compare(a, b)
}

func compareIdentity(a, b ir.Operation) int {
	if c := strings.Compare(a.Hash, b.Hash); c != 0 {
		return c
	}
	return strings.Compare(a.Action.ID, b.Action.ID)
}
