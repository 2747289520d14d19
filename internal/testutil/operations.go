package testutil

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/docsync/internal/ir"
)

// BaseTime is the instant test operations are stamped relative to.
var BaseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Timestamp renders BaseTime plus offset seconds as an operation timestamp.
func Timestamp(offsetSeconds int) string {
	return ir.FormatTimestamp(BaseTime.Add(time.Duration(offsetSeconds) * time.Second))
}

// Op builds a scope-"global" operation whose id, hash and action id derive
// from label, so two calls with the same label and position are Equal.
// The timestamp is BaseTime plus index seconds.
func Op(label string, index, skip int64) ir.Operation {
	return OpAt(label, index, skip, Timestamp(int(index)))
}

// OpAt is Op with an explicit timestamp.
func OpAt(label string, index, skip int64, ts string) ir.Operation {
	return ir.Operation{
		ID:             "op-" + label,
		Index:          index,
		Skip:           skip,
		Hash:           "hash-" + label,
		TimestampUtcMs: ts,
		Action: ir.Action{
			ID:             "action-" + label,
			Type:           "TEST_OP",
			Scope:          "global",
			Input:          ir.OpaqueInput{Type: "TEST_OP", Raw: json.RawMessage(`{}`)},
			TimestampUtcMs: ts,
		},
	}
}

// History builds a contiguous history of n operations labeled prefix0..prefixN-1.
func History(prefix string, n int) []ir.Operation {
	ops := make([]ir.Operation, n)
	for i := range ops {
		ops[i] = Op(fmt.Sprintf("%s%d", prefix, i), int64(i), 0)
	}
	return ops
}

// AddRelationship builds an ADD_RELATIONSHIP operation.
func AddRelationship(label string, index int64, source, target, relType string) ir.Operation {
	op := Op(label, index, 0)
	op.Action.Type = ir.ActionAddRelationship
	op.Action.Scope = "document"
	op.Action.Input = ir.AddRelationshipInput{SourceID: source, TargetID: target, RelationshipType: relType}
	return op
}

// RemoveRelationship builds a REMOVE_RELATIONSHIP operation.
func RemoveRelationship(label string, index int64, source, target, relType string) ir.Operation {
	op := Op(label, index, 0)
	op.Action.Type = ir.ActionRemoveRelationship
	op.Action.Scope = "document"
	op.Action.Input = ir.RemoveRelationshipInput{SourceID: source, TargetID: target, RelationshipType: relType}
	return op
}

// WithContext attaches addressing to ops, numbering ordinals from firstOrdinal.
func WithContext(ops []ir.Operation, documentID, scope, branch string, firstOrdinal int64) []ir.OperationWithContext {
	out := make([]ir.OperationWithContext, len(ops))
	for i, op := range ops {
		out[i] = ir.OperationWithContext{
			Operation: op,
			Context: ir.OperationContext{
				DocumentID:   documentID,
				DocumentType: "test/document",
				Scope:        scope,
				Branch:       branch,
				Ordinal:      firstOrdinal + int64(i),
			},
		}
	}
	return out
}

// Indexes returns "index:skip" pairs, which makes merge results readable in
// assertion failures.
func Indexes(ops []ir.Operation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = fmt.Sprintf("%d:%d", op.Index, op.Skip)
	}
	return out
}

// IDs returns the operation ids in order.
func IDs(ops []ir.Operation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.ID
	}
	return out
}
