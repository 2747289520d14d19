package channel

import (
	"sort"
	"strconv"

	"github.com/roach88/docsync/internal/ir"
)

// FilterOperations returns the operations whose context passes filter.
func FilterOperations(ops []ir.OperationWithContext, filter ir.RemoteFilter) []ir.OperationWithContext {
	out := make([]ir.OperationWithContext, 0, len(ops))
	for _, op := range ops {
		if filter.Matches(op.Context) {
			out = append(out, op)
		}
	}
	return out
}

// BatchOperationsByDocument splits ops into runs of consecutive operations
// sharing (documentId, scope). Order is preserved; returning to an earlier
// document starts a new batch.
func BatchOperationsByDocument(ops []ir.OperationWithContext) [][]ir.OperationWithContext {
	var batches [][]ir.OperationWithContext
	for _, op := range ops {
		n := len(batches)
		if n > 0 {
			last := batches[n-1][0].Context
			if last.DocumentID == op.Context.DocumentID && last.Scope == op.Context.Scope {
				batches[n-1] = append(batches[n-1], op)
				continue
			}
		}
		batches = append(batches, []ir.OperationWithContext{op})
	}
	return batches
}

// NewSyncOperationFromBatch wraps one document batch. The id is derived from
// the remote and the first operation so a resent batch replaces its earlier
// copy in a mailbox.
func NewSyncOperationFromBatch(remoteName, jobID string, deps []string, batch []ir.OperationWithContext) *SyncOperation {
	first := batch[0]
	return NewSyncOperation(
		remoteName+":"+first.Operation.ID,
		jobID,
		deps,
		remoteName,
		first.Context.DocumentID,
		distinctScopes(batch),
		first.Context.Branch,
		batch,
	)
}

// EnvelopeToSyncOperations converts a received envelope into one
// SyncOperation per document batch. Envelopes of other types yield nothing.
func EnvelopeToSyncOperations(env ir.SyncEnvelope, remoteName string) []*SyncOperation {
	if env.Type != ir.EnvelopeTypeOperations || len(env.Operations) == 0 {
		return nil
	}
	var out []*SyncOperation
	for _, batch := range BatchOperationsByDocument(env.Operations) {
		out = append(out, NewSyncOperationFromBatch(remoteName, env.Key, env.DependsOn, batch))
	}
	return out
}

// SyncOperationToEnvelope wraps one SyncOperation for sending on channelID.
func SyncOperationToEnvelope(channelID string, op *SyncOperation) ir.SyncEnvelope {
	return ir.SyncEnvelope{
		Type:        ir.EnvelopeTypeOperations,
		ChannelMeta: ir.ChannelMeta{ID: channelID},
		Operations:  op.Operations,
	}
}

// SyncOperationsToEnvelopes builds one envelope per SyncOperation for a
// batched push. Envelope i gets key "i"; its DependsOn lists the keys of
// earlier envelopes whose job id appears in its job dependencies.
func SyncOperationsToEnvelopes(channelID string, ops []*SyncOperation) []ir.SyncEnvelope {
	keysByJob := make(map[string][]string)
	envelopes := make([]ir.SyncEnvelope, 0, len(ops))
	for i, op := range ops {
		key := strconv.Itoa(i)
		var dependsOn []string
		for _, dep := range op.JobDependencies {
			dependsOn = append(dependsOn, keysByJob[dep]...)
		}
		if op.JobID != "" {
			keysByJob[op.JobID] = append(keysByJob[op.JobID], key)
		}

		env := SyncOperationToEnvelope(channelID, op)
		env.Key = key
		env.DependsOn = dependsOn
		envelopes = append(envelopes, env)
	}
	return envelopes
}

// SortEnvelopesByFirstTimestamp orders envelopes by the timestamp of their
// first operation. Envelopes without operations sort first. The sort is
// stable.
func SortEnvelopesByFirstTimestamp(envs []ir.SyncEnvelope) []ir.SyncEnvelope {
	out := append([]ir.SyncEnvelope(nil), envs...)
	sort.SliceStable(out, func(i, j int) bool {
		return firstTimestamp(out[i]) < firstTimestamp(out[j])
	})
	return out
}

func firstTimestamp(env ir.SyncEnvelope) int64 {
	if len(env.Operations) == 0 {
		return -1
	}
	ms, _ := ir.TimestampMillis(env.Operations[0].Operation.TimestampUtcMs)
	return ms
}

// LatestAppliedOrdinal returns the max ordinal over the Applied items, or 0.
func LatestAppliedOrdinal(items []*SyncOperation) int64 {
	var max int64
	for _, item := range items {
		if item.Status() != StatusApplied {
			continue
		}
		if o := item.MaxOrdinal(); o > max {
			max = o
		}
	}
	return max
}

// TrimMailboxFromAckOrdinal marks every item whose ordinals are all covered
// by ack as executed and removes them.
func TrimMailboxFromAckOrdinal(mb Mailbox, ack int64) error {
	var acked []*SyncOperation
	for _, item := range mb.Items() {
		if item.MaxOrdinal() <= ack {
			item.Executed()
			acked = append(acked, item)
		}
	}
	if len(acked) == 0 {
		return nil
	}
	return mb.Remove(acked...)
}

func distinctScopes(batch []ir.OperationWithContext) []string {
	var scopes []string
	seen := make(map[string]bool)
	for _, op := range batch {
		if !seen[op.Context.Scope] {
			seen[op.Context.Scope] = true
			scopes = append(scopes, op.Context.Scope)
		}
	}
	return scopes
}
