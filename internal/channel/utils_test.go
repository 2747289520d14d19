package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/testutil"
)

func opIn(label, doc, scope, branch string) ir.OperationWithContext {
	return testutil.WithContext([]ir.Operation{testutil.Op(label, 0, 0)}, doc, scope, branch, 1)[0]
}

func labels(ops []ir.OperationWithContext) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.Operation.ID
	}
	return out
}

func TestFilterOperations(t *testing.T) {
	ops := []ir.OperationWithContext{
		opIn("1", "doc-a", "global", "main"),
		opIn("2", "doc-b", "global", "main"),
		opIn("3", "doc-a", "local", "main"),
		opIn("4", "doc-a", "global", "draft"),
	}

	tests := []struct {
		name   string
		filter ir.RemoteFilter
		want   []string
	}{
		{"empty filter passes everything", ir.RemoteFilter{}, []string{"op-1", "op-2", "op-3", "op-4"}},
		{"by branch", ir.RemoteFilter{Branch: []string{"main"}}, []string{"op-1", "op-2", "op-3"}},
		{"by document", ir.RemoteFilter{DocumentID: []string{"doc-b"}}, []string{"op-2"}},
		{"by multiple scopes", ir.RemoteFilter{Scope: []string{"global", "local"}}, []string{"op-1", "op-2", "op-3", "op-4"}},
		{"combined", ir.RemoteFilter{DocumentID: []string{"doc-a"}, Scope: []string{"global"}, Branch: []string{"main"}}, []string{"op-1"}},
		{"nothing matches", ir.RemoteFilter{DocumentID: []string{"doc-z"}}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, labels(FilterOperations(ops, tt.filter)))
		})
	}

	assert.Empty(t, FilterOperations(nil, ir.RemoteFilter{}))
}

func TestBatchOperationsByDocument(t *testing.T) {
	ops := []ir.OperationWithContext{
		opIn("1", "doc-a", "global", "main"),
		opIn("2", "doc-a", "global", "main"),
		opIn("3", "doc-a", "local", "main"),
		opIn("4", "doc-b", "global", "main"),
		opIn("5", "doc-a", "global", "main"),
	}

	batches := BatchOperationsByDocument(ops)

	require.Len(t, batches, 4)
	assert.Equal(t, []string{"op-1", "op-2"}, labels(batches[0]))
	assert.Equal(t, []string{"op-3"}, labels(batches[1]))
	assert.Equal(t, []string{"op-4"}, labels(batches[2]))
	assert.Equal(t, []string{"op-5"}, labels(batches[3]), "returning to a document starts a new batch")

	assert.Empty(t, BatchOperationsByDocument(nil))
}

func TestEnvelopeToSyncOperations(t *testing.T) {
	env := newEnvelope("channel-2",
		opIn("1", "doc-a", "global", "main"),
		opIn("2", "doc-b", "global", "main"),
	)
	env.Key = "0"
	env.DependsOn = []string{"x"}

	ops := EnvelopeToSyncOperations(env, "remote-1")

	require.Len(t, ops, 2)
	assert.Equal(t, "remote-1:op-1", ops[0].ID)
	assert.Equal(t, "doc-a", ops[0].DocumentID)
	assert.Equal(t, []string{"global"}, ops[0].Scopes)
	assert.Equal(t, "main", ops[0].Branch)
	assert.Equal(t, "remote-1", ops[0].RemoteName)
	assert.Equal(t, "0", ops[0].JobID)
	assert.Equal(t, []string{"x"}, ops[0].JobDependencies)
	assert.Equal(t, StatusUnknown, ops[0].Status())

	assert.Nil(t, EnvelopeToSyncOperations(ir.SyncEnvelope{Type: "other"}, "remote-1"))
}

func TestSyncOperationsToEnvelopes_KeysAndDependencies(t *testing.T) {
	a := newSyncOp("a", 1)
	a.JobID = "job-1"
	b := newSyncOp("b", 2)
	b.JobID = "job-2"
	b.JobDependencies = []string{"job-1", "job-unknown"}
	c := newSyncOp("c", 3)
	c.JobID = "job-1"
	d := newSyncOp("d", 4)
	d.JobDependencies = []string{"job-1"}

	envs := SyncOperationsToEnvelopes("channel-1", []*SyncOperation{a, b, c, d})

	require.Len(t, envs, 4)
	assert.Equal(t, "0", envs[0].Key)
	assert.Empty(t, envs[0].DependsOn)
	assert.Equal(t, []string{"0"}, envs[1].DependsOn)
	assert.Equal(t, []string{"0", "2"}, envs[3].DependsOn)
	for _, env := range envs {
		assert.Equal(t, ir.EnvelopeTypeOperations, env.Type)
		assert.Equal(t, "channel-1", env.ChannelMeta.ID)
	}
}

func TestSortEnvelopesByFirstTimestamp(t *testing.T) {
	late := newEnvelope("c", ir.OperationWithContext{Operation: testutil.OpAt("late", 0, 0, testutil.Timestamp(30))})
	early := newEnvelope("c", ir.OperationWithContext{Operation: testutil.OpAt("early", 0, 0, testutil.Timestamp(10))})
	empty := newEnvelope("c")

	sorted := SortEnvelopesByFirstTimestamp([]ir.SyncEnvelope{late, early, empty})

	require.Len(t, sorted, 3)
	assert.Empty(t, sorted[0].Operations)
	assert.Equal(t, "op-early", sorted[1].Operations[0].Operation.ID)
	assert.Equal(t, "op-late", sorted[2].Operations[0].Operation.ID)
}

func TestTrimMailboxFromAckOrdinal(t *testing.T) {
	mb := NewMailbox()
	a, b, c := newSyncOp("a", 5), newSyncOp("b", 10), newSyncOp("c", 15)
	require.NoError(t, mb.Add(a, b, c))

	require.NoError(t, TrimMailboxFromAckOrdinal(mb, 10))

	assert.Equal(t, []string{"c"}, ids(mb.Items()))
	assert.Equal(t, StatusApplied, a.Status())
	assert.Equal(t, StatusApplied, b.Status())
	assert.Equal(t, StatusUnknown, c.Status())
	assert.Equal(t, int64(10), mb.AckOrdinal())
}

func TestLatestAppliedOrdinal(t *testing.T) {
	a, b := newSyncOp("a", 5), newSyncOp("b", 10)
	a.Executed()
	b.Failed(assert.AnError)

	assert.Equal(t, int64(5), LatestAppliedOrdinal([]*SyncOperation{a, b}))
	assert.Equal(t, int64(0), LatestAppliedOrdinal(nil))
}

func TestCreateIdleHealth(t *testing.T) {
	assert.Equal(t, Health{State: HealthIdle}, CreateIdleHealth())
}
