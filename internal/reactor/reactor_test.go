package reactor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docsync/internal/consistency"
	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/reshuffle"
	"github.com/roach88/docsync/internal/schema"
	"github.com/roach88/docsync/internal/store"
	"github.com/roach88/docsync/internal/testutil"
)

var docKey = ir.MakeConsistencyKey("doc-1", "global", "main")

type fixture struct {
	store   *store.Store
	tracker *consistency.Tracker
	reactor *Reactor

	mu     sync.Mutex
	events []OperationsWritten
}

func setupTestStore(t *testing.T, name string) *store.Store {
	t.Helper()
	st, err := store.Open(store.DriverSQLite, filepath.Join(t.TempDir(), name))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{store: setupTestStore(t, "reactor.db"), tracker: consistency.New()}

	var ids atomic.Int64
	base := []Option{
		WithClock(testutil.NewFakeClock()),
		WithIDGenerator(func() string { return fmt.Sprintf("op-%03d", ids.Add(1)) }),
	}
	f.reactor = New(f.store, f.tracker, append(base, opts...)...)
	f.reactor.Subscribe(func(ev OperationsWritten) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, ev)
	})
	startReactor(t, f.reactor)
	return f
}

func startReactor(t *testing.T, r *Reactor) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (f *fixture) seed(t *testing.T, ops ...ir.Operation) {
	t.Helper()
	_, err := f.store.AppendOperations(context.Background(), testutil.WithContext(ops, "doc-1", "global", "main", 0))
	require.NoError(t, err)
}

func (f *fixture) history(t *testing.T) []ir.Operation {
	t.Helper()
	ops, err := f.store.GetHistory(context.Background(), "doc-1", "global", "main")
	require.NoError(t, err)
	return reshuffle.GarbageCollect(ops)
}

func (f *fixture) published() []OperationsWritten {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]OperationsWritten(nil), f.events...)
}

func incoming(ops ...ir.Operation) []ir.OperationWithContext {
	return testutil.WithContext(ops, "doc-1", "global", "main", 100)
}

func operations(ops []ir.OperationWithContext) []ir.Operation {
	out := make([]ir.Operation, len(ops))
	for i, op := range ops {
		out[i] = op.Operation
	}
	return out
}

func actionIDs(ops []ir.Operation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.Action.ID
	}
	return out
}

func testAction() ir.Action {
	return ir.Action{Type: "TEST_OP", Input: ir.OpaqueInput{Type: "TEST_OP", Raw: json.RawMessage(`{"n":1}`)}}
}

func TestWrite_AppendsAtHead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := WriteRequest{DocumentID: "doc-1", DocumentType: "test/document", Scope: "global", Actions: []ir.Action{testAction(), testAction()}}
	first, err := f.reactor.Write(ctx, req)
	require.NoError(t, err)
	require.Len(t, first.Operations, 2)

	second, err := f.reactor.Write(ctx, WriteRequest{DocumentID: "doc-1", Scope: "global", Actions: []ir.Action{testAction()}})
	require.NoError(t, err)
	require.Len(t, second.Operations, 1)

	op := first.Operations[0]
	assert.Equal(t, "op-001", op.Operation.ID)
	assert.Equal(t, int64(0), op.Operation.Index)
	assert.Equal(t, ir.MustOperationHash(op.Operation), op.Operation.Hash)
	assert.Equal(t, "2024-01-01T00:00:00.000Z", op.Operation.TimestampUtcMs)
	assert.Equal(t, "global", op.Operation.Action.Scope)
	assert.Len(t, op.Operation.Action.ID, 32)
	assert.Equal(t, "main", op.Context.Branch)
	assert.Equal(t, "test/document", op.Context.DocumentType)
	assert.Positive(t, op.Context.Ordinal)

	assert.Equal(t, int64(2), second.Operations[0].Operation.Index)
	assert.Equal(t, []ir.ConsistencyCoordinate{
		{DocumentID: "doc-1", Scope: "global", Branch: "main", OperationIndex: 2},
	}, second.Token.Coordinates)
	assert.Equal(t, ir.ConsistencyTokenVersion, second.Token.Version)

	latest, ok := f.tracker.GetLatest(docKey)
	require.True(t, ok)
	assert.Equal(t, int64(2), latest)

	events := f.published()
	require.Len(t, events, 2)
	assert.Empty(t, events[0].Source)
	assert.False(t, events[0].Reshuffled)
}

func TestWrite_TokenKeepsHighestIndexPerKey(t *testing.T) {
	f := newFixture(t)

	res, err := f.reactor.Write(context.Background(), WriteRequest{
		DocumentID: "doc-1", Scope: "global",
		Actions: []ir.Action{testAction(), testAction(), testAction()},
	})
	require.NoError(t, err)
	require.Len(t, res.Token.Coordinates, 1)
	assert.Equal(t, int64(2), res.Token.Coordinates[0].OperationIndex)
}

func TestWrite_RejectsBadRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		req   WriteRequest
		field string
	}{
		{"no document", WriteRequest{Scope: "global", Actions: []ir.Action{testAction()}}, "documentId"},
		{"no scope", WriteRequest{DocumentID: "doc-1", Actions: []ir.Action{testAction()}}, "scope"},
		{"no actions", WriteRequest{DocumentID: "doc-1", Scope: "global"}, "actions"},
		{"scope mismatch", WriteRequest{DocumentID: "doc-1", Scope: "global", Actions: []ir.Action{{Type: "TEST_OP", Scope: "local"}}}, "actions[0].scope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.reactor.Write(ctx, tt.req)
			var reqErr *RequestError
			require.ErrorAs(t, err, &reqErr)
			assert.Equal(t, tt.field, reqErr.Field)
		})
	}
	assert.Empty(t, f.history(t))
}

func TestWrite_ValidatesRelationshipInput(t *testing.T) {
	v, err := schema.Default()
	require.NoError(t, err)
	f := newFixture(t, WithValidator(v))

	_, err = f.reactor.Write(context.Background(), WriteRequest{
		DocumentID: "doc-1",
		Scope:      "global",
		Actions: []ir.Action{{
			Type:  ir.ActionAddRelationship,
			Input: ir.AddRelationshipInput{SourceID: "", TargetID: "b", RelationshipType: "links"},
		}},
	})
	var verr *schema.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ir.ActionAddRelationship, verr.ActionType)
	assert.Empty(t, f.history(t))
}

func TestWrite_CancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.reactor.Write(ctx, WriteRequest{DocumentID: "doc-1", Scope: "global", Actions: []ir.Action{testAction()}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoad_TrivialAppend(t *testing.T) {
	f := newFixture(t)
	f.seed(t, testutil.History("a", 2)...)

	res, err := f.reactor.Load(context.Background(),
		incoming(testutil.Op("a1", 1, 0), testutil.Op("b2", 2, 0), testutil.Op("b3", 3, 0)), "remote-a")
	require.NoError(t, err)

	assert.Equal(t, []string{"op-b2", "op-b3"}, testutil.IDs(operations(res.Operations)))
	assert.Equal(t, []string{"2:0", "3:0"}, testutil.Indexes(operations(res.Operations)))
	assert.Equal(t, []string{"0:0", "1:0", "2:0", "3:0"}, testutil.Indexes(f.history(t)))

	events := f.published()
	require.Len(t, events, 1)
	assert.Equal(t, "remote-a", events[0].Source)
	assert.False(t, events[0].Reshuffled)

	latest, ok := f.tracker.GetLatest(docKey)
	require.True(t, ok)
	assert.Equal(t, int64(3), latest)
}

func TestLoad_AppliesIncomingUndo(t *testing.T) {
	f := newFixture(t)
	f.seed(t, testutil.History("a", 3)...)

	_, err := f.reactor.Load(context.Background(), incoming(testutil.Op("undo", 3, 1)), "remote-a")
	require.NoError(t, err)

	assert.Equal(t, []string{"op-a0", "op-a1", "op-undo"}, testutil.IDs(f.history(t)))
}

func TestLoad_AlreadyApplied(t *testing.T) {
	f := newFixture(t)
	f.seed(t, testutil.History("a", 3)...)

	res, err := f.reactor.Load(context.Background(), incoming(testutil.History("a", 3)...), "remote-a")
	require.NoError(t, err)
	assert.Empty(t, res.Operations)
	assert.Empty(t, res.Token.Coordinates)
	assert.Empty(t, f.published())
}

func TestLoad_ReshufflesConflictingTail(t *testing.T) {
	f := newFixture(t)
	f.seed(t, testutil.History("a", 5)...)

	remote := append(testutil.History("a", 3), testutil.Op("b3", 3, 0), testutil.Op("b4", 4, 0))
	res, err := f.reactor.Load(context.Background(), incoming(remote...), "remote-b")
	require.NoError(t, err)

	tail := operations(res.Operations)
	assert.Equal(t, []string{"5:2", "6:0", "7:0", "8:0"}, testutil.Indexes(tail))
	assert.Equal(t, []string{"action-a3", "action-b3", "action-a4", "action-b4"}, actionIDs(tail))
	for _, op := range tail {
		assert.Equal(t, ir.MustOperationHash(op), op.Hash)
	}

	assert.Equal(t, []string{"0:0", "1:0", "2:0", "5:2", "6:0", "7:0", "8:0"}, testutil.Indexes(f.history(t)))
	assert.Empty(t, reshuffle.CheckIntegrity(f.history(t)))

	events := f.published()
	require.Len(t, events, 1)
	assert.True(t, events[0].Reshuffled)
	assert.Empty(t, events[0].Source, "a reshuffle goes back to its source too")
}

func TestLoad_ReplicasConverge(t *testing.T) {
	a := newFixture(t)
	b := newFixture(t)
	ctx := context.Background()

	a.seed(t, testutil.History("a", 5)...)
	b.seed(t, append(testutil.History("a", 3), testutil.Op("b3", 3, 0), testutil.Op("b4", 4, 0))...)

	fromA := incoming(a.history(t)...)
	fromB := incoming(b.history(t)...)

	resA, err := a.reactor.Load(ctx, fromB, "b")
	require.NoError(t, err)
	resB, err := b.reactor.Load(ctx, fromA, "a")
	require.NoError(t, err)

	tailA := operations(resA.Operations)
	tailB := operations(resB.Operations)
	assert.Equal(t, testutil.IDs(tailA), testutil.IDs(tailB))
	assert.Equal(t, testutil.Indexes(tailA), testutil.Indexes(tailB))
	for i := range tailA {
		assert.Equal(t, tailA[i].Hash, tailB[i].Hash)
	}

	// Exchanging the reshuffled tails is a no-op on both sides.
	again, err := a.reactor.Load(ctx, incoming(tailB...), "b")
	require.NoError(t, err)
	assert.Empty(t, again.Operations)
	again, err = b.reactor.Load(ctx, incoming(tailA...), "a")
	require.NoError(t, err)
	assert.Empty(t, again.Operations)

	assert.Equal(t, testutil.IDs(a.history(t)), testutil.IDs(b.history(t)))
}

func TestLoad_KnownActionsAreNotDuplicated(t *testing.T) {
	f := newFixture(t)
	f.seed(t, testutil.History("a", 5)...)

	replay := testutil.Op("a3", 3, 0)
	replay.Hash = "hash-elsewhere"
	res, err := f.reactor.Load(context.Background(), incoming(replay), "remote-a")
	require.NoError(t, err)
	assert.Empty(t, res.Operations)
	assert.Len(t, f.history(t), 5)
}

func TestLoad_Rejections(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		ops  []ir.Operation
		code LoadErrorCode
	}{
		{
			name: "gap after head",
			ops:  []ir.Operation{testutil.Op("x", 6, 0)},
			code: ErrCodeMissingOperations,
		},
		{
			name: "gap inside batch",
			ops:  []ir.Operation{testutil.Op("x", 5, 0), testutil.Op("y", 7, 0)},
			code: ErrCodeMissingOperations,
		},
		{
			name: "duplicate index",
			ops:  []ir.Operation{testutil.Op("x", 5, 0), testutil.Op("y", 5, 0)},
			code: ErrCodeDuplicateIndex,
		},
		{
			name: "excessive reshuffle",
			opts: []Option{WithMaxSkip(1)},
			ops:  []ir.Operation{testutil.Op("b3", 3, 0), testutil.Op("b4", 4, 0)},
			code: ErrCodeExcessiveReshuffle,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.opts...)
			f.seed(t, testutil.History("a", 5)...)

			_, err := f.reactor.Load(context.Background(), incoming(tt.ops...), "remote-a")
			require.Error(t, err)
			assert.True(t, IsLoadError(err, tt.code), "got %v", err)
			assert.Len(t, f.history(t), 5)
		})
	}
}

func TestLoad_EmptyBatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.reactor.Load(context.Background(), nil, "remote-a")
	var reqErr *RequestError
	assert.ErrorAs(t, err, &reqErr)
}

func TestLoad_MultipleScopes(t *testing.T) {
	f := newFixture(t)

	ops := append(
		testutil.WithContext([]ir.Operation{testutil.Op("x0", 0, 0), testutil.Op("x1", 1, 0)}, "doc-1", "global", "main", 1),
		testutil.WithContext([]ir.Operation{testutil.Op("y0", 0, 0)}, "doc-2", "global", "main", 3)...,
	)
	res, err := f.reactor.Load(context.Background(), ops, "remote-a")
	require.NoError(t, err)

	assert.Len(t, res.Operations, 3)
	assert.Equal(t, []ir.ConsistencyCoordinate{
		{DocumentID: "doc-1", Scope: "global", Branch: "main", OperationIndex: 1},
		{DocumentID: "doc-2", Scope: "global", Branch: "main", OperationIndex: 0},
	}, res.Token.Coordinates)
	assert.Len(t, f.published(), 2)
}

type countingProjection struct {
	calls atomic.Int32
	err   error
}

func (p *countingProjection) ProcessWritten(context.Context) error {
	p.calls.Add(1)
	return p.err
}

func TestReactor_ProjectionOwnsTrackerUpdates(t *testing.T) {
	proj := &countingProjection{err: errors.New("index unavailable")}
	f := newFixture(t, WithProjection(proj))

	res, err := f.reactor.Write(context.Background(), WriteRequest{DocumentID: "doc-1", Scope: "global", Actions: []ir.Action{testAction()}})
	require.NoError(t, err, "projection failures do not fail the write")
	assert.Len(t, res.Operations, 1)
	assert.Equal(t, int32(1), proj.calls.Load())

	_, ok := f.tracker.GetLatest(docKey)
	assert.False(t, ok)
}

func TestReactor_Unsubscribe(t *testing.T) {
	f := newFixture(t)
	var calls atomic.Int32
	unsubscribe := f.reactor.Subscribe(func(OperationsWritten) { calls.Add(1) })

	req := WriteRequest{DocumentID: "doc-1", Scope: "global", Actions: []ir.Action{testAction()}}
	_, err := f.reactor.Write(context.Background(), req)
	require.NoError(t, err)
	unsubscribe()
	_, err = f.reactor.Write(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.Len(t, f.published(), 2)
}

func TestReactor_StopRejectsJobs(t *testing.T) {
	r := New(setupTestStore(t, "stop.db"), consistency.New())
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	r.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}

	_, err := r.Write(context.Background(), WriteRequest{DocumentID: "doc-1", Scope: "global", Actions: []ir.Action{testAction()}})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestReactor_RunReturnsOnCancel(t *testing.T) {
	r := New(setupTestStore(t, "cancel.db"), consistency.New())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 0, r.QueueLen())
}

func TestReactor_SnapshotAndRestore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.reactor.Write(ctx, WriteRequest{DocumentID: "doc-1", Scope: "global", Actions: []ir.Action{testAction(), testAction()}})
	require.NoError(t, err)
	require.NoError(t, f.reactor.Snapshot(ctx))

	tracker := consistency.New()
	restored := New(f.store, tracker)
	require.NoError(t, restored.Restore(ctx))

	latest, ok := tracker.GetLatest(docKey)
	require.True(t, ok)
	assert.Equal(t, int64(1), latest)
}
