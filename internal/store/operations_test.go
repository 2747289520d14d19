package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/testutil"
)

func TestAppendOperations_AssignsOrdinals(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	written, err := s.AppendOperations(ctx, docOps("a", 3))
	if err != nil {
		t.Fatalf("AppendOperations() failed: %v", err)
	}

	for i, op := range written {
		if op.Context.Ordinal != int64(i+1) {
			t.Errorf("ordinal[%d] = %d, want %d", i, op.Context.Ordinal, i+1)
		}
	}

	maxOrdinal, err := s.MaxOrdinal(ctx)
	if err != nil {
		t.Fatalf("MaxOrdinal() failed: %v", err)
	}
	if maxOrdinal != 3 {
		t.Errorf("MaxOrdinal() = %d, want 3", maxOrdinal)
	}
}

func TestAppendOperations_ConflictingIndexFailsBatch(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.AppendOperations(ctx, docOps("a", 2)); err != nil {
		t.Fatalf("AppendOperations() failed: %v", err)
	}

	batch := testutil.WithContext([]ir.Operation{
		testutil.Op("b2", 2, 0),
		testutil.Op("b1", 1, 0),
	}, "doc-1", "global", "main", 0)
	if _, err := s.AppendOperations(ctx, batch); err == nil {
		t.Fatal("AppendOperations() with a taken index should fail")
	}

	history, err := s.GetHistory(ctx, "doc-1", "global", "main")
	if err != nil {
		t.Fatalf("GetHistory() failed: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("history length = %d, want 2 (failed batch must not be partially written)", len(history))
	}
}

func TestGetHistory_RoundTripsOperations(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	op := testutil.AddRelationship("edge", 0, "doc-a", "doc-b", "links")
	op.Action.Context = &ir.ActionContext{Signer: json.RawMessage(`{"user":{"address":"0x<1>&"},"signatures":["a","b"]}`)}
	op.Error = "reducer failed"
	other := testutil.WithContext([]ir.Operation{testutil.Op("x", 0, 0)}, "doc-2", "global", "main", 0)

	batch := append(testutil.WithContext([]ir.Operation{op}, "doc-1", "document", "main", 0), other...)
	if _, err := s.AppendOperations(ctx, batch); err != nil {
		t.Fatalf("AppendOperations() failed: %v", err)
	}

	history, err := s.GetHistory(ctx, "doc-1", "document", "main")
	if err != nil {
		t.Fatalf("GetHistory() failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	got := history[0]

	if got.ID != op.ID || got.Hash != op.Hash || got.TimestampUtcMs != op.TimestampUtcMs || got.Error != op.Error {
		t.Errorf("operation = %+v, want %+v", got, op)
	}
	input, ok := got.Action.Input.(ir.AddRelationshipInput)
	if !ok {
		t.Fatalf("input type = %T, want AddRelationshipInput", got.Action.Input)
	}
	if input.SourceID != "doc-a" || input.TargetID != "doc-b" || input.RelationshipType != "links" {
		t.Errorf("input = %+v", input)
	}
	if got.Action.Context == nil || string(got.Action.Context.Signer) != string(op.Action.Context.Signer) {
		t.Errorf("signer not preserved: %v", got.Action.Context)
	}
}

func TestGetHistory_KeepsSignerAndInputBytes(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	signer := "{\"user\": {\"address\": \"0x1\"},\n  \"signatures\": [\"a\"]}"
	input := `{ "title" :  "draft" }`
	op := testutil.Op("spaced", 0, 0)
	op.Action.Type = "SET_TITLE"
	op.Action.Input = ir.OpaqueInput{Type: "SET_TITLE", Raw: json.RawMessage(input)}
	op.Action.Context = &ir.ActionContext{Signer: json.RawMessage(signer)}

	if _, err := s.AppendOperations(ctx, testutil.WithContext([]ir.Operation{op}, "doc-1", "global", "main", 0)); err != nil {
		t.Fatalf("AppendOperations() failed: %v", err)
	}
	history, err := s.GetHistory(ctx, "doc-1", "global", "main")
	if err != nil {
		t.Fatalf("GetHistory() failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	got := history[0].Action
	if got.Context == nil || string(got.Context.Signer) != signer {
		t.Errorf("signer = %v, want %q", got.Context, signer)
	}
	raw, ok := got.Input.(ir.OpaqueInput)
	if !ok {
		t.Fatalf("input type = %T, want OpaqueInput", got.Input)
	}
	if string(raw.Raw) != input {
		t.Errorf("input = %q, want %q", raw.Raw, input)
	}
}

func TestGetHistory_EmptyScope(t *testing.T) {
	s := createTestStore(t)

	history, err := s.GetHistory(context.Background(), "missing", "global", "main")
	if err != nil {
		t.Fatalf("GetHistory() failed: %v", err)
	}
	if history == nil || len(history) != 0 {
		t.Errorf("GetHistory() = %v, want empty non-nil slice", history)
	}
}

func TestGetSinceID_Pages(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.AppendOperations(ctx, docOps("a", 5)); err != nil {
		t.Fatalf("AppendOperations() failed: %v", err)
	}

	page, err := s.GetSinceID(ctx, 0, 2)
	if err != nil {
		t.Fatalf("GetSinceID() failed: %v", err)
	}
	if len(page) != 2 || page[0].Context.Ordinal != 1 || page[1].Context.Ordinal != 2 {
		t.Fatalf("first page = %v", page)
	}

	rest, err := s.GetSinceID(ctx, page[1].Context.Ordinal, 0)
	if err != nil {
		t.Fatalf("GetSinceID() failed: %v", err)
	}
	if len(rest) != 3 || rest[0].Context.Ordinal != 3 {
		t.Errorf("rest = %v", rest)
	}
	if rest[0].Context.DocumentType != "test/document" {
		t.Errorf("document type = %q", rest[0].Context.DocumentType)
	}
}

func TestGetOperation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.AppendOperations(ctx, docOps("a", 1)); err != nil {
		t.Fatalf("AppendOperations() failed: %v", err)
	}

	op, err := s.GetOperation(ctx, 1)
	if err != nil {
		t.Fatalf("GetOperation() failed: %v", err)
	}
	if op.Operation.ID != "op-a0" {
		t.Errorf("id = %q, want op-a0", op.Operation.ID)
	}

	if _, err := s.GetOperation(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetOperation(99) = %v, want ErrNotFound", err)
	}
}

func TestLatestTimestamp(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	ts, err := s.LatestTimestamp(ctx, "collection-1")
	if err != nil {
		t.Fatalf("LatestTimestamp() failed: %v", err)
	}
	if ts != "" {
		t.Errorf("LatestTimestamp() on empty store = %q, want empty", ts)
	}

	if _, err := s.AppendOperations(ctx, docOps("a", 3)); err != nil {
		t.Fatalf("AppendOperations() failed: %v", err)
	}
	ts, err = s.LatestTimestamp(ctx, "collection-1")
	if err != nil {
		t.Fatalf("LatestTimestamp() failed: %v", err)
	}
	if ts != testutil.Timestamp(2) {
		t.Errorf("LatestTimestamp() = %q, want %q", ts, testutil.Timestamp(2))
	}
}
