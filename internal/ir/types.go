package ir

import (
	"encoding/json"
	"strconv"
	"time"
)

// Operation is one committed, hashed state change in a document scope's log.
//
// Index is the canonical position in the scope's log. Skip records how many
// immediately preceding positions this operation supersedes; garbage
// collection drops them without renumbering.
type Operation struct {
	ID             string `json:"id"`
	Index          int64  `json:"index"`
	Skip           int64  `json:"skip"`
	Hash           string `json:"hash"`
	TimestampUtcMs string `json:"timestampUtcMs"`
	Action         Action `json:"action"`
	Error          string `json:"error,omitempty"`
}

// Action is the user intent an Operation records.
type Action struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	Scope          string         `json:"scope"`
	Input          ActionInput    `json:"-"`
	TimestampUtcMs string         `json:"timestampUtcMs"`
	Context        *ActionContext `json:"context,omitempty"`
}

// ActionContext carries optional attribution for an action.
//
// Signer is opaque to docsync: it is stored, merged, and transported as the
// exact bytes it arrived with. Its JSON form is a string holding those bytes.
type ActionContext struct {
	Signer json.RawMessage `json:"signer,omitempty"`
}

// OperationContext identifies where an operation belongs.
//
// Ordinal is the position in a global per-remote stream, distinct from the
// per-document Operation.Index.
type OperationContext struct {
	DocumentID   string `json:"documentId"`
	DocumentType string `json:"documentType"`
	Scope        string `json:"scope"`
	Branch       string `json:"branch"`
	Ordinal      int64  `json:"ordinal"`
}

// OperationWithContext pairs an operation with its addressing.
type OperationWithContext struct {
	Operation Operation        `json:"operation"`
	Context   OperationContext `json:"context"`
}

// Coordinate returns the consistency coordinate this operation satisfies.
func (o OperationWithContext) Coordinate() ConsistencyCoordinate {
	return ConsistencyCoordinate{
		DocumentID:     o.Context.DocumentID,
		Scope:          o.Context.Scope,
		Branch:         o.Context.Branch,
		OperationIndex: o.Operation.Index,
	}
}

// TimestampMillis parses an operation timestamp.
//
// Accepts RFC 3339 strings (the format new operations are written with) and
// plain integer milliseconds. Returns false when neither parses.
func TimestampMillis(ts string) (int64, bool) {
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		return t.UnixMilli(), true
	}
	if ms, err := strconv.ParseInt(ts, 10, 64); err == nil {
		return ms, true
	}
	return 0, false
}

// FormatTimestamp renders t the way operation timestamps are written.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
