// Package ir provides the shared data types for docsync.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal. This keeps ir the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Operation.Index is the per-scope log position; OperationContext.Ordinal is
//     the per-remote stream position. They are never interchangeable.
//   - Action.Input is a tagged union keyed by Action.Type, never untyped data.
//   - ActionContext.Signer is carried as raw bytes inside a JSON string, so
//     encoders never re-encode it.
//   - JSON tags use camelCase because the same types travel over the sync wire protocol.
package ir
