// Package store provides durable storage for a docsync reactor.
//
// The store holds:
//   - Operations: the per-document-scope operation log; the row id is the
//     global ordinal remotes use as their cursor position
//   - Cursors: acknowledged inbox/outbox ordinals per remote
//   - Remotes: persisted remote definitions
//   - Consistency: the last saved consistency tracker snapshot
//   - Documents, DocumentRelationships, IndexerState: the document graph
//
// # Ordering
//
// History reads are ordered by op_index ASC, skip ASC. Stream reads (backfill,
// indexing) are ordered by id ASC. Wall-clock timestamps are never used for
// ordering inside the store.
//
// # Backends
//
// SQLite (mattn/go-sqlite3) is the default and runs with:
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Postgres is reached through pgx's database/sql driver. Queries are written
// with ? placeholders and rebound to $n.
package store
