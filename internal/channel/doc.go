// Package channel moves operations between reactors.
//
// A Channel owns three mailboxes: an inbox of SyncOperations received from a
// remote, an outbox of SyncOperations waiting to be sent, and a dead-letter
// mailbox for operations the remote rejected. Each SyncOperation carries a
// forward-only status (Unknown, TransportPending, ExecutionPending, Applied,
// Error); reaching Applied advances the owning mailbox's ack ordinal, which
// is persisted as the channel's cursor.
//
// Implementations:
//   - InternalChannel: in-process replica pairs, delivery through a send function.
//   - RequestChannel: HTTP client speaking the GraphQL-style sync protocol
//     (touchChannel, pollSyncEnvelopes, pushSyncEnvelopes) with push retry,
//     jittered backoff, and poll-driven inbound delivery.
//   - ResponseChannel: the passive server side of a RequestChannel.
//
// Thread-safety: mailboxes and SyncOperations are safe for concurrent use.
// Observer callbacks run synchronously in registration order, outside of any
// internal lock.
package channel
