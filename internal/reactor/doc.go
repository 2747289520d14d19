// Package reactor is the single writer of the operation log.
//
// ARCHITECTURE:
//
// Single-Writer Job Loop:
// Every mutation of the log goes through one goroutine. Callers submit jobs
// with Write (locally authored actions) or Load (operations received from a
// remote) and block until the job has been processed.
//
// Job Processing Flow:
//  1. Job enqueued to FIFO queue
//  2. Reactor.Run() dequeues jobs one at a time
//  3. The job appends operations to the store
//  4. The projection (the document indexer) catches up, or the consistency
//     tracker is updated directly when no projection is attached
//  5. Subscribers receive an OperationsWritten event
//  6. The caller receives the written operations and a consistency token
//
// Load Semantics:
// The log is append-only. Incoming operations whose first index follows the
// local head are appended unchanged. When they claim positions the local
// log already uses, the conflicting local tail and the incoming operations
// are reshuffled into one ordering and appended after the head. The first
// reshuffled operation carries a skip covering every conflicting position,
// so garbage collection on any replica yields the same history.
//
// A trivial append is not echoed back to the remote it came from. A
// reshuffle is sent to every remote, the source included, because the
// source has to adopt the new ordering too.
package reactor
