// Package syncmgr connects a reactor to its remotes.
//
// A Manager owns one channel per persisted remote. It routes every batch
// the reactor writes into the outbox of each remote whose filter matches,
// skipping the remote the batch came from, and applies what arrives in a
// remote's inbox through the reactor's Load.
//
// Inbox application runs on one worker goroutine per remote, so a channel
// delivering into an inbox never waits for the local reactor. This matters
// when both ends of an InternalChannel live in the same process: each
// reactor's Run loop may deliver into the other's inbox while the other is
// busy.
//
// Adding a remote backfills its outbox from the operation log, and a restart
// re-queues everything after the outbox cursor.
package syncmgr
