package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/docsync/internal/ir"
)

// ResponseChannel is the passive server side of a RequestChannel.
//
// It never initiates traffic. Operations the client pushes arrive through
// ReceiveEnvelope; operations queued for the client wait in the outbox until
// the client polls for them and later acknowledges them.
type ResponseChannel struct {
	id         string
	remoteName string
	storage    CursorStorage
	opts       options

	inbox      *MemoryMailbox
	outbox     *MemoryMailbox
	deadLetter *MemoryMailbox

	inboxCursor  *cursorPersister
	outboxCursor *cursorPersister

	mu       sync.Mutex
	shutdown bool
}

// NewResponseChannel creates a response channel for the client registered
// as remoteName.
func NewResponseChannel(id, remoteName string, storage CursorStorage, opts ...Option) *ResponseChannel {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	c := &ResponseChannel{
		id:         id,
		remoteName: remoteName,
		storage:    storage,
		opts:       o,
		inbox:      NewMailbox(),
		outbox:     NewMailbox(),
		deadLetter: NewMailbox(),
	}
	c.inboxCursor = newCursorPersister(storage, remoteName, id, ir.CursorInbox, o.clock, o.logger)
	c.outboxCursor = newCursorPersister(storage, remoteName, id, ir.CursorOutbox, o.clock, o.logger)
	c.inboxCursor.attach(c.inbox)
	c.outboxCursor.attach(c.outbox)
	return c
}

var _ Channel = (*ResponseChannel)(nil)

// ID returns the channel id.
func (c *ResponseChannel) ID() string { return c.id }

// Inbox implements Channel.
func (c *ResponseChannel) Inbox() Mailbox { return c.inbox }

// Outbox implements Channel.
func (c *ResponseChannel) Outbox() Mailbox { return c.outbox }

// DeadLetter implements Channel.
func (c *ResponseChannel) DeadLetter() Mailbox { return c.deadLetter }

// Init seeds the mailboxes from the stored cursors.
func (c *ResponseChannel) Init(ctx context.Context) error {
	inbox, outbox, err := loadCursors(ctx, c.storage, c.remoteName)
	if err != nil {
		return fmt.Errorf("load cursors for %s: %w", c.remoteName, err)
	}
	c.inbox.Init(inbox)
	c.outbox.Init(outbox)
	c.inboxCursor.seed(inbox)
	c.outboxCursor.seed(outbox)
	return nil
}

// Shutdown refuses further envelopes. Mailbox contents are kept.
func (c *ResponseChannel) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdown = true
	return nil
}

// ReceiveEnvelope adds a pushed envelope's operations to the inbox in
// ExecutionPending.
func (c *ResponseChannel) ReceiveEnvelope(env ir.SyncEnvelope) error {
	if c.isShutdown() {
		return fmt.Errorf("channel %s cannot receive envelopes: %w", c.id, ErrChannelShutdown)
	}
	ops := EnvelopeToSyncOperations(env, c.remoteName)
	for _, op := range ops {
		op.Transported()
	}
	return c.inbox.Add(ops...)
}

// UpdateCursor records that the client applied everything up to ordinal:
// covered outbox items are marked Applied and removed, and the outbox cursor
// is written.
func (c *ResponseChannel) UpdateCursor(ctx context.Context, ordinal int64) error {
	c.outboxCursor.seed(ordinal)
	if err := TrimMailboxFromAckOrdinal(c.outbox, ordinal); err != nil {
		c.opts.logger.Error("outbox trim callback failed", "channel", c.id, "error", err)
	}
	return c.outboxCursor.write(ctx, ordinal)
}

// Poll answers a client poll. outboxAck acknowledges delivered operations;
// envelopes are returned for outbox items past outboxLatest, one per item in
// outbox order. AckOrdinal reports how far the client's pushes were applied.
func (c *ResponseChannel) Poll(ctx context.Context, outboxAck, outboxLatest int64) (PollResult, error) {
	if c.isShutdown() {
		return PollResult{}, fmt.Errorf("channel %s cannot be polled: %w", c.id, ErrChannelShutdown)
	}
	if outboxAck > c.outbox.AckOrdinal() {
		if err := c.UpdateCursor(ctx, outboxAck); err != nil {
			c.opts.logger.Warn("failed to persist outbox cursor", "channel", c.id, "error", err)
		}
	}

	result := PollResult{Envelopes: []ir.SyncEnvelope{}, AckOrdinal: c.inbox.AckOrdinal()}
	for _, item := range c.outbox.Items() {
		ordinal := item.MaxOrdinal()
		if ordinal <= outboxLatest || item.Status().Terminal() {
			continue
		}
		item.Started()
		env := SyncOperationToEnvelope(c.id, item)
		env.Cursor = &ir.RemoteCursor{
			RemoteName:    c.remoteName,
			CursorType:    ir.CursorOutbox,
			CursorOrdinal: ordinal,
		}
		result.Envelopes = append(result.Envelopes, env)
	}
	return result, nil
}

func (c *ResponseChannel) isShutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdown
}
