package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/docsync/internal/clock"
	"github.com/roach88/docsync/internal/ir"
)

// SendFunc delivers an envelope to the peer of an InternalChannel.
type SendFunc func(env ir.SyncEnvelope) error

// Option configures a channel.
type Option func(*options)

type options struct {
	logger *slog.Logger
	clock  clock.Clock
}

func defaultOptions() options {
	return options{logger: slog.Default(), clock: clock.Real{}}
}

// WithLogger sets the channel's logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock sets the clock used for timers and cursor timestamps.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// InternalChannel connects two reactors in the same process.
//
// Every SyncOperation added to the outbox is sent at once through the send
// function, one envelope per operation. A successful send marks it Applied
// and removes it; a failed send marks it Error and moves it to the
// dead-letter mailbox. The peer delivers with ReceiveEnvelope.
type InternalChannel struct {
	id         string
	remoteName string
	storage    CursorStorage
	send       SendFunc
	opts       options

	inbox      *MemoryMailbox
	outbox     *MemoryMailbox
	deadLetter *MemoryMailbox

	inboxCursor  *cursorPersister
	outboxCursor *cursorPersister

	mu       sync.Mutex
	shutdown bool
}

// NewInternalChannel creates a channel sending through send.
func NewInternalChannel(id, remoteName string, storage CursorStorage, send SendFunc, opts ...Option) *InternalChannel {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	c := &InternalChannel{
		id:         id,
		remoteName: remoteName,
		storage:    storage,
		send:       send,
		opts:       o,
		inbox:      NewMailbox(),
		outbox:     NewMailbox(),
		deadLetter: NewMailbox(),
	}
	c.inboxCursor = newCursorPersister(storage, remoteName, id, ir.CursorInbox, o.clock, o.logger)
	c.outboxCursor = newCursorPersister(storage, remoteName, id, ir.CursorOutbox, o.clock, o.logger)
	c.inboxCursor.attach(c.inbox)
	c.outboxCursor.attach(c.outbox)
	c.outbox.OnAdded(c.handleOutboxAdded)
	return c
}

var _ Channel = (*InternalChannel)(nil)

// ID returns the channel id.
func (c *InternalChannel) ID() string { return c.id }

// Inbox implements Channel.
func (c *InternalChannel) Inbox() Mailbox { return c.inbox }

// Outbox implements Channel.
func (c *InternalChannel) Outbox() Mailbox { return c.outbox }

// DeadLetter implements Channel.
func (c *InternalChannel) DeadLetter() Mailbox { return c.deadLetter }

// Init seeds the mailboxes from the stored cursors.
func (c *InternalChannel) Init(ctx context.Context) error {
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

// Shutdown stops sending and receiving. Mailbox contents are kept.
func (c *InternalChannel) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdown = true
	return nil
}

// ReceiveEnvelope converts env into SyncOperations in ExecutionPending and
// adds them to the inbox.
func (c *InternalChannel) ReceiveEnvelope(env ir.SyncEnvelope) error {
	if c.isShutdown() {
		return fmt.Errorf("channel %s cannot receive envelopes: %w", c.id, ErrChannelShutdown)
	}
	ops := EnvelopeToSyncOperations(env, c.remoteName)
	for _, op := range ops {
		op.Transported()
	}
	return c.inbox.Add(ops...)
}

// UpdateCursor persists ordinal as the inbox cursor.
func (c *InternalChannel) UpdateCursor(ctx context.Context, ordinal int64) error {
	c.inboxCursor.seed(ordinal)
	return c.inboxCursor.write(ctx, ordinal)
}

func (c *InternalChannel) handleOutboxAdded(items []*SyncOperation) error {
	if c.isShutdown() {
		return nil
	}
	for _, item := range items {
		item.Started()
		if err := c.send(SyncOperationToEnvelope(c.id, item)); err != nil {
			c.opts.logger.Warn("internal channel send failed",
				"channel", c.id,
				"sync_op", item.ID,
				"error", err,
			)
			item.Failed(&ChannelError{Source: SourceOutbox, Err: err})
			if err := c.deadLetter.Add(item); err != nil {
				c.opts.logger.Error("dead letter callback failed", "channel", c.id, "error", err)
			}
		} else {
			item.Executed()
		}
		if err := c.outbox.Remove(item); err != nil {
			c.opts.logger.Error("outbox remove callback failed", "channel", c.id, "error", err)
		}
	}
	return nil
}

func (c *InternalChannel) isShutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdown
}
