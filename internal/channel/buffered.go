package channel

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/docsync/internal/clock"
)

// BufferedMailbox stores items immediately but defers and coalesces the
// OnAdded and OnRemoved notifications.
//
// Each direction keeps its own buffer and debounce timer. A buffer is
// delivered when its timer fires (the timer is reset on every add or remove
// in that direction) or as soon as it holds maxQueued items, whichever comes
// first. Flush delivers both buffers and cancels the timers.
type BufferedMailbox struct {
	inner     *MemoryMailbox
	clock     clock.Clock
	delay     time.Duration
	maxQueued int
	logger    *slog.Logger

	mu        sync.Mutex
	onAdded   []MailboxCallback
	onRemoved []MailboxCallback
	added     buffer
	removed   buffer
}

type buffer struct {
	items []*SyncOperation
	timer clock.Timer
}

// NewBufferedMailbox creates a buffered mailbox. A maxQueued below 1 is
// treated as 1.
func NewBufferedMailbox(clk clock.Clock, delay time.Duration, maxQueued int) *BufferedMailbox {
	if maxQueued < 1 {
		maxQueued = 1
	}
	return &BufferedMailbox{
		inner:     NewMailbox(),
		clock:     clk,
		delay:     delay,
		maxQueued: maxQueued,
		logger:    slog.Default(),
	}
}

var _ Mailbox = (*BufferedMailbox)(nil)

// Add implements Mailbox. The returned error is non-nil only when this call
// triggered a maxQueued flush and a callback failed.
func (b *BufferedMailbox) Add(items ...*SyncOperation) error {
	if len(items) == 0 {
		return nil
	}
	b.inner.store(items)
	return b.enqueue(true, items)
}

// Remove implements Mailbox.
func (b *BufferedMailbox) Remove(items ...*SyncOperation) error {
	removed := b.inner.drop(items)
	if len(removed) == 0 {
		return nil
	}
	return b.enqueue(false, removed)
}

// Get implements Mailbox.
func (b *BufferedMailbox) Get(id string) (*SyncOperation, bool) { return b.inner.Get(id) }

// Items implements Mailbox.
func (b *BufferedMailbox) Items() []*SyncOperation { return b.inner.Items() }

// Init implements Mailbox.
func (b *BufferedMailbox) Init(ackOrdinal int64) { b.inner.Init(ackOrdinal) }

// AckOrdinal implements Mailbox.
func (b *BufferedMailbox) AckOrdinal() int64 { return b.inner.AckOrdinal() }

// LatestOrdinal implements Mailbox.
func (b *BufferedMailbox) LatestOrdinal() int64 { return b.inner.LatestOrdinal() }

// OnAdded implements Mailbox.
func (b *BufferedMailbox) OnAdded(cb MailboxCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onAdded = append(b.onAdded, cb)
}

// OnRemoved implements Mailbox.
func (b *BufferedMailbox) OnRemoved(cb MailboxCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onRemoved = append(b.onRemoved, cb)
}

// Flush delivers both buffers now and cancels their timers. Errors from
// both directions are joined.
func (b *BufferedMailbox) Flush() error {
	return errors.Join(b.flush(true), b.flush(false))
}

func (b *BufferedMailbox) enqueue(added bool, items []*SyncOperation) error {
	b.mu.Lock()
	buf := b.bufferLocked(added)
	buf.items = append(buf.items, items...)
	if len(buf.items) >= b.maxQueued {
		b.mu.Unlock()
		return b.flush(added)
	}
	if buf.timer != nil {
		buf.timer.Stop()
	}
	buf.timer = b.clock.AfterFunc(b.delay, func() {
		if err := b.flush(added); err != nil {
			b.logger.Error("buffered mailbox flush failed",
				"direction", direction(added),
				"error", err,
			)
		}
	})
	b.mu.Unlock()
	return nil
}

func (b *BufferedMailbox) flush(added bool) error {
	b.mu.Lock()
	buf := b.bufferLocked(added)
	if buf.timer != nil {
		buf.timer.Stop()
		buf.timer = nil
	}
	items := buf.items
	buf.items = nil
	var cbs []MailboxCallback
	if added {
		cbs = append(cbs, b.onAdded...)
	} else {
		cbs = append(cbs, b.onRemoved...)
	}
	b.mu.Unlock()

	if len(items) == 0 {
		return nil
	}
	return runCallbacks(cbs, items)
}

func (b *BufferedMailbox) bufferLocked(added bool) *buffer {
	if added {
		return &b.added
	}
	return &b.removed
}

func direction(added bool) string {
	if added {
		return "added"
	}
	return "removed"
}
