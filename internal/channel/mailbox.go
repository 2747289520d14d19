package channel

import (
	"errors"
	"fmt"
	"sync"
)

// MailboxCallback observes a batch of added or removed items.
type MailboxCallback func(items []*SyncOperation) error

// Mailbox is an ordered set of in-flight SyncOperations with an
// acknowledgement cursor.
//
// Invariant: AckOrdinal() <= LatestOrdinal().
type Mailbox interface {
	// Add stores items, replacing any item with the same id, and notifies
	// OnAdded callbacks. Returns the joined callback errors.
	Add(items ...*SyncOperation) error
	// Remove drops the stored items matching the given ids and notifies
	// OnRemoved callbacks with exactly those. Returns the joined callback errors.
	Remove(items ...*SyncOperation) error
	Get(id string) (*SyncOperation, bool)
	// Items returns the stored items in insertion order.
	Items() []*SyncOperation
	// Init seeds the ack ordinal, typically from a persisted cursor.
	Init(ackOrdinal int64)
	AckOrdinal() int64
	LatestOrdinal() int64
	OnAdded(cb MailboxCallback)
	OnRemoved(cb MailboxCallback)
}

// MemoryMailbox is the in-memory Mailbox. Callbacks fire synchronously.
type MemoryMailbox struct {
	mu        sync.Mutex
	items     []*SyncOperation
	index     map[string]int
	ack       int64
	latest    int64
	onAdded   []MailboxCallback
	onRemoved []MailboxCallback
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *MemoryMailbox {
	return &MemoryMailbox{index: make(map[string]int)}
}

var _ Mailbox = (*MemoryMailbox)(nil)

// Add implements Mailbox.
func (m *MemoryMailbox) Add(items ...*SyncOperation) error {
	if len(items) == 0 {
		return nil
	}
	m.store(items)
	return runCallbacks(m.callbacks(true), items)
}

// Remove implements Mailbox.
func (m *MemoryMailbox) Remove(items ...*SyncOperation) error {
	removed := m.drop(items)
	if len(removed) == 0 {
		return nil
	}
	return runCallbacks(m.callbacks(false), removed)
}

// store inserts items without notifying. Used by BufferedMailbox.
func (m *MemoryMailbox) store(items []*SyncOperation) {
	m.mu.Lock()
	var fresh []*SyncOperation
	for _, item := range items {
		if i, ok := m.index[item.ID]; ok {
			m.items[i] = item
		} else {
			m.index[item.ID] = len(m.items)
			m.items = append(m.items, item)
		}
		if o := item.MaxOrdinal(); o > m.latest {
			m.latest = o
		}
		fresh = append(fresh, item)
	}
	m.mu.Unlock()

	for _, item := range fresh {
		m.watch(item)
	}
}

// drop removes the present items without notifying and returns them.
func (m *MemoryMailbox) drop(items []*SyncOperation) []*SyncOperation {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []*SyncOperation
	for _, item := range items {
		i, ok := m.index[item.ID]
		if !ok {
			continue
		}
		stored := m.items[i]
		m.items = append(m.items[:i], m.items[i+1:]...)
		delete(m.index, item.ID)
		for j := i; j < len(m.items); j++ {
			m.index[m.items[j].ID] = j
		}
		if stored.Status() == StatusApplied {
			m.advanceAckLocked(stored.MaxOrdinal())
		}
		removed = append(removed, stored)
	}
	return removed
}

// watch advances the ack ordinal when a contained item becomes Applied.
func (m *MemoryMailbox) watch(item *SyncOperation) {
	item.On(func(op *SyncOperation, _, next Status) {
		if next != StatusApplied {
			return
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		if i, ok := m.index[op.ID]; ok && m.items[i] == op {
			m.advanceAckLocked(op.MaxOrdinal())
		}
	})
	if item.Status() == StatusApplied {
		m.mu.Lock()
		m.advanceAckLocked(item.MaxOrdinal())
		m.mu.Unlock()
	}
}

func (m *MemoryMailbox) advanceAckLocked(ordinal int64) {
	if ordinal > m.ack {
		m.ack = ordinal
	}
	if m.ack > m.latest {
		m.latest = m.ack
	}
}

// Get implements Mailbox.
func (m *MemoryMailbox) Get(id string) (*SyncOperation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.index[id]
	if !ok {
		return nil, false
	}
	return m.items[i], true
}

// Items implements Mailbox.
func (m *MemoryMailbox) Items() []*SyncOperation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*SyncOperation(nil), m.items...)
}

// Init implements Mailbox.
func (m *MemoryMailbox) Init(ackOrdinal int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ack = ackOrdinal
	if m.latest < ackOrdinal {
		m.latest = ackOrdinal
	}
}

// AckOrdinal implements Mailbox.
func (m *MemoryMailbox) AckOrdinal() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ack
}

// LatestOrdinal implements Mailbox.
func (m *MemoryMailbox) LatestOrdinal() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest
}

// OnAdded implements Mailbox.
func (m *MemoryMailbox) OnAdded(cb MailboxCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAdded = append(m.onAdded, cb)
}

// OnRemoved implements Mailbox.
func (m *MemoryMailbox) OnRemoved(cb MailboxCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRemoved = append(m.onRemoved, cb)
}

func (m *MemoryMailbox) callbacks(added bool) []MailboxCallback {
	m.mu.Lock()
	defer m.mu.Unlock()
	if added {
		return append([]MailboxCallback(nil), m.onAdded...)
	}
	return append([]MailboxCallback(nil), m.onRemoved...)
}

// runCallbacks invokes every callback, converting panics to errors, and
// returns all failures joined.
func runCallbacks(cbs []MailboxCallback, items []*SyncOperation) error {
	var errs []error
	for _, cb := range cbs {
		if err := safeCallback(cb, items); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func safeCallback(cb MailboxCallback, items []*SyncOperation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mailbox callback panicked: %v", r)
		}
	}()
	return cb(items)
}
