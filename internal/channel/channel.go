package channel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/docsync/internal/clock"
	"github.com/roach88/docsync/internal/ir"
)

// Channel moves SyncOperations between the local reactor and one remote.
type Channel interface {
	// Inbox holds operations received from the remote.
	Inbox() Mailbox
	// Outbox holds operations waiting to be sent.
	Outbox() Mailbox
	// DeadLetter holds operations that failed unrecoverably.
	DeadLetter() Mailbox
	// Init registers the channel and starts any background activity.
	Init(ctx context.Context) error
	// Shutdown flushes buffered notifications and stops background activity.
	// Mailbox contents are preserved.
	Shutdown() error
}

// CursorStorage persists mailbox acknowledgement cursors per remote.
type CursorStorage interface {
	List(ctx context.Context, remoteName string) ([]ir.RemoteCursor, error)
	Upsert(ctx context.Context, cursor ir.RemoteCursor) error
	Remove(ctx context.Context, remoteName string) error
}

// HealthState summarizes a channel's recent transport outcomes.
type HealthState string

const (
	HealthIdle    HealthState = "idle"
	HealthRunning HealthState = "running"
	HealthError   HealthState = "error"
)

// Health is a point-in-time view of a channel's transport state.
type Health struct {
	State            HealthState `json:"state"`
	LastSuccessUtcMs int64       `json:"lastSuccessUtcMs,omitempty"`
	LastFailureUtcMs int64       `json:"lastFailureUtcMs,omitempty"`
	FailureCount     int         `json:"failureCount"`
}

// CreateIdleHealth returns the health of a channel with no activity yet.
func CreateIdleHealth() Health {
	return Health{State: HealthIdle}
}

// cursorPersister writes a mailbox's cursor when Applied items leave it.
//
// A cursor is written only when the batch's highest Applied ordinal exceeds
// the last value written. Failures are logged; a lost write only causes a
// resend, which receivers deduplicate.
type cursorPersister struct {
	storage    CursorStorage
	remoteName string
	channelID  string
	cursorType ir.CursorType
	clock      clock.Clock
	logger     *slog.Logger

	mu            sync.Mutex
	lastPersisted int64
}

func newCursorPersister(storage CursorStorage, remoteName, channelID string, cursorType ir.CursorType, clk clock.Clock, logger *slog.Logger) *cursorPersister {
	return &cursorPersister{
		storage:    storage,
		remoteName: remoteName,
		channelID:  channelID,
		cursorType: cursorType,
		clock:      clk,
		logger:     logger,
	}
}

// seed records a cursor value loaded from storage.
func (p *cursorPersister) seed(ordinal int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ordinal > p.lastPersisted {
		p.lastPersisted = ordinal
	}
}

// attach registers the persister on mb's removals.
func (p *cursorPersister) attach(mb Mailbox) {
	mb.OnRemoved(func(items []*SyncOperation) error {
		p.onRemoved(items)
		return nil
	})
}

func (p *cursorPersister) onRemoved(items []*SyncOperation) {
	ordinal := LatestAppliedOrdinal(items)
	p.mu.Lock()
	if ordinal <= p.lastPersisted {
		p.mu.Unlock()
		return
	}
	p.lastPersisted = ordinal
	p.mu.Unlock()

	if err := p.write(context.Background(), ordinal); err != nil {
		p.logger.Error("failed to persist cursor; operations may be resent",
			"channel", p.channelID,
			"remote", p.remoteName,
			"cursor_type", string(p.cursorType),
			"ordinal", ordinal,
			"error", err,
		)
	}
}

func (p *cursorPersister) write(ctx context.Context, ordinal int64) error {
	return p.storage.Upsert(ctx, ir.RemoteCursor{
		RemoteName:        p.remoteName,
		CursorType:        p.cursorType,
		CursorOrdinal:     ordinal,
		LastSyncedAtUtcMs: p.clock.Now().UnixMilli(),
	})
}

// loadCursors reads the stored inbox and outbox ordinals for remoteName.
// Missing cursors read as 0.
func loadCursors(ctx context.Context, storage CursorStorage, remoteName string) (inbox, outbox int64, err error) {
	cursors, err := storage.List(ctx, remoteName)
	if err != nil {
		return 0, 0, err
	}
	for _, c := range cursors {
		switch c.CursorType {
		case ir.CursorInbox:
			inbox = c.CursorOrdinal
		case ir.CursorOutbox:
			outbox = c.CursorOrdinal
		}
	}
	return inbox, outbox, nil
}

func nowMillis(clk clock.Clock) int64 {
	return clk.Now().UnixMilli()
}

// defaultTimeout bounds a single remote request when the caller set none.
const defaultTimeout = 30 * time.Second
