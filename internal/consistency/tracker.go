// Package consistency tracks the highest applied operation index per
// (document, scope, branch) and lets readers wait until a write is visible.
package consistency

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/roach88/docsync/internal/clock"
	"github.com/roach88/docsync/internal/ir"
)

// WaitErrorCode categorizes a failed wait.
type WaitErrorCode string

const (
	// ErrCodeTimeout indicates the wait's timeout elapsed first.
	ErrCodeTimeout WaitErrorCode = "TIMEOUT"

	// ErrCodeAborted indicates the wait's context was cancelled first.
	ErrCodeAborted WaitErrorCode = "ABORTED"
)

// WaitError is returned by WaitFor when it gives up before every coordinate
// is satisfied.
type WaitError struct {
	Code WaitErrorCode
	// Pending lists the coordinates that were still unsatisfied.
	Pending []ir.ConsistencyCoordinate
	// Err is the context error for ErrCodeAborted.
	Err error
}

func (e *WaitError) Error() string {
	switch e.Code {
	case ErrCodeTimeout:
		return fmt.Sprintf("consistency wait timed out with %d coordinate(s) pending", len(e.Pending))
	default:
		return fmt.Sprintf("consistency wait aborted: %v", e.Err)
	}
}

func (e *WaitError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a wait timeout.
func IsTimeout(err error) bool {
	var we *WaitError
	return errors.As(err, &we) && we.Code == ErrCodeTimeout
}

// IsAborted reports whether err is a cancelled wait.
func IsAborted(err error) bool {
	var we *WaitError
	return errors.As(err, &we) && we.Code == ErrCodeAborted
}

// Entry is one key of a serialized tracker.
type Entry struct {
	Key   ir.ConsistencyKey `json:"key"`
	Index int64             `json:"index"`
}

type waiter struct {
	coords []ir.ConsistencyCoordinate
	done   chan struct{}
}

// Tracker maps consistency keys to the highest applied operation index.
//
// The tracked value for a key never decreases. Tracker is process-wide shared
// state; it is mutated only through Update and Hydrate.
//
// Thread-safety: all methods are safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	latest  map[ir.ConsistencyKey]int64
	waiters map[*waiter]struct{}
	clock   clock.Clock
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the clock that times WaitFor timeouts.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) {
		if c != nil {
			t.clock = c
		}
	}
}

// New creates an empty tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		latest:  make(map[ir.ConsistencyKey]int64),
		waiters: make(map[*waiter]struct{}),
		clock:   clock.Real{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Update records applied coordinates and releases satisfied waiters.
//
// Each key keeps the max of its existing value and every coordinate given for
// it in this call.
func (t *Tracker) Update(coords []ir.ConsistencyCoordinate) {
	if len(coords) == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, c := range coords {
		key := c.Key()
		if cur, ok := t.latest[key]; !ok || c.OperationIndex > cur {
			t.latest[key] = c.OperationIndex
		}
	}
	t.releaseLocked()
}

// GetLatest returns the highest applied index for key.
func (t *Tracker) GetLatest(key ir.ConsistencyKey) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.latest[key]
	return v, ok
}

// WaitFor blocks until every coordinate has been applied.
//
// Returns nil at once when already satisfied, including for an empty list.
// Fails with ErrCodeAborted if ctx is done before that (checked before
// registering too), and with ErrCodeTimeout if timeout > 0 elapses first.
// Concurrent waits are independent; each resolves exactly once.
func (t *Tracker) WaitFor(ctx context.Context, coords []ir.ConsistencyCoordinate, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return &WaitError{Code: ErrCodeAborted, Pending: coords, Err: err}
	}

	t.mu.Lock()
	pending := t.unsatisfiedLocked(coords)
	if len(pending) == 0 {
		t.mu.Unlock()
		return nil
	}
	w := &waiter{coords: pending, done: make(chan struct{})}
	t.waiters[w] = struct{}{}
	t.mu.Unlock()

	var timeoutC chan struct{}
	if timeout > 0 {
		timeoutC = make(chan struct{})
		timer := t.clock.AfterFunc(timeout, func() { close(timeoutC) })
		defer timer.Stop()
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return t.abandon(w, &WaitError{Code: ErrCodeAborted, Err: ctx.Err()})
	case <-timeoutC:
		return t.abandon(w, &WaitError{Code: ErrCodeTimeout})
	}
}

// abandon deregisters w. If an Update satisfied w concurrently, the wait
// counts as resolved.
func (t *Tracker) abandon(w *waiter, werr *WaitError) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.waiters[w]; !ok {
		return nil
	}
	delete(t.waiters, w)
	werr.Pending = t.unsatisfiedLocked(w.coords)
	return werr
}

// Serialize returns the tracked state sorted by key.
func (t *Tracker) Serialize() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, 0, len(t.latest))
	for k, v := range t.latest {
		out = append(out, Entry{Key: k, Index: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Hydrate replaces the tracked state with entries.
//
// Pending waiters that the new state satisfies are released.
func (t *Tracker) Hydrate(entries []Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latest = make(map[ir.ConsistencyKey]int64, len(entries))
	for _, e := range entries {
		if cur, ok := t.latest[e.Key]; !ok || e.Index > cur {
			t.latest[e.Key] = e.Index
		}
	}
	t.releaseLocked()
}

func (t *Tracker) unsatisfiedLocked(coords []ir.ConsistencyCoordinate) []ir.ConsistencyCoordinate {
	var pending []ir.ConsistencyCoordinate
	for _, c := range coords {
		if cur, ok := t.latest[c.Key()]; !ok || cur < c.OperationIndex {
			pending = append(pending, c)
		}
	}
	return pending
}

func (t *Tracker) releaseLocked() {
	for w := range t.waiters {
		if len(t.unsatisfiedLocked(w.coords)) == 0 {
			delete(t.waiters, w)
			close(w.done)
		}
	}
}
