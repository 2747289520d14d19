// Package clock abstracts wall time and timers so debounce, retry and poll
// scheduling can be driven deterministically in tests.
package clock

import "time"

// Timer is a cancellable handle for a scheduled callback.
type Timer interface {
	// Stop cancels the callback. Returns false if it already ran or was stopped.
	Stop() bool
}

// Clock provides the current time and schedules callbacks.
//
// Implemented by Real (production) and testutil.FakeClock (tests).
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real is the wall clock.
//
// Thread-safety: Real is stateless and safe for concurrent use.
type Real struct{}

// Now returns time.Now().
func (Real) Now() time.Time {
	return time.Now()
}

// AfterFunc runs f in its own goroutine after d.
func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
