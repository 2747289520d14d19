package channel

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/roach88/docsync/internal/clock"
)

// PollDelegate performs one poll. A non-nil error makes the timer back off.
type PollDelegate func() error

// PollTimer drives a channel's inbound polling.
type PollTimer interface {
	SetDelegate(d PollDelegate)
	Start()
	Stop()
}

// IntervalOptions configures an IntervalPollTimer.
type IntervalOptions struct {
	Interval       time.Duration
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// Random returns a value in [0, 1] used to jitter backoff delays.
	Random func() float64
}

const (
	defaultPollInterval   = 2 * time.Second
	defaultRetryBaseDelay = time.Second
	defaultRetryMaxDelay  = 5 * time.Minute
)

// IntervalPollTimer calls its delegate on Start and then every Interval
// after the previous call returned. After a failed call the next one is
// delayed by CalculateBackoffDelay; a success resets to Interval.
//
// Calls never overlap. Stop cancels the pending tick; a call in progress
// completes but schedules nothing.
type IntervalPollTimer struct {
	clock clock.Clock
	opts  IntervalOptions

	mu       sync.Mutex
	delegate PollDelegate
	running  bool
	paused   bool
	failures int
	timer    clock.Timer
	// gen invalidates ticks scheduled before the last Start or Stop.
	gen uint64
}

// NewIntervalPollTimer creates a stopped timer. Zero options take defaults.
func NewIntervalPollTimer(clk clock.Clock, opts IntervalOptions) *IntervalPollTimer {
	if opts.Interval <= 0 {
		opts.Interval = defaultPollInterval
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = defaultRetryBaseDelay
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = defaultRetryMaxDelay
	}
	if opts.Random == nil {
		opts.Random = rand.Float64
	}
	return &IntervalPollTimer{clock: clk, opts: opts}
}

var _ PollTimer = (*IntervalPollTimer)(nil)

// SetDelegate sets the poll function.
func (t *IntervalPollTimer) SetDelegate(d PollDelegate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.delegate = d
}

// Start resets the backoff state and schedules an immediate tick.
func (t *IntervalPollTimer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = true
	t.paused = false
	t.failures = 0
	t.gen++
	t.scheduleLocked(0)
}

// Stop cancels the pending tick.
func (t *IntervalPollTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	t.gen++
	t.cancelLocked()
}

// Pause cancels the pending tick without stopping the timer.
func (t *IntervalPollTimer) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.paused = true
	t.gen++
	t.cancelLocked()
}

// Resume schedules the next tick after a Pause.
func (t *IntervalPollTimer) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running || !t.paused {
		return
	}
	t.paused = false
	t.gen++
	t.scheduleLocked(t.opts.Interval)
}

// TriggerNow schedules an immediate tick, even while paused.
func (t *IntervalPollTimer) TriggerNow() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.cancelLocked()
	t.gen++
	gen := t.gen
	t.timer = t.clock.AfterFunc(0, func() { t.tick(gen, true) })
}

// IsRunning reports whether the timer was started and not stopped.
func (t *IntervalPollTimer) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// IsPaused reports whether the timer is paused.
func (t *IntervalPollTimer) IsPaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// Interval returns the delay between successful polls.
func (t *IntervalPollTimer) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opts.Interval
}

// SetInterval changes the delay used by subsequently scheduled ticks.
func (t *IntervalPollTimer) SetInterval(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d > 0 {
		t.opts.Interval = d
	}
}

func (t *IntervalPollTimer) scheduleLocked(d time.Duration) {
	t.cancelLocked()
	gen := t.gen
	t.timer = t.clock.AfterFunc(d, func() { t.tick(gen, false) })
}

func (t *IntervalPollTimer) cancelLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *IntervalPollTimer) tick(gen uint64, forced bool) {
	t.mu.Lock()
	if gen != t.gen || !t.running || (t.paused && !forced) {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	delegate := t.delegate
	t.mu.Unlock()

	var err error
	if delegate != nil {
		err = delegate()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen || !t.running || t.paused {
		return
	}
	next := t.opts.Interval
	if err != nil {
		t.failures++
		next = CalculateBackoffDelay(t.failures, t.opts.RetryBaseDelay, t.opts.RetryMaxDelay, t.opts.Random())
	} else {
		t.failures = 0
	}
	t.scheduleLocked(next)
}

// ManualPollTimer polls only when Tick is called. Used by tests and by
// callers that drive polling themselves.
type ManualPollTimer struct {
	mu       sync.Mutex
	delegate PollDelegate
	running  bool
	starts   int
}

// NewManualPollTimer creates a stopped manual timer.
func NewManualPollTimer() *ManualPollTimer {
	return &ManualPollTimer{}
}

var _ PollTimer = (*ManualPollTimer)(nil)

// SetDelegate sets the poll function.
func (m *ManualPollTimer) SetDelegate(d PollDelegate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delegate = d
}

// Start marks the timer running.
func (m *ManualPollTimer) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true
	m.starts++
}

// Stop marks the timer stopped.
func (m *ManualPollTimer) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
}

// Running reports whether the timer is started.
func (m *ManualPollTimer) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Starts returns how many times Start was called.
func (m *ManualPollTimer) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

// Tick runs the delegate once if the timer is running.
func (m *ManualPollTimer) Tick() error {
	m.mu.Lock()
	d, running := m.delegate, m.running
	m.mu.Unlock()
	if !running || d == nil {
		return nil
	}
	return d()
}
