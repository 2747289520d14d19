package reactor

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/docsync/internal/clock"
	"github.com/roach88/docsync/internal/consistency"
	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/reshuffle"
	"github.com/roach88/docsync/internal/schema"
	"github.com/roach88/docsync/internal/store"
)

// DefaultMaxSkip bounds how many positions a single load may reshuffle.
const DefaultMaxSkip = 1000

// DefaultBranch is used when a write request names no branch.
const DefaultBranch = "main"

// Projection is a derived view that catches up with the log after each job.
// It is responsible for publishing applied coordinates to the tracker.
type Projection interface {
	ProcessWritten(ctx context.Context) error
}

// OperationsWritten is delivered to subscribers after every job that
// appended operations. Source is the remote the operations came from, empty
// for local writes. Reshuffled marks a load that rewrote the local tail.
type OperationsWritten struct {
	Operations []ir.OperationWithContext
	Source     string
	Reshuffled bool
}

// WriteRequest appends locally authored actions to one document scope.
type WriteRequest struct {
	DocumentID   string
	DocumentType string
	Scope        string
	Branch       string
	Actions      []ir.Action
}

// Result is what a job wrote and the token that makes it visible to reads.
type Result struct {
	Operations []ir.OperationWithContext
	Token      ir.ConsistencyToken
}

// Option configures a Reactor.
type Option func(*Reactor)

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Reactor) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock sets the clock used to stamp actions and tokens.
func WithClock(c clock.Clock) Option {
	return func(r *Reactor) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithReshuffler sets the ordering used when a load conflicts.
// Default reshuffle.ByTimestampAndIndex.
func WithReshuffler(fn reshuffle.Reshuffler) Option {
	return func(r *Reactor) {
		if fn != nil {
			r.reshuffle = fn
		}
	}
}

// WithMaxSkip sets the largest skip a load may produce. Default DefaultMaxSkip.
func WithMaxSkip(n int64) Option {
	return func(r *Reactor) {
		if n > 0 {
			r.maxSkip = n
		}
	}
}

// WithProjection attaches a projection notified after each job.
func WithProjection(p Projection) Option {
	return func(r *Reactor) {
		r.projection = p
	}
}

// WithValidator validates written and loaded actions. Without one, actions
// are stored as given.
func WithValidator(v *schema.Validator) Option {
	return func(r *Reactor) {
		r.validator = v
	}
}

// WithIDGenerator replaces the generator for new operation ids.
func WithIDGenerator(f func() string) Option {
	return func(r *Reactor) {
		if f != nil {
			r.newID = f
		}
	}
}

// Reactor serializes every append to the operation log.
//
// Thread-safety model:
//   - Write, Load, Subscribe: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//   - Subscribers run on the Run goroutine and must not call Write or Load
//     synchronously
type Reactor struct {
	store   *store.Store
	tracker *consistency.Tracker
	queue   *jobQueue

	logger     *slog.Logger
	clock      clock.Clock
	reshuffle  reshuffle.Reshuffler
	maxSkip    int64
	projection Projection
	validator  *schema.Validator
	newID      func() string

	subMu   sync.Mutex
	subs    map[int]func(OperationsWritten)
	nextSub int
}

// New creates a reactor writing to st and publishing to tracker.
func New(st *store.Store, tracker *consistency.Tracker, opts ...Option) *Reactor {
	r := &Reactor{
		store:     st,
		tracker:   tracker,
		queue:     newJobQueue(),
		logger:    slog.Default(),
		clock:     clock.Real{},
		reshuffle: reshuffle.ByTimestampAndIndex,
		maxSkip:   DefaultMaxSkip,
		newID:     newOperationID,
		subs:      make(map[int]func(OperationsWritten)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func newOperationID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Subscribe registers fn for OperationsWritten events and returns a function
// that removes it.
func (r *Reactor) Subscribe(fn func(OperationsWritten)) func() {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	return func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		delete(r.subs, id)
	}
}

func (r *Reactor) publish(ev OperationsWritten) {
	r.subMu.Lock()
	fns := make([]func(OperationsWritten), 0, len(r.subs))
	for _, id := range slices.Sorted(maps.Keys(r.subs)) {
		fns = append(fns, r.subs[id])
	}
	r.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Write appends req's actions as new operations after the scope's head.
func (r *Reactor) Write(ctx context.Context, req WriteRequest) (Result, error) {
	j := newJob(jobWrite)
	j.write = req
	return r.submit(ctx, j)
}

// Load applies operations received from source. Operations may span several
// document scopes; each scope is applied in order of first appearance.
func (r *Reactor) Load(ctx context.Context, ops []ir.OperationWithContext, source string) (Result, error) {
	j := newJob(jobLoad)
	j.ops = ops
	j.source = source
	return r.submit(ctx, j)
}

func (r *Reactor) submit(ctx context.Context, j *job) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if !r.queue.Enqueue(j) {
		return Result{}, ErrStopped
	}
	return j.wait(ctx)
}

// QueueLen returns the number of jobs waiting for the Run loop.
func (r *Reactor) QueueLen() int {
	return r.queue.Len()
}

// Run processes jobs until ctx is cancelled or Stop is called.
//
// A failed job is reported to its caller and logged; the loop continues.
// Jobs still queued when Run returns fail with ErrStopped.
func (r *Reactor) Run(ctx context.Context) error {
	r.logger.Info("reactor starting")
	defer r.failPending()

	for {
		if j, ok := r.queue.TryDequeue(); ok {
			res, err := r.process(ctx, j)
			if err != nil {
				r.logger.Error("job failed", "kind", j.kind.String(), "source", j.source, "error", err)
			}
			j.finish(res, err)
			continue
		}

		select {
		case <-ctx.Done():
			r.logger.Info("reactor stopping: context cancelled")
			return ctx.Err()
		case <-r.queue.Wait():
			if r.queue.Len() == 0 && r.queue.Closed() {
				r.logger.Info("reactor stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run processes what is already queued and returns.
func (r *Reactor) Stop() {
	r.queue.Close()
}

func (r *Reactor) failPending() {
	for _, j := range r.queue.Drain() {
		j.finish(Result{}, ErrStopped)
	}
}

func (r *Reactor) process(ctx context.Context, j *job) (Result, error) {
	switch j.kind {
	case jobWrite:
		return r.processWrite(ctx, j.write)
	case jobLoad:
		return r.processLoad(ctx, j.ops, j.source)
	default:
		return Result{}, fmt.Errorf("unknown job kind %d", j.kind)
	}
}

// Restore hydrates the tracker from the last persisted snapshot.
func (r *Reactor) Restore(ctx context.Context) error {
	entries, err := r.store.LoadConsistency(ctx)
	if err != nil {
		return fmt.Errorf("restore consistency: %w", err)
	}
	r.tracker.Hydrate(entries)
	r.logger.Debug("consistency restored", "keys", len(entries))
	return nil
}

// Snapshot persists the tracker state.
func (r *Reactor) Snapshot(ctx context.Context) error {
	if err := r.store.SaveConsistency(ctx, r.tracker.Serialize()); err != nil {
		return fmt.Errorf("snapshot consistency: %w", err)
	}
	return nil
}

// applied runs after operations reached the store: the projection or the
// tracker learns about them and subscribers are told.
func (r *Reactor) applied(ctx context.Context, written []ir.OperationWithContext, source string, reshuffled bool) {
	if len(written) == 0 {
		return
	}
	if r.projection != nil {
		if err := r.projection.ProcessWritten(ctx); err != nil {
			r.logger.Error("projection failed to catch up", "error", err)
		}
	} else {
		r.tracker.Update(coordinates(written))
	}
	r.publish(OperationsWritten{Operations: written, Source: source, Reshuffled: reshuffled})
}

func coordinates(ops []ir.OperationWithContext) []ir.ConsistencyCoordinate {
	coords := make([]ir.ConsistencyCoordinate, len(ops))
	for i, op := range ops {
		coords[i] = op.Coordinate()
	}
	return coords
}

// token keeps the highest index per key, in first-appearance order.
func (r *Reactor) token(written []ir.OperationWithContext) ir.ConsistencyToken {
	coords := coordinates(written)
	out := make([]ir.ConsistencyCoordinate, 0, len(coords))
	pos := make(map[ir.ConsistencyKey]int, len(coords))
	for _, c := range coords {
		if i, ok := pos[c.Key()]; ok {
			if c.OperationIndex > out[i].OperationIndex {
				out[i].OperationIndex = c.OperationIndex
			}
			continue
		}
		pos[c.Key()] = len(out)
		out = append(out, c)
	}
	return ir.ConsistencyToken{
		Version:         ir.ConsistencyTokenVersion,
		CreatedAtUtcIso: ir.FormatTimestamp(r.clock.Now()),
		Coordinates:     out,
	}
}
