// Package indexer maintains the document relationship graph as a projection
// of the operation log.
//
// The indexer consumes operations strictly in ascending global ordinal. Each
// batch is applied in one store transaction that also records the last
// processed ordinal, so a restart resumes exactly where the previous run
// committed. Only after the commit are the batch's coordinates published to
// the consistency tracker, which lets graph reads wait for a consistency
// token and then observe the writes it names.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/docsync/internal/clock"
	"github.com/roach88/docsync/internal/consistency"
	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/store"
)

const (
	defaultPageSize    = 100
	defaultWaitTimeout = 30 * time.Second
)

// OperationSource is the durable operation stream, ascending by ordinal.
// limit <= 0 returns everything after sinceID.
type OperationSource interface {
	GetSinceID(ctx context.Context, sinceID int64, limit int) ([]ir.OperationWithContext, error)
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(ix *Indexer) {
		if l != nil {
			ix.logger = l
		}
	}
}

// WithPageSize sets the backfill batch size and the default read page size.
func WithPageSize(n int) Option {
	return func(ix *Indexer) {
		if n > 0 {
			ix.pageSize = n
		}
	}
}

// WithWaitTimeout bounds how long a read waits for its consistency token.
// Zero waits until the context is done.
func WithWaitTimeout(d time.Duration) Option {
	return func(ix *Indexer) {
		ix.waitTimeout = d
	}
}

// WithClock sets the clock used for relationship timestamps.
func WithClock(c clock.Clock) Option {
	return func(ix *Indexer) {
		if c != nil {
			ix.clock = c
		}
	}
}

// WithIDGenerator replaces the relationship id generator.
func WithIDGenerator(f func() string) Option {
	return func(ix *Indexer) {
		if f != nil {
			ix.newID = f
		}
	}
}

// Indexer projects ADD_RELATIONSHIP and REMOVE_RELATIONSHIP operations into
// the store's graph tables.
//
// Thread-safety: indexing is serialized; reads may run concurrently with it.
type Indexer struct {
	store   *store.Store
	ops     OperationSource
	tracker *consistency.Tracker

	logger      *slog.Logger
	clock       clock.Clock
	pageSize    int
	waitTimeout time.Duration
	newID       func() string

	mu     sync.Mutex
	lastID int64
}

// New creates an indexer over st, reading missed operations from ops. The
// tracker may be shared with other components.
func New(st *store.Store, ops OperationSource, tracker *consistency.Tracker, opts ...Option) *Indexer {
	ix := &Indexer{
		store:       st,
		ops:         ops,
		tracker:     tracker,
		logger:      slog.Default(),
		clock:       clock.Real{},
		pageSize:    defaultPageSize,
		waitTimeout: defaultWaitTimeout,
		newID:       newRelationshipID,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

func newRelationshipID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Init loads the persisted position and indexes every operation after it.
// A fresh store is backfilled from the start of the log.
func (ix *Indexer) Init(ctx context.Context) error {
	state, ok, err := ix.store.GetIndexerState(ctx)
	if err != nil {
		return fmt.Errorf("indexer init: %w", err)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ok {
		ix.lastID = state.LastOperationID
		ix.logger.Info("indexer resuming", "last_operation_id", state.LastOperationID)
	} else {
		ix.lastID = 0
		ix.logger.Info("indexer backfilling from start of log")
	}
	return ix.catchUpLocked(ctx)
}

// ProcessWritten indexes whatever the log gained since the last batch.
func (ix *Indexer) ProcessWritten(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.catchUpLocked(ctx)
}

// LastOperationID returns the ordinal of the last indexed operation.
func (ix *Indexer) LastOperationID() int64 {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.lastID
}

func (ix *Indexer) catchUpLocked(ctx context.Context) error {
	for {
		page, err := ix.ops.GetSinceID(ctx, ix.lastID, ix.pageSize)
		if err != nil {
			return fmt.Errorf("read operations since %d: %w", ix.lastID, err)
		}
		if len(page) == 0 {
			return nil
		}
		if err := ix.indexLocked(ctx, page); err != nil {
			return err
		}
		if len(page) < ix.pageSize {
			return nil
		}
	}
}

// IndexOperations applies a batch. Operations at or below the last indexed
// ordinal are ignored; the rest are applied in ascending ordinal order.
func (ix *Indexer) IndexOperations(ctx context.Context, ops []ir.OperationWithContext) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.indexLocked(ctx, ops)
}

func (ix *Indexer) indexLocked(ctx context.Context, ops []ir.OperationWithContext) error {
	batch := make([]ir.OperationWithContext, 0, len(ops))
	for _, op := range ops {
		if op.Context.Ordinal > ix.lastID {
			batch = append(batch, op)
		}
	}
	if len(batch) == 0 {
		return nil
	}
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].Context.Ordinal < batch[j].Context.Ordinal
	})

	last := batch[len(batch)-1]
	err := ix.store.WithTx(ctx, func(tx *store.Tx) error {
		for _, op := range batch {
			if err := ix.apply(ctx, tx, op); err != nil {
				return err
			}
		}
		return tx.SaveIndexerState(ctx, store.IndexerState{
			LastOperationID:        last.Context.Ordinal,
			LastOperationTimestamp: last.Operation.TimestampUtcMs,
		})
	})
	if err != nil {
		return fmt.Errorf("index operations %d..%d: %w", batch[0].Context.Ordinal, last.Context.Ordinal, err)
	}
	ix.lastID = last.Context.Ordinal

	coords := make([]ir.ConsistencyCoordinate, len(batch))
	for i, op := range batch {
		coords[i] = op.Coordinate()
	}
	ix.tracker.Update(coords)

	ix.logger.Debug("indexed operations",
		"count", len(batch),
		"last_operation_id", last.Context.Ordinal,
	)
	return nil
}

func (ix *Indexer) apply(ctx context.Context, tx *store.Tx, op ir.OperationWithContext) error {
	switch in := op.Operation.Action.Input.(type) {
	case ir.AddRelationshipInput:
		if err := tx.EnsureDocument(ctx, in.SourceID); err != nil {
			return err
		}
		if err := tx.EnsureDocument(ctx, in.TargetID); err != nil {
			return err
		}
		now := ix.clock.Now().UTC()
		_, err := tx.InsertRelationship(ctx, ir.DocumentRelationship{
			ID:               ix.newID(),
			SourceID:         in.SourceID,
			TargetID:         in.TargetID,
			RelationshipType: in.RelationshipType,
			Metadata:         in.Metadata,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
		return err
	case ir.RemoveRelationshipInput:
		_, err := tx.DeleteRelationship(ctx, in.SourceID, in.TargetID, in.RelationshipType)
		return err
	default:
		return nil
	}
}
