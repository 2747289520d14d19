package syncmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"

	"github.com/roach88/docsync/internal/channel"
	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/reactor"
)

var (
	// ErrRemoteExists is returned by Add for a name already in use.
	ErrRemoteExists = errors.New("remote already exists")
	// ErrRemoteNotFound is returned when no active remote matches.
	ErrRemoteNotFound = errors.New("remote does not exist")
	// ErrShutdown is returned once Shutdown has been called.
	ErrShutdown = errors.New("sync manager is shut down")
)

const (
	defaultBackfillPage = 500
	defaultConcurrency  = 8
)

// Reactor is the part of the local replica the manager drives.
type Reactor interface {
	Load(ctx context.Context, ops []ir.OperationWithContext, source string) (reactor.Result, error)
	Subscribe(fn func(reactor.OperationsWritten)) func()
}

// OperationSource reads the local operation log in ordinal order.
type OperationSource interface {
	GetSinceID(ctx context.Context, sinceID int64, limit int) ([]ir.OperationWithContext, error)
}

// RemoteStore persists remote definitions.
type RemoteStore interface {
	ListRemotes(ctx context.Context) ([]ir.RemoteRecord, error)
	UpsertRemote(ctx context.Context, r ir.RemoteRecord) error
	RemoveRemote(ctx context.Context, name string) error
}

// Remote is an active remote and its channel.
type Remote struct {
	ID           string
	Name         string
	CollectionID string
	Channel      channel.Channel
	Filter       ir.RemoteFilter
	Options      ir.RemoteOptions
	Config       ir.ChannelConfig

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}
}

// Record returns the persisted form of r.
func (r *Remote) Record() ir.RemoteRecord {
	return ir.RemoteRecord{
		ID:           r.ID,
		Name:         r.Name,
		CollectionID: r.CollectionID,
		Channel:      r.Config,
		Filter:       r.Filter,
		Options:      r.Options,
	}
}

func (r *Remote) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithBackfillPage sets how many operations a backfill reads per query.
func WithBackfillPage(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.backfillPage = n
		}
	}
}

// WithConcurrency bounds how many channels are initialized or shut down at
// once.
func WithConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithJobIDGenerator replaces the generator for outbound job ids.
func WithJobIDGenerator(f func() string) Option {
	return func(m *Manager) {
		if f != nil {
			m.newJobID = f
		}
	}
}

// Manager keeps the remotes of one reactor in sync.
//
// Thread-safety: all methods are safe for concurrent use.
type Manager struct {
	reactor Reactor
	oplog   OperationSource
	remotes RemoteStore
	cursors channel.CursorStorage
	factory ChannelFactory

	logger       *slog.Logger
	backfillPage int
	concurrency  int
	newJobID     func() string

	ctx     context.Context
	cancel  context.CancelFunc
	workers conc.WaitGroup

	mu          sync.RWMutex
	active      map[string]*Remote
	started     bool
	shutdown    bool
	unsubscribe func()
}

// New creates a manager. Nothing happens until Startup.
func New(r Reactor, oplog OperationSource, remotes RemoteStore, cursors channel.CursorStorage, factory ChannelFactory, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		reactor:      r,
		oplog:        oplog,
		remotes:      remotes,
		cursors:      cursors,
		factory:      factory,
		logger:       slog.Default(),
		backfillPage: defaultBackfillPage,
		concurrency:  defaultConcurrency,
		newJobID:     func() string { return uuid.Must(uuid.NewV7()).String() },
		ctx:          ctx,
		cancel:       cancel,
		active:       make(map[string]*Remote),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Startup opens a channel for every persisted remote and subscribes to the
// reactor. A remote whose channel fails to initialize is logged and left
// out. Each opened remote is backfilled from its outbox cursor.
func (m *Manager) Startup(ctx context.Context) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return ErrShutdown
	}
	if m.started {
		m.mu.Unlock()
		return errors.New("sync manager already started")
	}
	m.started = true
	m.mu.Unlock()

	records, err := m.remotes.ListRemotes(ctx)
	if err != nil {
		return fmt.Errorf("list remotes: %w", err)
	}

	var openedMu sync.Mutex
	opened := make([]*Remote, 0, len(records))
	p := pool.New().WithMaxGoroutines(m.concurrency)
	for _, rec := range records {
		p.Go(func() {
			r, err := m.open(ctx, rec)
			if err != nil {
				m.logger.Error("remote channel init failed", "remote", rec.Name, "error", err)
				return
			}
			openedMu.Lock()
			opened = append(opened, r)
			openedMu.Unlock()
		})
	}
	p.Wait()

	slices.SortFunc(opened, func(a, b *Remote) int { return strings.Compare(a.Name, b.Name) })
	registered := opened[:0]
	for _, r := range opened {
		if err := m.register(r); err != nil {
			m.logger.Error("remote registration failed", "remote", r.Name, "error", err)
			m.close(r)
			continue
		}
		registered = append(registered, r)
	}

	unsubscribe := m.reactor.Subscribe(m.HandleWritten)
	m.mu.Lock()
	m.unsubscribe = unsubscribe
	m.mu.Unlock()

	for _, r := range registered {
		if err := m.backfill(ctx, r, r.Channel.Outbox().AckOrdinal()); err != nil {
			m.logger.Warn("outbox backfill failed", "remote", r.Name, "error", err)
		}
	}
	m.logger.Info("sync manager started", "remotes", len(registered), "configured", len(records))
	return nil
}

// Shutdown unsubscribes from the reactor, shuts every channel down and
// stops the inbox workers. Channel shutdown errors are joined.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	remotes := make([]*Remote, 0, len(m.active))
	for _, r := range m.active {
		remotes = append(remotes, r)
	}
	clear(m.active)
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	p := pool.New().WithErrors().WithMaxGoroutines(m.concurrency)
	for _, r := range remotes {
		p.Go(func() error {
			r.cancel()
			if err := r.Channel.Shutdown(); err != nil {
				return fmt.Errorf("shutdown remote %s: %w", r.Name, err)
			}
			return nil
		})
	}
	err := p.Wait()

	m.cancel()
	m.workers.Wait()
	m.logger.Info("sync manager stopped", "remotes", len(remotes))
	return err
}

// Add persists a new remote, opens its channel and backfills its outbox
// with every matching operation already in the log.
func (m *Manager) Add(ctx context.Context, name, collectionID string, cfg ir.ChannelConfig, filter ir.RemoteFilter, opts ir.RemoteOptions) (*Remote, error) {
	return m.AddRecord(ctx, ir.RemoteRecord{
		Name:         name,
		CollectionID: collectionID,
		Channel:      cfg,
		Filter:       filter,
		Options:      opts,
	})
}

// AddRecord is Add for a complete record. An empty ID is generated.
func (m *Manager) AddRecord(ctx context.Context, rec ir.RemoteRecord) (*Remote, error) {
	if rec.Name == "" {
		return nil, errors.New("remote name is required")
	}
	m.mu.RLock()
	shutdown := m.shutdown
	_, exists := m.active[rec.Name]
	m.mu.RUnlock()
	if shutdown {
		return nil, ErrShutdown
	}
	if exists {
		return nil, fmt.Errorf("remote %q: %w", rec.Name, ErrRemoteExists)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	m.logger.Debug("adding remote",
		"remote", rec.Name,
		"id", rec.ID,
		"collection_id", rec.CollectionID,
		"channel_type", rec.Channel.Type,
	)
	if err := m.remotes.UpsertRemote(ctx, rec); err != nil {
		return nil, err
	}

	r, err := m.open(ctx, rec)
	if err != nil {
		m.forget(ctx, rec.Name)
		return nil, fmt.Errorf("open remote %s: %w", rec.Name, err)
	}
	if err := m.register(r); err != nil {
		m.close(r)
		if !errors.Is(err, ErrRemoteExists) {
			m.forget(ctx, rec.Name)
		}
		return nil, err
	}
	if err := m.backfill(ctx, r, 0); err != nil {
		m.logger.Warn("outbox backfill failed", "remote", r.Name, "error", err)
	}
	return r, nil
}

// Remove deletes a remote and shuts its channel down.
func (m *Manager) Remove(ctx context.Context, name string) error {
	m.mu.Lock()
	r, ok := m.active[name]
	if ok {
		delete(m.active, name)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("remote %q: %w", name, ErrRemoteNotFound)
	}

	err := m.remotes.RemoveRemote(ctx, name)
	m.close(r)
	<-r.done
	return err
}

// Get returns the active remote called name.
func (m *Manager) Get(name string) (*Remote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.active[name]
	if !ok {
		return nil, fmt.Errorf("remote %q: %w", name, ErrRemoteNotFound)
	}
	return r, nil
}

// GetByID returns the active remote with the given id.
func (m *Manager) GetByID(id string) (*Remote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.active {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("remote with id %q: %w", id, ErrRemoteNotFound)
}

// List returns the active remotes sorted by name.
func (m *Manager) List() []*Remote {
	m.mu.RLock()
	out := make([]*Remote, 0, len(m.active))
	for _, r := range m.active {
		out = append(out, r)
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Remote) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// HandleWritten routes a written batch to every remote except its source.
// It is subscribed to the reactor by Startup and runs on the reactor's
// goroutine, so it never blocks on a remote.
func (m *Manager) HandleWritten(ev reactor.OperationsWritten) {
	if len(ev.Operations) == 0 {
		return
	}
	jobID := m.newJobID()
	for _, r := range m.List() {
		if ev.Source != "" && r.Name == ev.Source {
			continue
		}
		if n := m.enqueue(r, ev.Operations, jobID); n > 0 {
			m.logger.Debug("operations routed",
				"remote", r.Name,
				"job_id", jobID,
				"sync_ops", n,
				"reshuffled", ev.Reshuffled,
			)
		}
	}
}

// enqueue filters ops for r and adds one SyncOperation per document batch
// to its outbox. It returns the number of SyncOperations added.
func (m *Manager) enqueue(r *Remote, ops []ir.OperationWithContext, jobID string) int {
	filtered := channel.FilterOperations(ops, r.Filter)
	if len(filtered) == 0 {
		return 0
	}
	batches := channel.BatchOperationsByDocument(filtered)
	items := make([]*channel.SyncOperation, len(batches))
	for i, batch := range batches {
		items[i] = channel.NewSyncOperationFromBatch(r.Name, jobID, nil, batch)
	}
	if err := r.Channel.Outbox().Add(items...); err != nil {
		m.logger.Error("outbox callback failed", "remote", r.Name, "error", err)
	}
	return len(items)
}

// backfill queues every logged operation after ordinal that r's filter
// and since-timestamp accept.
func (m *Manager) backfill(ctx context.Context, r *Remote, ordinal int64) error {
	since := sinceCutoff(r.Options.SinceTimestampUtcMs)
	total := 0
	for {
		page, err := m.oplog.GetSinceID(ctx, ordinal, m.backfillPage)
		if err != nil {
			return fmt.Errorf("read operations since %d: %w", ordinal, err)
		}
		if len(page) == 0 {
			break
		}
		ordinal = page[len(page)-1].Context.Ordinal

		ops := page
		if since != "" {
			ops = make([]ir.OperationWithContext, 0, len(page))
			for _, op := range page {
				if op.Operation.TimestampUtcMs > since {
					ops = append(ops, op)
				}
			}
		}
		total += m.enqueue(r, ops, m.newJobID())
		if len(page) < m.backfillPage {
			break
		}
	}
	if total > 0 {
		m.logger.Info("outbox backfilled", "remote", r.Name, "sync_ops", total)
	}
	return nil
}

// sinceCutoff normalizes a since option to a comparable timestamp. Empty
// and "0" mean no cutoff; an integer is read as Unix milliseconds.
func sinceCutoff(v string) string {
	if v == "" || v == "0" {
		return ""
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return ir.FormatTimestamp(time.UnixMilli(ms))
	}
	return v
}

func (m *Manager) open(ctx context.Context, rec ir.RemoteRecord) (*Remote, error) {
	ch, err := m.factory.Create(ctx, rec, m.cursors)
	if err != nil {
		return nil, err
	}
	if err := ch.Init(ctx); err != nil {
		if serr := ch.Shutdown(); serr != nil {
			m.logger.Warn("channel shutdown after failed init", "remote", rec.Name, "error", serr)
		}
		return nil, err
	}
	rctx, cancel := context.WithCancel(m.ctx)
	return &Remote{
		ID:           rec.ID,
		Name:         rec.Name,
		CollectionID: rec.CollectionID,
		Channel:      ch,
		Filter:       rec.Filter,
		Options:      rec.Options,
		Config:       rec.Channel,
		ctx:          rctx,
		cancel:       cancel,
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}, nil
}

// register makes r active, wires its mailboxes and starts its inbox worker.
func (m *Manager) register(r *Remote) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return ErrShutdown
	}
	if _, ok := m.active[r.Name]; ok {
		m.mu.Unlock()
		return fmt.Errorf("remote %q: %w", r.Name, ErrRemoteExists)
	}
	m.active[r.Name] = r
	m.mu.Unlock()

	outbox := r.Channel.Outbox()
	outbox.OnAdded(func(items []*channel.SyncOperation) error {
		for _, item := range items {
			item.On(func(op *channel.SyncOperation, _, next channel.Status) {
				if next.Terminal() {
					if err := outbox.Remove(op); err != nil {
						m.logger.Error("outbox remove callback failed", "remote", r.Name, "error", err)
					}
				}
			})
		}
		return nil
	})
	r.Channel.Inbox().OnAdded(func([]*channel.SyncOperation) error {
		r.signal()
		return nil
	})

	m.workers.Go(func() { m.runInbox(r) })
	// Pick up anything received before the callback was attached.
	r.signal()
	return nil
}

// forget removes a record persisted by an Add that did not complete.
func (m *Manager) forget(ctx context.Context, name string) {
	if err := m.remotes.RemoveRemote(ctx, name); err != nil {
		m.logger.Warn("failed to remove remote record", "remote", name, "error", err)
	}
}

func (m *Manager) close(r *Remote) {
	r.cancel()
	if err := r.Channel.Shutdown(); err != nil {
		m.logger.Warn("channel shutdown failed", "remote", r.Name, "error", err)
	}
}

func (m *Manager) runInbox(r *Remote) {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.wake:
		}
		m.applyInbox(r)
	}
}

// applyInbox loads every pending inbox item in arrival order. A loaded item
// is marked Applied and removed; a rejected one is marked Error and moved
// to the dead-letter mailbox.
func (m *Manager) applyInbox(r *Remote) {
	inbox := r.Channel.Inbox()
	for _, item := range inbox.Items() {
		if item.Status() != channel.StatusExecutionPending {
			continue
		}
		if r.ctx.Err() != nil {
			return
		}

		res, err := m.reactor.Load(r.ctx, item.Operations, r.Name)
		if err != nil {
			if r.ctx.Err() != nil || errors.Is(err, reactor.ErrStopped) {
				m.logger.Debug("inbox job left pending", "remote", r.Name, "sync_op", item.ID, "error", err)
				return
			}
			m.logger.Warn("inbox job failed",
				"remote", r.Name,
				"sync_op", item.ID,
				"document_id", item.DocumentID,
				"error", err,
			)
			item.Failed(&channel.ChannelError{Source: channel.SourceInbox, Err: err})
			if err := r.Channel.DeadLetter().Add(item); err != nil {
				m.logger.Error("dead letter callback failed", "remote", r.Name, "error", err)
			}
			if err := inbox.Remove(item); err != nil {
				m.logger.Error("inbox remove callback failed", "remote", r.Name, "error", err)
			}
			continue
		}

		item.Executed()
		if err := inbox.Remove(item); err != nil {
			m.logger.Error("inbox remove callback failed", "remote", r.Name, "error", err)
		}
		m.logger.Debug("inbox job applied",
			"remote", r.Name,
			"sync_op", item.ID,
			"written", len(res.Operations),
		)
	}
}
