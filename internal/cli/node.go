package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/roach88/docsync/internal/channel"
	"github.com/roach88/docsync/internal/config"
	"github.com/roach88/docsync/internal/consistency"
	"github.com/roach88/docsync/internal/cursors"
	"github.com/roach88/docsync/internal/httpapi"
	"github.com/roach88/docsync/internal/indexer"
	"github.com/roach88/docsync/internal/reactor"
	"github.com/roach88/docsync/internal/schema"
	"github.com/roach88/docsync/internal/store"
	"github.com/roach88/docsync/internal/syncmgr"
)

// node is a running replica: store, reactor, indexer, sync manager and the
// HTTP handler serving them.
type node struct {
	store   *store.Store
	redis   *cursors.RedisStore
	reactor *reactor.Reactor
	indexer *indexer.Indexer
	manager *syncmgr.Manager
	handler http.Handler
	logger  *slog.Logger

	cancel context.CancelFunc
	done   chan error
}

// startNode wires a replica from cfg. The reactor runs until close.
func startNode(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *node, err error) {
	n := &node{logger: logger, done: make(chan error, 1)}
	defer func() {
		if err != nil {
			_ = n.close()
		}
	}()

	logger.Info("opening store", "driver", cfg.Store.Driver)
	if n.store, err = store.Open(cfg.Store.Driver, cfg.Store.DSN); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var cursorStorage channel.CursorStorage = n.store.Cursors()
	if cfg.Cursors.RedisURL != "" {
		if n.redis, err = cursors.NewRedisStore(ctx, cfg.Cursors.RedisURL); err != nil {
			return nil, err
		}
		cursorStorage = n.redis
		logger.Info("cursors stored in redis")
	}

	validator, err := schema.Default()
	if err != nil {
		return nil, fmt.Errorf("load schemas: %w", err)
	}

	tracker := consistency.New()
	n.indexer = indexer.New(n.store, n.store, tracker,
		indexer.WithLogger(logger),
		indexer.WithPageSize(cfg.Indexer.PageSize),
	)
	n.reactor = reactor.New(n.store, tracker,
		reactor.WithLogger(logger),
		reactor.WithValidator(validator),
		reactor.WithProjection(n.indexer),
	)
	if err = n.reactor.Restore(ctx); err != nil {
		return nil, err
	}
	if err = n.indexer.Init(ctx); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	go func() { n.done <- n.reactor.Run(runCtx) }()

	n.manager = syncmgr.New(n.reactor, n.store, n.store, cursorStorage, &syncmgr.Factory{
		Name:         cfg.Reactor.Name,
		Timestamps:   n.store,
		Request:      cfg.Channel.Request(),
		PollInterval: cfg.Channel.PollInterval,
		Logger:       logger,
	}, syncmgr.WithLogger(logger))
	if err = n.manager.Startup(ctx); err != nil {
		return nil, fmt.Errorf("start sync: %w", err)
	}

	n.handler = httpapi.New(n.manager, n.indexer, httpapi.WithLogger(logger)).Router()
	return n, nil
}

// close stops sync, snapshots the consistency state and releases the store.
func (n *node) close() error {
	var errs []error
	if n.manager != nil {
		errs = append(errs, n.manager.Shutdown())
	}
	if n.cancel != nil {
		n.cancel()
		if err := <-n.done; err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
		n.cancel = nil
	}
	if n.reactor != nil {
		if err := n.reactor.Snapshot(context.Background()); err != nil {
			n.logger.Error("failed to snapshot consistency", "error", err)
		}
	}
	if n.redis != nil {
		errs = append(errs, n.redis.Close())
	}
	if n.store != nil {
		errs = append(errs, n.store.Close())
	}
	return errors.Join(errs...)
}
