package channel

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/roach88/docsync/internal/clock"
	"github.com/roach88/docsync/internal/ir"
)

// TimestampSource reports the newest operation timestamp stored locally for
// a collection, used as the registration watermark.
type TimestampSource interface {
	LatestTimestamp(ctx context.Context, collectionID string) (string, error)
}

// RequestConfig configures a RequestChannel. Zero values take defaults.
type RequestConfig struct {
	URL          string
	CollectionID string
	Filter       ir.RemoteFilter
	TokenHandler TokenHandler

	RetryBaseDelay time.Duration // default 1s
	RetryMaxDelay  time.Duration // default 5m
	// MaxFailures is the consecutive failure count at which Health reports
	// HealthError. Default 5.
	MaxFailures int

	OutboxDebounce  time.Duration // default 500ms
	OutboxMaxQueued int           // default 25

	HTTPClient *http.Client
	// Random returns a value in [0, 1] used to jitter retry delays.
	Random func() float64
}

const (
	defaultMaxFailures     = 5
	defaultOutboxDebounce  = 500 * time.Millisecond
	defaultOutboxMaxQueued = 25
)

func (c *RequestConfig) setDefaults() {
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = defaultRetryBaseDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = defaultRetryMaxDelay
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = defaultMaxFailures
	}
	if c.OutboxDebounce <= 0 {
		c.OutboxDebounce = defaultOutboxDebounce
	}
	if c.OutboxMaxQueued <= 0 {
		c.OutboxMaxQueued = defaultOutboxMaxQueued
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if c.Random == nil {
		c.Random = rand.Float64
	}
}

// RequestChannel is the client side of the HTTP sync protocol.
//
// Push: outbox additions (debounced by a BufferedMailbox) wake the channel's
// push worker, which sends one pushSyncEnvelopes call covering every outbox
// item not yet delivered. Adding to the outbox never waits on the network. A
// recoverable failure blocks further pushes and arms the single retry timer;
// when it fires, the whole undelivered outbox is pushed again. An explicit
// rejection fails the batch and moves it to the dead-letter mailbox.
// Delivered items stay in the outbox until a poll reports them applied.
//
// Pull: each poll sends the inbox ack and latest ordinals, trims the outbox
// up to the remote's ack ordinal, and adds the returned envelopes to the
// inbox ordered by first operation timestamp. A channel-not-found answer
// re-registers the channel and restarts polling.
type RequestChannel struct {
	id         string
	remoteName string
	storage    CursorStorage
	timestamps TimestampSource
	poller     PollTimer
	cfg        RequestConfig
	opts       options
	client     *graphQLClient

	inbox      *MemoryMailbox
	outbox     *BufferedMailbox
	deadLetter *MemoryMailbox

	inboxCursor  *cursorPersister
	outboxCursor *cursorPersister

	ctx    context.Context
	cancel context.CancelFunc

	// pushSignal (buffered, size 1) wakes the push worker. pushStop asks it
	// to drain outstanding requests and exit; pushDone closes when it has.
	pushSignal chan struct{}
	pushStop   chan struct{}
	pushDone   chan struct{}
	stopOnce   sync.Once

	mu           sync.Mutex
	shutdown     bool
	sent         map[string]bool
	pushing      bool
	pushWanted   bool
	blocked      bool
	retryTimer   clock.Timer
	pushFailures int
	pollFailures int
	lastSuccess  int64
	lastFailure  int64
}

// NewRequestChannel creates a channel talking to cfg.URL. timestamps may be
// nil, in which case registration asks for everything.
func NewRequestChannel(id, remoteName string, storage CursorStorage, timestamps TimestampSource, poller PollTimer, cfg RequestConfig, opts ...Option) *RequestChannel {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	cfg.setDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	c := &RequestChannel{
		id:         id,
		remoteName: remoteName,
		storage:    storage,
		timestamps: timestamps,
		poller:     poller,
		cfg:        cfg,
		opts:       o,
		client: &graphQLClient{
			url:    cfg.URL,
			http:   cfg.HTTPClient,
			token:  cfg.TokenHandler,
			logger: o.logger,
		},
		inbox:      NewMailbox(),
		outbox:     NewBufferedMailbox(o.clock, cfg.OutboxDebounce, cfg.OutboxMaxQueued),
		deadLetter: NewMailbox(),
		ctx:        ctx,
		cancel:     cancel,
		pushSignal: make(chan struct{}, 1),
		pushStop:   make(chan struct{}),
		pushDone:   make(chan struct{}),
		sent:       make(map[string]bool),
	}
	c.outbox.logger = o.logger
	c.inboxCursor = newCursorPersister(storage, remoteName, id, ir.CursorInbox, o.clock, o.logger)
	c.outboxCursor = newCursorPersister(storage, remoteName, id, ir.CursorOutbox, o.clock, o.logger)
	c.inboxCursor.attach(c.inbox)
	c.outboxCursor.attach(c.outbox)

	c.outbox.OnAdded(func([]*SyncOperation) error {
		c.requestPush()
		return nil
	})
	c.outbox.OnRemoved(func(items []*SyncOperation) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		for _, item := range items {
			delete(c.sent, item.ID)
		}
		return nil
	})
	go c.pushLoop()
	return c
}

var _ Channel = (*RequestChannel)(nil)

// ID returns the channel id.
func (c *RequestChannel) ID() string { return c.id }

// Inbox implements Channel.
func (c *RequestChannel) Inbox() Mailbox { return c.inbox }

// Outbox implements Channel. It is a BufferedMailbox.
func (c *RequestChannel) Outbox() Mailbox { return c.outbox }

// DeadLetter implements Channel.
func (c *RequestChannel) DeadLetter() Mailbox { return c.deadLetter }

// Poller returns the channel's poll timer.
func (c *RequestChannel) Poller() PollTimer { return c.poller }

// Init registers the channel on the remote, seeds the mailboxes from the
// stored cursors and starts polling.
func (c *RequestChannel) Init(ctx context.Context) error {
	if err := c.touch(ctx); err != nil {
		return fmt.Errorf("register channel %s: %w", c.id, err)
	}
	inbox, outbox, err := loadCursors(ctx, c.storage, c.remoteName)
	if err != nil {
		return fmt.Errorf("load cursors for %s: %w", c.remoteName, err)
	}
	c.inbox.Init(inbox)
	c.outbox.Init(outbox)
	c.inboxCursor.seed(inbox)
	c.outboxCursor.seed(outbox)

	c.poller.SetDelegate(c.poll)
	c.poller.Start()
	return nil
}

// Shutdown flushes buffered outbox notifications, waits for the push worker
// to send them, stops polling and cancels the retry timer. Later activity is
// ignored; mailbox contents are kept.
func (c *RequestChannel) Shutdown() error {
	err := c.outbox.Flush()

	c.stopOnce.Do(func() { close(c.pushStop) })
	<-c.pushDone

	c.mu.Lock()
	c.shutdown = true
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.mu.Unlock()

	c.poller.Stop()
	c.cancel()
	return err
}

// Health reports the channel's transport state.
func (c *RequestChannel) Health() Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	failures := c.pollFailures
	if c.pushFailures > failures {
		failures = c.pushFailures
	}
	h := Health{
		State:            HealthIdle,
		LastSuccessUtcMs: c.lastSuccess,
		LastFailureUtcMs: c.lastFailure,
		FailureCount:     failures,
	}
	switch {
	case failures >= c.cfg.MaxFailures:
		h.State = HealthError
	case failures > 0:
		h.State = HealthRunning
	}
	return h
}

// requestPush asks the push worker to send the undelivered outbox. It never
// blocks: requests made while a push is running make the worker loop once
// more, and requests made while pushing is blocked are dropped because the
// retry resends everything.
func (c *RequestChannel) requestPush() {
	c.mu.Lock()
	if c.shutdown || c.blocked {
		c.mu.Unlock()
		return
	}
	c.pushWanted = true
	c.mu.Unlock()

	select {
	case c.pushSignal <- struct{}{}:
	default:
	}
}

// pushLoop is the push worker. It is the only goroutine that talks to the
// remote's push endpoint.
func (c *RequestChannel) pushLoop() {
	defer close(c.pushDone)
	for {
		select {
		case <-c.pushSignal:
			c.drainPushes()
		case <-c.pushStop:
			c.drainPushes()
			return
		}
	}
}

// drainPushes pushes until no request is outstanding or pushing is blocked.
func (c *RequestChannel) drainPushes() {
	for {
		c.mu.Lock()
		if !c.pushWanted || c.blocked || c.shutdown {
			c.pushWanted = false
			c.pushing = false
			c.mu.Unlock()
			return
		}
		c.pushWanted = false
		c.pushing = true
		c.mu.Unlock()

		c.pushOnce()
	}
}

// idle reports whether no push is requested or in flight.
func (c *RequestChannel) idle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.pushing && !c.pushWanted
}

func (c *RequestChannel) pushOnce() {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return
	}
	var batch []*SyncOperation
	for _, item := range c.outbox.Items() {
		if c.sent[item.ID] || item.Status().Terminal() {
			continue
		}
		c.sent[item.ID] = true
		batch = append(batch, item)
	}
	c.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	for _, item := range batch {
		item.Started()
	}

	err := c.push(c.ctx, batch)
	if err == nil {
		c.mu.Lock()
		c.pushFailures = 0
		c.lastSuccess = nowMillis(c.opts.clock)
		c.mu.Unlock()
		return
	}

	if IsRecoverable(err) || IsChannelNotFound(err) {
		c.scheduleRetry(batch, err)
		if IsChannelNotFound(err) {
			if terr := c.touch(c.ctx); terr != nil {
				c.opts.logger.Error("re-register after push failed", "channel", c.id, "error", terr)
			}
		}
		return
	}

	c.opts.logger.Error("push rejected by remote, dead-lettering batch",
		"channel", c.id,
		"count", len(batch),
		"error", err,
	)
	chErr := &ChannelError{Source: SourceOutbox, Err: err}
	for _, item := range batch {
		item.Failed(chErr)
	}
	if err := c.deadLetter.Add(batch...); err != nil {
		c.opts.logger.Error("dead letter callback failed", "channel", c.id, "error", err)
	}
	if err := c.outbox.Remove(batch...); err != nil {
		c.opts.logger.Error("outbox remove callback failed", "channel", c.id, "error", err)
	}
}

// scheduleRetry blocks pushing and arms the retry timer if none is pending.
func (c *RequestChannel) scheduleRetry(batch []*SyncOperation, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, item := range batch {
		delete(c.sent, item.ID)
	}
	c.pushFailures++
	c.lastFailure = nowMillis(c.opts.clock)
	c.blocked = true
	if c.shutdown || c.retryTimer != nil {
		return
	}
	delay := CalculateBackoffDelay(c.pushFailures, c.cfg.RetryBaseDelay, c.cfg.RetryMaxDelay, c.cfg.Random())
	c.opts.logger.Warn("push failed, retrying",
		"channel", c.id,
		"failures", c.pushFailures,
		"delay", delay,
		"error", cause,
	)
	c.retryTimer = c.opts.clock.AfterFunc(delay, c.retryPush)
}

func (c *RequestChannel) retryPush() {
	c.mu.Lock()
	c.retryTimer = nil
	c.blocked = false
	shutdown := c.shutdown
	c.mu.Unlock()
	if shutdown {
		return
	}
	c.requestPush()
}

func (c *RequestChannel) push(ctx context.Context, batch []*SyncOperation) error {
	envelopes := SyncOperationsToEnvelopes(c.id, batch)
	if c.opts.logger.Enabled(ctx, slog.LevelDebug) {
		var coords []string
		for _, item := range batch {
			for _, op := range item.Operations {
				coords = append(coords, fmt.Sprintf("(%s, %s, %s, %d)", op.Context.DocumentID, op.Context.Branch, op.Context.Scope, op.Operation.Index))
			}
		}
		c.opts.logger.Debug("push", "channel", c.id, "operations", coords)
	}

	var out struct {
		PushSyncEnvelopes bool `json:"pushSyncEnvelopes"`
	}
	return c.client.do(ctx, PushSyncEnvelopesMutation, PushVariables{Envelopes: envelopes}, &out)
}

// poll is the poll timer delegate. A returned error only feeds the timer's
// backoff; it has already been logged.
func (c *RequestChannel) poll() error {
	c.mu.Lock()
	shutdown := c.shutdown
	c.mu.Unlock()
	if shutdown {
		return nil
	}

	var out struct {
		PollSyncEnvelopes PollResult `json:"pollSyncEnvelopes"`
	}
	err := c.client.do(c.ctx, PollSyncEnvelopesQuery, PollVariables{
		ChannelID:    c.id,
		OutboxAck:    c.inbox.AckOrdinal(),
		OutboxLatest: c.inbox.LatestOrdinal(),
	}, &out)
	if err != nil {
		return c.handlePollError(err)
	}
	result := out.PollSyncEnvelopes

	if result.AckOrdinal > 0 {
		if err := TrimMailboxFromAckOrdinal(c.outbox, result.AckOrdinal); err != nil {
			c.opts.logger.Error("outbox trim callback failed", "channel", c.id, "error", err)
		}
	}

	var received []*SyncOperation
	for _, env := range SortEnvelopesByFirstTimestamp(result.Envelopes) {
		for _, item := range EnvelopeToSyncOperations(env, c.remoteName) {
			item.Transported()
			received = append(received, item)
		}
	}
	if len(received) > 0 {
		if err := c.inbox.Add(received...); err != nil {
			c.opts.logger.Error("inbox callback failed", "channel", c.id, "error", err)
		}
	}

	c.mu.Lock()
	c.lastSuccess = nowMillis(c.opts.clock)
	c.pollFailures = 0
	c.mu.Unlock()
	return nil
}

func (c *RequestChannel) handlePollError(err error) error {
	if IsChannelNotFound(err) {
		c.recoverFromChannelNotFound()
		return nil
	}

	c.mu.Lock()
	c.pollFailures++
	c.lastFailure = nowMillis(c.opts.clock)
	failures := c.pollFailures
	c.mu.Unlock()

	c.opts.logger.Error("poll failed",
		"channel", c.id,
		"failures", failures,
		"max_failures", c.cfg.MaxFailures,
		"error", &ChannelError{Source: SourceInbox, Err: err},
	)
	if failures == c.cfg.MaxFailures {
		c.opts.logger.Error("channel exceeded failure threshold", "channel", c.id)
	}
	return err
}

// recoverFromChannelNotFound re-registers the channel and restarts polling.
func (c *RequestChannel) recoverFromChannelNotFound() {
	c.opts.logger.Info("channel not found on remote, re-registering", "channel", c.id)
	c.poller.Stop()

	if err := c.touch(c.ctx); err != nil {
		c.opts.logger.Error("re-register failed", "channel", c.id, "error", err)
		c.mu.Lock()
		c.pollFailures++
		c.lastFailure = nowMillis(c.opts.clock)
		c.mu.Unlock()
	} else {
		c.opts.logger.Info("channel re-registered", "channel", c.id)
		c.mu.Lock()
		c.pollFailures = 0
		c.mu.Unlock()
	}

	c.mu.Lock()
	shutdown := c.shutdown
	c.mu.Unlock()
	if !shutdown {
		c.poller.Start()
	}
}

// touch registers the channel. The watermark falls back to "0" when the
// timestamp source is missing or fails.
func (c *RequestChannel) touch(ctx context.Context) error {
	since := "0"
	if c.timestamps != nil {
		if ts, err := c.timestamps.LatestTimestamp(ctx, c.cfg.CollectionID); err == nil && ts != "" {
			since = ts
		}
	}
	var out struct {
		TouchChannel bool `json:"touchChannel"`
	}
	return c.client.do(ctx, TouchChannelMutation, TouchChannelVariables{
		Input: TouchChannelInput{
			ID:                  c.id,
			Name:                c.id,
			CollectionID:        c.cfg.CollectionID,
			Filter:              c.cfg.Filter,
			SinceTimestampUtcMs: since,
		},
	}, &out)
}
