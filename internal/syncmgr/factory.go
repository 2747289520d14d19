package syncmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/docsync/internal/channel"
	"github.com/roach88/docsync/internal/clock"
	"github.com/roach88/docsync/internal/ir"
)

// Channel types understood by Factory.
const (
	ChannelTypeRequest  = "request"
	ChannelTypeResponse = "response"
	ChannelTypeInternal = "internal"
)

// Parameters read from ir.ChannelConfig.
const (
	ParamURL          = "url"
	ParamPollInterval = "poll_interval"
	ParamToken        = "token"
	ParamPeer         = "peer"
)

// ChannelFactory builds the channel for a remote. The manager calls Init.
type ChannelFactory interface {
	Create(ctx context.Context, remote ir.RemoteRecord, storage channel.CursorStorage) (channel.Channel, error)
}

// ChannelFactoryFunc adapts a function to ChannelFactory.
type ChannelFactoryFunc func(ctx context.Context, remote ir.RemoteRecord, storage channel.CursorStorage) (channel.Channel, error)

// Create implements ChannelFactory.
func (f ChannelFactoryFunc) Create(ctx context.Context, remote ir.RemoteRecord, storage channel.CursorStorage) (channel.Channel, error) {
	return f(ctx, remote, storage)
}

// Factory builds channels by config type.
//
//   - request: RequestChannel polling Parameters["url"]. Optional
//     "poll_interval" (a Go duration) and "token" (static bearer token).
//   - response: ResponseChannel, served by the HTTP API.
//   - internal: InternalChannel to the replica named Parameters["peer"]
//     through Loopback.
type Factory struct {
	// Name identifies the local replica on a Loopback.
	Name string
	// Timestamps supplies the registration watermark of request channels.
	Timestamps channel.TimestampSource
	// Request is the template for request channels. URL, CollectionID and
	// Filter are taken from the remote.
	Request      channel.RequestConfig
	PollInterval time.Duration
	Loopback     *Loopback
	Clock        clock.Clock
	Logger       *slog.Logger
}

var _ ChannelFactory = (*Factory)(nil)

// Create implements ChannelFactory.
func (f *Factory) Create(_ context.Context, remote ir.RemoteRecord, storage channel.CursorStorage) (channel.Channel, error) {
	clk := f.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts := []channel.Option{
		channel.WithClock(clk),
		channel.WithLogger(logger.With("remote", remote.Name)),
	}
	params := remote.Channel.Parameters

	switch remote.Channel.Type {
	case ChannelTypeRequest:
		url := params[ParamURL]
		if url == "" {
			return nil, fmt.Errorf("remote %s: %s channel requires parameter %q", remote.Name, ChannelTypeRequest, ParamURL)
		}
		interval := f.PollInterval
		if v := params[ParamPollInterval]; v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("remote %s: parameter %q: %w", remote.Name, ParamPollInterval, err)
			}
			interval = d
		}
		cfg := f.Request
		cfg.URL = url
		cfg.CollectionID = remote.CollectionID
		cfg.Filter = remote.Filter
		if token := params[ParamToken]; token != "" {
			cfg.TokenHandler = func(context.Context, string) (string, error) { return token, nil }
		}
		poller := channel.NewIntervalPollTimer(clk, channel.IntervalOptions{
			Interval:       interval,
			RetryBaseDelay: cfg.RetryBaseDelay,
			RetryMaxDelay:  cfg.RetryMaxDelay,
			Random:         cfg.Random,
		})
		return channel.NewRequestChannel(remote.ID, remote.Name, storage, f.Timestamps, poller, cfg, opts...), nil

	case ChannelTypeResponse:
		return channel.NewResponseChannel(remote.ID, remote.Name, storage, opts...), nil

	case ChannelTypeInternal:
		peer := params[ParamPeer]
		if peer == "" {
			return nil, fmt.Errorf("remote %s: %s channel requires parameter %q", remote.Name, ChannelTypeInternal, ParamPeer)
		}
		if f.Loopback == nil {
			return nil, fmt.Errorf("remote %s: no loopback configured for %s channels", remote.Name, ChannelTypeInternal)
		}
		return f.Loopback.Open(f.Name, peer, remote, storage, opts...), nil

	default:
		return nil, fmt.Errorf("remote %s: unknown channel type %q", remote.Name, remote.Channel.Type)
	}
}

// Loopback pairs InternalChannels of replicas running in one process. The
// channel replica A opens towards B delivers into the channel B opened
// towards A.
type Loopback struct {
	mu   sync.Mutex
	ends map[loopbackKey]*channel.InternalChannel
}

type loopbackKey struct {
	local, peer string
}

// NewLoopback creates an empty loopback.
func NewLoopback() *Loopback {
	return &Loopback{ends: make(map[loopbackKey]*channel.InternalChannel)}
}

// Open creates local's channel towards peer. It replaces any channel
// previously opened for the same pair.
func (l *Loopback) Open(local, peer string, remote ir.RemoteRecord, storage channel.CursorStorage, opts ...channel.Option) *channel.InternalChannel {
	send := func(env ir.SyncEnvelope) error {
		target, ok := l.lookup(peer, local)
		if !ok {
			return fmt.Errorf("replica %s has no channel towards %s", peer, local)
		}
		return target.ReceiveEnvelope(env)
	}
	ch := channel.NewInternalChannel(remote.ID, remote.Name, storage, send, opts...)

	l.mu.Lock()
	l.ends[loopbackKey{local: local, peer: peer}] = ch
	l.mu.Unlock()
	return ch
}

func (l *Loopback) lookup(local, peer string) (*channel.InternalChannel, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.ends[loopbackKey{local: local, peer: peer}]
	return ch, ok
}
