// Package relay fans frames out between a set of TCP peers and an optional
// upstream link. Every peer stream is decoded independently, so noise or a
// partial frame from one peer never reaches the others.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/gopkg/util/gopool"
	"github.com/cloudwego/netpoll"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/danmuck/mavwire/internal/connection"
	"github.com/danmuck/mavwire/internal/logging"
	"github.com/danmuck/mavwire/internal/observability"
	"github.com/danmuck/mavwire/internal/protocol/decoder"
	"github.com/danmuck/mavwire/internal/protocol/frame"
)

// UpstreamID is the source name reported for frames that came from the
// upstream link.
const UpstreamID = "upstream"

const (
	defaultQueueLen    = 64
	upstreamRetryDelay = 100 * time.Millisecond
)

var ErrPeerLimit = errors.New("relay: peer limit reached")

// Upstream is the link the relay bridges its peers to. *connection.Link
// satisfies it.
type Upstream interface {
	RecvFrame(ctx context.Context) (frame.RawV2, error)
	SendRaw(ctx context.Context, f *frame.RawV2) (int, error)
}

type Config struct {
	Listen   string
	MaxPeers int
	// QueueLen bounds frames waiting for a slow peer; further frames to it
	// are dropped.
	QueueLen int
	ExtraCRC frame.ExtraCRCFunc
	Upstream Upstream
	// OnFrame sees every frame accepted from a peer or upstream.
	OnFrame func(source string, f *frame.RawV2)
}

type Relay struct {
	cfg  Config
	ln   netpoll.Listener
	loop netpoll.EventLoop
	log  zerolog.Logger

	mu    sync.RWMutex
	peers map[string]*peer

	dropped atomic.Uint64
}

type peer struct {
	id    string
	conn  netpoll.Connection
	dec   *decoder.Decoder
	buf   *decoder.Buffer
	out   chan frame.RawV2
	done  chan struct{}
	close sync.Once
}

type peerKey struct{}

// Listen binds cfg.Listen. Nothing is accepted until Serve.
func Listen(cfg Config) (*Relay, error) {
	if cfg.QueueLen <= 0 {
		cfg.QueueLen = defaultQueueLen
	}
	ln, err := netpoll.CreateListener("tcp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("relay: listen %s: %w", cfg.Listen, err)
	}
	r := &Relay{
		cfg:   cfg,
		ln:    ln,
		log:   logging.Component("relay"),
		peers: make(map[string]*peer),
	}
	loop, err := netpoll.NewEventLoop(
		r.onRequest,
		netpoll.WithOnConnect(r.onConnect),
		netpoll.WithOnDisconnect(r.onDisconnect),
	)
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("relay: event loop: %w", err)
	}
	r.loop = loop
	return r, nil
}

func (r *Relay) Addr() net.Addr { return r.ln.Addr() }

func (r *Relay) Peers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Dropped counts frames discarded because a peer queue was full.
func (r *Relay) Dropped() uint64 { return r.dropped.Load() }

// Serve accepts peers and pumps the upstream link until ctx is done.
func (r *Relay) Serve(ctx context.Context) error {
	r.log.Info().Str("addr", r.ln.Addr().String()).Msg("relay listening")
	errCh := make(chan error, 1)
	go func() { errCh <- r.loop.Serve(r.ln) }()
	if r.cfg.Upstream != nil {
		gopool.Go(func() { r.pumpUpstream(ctx) })
	}

	select {
	case err := <-errCh:
		r.closePeers()
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := r.loop.Shutdown(shutdownCtx)
	r.closePeers()
	return err
}

func (r *Relay) onConnect(ctx context.Context, conn netpoll.Connection) context.Context {
	r.mu.Lock()
	if r.cfg.MaxPeers > 0 && len(r.peers) >= r.cfg.MaxPeers {
		r.mu.Unlock()
		r.log.Warn().Str("remote", conn.RemoteAddr().String()).Err(ErrPeerLimit).Msg("peer refused")
		_ = conn.Close()
		return ctx
	}
	p := &peer{
		id:   uuid.NewString(),
		conn: conn,
		dec:  decoder.New(r.cfg.ExtraCRC),
		buf:  decoder.NewBuffer(frame.MaxFrameLenV2 * 2),
		out:  make(chan frame.RawV2, r.cfg.QueueLen),
		done: make(chan struct{}),
	}
	r.peers[p.id] = p
	n := len(r.peers)
	r.mu.Unlock()

	observability.SetRelayPeers(n)
	r.log.Info().Str("peer", p.id).Str("remote", conn.RemoteAddr().String()).Msg("peer attached")
	gopool.Go(func() { r.writeLoop(p) })
	return context.WithValue(ctx, peerKey{}, p)
}

func (r *Relay) onDisconnect(ctx context.Context, conn netpoll.Connection) {
	p, ok := ctx.Value(peerKey{}).(*peer)
	if !ok {
		return
	}
	r.drop(p)
}

func (r *Relay) drop(p *peer) {
	r.mu.Lock()
	delete(r.peers, p.id)
	n := len(r.peers)
	r.mu.Unlock()
	p.close.Do(func() { close(p.done) })
	observability.SetRelayPeers(n)
	r.log.Info().Str("peer", p.id).Msg("peer detached")
}

func (r *Relay) closePeers() {
	r.mu.RLock()
	peers := make([]*peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	r.mu.RUnlock()
	for _, p := range peers {
		_ = p.conn.Close()
		r.drop(p)
	}
}

// onRequest drains the connection into the peer buffer. Bytes of an
// incomplete frame stay there for the next call.
func (r *Relay) onRequest(ctx context.Context, conn netpoll.Connection) error {
	p, ok := ctx.Value(peerKey{}).(*peer)
	if !ok {
		return conn.Close()
	}
	reader := conn.Reader()
	data, err := reader.Next(reader.Len())
	if err != nil {
		return err
	}
	p.buf.Write(data)
	if err := reader.Release(); err != nil {
		return err
	}
	p.dec.DecodeAll(p.buf, func(f frame.RawV2) {
		observability.RecordRelayFrame("in")
		r.dispatch(ctx, p.id, &f)
	})
	return nil
}

func (r *Relay) dispatch(ctx context.Context, source string, f *frame.RawV2) {
	if r.cfg.OnFrame != nil {
		r.cfg.OnFrame(source, f)
	}
	if source != UpstreamID && r.cfg.Upstream != nil {
		if _, err := r.cfg.Upstream.SendRaw(ctx, f); err != nil {
			r.log.Warn().Err(err).Str("peer", source).Msg("upstream send failed")
		}
	}
	r.Broadcast(source, f)
}

// Broadcast queues f for every peer except the one named by from.
func (r *Relay) Broadcast(from string, f *frame.RawV2) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, p := range r.peers {
		if id == from {
			continue
		}
		select {
		case p.out <- *f:
		default:
			r.dropped.Add(1)
			r.log.Debug().Str("peer", id).Msg("peer queue full, frame dropped")
		}
	}
}

func (r *Relay) writeLoop(p *peer) {
	for {
		select {
		case <-p.done:
			return
		case f := <-p.out:
			w := p.conn.Writer()
			if _, err := w.WriteBinary(f.Bytes()); err != nil {
				r.log.Debug().Err(err).Str("peer", p.id).Msg("peer write failed")
				continue
			}
			if err := w.Flush(); err != nil {
				r.log.Debug().Err(err).Str("peer", p.id).Msg("peer flush failed")
				continue
			}
			observability.RecordRelayFrame("out")
		}
	}
}

func (r *Relay) pumpUpstream(ctx context.Context) {
	for {
		f, err := r.cfg.Upstream.RecvFrame(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, connection.ErrClosed) {
				return
			}
			if connection.IsTimeout(err) {
				continue
			}
			r.log.Warn().Err(err).Msg("upstream recv failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(upstreamRetryDelay):
			}
			continue
		}
		r.dispatch(ctx, UpstreamID, &f)
	}
}
