// Package connection carries messages over tcp, udp and serial links.
//
// A link has independent read and write halves. Recv holds only the read
// lock and Send only the write lock, so one goroutine may block in Recv while
// another sends. Reconnect takes both.
package connection

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/mavwire/internal/logging"
	"github.com/danmuck/mavwire/internal/protocol"
	"github.com/danmuck/mavwire/internal/protocol/decoder"
	"github.com/danmuck/mavwire/internal/protocol/frame"
)

// Connection is a message link to one peer.
type Connection interface {
	Recv(ctx context.Context) (protocol.Header, protocol.Message, error)
	Send(ctx context.Context, h protocol.Header, msg protocol.Message) (int, error)
	SetProtocolVersion(v protocol.Version)
	ProtocolVersion() protocol.Version
	Reconnect(ctx context.Context) error
	Close() error
}

// Stats is a snapshot of link counters.
type Stats struct {
	Decoder      decoder.Stats
	FramesSent   uint64
	BytesSent    uint64
	ParseErrors  uint64
	SignatureErr uint64
	Reconnects   uint64
}

type Link struct {
	addr    Address
	dialect protocol.Dialect
	cfg     Config
	log     zerolog.Logger
	rng     *rand.Rand

	ln      *net.TCPListener
	version atomic.Int32
	closed  atomic.Bool
	done    chan struct{}
	// live mirrors the installed transport for Close, which takes no locks.
	live atomic.Pointer[liveTransport]

	readMu sync.Mutex
	rt     transport
	reader *protocol.FrameReader
	// prior accumulates decoder counters of replaced readers.
	prior decoder.Stats

	writeMu sync.Mutex
	wt      transport
	seq     uint8

	framesSent   atomic.Uint64
	bytesSent    atomic.Uint64
	parseErrors  atomic.Uint64
	signatureErr atomic.Uint64
	reconnects   atomic.Uint64
}

var _ Connection = (*Link)(nil)

type liveTransport struct{ t transport }

// Open parses address, establishes the link and retries per cfg.Backoff.
func Open(ctx context.Context, address string, d protocol.Dialect, cfg Config) (*Link, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	l := newLink(addr, d, cfg)
	if addr.Kind == KindTCPIn {
		tcpAddr, err := net.ResolveTCPAddr("tcp", addr.Target)
		if err != nil {
			return nil, err
		}
		if l.ln, err = net.ListenTCP("tcp", tcpAddr); err != nil {
			return nil, fmt.Errorf("connection: listen %s: %w", addr, err)
		}
	}
	t, err := l.connect(ctx)
	if err != nil {
		if l.ln != nil {
			_ = l.ln.Close()
		}
		return nil, err
	}
	l.install(t)
	return l, nil
}

func newLink(addr Address, d protocol.Dialect, cfg Config) *Link {
	cfg = cfg.WithDefaults()
	l := &Link{
		addr:    addr,
		dialect: d,
		cfg:     cfg,
		log:     logging.Component("connection").With().Str("addr", addr.String()).Logger(),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		done:    make(chan struct{}),
	}
	l.version.Store(int32(cfg.Version))
	return l
}

// install swaps in t as both halves. Callers hold both locks or own l
// exclusively.
func (l *Link) install(t transport) {
	if l.reader != nil {
		l.prior = addStats(l.prior, l.reader.Stats())
	}
	l.rt, l.wt = t, t
	l.live.Store(&liveTransport{t: t})
	l.reader = protocol.NewFrameReader(t, l.dialect.ExtraCRC)
	l.seq = 0
}

func (l *Link) connect(ctx context.Context) (transport, error) {
	var attempt int
	for {
		if l.closed.Load() {
			return nil, ErrClosed
		}
		attempt++
		t, err := open(ctx, l.addr, l.ln, l.cfg)
		if err == nil {
			l.log.Info().Int("attempt", attempt).Str("peer", t.RemoteAddr()).Msg("link up")
			return t, nil
		}
		if l.closed.Load() {
			return nil, ErrClosed
		}
		l.log.Warn().Int("attempt", attempt).Err(err).Msg("connect failed")
		if ctx.Err() != nil || !l.shouldRetry(attempt) {
			return nil, fmt.Errorf("connection: open %s: %w", l.addr, err)
		}
		if err := l.sleepBackoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

func (l *Link) shouldRetry(attempt int) bool {
	if l.cfg.MaxConnectAttempts <= 0 {
		return true
	}
	return attempt < l.cfg.MaxConnectAttempts
}

func (l *Link) sleepBackoff(ctx context.Context, attempt int) error {
	delay := NextBackoffDelay(l.cfg.Backoff, attempt, l.rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrClosed
	case <-timer.C:
		return nil
	}
}

func (l *Link) Address() Address { return l.addr }

// LocalAddr is the listening address for tcpin links and the local socket
// address otherwise. Serial links report nil.
func (l *Link) LocalAddr() net.Addr {
	if l.ln != nil {
		return l.ln.Addr()
	}
	lt := l.live.Load()
	if lt == nil {
		return nil
	}
	if la, ok := lt.t.(interface{ LocalAddr() net.Addr }); ok {
		return la.LocalAddr()
	}
	return nil
}

func (l *Link) SetProtocolVersion(v protocol.Version) { l.version.Store(int32(v)) }

func (l *Link) ProtocolVersion() protocol.Version { return protocol.Version(l.version.Load()) }

// RecvFrame blocks for the next checksum-valid frame that passes signature
// validation, bounded by the read timeout and ctx.
func (l *Link) RecvFrame(ctx context.Context) (frame.RawV2, error) {
	if l.closed.Load() {
		return frame.RawV2{}, ErrClosed
	}
	l.readMu.Lock()
	defer l.readMu.Unlock()

	if err := l.setReadDeadline(ctx); err != nil {
		return frame.RawV2{}, fmt.Errorf("connection: recv: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = l.rt.SetReadDeadline(time.Now()) })
	defer stop()

	before := l.reader.Stats()
	f, err := l.reader.ReadFrame()
	if after := l.reader.Stats(); after.CRCFailures != before.CRCFailures || after.RejectedHeaders != before.RejectedHeaders {
		l.log.Debug().
			Uint64("crc_failures", after.CRCFailures-before.CRCFailures).
			Uint64("rejected_headers", after.RejectedHeaders-before.RejectedHeaders).
			Msg("resynchronized")
	}
	if err != nil {
		if l.closed.Load() {
			return frame.RawV2{}, ErrClosed
		}
		if ctxErr := ctx.Err(); ctxErr != nil && IsTimeout(err) {
			return frame.RawV2{}, ctxErr
		}
		return frame.RawV2{}, fmt.Errorf("connection: recv: %w", err)
	}
	if v := l.cfg.Validator; v != nil {
		if err := v.Verify(&f); err != nil {
			l.signatureErr.Add(1)
			return f, fmt.Errorf("connection: recv: %w", err)
		}
	}
	return f, nil
}

// Recv returns the next message. Parse errors are per message and leave the
// link usable.
func (l *Link) Recv(ctx context.Context) (protocol.Header, protocol.Message, error) {
	f, err := l.RecvFrame(ctx)
	if err != nil {
		return protocol.Header{}, nil, err
	}
	h, msg, err := protocol.DecodeMessage(&f, l.dialect)
	if err != nil {
		l.parseErrors.Add(1)
		return h, nil, err
	}
	return h, msg, nil
}

// Send stamps the link's sequence number onto h, which wraps after 255, and
// writes the frame in one call.
func (l *Link) Send(ctx context.Context, h protocol.Header, msg protocol.Message) (int, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	h.Sequence = l.seq
	l.seq++
	enc, err := protocol.EncodeMessage(l.ProtocolVersion(), h, msg, l.dialect, l.cfg.Signer)
	if err != nil {
		return 0, err
	}
	if err := l.setWriteDeadline(ctx); err != nil {
		return 0, fmt.Errorf("connection: send: %w", err)
	}
	n, err := l.wt.Write(enc.Bytes())
	if err != nil {
		return n, fmt.Errorf("connection: send: %w", err)
	}
	l.framesSent.Add(1)
	l.bytesSent.Add(uint64(n))
	return n, nil
}

// SendRaw writes an already assembled frame without touching its sequence.
func (l *Link) SendRaw(ctx context.Context, f *frame.RawV2) (int, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := l.setWriteDeadline(ctx); err != nil {
		return 0, fmt.Errorf("connection: send: %w", err)
	}
	n, err := l.wt.Write(f.Bytes())
	if err != nil {
		return n, fmt.Errorf("connection: send: %w", err)
	}
	l.framesSent.Add(1)
	l.bytesSent.Add(uint64(n))
	return n, nil
}

// Reconnect drops the current transport and establishes a new one from the
// original address. The sequence counter starts over at zero.
func (l *Link) Reconnect(ctx context.Context) error {
	if l.closed.Load() {
		return ErrClosed
	}
	l.readMu.Lock()
	defer l.readMu.Unlock()
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if l.rt != nil {
		_ = l.rt.Close()
	}
	t, err := l.connect(ctx)
	if err != nil {
		return err
	}
	l.install(t)
	// A Close racing with install either sees t in live or is seen here.
	if l.closed.Load() {
		_ = t.Close()
		return ErrClosed
	}
	l.reconnects.Add(1)
	return nil
}

// Close shuts both halves and the tcpin listener. Blocked calls return
// ErrClosed.
func (l *Link) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(l.done)
	var errs []error
	if l.ln != nil {
		errs = append(errs, l.ln.Close())
	}
	// A Reconnect may hold both locks while it retries, so the transport is
	// reached through live. It may already be closed by that Reconnect.
	if lt := l.live.Load(); lt != nil {
		if err := lt.t.Close(); !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l *Link) Stats() Stats {
	l.readMu.Lock()
	dec := l.prior
	if l.reader != nil {
		dec = addStats(dec, l.reader.Stats())
	}
	l.readMu.Unlock()
	return Stats{
		Decoder:      dec,
		FramesSent:   l.framesSent.Load(),
		BytesSent:    l.bytesSent.Load(),
		ParseErrors:  l.parseErrors.Load(),
		SignatureErr: l.signatureErr.Load(),
		Reconnects:   l.reconnects.Load(),
	}
}

func (l *Link) setReadDeadline(ctx context.Context) error {
	var deadline time.Time
	if l.cfg.ReadTimeout > 0 {
		deadline = time.Now().Add(l.cfg.ReadTimeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
		deadline = ctxDeadline
	}
	return l.rt.SetReadDeadline(deadline)
}

func (l *Link) setWriteDeadline(ctx context.Context) error {
	deadline := time.Now().Add(l.cfg.WriteTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	return l.wt.SetWriteDeadline(deadline)
}

func addStats(a, b decoder.Stats) decoder.Stats {
	return decoder.Stats{
		Frames:          a.Frames + b.Frames,
		DiscardedBytes:  a.DiscardedBytes + b.DiscardedBytes,
		RejectedHeaders: a.RejectedHeaders + b.RejectedHeaders,
		CRCFailures:     a.CRCFailures + b.CRCFailures,
	}
}
