package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

var (
	ErrUnsupportedAddress = errors.New("connection: unsupported address")
	ErrClosed             = errors.New("connection: closed")
)

// transport is one established byte stream. Deadlines follow net.Conn
// semantics; a zero time clears them.
type transport interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() string
}

// IsTimeout reports whether err came from an expired read or write bound.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

type tcpTransport struct {
	net.Conn
}

func (t tcpTransport) RemoteAddr() string { return t.Conn.RemoteAddr().String() }

func dialTCP(ctx context.Context, target string, timeout time.Duration) (transport, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, err
	}
	return tcpTransport{Conn: conn}, nil
}

// acceptTCP waits for one peer on ln. Cancelling ctx unblocks it.
func acceptTCP(ctx context.Context, ln *net.TCPListener) (transport, error) {
	stop := context.AfterFunc(ctx, func() { _ = ln.SetDeadline(time.Now()) })
	defer stop()
	if err := ln.SetDeadline(time.Time{}); err != nil {
		return nil, err
	}
	conn, err := ln.AcceptTCP()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return tcpTransport{Conn: conn}, nil
}

// MaxDatagramLen bounds a single UDP read.
const MaxDatagramLen = 65535

// udpTransport serves datagrams through an internal buffer so a short
// caller buffer never truncates one. In listening mode it answers the last
// peer that sent to it.
type udpTransport struct {
	conn      *net.UDPConn
	listening bool

	buf     [MaxDatagramLen]byte
	pending []byte

	peerMu sync.Mutex
	peer   *net.UDPAddr
}

func listenUDP(target string) (transport, error) {
	addr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return &udpTransport{conn: conn, listening: true}, nil
}

func dialUDP(target string) (transport, error) {
	addr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, err
	}
	return &udpTransport{conn: conn}, nil
}

func (u *udpTransport) Read(p []byte) (int, error) {
	if len(u.pending) == 0 {
		n, from, err := u.conn.ReadFromUDP(u.buf[:])
		if err != nil {
			return 0, err
		}
		if u.listening {
			u.peerMu.Lock()
			u.peer = from
			u.peerMu.Unlock()
		}
		u.pending = u.buf[:n]
	}
	n := copy(p, u.pending)
	u.pending = u.pending[n:]
	return n, nil
}

// Write sends one datagram. A listening link that has not heard from anyone
// yet drops the write and reports zero bytes.
func (u *udpTransport) Write(p []byte) (int, error) {
	if !u.listening {
		return u.conn.Write(p)
	}
	u.peerMu.Lock()
	peer := u.peer
	u.peerMu.Unlock()
	if peer == nil {
		return 0, nil
	}
	return u.conn.WriteToUDP(p, peer)
}

func (u *udpTransport) Close() error                       { return u.conn.Close() }
func (u *udpTransport) SetReadDeadline(t time.Time) error  { return u.conn.SetReadDeadline(t) }
func (u *udpTransport) SetWriteDeadline(t time.Time) error { return u.conn.SetWriteDeadline(t) }

func (u *udpTransport) RemoteAddr() string {
	if !u.listening {
		return u.conn.RemoteAddr().String()
	}
	u.peerMu.Lock()
	defer u.peerMu.Unlock()
	if u.peer == nil {
		return ""
	}
	return u.peer.String()
}

func (u *udpTransport) LocalAddr() net.Addr { return u.conn.LocalAddr() }

// open establishes the transport for addr. ln is the bound listener for
// tcpin links and nil otherwise.
func open(ctx context.Context, addr Address, ln *net.TCPListener, cfg Config) (transport, error) {
	switch addr.Kind {
	case KindTCPOut:
		return dialTCP(ctx, addr.Target, cfg.ConnectTimeout)
	case KindTCPIn:
		if ln == nil {
			return nil, fmt.Errorf("connection: tcpin %s has no listener", addr.Target)
		}
		return acceptTCP(ctx, ln)
	case KindUDPIn:
		return listenUDP(addr.Target)
	case KindUDPOut:
		return dialUDP(addr.Target)
	case KindSerial:
		return openSerial(addr.Target, addr.Baud)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAddress, addr)
	}
}
