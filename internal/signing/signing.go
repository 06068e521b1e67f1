// Package signing implements the 13 byte v2 signature trailer: link id,
// 48-bit timestamp and the first six bytes of SHA-256 over the secret key and
// the signed frame.
//
// It does not manage keys beyond parsing them.
package signing

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/mavwire/internal/protocol"
	"github.com/danmuck/mavwire/internal/protocol/frame"
)

const (
	KeyLen       = 32
	timestampLen = 6
	macLen       = 6
)

var (
	ErrUnsigned       = errors.New("signing: frame is not signed")
	ErrStaleTimestamp = errors.New("signing: timestamp not newer than last seen")
	ErrKeyLength      = errors.New("signing: key must be 32 bytes")
	ErrNotSignable    = errors.New("signing: frame does not carry the signed flag")
)

// epoch is the zero point of signature timestamps.
var epoch = time.Date(2015, time.January, 1, 0, 0, 0, 0, time.UTC)

type Key [KeyLen]byte

// ParseKey accepts 64 hex characters.
func ParseKey(raw string) (Key, error) {
	var k Key
	b, err := hex.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return k, fmt.Errorf("signing: parse key: %w", err)
	}
	if len(b) != KeyLen {
		return k, ErrKeyLength
	}
	copy(k[:], b)
	return k, nil
}

// KeyFromPassphrase derives a key the way ground stations do: SHA-256 of the
// passphrase.
func KeyFromPassphrase(p string) Key {
	return Key(sha256.Sum256([]byte(p)))
}

// Timestamp converts t to 10 microsecond units since 2015-01-01 UTC.
func Timestamp(t time.Time) uint64 {
	d := t.Sub(epoch)
	if d < 0 {
		return 0
	}
	return uint64(d / (10 * time.Microsecond))
}

// Trailer is the decoded signature area of a signed frame.
type Trailer struct {
	LinkID    uint8
	Timestamp uint64
	MAC       [macLen]byte
}

// ReadTrailer returns the trailer of f, or ErrUnsigned.
func ReadTrailer(f *frame.RawV2) (Trailer, error) {
	sig := f.Signature()
	if sig == nil {
		return Trailer{}, ErrUnsigned
	}
	var tr Trailer
	tr.LinkID = sig[0]
	tr.Timestamp = getTimestamp(sig[1 : 1+timestampLen])
	copy(tr.MAC[:], sig[1+timestampLen:])
	return tr, nil
}

func getTimestamp(b []byte) uint64 {
	var full [8]byte
	copy(full[:], b)
	return binary.LittleEndian.Uint64(full[:])
}

func putTimestamp(b []byte, ts uint64) {
	var full [8]byte
	binary.LittleEndian.PutUint64(full[:], ts)
	copy(b, full[:timestampLen])
}

// MAC computes the six byte code for f with the given link id and timestamp.
func MAC(key Key, f *frame.RawV2, linkID uint8, ts uint64) [macLen]byte {
	h := sha256.New()
	h.Write(key[:])
	h.Write(f.Signable())
	var tail [1 + timestampLen]byte
	tail[0] = linkID
	putTimestamp(tail[1:], ts)
	h.Write(tail[:])
	var out [macLen]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Signer stamps outgoing frames. Timestamps strictly increase even when the
// clock does not.
type Signer struct {
	key    Key
	linkID uint8
	now    func() time.Time

	mu   sync.Mutex
	last uint64
}

var _ protocol.Signer = (*Signer)(nil)

func NewSigner(key Key, linkID uint8) *Signer {
	return &Signer{key: key, linkID: linkID, now: time.Now}
}

func (s *Signer) Sign(f *frame.RawV2) error {
	if !f.Signed() {
		return ErrNotSignable
	}
	s.mu.Lock()
	ts := Timestamp(s.now())
	if ts <= s.last {
		ts = s.last + 1
	}
	s.last = ts
	s.mu.Unlock()

	mac := MAC(s.key, f, s.linkID, ts)
	var sig [frame.SignatureLen]byte
	sig[0] = s.linkID
	putTimestamp(sig[1:1+timestampLen], ts)
	copy(sig[1+timestampLen:], mac[:])
	return f.SetSignature(sig[:])
}

// Validator checks an incoming frame.
type Validator interface {
	Verify(f *frame.RawV2) error
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(f *frame.RawV2) error

func (fn FuncValidator) Verify(f *frame.RawV2) error {
	return fn(f)
}

type streamKey struct {
	linkID      uint8
	systemID    uint8
	componentID uint8
}

// Verifier checks signatures and rejects replays per (link, system,
// component) stream.
type Verifier struct {
	key           Key
	allowUnsigned bool

	mu      sync.Mutex
	streams map[streamKey]uint64
}

func NewVerifier(key Key, allowUnsigned bool) *Verifier {
	return &Verifier{key: key, allowUnsigned: allowUnsigned, streams: make(map[streamKey]uint64)}
}

func (v *Verifier) Verify(f *frame.RawV2) error {
	tr, err := ReadTrailer(f)
	if errors.Is(err, ErrUnsigned) {
		if v.allowUnsigned {
			return nil
		}
		return err
	}
	want := MAC(v.key, f, tr.LinkID, tr.Timestamp)
	if subtle.ConstantTimeCompare(want[:], tr.MAC[:]) != 1 {
		return protocol.ErrBadSignature
	}

	k := streamKey{linkID: tr.LinkID, systemID: f.SystemID(), componentID: f.ComponentID()}
	v.mu.Lock()
	defer v.mu.Unlock()
	if last, ok := v.streams[k]; ok && tr.Timestamp <= last {
		return fmt.Errorf("%w: stream %d/%d/%d ts=%d last=%d",
			ErrStaleTimestamp, k.linkID, k.systemID, k.componentID, tr.Timestamp, last)
	}
	v.streams[k] = tr.Timestamp
	return nil
}
