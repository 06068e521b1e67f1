// Package decoder turns an unaligned, possibly corrupted byte stream into
// validated v2 frames without blocking.
//
// The decoder is push-driven: callers append bytes to a Source and call
// Decode until it reports no frame. Noise is never an error, the decoder
// resynchronizes on the next magic byte instead.
package decoder

import (
	"fmt"

	"github.com/danmuck/mavwire/internal/protocol/frame"
)

// Source is the unconsumed tail of a stream. Peek must not block when n is
// at most Len.
type Source interface {
	Len() int
	Peek(n int) ([]byte, error)
	Skip(n int) error
}

type State int

const (
	StateSearchMagic State = iota
	StateParseHeader
	StateParsePayload
	StateCheckCRC
)

func (s State) String() string {
	switch s {
	case StateSearchMagic:
		return "search_magic"
	case StateParseHeader:
		return "parse_header"
	case StateParsePayload:
		return "parse_payload"
	case StateCheckCRC:
		return "check_crc"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Stats counts what the decoder has seen since it was created.
type Stats struct {
	Frames          uint64
	DiscardedBytes  uint64
	RejectedHeaders uint64
	CRCFailures     uint64
}

// Decoder is not safe for concurrent use and serves a single stream.
type Decoder struct {
	extra frame.ExtraCRCFunc
	state State
	raw   frame.RawV2
	stats Stats
	// tail is how many bytes of the last emitted frame are still in the
	// source. Search skips them like any other byte but does not count
	// them as discarded.
	tail int
}

func New(extra frame.ExtraCRCFunc) *Decoder {
	return &Decoder{extra: extra}
}

func (d *Decoder) State() State { return d.state }

func (d *Decoder) Stats() Stats { return d.stats }

// Reset must be called after every returned frame before the next Decode.
// It keeps the emitted frame's tail accounting.
func (d *Decoder) Reset() {
	d.state = StateSearchMagic
	d.raw = frame.RawV2{}
}

// Decode advances the state machine over src. It returns a frame once one
// has been validated, or false when more bytes are needed.
//
// Only the search stage consumes from src. Header, payload and checksum are
// peeked in place, so a returned frame's bytes after the magic are still in
// src; the search after Reset skips them one at a time. A rejected candidate
// likewise leaves its bytes in src, so a marker inside it is found again and
// re-validated.
func (d *Decoder) Decode(src Source) (frame.RawV2, bool) {
	for {
		switch d.state {
		case StateSearchMagic:
			if !d.searchMagic(src) {
				return frame.RawV2{}, false
			}
			d.raw[0] = frame.MagicV2
			d.state = StateParseHeader

		case StateParseHeader:
			if src.Len() < frame.HeaderBodyLenV2 {
				return frame.RawV2{}, false
			}
			head, err := src.Peek(frame.HeaderBodyLenV2)
			if err != nil {
				return frame.RawV2{}, false
			}
			copy(d.raw[1:frame.HeaderLenV2], head)
			if d.raw.IncompatibilityFlags()&^frame.SupportedIncompatFlags != 0 {
				d.stats.RejectedHeaders++
				d.Reset()
				continue
			}
			d.state = StateParsePayload

		case StateParsePayload:
			trailing := d.trailingLen()
			if src.Len() < frame.HeaderBodyLenV2+trailing {
				return frame.RawV2{}, false
			}
			buf, err := src.Peek(frame.HeaderBodyLenV2 + trailing)
			if err != nil {
				return frame.RawV2{}, false
			}
			copy(d.raw[frame.HeaderLenV2:frame.HeaderLenV2+trailing], buf[frame.HeaderBodyLenV2:])
			d.state = StateCheckCRC

		case StateCheckCRC:
			if !d.raw.HasValidCRC(d.extra) {
				d.stats.CRCFailures++
				d.Reset()
				continue
			}
			d.stats.Frames++
			d.tail = max(d.tail, d.raw.Len()-1)
			return d.raw, true
		}
	}
}

// searchMagic drops bytes until it has consumed a magic byte. Scanned bytes
// are gone for good.
func (d *Decoder) searchMagic(src Source) bool {
	for src.Len() > 0 {
		b, err := src.Peek(1)
		if err != nil {
			return false
		}
		magic := b[0]
		if err := src.Skip(1); err != nil {
			return false
		}
		inTail := d.tail > 0
		if inTail {
			d.tail--
		}
		if magic == frame.MagicV2 {
			return true
		}
		if !inTail {
			d.stats.DiscardedBytes++
		}
	}
	return false
}

// trailingLen is payload, checksum and signature as declared by the header.
func (d *Decoder) trailingLen() int {
	return int(d.raw.PayloadLength()) + frame.ChecksumLen + d.raw.SignatureLength()
}

// DecodeAll drains src, calling fn for each frame and resetting in between.
func (d *Decoder) DecodeAll(src Source, fn func(frame.RawV2)) int {
	var n int
	for {
		f, ok := d.Decode(src)
		if !ok {
			return n
		}
		n++
		d.Reset()
		fn(f)
	}
}
