package protocol

import (
	"bufio"
	"io"

	"github.com/danmuck/mavwire/internal/protocol/decoder"
	"github.com/danmuck/mavwire/internal/protocol/frame"
)

// ReadBufferSize keeps several maximum-size frames buffered.
const ReadBufferSize = 4096

// FrameReader is the blocking counterpart of decoder.Decoder. Candidates are
// peeked in place; a rejected one releases only its magic byte and a valid
// one is consumed whole. A read error mid-frame leaves the partial frame
// buffered for the next call.
type FrameReader struct {
	br    *bufio.Reader
	extra frame.ExtraCRCFunc
	stats decoder.Stats
}

func NewFrameReader(r io.Reader, extra frame.ExtraCRCFunc) *FrameReader {
	return &FrameReader{br: bufio.NewReaderSize(r, ReadBufferSize), extra: extra}
}

// Reset drops buffered bytes and reads from r from now on.
func (fr *FrameReader) Reset(r io.Reader) { fr.br.Reset(r) }

func (fr *FrameReader) Stats() decoder.Stats { return fr.stats }

func (fr *FrameReader) Buffered() int { return fr.br.Buffered() }

// ReadFrame blocks until a checksum-valid v2 frame is read or the underlying
// reader fails.
func (fr *FrameReader) ReadFrame() (frame.RawV2, error) {
	return readV2Frame(fr.br, fr.extra, &fr.stats)
}

// ReadMessage reads the next frame and parses it with d.
func (fr *FrameReader) ReadMessage(d Dialect) (Header, Message, frame.RawV2, error) {
	f, err := fr.ReadFrame()
	if err != nil {
		return Header{}, nil, f, err
	}
	h, msg, err := DecodeMessage(&f, d)
	return h, msg, f, err
}

// ReadV2Frame reads one frame from r. Use a FrameReader to keep counters.
func ReadV2Frame(r *bufio.Reader, d Dialect) (frame.RawV2, error) {
	var stats decoder.Stats
	return readV2Frame(r, d.ExtraCRC, &stats)
}

// ReadMessage reads one frame from r and parses it with d.
func ReadMessage(r *bufio.Reader, d Dialect) (Header, Message, error) {
	f, err := ReadV2Frame(r, d)
	if err != nil {
		return Header{}, nil, err
	}
	return DecodeMessage(&f, d)
}

func readV2Frame(br *bufio.Reader, extra frame.ExtraCRCFunc, stats *decoder.Stats) (frame.RawV2, error) {
	var raw frame.RawV2
	for {
		b, err := br.Peek(1)
		if err != nil {
			return frame.RawV2{}, err
		}
		if b[0] != frame.MagicV2 {
			br.Discard(1)
			stats.DiscardedBytes++
			continue
		}

		head, err := br.Peek(frame.HeaderLenV2)
		if err != nil {
			return frame.RawV2{}, err
		}
		if head[2]&^frame.SupportedIncompatFlags != 0 {
			br.Discard(1)
			stats.RejectedHeaders++
			continue
		}
		n := frame.HeaderLenV2 + int(head[1]) + frame.ChecksumLen
		if head[2]&frame.IncompatFlagSigned != 0 {
			n += frame.SignatureLen
		}

		full, err := br.Peek(n)
		if err != nil {
			return frame.RawV2{}, err
		}
		raw = frame.RawV2{}
		copy(raw[:], full)
		if !raw.HasValidCRC(extra) {
			br.Discard(1)
			stats.CRCFailures++
			continue
		}
		br.Discard(n)
		stats.Frames++
		return raw, nil
	}
}

// DecodeMessage parses the payload of a validated frame.
func DecodeMessage(f *frame.RawV2, d Dialect) (Header, Message, error) {
	h := Header{
		Sequence:    f.Sequence(),
		SystemID:    f.SystemID(),
		ComponentID: f.ComponentID(),
	}
	msg, err := d.Parse(V2, f.MessageID(), f.Payload())
	if err != nil {
		return h, nil, &ParseError{Header: h, MessageID: f.MessageID(), Err: err}
	}
	return h, msg, nil
}

// ParseFrame validates exactly one frame at the start of data and reports a
// checksum mismatch as *InvalidCRCError instead of skipping it.
func ParseFrame(data []byte, d Dialect) (frame.RawV2, error) {
	var raw frame.RawV2
	if len(data) < frame.HeaderLenV2+frame.ChecksumLen {
		return raw, io.ErrUnexpectedEOF
	}
	if data[0] != frame.MagicV2 {
		return raw, frame.ErrWrongMagic
	}
	if data[2]&^frame.SupportedIncompatFlags != 0 {
		return raw, &InvalidFlagError{FlagType: "IncompatFlags", Value: uint64(data[2])}
	}
	n := frame.HeaderLenV2 + int(data[1]) + frame.ChecksumLen
	if data[2]&frame.IncompatFlagSigned != 0 {
		n += frame.SignatureLen
	}
	if len(data) < n {
		return raw, io.ErrUnexpectedEOF
	}
	copy(raw[:], data[:n])
	if calc := raw.CalculateCRC(d.ExtraCRC); calc != raw.Checksum() {
		return raw, &InvalidCRCError{CRC: raw.Checksum(), Calculated: calc, Frame: raw}
	}
	return raw, nil
}
