package frame

import (
	"encoding/binary"
	"errors"

	"github.com/danmuck/mavwire/internal/protocol/crc"
)

const (
	MagicV1 byte = 0xFE
	MagicV2 byte = 0xFD

	// HeaderLenV2 counts the magic byte; HeaderBodyLenV2 is what follows it.
	HeaderLenV2     = 10
	HeaderBodyLenV2 = HeaderLenV2 - 1
	HeaderLenV1     = 6
	ChecksumLen     = 2
	SignatureLen    = 13
	MaxPayloadLen   = 255
	MaxFrameLenV2   = HeaderLenV2 + MaxPayloadLen + ChecksumLen + SignatureLen
	MaxFrameLenV1   = HeaderLenV1 + MaxPayloadLen + ChecksumLen
	MaxMessageIDV2  = 1<<24 - 1
	MaxMessageIDV1  = 1<<8 - 1

	IncompatFlagSigned uint8 = 0x01
	// SupportedIncompatFlags is checked literally by every decoder: any other
	// bit rejects the frame.
	SupportedIncompatFlags = IncompatFlagSigned
)

var (
	ErrPayloadTooLarge     = errors.New("frame: payload too large")
	ErrMessageIDTooLarge   = errors.New("frame: message id out of range")
	ErrSignatureLength     = errors.New("frame: signature must be 13 bytes")
	ErrUnsupportedIncompat = errors.New("frame: unsupported incompatibility flags")
	ErrWrongMagic          = errors.New("frame: wrong magic byte")
)

// ExtraCRCFunc returns the seed byte folded into the checksum of a message id.
type ExtraCRCFunc func(messageID uint32) uint8

// Header is the addressing and flag part of a frame as written by Pack.
type Header struct {
	IncompatFlags uint8
	CompatFlags   uint8
	Sequence      uint8
	SystemID      uint8
	ComponentID   uint8
	MessageID     uint32
}

// RawV2 is one v2 frame in wire layout. The zero value is an empty frame
// without magic.
type RawV2 [MaxFrameLenV2]byte

func (f *RawV2) Magic() byte                 { return f[0] }
func (f *RawV2) PayloadLength() uint8        { return f[1] }
func (f *RawV2) IncompatibilityFlags() uint8 { return f[2] }
func (f *RawV2) CompatibilityFlags() uint8   { return f[3] }
func (f *RawV2) Sequence() uint8             { return f[4] }
func (f *RawV2) SystemID() uint8             { return f[5] }
func (f *RawV2) ComponentID() uint8          { return f[6] }

func (f *RawV2) MessageID() uint32 {
	return uint32(f[7]) | uint32(f[8])<<8 | uint32(f[9])<<16
}

func (f *RawV2) SetMagic(b byte)                 { f[0] = b }
func (f *RawV2) SetIncompatibilityFlags(v uint8) { f[2] = v }
func (f *RawV2) SetCompatibilityFlags(v uint8)   { f[3] = v }
func (f *RawV2) SetSequence(v uint8)             { f[4] = v }
func (f *RawV2) SetSystemID(v uint8)             { f[5] = v }
func (f *RawV2) SetComponentID(v uint8)          { f[6] = v }

func (f *RawV2) SetMessageID(id uint32) error {
	if id > MaxMessageIDV2 {
		return ErrMessageIDTooLarge
	}
	f[7], f[8], f[9] = byte(id), byte(id>>8), byte(id>>16)
	return nil
}

// Signed reports whether the signing incompatibility bit is set.
func (f *RawV2) Signed() bool {
	return f[2]&IncompatFlagSigned != 0
}

func (f *RawV2) SignatureLength() int {
	if f.Signed() {
		return SignatureLen
	}
	return 0
}

// Len is the number of wire bytes the frame occupies.
func (f *RawV2) Len() int {
	return HeaderLenV2 + int(f[1]) + ChecksumLen + f.SignatureLength()
}

// Bytes returns the wire bytes backed by the frame storage.
func (f *RawV2) Bytes() []byte { return f[:f.Len()] }

// HeaderBody is the nine header bytes after the magic.
func (f *RawV2) HeaderBody() []byte { return f[1:HeaderLenV2] }

func (f *RawV2) Payload() []byte {
	return f[HeaderLenV2 : HeaderLenV2+int(f[1])]
}

// SetPayload copies p in and updates the length byte. The checksum is not
// recomputed.
func (f *RawV2) SetPayload(p []byte) error {
	if len(p) > MaxPayloadLen {
		return ErrPayloadTooLarge
	}
	f[1] = uint8(len(p))
	copy(f[HeaderLenV2:], p)
	return nil
}

func (f *RawV2) checksumOffset() int { return HeaderLenV2 + int(f[1]) }

func (f *RawV2) Checksum() uint16 {
	off := f.checksumOffset()
	return binary.LittleEndian.Uint16(f[off : off+ChecksumLen])
}

func (f *RawV2) SetChecksum(v uint16) {
	off := f.checksumOffset()
	binary.LittleEndian.PutUint16(f[off:off+ChecksumLen], v)
}

// Signature returns the 13 byte trailer, or nil for unsigned frames.
func (f *RawV2) Signature() []byte {
	if !f.Signed() {
		return nil
	}
	off := f.checksumOffset() + ChecksumLen
	return f[off : off+SignatureLen]
}

func (f *RawV2) SetSignature(sig []byte) error {
	if len(sig) != SignatureLen {
		return ErrSignatureLength
	}
	off := f.checksumOffset() + ChecksumLen
	copy(f[off:off+SignatureLen], sig)
	return nil
}

// Signable is the region covered by a signature: everything up to and
// including the checksum.
func (f *RawV2) Signable() []byte {
	return f[:f.checksumOffset()+ChecksumLen]
}

// CalculateCRC computes the checksum the frame should carry.
func (f *RawV2) CalculateCRC(extra ExtraCRCFunc) uint16 {
	var seed uint8
	if extra != nil {
		seed = extra(f.MessageID())
	}
	return crc.Frame(f.HeaderBody(), f.Payload(), seed)
}

// HasValidCRC never mutates the frame. Unknown ids are expected to report a
// zero seed, which in practice fails here.
func (f *RawV2) HasValidCRC(extra ExtraCRCFunc) bool {
	return f.CalculateCRC(extra) == f.Checksum()
}

// Pack fills the frame from h and payload and writes the checksum. When the
// signed bit is set in h the signature area is zeroed for the caller to fill.
func (f *RawV2) Pack(h Header, payload []byte, seed uint8) error {
	if len(payload) > MaxPayloadLen {
		return ErrPayloadTooLarge
	}
	if h.IncompatFlags&^SupportedIncompatFlags != 0 {
		return ErrUnsupportedIncompat
	}
	*f = RawV2{}
	f[0] = MagicV2
	f.SetIncompatibilityFlags(h.IncompatFlags)
	f.SetCompatibilityFlags(h.CompatFlags)
	f.SetSequence(h.Sequence)
	f.SetSystemID(h.SystemID)
	f.SetComponentID(h.ComponentID)
	if err := f.SetMessageID(h.MessageID); err != nil {
		return err
	}
	if err := f.SetPayload(payload); err != nil {
		return err
	}
	f.SetChecksum(crc.Frame(f.HeaderBody(), f.Payload(), seed))
	return nil
}

// RawV1 is one v1 frame in wire layout. Only the send path produces these.
type RawV1 [MaxFrameLenV1]byte

func (f *RawV1) Magic() byte          { return f[0] }
func (f *RawV1) PayloadLength() uint8 { return f[1] }
func (f *RawV1) Sequence() uint8      { return f[2] }
func (f *RawV1) SystemID() uint8      { return f[3] }
func (f *RawV1) ComponentID() uint8   { return f[4] }
func (f *RawV1) MessageID() uint32    { return uint32(f[5]) }
func (f *RawV1) Len() int             { return HeaderLenV1 + int(f[1]) + ChecksumLen }
func (f *RawV1) Bytes() []byte        { return f[:f.Len()] }

func (f *RawV1) Payload() []byte {
	return f[HeaderLenV1 : HeaderLenV1+int(f[1])]
}

func (f *RawV1) Checksum() uint16 {
	off := HeaderLenV1 + int(f[1])
	return binary.LittleEndian.Uint16(f[off : off+ChecksumLen])
}

func (f *RawV1) HasValidCRC(extra ExtraCRCFunc) bool {
	var seed uint8
	if extra != nil {
		seed = extra(f.MessageID())
	}
	return crc.Frame(f[1:HeaderLenV1], f.Payload(), seed) == f.Checksum()
}

// Pack fills a v1 frame. v1 has no flag bytes and a one byte message id.
func (f *RawV1) Pack(h Header, payload []byte, seed uint8) error {
	if len(payload) > MaxPayloadLen {
		return ErrPayloadTooLarge
	}
	if h.MessageID > MaxMessageIDV1 {
		return ErrMessageIDTooLarge
	}
	*f = RawV1{}
	f[0] = MagicV1
	f[1] = uint8(len(payload))
	f[2] = h.Sequence
	f[3] = h.SystemID
	f[4] = h.ComponentID
	f[5] = uint8(h.MessageID)
	copy(f[HeaderLenV1:], payload)
	off := HeaderLenV1 + len(payload)
	binary.LittleEndian.PutUint16(f[off:off+ChecksumLen], crc.Frame(f[1:HeaderLenV1], f.Payload(), seed))
	return nil
}
