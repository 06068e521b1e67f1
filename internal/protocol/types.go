package protocol

import (
	"fmt"

	"github.com/danmuck/mavwire/internal/protocol/frame"
)

// Version selects the framing used on send. Receiving always expects v2.
type Version int

const (
	V1 Version = 1
	V2 Version = 2
)

func (v Version) String() string {
	switch v {
	case V1:
		return "v1"
	case V2:
		return "v2"
	default:
		return fmt.Sprintf("version(%d)", int(v))
	}
}

// ParseVersion accepts "1", "2", "v1" and "v2".
func ParseVersion(raw string) (Version, error) {
	switch raw {
	case "1", "v1", "V1":
		return V1, nil
	case "2", "v2", "V2":
		return V2, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedVersion, raw)
	}
}

// Header is the addressing a sender stamps on a frame. The sequence is
// overwritten by connections on send.
type Header struct {
	Sequence    uint8
	SystemID    uint8
	ComponentID uint8
}

// Message is one typed payload of a dialect.
type Message interface {
	MessageID() uint32
	MessageName() string
	// Serialize writes the full wire payload for v into buf and returns its
	// length. buf holds at least 255 bytes. Extension fields are omitted for
	// V1.
	Serialize(v Version, buf []byte) int
}

// Dialect is a catalogue of messages.
type Dialect interface {
	// ExtraCRC returns 0 for unknown ids.
	ExtraCRC(id uint32) uint8
	MessageIDFromName(name string) (uint32, error)
	DefaultMessageFromID(id uint32) (Message, error)
	// Parse builds a message from a payload. Payloads shorter than the
	// message's wire size are zero-extended.
	Parse(v Version, id uint32, payload []byte) (Message, error)
}

// Signer fills the signature trailer of a frame whose signed bit is set.
type Signer interface {
	Sign(f *frame.RawV2) error
}
