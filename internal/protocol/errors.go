package protocol

import (
	"errors"
	"fmt"

	"github.com/danmuck/mavwire/internal/protocol/frame"
)

var (
	ErrMessageTooLarge    = errors.New("protocol: serialized message exceeds 255 bytes")
	ErrV1MessageID        = errors.New("protocol: message id does not fit a v1 frame")
	ErrBadSignature       = errors.New("protocol: bad frame signature")
	ErrUnknownMessageName = errors.New("protocol: unknown message name")
	ErrUnsupportedVersion = errors.New("protocol: unsupported protocol version")
)

// UnknownMessageError reports a message id the dialect does not define.
type UnknownMessageError struct {
	ID uint32
}

func (e *UnknownMessageError) Error() string {
	return fmt.Sprintf("protocol: unknown message id %d", e.ID)
}

// InvalidEnumError reports a field value outside its enum.
type InvalidEnumError struct {
	EnumType string
	Value    uint64
}

func (e *InvalidEnumError) Error() string {
	return fmt.Sprintf("protocol: invalid enum value %d for %s", e.Value, e.EnumType)
}

// InvalidFlagError reports a bitmask carrying undefined bits.
type InvalidFlagError struct {
	FlagType string
	Value    uint64
}

func (e *InvalidFlagError) Error() string {
	return fmt.Sprintf("protocol: invalid flag value %#x for %s", e.Value, e.FlagType)
}

// InvalidCRCError carries the rejected frame so tooling can inspect it.
type InvalidCRCError struct {
	CRC        uint16
	Calculated uint16
	Frame      frame.RawV2
}

func (e *InvalidCRCError) Error() string {
	return fmt.Sprintf("protocol: invalid crc %#04x, calculated %#04x, message id %d",
		e.CRC, e.Calculated, e.Frame.MessageID())
}

// ParseError wraps a dialect failure with the addressing of the frame that
// produced it.
type ParseError struct {
	Header    Header
	MessageID uint32
	Err       error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("protocol: parse message %d from %d/%d: %v",
		e.MessageID, e.Header.SystemID, e.Header.ComponentID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
