package protocol

import (
	"fmt"
	"io"

	"github.com/danmuck/mavwire/internal/protocol/frame"
)

// TrimPayload drops trailing zero bytes, keeping at least one byte.
func TrimPayload(p []byte) []byte {
	n := len(p)
	for n > 1 && p[n-1] == 0 {
		n--
	}
	return p[:n]
}

// Encoded is an assembled frame of either version.
type Encoded struct {
	Version Version
	v1      frame.RawV1
	v2      frame.RawV2
}

func (e *Encoded) Bytes() []byte {
	if e.Version == V1 {
		return e.v1.Bytes()
	}
	return e.v2.Bytes()
}

// V2 returns the v2 frame; it is zero for V1 encodings.
func (e *Encoded) V2() *frame.RawV2 { return &e.v2 }

// EncodeMessage assembles msg into a frame. A non-nil signer signs v2 frames;
// v1 frames are never signed.
func EncodeMessage(v Version, h Header, msg Message, d Dialect, signer Signer) (*Encoded, error) {
	var payload [frame.MaxPayloadLen]byte
	n := msg.Serialize(v, payload[:])
	if n > frame.MaxPayloadLen {
		return nil, ErrMessageTooLarge
	}
	id := msg.MessageID()
	seed := d.ExtraCRC(id)
	fh := frame.Header{
		Sequence:    h.Sequence,
		SystemID:    h.SystemID,
		ComponentID: h.ComponentID,
		MessageID:   id,
	}

	out := &Encoded{Version: v}
	switch v {
	case V1:
		if id > frame.MaxMessageIDV1 {
			return nil, fmt.Errorf("%w: %d", ErrV1MessageID, id)
		}
		if err := out.v1.Pack(fh, payload[:n], seed); err != nil {
			return nil, err
		}
	case V2:
		if signer != nil {
			fh.IncompatFlags |= frame.IncompatFlagSigned
		}
		if err := out.v2.Pack(fh, TrimPayload(payload[:n]), seed); err != nil {
			return nil, err
		}
		if signer != nil {
			if err := signer.Sign(&out.v2); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedVersion, v)
	}
	return out, nil
}

// WriteMessage encodes msg and writes it with a single Write call.
func WriteMessage(w io.Writer, v Version, h Header, msg Message, d Dialect, signer Signer) (int, error) {
	enc, err := EncodeMessage(v, h, msg, d, signer)
	if err != nil {
		return 0, err
	}
	return w.Write(enc.Bytes())
}
