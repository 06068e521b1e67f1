package frame

import (
	"errors"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	// LayerNum identifies the layer in the gopacket registry.
	LayerNum = 2999
	// DefaultUDPPort is the conventional ground station port.
	DefaultUDPPort = 14550
)

var errLayerTooShort = errors.New("frame: layer data too short")

// LayerTypeMAVLinkV2 is assigned in init; decodeLayer refers back to it.
var LayerTypeMAVLinkV2 gopacket.LayerType

func init() {
	LayerTypeMAVLinkV2 = gopacket.RegisterLayerType(LayerNum,
		gopacket.LayerTypeMetadata{Name: "MAVLinkV2", Decoder: gopacket.DecodeFunc(decodeLayer)})
}

// RegisterUDPPort makes gopacket hand UDP payloads on port to this layer.
func RegisterUDPPort(port uint16) {
	layers.RegisterUDPPortLayerType(layers.UDPPort(port), LayerTypeMAVLinkV2)
}

// Layer is one v2 frame inside a captured packet. Decoding checks framing
// only; checksum validation needs a dialect and is left to the caller.
type Layer struct {
	layers.BaseLayer
	Raw RawV2
}

func (l *Layer) LayerType() gopacket.LayerType { return LayerTypeMAVLinkV2 }

func (l *Layer) CanDecode() gopacket.LayerClass { return LayerTypeMAVLinkV2 }

// NextLayerType chains to another frame when the datagram carries more.
func (l *Layer) NextLayerType() gopacket.LayerType {
	if len(l.Payload) > 0 && l.Payload[0] == MagicV2 {
		return LayerTypeMAVLinkV2
	}
	return gopacket.LayerTypePayload
}

// DecodeFromBytes attempts to decode the front of data as one v2 frame.
func (l *Layer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < HeaderLenV2+ChecksumLen {
		df.SetTruncated()
		return errLayerTooShort
	}
	if data[0] != MagicV2 {
		return fmt.Errorf("%w %#02x, must be %#02x", ErrWrongMagic, data[0], MagicV2)
	}
	if data[2]&^SupportedIncompatFlags != 0 {
		return fmt.Errorf("%w: %#02x", ErrUnsupportedIncompat, data[2])
	}
	n := HeaderLenV2 + int(data[1]) + ChecksumLen
	if data[2]&IncompatFlagSigned != 0 {
		n += SignatureLen
	}
	if len(data) < n {
		df.SetTruncated()
		return errLayerTooShort
	}
	l.Raw = RawV2{}
	copy(l.Raw[:], data[:n])
	l.BaseLayer = layers.BaseLayer{
		Contents: data[:n],
		Payload:  data[n:],
	}
	return nil
}

// SerializeTo prepends the frame bytes to b.
func (l *Layer) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	out, err := b.PrependBytes(l.Raw.Len())
	if err != nil {
		return err
	}
	copy(out, l.Raw.Bytes())
	return nil
}

func decodeLayer(data []byte, p gopacket.PacketBuilder) error {
	l := &Layer{}
	if err := l.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(l)
	if len(l.Payload) == 0 {
		return nil
	}
	return p.NextDecoder(l.NextLayerType())
}
