package frame

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/gopacket"

	"github.com/danmuck/mavwire/internal/testutil/mavtest"
	"github.com/danmuck/mavwire/internal/testutil/testlog"
)

func fixture(t *testing.T) RawV2 {
	t.Helper()
	var f RawV2
	copy(f[:], mavtest.CommandLongTruncated)
	return f
}

func TestRawV2Accessors(t *testing.T) {
	testlog.Start(t)
	f := fixture(t)
	if f.Magic() != MagicV2 {
		t.Fatalf("magic=%#02x", f.Magic())
	}
	if f.PayloadLength() != 30 || len(f.Payload()) != 30 {
		t.Fatalf("payload length=%d slice=%d", f.PayloadLength(), len(f.Payload()))
	}
	if f.SystemID() != 0 || f.ComponentID() != 50 || f.Sequence() != 0 {
		t.Fatalf("address mismatch sys=%d comp=%d seq=%d", f.SystemID(), f.ComponentID(), f.Sequence())
	}
	if f.MessageID() != 76 {
		t.Fatalf("message id=%d", f.MessageID())
	}
	if f.Checksum() != 0xC3BC {
		t.Fatalf("checksum=%#04x", f.Checksum())
	}
	if f.SignatureLength() != 0 || f.Signature() != nil {
		t.Fatalf("unsigned frame reports a signature")
	}
	if f.Len() != len(mavtest.CommandLongTruncated) {
		t.Fatalf("len=%d want=%d", f.Len(), len(mavtest.CommandLongTruncated))
	}
	if !bytes.Equal(f.Bytes(), mavtest.CommandLongTruncated) {
		t.Fatalf("bytes mismatch")
	}
}

func TestRawV2HasValidCRC(t *testing.T) {
	testlog.Start(t)
	f := fixture(t)
	before := f
	if !f.HasValidCRC(mavtest.ConstantExtraCRC) {
		t.Fatalf("expected valid crc")
	}
	if f != before {
		t.Fatalf("HasValidCRC mutated the frame")
	}
	if f.HasValidCRC(func(uint32) uint8 { return 0 }) {
		t.Fatalf("zero seed should not validate")
	}
	if f.HasValidCRC(nil) {
		t.Fatalf("nil seed lookup should behave as zero seed")
	}
}

func TestRawV2PayloadBitFlipInvalidatesCRC(t *testing.T) {
	testlog.Start(t)
	for i := 0; i < 30*8; i++ {
		f := fixture(t)
		f[HeaderLenV2+i/8] ^= 1 << (i % 8)
		if f.HasValidCRC(mavtest.ConstantExtraCRC) {
			t.Fatalf("bit %d flip still validates", i)
		}
	}
}

func TestRawV2PackMatchesFixture(t *testing.T) {
	testlog.Start(t)
	src := fixture(t)
	var f RawV2
	err := f.Pack(Header{
		Sequence:    0,
		SystemID:    0,
		ComponentID: 50,
		MessageID:   76,
	}, src.Payload(), mavtest.CommandLongExtraCRC)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if f != src {
		t.Fatalf("packed frame differs:\n got=%v\nwant=%v", f.Bytes(), src.Bytes())
	}
}

func TestRawV2SignedLayout(t *testing.T) {
	testlog.Start(t)
	var f RawV2
	if err := f.Pack(Header{IncompatFlags: IncompatFlagSigned, MessageID: 0}, []byte{1, 2, 3}, 50); err != nil {
		t.Fatalf("pack: %v", err)
	}
	if f.SignatureLength() != SignatureLen {
		t.Fatalf("signature length=%d", f.SignatureLength())
	}
	if f.Len() != HeaderLenV2+3+ChecksumLen+SignatureLen {
		t.Fatalf("len=%d", f.Len())
	}
	sig := bytes.Repeat([]byte{0xAA}, SignatureLen)
	if err := f.SetSignature(sig); err != nil {
		t.Fatalf("set signature: %v", err)
	}
	if !bytes.Equal(f.Signature(), sig) {
		t.Fatalf("signature mismatch")
	}
	if len(f.Signable()) != HeaderLenV2+3+ChecksumLen {
		t.Fatalf("signable len=%d", len(f.Signable()))
	}
	if err := f.SetSignature([]byte{1}); !errors.Is(err, ErrSignatureLength) {
		t.Fatalf("expected ErrSignatureLength, got %v", err)
	}
}

func TestRawV2PackRejectsBadInput(t *testing.T) {
	testlog.Start(t)
	var f RawV2
	if err := f.Pack(Header{}, make([]byte, MaxPayloadLen+1), 0); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if err := f.Pack(Header{MessageID: MaxMessageIDV2 + 1}, nil, 0); !errors.Is(err, ErrMessageIDTooLarge) {
		t.Fatalf("expected ErrMessageIDTooLarge, got %v", err)
	}
	if err := f.Pack(Header{IncompatFlags: 0x02}, nil, 0); !errors.Is(err, ErrUnsupportedIncompat) {
		t.Fatalf("expected ErrUnsupportedIncompat, got %v", err)
	}
}

func TestRawV2MaxSize(t *testing.T) {
	testlog.Start(t)
	if MaxFrameLenV2 != 280 {
		t.Fatalf("max frame len=%d", MaxFrameLenV2)
	}
	var f RawV2
	if err := f.Pack(Header{IncompatFlags: IncompatFlagSigned, MessageID: MaxMessageIDV2}, make([]byte, MaxPayloadLen), 7); err != nil {
		t.Fatalf("pack: %v", err)
	}
	if f.Len() != MaxFrameLenV2 {
		t.Fatalf("len=%d", f.Len())
	}
	if f.MessageID() != MaxMessageIDV2 {
		t.Fatalf("message id=%d", f.MessageID())
	}
}

func TestRawV1Pack(t *testing.T) {
	testlog.Start(t)
	var f RawV1
	payload := []byte{0, 0, 0, 0, 2, 3, 81, 4, 3}
	if err := f.Pack(Header{Sequence: 9, SystemID: 1, ComponentID: 1, MessageID: 0}, payload, 50); err != nil {
		t.Fatalf("pack: %v", err)
	}
	if f.Magic() != MagicV1 || f.Len() != HeaderLenV1+len(payload)+ChecksumLen {
		t.Fatalf("unexpected v1 layout: %v", f.Bytes())
	}
	if f.Sequence() != 9 || f.SystemID() != 1 || f.ComponentID() != 1 {
		t.Fatalf("address mismatch: %v", f.Bytes())
	}
	if !f.HasValidCRC(func(uint32) uint8 { return 50 }) {
		t.Fatalf("v1 crc invalid")
	}
	if err := f.Pack(Header{MessageID: 256}, nil, 0); !errors.Is(err, ErrMessageIDTooLarge) {
		t.Fatalf("expected ErrMessageIDTooLarge, got %v", err)
	}
}

func TestLayerDecodesConcatenatedFrames(t *testing.T) {
	testlog.Start(t)
	data := mavtest.Repeat(mavtest.CommandLongTruncated, 2)
	packet := gopacket.NewPacket(data, LayerTypeMAVLinkV2, gopacket.Default)
	if errLayer := packet.ErrorLayer(); errLayer != nil {
		t.Fatalf("decode error: %v", errLayer.Error())
	}
	var count int
	for _, l := range packet.Layers() {
		fl, ok := l.(*Layer)
		if !ok {
			continue
		}
		count++
		if fl.Raw.MessageID() != 76 || !fl.Raw.HasValidCRC(mavtest.ConstantExtraCRC) {
			t.Fatalf("layer frame invalid: %v", fl.Raw.Bytes())
		}
	}
	if count != 2 {
		t.Fatalf("expected 2 frame layers, got %d", count)
	}
}

func TestLayerRejectsWrongMagic(t *testing.T) {
	testlog.Start(t)
	data := mavtest.Clone(mavtest.CommandLongTruncated)
	data[0] = MagicV1
	var l Layer
	if err := l.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err == nil {
		t.Fatalf("expected wrong magic error")
	}
}

func TestLayerSerializeRoundTrip(t *testing.T) {
	testlog.Start(t)
	l := &Layer{Raw: fixture(t)}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, l); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), mavtest.CommandLongTruncated) {
		t.Fatalf("serialized bytes mismatch")
	}
}

func TestLayerTypeRegistered(t *testing.T) {
	testlog.Start(t)
	if LayerTypeMAVLinkV2 != gopacket.LayerType(LayerNum) {
		t.Fatalf("layer type %d, want %d", LayerTypeMAVLinkV2, LayerNum)
	}
	if LayerTypeMAVLinkV2.String() != "MAVLinkV2" {
		t.Fatalf("layer name %q", LayerTypeMAVLinkV2.String())
	}
}
