package protocol_test

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/danmuck/mavwire/internal/dialect/common"
	"github.com/danmuck/mavwire/internal/protocol"
	"github.com/danmuck/mavwire/internal/protocol/frame"
	"github.com/danmuck/mavwire/internal/testutil/mavtest"
	"github.com/danmuck/mavwire/internal/testutil/testlog"
)

var errTimeout = errors.New("i/o timeout")

// scriptedReader hands out one step per Read call.
type scriptedReader struct {
	steps []step
}

type step struct {
	data []byte
	err  error
}

func (r *scriptedReader) Read(p []byte) (int, error) {
	if len(r.steps) == 0 {
		return 0, io.EOF
	}
	s := r.steps[0]
	r.steps = r.steps[1:]
	n := copy(p, s.data)
	return n, s.err
}

func fixtureCommand() *common.CommandLong {
	return &common.CommandLong{
		Params:  [7]float32{115, 5000},
		Command: common.MavCmdSetMessageInterval,
	}
}

func TestReadV2FrameSkipsNoise(t *testing.T) {
	testlog.Start(t)
	fx := mavtest.CommandLongTruncated
	stream := append(append([]byte{0x00, frame.MagicV2, 0x10}, fx[7:]...), mavtest.Repeat(fx, 3)...)
	stream = append(stream, fx[:12]...)
	br := bufio.NewReader(bytes.NewReader(stream))

	for i := 0; i < 3; i++ {
		f, err := protocol.ReadV2Frame(br, common.Dialect{})
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if !bytes.Equal(f.Bytes(), fx) {
			t.Fatalf("frame %d mismatch", i)
		}
	}
	if _, err := protocol.ReadV2Frame(br, common.Dialect{}); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after partial tail, got %v", err)
	}
}

func TestFrameReaderCountsRejections(t *testing.T) {
	testlog.Start(t)
	bad := mavtest.Clone(mavtest.CommandLongTruncated)
	bad[15] ^= 0x01
	fr := protocol.NewFrameReader(bytes.NewReader(append(bad, mavtest.CommandLongTruncated...)), common.Dialect{}.ExtraCRC)

	f, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if f.MessageID() != common.CommandLongID {
		t.Fatalf("message id=%d", f.MessageID())
	}
	st := fr.Stats()
	if st.CRCFailures != 1 || st.Frames != 1 || st.DiscardedBytes != uint64(len(bad)-1) {
		t.Fatalf("stats=%+v", st)
	}
}

func TestFrameReaderKeepsPartialFrameAcrossTimeout(t *testing.T) {
	testlog.Start(t)
	fx := mavtest.CommandLongTruncated
	r := &scriptedReader{steps: []step{
		{data: fx[:17]},
		{err: errTimeout},
		{data: fx[17:]},
	}}
	fr := protocol.NewFrameReader(r, common.Dialect{}.ExtraCRC)

	if _, err := fr.ReadFrame(); !errors.Is(err, errTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if fr.Buffered() != 17 {
		t.Fatalf("partial frame dropped, buffered=%d", fr.Buffered())
	}
	f, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("read after timeout: %v", err)
	}
	if !bytes.Equal(f.Bytes(), fx) {
		t.Fatalf("frame mismatch after timeout")
	}
}

func TestReadMessageParsesFixture(t *testing.T) {
	testlog.Start(t)
	br := bufio.NewReader(bytes.NewReader(mavtest.CommandLongTruncated))
	h, msg, err := protocol.ReadMessage(br, common.Dialect{})
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	if h.ComponentID != 50 {
		t.Fatalf("header=%+v", h)
	}
	cmd, ok := msg.(*common.CommandLong)
	if !ok || cmd.Command != common.MavCmdSetMessageInterval {
		t.Fatalf("message=%#v", msg)
	}
}

func TestReadMessageWrapsParseErrors(t *testing.T) {
	testlog.Start(t)
	var f frame.RawV2
	payload := []byte{0, 0, 0, 0, 2, 3, 0, 99, 3}
	if err := f.Pack(frame.Header{SystemID: 7, ComponentID: 1, MessageID: common.HeartbeatID}, payload, 50); err != nil {
		t.Fatalf("pack: %v", err)
	}
	br := bufio.NewReader(bytes.NewReader(f.Bytes()))
	_, _, err := protocol.ReadMessage(br, common.Dialect{})

	var perr *protocol.ParseError
	if !errors.As(err, &perr) || perr.Header.SystemID != 7 || perr.MessageID != common.HeartbeatID {
		t.Fatalf("expected ParseError, got %v", err)
	}
	var enumErr *protocol.InvalidEnumError
	if !errors.As(err, &enumErr) {
		t.Fatalf("parse error should unwrap to InvalidEnumError: %v", err)
	}
}

func TestWriteMessageReproducesFixture(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	h := protocol.Header{Sequence: 0, SystemID: 0, ComponentID: 50}
	n, err := protocol.WriteMessage(&buf, protocol.V2, h, fixtureCommand(), common.Dialect{}, nil)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != len(mavtest.CommandLongTruncated) || !bytes.Equal(buf.Bytes(), mavtest.CommandLongTruncated) {
		t.Fatalf("wire bytes mismatch:\n got=%v\nwant=%v", buf.Bytes(), mavtest.CommandLongTruncated)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	testlog.Start(t)
	d := common.Dialect{}
	msg := &common.GlobalPositionInt{TimeBootMs: 10, Lat: 1, Lon: -1, Alt: 3000, Hdg: 9000}
	var buf bytes.Buffer
	if _, err := protocol.WriteMessage(&buf, protocol.V2, protocol.Header{Sequence: 9, SystemID: 1, ComponentID: 1}, msg, d, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	first := mavtest.Clone(buf.Bytes())

	h, got, err := protocol.ReadMessage(bufio.NewReader(&buf), d)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if h.Sequence != 9 {
		t.Fatalf("sequence=%d", h.Sequence)
	}
	var again bytes.Buffer
	if _, err := protocol.WriteMessage(&again, protocol.V2, h, got, d, nil); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if !bytes.Equal(first, again.Bytes()) {
		t.Fatalf("serialize(parse(serialize(m))) differs")
	}
}

func TestWriteMessageV1(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	hb := &common.Heartbeat{Type: common.MavTypeGCS, Autopilot: common.MavAutopilotInvalid}
	if _, err := protocol.WriteMessage(&buf, protocol.V1, protocol.Header{Sequence: 3, SystemID: 255, ComponentID: 190}, hb, common.Dialect{}, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.Bytes()
	if out[0] != frame.MagicV1 || out[1] != 9 || len(out) != frame.HeaderLenV1+9+frame.ChecksumLen {
		t.Fatalf("unexpected v1 frame: %v", out)
	}
	var v1 frame.RawV1
	copy(v1[:], out)
	if !v1.HasValidCRC(common.Dialect{}.ExtraCRC) || v1.Sequence() != 3 || v1.SystemID() != 255 {
		t.Fatalf("v1 frame invalid: %v", out)
	}
}

type wideMessage struct{}

func (wideMessage) MessageID() uint32   { return 300 }
func (wideMessage) MessageName() string { return "WIDE" }
func (wideMessage) Serialize(_ protocol.Version, b []byte) int {
	b[0] = 1
	return 1
}

func TestWriteMessageV1RejectsWideID(t *testing.T) {
	testlog.Start(t)
	_, err := protocol.WriteMessage(io.Discard, protocol.V1, protocol.Header{}, wideMessage{}, common.Dialect{}, nil)
	if !errors.Is(err, protocol.ErrV1MessageID) {
		t.Fatalf("expected ErrV1MessageID, got %v", err)
	}
	if _, err := protocol.WriteMessage(io.Discard, protocol.Version(3), protocol.Header{}, wideMessage{}, common.Dialect{}, nil); !errors.Is(err, protocol.ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

type fixedSigner struct{ calls int }

func (s *fixedSigner) Sign(f *frame.RawV2) error {
	s.calls++
	return f.SetSignature(bytes.Repeat([]byte{0xEE}, frame.SignatureLen))
}

func TestEncodeMessageSigned(t *testing.T) {
	testlog.Start(t)
	s := &fixedSigner{}
	enc, err := protocol.EncodeMessage(protocol.V2, protocol.Header{SystemID: 1}, &common.Heartbeat{}, common.Dialect{}, s)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	f := enc.V2()
	if s.calls != 1 || !f.Signed() || len(enc.Bytes()) != f.Len() {
		t.Fatalf("signed frame not assembled: %v", enc.Bytes())
	}
	if !f.HasValidCRC(common.Dialect{}.ExtraCRC) {
		t.Fatalf("crc must cover the signed flag")
	}
}

func TestParseFrameStrict(t *testing.T) {
	testlog.Start(t)
	d := common.Dialect{}
	if _, err := protocol.ParseFrame(mavtest.CommandLongTruncated, d); err != nil {
		t.Fatalf("parse: %v", err)
	}

	bad := mavtest.Clone(mavtest.CommandLongTruncated)
	bad[len(bad)-1] ^= 0xFF
	_, err := protocol.ParseFrame(bad, d)
	var crcErr *protocol.InvalidCRCError
	if !errors.As(err, &crcErr) {
		t.Fatalf("expected InvalidCRCError, got %v", err)
	}
	if crcErr.Calculated != 0xC3BC || crcErr.Frame.MessageID() != common.CommandLongID {
		t.Fatalf("crc error=%+v", crcErr)
	}

	if _, err := protocol.ParseFrame(bad[:20], d); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", err)
	}
	bad[0] = 0x00
	if _, err := protocol.ParseFrame(bad, d); !errors.Is(err, frame.ErrWrongMagic) {
		t.Fatalf("expected ErrWrongMagic, got %v", err)
	}
}

func TestTrimPayload(t *testing.T) {
	testlog.Start(t)
	if got := protocol.TrimPayload([]byte{1, 0, 2, 0, 0}); !bytes.Equal(got, []byte{1, 0, 2}) {
		t.Fatalf("trim=%v", got)
	}
	if got := protocol.TrimPayload([]byte{0, 0, 0}); len(got) != 1 {
		t.Fatalf("all-zero payload keeps one byte, got %v", got)
	}
}

func TestParseVersion(t *testing.T) {
	testlog.Start(t)
	if v, err := protocol.ParseVersion("v1"); err != nil || v != protocol.V1 {
		t.Fatalf("v=%v err=%v", v, err)
	}
	if _, err := protocol.ParseVersion("3"); !errors.Is(err, protocol.ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}
