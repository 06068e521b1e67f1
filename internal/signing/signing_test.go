package signing

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/mavwire/internal/protocol"
	"github.com/danmuck/mavwire/internal/protocol/frame"
	"github.com/danmuck/mavwire/internal/testutil/testlog"
)

func signedFrame(t *testing.T, payload []byte) *frame.RawV2 {
	t.Helper()
	f := &frame.RawV2{}
	h := frame.Header{IncompatFlags: frame.IncompatFlagSigned, SystemID: 1, ComponentID: 1, MessageID: 0}
	if err := f.Pack(h, payload, 50); err != nil {
		t.Fatalf("pack: %v", err)
	}
	return f
}

func fixedClock(ts ...time.Time) func() time.Time {
	i := 0
	return func() time.Time {
		t := ts[i]
		if i < len(ts)-1 {
			i++
		}
		return t
	}
}

func TestParseKey(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "valid hex", raw: strings.Repeat("ab", KeyLen)},
		{name: "short key", raw: "abcd", wantErr: true},
		{name: "not hex", raw: strings.Repeat("zz", KeyLen), wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			k, err := ParseKey(tc.raw)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tc.wantErr)
			}
			if err == nil && k[0] != 0xAB {
				t.Fatalf("key=%x", k)
			}
		})
	}
	if KeyFromPassphrase("x") == (Key{}) {
		t.Fatalf("passphrase key empty")
	}
}

func TestTimestamp(t *testing.T) {
	testlog.Start(t)
	if Timestamp(epoch) != 0 || Timestamp(epoch.Add(-time.Hour)) != 0 {
		t.Fatalf("epoch should map to zero")
	}
	if got := Timestamp(epoch.Add(time.Second)); got != 100000 {
		t.Fatalf("one second=%d", got)
	}
}

func TestSignVerify(t *testing.T) {
	testlog.Start(t)
	key := KeyFromPassphrase("vehicle-1")
	s := NewSigner(key, 7)
	now := epoch.Add(24 * time.Hour)
	s.now = fixedClock(now)
	f := signedFrame(t, []byte{1, 2, 3})
	if err := s.Sign(f); err != nil {
		t.Fatalf("sign: %v", err)
	}

	tr, err := ReadTrailer(f)
	if err != nil {
		t.Fatalf("trailer: %v", err)
	}
	if tr.LinkID != 7 || tr.Timestamp != Timestamp(now) {
		t.Fatalf("trailer=%+v", tr)
	}
	if !f.HasValidCRC(func(uint32) uint8 { return 50 }) {
		t.Fatalf("signing must not touch the checksum")
	}

	v := NewVerifier(key, false)
	if err := v.Verify(f); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := v.Verify(f); !errors.Is(err, ErrStaleTimestamp) {
		t.Fatalf("replay should be rejected, got %v", err)
	}
	if err := NewVerifier(KeyFromPassphrase("other"), false).Verify(f); !errors.Is(err, protocol.ErrBadSignature) {
		t.Fatalf("wrong key should fail, got %v", err)
	}

	f.Payload()[0] ^= 0xFF
	if err := NewVerifier(key, false).Verify(f); !errors.Is(err, protocol.ErrBadSignature) {
		t.Fatalf("tampered payload should fail, got %v", err)
	}
}

func TestSignerTimestampsIncrease(t *testing.T) {
	testlog.Start(t)
	s := NewSigner(Key{}, 0)
	now := epoch.Add(time.Hour)
	s.now = fixedClock(now, now, now.Add(-time.Second))

	var last uint64
	for i := 0; i < 3; i++ {
		f := signedFrame(t, []byte{byte(i)})
		if err := s.Sign(f); err != nil {
			t.Fatalf("sign: %v", err)
		}
		tr, _ := ReadTrailer(f)
		if tr.Timestamp <= last {
			t.Fatalf("timestamp %d not after %d", tr.Timestamp, last)
		}
		last = tr.Timestamp
	}
}

func TestVerifierUnsignedPolicy(t *testing.T) {
	testlog.Start(t)
	var f frame.RawV2
	if err := f.Pack(frame.Header{MessageID: 0}, []byte{1}, 50); err != nil {
		t.Fatalf("pack: %v", err)
	}
	if err := NewVerifier(Key{}, true).Verify(&f); err != nil {
		t.Fatalf("unsigned allowed: %v", err)
	}
	if err := NewVerifier(Key{}, false).Verify(&f); !errors.Is(err, ErrUnsigned) {
		t.Fatalf("expected ErrUnsigned, got %v", err)
	}
	if err := NewSigner(Key{}, 0).Sign(&f); !errors.Is(err, ErrNotSignable) {
		t.Fatalf("expected ErrNotSignable, got %v", err)
	}
}

func TestFuncValidator(t *testing.T) {
	testlog.Start(t)
	var v Validator = FuncValidator(func(f *frame.RawV2) error {
		if f.SystemID() != 1 {
			return protocol.ErrBadSignature
		}
		return nil
	})
	var f frame.RawV2
	f.SetSystemID(2)
	if err := v.Verify(&f); !errors.Is(err, protocol.ErrBadSignature) {
		t.Fatalf("expected rejection, got %v", err)
	}
	f.SetSystemID(1)
	if err := v.Verify(&f); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}
