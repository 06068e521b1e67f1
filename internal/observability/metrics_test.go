package observability

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/mavwire/internal/connection"
	"github.com/danmuck/mavwire/internal/protocol/decoder"
	"github.com/danmuck/mavwire/internal/testutil/testlog"
)

type fixedStats connection.Stats

func (f fixedStats) Stats() connection.Stats { return connection.Stats(f) }

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("mavctl", "GET", "/health", 200, 12*time.Millisecond)
	RecordRelayFrame("in")
	RecordRelayFrame("out")
	SetRelayPeers(2)
	RecordCapture("record", 3)
}

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	body, err := io.ReadAll(rr.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return rr.Code, string(body)
}

func TestServerExportsTrackedLinks(t *testing.T) {
	testlog.Start(t)
	untrack := TrackLink("uplink", fixedStats{
		Decoder:    decoder.Stats{Frames: 7, DiscardedBytes: 3, CRCFailures: 1},
		FramesSent: 5,
		BytesSent:  120,
	})
	defer untrack()

	s := NewServer("mavctl-test")
	h := s.Handler()

	code, body := get(t, h, "/health")
	if code != http.StatusOK || !strings.Contains(body, `"status":"ok"`) {
		t.Fatalf("health code=%d body=%s", code, body)
	}

	code, body = get(t, h, "/metrics")
	if code != http.StatusOK {
		t.Fatalf("metrics code=%d", code)
	}
	for _, want := range []string{
		`mavwire_link_frames_received_total{link="uplink"} 7`,
		`mavwire_link_discarded_bytes_total{link="uplink"} 3`,
		`mavwire_link_crc_failures_total{link="uplink"} 1`,
		`mavwire_link_bytes_sent_total{link="uplink"} 120`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q", want)
		}
	}

	code, body = get(t, h, "/links")
	if code != http.StatusOK {
		t.Fatalf("links code=%d", code)
	}
	var out struct {
		Links []NamedStats `json:"links"`
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		t.Fatalf("decode links: %v", err)
	}
	if len(out.Links) != 1 || out.Links[0].Name != "uplink" || out.Links[0].Stats.FramesSent != 5 {
		t.Fatalf("links=%+v", out.Links)
	}

	if code, _ := get(t, h, "/links/uplink"); code != http.StatusOK {
		t.Fatalf("link lookup code=%d", code)
	}
	if code, _ := get(t, h, "/links/missing"); code != http.StatusNotFound {
		t.Fatalf("missing link code=%d", code)
	}
}

func TestUntrackRemovesLink(t *testing.T) {
	testlog.Start(t)
	untrack := TrackLink("transient", fixedStats{})
	untrack()
	for _, ns := range LinkStats() {
		if ns.Name == "transient" {
			t.Fatalf("link still tracked after untrack")
		}
	}
}
