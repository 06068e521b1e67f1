package observability

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/danmuck/mavwire/internal/connection"
)

const namespace = "mavwire"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	relayPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "peers",
			Help:      "Peers currently attached to the relay.",
		},
	)
	relayFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "frames_total",
			Help:      "Frames moved by the relay.",
		},
		[]string{"direction"},
	)
	captureFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "frames_total",
			Help:      "Frames written to or replayed from a capture store.",
		},
		[]string{"op"},
	)

	links = newLinkCollector()
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, relayPeers, relayFrames, captureFrames, links)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordRelayFrame counts one frame in direction "in" (from a peer) or "out"
// (to a peer).
func RecordRelayFrame(direction string) {
	RegisterMetrics()
	relayFrames.WithLabelValues(direction).Inc()
}

func SetRelayPeers(n int) {
	RegisterMetrics()
	relayPeers.Set(float64(n))
}

// RecordCapture counts frames by op, "record" or "replay".
func RecordCapture(op string, n int) {
	RegisterMetrics()
	captureFrames.WithLabelValues(op).Add(float64(n))
}

// StatsSource is anything that can report link counters, typically a
// *connection.Link.
type StatsSource interface {
	Stats() connection.Stats
}

// TrackLink exports src's counters under the link label until the returned
// func is called.
func TrackLink(name string, src StatsSource) (untrack func()) {
	RegisterMetrics()
	links.add(name, src)
	return func() { links.remove(name) }
}

// LinkStats snapshots every tracked link, sorted by name.
func LinkStats() []NamedStats {
	return links.snapshot()
}

type NamedStats struct {
	Name  string           `json:"name"`
	Stats connection.Stats `json:"stats"`
}

type linkCollector struct {
	mu      sync.Mutex
	sources map[string]StatsSource

	framesReceived *prometheus.Desc
	discarded      *prometheus.Desc
	rejected       *prometheus.Desc
	crcFailures    *prometheus.Desc
	framesSent     *prometheus.Desc
	bytesSent      *prometheus.Desc
	parseErrors    *prometheus.Desc
	signatureErr   *prometheus.Desc
	reconnects     *prometheus.Desc
}

func newLinkCollector() *linkCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "link", name), help, []string{"link"}, nil)
	}
	return &linkCollector{
		sources:        make(map[string]StatsSource),
		framesReceived: desc("frames_received_total", "Checksum-valid frames decoded."),
		discarded:      desc("discarded_bytes_total", "Bytes dropped while searching for a frame start."),
		rejected:       desc("rejected_headers_total", "Headers rejected for unsupported incompatibility flags."),
		crcFailures:    desc("crc_failures_total", "Candidate frames that failed the checksum."),
		framesSent:     desc("frames_sent_total", "Frames written to the transport."),
		bytesSent:      desc("bytes_sent_total", "Bytes written to the transport."),
		parseErrors:    desc("parse_errors_total", "Valid frames whose payload could not be parsed."),
		signatureErr:   desc("signature_errors_total", "Frames rejected by signature validation."),
		reconnects:     desc("reconnects_total", "Successful reconnects."),
	}
}

func (c *linkCollector) add(name string, src StatsSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources[name] = src
}

func (c *linkCollector) remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sources, name)
}

func (c *linkCollector) snapshot() []NamedStats {
	c.mu.Lock()
	out := make([]NamedStats, 0, len(c.sources))
	for name, src := range c.sources {
		out = append(out, NamedStats{Name: name, Stats: src.Stats()})
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *linkCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.framesReceived
	ch <- c.discarded
	ch <- c.rejected
	ch <- c.crcFailures
	ch <- c.framesSent
	ch <- c.bytesSent
	ch <- c.parseErrors
	ch <- c.signatureErr
	ch <- c.reconnects
}

func (c *linkCollector) Collect(ch chan<- prometheus.Metric) {
	for _, ns := range c.snapshot() {
		s := ns.Stats
		counter := func(d *prometheus.Desc, v uint64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), ns.Name)
		}
		counter(c.framesReceived, s.Decoder.Frames)
		counter(c.discarded, s.Decoder.DiscardedBytes)
		counter(c.rejected, s.Decoder.RejectedHeaders)
		counter(c.crcFailures, s.Decoder.CRCFailures)
		counter(c.framesSent, s.FramesSent)
		counter(c.bytesSent, s.BytesSent)
		counter(c.parseErrors, s.ParseErrors)
		counter(c.signatureErr, s.SignatureErr)
		counter(c.reconnects, s.Reconnects)
	}
}
