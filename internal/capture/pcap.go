package capture

import (
	"fmt"
	"io"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/danmuck/mavwire/internal/protocol/decoder"
	"github.com/danmuck/mavwire/internal/protocol/frame"
)

// PcapStats summarizes a pcap scan.
type PcapStats struct {
	Packets    int
	UDPPackets int
	Frames     int
	// Resynced counts datagrams that did not split cleanly into frames and
	// went through the stream decoder instead.
	Resynced int
	Decoder  decoder.Stats
}

// ReadPcap calls fn for every checksum-valid frame carried in UDP datagrams
// to or from port.
func ReadPcap(r io.Reader, port uint16, extra frame.ExtraCRCFunc, fn func(Entry) error) (PcapStats, error) {
	var stats PcapStats
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return stats, fmt.Errorf("capture: pcap: %w", err)
	}
	frame.RegisterUDPPort(port)
	dec := decoder.New(extra)

	for {
		data, ci, err := pr.ReadPacketData()
		if err == io.EOF {
			stats.Decoder = dec.Stats()
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("capture: pcap packet %d: %w", stats.Packets+1, err)
		}
		stats.Packets++

		packet := gopacket.NewPacket(data, pr.LinkType(), gopacket.Default)
		udpLayer, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok {
			continue
		}
		if uint16(udpLayer.SrcPort) != port && uint16(udpLayer.DstPort) != port {
			continue
		}
		stats.UDPPackets++

		frames, clean := splitDatagram(packet, extra)
		if !clean && len(udpLayer.Payload) > 0 {
			stats.Resynced++
			frames = frames[:0]
			buf := decoder.NewBuffer(len(udpLayer.Payload))
			buf.Write(udpLayer.Payload)
			dec.Reset()
			dec.DecodeAll(buf, func(f frame.RawV2) { frames = append(frames, f) })
		}
		for _, f := range frames {
			stats.Frames++
			if err := fn(Entry{At: ci.Timestamp.UTC(), Frame: f}); err != nil {
				return stats, err
			}
		}
	}
}

// splitDatagram returns the frames gopacket chained out of the UDP payload.
// The split is clean only when the payload is consumed entirely by
// checksum-valid frame layers.
func splitDatagram(packet gopacket.Packet, extra frame.ExtraCRCFunc) ([]frame.RawV2, bool) {
	if packet.ErrorLayer() != nil {
		return nil, false
	}
	var (
		frames []frame.RawV2
		last   *frame.Layer
	)
	for _, l := range packet.Layers() {
		fl, ok := l.(*frame.Layer)
		if !ok {
			continue
		}
		if !fl.Raw.HasValidCRC(extra) {
			return nil, false
		}
		frames = append(frames, fl.Raw)
		last = fl
	}
	if last == nil || len(last.Payload) > 0 {
		return frames, false
	}
	if _, ok := packet.Layers()[len(packet.Layers())-1].(*frame.Layer); !ok {
		return frames, false
	}
	return frames, true
}

// PcapWriter writes frames as UDP datagrams between two fixed endpoints on
// an Ethernet link.
type PcapWriter struct {
	w       *pcapgo.Writer
	src     net.IP
	dst     net.IP
	srcPort uint16
	dstPort uint16
}

func NewPcapWriter(w io.Writer, srcPort, dstPort uint16) (*PcapWriter, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("capture: pcap header: %w", err)
	}
	return &PcapWriter{
		w:       pw,
		src:     net.IPv4(127, 0, 0, 1),
		dst:     net.IPv4(127, 0, 0, 1),
		srcPort: srcPort,
		dstPort: dstPort,
	}, nil
}

// WriteDatagram writes one packet whose UDP payload is payload.
func (p *PcapWriter) WriteDatagram(e Entry, payload []byte) error {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    p.src,
		DstIP:    p.dst,
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(p.srcPort),
		DstPort: layers.UDPPort(p.dstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return err
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return fmt.Errorf("capture: serialize: %w", err)
	}
	data := buf.Bytes()
	return p.w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     e.At,
		CaptureLength: len(data),
		Length:        len(data),
	}, data)
}

// WriteFrame writes e.Frame as a datagram of its own.
func (p *PcapWriter) WriteFrame(e Entry) error {
	return p.WriteDatagram(e, e.Frame.Bytes())
}
