// Package decoder turns a raw captured frame into the protocol metadata
// the rest of the pipeline needs: a five-tuple, TTL, TCP flags/options,
// and the payload bytes. It knows nothing about flow aggregation; it is
// one of the external collaborators the flow cache consumes through a
// narrow contract (see internal/flowcache.PacketView).
package decoder

import (
	"encoding/binary"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// TCPOptionCounts tallies the per-option counts of spec §3's TCP
// anomalies group.
type TCPOptionCounts struct {
	NOP    int
	MSS    int
	WScale int
	SACK   int
	TSVal  int
}

// PacketInfo contains decoded packet information: both the
// human-readable fields used for logging/debugging output and the raw
// numeric fields the flow cache's aggregation step consumes.
type PacketInfo struct {
	Timestamp  int64
	Protocol   string
	SrcIP      string
	DstIP      string
	SrcPort    uint16
	DstPort    uint16
	SrcMAC     string
	DstMAC     string
	Length     int
	PayloadLen int
	TCPFlags   string
	PacketData []byte

	// Raw fields for flow-cache ingestion.
	SrcAddr     uint32
	DstAddr     uint32
	ProtocolNum uint8
	TTL         uint8
	HasTCP      bool
	HasIPv4     bool
	RawTCPFlags uint8
	TCPWindow   uint16
	TCPSYN      bool
	TCPOptions  TCPOptionCounts
	SYNSize     int
	Payload     []byte
}

// Decoder decodes encapsulated network packets.
type Decoder struct{}

// NewDecoder creates a new packet decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode decodes an encapsulated packet and extracts metadata.
func (d *Decoder) Decode(data []byte, timestamp int64) (*PacketInfo, error) {
	info := &PacketInfo{
		Timestamp:  timestamp,
		Length:     len(data),
		PacketData: data,
	}

	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)

	if ethLayer := packet.Layer(layers.LayerTypeEthernet); ethLayer != nil {
		eth, _ := ethLayer.(*layers.Ethernet)
		info.SrcMAC = eth.SrcMAC.String()
		info.DstMAC = eth.DstMAC.String()
	}

	if ipLayer := packet.Layer(layers.LayerTypeIPv4); ipLayer != nil {
		ip, _ := ipLayer.(*layers.IPv4)
		info.SrcIP = ip.SrcIP.String()
		info.DstIP = ip.DstIP.String()
		info.Protocol = ip.Protocol.String()
		info.ProtocolNum = uint8(ip.Protocol)
		info.TTL = ip.TTL
		info.HasIPv4 = true
		if v4 := ip.SrcIP.To4(); v4 != nil {
			info.SrcAddr = binary.BigEndian.Uint32(v4)
		}
		if v4 := ip.DstIP.To4(); v4 != nil {
			info.DstAddr = binary.BigEndian.Uint32(v4)
		}
	}

	if ipLayer := packet.Layer(layers.LayerTypeIPv6); ipLayer != nil {
		ip, _ := ipLayer.(*layers.IPv6)
		info.SrcIP = ip.SrcIP.String()
		info.DstIP = ip.DstIP.String()
		info.Protocol = ip.NextHeader.String()
		info.ProtocolNum = uint8(ip.NextHeader)
		info.TTL = ip.HopLimit
	}

	if tcpLayer := packet.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		tcp, _ := tcpLayer.(*layers.TCP)
		info.SrcPort = uint16(tcp.SrcPort)
		info.DstPort = uint16(tcp.DstPort)
		info.Protocol = "TCP"
		info.TCPFlags = d.formatTCPFlags(tcp)
		info.RawTCPFlags = rawTCPFlags(tcp)
		info.HasTCP = true
		info.TCPWindow = tcp.Window
		info.TCPSYN = tcp.SYN
		info.TCPOptions = countTCPOptions(tcp)
		if tcp.SYN {
			info.SYNSize = len(data)
		}

		if appLayer := packet.ApplicationLayer(); appLayer != nil {
			info.PayloadLen = len(appLayer.Payload())
			info.Payload = appLayer.Payload()
		}
	}

	if udpLayer := packet.Layer(layers.LayerTypeUDP); udpLayer != nil {
		udp, _ := udpLayer.(*layers.UDP)
		info.SrcPort = uint16(udp.SrcPort)
		info.DstPort = uint16(udp.DstPort)
		info.Protocol = "UDP"

		if appLayer := packet.ApplicationLayer(); appLayer != nil {
			info.PayloadLen = len(appLayer.Payload())
			info.Payload = appLayer.Payload()
		}
	}

	if icmpLayer := packet.Layer(layers.LayerTypeICMPv4); icmpLayer != nil {
		info.Protocol = "ICMPv4"
	}

	if icmpLayer := packet.Layer(layers.LayerTypeICMPv6); icmpLayer != nil {
		info.Protocol = "ICMPv6"
	}

	if err := packet.ErrorLayer(); err != nil {
		return info, fmt.Errorf("packet decoding error: %v", err.Error())
	}

	return info, nil
}

// formatTCPFlags formats TCP flags into a readable string for logging.
func (d *Decoder) formatTCPFlags(tcp *layers.TCP) string {
	flags := ""
	if tcp.SYN {
		flags += "S"
	}
	if tcp.ACK {
		flags += "A"
	}
	if tcp.FIN {
		flags += "F"
	}
	if tcp.RST {
		flags += "R"
	}
	if tcp.PSH {
		flags += "P"
	}
	if tcp.URG {
		flags += "U"
	}
	if tcp.ECE {
		flags += "E"
	}
	if tcp.CWR {
		flags += "C"
	}
	if tcp.NS {
		flags += "N"
	}
	if flags == "" {
		flags = "-"
	}
	return flags
}

// rawTCPFlags packs the standard eight TCP control bits into one byte,
// matching the wire layout (FIN, SYN, RST, PSH, ACK, URG, ECE, CWR from
// low to high bit) for the per-packet flag array of spec §3.
func rawTCPFlags(tcp *layers.TCP) uint8 {
	var b uint8
	if tcp.FIN {
		b |= 1 << 0
	}
	if tcp.SYN {
		b |= 1 << 1
	}
	if tcp.RST {
		b |= 1 << 2
	}
	if tcp.PSH {
		b |= 1 << 3
	}
	if tcp.ACK {
		b |= 1 << 4
	}
	if tcp.URG {
		b |= 1 << 5
	}
	if tcp.ECE {
		b |= 1 << 6
	}
	if tcp.CWR {
		b |= 1 << 7
	}
	return b
}

// countTCPOptions tallies the per-option counts of spec §3.
func countTCPOptions(tcp *layers.TCP) TCPOptionCounts {
	var c TCPOptionCounts
	for _, opt := range tcp.Options {
		switch opt.OptionType {
		case layers.TCPOptionKindNop:
			c.NOP++
		case layers.TCPOptionKindMSS:
			c.MSS++
		case layers.TCPOptionKindWindowScale:
			c.WScale++
		case layers.TCPOptionKindSACKPermitted, layers.TCPOptionKindSACK:
			c.SACK++
		case layers.TCPOptionKindTimestamps:
			c.TSVal++
		}
	}
	return c
}
