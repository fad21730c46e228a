// Package netflow re-encodes emitted flow records as NetFlow v5 UDP
// datagrams for collectors that only understand that wire format. It is
// a second, simpler consumer of the same emission stream the JSON writer
// consumes (see internal/flowcache.Sink); it owns no flow table of its
// own — aggregation and expiration are entirely the flow cache's job.
package netflow

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pavelkim/flowcached/internal/flowcache"
)

// Exporter implements flowcache.Sink by translating each emitted record
// into a NetFlow v5 flow record and sending it to a configured
// collector.
type Exporter struct {
	version int
	conn    *net.UDPConn

	mu          sync.Mutex
	sequenceNum uint32
}

// NewExporter dials the NetFlow collector at collectorAddr.
func NewExporter(collectorAddr string, version int) (*Exporter, error) {
	addr, err := net.ResolveUDPAddr("udp", collectorAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve collector address: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to collector: %w", err)
	}

	return &Exporter{version: version, conn: conn}, nil
}

// EmitFlow implements flowcache.Sink: it re-encodes r (and its twin, if
// any, merged into outbound+inbound counts) as one NetFlow v5 record.
func (e *Exporter) EmitFlow(r *flowcache.Record) error {
	if e.version != 5 {
		// Only NetFlow v5 is implemented.
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.exportRecord(r)
}

// Close closes the collector connection.
func (e *Exporter) Close() error {
	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}

func addrToIP(a uint32) net.IP {
	b := make(net.IP, 4)
	binary.BigEndian.PutUint32(b, a)
	return b
}

func mergedTCPFlags(r *flowcache.Record) uint8 {
	var flags uint8
	for _, f := range r.PktFlag {
		flags |= f
	}
	if r.Twin != nil {
		for _, f := range r.Twin.PktFlag {
			flags |= f
		}
	}
	return flags
}

// exportRecord builds and sends a NetFlow v5 header + single flow record
// datagram (24 + 48 = 72 bytes), as the teacher's exportFlow did for its
// own ad hoc Flow type.
func (e *Exporter) exportRecord(r *flowcache.Record) error {
	packets := r.NumPackets
	bytes := r.PayloadBytes
	lastSeen := r.End
	if r.Twin != nil {
		packets += r.Twin.NumPackets
		bytes += r.Twin.PayloadBytes
		if r.Twin.End.After(lastSeen) {
			lastSeen = r.Twin.End
		}
	}

	buf := make([]byte, 72)

	binary.BigEndian.PutUint16(buf[0:2], 5) // Version
	binary.BigEndian.PutUint16(buf[2:4], 1) // Count (1 record)
	now := time.Now()
	binary.BigEndian.PutUint32(buf[4:8], uint32(now.Unix()*1000))
	binary.BigEndian.PutUint32(buf[8:12], uint32(now.Unix()))
	binary.BigEndian.PutUint32(buf[12:16], uint32(now.Nanosecond()))
	e.sequenceNum++
	binary.BigEndian.PutUint32(buf[16:20], e.sequenceNum)

	offset := 24
	copy(buf[offset:offset+4], addrToIP(r.Key.SrcAddr))
	copy(buf[offset+4:offset+8], addrToIP(r.Key.DstAddr))
	binary.BigEndian.PutUint16(buf[offset+12:offset+14], 0) // Input interface
	binary.BigEndian.PutUint16(buf[offset+14:offset+16], 0) // Output interface
	binary.BigEndian.PutUint32(buf[offset+16:offset+20], uint32(packets))
	binary.BigEndian.PutUint32(buf[offset+20:offset+24], uint32(bytes))
	binary.BigEndian.PutUint32(buf[offset+24:offset+28], uint32(r.Start.Unix()))
	binary.BigEndian.PutUint32(buf[offset+28:offset+32], uint32(lastSeen.Unix()))
	binary.BigEndian.PutUint16(buf[offset+32:offset+34], r.Key.SrcPort)
	binary.BigEndian.PutUint16(buf[offset+34:offset+36], r.Key.DstPort)
	buf[offset+36] = 0 // Pad
	buf[offset+37] = mergedTCPFlags(r)
	buf[offset+38] = r.Key.Protocol
	buf[offset+39] = 0 // TOS

	_, err := e.conn.Write(buf)
	return err
}
