package server

import (
	"testing"
	"time"

	"github.com/pavelkim/flowcached/internal/decoder"
	"github.com/stretchr/testify/require"
)

func TestPacketInfoToView(t *testing.T) {
	ts := time.Unix(1234, 5000)
	info := &decoder.PacketInfo{
		SrcAddr:     0x0a000001,
		DstAddr:     0x0a000002,
		SrcPort:     1234,
		DstPort:     80,
		ProtocolNum: 6,
		TTL:         64,
		PayloadLen:  10,
		Payload:     []byte("0123456789"),
		RawTCPFlags: 0x12,
		HasTCP:      true,
		TCPWindow:   65535,
		TCPSYN:      true,
		TCPOptions: decoder.TCPOptionCounts{
			NOP: 1, MSS: 1, WScale: 1, SACK: 1, TSVal: 1,
		},
		SYNSize: 66,
	}

	pv := packetInfoToView(info, ts)

	require.Equal(t, ts, pv.Timestamp)
	require.Equal(t, uint32(0x0a000001), pv.Key.SrcAddr)
	require.Equal(t, uint32(0x0a000002), pv.Key.DstAddr)
	require.Equal(t, uint16(1234), pv.Key.SrcPort)
	require.Equal(t, uint16(80), pv.Key.DstPort)
	require.Equal(t, uint8(6), pv.Key.Protocol)
	require.Equal(t, uint8(64), pv.TTL)
	require.Equal(t, 10, pv.PayloadLen)
	require.True(t, pv.HasTCP)
	require.True(t, pv.TCPSYN)
	require.Equal(t, 1, pv.TCPOptNOP)
	require.Equal(t, 1, pv.TCPOptMSS)
	require.Equal(t, 1, pv.TCPOptWScal)
	require.Equal(t, 1, pv.TCPOptSACK)
	require.Equal(t, 1, pv.TCPOptTS)
	require.Equal(t, 66, pv.SYNSize)
}
