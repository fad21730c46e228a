package stats

import (
	"testing"
	"time"

	"github.com/pavelkim/flowcached/internal/flowcache"
	"github.com/pavelkim/flowcached/internal/logger"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.NewLogger(&logger.Config{Level: "debug", ConsoleOutput: false})
	require.NoError(t, err)
	return l
}

func ipv4(a, b, c, d byte) uint32 {
	return uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d)
}

func TestReporter_FirstTickHasNoRatesSecondDoes(t *testing.T) {
	cache := flowcache.New(flowcache.DefaultConfig(), flowcache.SinkFunc(func(r *flowcache.Record) error { return nil }))
	r := NewReporter(cache, testLogger(t), time.Second)

	base := time.Unix(1000, 0)
	r.Tick(base)
	require.Equal(t, base, r.prevTime)

	_, err := cache.Ingest(flowcache.PacketView{
		Timestamp: base,
		Key: flowcache.FlowKey{
			SrcAddr: ipv4(10, 0, 0, 1), DstAddr: ipv4(10, 0, 0, 2),
			SrcPort: 1234, DstPort: 80, Protocol: 6,
		},
		PayloadLen: 100,
	})
	require.NoError(t, err)

	r.Tick(base.Add(time.Second))
	require.Equal(t, uint64(1), r.prev.NumPackets)
}
