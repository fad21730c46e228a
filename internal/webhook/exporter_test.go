package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
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

func TestExporter_ForwardsMatchingRecord(t *testing.T) {
	var mu sync.Mutex
	var received map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cache := flowcache.New(flowcache.DefaultConfig(), flowcache.SinkFunc(func(r *flowcache.Record) error { return nil }))

	exp, err := NewExporter(cache, Config{
		Enabled:     true,
		UpstreamURL: srv.URL,
		Logger:      testLogger(t),
		Filter:      Filter{DstPort: 80},
	})
	require.NoError(t, err)
	defer exp.Close()

	r, err := cache.Ingest(flowcache.PacketView{
		Timestamp: time.Unix(1000, 0),
		Key: flowcache.FlowKey{
			SrcAddr:  ipv4(10, 0, 0, 1),
			DstAddr:  ipv4(10, 0, 0, 2),
			SrcPort:  4321,
			DstPort:  80,
			Protocol: 6,
		},
		PayloadLen: 10,
	})
	require.NoError(t, err)

	require.NoError(t, exp.EmitFlow(r))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "10.0.0.1", received["sa"])
	require.Equal(t, "10.0.0.2", received["da"])
}

func TestExporter_SkipsNonMatchingRecord(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cache := flowcache.New(flowcache.DefaultConfig(), flowcache.SinkFunc(func(r *flowcache.Record) error { return nil }))

	exp, err := NewExporter(cache, Config{
		Enabled:     true,
		UpstreamURL: srv.URL,
		Logger:      testLogger(t),
		Filter:      Filter{DstPort: 443},
	})
	require.NoError(t, err)
	defer exp.Close()

	r, err := cache.Ingest(flowcache.PacketView{
		Timestamp: time.Unix(1000, 0),
		Key: flowcache.FlowKey{
			SrcAddr:  ipv4(10, 0, 0, 1),
			DstAddr:  ipv4(10, 0, 0, 2),
			SrcPort:  4321,
			DstPort:  80,
			Protocol: 6,
		},
		PayloadLen: 10,
	})
	require.NoError(t, err)

	require.NoError(t, exp.EmitFlow(r))
	require.False(t, called)
}
