package output

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pavelkim/flowcached/internal/flowcache"
	"github.com/stretchr/testify/require"
)

func ipv4(a, b, c, d byte) uint32 {
	return uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d)
}

func TestFileWriter_WritesNDJSONAndRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flows.ndjson")

	var fw *FileWriter
	cache := flowcache.New(flowcache.DefaultConfig(), flowcache.SinkFunc(func(r *flowcache.Record) error {
		return fw.EmitFlow(r)
	}))

	var err error
	fw, err = NewFileWriter(cache, path, 2)
	require.NoError(t, err)
	defer fw.Close()

	now := time.Unix(1000, 0)
	for i := 0; i < 5; i++ {
		key := flowcache.FlowKey{
			SrcAddr:  ipv4(10, 0, 0, byte(i)),
			DstAddr:  ipv4(10, 0, 0, 100),
			SrcPort:  uint16(1000 + i),
			DstPort:  80,
			Protocol: 6,
		}
		_, err := cache.Ingest(flowcache.PacketView{
			Timestamp:  now,
			Key:        key,
			PayloadLen: 10,
		})
		require.NoError(t, err)
	}
	require.NoError(t, cache.Drain())

	data, err := os.ReadFile(path + ".0")
	require.NoError(t, err)

	lines := 0
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var obj map[string]interface{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &obj))
		lines++
	}
	require.Equal(t, 2, lines)

	_, err = os.Stat(path + ".2")
	require.NoError(t, err)
}
