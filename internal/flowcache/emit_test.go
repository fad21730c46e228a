package flowcache

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteFlowJSON_StreamsValidNDJSON(t *testing.T) {
	cfg := DefaultConfig()
	c := New(cfg, nil)

	key := FlowKey{SrcAddr: ipv4(10, 0, 0, 1), DstAddr: ipv4(10, 0, 0, 2), SrcPort: 1234, DstPort: 80, Protocol: 6}
	r, err := c.Ingest(PacketView{Timestamp: mustTime(1, 0), Key: key, TTL: 64, PayloadLen: 100, Payload: make([]byte, 100)})
	require.NoError(t, err)

	fj := c.BuildJSON(r)

	var buf bytes.Buffer
	require.NoError(t, err)
	require.NoError(t, WriteFlowJSON(&buf, fj))

	out := buf.Bytes()
	require.True(t, bytes.HasSuffix(out, []byte("\n")), "ndjson framing requires a trailing newline")
	require.Equal(t, 1, bytes.Count(out, []byte("\n")), "exactly one object per call")

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimRight(out, "\n"), &decoded))
	require.Equal(t, "10.0.0.1", decoded["sa"])
	require.Equal(t, "10.0.0.2", decoded["da"])
	stats, ok := decoded["non_norm_stats"].([]interface{})
	require.True(t, ok)
	require.Len(t, stats, 1)
}

func TestEncodeLen_RepetitionMarker(t *testing.T) {
	var s NonNormStat
	encodeLen(&s, 40000)
	require.Equal(t, 65536-40000, s.Rep)
	require.Zero(t, s.B)

	var s2 NonNormStat
	encodeLen(&s2, 1000)
	require.Equal(t, 1000, s2.B)
	require.Zero(t, s2.Rep)
}

func TestLabelsAndAnonymizerHooks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bidir = false
	cfg.Labels = fakeLabels{ipv4(10, 0, 0, 1): "corp-lan"}
	cfg.Anonymizer = fakeAnonymizer{ipv4(10, 0, 0, 2): "deadbeef"}
	c := New(cfg, nil)

	key := FlowKey{SrcAddr: ipv4(10, 0, 0, 1), DstAddr: ipv4(10, 0, 0, 2), SrcPort: 1, DstPort: 2, Protocol: 6}
	r, err := c.Ingest(PacketView{Timestamp: mustTime(1, 0), Key: key, PayloadLen: 1, Payload: []byte{1}})
	require.NoError(t, err)

	fj := c.BuildJSON(r)
	require.Equal(t, "corp-lan", fj.SALabels)
	require.Equal(t, "deadbeef", fj.DA)
}

type fakeLabels map[uint32]string

func (f fakeLabels) Lookup(addr uint32) (string, bool) {
	v, ok := f[addr]
	return v, ok
}

type fakeAnonymizer map[uint32]string

func (f fakeAnonymizer) Substitute(addr uint32) (string, bool) {
	v, ok := f[addr]
	return v, ok
}
