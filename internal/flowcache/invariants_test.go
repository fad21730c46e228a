package flowcache

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// allBucketRecords collects every record reachable from a cache's bucket array,
// used to check I1 (bucket placement) without exposing index internals
// outside the package.
func allBucketRecords(c *Cache) []*Record {
	var out []*Record
	for _, head := range c.idx.buckets {
		for r := head; r != nil; r = r.bucketNext {
			out = append(out, r)
		}
	}
	return out
}

func allChronoRecords(c *Cache) []*Record {
	var out []*Record
	for r := c.chrono.head; r != nil; r = r.chronoNext {
		out = append(out, r)
	}
	return out
}

func TestInvariant_I1_BucketPlacement(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bidir = false
	c := New(cfg, nil)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		key := FlowKey{
			SrcAddr:  rng.Uint32(),
			DstAddr:  rng.Uint32(),
			SrcPort:  uint16(rng.Intn(65536)),
			DstPort:  uint16(rng.Intn(65536)),
			Protocol: 6,
		}
		_, err := c.GetRecord(key, true, mustTime(int64(i), 0))
		require.NoError(t, err)
	}

	for _, r := range allBucketRecords(c) {
		require.Equal(t, int(r.Key.Hash(cfg.HashMode)), r.bucketIdx)
	}
}

func TestInvariant_I2_ChronoOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bidir = false
	c := New(cfg, nil)

	for i := 0; i < 100; i++ {
		key := FlowKey{SrcAddr: uint32(i), DstAddr: 1, SrcPort: uint16(i), DstPort: 80, Protocol: 6}
		_, err := c.GetRecord(key, true, mustTime(int64(i), 0))
		require.NoError(t, err)
	}

	records := allChronoRecords(c)
	for i := 1; i < len(records); i++ {
		require.False(t, records[i].Start.Before(records[i-1].Start))
	}
}

func TestInvariant_I3_TwinSymmetry(t *testing.T) {
	cfg := DefaultConfig()
	c := New(cfg, nil)

	a := FlowKey{SrcAddr: 1, DstAddr: 2, SrcPort: 10, DstPort: 20, Protocol: 6}
	b := a.Swapped()

	ra, err := c.GetRecord(a, true, mustTime(1, 0))
	require.NoError(t, err)
	rb, err := c.GetRecord(b, true, mustTime(1, 0))
	require.NoError(t, err)

	require.Equal(t, ra.Twin == rb, rb.Twin == ra)
	require.Same(t, rb, ra.Twin)
	require.Same(t, ra, rb.Twin)
}

func TestInvariant_I4_ChronoMembership(t *testing.T) {
	cfg := DefaultConfig()
	c := New(cfg, nil)

	a := FlowKey{SrcAddr: 1, DstAddr: 2, SrcPort: 10, DstPort: 20, Protocol: 6}
	b := a.Swapped()
	unpaired := FlowKey{SrcAddr: 3, DstAddr: 4, SrcPort: 30, DstPort: 40, Protocol: 17}

	ra, err := c.GetRecord(a, true, mustTime(1, 0))
	require.NoError(t, err)
	rb, err := c.GetRecord(b, true, mustTime(1, 0))
	require.NoError(t, err)
	ru, err := c.GetRecord(unpaired, true, mustTime(1, 0))
	require.NoError(t, err)

	chrono := allChronoRecords(c)
	require.Contains(t, chrono, ru)
	// Exactly one of the {ra, rb} pair is a chrono member.
	inChrono := 0
	for _, r := range chrono {
		if r == ra || r == rb {
			inChrono++
		}
	}
	require.Equal(t, 1, inChrono)
}

func TestInvariant_I5_FullDrainEmptiesCache(t *testing.T) {
	cfg := DefaultConfig()
	c := New(cfg, nil)

	for i := 0; i < 50; i++ {
		key := FlowKey{SrcAddr: uint32(i), DstAddr: 999, SrcPort: uint16(i), DstPort: 80, Protocol: 6}
		_, err := c.GetRecord(key, true, mustTime(int64(i), 0))
		require.NoError(t, err)
	}

	require.NoError(t, c.Drain())

	require.Empty(t, allChronoRecords(c))
	require.Empty(t, allBucketRecords(c))
	require.EqualValues(t, 0, c.Stats().NumRecordsInTable)
}

func TestInvariant_I6_CounterParity(t *testing.T) {
	cfg := DefaultConfig()
	c := New(cfg, nil)

	for i := 0; i < 20; i++ {
		key := FlowKey{SrcAddr: uint32(i), DstAddr: 999, SrcPort: uint16(i), DstPort: 80, Protocol: 6}
		_, err := c.GetRecord(key, true, mustTime(int64(i), 0))
		require.NoError(t, err)
	}

	require.NoError(t, c.Drain())

	st := c.Stats()
	require.Equal(t, st.RecordsCreated-st.RecordsDeleted, st.NumRecordsInTable)
	require.Equal(t, st.RecordsCreated, st.NumRecordsOutput)
}

func TestLaw_IdempotentDeletion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bidir = false
	c := New(cfg, nil)

	key := FlowKey{SrcAddr: 1, DstAddr: 2, SrcPort: 10, DstPort: 20, Protocol: 6}
	r, err := c.GetRecord(key, true, mustTime(1, 0))
	require.NoError(t, err)

	c.deleteRecord(r)
	require.Empty(t, allBucketRecords(c))
	require.Empty(t, allChronoRecords(c))

	// A second deletion attempt on the same (now-zeroed) pointer must be
	// a safe no-op, not a double-decrement of the counters.
	before := c.Stats()
	c.deleteRecord(r)
	require.Equal(t, before, c.Stats())
}

func TestLaw_WelfordEquivalence(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	bytes := make([]byte, 2000)
	for i := range bytes {
		bytes[i] = byte(rng.Intn(256))
	}

	var d ByteDist
	for _, b := range bytes {
		d.Update(b)
	}

	var sum, sumSq float64
	for _, b := range bytes {
		sum += float64(b)
		sumSq += float64(b) * float64(b)
	}
	n := float64(len(bytes))
	batchMean := sum / n
	batchVar := (sumSq - n*batchMean*batchMean) / (n - 1)

	require.InDelta(t, batchMean, d.Mean, 1e-6)
	require.InDelta(t, batchVar, d.Variance(), 1e-3)
}

func TestLaw_TwinCommutativity(t *testing.T) {
	cfgA := DefaultConfig()
	a := FlowKey{SrcAddr: ipv4(10, 0, 0, 1), DstAddr: ipv4(10, 0, 0, 2), SrcPort: 1234, DstPort: 80, Protocol: 6}
	b := a.Swapped()

	// Order 1: A first, then B.
	c1 := New(cfgA, nil)
	_, err := c1.Ingest(PacketView{Timestamp: mustTime(1, 0), Key: a, PayloadLen: 50, Payload: make([]byte, 50)})
	require.NoError(t, err)
	rAB, err := c1.Ingest(PacketView{Timestamp: mustTime(1, 100000), Key: b, PayloadLen: 60, Payload: make([]byte, 60)})
	require.NoError(t, err)
	fjAB := c1.BuildJSON(rAB)

	// Order 2: B first, then A.
	c2 := New(cfgA, nil)
	_, err = c2.Ingest(PacketView{Timestamp: mustTime(1, 100000), Key: b, PayloadLen: 60, Payload: make([]byte, 60)})
	require.NoError(t, err)
	rBA, err := c2.Ingest(PacketView{Timestamp: mustTime(1, 0), Key: a, PayloadLen: 50, Payload: make([]byte, 50)})
	require.NoError(t, err)
	fjBA := c2.BuildJSON(rBA)

	// Both orderings must settle on the same primary (A, the earlier
	// start) and therefore identical JSON views.
	require.Equal(t, fjAB.OB, fjBA.OB)
	require.Equal(t, *fjAB.IB, *fjBA.IB)
	require.Equal(t, fjAB.TS, fjBA.TS)
	require.Equal(t, fjAB.TE, fjBA.TE)
	require.Equal(t, fjAB.NonNormStats, fjBA.NonNormStats)
}

func TestEntropy_UniformDistributionIsMaximal(t *testing.T) {
	var d ByteDist
	for i := 0; i < 256; i++ {
		d.Update(byte(i))
	}
	h, tbe := d.Entropy()
	require.InDelta(t, 8.0, h, 1e-9, "uniform 256-symbol distribution has exactly 8 bits of entropy")
	require.InDelta(t, 8.0*256, tbe, 1e-6)
}

func TestEntropy_ZeroDistIsZero(t *testing.T) {
	var d ByteDist
	h, tbe := d.Entropy()
	require.Equal(t, 0.0, h)
	require.Equal(t, 0.0, tbe)
}

func TestRecord_ExceedsActiveMaxAgreesWithCutoffForSteadyTraffic(t *testing.T) {
	// For a flow receiving steady traffic up to "now", the duration-based
	// formulation (end-start > active_max) and the cutoff-based
	// formulation (start < now - active_max) agree when end == now.
	start := mustTime(0, 0)
	r := newRecord(FlowKey{}, start)
	r.End = mustTime(31, 0)

	activeMax := 30 * time.Second
	cutoffBased := r.Start.Before(r.End.Add(-activeMax))
	require.Equal(t, cutoffBased, r.ExceedsActiveMax(activeMax))
}

func TestEntropy_SingleSymbolIsZero(t *testing.T) {
	var d ByteDist
	d.Update(5)
	h, _ := d.Entropy()
	require.False(t, math.IsNaN(h))
	require.Equal(t, 0.0, h)
}
