package flowcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ipv4(a, b, c, d byte) uint32 {
	return uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d)
}

func TestHashStabilityExactVsNear(t *testing.T) {
	fwd := FlowKey{SrcAddr: ipv4(10, 0, 0, 1), DstAddr: ipv4(10, 0, 0, 2), SrcPort: 1234, DstPort: 80, Protocol: 6}
	rev := FlowKey{SrcAddr: ipv4(10, 0, 0, 2), DstAddr: ipv4(10, 0, 0, 1), SrcPort: 80, DstPort: 1234, Protocol: 6}

	require.Equal(t, fwd.Hash(HashNear), rev.Hash(HashNear), "near mode must hash address-swapped keys to the same bucket")

	// In exact mode the swap is *expected* to generally land in a
	// different bucket (not guaranteed for every possible value, but
	// true for this concrete pair given the magic multipliers).
	assert.NotEqual(t, fwd.Hash(HashExact), rev.Hash(HashExact))
}

func TestIsTwinExactMode(t *testing.T) {
	fwd := FlowKey{SrcAddr: ipv4(10, 0, 0, 1), DstAddr: ipv4(10, 0, 0, 2), SrcPort: 1234, DstPort: 80, Protocol: 6}
	rev := FlowKey{SrcAddr: ipv4(10, 0, 0, 2), DstAddr: ipv4(10, 0, 0, 1), SrcPort: 80, DstPort: 1234, Protocol: 6}

	require.True(t, fwd.IsTwin(rev, HashExact))
	require.True(t, rev.IsTwin(fwd, HashExact))
	require.False(t, fwd.IsTwin(fwd, HashExact), "a key must never be its own twin")

	notTwin := FlowKey{SrcAddr: ipv4(10, 0, 0, 1), DstAddr: ipv4(10, 0, 0, 3), SrcPort: 1234, DstPort: 80, Protocol: 6}
	require.False(t, fwd.IsTwin(notTwin, HashExact))
}

func TestIsTwinNearModeIgnoresAddresses(t *testing.T) {
	// NAT scenario 6: addresses translated in both directions, but the
	// sorted port pair and protocol still match.
	fwd := FlowKey{SrcAddr: ipv4(1, 1, 1, 1), DstAddr: ipv4(2, 2, 2, 2), SrcPort: 5000, DstPort: 80, Protocol: 6}
	rev := FlowKey{SrcAddr: ipv4(9, 9, 9, 9), DstAddr: ipv4(3, 3, 3, 3), SrcPort: 80, DstPort: 5000, Protocol: 6}

	require.True(t, fwd.IsTwin(rev, HashNear))
	require.False(t, fwd.IsTwin(rev, HashExact), "exact mode must not pair across NAT-translated addresses")
}

func TestSwapped(t *testing.T) {
	k := FlowKey{SrcAddr: 1, DstAddr: 2, SrcPort: 10, DstPort: 20, Protocol: 6}
	s := k.Swapped()
	require.Equal(t, FlowKey{SrcAddr: 2, DstAddr: 1, SrcPort: 20, DstPort: 10, Protocol: 6}, s)
	require.True(t, k.IsTwin(s, HashExact))
}
