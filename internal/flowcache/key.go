// Package flowcache implements the flow cache: the in-memory table that
// maps a five-tuple (and, optionally, a NAT-tolerant variant) to an
// aggregated flow record, together with the expiration state machine that
// decides when a record is finished and must be emitted.
package flowcache

// HashMode selects how a FlowKey is hashed and how twins are located.
type HashMode int

const (
	// HashExact hashes all five fields; twins live in a different bucket
	// and must be located by rehashing the swapped key.
	HashExact HashMode = iota
	// HashNear omits addresses from the hash so that NAT-translated
	// originals and responses land in the same bucket.
	HashNear
)

// Magic multipliers preserved bit-exactly from the original p2f.c
// flow_key_hash, so that the hash distribution matches the reference
// implementation when the two are run side by side.
const (
	hashMulSrcAddr uint32 = 0xef6e15aa
	hashMulDstAddr uint32 = 0x65cd52a0
	hashMulSrcPort uint32 = 0x8216
	hashMulDstPort uint32 = 0xdda37
	hashMulProto   uint32 = 0xbc06
)

// BucketBits is the number of low bits of the mixing hash used to select
// a bucket; B = 2^BucketBits buckets in total.
const BucketBits = 20

// BucketCount is the fixed size of the bucketed index, B = 2^20.
const BucketCount = 1 << BucketBits

// bucketMask masks a hash down to the low BucketBits bits.
const bucketMask uint32 = BucketCount - 1

// FlowKey is the canonical identity of a flow: a five-tuple of addresses,
// ports, and protocol. Addresses are 32-bit IPv4 quantities in host byte
// order; ports are 16-bit; protocol is the 8-bit IP protocol number.
type FlowKey struct {
	SrcAddr  uint32
	DstAddr  uint32
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// Hash computes the bucket-selecting hash of the key under the given mode,
// masked to BucketBits bits.
func (k FlowKey) Hash(mode HashMode) uint32 {
	if mode == HashExact {
		return (k.SrcAddr*hashMulSrcAddr ^
			k.DstAddr*hashMulDstAddr ^
			uint32(k.SrcPort)*hashMulSrcPort ^
			uint32(k.DstPort)*hashMulDstPort ^
			uint32(k.Protocol)*hashMulProto) & bucketMask
	}

	// Near mode: sort (sp, dp) into (hi, lo) and omit addresses, so NAT
	// translations of the same conversation hash to the same bucket.
	hi, lo := uint32(k.SrcPort), uint32(k.DstPort)
	if lo > hi {
		hi, lo = lo, hi
	}
	return (hi*hashMulSrcPort ^ lo*hashMulDstPort ^ uint32(k.Protocol)*hashMulProto) & bucketMask
}

// Equal reports field-wise equality of two keys.
func (k FlowKey) Equal(other FlowKey) bool {
	return k == other
}

// IsTwin reports whether k and other are twins under the given mode.
//
// In exact mode, two keys are twins iff one is the address/port swap of
// the other with the same protocol. In near mode, addresses are ignored
// entirely (mirroring Hash's omission of addresses): two keys are twins
// iff their sorted port pairs and protocol match. Twin-ness is symmetric
// and never reflexive.
func (k FlowKey) IsTwin(other FlowKey, mode HashMode) bool {
	if k.Protocol != other.Protocol {
		return false
	}

	if mode == HashExact {
		if k.SrcAddr != other.DstAddr || k.DstAddr != other.SrcAddr {
			return false
		}
		return k.SrcPort == other.DstPort && k.DstPort == other.SrcPort
	}

	// Near mode: sorted port pairs must match; addresses are irrelevant.
	aHi, aLo := uint32(k.SrcPort), uint32(k.DstPort)
	if aLo > aHi {
		aHi, aLo = aLo, aHi
	}
	bHi, bLo := uint32(other.SrcPort), uint32(other.DstPort)
	if bLo > bHi {
		bHi, bLo = bLo, bHi
	}
	if aHi != bHi || aLo != bLo {
		return false
	}

	// Guard the "never reflexive" invariant: an identical key is not its
	// own twin even though its sorted port pair trivially matches itself.
	return !k.Equal(other)
}

// Swapped returns the address/port swap of k, used to locate an exact-mode
// twin by rehashing.
func (k FlowKey) Swapped() FlowKey {
	return FlowKey{
		SrcAddr:  k.DstAddr,
		DstAddr:  k.SrcAddr,
		SrcPort:  k.DstPort,
		DstPort:  k.SrcPort,
		Protocol: k.Protocol,
	}
}
