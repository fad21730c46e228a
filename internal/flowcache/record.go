package flowcache

import "time"

// NumPktLen is the bounded length L of the per-packet arrays (lengths,
// timestamps, flags, TLS record types). Indices 0..min(op,L)-1 are valid;
// once op reaches L, further packets still update counts but no longer
// grow the arrays.
const NumPktLen = 50

// MaxTTL is the maximum representable TTL; used as the sentinel "not yet
// observed" value so the first packet's TTL always wins the min().
const MaxTTL = 255

// ExpireType tags why a record was emitted.
type ExpireType int

const (
	// ExpireUnset marks a record that has not yet been expired.
	ExpireUnset ExpireType = iota
	// ExpireActive marks active-timeout expiration ('a').
	ExpireActive
	// ExpireInactive marks inactive-timeout expiration ('i').
	ExpireInactive
)

// String renders the single-letter code used in JSON emission.
func (e ExpireType) String() string {
	switch e {
	case ExpireActive:
		return "a"
	case ExpireInactive:
		return "i"
	default:
		return ""
	}
}

// PacketView is the contract a record's aggregation step consumes from the
// packet decoder: just enough of a decoded packet to update a flow record,
// without the core knowing anything about Ethernet/IP/TCP parsing.
type PacketView struct {
	Timestamp   time.Time
	Key         FlowKey
	TTL         uint8
	PayloadLen  int
	Payload     []byte
	TCPFlags    uint8
	HasTCP      bool
	TCPWindow   uint16
	TCPSYN      bool
	TCPOptNOP   int
	TCPOptMSS   int
	TCPOptWScal int
	TCPOptSACK  int
	TCPOptTS    int
	SYNSize     int
	TLSRecord   *uint8 // non-nil when this packet carries a TLS record header
}

// ByteDist is the 256-bin byte-value histogram plus Welford running
// mean/variance state, updated incrementally per §4.4.
type ByteDist struct {
	Count [256]uint64
	N     uint64
	Mean  float64
	M2    float64
}

// Update folds a single payload byte into the histogram and the running
// mean/variance via Welford's algorithm.
func (d *ByteDist) Update(b byte) {
	d.Count[b]++
	d.N++
	delta := float64(b) - d.Mean
	d.Mean += delta / float64(d.N)
	d.M2 += delta * (float64(b) - d.Mean)
}

// Variance returns the sample variance M2/(n-1), or zero if n <= 1.
func (d *ByteDist) Variance() float64 {
	if d.N <= 1 {
		return 0
	}
	return d.M2 / float64(d.N-1)
}

// TCPAnomalies groups the TCP-specific per-option counts and anomaly
// counters of §3.
type TCPAnomalies struct {
	Retrans     int
	Invalid     int
	InitWindow  uint16
	SYNSize     int
	OptNOP      int
	OptMSS      int
	OptWScale   int
	OptSACK     int
	OptTSVal    int
	windowKnown bool
}

// SubRecords holds the sub-records owned by external extractors (TLS info,
// WHT state, header-description state, DNS-name slots, IDP bytes, process
// name). The core never interprets their contents; it only owns their
// lifetime (zero value on creation, nil'd out on deletion).
type SubRecords struct {
	TLS          interface{}
	WHT          interface{}
	HeaderDesc   interface{}
	DNSNames     []string
	IDP          []byte
	ProcessName  string
	SubnetLabels *SubnetLabels
}

// SubnetLabels holds optional source/destination subnet labels. Nothing
// in this package sets it: BuildJSON writes LabelLookup results (see
// labels.go) straight into sa_labels/da_labels.
type SubnetLabels struct {
	Src string
	Dst string
}

// Record is the mutable per-flow aggregate, one per (key, epoch). Pointer
// identity is significant: linkage fields below are the sole mechanism by
// which the bucketed index and chronological list are threaded, and Twin
// is a non-owning back-reference (never shared ownership — see §5, §9).
type Record struct {
	// identity
	Key   FlowKey
	Start time.Time
	End   time.Time
	TTL   uint8

	// counts
	NumPackets    uint64 // np
	NumPayload    uint64 // op
	PayloadBytes  uint64 // ob
	NumBytesDist  uint64 // num_bytes folded into ByteDist

	// per-packet arrays, valid for indices [0, min(NumPayload, NumPktLen))
	PktLen  []int
	PktTime []time.Time
	PktFlag []uint8
	PktTLS  []uint8

	// byte distribution
	Dist ByteDist

	// TCP anomalies
	TCP TCPAnomalies

	// sub-records owned by extractors
	Sub SubRecords

	// linkage
	bucketPrev *Record
	bucketNext *Record
	chronoPrev *Record
	chronoNext *Record
	Twin       *Record
	ExpType    ExpireType

	// state
	firstSwitchedFound bool
	Invalid            int
	inChrono           bool
	bucketIdx          int
	deleted            bool
}

// newRecord allocates and zero-initializes a record for key at the given
// creation time, per p2f.c's flow_record_init: TTL starts at the
// "not yet observed" sentinel so the first packet's TTL always wins min().
func newRecord(key FlowKey, now time.Time) *Record {
	return &Record{
		Key:     key,
		Start:   now,
		End:     now,
		TTL:     MaxTTL,
		PktLen:  make([]int, 0, NumPktLen),
		PktTime: make([]time.Time, 0, NumPktLen),
		PktFlag: make([]uint8, 0, NumPktLen),
		PktTLS:  make([]uint8, 0, NumPktLen),
	}
}

// IsPastActiveExpiration reports whether r (together with its twin, if
// any) satisfies the active-expiration predicate of §4.6, given the
// supplied active_cutoff.
func (r *Record) IsPastActiveExpiration(activeCutoff time.Time) bool {
	if !r.Start.Before(activeCutoff) {
		return false
	}
	if r.Twin != nil && !r.Twin.Start.Before(activeCutoff) {
		return false
	}
	return true
}

// IsPastInactiveExpiration reports whether r (together with its twin, if
// any) satisfies the inactive-expiration predicate of §4.6, given the
// supplied inactive_cutoff.
func (r *Record) IsPastInactiveExpiration(inactiveCutoff time.Time) bool {
	if !r.End.Before(inactiveCutoff) {
		return false
	}
	if r.Twin != nil && !r.Twin.End.Before(inactiveCutoff) {
		return false
	}
	return true
}

// ExceedsActiveMax implements the second active check of §4.3 step 2 /
// §4.6: a record (and its twin, if any) whose lifetime exceeds activeMax
// must be force-emitted and recreated even if not yet swept.
func (r *Record) ExceedsActiveMax(activeMax time.Duration) bool {
	if r.End.Sub(r.Start) <= activeMax {
		return false
	}
	if r.Twin != nil && r.Twin.End.Sub(r.Twin.Start) <= activeMax {
		return false
	}
	return true
}

// zero clears a deleted record's fields so that stale pointers held by a
// caller crash promptly on next use, per §5's "zeroing freed memory"
// defensive-coding mandate.
func (r *Record) zero() {
	*r = Record{deleted: true}
}
