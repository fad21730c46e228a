package flowcache

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math"
)

// repBase is the threshold at or above which a payload length is re-encoded as
// a repetition marker rather than a raw byte count, per §4.7.
const repBase = 32768

// NonNormStat is one element of the non_norm_stats sequence: either a raw
// byte count (B) or, for lengths >= repBase, a repetition marker (Rep =
// 65536 - length), plus its direction and inter-packet-time delta.
type NonNormStat struct {
	B   int     `json:"b,omitempty"`
	Rep int     `json:"rep,omitempty"`
	Dir string  `json:"dir"`
	IPT float64 `json:"ipt"`
}

// encodeLen applies the repetition-marker rule of §4.7.
func encodeLen(n *NonNormStat, length int) {
	if length >= repBase {
		n.Rep = 65536 - length
	} else {
		n.B = length
	}
}

// FlowJSON mirrors the JSON output schema of §6. Optional fields use
// pointers/omitempty so that disabled features are simply absent from
// the emitted object rather than present with zero values.
type FlowJSON struct {
	SA   string `json:"sa"`
	DA   string `json:"da"`
	PR   uint8  `json:"pr"`
	SP   uint16 `json:"sp"`
	DP   uint16 `json:"dp"`
	OB   uint64 `json:"ob"`
	OP   uint64 `json:"op"`
	IB   *uint64 `json:"ib,omitempty"`
	IP   *uint64 `json:"ip,omitempty"`
	TS   string `json:"ts"`
	TE   string `json:"te"`
	OTTL uint8  `json:"ottl"`
	ITTL *uint8 `json:"ittl,omitempty"`

	OTCPWin  *uint16 `json:"otcp_win,omitempty"`
	ITCPWin  *uint16 `json:"itcp_win,omitempty"`
	OTCPSyn  *int    `json:"otcp_syn,omitempty"`
	ITCPSyn  *int    `json:"itcp_syn,omitempty"`
	OTCPNop  *int    `json:"otcp_nop,omitempty"`
	OTCPMss  *int    `json:"otcp_mss,omitempty"`
	OTCPWsc  *int    `json:"otcp_wscale,omitempty"`
	OTCPSack *int    `json:"otcp_sack,omitempty"`
	OTCPTs   *int    `json:"otcp_tstamp,omitempty"`
	ITCPNop  *int    `json:"itcp_nop,omitempty"`
	ITCPMss  *int    `json:"itcp_mss,omitempty"`
	ITCPWsc  *int    `json:"itcp_wscale,omitempty"`
	ITCPSack *int    `json:"itcp_sack,omitempty"`
	ITCPTs   *int    `json:"itcp_tstamp,omitempty"`

	BD     []uint64 `json:"bd,omitempty"`
	BDMean *float64 `json:"bd_mean,omitempty"`
	BDStd  *float64 `json:"bd_std,omitempty"`
	BE     *float64 `json:"be,omitempty"`
	TBE    *float64 `json:"tbe,omitempty"`

	SALabels string `json:"sa_labels,omitempty"`
	DALabels string `json:"da_labels,omitempty"`

	OIDP []byte `json:"oidp,omitempty"`
	IIDP []byte `json:"iidp,omitempty"`

	RTN int    `json:"rtn,omitempty"`
	INV int    `json:"inv,omitempty"`
	EXE string `json:"exe,omitempty"`
	X   string `json:"x,omitempty"`

	// NonNormStats is deliberately the last field: WriteFlowJSON marshals
	// the rest of the object with this set to nil, strips the resulting
	// trailing `"non_norm_stats":null}`, and streams the real array in
	// its place element-by-element instead of marshaling it all at once.
	NonNormStats []NonNormStat `json:"non_norm_stats"`
}

// formatTS renders a Unix timestamp as sec.usec with six-digit
// microseconds, per §6.
func formatTS(sec, usec int64) string {
	return fmt.Sprintf("%d.%06d", sec, usec)
}

func tsOf(r *Record) (string, string) {
	start, end := r.Start, r.End
	if r.Twin != nil {
		if r.Twin.Start.Before(start) {
			start = r.Twin.Start
		}
		if r.Twin.End.After(end) {
			end = r.Twin.End
		}
	}
	return formatTS(start.Unix(), int64(start.Nanosecond()/1000)),
		formatTS(end.Unix(), int64(end.Nanosecond()/1000))
}

// primaryOf selects the primary of a pair for emission, per §4.7: if
// both sides exist, the one with the earlier Start.
func primaryOf(r *Record) (primary, twin *Record) {
	if r.Twin == nil {
		return r, nil
	}
	if r.Twin.Start.Before(r.Start) {
		return r.Twin, r
	}
	return r, r.Twin
}

// BuildJSON renders r (and its twin, if paired) into the wire schema of
// §6, applying the interleaved-merge sequence construction of §4.7.
func (c *Cache) BuildJSON(r *Record) *FlowJSON {
	primary, twin := primaryOf(r)

	out := &FlowJSON{
		SA:   formatAddr(primary.Key.SrcAddr),
		DA:   formatAddr(primary.Key.DstAddr),
		PR:   primary.Key.Protocol,
		SP:   primary.Key.SrcPort,
		DP:   primary.Key.DstPort,
		OB:   primary.PayloadBytes,
		OP:   primary.NumPayload,
		OTTL: primary.TTL,
		RTN:  primary.TCP.Retrans,
		INV:  primary.Invalid,
		EXE:  primary.Sub.ProcessName,
		X:    r.ExpType.String(),
	}
	out.TS, out.TE = tsOf(r)

	if c.cfg.Anonymizer != nil {
		if p, ok := c.cfg.Anonymizer.Substitute(primary.Key.SrcAddr); ok {
			out.SA = p
		}
		if p, ok := c.cfg.Anonymizer.Substitute(primary.Key.DstAddr); ok {
			out.DA = p
		}
	}
	if c.cfg.Labels != nil {
		if label, ok := c.cfg.Labels.Lookup(primary.Key.SrcAddr); ok {
			out.SALabels = label
		}
		if label, ok := c.cfg.Labels.Lookup(primary.Key.DstAddr); ok {
			out.DALabels = label
		}
	}

	if twin != nil {
		ib, ip := twin.PayloadBytes, twin.NumPayload
		out.IB, out.IP = &ib, &ip
		ittl := twin.TTL
		out.ITTL = &ittl
		out.NonNormStats = mergeSequences(primary, twin)
		out.OIDP = primary.Sub.IDP
		out.IIDP = twin.Sub.IDP
	} else {
		out.NonNormStats = unidirSequence(primary)
		out.OIDP = primary.Sub.IDP
	}

	if primary.TCP.windowKnown {
		w := primary.TCP.InitWindow
		out.OTCPWin = &w
		s := primary.TCP.SYNSize
		out.OTCPSyn = &s
	}
	nop, mss, wsc, sack, ts := primary.TCP.OptNOP, primary.TCP.OptMSS, primary.TCP.OptWScale, primary.TCP.OptSACK, primary.TCP.OptTSVal
	out.OTCPNop, out.OTCPMss, out.OTCPWsc, out.OTCPSack, out.OTCPTs = &nop, &mss, &wsc, &sack, &ts
	if twin != nil {
		if twin.TCP.windowKnown {
			w := twin.TCP.InitWindow
			out.ITCPWin = &w
			s := twin.TCP.SYNSize
			out.ITCPSyn = &s
		}
		inop, imss, iwsc, isack, its := twin.TCP.OptNOP, twin.TCP.OptMSS, twin.TCP.OptWScale, twin.TCP.OptSACK, twin.TCP.OptTSVal
		out.ITCPNop, out.ITCPMss, out.ITCPWsc, out.ITCPSack, out.ITCPTs = &inop, &imss, &iwsc, &isack, &its
	}

	if c.cfg.ByteDistribution || c.cfg.ReportEntropy {
		dist, _ := mergedDist(primary, twin)
		if c.cfg.ByteDistribution {
			bd := make([]uint64, 256)
			copy(bd, dist.Count[:])
			out.BD = bd
			mean, std := combinedMeanStd(primary, twin)
			out.BDMean = &mean
			out.BDStd = &std
		}
		if c.cfg.ReportEntropy {
			h, tbe := dist.Entropy()
			out.BE = &h
			out.TBE = &tbe
		}
	}

	return out
}

// unidirSequence builds the non_norm_stats sequence for an unpaired
// record, per §4.7 unidirectional mode: ipt is the delta from the
// previous packet's timestamp in the same (sole) stream, zero for the
// first element.
func unidirSequence(r *Record) []NonNormStat {
	n := len(r.PktLen)
	seq := make([]NonNormStat, n)
	var prev int64
	for i := 0; i < n; i++ {
		ipt := 0.0
		ms := r.PktTime[i].UnixMilli()
		if i > 0 {
			ipt = float64(ms - prev)
		}
		prev = ms
		encodeLen(&seq[i], r.PktLen[i])
		seq[i].Dir = "<"
		seq[i].IPT = ipt
	}
	return seq
}

// mergeSequences builds the non_norm_stats sequence for a paired record,
// per §4.7 bidirectional (merge) mode: two cursors pick the
// smaller-timestamped side at each step, ties going to the outbound
// (twin) side; ipt is the delta in milliseconds from the previously
// emitted timestamp across both streams.
func mergeSequences(primary, twin *Record) []NonNormStat {
	seq := make([]NonNormStat, 0, len(primary.PktLen)+len(twin.PktLen))
	i, j := 0, 0
	var prevMs int64
	first := true

	msOf := func(rec *Record, idx int) int64 {
		return rec.PktTime[idx].UnixMilli()
	}

	for i < len(primary.PktLen) || j < len(twin.PktLen) {
		takeTwin := false
		switch {
		case i >= len(primary.PktLen):
			takeTwin = true
		case j >= len(twin.PktLen):
			takeTwin = false
		default:
			pm, tm := msOf(primary, i), msOf(twin, j)
			if tm < pm {
				takeTwin = true
			} else if tm == pm {
				// tie goes to the outbound side, i.e. the twin.
				takeTwin = true
			}
		}

		var stat NonNormStat
		var ms int64
		if takeTwin {
			ms = msOf(twin, j)
			encodeLen(&stat, twin.PktLen[j])
			stat.Dir = "<"
			j++
		} else {
			ms = msOf(primary, i)
			encodeLen(&stat, primary.PktLen[i])
			stat.Dir = ">"
			i++
		}

		if first {
			stat.IPT = 0
			first = false
		} else {
			stat.IPT = float64(ms - prevMs)
		}
		prevMs = ms
		seq = append(seq, stat)
	}
	return seq
}

// mergedDist sums primary's and twin's (if any) byte-distribution
// histograms, per §4.7.
func mergedDist(primary, twin *Record) (ByteDist, uint64) {
	var d ByteDist
	d.Count = primary.Dist.Count
	d.N = primary.Dist.N
	d.Mean = primary.Dist.Mean
	d.M2 = primary.Dist.M2
	if twin == nil {
		return d, d.N
	}
	for i := range d.Count {
		d.Count[i] += twin.Dist.Count[i]
	}
	d.N += twin.Dist.N
	return d, d.N
}

// combinedMeanStd computes the n-weighted combined mean and pooled
// standard deviation of primary and twin's byte distributions, per
// §4.7's "Byte-distribution merge"; stdev is reported as 0 if the total
// sample count is 1.
func combinedMeanStd(primary, twin *Record) (mean, std float64) {
	n1, n2 := float64(primary.Dist.N), float64(0)
	m1, v1 := primary.Dist.Mean, primary.Dist.Variance()
	var m2, v2 float64
	if twin != nil {
		n2 = float64(twin.Dist.N)
		m2 = twin.Dist.Mean
		v2 = twin.Dist.Variance()
	}

	total := n1 + n2
	if total == 0 {
		return 0, 0
	}
	mean = (n1*m1 + n2*m2) / total
	if total == 1 {
		return mean, 0
	}

	// Pooled variance: weighted average of within-group variances plus
	// the between-group variance contribution, then square-rooted.
	pooled := 0.0
	if n1 > 0 {
		pooled += (n1 - 1) * v1
	}
	if n2 > 0 {
		pooled += (n2 - 1) * v2
	}
	pooled += n1 * (m1 - mean) * (m1 - mean)
	pooled += n2 * (m2 - mean) * (m2 - mean)
	pooled /= (total - 1)

	std = math.Sqrt(pooled)
	return mean, std
}

func formatAddr(a uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(a>>24), byte(a>>16), byte(a>>8), byte(a))
}

// WriteFlowJSON streams fj to w as a single JSON object followed by a
// newline (ndjson framing), writing the (potentially large)
// non_norm_stats array element-by-element rather than materializing the
// whole object as one json.Marshal call, per §9's "stream directly to the
// sink; do not build an intermediate DOM" guidance.
func WriteFlowJSON(w io.Writer, fj *FlowJSON) error {
	bw := bufio.NewWriter(w)

	head, err := marshalHead(fj)
	if err != nil {
		return err
	}
	if _, err := bw.Write(head); err != nil {
		return err
	}

	if _, err := bw.WriteString(`"non_norm_stats":[`); err != nil {
		return err
	}
	for i, s := range fj.NonNormStats {
		if i > 0 {
			if _, err := bw.WriteString(","); err != nil {
				return err
			}
		}
		b, err := json.Marshal(s)
		if err != nil {
			return err
		}
		if _, err := bw.Write(b); err != nil {
			return err
		}
	}
	if _, err := bw.WriteString("]}\n"); err != nil {
		return err
	}
	return bw.Flush()
}

// marshalHead renders every field of fj except non_norm_stats (the last
// struct field) as a JSON object prefix, with the closing brace and the
// null placeholder for non_norm_stats stripped off so the caller can
// stream the real array in its place.
func marshalHead(fj *FlowJSON) ([]byte, error) {
	cp := *fj
	cp.NonNormStats = nil
	b, err := json.Marshal(cp)
	if err != nil {
		return nil, err
	}
	const suffix = `"non_norm_stats":null}`
	if len(b) < len(suffix) || string(b[len(b)-len(suffix):]) != suffix {
		return nil, fmt.Errorf("flowcache: unexpected FlowJSON encoding, cannot stream non_norm_stats")
	}
	return b[:len(b)-len(suffix)], nil
}
