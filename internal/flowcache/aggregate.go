package flowcache

import "math"

// Ingest processes one decoded packet, per §4.4: locates or creates the
// record for pv.Key (via GetRecord), then folds the packet's
// contribution into it. Returns the record the packet was folded into,
// or nil if the cache dropped the packet (allocation failure).
func (c *Cache) Ingest(pv PacketView) (*Record, error) {
	r, err := c.GetRecord(pv.Key, true, pv.Timestamp)
	if err != nil {
		return nil, err
	}
	if r == nil {
		c.stats.NumPackets++
		return nil, nil
	}

	c.applyPacket(r, pv)
	c.stats.NumPackets++
	return r, nil
}

// applyPacket folds pv into r: counts, per-packet arrays (bounded to
// NumPktLen), byte-distribution histogram, Welford mean/variance, and the
// minimum-TTL rule.
func (c *Cache) applyPacket(r *Record, pv PacketView) {
	r.NumPackets++
	if !r.firstSwitchedFound {
		r.Start = pv.Timestamp
		r.firstSwitchedFound = true
	}
	r.End = pv.Timestamp

	hasPayload := pv.PayloadLen > 0
	if hasPayload || c.cfg.IncludeZeroes {
		if r.NumPayload < NumPktLen {
			r.PktLen = append(r.PktLen, pv.PayloadLen)
			r.PktTime = append(r.PktTime, pv.Timestamp)
			r.PktFlag = append(r.PktFlag, pv.TCPFlags)
		}
		r.NumPayload++
	}

	if hasPayload {
		r.PayloadBytes += uint64(pv.PayloadLen)
		c.stats.TotalPayloadBytes += uint64(pv.PayloadLen)

		if c.cfg.ByteDistribution || c.cfg.ReportEntropy {
			for _, b := range pv.Payload {
				r.Dist.Update(b)
			}
			r.NumBytesDist += uint64(len(pv.Payload))
		}
	}

	if pv.TTL < r.TTL {
		r.TTL = pv.TTL
	}

	if pv.HasTCP {
		r.TCP.OptNOP += pv.TCPOptNOP
		r.TCP.OptMSS += pv.TCPOptMSS
		r.TCP.OptWScale += pv.TCPOptWScal
		r.TCP.OptSACK += pv.TCPOptSACK
		r.TCP.OptTSVal += pv.TCPOptTS
		if pv.TCPSYN {
			if !r.TCP.windowKnown {
				r.TCP.InitWindow = pv.TCPWindow
				r.TCP.windowKnown = true
			}
			if pv.SYNSize > r.TCP.SYNSize {
				r.TCP.SYNSize = pv.SYNSize
			}
		}
	}
}

// machineEpsilon is the threshold below which a histogram bin's relative
// frequency is excluded from the entropy sum, per §4.7.
const machineEpsilon = 2.220446049250313e-16

// Entropy computes the Shannon entropy of d's histogram in bits, per
// §4.7: H = -Σ (c_i/n)·log2(c_i/n) over bins with c_i/n > machine
// epsilon. Returns (H, H·n); both are zero if n == 0.
func (d *ByteDist) Entropy() (h, totalBitsEntropy float64) {
	if d.N == 0 {
		return 0, 0
	}
	n := float64(d.N)
	for _, c := range d.Count {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		if p <= machineEpsilon {
			continue
		}
		h -= p * math.Log2(p)
	}
	return h, h * n
}
