// Package stats periodically reports the flow cache's process-wide
// counters as rates, per spec's statistics section: a snapshot is taken
// at each tick, diffed against the previous one, and divided by the
// elapsed time to yield bytes/sec, packets/sec, and records/sec.
package stats

import (
	"time"

	"github.com/pavelkim/flowcached/internal/flowcache"
	"github.com/pavelkim/flowcached/internal/logger"
)

// Reporter wraps a flowcache.Cache and logs periodic rate snapshots.
type Reporter struct {
	cache    *flowcache.Cache
	logger   *logger.Logger
	interval time.Duration

	prev     flowcache.Stats
	prevTime time.Time
}

// NewReporter creates a reporter for cache, ticking every interval.
func NewReporter(cache *flowcache.Cache, log *logger.Logger, interval time.Duration) *Reporter {
	return &Reporter{cache: cache, logger: log, interval: interval}
}

// Tick takes a new snapshot, logs the derived rates relative to the
// previous tick (or absolute counts on the first call, with no
// meaningful elapsed interval yet to divide by), and stores the
// snapshot for the next call.
func (r *Reporter) Tick(now time.Time) {
	cur := r.cache.Stats()

	if r.prevTime.IsZero() {
		r.logger.Info("flow cache stats",
			"num_packets", cur.NumPackets,
			"num_records_in_table", cur.NumRecordsInTable,
			"num_records_output", cur.NumRecordsOutput,
			"malloc_fail", cur.MallocFail)
		r.prev = cur
		r.prevTime = now
		return
	}

	elapsed := now.Sub(r.prevTime).Seconds()
	if elapsed <= 0 {
		return
	}

	packetsPerSec := float64(cur.NumPackets-r.prev.NumPackets) / elapsed
	recordsPerSec := float64(cur.NumRecordsOutput-r.prev.NumRecordsOutput) / elapsed
	bytesPerSec := float64(cur.TotalPayloadBytes-r.prev.TotalPayloadBytes) / elapsed

	r.logger.Info("flow cache stats",
		"packets_per_sec", packetsPerSec,
		"records_per_sec", recordsPerSec,
		"bytes_per_sec", bytesPerSec,
		"num_records_in_table", cur.NumRecordsInTable,
		"num_records_output", cur.NumRecordsOutput,
		"malloc_fail", cur.MallocFail)

	r.prev = cur
	r.prevTime = now
}

// Run blocks, calling Tick on every interval tick, until stop is closed.
func (r *Reporter) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case t := <-ticker.C:
			r.Tick(t)
		case <-stop:
			return
		}
	}
}
