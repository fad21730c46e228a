package flowcache

import "time"

// Sweep walks the chronological list from the head, per §4.6: each
// expired record (active or inactive) is emitted then deleted along with
// its twin, and the primary is unlinked from the chronological list. By
// I2 the list is non-decreasingly ordered by Start, so the sweep stops at
// the first record that is not expired. A sink error does not stop the
// sweep; the first one is returned once the sweep is done.
//
// The shutdown-time drain (§5 "a shutdown signal must trigger a final
// sweep with inactive_cutoff = +∞") is Drain, not a call to Sweep.
func (c *Cache) Sweep(now time.Time) error {
	activeCutoff := c.activeCutoff(now)
	inactiveCutoff := c.inactiveCutoff(now)

	var firstErr error
	for r := c.chrono.head; r != nil; {
		next := r.chronoNext

		switch {
		case r.IsPastInactiveExpiration(inactiveCutoff):
			// Checked before the active condition: a record that has
			// gone fully quiet is reported as inactive-expired even if
			// it is also old enough to qualify as active-expired (a
			// record can satisfy both, since active_cutoff <
			// inactive_cutoff, e.g. a flow silent since before
			// active_cutoff).
			if err := c.emitAndDelete(r, ExpireInactive); err != nil && firstErr == nil {
				firstErr = err
			}
		case r.IsPastActiveExpiration(activeCutoff):
			if err := c.emitAndDelete(r, ExpireActive); err != nil && firstErr == nil {
				firstErr = err
			}
		default:
			// I2: non-decreasing Start order means nothing further in
			// the list can be expired either.
			return firstErr
		}

		r = next
	}
	return firstErr
}

// Drain performs a full sweep that expires every remaining record
// unconditionally, per I5 and §5's shutdown-time drain. A sink error does
// not stop the drain; the first one is returned once the cache is empty.
func (c *Cache) Drain() error {
	var firstErr error
	for c.chrono.head != nil {
		r := c.chrono.head
		if err := c.emitAndDelete(r, ExpireInactive); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// emitAndDelete emits r (tagging ExpType) then deletes it and its twin.
func (c *Cache) emitAndDelete(r *Record, reason ExpireType) error {
	r.ExpType = reason
	var emitErr error
	if c.sink != nil {
		emitErr = c.sink.EmitFlow(r)
	}
	c.stats.recordEmitted()
	c.deleteRecord(r)
	// §7: "I/O errors on emission are reported to the info stream;
	// emission continues best-effort" — the error is returned to the
	// caller (who logs it) rather than propagated as a cache failure.
	return emitErr
}

// deleteRecord removes r from the bucket index and chronological list,
// deletes its twin (cascading, non-owning per §5), and zeroes the
// record's memory (§5's "stale pointers crash promptly" mandate). The
// zeroed record keeps only its deleted mark, so calling this again on the
// same pointer is a detected no-op that leaves the index, the
// chronological list and the counters untouched (idempotent-deletion
// law, §8).
func (c *Cache) deleteRecord(r *Record) {
	if r.deleted {
		return
	}

	twin := r.Twin
	c.idx.remove(r)
	c.chrono.remove(r)
	c.stats.recordDeleted()
	r.zero()

	if twin != nil && !twin.deleted {
		twin.Twin = nil
		c.idx.remove(twin)
		c.chrono.remove(twin)
		c.stats.recordDeleted()
		twin.zero()
	}
}
