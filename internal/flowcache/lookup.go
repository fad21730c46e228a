package flowcache

import "time"

// SetAllocFailureInjector installs a function consulted before every
// allocation; when it returns true, GetRecord behaves as if allocation
// failed (§4.3 "Allocation failure is a recoverable event" — in Go this
// cannot happen from memory exhaustion in practice, but the hook lets
// tests exercise the malloc_fail counter and drop-on-failure path).
// Passing nil disables injection. Test-only hook.
func (c *Cache) SetAllocFailureInjector(f func() bool) {
	c.allocFailureInjector = f
}

// GetRecord implements §4.3's get_record(key, create): locate an existing
// record for key, optionally creating and twin-pairing a new one.
//
// now is the caller's notion of the current time, used to stamp a newly
// created record. The second active check of step 2 does not consult now
// at all: it is a pure span check, (end - start) > active_max.
func (c *Cache) GetRecord(key FlowKey, create bool, now time.Time) (*Record, error) {
	if r := c.idx.findByKey(key, c.cfg.HashMode); r != nil {
		if create && r.inChrono && r.ExceedsActiveMax(c.cfg.ActiveMax()) {
			c.emitAndDelete(r, ExpireActive)
			// fall through to creation below
		} else {
			return r, nil
		}
	}

	if !create {
		return nil, nil
	}

	if c.allocFailureInjector != nil && c.allocFailureInjector() {
		c.stats.MallocFail++
		return nil, nil
	}

	r := newRecord(key, now)
	c.idx.prepend(r, c.cfg.HashMode)
	c.stats.recordCreated()

	if c.cfg.Bidir {
		twin := c.idx.findTwinByKey(key, c.cfg.HashMode)
		switch {
		case twin == nil:
			c.chrono.append(r)
		case twin.Twin != nil:
			// Twin-of-twin refusal (§8 scenario 5): the candidate is
			// already paired. Refuse and leave r un-twinned; the Cache
			// holds no logger, so the refusal is not logged.
			c.chrono.append(r)
		default:
			r.Twin = twin
			twin.Twin = r
			// r is intentionally NOT appended to the chronological
			// list: per I4, only one of the pair is a chrono member,
			// and twin is already there.
		}
	} else {
		c.chrono.append(r)
	}

	return r, nil
}

// activeCutoff and inactiveCutoff compute the two cutoffs of §4.6 for a
// given wall-clock "now".
func (c *Cache) activeCutoff(now time.Time) time.Time {
	return c.inactiveCutoff(now).Add(-c.cfg.ActiveExtra)
}

func (c *Cache) inactiveCutoff(now time.Time) time.Time {
	return now.Add(-c.cfg.InactiveWindow)
}
