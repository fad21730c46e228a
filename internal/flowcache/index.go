package flowcache

// index is the bucketed index of §4.2: a fixed-size array of B = 2^20
// doubly-linked-list heads. Within a bucket, insertion is at the head.
type index struct {
	buckets [BucketCount]*Record
}

// findByKey scans the bucket for key for an exact match, per §4.2
// find_by_key.
func (ix *index) findByKey(key FlowKey, mode HashMode) *Record {
	h := key.Hash(mode)
	for r := ix.buckets[h]; r != nil; r = r.bucketNext {
		if r.Key.Equal(key) {
			return r
		}
	}
	return nil
}

// findTwinByKey locates a candidate twin of key, per §4.1: in exact mode
// the twin lives in a different bucket reached by rehashing the swapped
// key, so an exact match there suffices; in near mode the twin lives in
// the same bucket and must be located via the twin predicate.
func (ix *index) findTwinByKey(key FlowKey, mode HashMode) *Record {
	if mode == HashExact {
		return ix.findByKey(key.Swapped(), mode)
	}
	h := key.Hash(mode)
	for r := ix.buckets[h]; r != nil; r = r.bucketNext {
		if key.IsTwin(r.Key, mode) {
			return r
		}
	}
	return nil
}

// prepend inserts r at the head of its bucket (I1: bucket(hash(r.Key))).
func (ix *index) prepend(r *Record, mode HashMode) {
	h := key0Hash(r.Key, mode)
	r.bucketIdx = int(h)
	r.bucketPrev = nil
	r.bucketNext = ix.buckets[h]
	if ix.buckets[h] != nil {
		ix.buckets[h].bucketPrev = r
	}
	ix.buckets[h] = r
}

// key0Hash is a small indirection so prepend and remove agree on the hash
// used to place/locate a record, independent of call-site mode plumbing.
func key0Hash(k FlowKey, mode HashMode) uint32 {
	return k.Hash(mode)
}

// remove unlinks r from its bucket, preserving I1 when removing the head
// by updating the bucket head and clearing the new head's back-pointer.
// Removing a record not actually present in its recorded bucket is an
// integrity violation and is treated as fatal, per §7 ("bucket head/record
// mismatch ... is treated as fatal (assertion) because it implies memory
// corruption").
func (ix *index) remove(r *Record) {
	h := r.bucketIdx
	if r.bucketPrev != nil {
		r.bucketPrev.bucketNext = r.bucketNext
	} else {
		if ix.buckets[h] != r {
			panic("flowcache: bucket head mismatch on remove, memory corruption suspected")
		}
		ix.buckets[h] = r.bucketNext
	}
	if r.bucketNext != nil {
		r.bucketNext.bucketPrev = r.bucketPrev
	}
	r.bucketPrev = nil
	r.bucketNext = nil
}

// chronoList is the global doubly-linked list ordered by record creation
// time (§3 "Chronological list"), used by the expiration sweeper. By I2,
// appending always preserves non-decreasing Start order because records
// are only ever appended at tail in creation order.
type chronoList struct {
	head *Record
	tail *Record
}

// append adds r at the tail of the chronological list and marks it as a
// chrono member.
func (c *chronoList) append(r *Record) {
	r.chronoPrev = c.tail
	r.chronoNext = nil
	if c.tail != nil {
		c.tail.chronoNext = r
	} else {
		c.head = r
	}
	c.tail = r
	r.inChrono = true
}

// remove unlinks r from the chronological list. A no-op if r is not a
// chrono member (idempotent-deletion law, §8).
func (c *chronoList) remove(r *Record) {
	if !r.inChrono {
		return
	}
	if r.chronoPrev != nil {
		r.chronoPrev.chronoNext = r.chronoNext
	} else {
		c.head = r.chronoNext
	}
	if r.chronoNext != nil {
		r.chronoNext.chronoPrev = r.chronoPrev
	} else {
		c.tail = r.chronoPrev
	}
	r.chronoPrev = nil
	r.chronoNext = nil
	r.inChrono = false
}
