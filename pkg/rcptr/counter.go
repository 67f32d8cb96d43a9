package rcptr

import "sync/atomic"

// stuckBit marks a counter that has been absorbed at zero. It is distinct
// from arithmetic zero so that a count that momentarily reads zero mid-update
// can never be confused with one that already died.
const stuckBit = uint64(1) << 63

// stickyCounter is a non-negative count whose zero state is absorbing: once
// the count reaches zero it stays zero and every later increment fails. The
// strong and weak counts of a counted object are sticky so that an upgrade
// racing with the final release resolves atomically.
type stickyCounter struct {
	v atomic.Uint64
}

func (c *stickyCounter) store(n uint64) {
	c.v.Store(n)
}

// load returns the current count. A stuck counter reads as zero.
func (c *stickyCounter) load() uint64 {
	v := c.v.Load()
	if v&stuckBit != 0 {
		return 0
	}
	return v
}

// increment adds n iff the count has not reached zero, reporting whether the
// addition happened. This must stay a compare-and-swap loop: a fetch-add
// could move the count off zero after destruction has already begun.
func (c *stickyCounter) increment(n uint64) bool {
	for {
		v := c.v.Load()
		if v == 0 || v&stuckBit != 0 {
			return false
		}
		if c.v.CompareAndSwap(v, v+n) {
			return true
		}
	}
}

// decrement subtracts n, which the caller must hold, and reports whether the
// count reached zero. On the transition to zero the counter sticks.
func (c *stickyCounter) decrement(n uint64) bool {
	if c.v.Add(^(n - 1)) == 0 {
		// Nothing can intervene here: increments fail on arithmetic zero and
		// every unit is spent, so no decrement can be in flight either.
		c.v.Store(stuckBit)
		return true
	}
	return false
}
