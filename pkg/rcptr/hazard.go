package rcptr

import (
	"sync/atomic"

	uatomic "go.uber.org/atomic"
)

// hzRow is one handle's row of the announcement array plus its thread-local
// reclamation state. The atomic slots are written by the owning handle and
// read by scanners; everything else is owner-only, except scanning, which
// drain sets for every row during teardown.
type hzRow[T any] struct {
	reservation atomic.Pointer[counted[T]]
	snaps       []atomic.Pointer[counted[T]]

	// snapKind records, per slot, whether the occupant is a weak snapshot,
	// so a slot promotion knows which count to take. Owner-only.
	snapKind []bool
	lastFree int

	scanning uatomic.Bool
	retired  []retired[T]
	work     int

	_ [64]byte
}

// hazardEngine defers decrements until the retired pointer is absent from
// every announcement slot. Unlike classic hazard pointers it tolerates the
// same pointer being retired, and announced, multiple times at once; each
// announcement defers one decrement.
type hazardEngine[T any] struct {
	dom  *Domain[T]
	rows []hzRow[T]
}

func newHazardEngine[T any](dom *Domain[T]) *hazardEngine[T] {
	e := &hazardEngine[T]{
		dom:  dom,
		rows: make([]hzRow[T], dom.cfg.MaxHandles),
	}
	for i := range e.rows {
		e.rows[i].snaps = make([]atomic.Pointer[counted[T]], dom.cfg.SnapshotSlots)
		e.rows[i].snapKind = make([]bool, dom.cfg.SnapshotSlots)
	}
	return e
}

// acquire publishes the pointer read from c into the reservation slot,
// re-reading until the cell and the announcement agree. Go's sync/atomic
// loads and stores are sequentially consistent, which is exactly the
// ordering the scan below relies on.
func (e *hazardEngine[T]) acquire(h *Handle[T], c *cell[T]) *byte {
	r := &e.rows[h.id]
	for {
		w := c.p.Load()
		r.reservation.Store(ptrOf[T](w))
		if c.p.Load() == w {
			return w
		}
	}
}

func (e *hazardEngine[T]) reserve(h *Handle[T], p *counted[T]) {
	e.rows[h.id].reservation.Store(p)
}

func (e *hazardEngine[T]) releaseTemp(h *Handle[T]) {
	e.rows[h.id].reservation.Store(nil)
}

func (e *hazardEngine[T]) protectSnapshot(h *Handle[T], c *cell[T], weak bool) (*byte, snapRef[T]) {
	r := &e.rows[h.id]
	slot, idx := e.freeSlot(h)
	for {
		w := c.p.Load()
		p := ptrOf[T](w)
		if p == nil {
			slot.Store(nil)
			return w, snapRef[T]{}
		}
		slot.Store(p)
		if c.p.Load() == w {
			r.snapKind[idx] = weak
			return w, snapRef[T]{slot: slot}
		}
	}
}

// freeSlot returns an unoccupied snapshot slot. If every slot is taken, the
// occupant of the next slot in round-robin order is promoted to a counted
// reference, which frees its slot: the promoted snapshot discovers at release
// time that the slot no longer names its pointer and gives up the count
// instead.
func (e *hazardEngine[T]) freeSlot(h *Handle[T]) (*atomic.Pointer[counted[T]], int) {
	r := &e.rows[h.id]
	for i := range r.snaps {
		if r.snaps[i].Load() == nil {
			return &r.snaps[i], i
		}
	}

	i := r.lastFree
	kick := r.snaps[i].Load()
	if r.snapKind[i] {
		if !kick.weak.increment(1) {
			panic("rcptr: weak count of an announced weak snapshot hit zero")
		}
	} else {
		if !kick.strong.increment(1) {
			panic("rcptr: strong count of an announced snapshot hit zero")
		}
	}
	metricSlotPromotionsTotal.Inc()
	r.lastFree = (i + 1) % len(r.snaps)
	return &r.snaps[i], i
}

func (e *hazardEngine[T]) snapProtected(p *counted[T], ref snapRef[T]) bool {
	return ref.slot != nil && ref.slot.Load() == p
}

func (e *hazardEngine[T]) releaseSnap(_ *Handle[T], p *counted[T], ref snapRef[T]) {
	if ref.slot != nil && ref.slot.Load() == p {
		ref.slot.Store(nil)
	}
}

func (e *hazardEngine[T]) retire(h *Handle[T], p *counted[T], weak bool) {
	r := &e.rows[h.id]
	r.retired = append(r.retired, retired[T]{p: p, weak: weak})
	metricRetiresTotal.Inc()
	e.workToward(h, 1)
}

func (e *hazardEngine[T]) workToward(h *Handle[T], work int) {
	r := &e.rows[h.id]
	r.work += work
	threshold := minScanThreshold
	if t := e.dom.cfg.Delay * len(e.rows); t > threshold {
		threshold = t
	}
	// The scanning flag keeps a decrement that transitively retires more
	// pointers from re-entering the scan: the nested retire lands on the
	// list and is picked up by a later pass.
	for !r.scanning.Load() && r.work >= threshold {
		r.work = 0
		if len(r.retired) == 0 {
			break
		}
		r.scanning.Store(true)
		e.scan(h)
		r.scanning.Store(false)
	}
}

// scan reads every announcement slot into a multiset and applies the deferred
// decrements of every retired pointer not found there. A pointer announced n
// times keeps at most n of its deferred decrements; the rest are applied.
func (e *hazardEngine[T]) scan(h *Handle[T]) {
	r := &e.rows[h.id]
	metricScansTotal.Inc()

	deferred := r.retired
	r.retired = nil

	announced := make(map[*counted[T]]int, len(e.rows)*(1+e.dom.cfg.SnapshotSlots))
	for i := range e.rows {
		row := &e.rows[i]
		if p := row.reservation.Load(); p != nil {
			announced[p]++
		}
		for j := range row.snaps {
			if p := row.snaps[j].Load(); p != nil {
				announced[p]++
			}
		}
	}

	// Nested retires from the decrements below append to r.retired, which
	// now aliases a fresh list, so compacting deferred in place is safe.
	kept := deferred[:0]
	for _, d := range deferred {
		if n := announced[d.p]; n > 0 {
			announced[d.p] = n - 1
			kept = append(kept, d)
			continue
		}
		e.dom.applyDecrement(h, d)
		metricReclaimedTotal.Inc()
	}
	r.retired = append(r.retired, kept...)
}

// drain applies every pending deferred decrement across all rows, looping
// because a decrement can transitively retire more pointers, possibly onto
// another row's list. The list being walked is always a private scratch so a
// nested retire never mutates it.
func (e *hazardEngine[T]) drain(h *Handle[T]) {
	for i := range e.rows {
		e.rows[i].scanning.Store(true)
	}

	for {
		var scratch []retired[T]
		for i := range e.rows {
			scratch = append(scratch, e.rows[i].retired...)
			e.rows[i].retired = nil
		}
		if len(scratch) == 0 {
			return
		}
		for _, d := range scratch {
			e.dom.applyDecrement(h, d)
			metricReclaimedTotal.Inc()
		}
	}
}
