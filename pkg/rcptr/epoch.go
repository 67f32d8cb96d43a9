package rcptr

import (
	"sync/atomic"

	uatomic "go.uber.org/atomic"
)

// epRow is one handle's epoch announcement plus its thread-local reclamation
// state. epoch is zero when the handle holds no protection and the pinned
// global epoch otherwise; nest tracks how many acquisitions and snapshots
// share the pin.
type epRow[T any] struct {
	epoch atomic.Uint64

	nest int

	scanning uatomic.Bool
	retired  []retired[T]
	work     int

	_ [64]byte
}

// epochEngine defers decrements until every pinned handle has observed two
// global epoch advances since the retirement. Scans are cheaper than the
// hazard backend's (one word per handle), at the cost of a single stalled
// reader holding back every retirement in the domain.
type epochEngine[T any] struct {
	dom    *Domain[T]
	global atomic.Uint64
	rows   []epRow[T]
}

func newEpochEngine[T any](dom *Domain[T]) *epochEngine[T] {
	e := &epochEngine[T]{
		dom:  dom,
		rows: make([]epRow[T], dom.cfg.MaxHandles),
	}
	e.global.Store(1)
	return e
}

func (e *epochEngine[T]) pin(h *Handle[T]) {
	r := &e.rows[h.id]
	r.nest++
	if r.nest == 1 {
		r.epoch.Store(e.global.Load())
	}
}

func (e *epochEngine[T]) unpin(h *Handle[T]) {
	r := &e.rows[h.id]
	r.nest--
	if r.nest == 0 {
		r.epoch.Store(0)
	}
}

// acquire pins the row before reading the cell, so any retirement that
// displaces the value we read is stamped with an epoch at least as recent as
// our pin. No publish-verify loop is needed.
func (e *epochEngine[T]) acquire(h *Handle[T], c *cell[T]) *byte {
	e.pin(h)
	return c.p.Load()
}

func (e *epochEngine[T]) reserve(h *Handle[T], _ *counted[T]) {
	e.pin(h)
}

func (e *epochEngine[T]) releaseTemp(h *Handle[T]) {
	e.unpin(h)
}

func (e *epochEngine[T]) protectSnapshot(h *Handle[T], c *cell[T], _ bool) (*byte, snapRef[T]) {
	e.pin(h)
	w := c.p.Load()
	if ptrOf[T](w) == nil {
		e.unpin(h)
		return w, snapRef[T]{}
	}
	return w, snapRef[T]{pinned: true}
}

func (e *epochEngine[T]) snapProtected(_ *counted[T], ref snapRef[T]) bool {
	return ref.pinned
}

func (e *epochEngine[T]) releaseSnap(h *Handle[T], _ *counted[T], ref snapRef[T]) {
	if ref.pinned {
		e.unpin(h)
	}
}

func (e *epochEngine[T]) retire(h *Handle[T], p *counted[T], weak bool) {
	r := &e.rows[h.id]
	r.retired = append(r.retired, retired[T]{p: p, weak: weak, epoch: e.global.Load()})
	metricRetiresTotal.Inc()
	r.work++
	threshold := minScanThreshold
	if t := e.dom.cfg.Delay * len(e.rows); t > threshold {
		threshold = t
	}
	for !r.scanning.Load() && r.work >= threshold {
		r.work = 0
		if len(r.retired) == 0 {
			break
		}
		r.scanning.Store(true)
		e.advanceAndCollect(h)
		r.scanning.Store(false)
	}
}

func (e *epochEngine[T]) advanceAndCollect(h *Handle[T]) {
	r := &e.rows[h.id]
	metricScansTotal.Inc()

	g := e.global.Load()
	if e.global.CompareAndSwap(g, g+1) {
		metricEpochAdvancesTotal.Inc()
	}

	minPinned := e.global.Load()
	for i := range e.rows {
		if ep := e.rows[i].epoch.Load(); ep != 0 && ep < minPinned {
			minPinned = ep
		}
	}

	deferred := r.retired
	r.retired = nil

	kept := deferred[:0]
	for _, d := range deferred {
		// Two full transitions guarantee no pin taken before the retirement
		// is still active.
		if d.epoch+2 > minPinned {
			kept = append(kept, d)
			continue
		}
		e.dom.applyDecrement(h, d)
		metricReclaimedTotal.Inc()
	}
	r.retired = append(r.retired, kept...)
}

func (e *epochEngine[T]) drain(h *Handle[T]) {
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
