package rcptr

// Snapshot is a borrowed reference protected by an announcement slot rather
// than a count: obtaining one never touches the pointee's counters, which is
// what makes it the cheap way to read heavily shared cells. A snapshot is
// bound to the handle's row and must be used and released on the same
// goroutine; it cannot be cloned — take a second snapshot instead.
//
// If the engine reclaims the snapshot's slot for a newer snapshot, the
// snapshot is transparently promoted to holding a count; release and
// conversion below account for either state.
type Snapshot[T any] struct {
	p   *counted[T]
	ref snapRef[T]
}

// Value returns the payload. Valid while the snapshot is live.
func (s *Snapshot[T]) Value() *T {
	return &s.p.value
}

// IsNil reports whether the snapshot is null.
func (s *Snapshot[T]) IsNil() bool {
	return s == nil || s.p == nil
}

// ToRC converts the snapshot into an owning strong reference and releases
// its slot. The conversion always succeeds: the object's strong count is
// positive while it sits in a cell, and the slot defers any decrement that
// would change that.
func (s *Snapshot[T]) ToRC(h *Handle[T]) *RC[T] {
	if s.IsNil() {
		return nil
	}
	p := s.p
	if h.dom.rec.snapProtected(p, s.ref) {
		mustIncrementStrong(p)
		h.dom.rec.releaseSnap(h, p, s.ref)
	}
	s.p = nil
	s.ref = snapRef[T]{}
	return &RC[T]{p: p}
}

// Release frees the snapshot's slot, or gives back its count if the slot was
// reclaimed underneath it.
func (s *Snapshot[T]) Release(h *Handle[T]) {
	if s.IsNil() {
		return
	}
	p := s.p
	s.p = nil
	if h.dom.rec.snapProtected(p, s.ref) {
		h.dom.rec.releaseSnap(h, p, s.ref)
	} else {
		h.dom.releaseStrong(h, p)
	}
	s.ref = snapRef[T]{}
}

func (s *Snapshot[T]) ptr() *counted[T] {
	if s == nil {
		return nil
	}
	return s.p
}

func (s *Snapshot[T]) word() *byte {
	return pack(s.ptr(), 0)
}

func (s *Snapshot[T]) slotProtected() bool {
	if s.IsNil() {
		return false
	}
	return s.ref.pinned || (s.ref.slot != nil && s.ref.slot.Load() == s.p)
}
