package rcptr

// Weak is an owning reference to the weak count only: it keeps the block
// alive but not the payload. Access goes through Upgrade, which fails once
// the payload is gone.
type Weak[T any] struct {
	p *counted[T]
}

// IsNil reports whether the reference is null.
func (w *Weak[T]) IsNil() bool {
	return w == nil || w.p == nil
}

// Upgrade attempts to take a strong unit. It returns a live strong reference
// if the payload is still alive, and nil if the object expired. The sticky
// strong count makes the race against the final strong release safe: an
// increment that lost never succeeds.
func (w *Weak[T]) Upgrade(_ *Handle[T]) *RC[T] {
	if w.IsNil() {
		return nil
	}
	if !w.p.strong.increment(1) {
		return nil
	}
	return &RC[T]{p: w.p}
}

// Clone returns a second weak reference to the same object.
func (w *Weak[T]) Clone() *Weak[T] {
	if w.IsNil() {
		return nil
	}
	mustIncrementWeak(w.p)
	return &Weak[T]{p: w.p}
}

// Release gives back the weak unit.
func (w *Weak[T]) Release(h *Handle[T]) {
	if w.IsNil() {
		return
	}
	p := w.p
	w.p = nil
	h.dom.releaseWeak(h, p)
}

// WeakUseCount returns the current weak count, for diagnostics only.
func (w *Weak[T]) WeakUseCount() uint64 {
	if w.IsNil() {
		return 0
	}
	return w.p.weak.load()
}

func (w *Weak[T]) take() *counted[T] {
	if w == nil {
		return nil
	}
	p := w.p
	w.p = nil
	return p
}

func (w *Weak[T]) ptr() *counted[T] {
	if w == nil {
		return nil
	}
	return w.p
}

func (w *Weak[T]) word() *byte {
	return pack(w.ptr(), 0)
}

func (w *Weak[T]) slotProtected() bool {
	return false
}

// WeakSnapshot is a borrowed weak reference protected by an announcement
// slot. It differs from Snapshot in what protection means: the block cannot
// be deallocated while the snapshot is live, but the payload can expire, so
// access goes through Upgrade.
type WeakSnapshot[T any] struct {
	p   *counted[T]
	ref snapRef[T]
}

// IsNil reports whether the snapshot is null.
func (s *WeakSnapshot[T]) IsNil() bool {
	return s == nil || s.p == nil
}

// Value returns the payload. The caller must know the object has not
// expired — typically by upgrading instead; Value exists for callers that
// already hold a strong unit elsewhere.
func (s *WeakSnapshot[T]) Value() *T {
	return &s.p.value
}

// Upgrade attempts to take a strong unit, returning nil if the object
// expired. The snapshot stays live either way.
func (s *WeakSnapshot[T]) Upgrade(_ *Handle[T]) *RC[T] {
	if s.IsNil() {
		return nil
	}
	if !s.p.strong.increment(1) {
		return nil
	}
	return &RC[T]{p: s.p}
}

// ToWeak converts the snapshot into an owning weak reference, releasing its
// slot.
func (s *WeakSnapshot[T]) ToWeak(h *Handle[T]) *Weak[T] {
	if s.IsNil() {
		return nil
	}
	p := s.p
	if h.dom.rec.snapProtected(p, s.ref) {
		mustIncrementWeak(p)
		h.dom.rec.releaseSnap(h, p, s.ref)
	}
	s.p = nil
	s.ref = snapRef[T]{}
	return &Weak[T]{p: p}
}

// Release frees the snapshot's slot, or gives back its weak count if the
// slot was reclaimed underneath it.
func (s *WeakSnapshot[T]) Release(h *Handle[T]) {
	if s.IsNil() {
		return
	}
	p := s.p
	s.p = nil
	if h.dom.rec.snapProtected(p, s.ref) {
		h.dom.rec.releaseSnap(h, p, s.ref)
	} else {
		h.dom.releaseWeak(h, p)
	}
	s.ref = snapRef[T]{}
}

func (s *WeakSnapshot[T]) ptr() *counted[T] {
	if s == nil {
		return nil
	}
	return s.p
}

func (s *WeakSnapshot[T]) word() *byte {
	return pack(s.ptr(), 0)
}

func (s *WeakSnapshot[T]) slotProtected() bool {
	if s.IsNil() {
		return false
	}
	return s.ref.pinned || (s.ref.slot != nil && s.ref.slot.Load() == s.p)
}

// AtomicWeak is an atomically mutable holder of a weak reference. While
// non-null, the cell owns one unit of the pointee's weak count; displaced
// pointers have their weak decrement deferred exactly like strong ones.
//
// An AtomicWeak must not be copied after first use.
type AtomicWeak[T any] struct {
	c cell[T]
}

// Load returns the stored pointer as a fresh weak reference, or nil.
func (a *AtomicWeak[T]) Load(h *Handle[T]) *Weak[T] {
	w := loadAcquireIncrement(h, &a.c, true)
	p := ptrOf[T](w)
	if p == nil {
		return nil
	}
	return &Weak[T]{p: p}
}

// Snapshot returns the stored pointer bound to an announcement slot, or nil.
// Unlike the strong variant it re-checks the strong count after publication:
// a stored pointer whose payload already expired reads as null, unless the
// cell moved underneath the check, in which case it retries.
func (a *AtomicWeak[T]) Snapshot(h *Handle[T]) *WeakSnapshot[T] {
	for {
		w, ref := h.dom.rec.protectSnapshot(h, &a.c, true)
		p := ptrOf[T](w)
		if p == nil {
			return nil
		}
		if p.strong.load() > 0 {
			return &WeakSnapshot[T]{p: p, ref: ref}
		}
		discardWeakSnapshot(h, p, ref)
		if a.c.p.Load() == w {
			return nil
		}
	}
}

// discardWeakSnapshot undoes protectSnapshot without building a snapshot.
func discardWeakSnapshot[T any](h *Handle[T], p *counted[T], ref snapRef[T]) {
	if h.dom.rec.snapProtected(p, ref) {
		h.dom.rec.releaseSnap(h, p, ref)
	} else {
		h.dom.releaseWeak(h, p)
	}
}

// Store transfers desired's unit into the cell, leaving desired null, and
// retires the displaced pointer. Pass nil to store null.
func (a *AtomicWeak[T]) Store(h *Handle[T], desired *Weak[T]) {
	storeTransfer(h, &a.c, pack(desired.take(), 0), true)
}

// StoreRC installs a weak reference to the strong reference's pointee. r
// stays live.
func (a *AtomicWeak[T]) StoreRC(h *Handle[T], r *RC[T]) {
	p := r.ptr()
	if p != nil {
		mustIncrementWeak(p)
	}
	storeTransfer(h, &a.c, pack(p, 0), true)
}

// StoreSnapshot installs a copy of the snapshot's pointee as a weak
// reference. s stays live.
func (a *AtomicWeak[T]) StoreSnapshot(h *Handle[T], s *WeakSnapshot[T]) {
	p := s.ptr()
	if p != nil {
		mustIncrementWeak(p)
	}
	storeTransfer(h, &a.c, pack(p, 0), true)
}

// StoreRef installs a weak reference to ref's pointee, whatever kind of
// reference ref is. ref stays live.
func (a *AtomicWeak[T]) StoreRef(h *Handle[T], ref Ref[T]) {
	p := refPtr(ref)
	if p != nil {
		mustIncrementWeak(p)
	}
	storeTransfer(h, &a.c, pack(p, 0), true)
}

// StoreNonRacy is Store without the atomic exchange, valid only while no
// other goroutine writes this cell concurrently.
func (a *AtomicWeak[T]) StoreNonRacy(h *Handle[T], desired *Weak[T]) {
	storeNonRacy(h, &a.c, pack(desired.take(), 0), true)
}

// Exchange atomically swaps the stored pointer for desired's, transferring
// weak units both ways.
func (a *AtomicWeak[T]) Exchange(_ *Handle[T], desired *Weak[T]) *Weak[T] {
	old := a.c.p.Swap(pack(desired.take(), 0))
	p := ptrOf[T](old)
	if p == nil {
		return nil
	}
	return &Weak[T]{p: p}
}

// CompareAndSwap installs a copy of desired iff the cell currently holds
// expected's pointer. desired may be any reference kind; the cell takes a
// weak unit on its pointee. Neither argument is consumed.
func (a *AtomicWeak[T]) CompareAndSwap(h *Handle[T], expected, desired Ref[T]) bool {
	return casDuplicate(h, &a.c, refWord(expected), desired, refWord(desired), true)
}

// CompareExchange is CompareAndSwap that also reports the cell's value on
// failure, as a fresh weak reference. On success the returned reference is
// nil.
func (a *AtomicWeak[T]) CompareExchange(h *Handle[T], expected, desired Ref[T]) (bool, *Weak[T]) {
	if a.CompareAndSwap(h, expected, desired) {
		return true, nil
	}
	return false, a.Load(h)
}

// Contains reports whether the cell currently holds exactly ref's pointer.
func (a *AtomicWeak[T]) Contains(ref Ref[T]) bool {
	return a.c.p.Load() == refWord(ref)
}

// IsLockFree reports whether operations on the cell are lock-free. They
// always are.
func (a *AtomicWeak[T]) IsLockFree() bool {
	return true
}
