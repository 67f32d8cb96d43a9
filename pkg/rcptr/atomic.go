package rcptr

// Atomic is an atomically mutable holder of a reference-counted pointer. The
// zero value holds null and is ready for use. While non-null, the cell owns
// exactly one unit of the pointee's strong count; every mutating operation
// transfers that unit and hands the displaced pointer to the deferred
// decrement engine.
//
// An Atomic must not be copied after first use.
type Atomic[T any] struct {
	c cell[T]
}

// Load returns the stored pointer as a fresh strong reference, or nil. The
// pointee's counter is touched once; for read-mostly paths prefer Snapshot,
// which does not touch it at all.
func (a *Atomic[T]) Load(h *Handle[T]) *RC[T] {
	w := loadAcquireIncrement(h, &a.c, false)
	p := ptrOf[T](w)
	if p == nil {
		return nil
	}
	return &RC[T]{p: p}
}

// Snapshot returns the stored pointer bound to a freshly published
// announcement slot, or nil.
func (a *Atomic[T]) Snapshot(h *Handle[T]) *Snapshot[T] {
	w, ref := h.dom.rec.protectSnapshot(h, &a.c, false)
	p := ptrOf[T](w)
	if p == nil {
		return nil
	}
	return &Snapshot[T]{p: p, ref: ref}
}

// Store transfers desired's unit into the cell, leaving desired null, and
// retires the displaced pointer. Pass nil to store null.
func (a *Atomic[T]) Store(h *Handle[T], desired *RC[T]) {
	storeTransfer(h, &a.c, pack(desired.take(), 0), false)
}

// StoreSnapshot installs a copy of the snapshot's pointee: the cell gets a
// freshly incremented unit and s stays live. The increment cannot fail while
// the snapshot is.
func (a *Atomic[T]) StoreSnapshot(h *Handle[T], s *Snapshot[T]) {
	p := s.ptr()
	if p != nil {
		mustIncrementStrong(p)
	}
	storeTransfer(h, &a.c, pack(p, 0), false)
}

// StoreNonRacy is Store without the atomic exchange, valid only while no
// other goroutine writes this cell concurrently.
func (a *Atomic[T]) StoreNonRacy(h *Handle[T], desired *RC[T]) {
	storeNonRacy(h, &a.c, pack(desired.take(), 0), false)
}

// Exchange atomically swaps the stored pointer for desired's, transferring
// units both ways: desired is left null and the displaced pointer is
// returned as an owning strong reference. No counter is touched.
func (a *Atomic[T]) Exchange(_ *Handle[T], desired *RC[T]) *RC[T] {
	old := a.c.p.Swap(pack(desired.take(), 0))
	p := ptrOf[T](old)
	if p == nil {
		return nil
	}
	return &RC[T]{p: p}
}

// CompareAndSwap installs a copy of desired iff the cell currently holds
// expected's pointer, retiring the displaced pointer. Neither argument is
// consumed. There are no failures beyond a genuine mismatch.
func (a *Atomic[T]) CompareAndSwap(h *Handle[T], expected, desired Ref[T]) bool {
	return casDuplicate(h, &a.c, refWord(expected), desired, refWord(desired), false)
}

// CompareAndSwapTransfer is CompareAndSwap that, on success, takes ownership
// of desired instead of incrementing: desired is left null and its unit
// becomes the cell's. On failure desired is untouched.
func (a *Atomic[T]) CompareAndSwapTransfer(h *Handle[T], expected Ref[T], desired *RC[T]) bool {
	if casRetire(h, &a.c, refWord(expected), desired.word(), false) {
		desired.take()
		return true
	}
	return false
}

// CompareExchange is CompareAndSwap that also reports the cell's value on
// failure, as a fresh strong reference with full liveness protection. On
// success the returned reference is nil.
func (a *Atomic[T]) CompareExchange(h *Handle[T], expected, desired Ref[T]) (bool, *RC[T]) {
	if a.CompareAndSwap(h, expected, desired) {
		return true, nil
	}
	return false, a.Load(h)
}

// Contains reports whether the cell currently holds exactly ref's pointer.
func (a *Atomic[T]) Contains(ref Ref[T]) bool {
	return a.c.p.Load() == refWord(ref)
}

// IsLockFree reports whether operations on the cell are lock-free. They
// always are.
func (a *Atomic[T]) IsLockFree() bool {
	return true
}
