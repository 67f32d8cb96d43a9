package rcptr

// The marked family carries a small tag in the low bits of the stored
// pointer, so a compare-and-swap covers the pointer and the tag as one word.
// The tag's meaning belongs to the caller; a common use is a logical-delete
// flag on the next-pointers of lock-free lists. Dereference paths always
// mask the tag off, and announcement slots only ever hold the unmarked
// pointer, so reclamation is oblivious to tags.

func checkMark(mark uintptr) {
	if mark > markMask {
		panic("rcptr: mark out of range")
	}
}

// MarkedRC is an owning strong reference carrying a tag. The tag lives on
// the handle, not the object: two references to the same object can carry
// different tags.
type MarkedRC[T any] struct {
	RC[T]
	mark uintptr
}

// NewMarkedRC allocates a counted object holding v and returns the sole
// strong reference to it, tagged with mark.
func NewMarkedRC[T any](h *Handle[T], v T, mark uintptr) *MarkedRC[T] {
	checkMark(mark)
	return &MarkedRC[T]{RC: RC[T]{p: newCountedTracked(h, v)}, mark: mark}
}

// IsNil reports whether the reference is null.
func (m *MarkedRC[T]) IsNil() bool {
	return m == nil || m.p == nil
}

// Mark returns the reference's tag.
func (m *MarkedRC[T]) Mark() uintptr {
	if m == nil {
		return 0
	}
	return m.mark
}

// SetMark replaces the reference's tag. Only the handle changes; a cell the
// reference was read from keeps its own tag.
func (m *MarkedRC[T]) SetMark(mark uintptr) {
	checkMark(mark)
	m.mark = mark
}

// Clone returns a second owning reference with the same tag.
func (m *MarkedRC[T]) Clone() *MarkedRC[T] {
	if m.IsNil() {
		return nil
	}
	mustIncrementStrong(m.p)
	return &MarkedRC[T]{RC: RC[T]{p: m.p}, mark: m.mark}
}

// Downgrade returns a weak reference with the same tag. The strong reference
// is untouched.
func (m *MarkedRC[T]) Downgrade() *MarkedWeak[T] {
	if m.IsNil() {
		return nil
	}
	mustIncrementWeak(m.p)
	return &MarkedWeak[T]{Weak: Weak[T]{p: m.p}, mark: m.mark}
}

func (m *MarkedRC[T]) ptr() *counted[T] {
	if m == nil {
		return nil
	}
	return m.p
}

func (m *MarkedRC[T]) word() *byte {
	if m == nil {
		return nil
	}
	return pack(m.p, m.mark)
}

// MarkedSnapshot is a borrowed reference carrying a tag.
type MarkedSnapshot[T any] struct {
	Snapshot[T]
	mark uintptr
}

// IsNil reports whether the snapshot is null.
func (s *MarkedSnapshot[T]) IsNil() bool {
	return s == nil || s.p == nil
}

// Mark returns the snapshot's tag.
func (s *MarkedSnapshot[T]) Mark() uintptr {
	if s == nil {
		return 0
	}
	return s.mark
}

// SetMark replaces the snapshot's tag.
func (s *MarkedSnapshot[T]) SetMark(mark uintptr) {
	checkMark(mark)
	s.mark = mark
}

// ToMarkedRC converts the snapshot into an owning strong reference with the
// same tag, releasing its slot.
func (s *MarkedSnapshot[T]) ToMarkedRC(h *Handle[T]) *MarkedRC[T] {
	if s.IsNil() {
		return nil
	}
	mark := s.mark
	rc := s.ToRC(h)
	return &MarkedRC[T]{RC: *rc, mark: mark}
}

func (s *MarkedSnapshot[T]) ptr() *counted[T] {
	if s == nil {
		return nil
	}
	return s.p
}

func (s *MarkedSnapshot[T]) word() *byte {
	if s == nil {
		return nil
	}
	return pack(s.p, s.mark)
}

// MarkedAtomic is an atomic holder of a (pointer, tag) word. Every operation
// of Atomic except StoreNonRacy is available, plus tag manipulation that
// participates in the same compare-and-swap word. A null cell carries no tag.
//
// A MarkedAtomic must not be copied after first use.
type MarkedAtomic[T any] struct {
	c cell[T]
}

// Load returns the stored pointer and tag as a fresh strong reference, or
// nil.
func (a *MarkedAtomic[T]) Load(h *Handle[T]) *MarkedRC[T] {
	w := loadAcquireIncrement(h, &a.c, false)
	p := ptrOf[T](w)
	if p == nil {
		return nil
	}
	return &MarkedRC[T]{RC: RC[T]{p: p}, mark: markOf(w)}
}

// Snapshot returns the stored pointer and tag bound to an announcement slot,
// or nil.
func (a *MarkedAtomic[T]) Snapshot(h *Handle[T]) *MarkedSnapshot[T] {
	w, ref := h.dom.rec.protectSnapshot(h, &a.c, false)
	p := ptrOf[T](w)
	if p == nil {
		return nil
	}
	return &MarkedSnapshot[T]{Snapshot: Snapshot[T]{p: p, ref: ref}, mark: markOf(w)}
}

// Store transfers desired's unit and tag into the cell, leaving desired
// null, and retires the displaced pointer. Pass nil to store null.
func (a *MarkedAtomic[T]) Store(h *Handle[T], desired *MarkedRC[T]) {
	var w *byte
	if desired != nil {
		w = pack(desired.take(), desired.mark)
	}
	storeTransfer(h, &a.c, w, false)
}

// StoreSnapshot installs a copy of the snapshot's pointee with the
// snapshot's tag. s stays live.
func (a *MarkedAtomic[T]) StoreSnapshot(h *Handle[T], s *MarkedSnapshot[T]) {
	var w *byte
	if s != nil && s.p != nil {
		mustIncrementStrong(s.p)
		w = pack(s.p, s.mark)
	}
	storeTransfer(h, &a.c, w, false)
}

// Exchange atomically swaps the stored (pointer, tag) for desired's,
// transferring units both ways.
func (a *MarkedAtomic[T]) Exchange(_ *Handle[T], desired *MarkedRC[T]) *MarkedRC[T] {
	var w *byte
	if desired != nil {
		w = pack(desired.take(), desired.mark)
	}
	old := a.c.p.Swap(w)
	p := ptrOf[T](old)
	if p == nil {
		return nil
	}
	return &MarkedRC[T]{RC: RC[T]{p: p}, mark: markOf(old)}
}

// CompareAndSwap installs a copy of desired iff the cell currently holds
// exactly expected's pointer and tag. Neither argument is consumed.
func (a *MarkedAtomic[T]) CompareAndSwap(h *Handle[T], expected, desired Ref[T]) bool {
	return casDuplicate(h, &a.c, refWord(expected), desired, refWord(desired), false)
}

// CompareAndSwapTransfer is CompareAndSwap that, on success, takes ownership
// of desired instead of incrementing.
func (a *MarkedAtomic[T]) CompareAndSwapTransfer(h *Handle[T], expected Ref[T], desired *MarkedRC[T]) bool {
	if casRetire(h, &a.c, refWord(expected), desired.word(), false) {
		if desired != nil {
			desired.take()
		}
		return true
	}
	return false
}

// CompareExchange is CompareAndSwap that also reports the cell's value on
// failure, as a fresh strong reference. On success the returned reference is
// nil.
func (a *MarkedAtomic[T]) CompareExchange(h *Handle[T], expected, desired Ref[T]) (bool, *MarkedRC[T]) {
	if a.CompareAndSwap(h, expected, desired) {
		return true, nil
	}
	return false, a.Load(h)
}

// Mark returns the cell's current tag.
func (a *MarkedAtomic[T]) Mark() uintptr {
	return markOf(a.c.p.Load())
}

// SetMark replaces the cell's tag, keeping the pointer, retrying until the
// tag is in place. Setting a tag on a null cell is a no-op.
func (a *MarkedAtomic[T]) SetMark(_ *Handle[T], mark uintptr) {
	checkMark(mark)
	for {
		w := a.c.p.Load()
		p := ptrOf[T](w)
		if p == nil || markOf(w) == mark {
			return
		}
		if a.c.p.CompareAndSwap(w, pack(p, mark)) {
			return
		}
	}
}

// CompareAndSetMark replaces the cell's tag iff the cell currently holds
// exactly expected's pointer and tag. The pointer and its count are
// untouched.
func (a *MarkedAtomic[T]) CompareAndSetMark(_ *Handle[T], expected Ref[T], mark uintptr) bool {
	checkMark(mark)
	expw := refWord(expected)
	p := ptrOf[T](expw)
	if p == nil {
		return false
	}
	return a.c.p.CompareAndSwap(expw, pack(p, mark))
}

// Contains reports whether the cell currently holds exactly ref's pointer
// and tag.
func (a *MarkedAtomic[T]) Contains(ref Ref[T]) bool {
	return a.c.p.Load() == refWord(ref)
}

// IsLockFree reports whether operations on the cell are lock-free. They
// always are.
func (a *MarkedAtomic[T]) IsLockFree() bool {
	return true
}

// MarkedWeak is an owning weak reference carrying a tag.
type MarkedWeak[T any] struct {
	Weak[T]
	mark uintptr
}

// IsNil reports whether the reference is null.
func (m *MarkedWeak[T]) IsNil() bool {
	return m == nil || m.p == nil
}

// Mark returns the reference's tag.
func (m *MarkedWeak[T]) Mark() uintptr {
	if m == nil {
		return 0
	}
	return m.mark
}

// SetMark replaces the reference's tag.
func (m *MarkedWeak[T]) SetMark(mark uintptr) {
	checkMark(mark)
	m.mark = mark
}

// Clone returns a second weak reference with the same tag.
func (m *MarkedWeak[T]) Clone() *MarkedWeak[T] {
	if m.IsNil() {
		return nil
	}
	mustIncrementWeak(m.p)
	return &MarkedWeak[T]{Weak: Weak[T]{p: m.p}, mark: m.mark}
}

// Upgrade attempts to take a strong unit, returning a tagged strong
// reference, or nil if the object expired.
func (m *MarkedWeak[T]) Upgrade(_ *Handle[T]) *MarkedRC[T] {
	if m.IsNil() {
		return nil
	}
	if !m.p.strong.increment(1) {
		return nil
	}
	return &MarkedRC[T]{RC: RC[T]{p: m.p}, mark: m.mark}
}

func (m *MarkedWeak[T]) ptr() *counted[T] {
	if m == nil {
		return nil
	}
	return m.p
}

func (m *MarkedWeak[T]) word() *byte {
	if m == nil {
		return nil
	}
	return pack(m.p, m.mark)
}

// MarkedWeakSnapshot is a borrowed weak reference carrying a tag.
type MarkedWeakSnapshot[T any] struct {
	WeakSnapshot[T]
	mark uintptr
}

// IsNil reports whether the snapshot is null.
func (s *MarkedWeakSnapshot[T]) IsNil() bool {
	return s == nil || s.p == nil
}

// Mark returns the snapshot's tag.
func (s *MarkedWeakSnapshot[T]) Mark() uintptr {
	if s == nil {
		return 0
	}
	return s.mark
}

// SetMark replaces the snapshot's tag.
func (s *MarkedWeakSnapshot[T]) SetMark(mark uintptr) {
	checkMark(mark)
	s.mark = mark
}

// Upgrade attempts to take a strong unit, returning a tagged strong
// reference, or nil if the object expired.
func (s *MarkedWeakSnapshot[T]) Upgrade(h *Handle[T]) *MarkedRC[T] {
	rc := s.WeakSnapshot.Upgrade(h)
	if rc == nil {
		return nil
	}
	return &MarkedRC[T]{RC: *rc, mark: s.mark}
}

func (s *MarkedWeakSnapshot[T]) ptr() *counted[T] {
	if s == nil {
		return nil
	}
	return s.p
}

func (s *MarkedWeakSnapshot[T]) word() *byte {
	if s == nil {
		return nil
	}
	return pack(s.p, s.mark)
}

// MarkedAtomicWeak is an atomic holder of a tagged weak reference.
//
// A MarkedAtomicWeak must not be copied after first use.
type MarkedAtomicWeak[T any] struct {
	c cell[T]
}

// Load returns the stored pointer and tag as a fresh weak reference, or nil.
func (a *MarkedAtomicWeak[T]) Load(h *Handle[T]) *MarkedWeak[T] {
	w := loadAcquireIncrement(h, &a.c, true)
	p := ptrOf[T](w)
	if p == nil {
		return nil
	}
	return &MarkedWeak[T]{Weak: Weak[T]{p: p}, mark: markOf(w)}
}

// Snapshot returns the stored pointer and tag bound to an announcement slot,
// re-checking expiry the way AtomicWeak.Snapshot does.
func (a *MarkedAtomicWeak[T]) Snapshot(h *Handle[T]) *MarkedWeakSnapshot[T] {
	for {
		w, ref := h.dom.rec.protectSnapshot(h, &a.c, true)
		p := ptrOf[T](w)
		if p == nil {
			return nil
		}
		if p.strong.load() > 0 {
			return &MarkedWeakSnapshot[T]{WeakSnapshot: WeakSnapshot[T]{p: p, ref: ref}, mark: markOf(w)}
		}
		discardWeakSnapshot(h, p, ref)
		if a.c.p.Load() == w {
			return nil
		}
	}
}

// Store transfers desired's unit and tag into the cell, leaving desired
// null, and retires the displaced pointer. Pass nil to store null.
func (a *MarkedAtomicWeak[T]) Store(h *Handle[T], desired *MarkedWeak[T]) {
	var w *byte
	if desired != nil {
		w = pack(desired.take(), desired.mark)
	}
	storeTransfer(h, &a.c, w, true)
}

// Exchange atomically swaps the stored (pointer, tag) for desired's,
// transferring weak units both ways.
func (a *MarkedAtomicWeak[T]) Exchange(_ *Handle[T], desired *MarkedWeak[T]) *MarkedWeak[T] {
	var w *byte
	if desired != nil {
		w = pack(desired.take(), desired.mark)
	}
	old := a.c.p.Swap(w)
	p := ptrOf[T](old)
	if p == nil {
		return nil
	}
	return &MarkedWeak[T]{Weak: Weak[T]{p: p}, mark: markOf(old)}
}

// CompareAndSwap installs a copy of desired iff the cell currently holds
// exactly expected's pointer and tag. The cell takes a weak unit on
// desired's pointee. Neither argument is consumed.
func (a *MarkedAtomicWeak[T]) CompareAndSwap(h *Handle[T], expected, desired Ref[T]) bool {
	return casDuplicate(h, &a.c, refWord(expected), desired, refWord(desired), true)
}

// Mark returns the cell's current tag.
func (a *MarkedAtomicWeak[T]) Mark() uintptr {
	return markOf(a.c.p.Load())
}

// SetMark replaces the cell's tag, keeping the pointer. Setting a tag on a
// null cell is a no-op.
func (a *MarkedAtomicWeak[T]) SetMark(_ *Handle[T], mark uintptr) {
	checkMark(mark)
	for {
		w := a.c.p.Load()
		p := ptrOf[T](w)
		if p == nil || markOf(w) == mark {
			return
		}
		if a.c.p.CompareAndSwap(w, pack(p, mark)) {
			return
		}
	}
}

// CompareAndSetMark replaces the cell's tag iff the cell currently holds
// exactly expected's pointer and tag.
func (a *MarkedAtomicWeak[T]) CompareAndSetMark(_ *Handle[T], expected Ref[T], mark uintptr) bool {
	checkMark(mark)
	expw := refWord(expected)
	p := ptrOf[T](expw)
	if p == nil {
		return false
	}
	return a.c.p.CompareAndSwap(expw, pack(p, mark))
}

// Contains reports whether the cell currently holds exactly ref's pointer
// and tag.
func (a *MarkedAtomicWeak[T]) Contains(ref Ref[T]) bool {
	return a.c.p.Load() == refWord(ref)
}
