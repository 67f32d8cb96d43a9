package rcptr

// RC is an owning strong reference: it holds exactly one unit of the
// pointee's strong count for its lifetime. Unlike a garbage-collected
// reference, an RC must be explicitly released; the payload's finalizer runs
// the moment the last strong unit is given back.
//
// A nil *RC, and an RC that has been released or transferred, stand for the
// null pointer.
type RC[T any] struct {
	p *counted[T]
}

// NewRC allocates a counted object holding v and returns the sole strong
// reference to it.
func NewRC[T any](h *Handle[T], v T) *RC[T] {
	return &RC[T]{p: newCountedTracked(h, v)}
}

func newCountedTracked[T any](h *Handle[T], v T) *counted[T] {
	c := newCounted(v)
	h.dom.incAllocations(h.id)
	return c
}

// Value returns the payload. The reference must be non-null; dereferencing a
// null reference is a programmer error.
func (r *RC[T]) Value() *T {
	return &r.p.value
}

// IsNil reports whether the reference is null.
func (r *RC[T]) IsNil() bool {
	return r == nil || r.p == nil
}

// Clone returns a second owning reference to the same object. Cloning a live
// strong reference always succeeds: the count is positive by definition.
func (r *RC[T]) Clone() *RC[T] {
	if r.IsNil() {
		return nil
	}
	mustIncrementStrong(r.p)
	return &RC[T]{p: r.p}
}

// Release gives back the reference's strong unit. If this was the last one
// the payload is destroyed immediately; no deferral is involved, because a
// user-held strong reference is never the one an in-flight load depends on.
func (r *RC[T]) Release(h *Handle[T]) {
	if r.IsNil() {
		return
	}
	p := r.p
	r.p = nil
	h.dom.releaseStrong(h, p)
}

// UseCount returns the current strong count, for diagnostics only.
func (r *RC[T]) UseCount() uint64 {
	if r.IsNil() {
		return 0
	}
	return r.p.strong.load()
}

// Downgrade returns a weak reference to the same object. The strong
// reference is untouched.
func (r *RC[T]) Downgrade() *Weak[T] {
	if r.IsNil() {
		return nil
	}
	mustIncrementWeak(r.p)
	return &Weak[T]{p: r.p}
}

// take transfers the reference's unit out, leaving it null.
func (r *RC[T]) take() *counted[T] {
	if r == nil {
		return nil
	}
	p := r.p
	r.p = nil
	return p
}

func (r *RC[T]) ptr() *counted[T] {
	if r == nil {
		return nil
	}
	return r.p
}

func (r *RC[T]) word() *byte {
	return pack(r.ptr(), 0)
}

func (r *RC[T]) slotProtected() bool {
	return false
}
