package rcptr

import "sync/atomic"

// reclaimer is the boundary between the pointer types and a reclamation
// backend. A backend decides how a read is protected and when a retired
// pointer's deferred decrement is applied; the pointer contracts above it do
// not change.
type reclaimer[T any] interface {
	// acquire reads c with protection published for the value read. The
	// protection lasts until releaseTemp.
	acquire(h *Handle[T], c *cell[T]) *byte

	// reserve protects p, which the caller guarantees is currently live,
	// without a verification loop.
	reserve(h *Handle[T], p *counted[T])

	// releaseTemp drops the protection taken by acquire or reserve.
	releaseTemp(h *Handle[T])

	// protectSnapshot reads c with longer-lived protection suitable for a
	// snapshot pointer. weak records what kind of count the snapshot would
	// hold if its protection is later traded for a count.
	protectSnapshot(h *Handle[T], c *cell[T], weak bool) (*byte, snapRef[T])

	// snapProtected reports whether ref still protects p.
	snapProtected(p *counted[T], ref snapRef[T]) bool

	// releaseSnap drops ref's protection of p without touching any count.
	releaseSnap(h *Handle[T], p *counted[T], ref snapRef[T])

	// retire submits p for deferred decrement of its strong (or, when weak
	// is set, weak) count, and performs a bounded amount of amortised
	// reclamation work.
	retire(h *Handle[T], p *counted[T], weak bool)

	// drain applies every pending deferred decrement. Callers must guarantee
	// quiescence. Decrements triggered transitively by a drained decrement
	// are drained too.
	drain(h *Handle[T])
}

// snapRef is the protection state a backend attaches to one snapshot: the
// owning announcement slot for the hazard backend, or a pin on the handle's
// row for the epoch backend. The zero value protects nothing.
type snapRef[T any] struct {
	slot   *atomic.Pointer[counted[T]]
	pinned bool
}

// retired is one entry of a deferred decrement list.
type retired[T any] struct {
	p    *counted[T]
	weak bool
	// epoch is the global epoch at retirement. Unused by the hazard backend.
	epoch uint64
}
