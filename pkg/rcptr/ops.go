package rcptr

// Word-level primitives shared by the strong, weak, marked and unmarked cell
// types. Each takes the packed (pointer, mark) representation; weak selects
// which count the cell's unit lives in.

// loadAcquireIncrement reads the cell under announcement protection, takes a
// fresh unit on the pointee, then drops the protection.
func loadAcquireIncrement[T any](h *Handle[T], c *cell[T], weak bool) *byte {
	w := h.dom.rec.acquire(h, c)
	if p := ptrOf[T](w); p != nil {
		if weak {
			mustIncrementWeak(p)
		} else {
			mustIncrementStrong(p)
		}
	}
	h.dom.rec.releaseTemp(h)
	return w
}

// storeTransfer installs w, whose unit the caller has already given up, and
// retires the displaced pointer.
func storeTransfer[T any](h *Handle[T], c *cell[T], w *byte, weak bool) {
	old := c.p.Swap(w)
	if p := ptrOf[T](old); p != nil {
		h.dom.rec.retire(h, p, weak)
	}
}

// storeNonRacy is storeTransfer by plain load and store, valid only while no
// other goroutine writes the cell.
func storeNonRacy[T any](h *Handle[T], c *cell[T], w *byte, weak bool) {
	old := c.p.Load()
	c.p.Store(w)
	if p := ptrOf[T](old); p != nil {
		h.dom.rec.retire(h, p, weak)
	}
}

// casRetire swaps expw for desw and retires the displaced pointer. The
// retirement of the displaced pointer linearises with the installation.
func casRetire[T any](h *Handle[T], c *cell[T], expw, desw *byte, weak bool) bool {
	if c.p.CompareAndSwap(expw, desw) {
		if p := ptrOf[T](expw); p != nil {
			h.dom.rec.retire(h, p, weak)
		}
		return true
	}
	return false
}

// casDuplicate is the copy-semantics compare-and-swap: on success the cell
// receives a freshly incremented unit on desired's pointee and desired stays
// live. desired is protected across the gap between installation and
// increment — by its own slot if it still has one, otherwise by a temporary
// reservation.
func casDuplicate[T any](h *Handle[T], c *cell[T], expw *byte, desired Ref[T], desw *byte, weak bool) bool {
	dp := refPtr(desired)
	reserved := false
	if dp != nil && !refProtected(desired) {
		h.dom.rec.reserve(h, dp)
		reserved = true
	}

	ok := casRetire(h, c, expw, desw, weak)
	if ok && dp != nil {
		if weak {
			mustIncrementWeak(dp)
		} else {
			mustIncrementStrong(dp)
		}
	}

	if reserved {
		h.dom.rec.releaseTemp(h)
	}
	return ok
}
