// Package rcptr implements concurrent reference-counted smart pointers with
// deferred reclamation. It lets many goroutines read, write and
// compare-and-swap shared pointers without locks and without the per-read
// counter contention of naive atomic reference counting: reads publish the
// pointer into a per-handle announcement slot instead of touching the
// pointee's counter, and the decrements produced by overwrites are deferred
// until no announcement names the displaced pointer.
//
// Three pointer shapes cover the usual access patterns: RC is an owning
// strong reference, Snapshot is a borrowed reference protected by an
// announcement slot, and Weak observes an object without keeping its payload
// alive. Atomic and AtomicWeak are the shared cells those references move
// through, and the Marked family adds a tag in the low pointer bits that
// participates in the same compare-and-swap.
//
// All shared state lives in a Domain. A goroutine participates by taking a
// Handle, which owns one row of the announcement array:
//
//	dom, err := rcptr.NewDomain[int](rcptr.Config{})
//	...
//	h := dom.Handle()
//	defer h.Release()
//
//	var cell rcptr.Atomic[int]
//	cell.Store(h, rcptr.NewRC(h, 42))
//
//	s := cell.Snapshot(h)
//	fmt.Println(*s.Value())
//	s.Release(h)
//
// Reclamation is bounded but deferred; nothing is prompt. Reference cycles
// are not collected, exactly as with any other shared-ownership count.
package rcptr
