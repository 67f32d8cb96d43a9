package rcptr

import (
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	uatomic "go.uber.org/atomic"
)

// Option customises a Domain at construction time.
type Option[T any] func(*Domain[T])

// WithFinalizer installs fn to run exactly once, when an object's strong
// count reaches zero and before its payload is dropped. The finalizer
// receives the handle performing the release so it can retire references the
// payload holds, for example by storing nil into the payload's atomic cells.
func WithFinalizer[T any](fn func(*Handle[T], *T)) Option[T] {
	return func(d *Domain[T]) {
		d.finalizer = fn
	}
}

// Domain owns the shared state behind a family of reference-counted
// pointers: the handle registry, the announcement array and the deferred
// decrement engine. Pointers and cells from different domains must not be
// mixed.
type Domain[T any] struct {
	cfg       Config
	logger    log.Logger
	rec       reclaimer[T]
	finalizer func(*Handle[T], *T)

	inUse     []paddedBool
	allocated []paddedInt64
	closed    uatomic.Bool
}

type paddedBool struct {
	b uatomic.Bool
	_ [56]byte
}

type paddedInt64 struct {
	n uatomic.Int64
	_ [56]byte
}

// NewDomain builds a domain from cfg, applying defaults to zero fields.
func NewDomain[T any](cfg Config, opts ...Option[T]) (*Domain[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	d := &Domain[T]{
		cfg:       cfg,
		logger:    cfg.Logger,
		inUse:     make([]paddedBool, cfg.MaxHandles),
		allocated: make([]paddedInt64, cfg.MaxHandles),
	}
	for i := range opts {
		opts[i](d)
	}

	switch cfg.Backend {
	case EpochBackend:
		d.rec = newEpochEngine[T](d)
	default:
		d.rec = newHazardEngine[T](d)
	}

	level.Debug(d.logger).Log("msg", "domain created", "backend", cfg.Backend, "max_handles", cfg.MaxHandles, "snapshot_slots", cfg.SnapshotSlots, "delay", cfg.Delay)
	return d, nil
}

// Handle is a registered participant: the owner of one row of the
// announcement array. A handle belongs to one goroutine at a time; sharing a
// live handle between goroutines is a race.
type Handle[T any] struct {
	dom      *Domain[T]
	id       int
	released bool
}

// Handle takes a free registry row. Exceeding the configured capacity is a
// programmer error and panics.
func (d *Domain[T]) Handle() *Handle[T] {
	for i := range d.inUse {
		if d.inUse[i].b.CompareAndSwap(false, true) {
			metricHandlesInUse.Inc()
			return &Handle[T]{dom: d, id: i}
		}
	}
	panic(fmt.Sprintf("rcptr: more than %d handles in use; raise Config.MaxHandles or NUM_THREADS", d.cfg.MaxHandles))
}

// Release returns the handle's row to the registry. Any deferred decrements
// still queued on the row are inherited by its next owner, or applied when
// the domain closes. Snapshots bound to the handle must be released first.
func (h *Handle[T]) Release() {
	if h.released {
		return
	}
	h.released = true
	metricHandlesInUse.Dec()
	h.dom.inUse[h.id].b.Store(false)
}

// Close applies every pending deferred decrement and logs what remained. The
// caller must guarantee quiescence: no live handles, no concurrent
// operations.
func (d *Domain[T]) Close() {
	if !d.closed.CompareAndSwap(false, true) {
		return
	}
	h := &Handle[T]{dom: d, id: 0}
	d.rec.drain(h)
	level.Debug(d.logger).Log("msg", "domain closed", "still_allocated", d.CurrentlyAllocated())
}

// CurrentlyAllocated returns the number of counted objects created but not
// yet deallocated, summed across all rows.
func (d *Domain[T]) CurrentlyAllocated() int64 {
	var total int64
	for i := range d.allocated {
		total += d.allocated[i].n.Load()
	}
	return total
}

func (d *Domain[T]) incAllocations(id int) {
	d.allocated[id].n.Inc()
	metricAllocatedObjects.Inc()
}

func (d *Domain[T]) decAllocations(id int) {
	d.allocated[id].n.Dec()
	metricAllocatedObjects.Dec()
}

// releaseStrong gives back one strong unit, destroying the payload on the
// transition to zero.
func (d *Domain[T]) releaseStrong(h *Handle[T], c *counted[T]) {
	if c.strong.decrement(1) {
		d.destroy(h, c)
	}
}

// destroy runs the finalizer and drops the payload, then gives back the weak
// unit held collectively by the strong references.
func (d *Domain[T]) destroy(h *Handle[T], c *counted[T]) {
	if d.finalizer != nil {
		d.finalizer(h, &c.value)
	}
	var zero T
	c.value = zero
	d.releaseWeak(h, c)
}

// releaseWeak gives back one weak unit. On the transition to zero the block
// is dead: nothing can reach it again and the collector may reclaim it.
func (d *Domain[T]) releaseWeak(h *Handle[T], c *counted[T]) {
	if c.weak.decrement(1) {
		d.decAllocations(h.id)
	}
}

// applyDecrement lands one deferred decrement.
func (d *Domain[T]) applyDecrement(h *Handle[T], r retired[T]) {
	if r.weak {
		d.releaseWeak(h, r.p)
		return
	}
	d.releaseStrong(h, r.p)
}

// mustIncrementStrong takes a strong unit on an object the caller knows is
// protected. Failure means the protection reasoning is broken somewhere.
func mustIncrementStrong[T any](c *counted[T]) {
	if !c.strong.increment(1) {
		panic("rcptr: strong count of a protected object hit zero")
	}
}

// mustIncrementWeak is the weak-count analogue.
func mustIncrementWeak[T any](c *counted[T]) {
	if !c.weak.increment(1) {
		panic("rcptr: weak count of a protected object hit zero")
	}
}
