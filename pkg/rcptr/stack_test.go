package rcptr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	uatomic "go.uber.org/atomic"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
)

// A Treiber stack, the smallest structure that exercises the full
// load/snapshot/compare-and-swap cycle.
type stackNode struct {
	v    int
	next Atomic[stackNode]
}

type stack struct {
	head Atomic[stackNode]
}

func newStackDomain(t *testing.T, maxHandles int) (*Domain[stackNode], *uatomic.Int64) {
	t.Helper()

	destroyed := &uatomic.Int64{}
	dom, err := NewDomain[stackNode](Config{MaxHandles: maxHandles}, WithFinalizer(func(h *Handle[stackNode], n *stackNode) {
		destroyed.Inc()
		n.next.Store(h, nil)
	}))
	require.NoError(t, err)
	return dom, destroyed
}

func (s *stack) push(h *Handle[stackNode], v int) {
	n := NewRC(h, stackNode{v: v})
	for {
		cur := s.head.Load(h)
		n.Value().next.Store(h, cur.Clone())
		if s.head.CompareAndSwapTransfer(h, cur, n) {
			cur.Release(h)
			return
		}
		cur.Release(h)
	}
}

func (s *stack) pop(h *Handle[stackNode]) (int, bool) {
	for {
		ss := s.head.Snapshot(h)
		if ss.IsNil() {
			return 0, false
		}
		next := ss.Value().next.Load(h)
		if s.head.CompareAndSwapTransfer(h, ss, next) {
			v := ss.Value().v
			ss.Release(h)
			return v, true
		}
		next.Release(h)
		ss.Release(h)
	}
}

func (s *stack) find(h *Handle[stackNode], v int) bool {
	// One snapshot protects the whole chain: every successor is kept alive
	// by its predecessor's next cell, and the predecessor cannot be
	// destroyed while the head is announced. Raw walks are fine from there.
	ss := s.head.Snapshot(h)
	defer ss.Release(h)

	for n := ss.ptr(); n != nil; n = ptrOf[stackNode](n.value.next.c.p.Load()) {
		if n.value.v == v {
			return true
		}
	}
	return false
}

func (s *stack) close(h *Handle[stackNode]) {
	s.head.Store(h, nil)
}

func TestStackSequential(t *testing.T) {
	dom, destroyed := newStackDomain(t, 2)
	h := dom.Handle()

	var s stack
	for i := 0; i < 10; i++ {
		s.push(h, i)
	}

	require.True(t, s.find(h, 0))
	require.True(t, s.find(h, 9))
	require.False(t, s.find(h, 10))

	for i := 9; i >= 0; i-- {
		v, ok := s.pop(h)
		require.True(t, ok)
		require.Equal(t, i, v)
	}
	_, ok := s.pop(h)
	require.False(t, ok)

	s.close(h)
	h.Release()
	dom.Close()
	require.Equal(t, int64(10), destroyed.Load())
	require.Equal(t, int64(0), dom.CurrentlyAllocated())
}

func TestStackConcurrent(t *testing.T) {
	const (
		workers   = 8
		perWorker = 2000
	)

	opts := goleak.IgnoreCurrent()

	dom, destroyed := newStackDomain(t, workers+1)

	var s stack
	var pushed, popped uatomic.Int64

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			h := dom.Handle()
			defer h.Release()

			for i := 0; i < perWorker; i++ {
				v := w*perWorker + i
				s.push(h, v)
				pushed.Add(int64(v))

				if i%2 == 1 {
					v, ok := s.pop(h)
					assert.True(t, ok)
					popped.Add(int64(v))
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	h := dom.Handle()
	for {
		v, ok := s.pop(h)
		if !ok {
			break
		}
		popped.Add(int64(v))
	}
	s.close(h)
	h.Release()

	require.Equal(t, pushed.Load(), popped.Load())

	dom.Close()
	require.Equal(t, int64(workers*perWorker), destroyed.Load())
	require.Equal(t, int64(0), dom.CurrentlyAllocated())

	goleak.VerifyNone(t, opts)
}
