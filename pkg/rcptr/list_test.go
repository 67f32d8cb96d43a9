package rcptr

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
)

// A sorted linked-list set in the Harris style: removal first sets the
// logical-delete tag on the victim's next pointer, then unlinks it. Both
// steps are single marked compare-and-swaps.
type listNode struct {
	key  int
	next MarkedAtomic[listNode]
}

type list struct {
	head MarkedAtomic[listNode]
	tail MarkedAtomic[listNode]
}

func newListDomain(t *testing.T, maxHandles int) *Domain[listNode] {
	t.Helper()

	dom, err := NewDomain[listNode](Config{MaxHandles: maxHandles}, WithFinalizer(func(h *Handle[listNode], n *listNode) {
		n.next.Store(h, nil)
	}))
	require.NoError(t, err)
	return dom
}

func newList(h *Handle[listNode]) *list {
	l := &list{}
	tail := NewMarkedRC(h, listNode{key: math.MaxInt}, 0)
	head := NewMarkedRC(h, listNode{key: math.MinInt}, 0)
	head.Value().next.Store(h, tail.Clone())
	l.tail.Store(h, tail)
	l.head.Store(h, head)
	return l
}

// search returns adjacent snapshots (left, right) with left.key < key <=
// right.key, unlinking any marked run it walks over.
func (l *list) search(h *Handle[listNode], key int) (*MarkedSnapshot[listNode], *MarkedSnapshot[listNode]) {
	for {
		right := l.head.Snapshot(h)
		rightNxt := right.Value().next.Snapshot(h)
		var left, leftNxt *MarkedSnapshot[listNode]

		for {
			if rightNxt.Mark() == 0 {
				if left != nil {
					left.Release(h)
				}
				left = right
				if leftNxt != nil {
					leftNxt.Release(h)
					leftNxt = nil
				}
			} else if leftNxt == nil {
				leftNxt = right
			} else {
				right.Release(h)
			}
			rightNxt.SetMark(0)
			right = rightNxt
			rightNxt = right.Value().next.Snapshot(h)
			if rightNxt.Mark() == 0 && right.Value().key >= key {
				break
			}
		}
		if rightNxt != nil {
			rightNxt.Release(h)
		}

		// left and right must be adjacent; otherwise unlink the marked run
		// between them before returning.
		if leftNxt == nil || left.Value().next.CompareAndSwap(h, leftNxt, right) {
			if right.Value().next.Mark() == 0 {
				if leftNxt != nil {
					leftNxt.Release(h)
				}
				return left, right
			}
		}

		if left != nil {
			left.Release(h)
		}
		if leftNxt != nil {
			leftNxt.Release(h)
		}
		right.Release(h)
	}
}

func (l *list) find(h *Handle[listNode], key int) bool {
	left, right := l.search(h, key)
	found := right.Value().key == key
	left.Release(h)
	right.Release(h)
	return found
}

func (l *list) insert(h *Handle[listNode], key int) bool {
	for {
		left, right := l.search(h, key)
		if right.Value().key == key {
			left.Release(h)
			right.Release(h)
			return false
		}

		n := NewMarkedRC(h, listNode{key: key}, 0)
		n.Value().next.StoreSnapshot(h, right)
		ok := left.Value().next.CompareAndSwapTransfer(h, right, n)
		if !ok {
			n.Release(h)
		}
		left.Release(h)
		right.Release(h)
		if ok {
			return true
		}
	}
}

func (l *list) remove(h *Handle[listNode], key int) bool {
	for {
		left, right := l.search(h, key)
		if right.Value().key != key {
			left.Release(h)
			right.Release(h)
			return false
		}

		next := right.Value().next.Snapshot(h)
		if next.Mark() == 0 && right.Value().next.CompareAndSetMark(h, next, 1) {
			// physically unlink; a failure means someone else is already
			// cleaning up, so lend them a search pass
			if !left.Value().next.CompareAndSwap(h, right, next) {
				l2, r2 := l.search(h, key)
				l2.Release(h)
				r2.Release(h)
			}
			next.Release(h)
			left.Release(h)
			right.Release(h)
			return true
		}

		next.Release(h)
		left.Release(h)
		right.Release(h)
	}
}

func (l *list) empty(h *Handle[listNode]) bool {
	hd := l.head.Snapshot(h)
	defer hd.Release(h)

	nxt := hd.Value().next.Snapshot(h)
	defer nxt.Release(h)
	return nxt.Value().key == math.MaxInt
}

func (l *list) close(h *Handle[listNode]) {
	l.head.Store(h, nil)
	l.tail.Store(h, nil)
}

func TestListSequential(t *testing.T) {
	dom := newListDomain(t, 2)
	h := dom.Handle()

	l := newList(h)
	require.True(t, l.empty(h))

	require.True(t, l.insert(h, 2))
	require.True(t, l.insert(h, 1))
	require.True(t, l.insert(h, 3))
	require.False(t, l.insert(h, 2))

	require.True(t, l.find(h, 1))
	require.True(t, l.find(h, 2))
	require.True(t, l.find(h, 3))
	require.False(t, l.find(h, 4))

	require.True(t, l.remove(h, 2))
	require.False(t, l.remove(h, 2))
	require.False(t, l.find(h, 2))
	require.True(t, l.find(h, 1))
	require.True(t, l.find(h, 3))

	require.True(t, l.remove(h, 1))
	require.True(t, l.remove(h, 3))
	require.True(t, l.empty(h))

	l.close(h)
	h.Release()
	dom.Close()
	require.Equal(t, int64(0), dom.CurrentlyAllocated())
}

// Workers insert and remove disjoint key ranges; afterwards every key must
// be gone and the list empty head to tail.
func TestListConcurrentDisjointRanges(t *testing.T) {
	const (
		workers   = 8
		perWorker = 100
	)

	opts := goleak.IgnoreCurrent()

	dom := newListDomain(t, workers+1)
	h := dom.Handle()
	l := newList(h)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		base := w * perWorker
		g.Go(func() error {
			hh := dom.Handle()
			defer hh.Release()

			for k := base; k < base+perWorker; k++ {
				assert.True(t, l.insert(hh, k))
			}
			for k := base; k < base+perWorker; k++ {
				assert.True(t, l.find(hh, k))
			}
			for k := base; k < base+perWorker; k++ {
				assert.True(t, l.remove(hh, k))
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for k := 0; k < workers*perWorker; k++ {
		require.False(t, l.find(h, k))
	}
	require.True(t, l.empty(h))

	l.close(h)
	h.Release()
	dom.Close()
	require.Equal(t, int64(0), dom.CurrentlyAllocated())

	goleak.VerifyNone(t, opts)
}

// Marked compare-and-swap must commute with concurrent insertion after the
// marked node: the insert either lands before the mark or retries after
// finding a new predecessor.
func TestListContendedSameKeys(t *testing.T) {
	const (
		workers = 8
		rounds  = 300
		keys    = 16
	)

	opts := goleak.IgnoreCurrent()

	dom := newListDomain(t, workers+1)
	h := dom.Handle()
	l := newList(h)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			hh := dom.Handle()
			defer hh.Release()

			for i := 0; i < rounds; i++ {
				k := (i + w) % keys
				l.insert(hh, k)
				l.find(hh, k)
				l.remove(hh, k)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for k := 0; k < keys; k++ {
		l.remove(h, k)
	}
	require.True(t, l.empty(h))

	l.close(h)
	h.Release()
	dom.Close()
	require.Equal(t, int64(0), dom.CurrentlyAllocated())

	goleak.VerifyNone(t, opts)
}
