package rcptr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	uatomic "go.uber.org/atomic"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
)

func TestEpochSequentialBasics(t *testing.T) {
	var destroyed uatomic.Int64
	dom, err := NewDomain[int](Config{MaxHandles: 2, Backend: EpochBackend}, WithFinalizer(func(_ *Handle[int], _ *int) {
		destroyed.Inc()
	}))
	require.NoError(t, err)

	h := dom.Handle()

	var cell Atomic[int]
	cell.Store(h, NewRC(h, 42))

	got := cell.Load(h)
	require.Equal(t, 42, *got.Value())
	got.Release(h)

	s := cell.Snapshot(h)
	require.Equal(t, 42, *s.Value())

	rc := s.ToRC(h)
	require.Equal(t, 42, *rc.Value())
	rc.Release(h)

	cell.Store(h, nil)
	h.Release()

	dom.Close()
	require.Equal(t, int64(1), destroyed.Load())
	require.Equal(t, int64(0), dom.CurrentlyAllocated())
}

func TestEpochSnapshotPinsReclamation(t *testing.T) {
	log := newDestructionLog()
	dom, err := NewDomain[int](Config{MaxHandles: 2, Backend: EpochBackend}, WithFinalizer(func(_ *Handle[int], v *int) {
		log.record(*v)
	}))
	require.NoError(t, err)
	defer dom.Close()

	h := dom.Handle()
	defer h.Release()

	var cell Atomic[int]
	cell.Store(h, NewRC(h, 42))

	snap := cell.Snapshot(h)

	// While the snapshot pins the row's epoch, nothing retired since the pin
	// may be reclaimed.
	for i := 0; i < 200; i++ {
		cell.Store(h, NewRC(h, 1000+i))
	}
	assert.Equal(t, 0, log.count(42))
	assert.Equal(t, 42, *snap.Value())

	snap.Release(h)
	for i := 0; i < 4*minScanThreshold; i++ {
		cell.Store(h, NewRC(h, 2000+i))
	}
	assert.Equal(t, 1, log.count(42))

	cell.Store(h, nil)
}

func TestEpochRetireStorm(t *testing.T) {
	const (
		workers   = 8
		perWorker = 5000
	)

	opts := goleak.IgnoreCurrent()

	var destroyed uatomic.Int64
	dom, err := NewDomain[int](Config{MaxHandles: workers + 1, Backend: EpochBackend}, WithFinalizer(func(_ *Handle[int], _ *int) {
		destroyed.Inc()
	}))
	require.NoError(t, err)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			h := dom.Handle()
			defer h.Release()

			var cell Atomic[int]
			for i := 0; i < perWorker; i++ {
				cell.Store(h, NewRC(h, i))
			}
			cell.Store(h, nil)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	dom.Close()
	assert.Equal(t, int64(workers*perWorker), destroyed.Load())
	assert.Equal(t, int64(0), dom.CurrentlyAllocated())

	goleak.VerifyNone(t, opts)
}
