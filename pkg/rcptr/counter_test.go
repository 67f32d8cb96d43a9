package rcptr

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStickyCounterZeroIsAbsorbing(t *testing.T) {
	var c stickyCounter
	c.store(0)

	require.False(t, c.increment(1))
	require.Equal(t, uint64(0), c.load())
}

func TestStickyCounterBasics(t *testing.T) {
	var c stickyCounter
	c.store(1)

	require.True(t, c.increment(1))
	require.Equal(t, uint64(2), c.load())

	require.False(t, c.decrement(1))
	require.True(t, c.decrement(1))
	require.Equal(t, uint64(0), c.load())

	// the transition to zero sticks
	require.False(t, c.increment(1))
	require.False(t, c.increment(100))
	require.Equal(t, uint64(0), c.load())
}

func TestStickyCounterDecrementByN(t *testing.T) {
	var c stickyCounter
	c.store(5)

	require.True(t, c.increment(3))
	require.True(t, c.decrement(8))
	require.False(t, c.increment(1))
}

func TestStickyCounterConcurrentUpgradeRace(t *testing.T) {
	const attempts = 1000

	for i := 0; i < attempts; i++ {
		var c stickyCounter
		c.store(1)

		var wg sync.WaitGroup
		wg.Add(2)

		var incOK, dead bool
		go func() {
			defer wg.Done()
			incOK = c.increment(1)
		}()
		go func() {
			defer wg.Done()
			dead = c.decrement(1)
		}()
		wg.Wait()

		if incOK {
			// the increment won: the decrement cannot have observed zero
			assert.False(t, dead)
			assert.True(t, c.decrement(1))
		} else {
			// the decrement won and the counter stuck
			assert.True(t, dead)
			assert.Equal(t, uint64(0), c.load())
		}
	}
}
