package engine

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunGuardReserve(t *testing.T) {
	t.Run("budget ceiling", func(t *testing.T) {
		guard := NewRunGuard(0.10, 0)
		assert.NoError(t, guard.Reserve())
		guard.AddCost(0.10)
		assert.ErrorIs(t, guard.Reserve(), ErrBudgetExhausted)
	})

	t.Run("request ceiling", func(t *testing.T) {
		guard := NewRunGuard(0, 2)
		assert.NoError(t, guard.Reserve())
		assert.NoError(t, guard.Reserve())
		assert.ErrorIs(t, guard.Reserve(), ErrRateExceeded)
		assert.Equal(t, 2, guard.Requests())
	})

	t.Run("non-positive ceilings disable the checks", func(t *testing.T) {
		guard := NewRunGuard(0, 0)
		for i := 0; i < 100; i++ {
			require.NoError(t, guard.Reserve())
		}
		guard.AddCost(1e6)
		assert.NoError(t, guard.Reserve())
		assert.False(t, guard.Exhausted())
	})

	t.Run("parallel branches cannot race past the ceiling", func(t *testing.T) {
		guard := NewRunGuard(0, 10)

		var wg sync.WaitGroup
		var mu sync.Mutex
		granted := 0
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if guard.Reserve() == nil {
					mu.Lock()
					granted++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 10, granted)
		assert.Equal(t, 10, guard.Requests())
	})
}

func TestRunGuardAddCost(t *testing.T) {
	guard := NewRunGuard(1.0, 0)

	guard.AddCost(0.25)
	guard.AddCost(0.25)
	assert.InDelta(t, 0.5, guard.SpentUSD(), 1e-9)

	guard.AddCost(-1)
	guard.AddCost(math.NaN())
	guard.AddCost(math.Inf(1))
	assert.InDelta(t, 0.5, guard.SpentUSD(), 1e-9)
	assert.Len(t, guard.Warnings(), 3)
	assert.False(t, guard.Exhausted())
}
