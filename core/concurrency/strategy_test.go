package concurrency

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectStrategy_NeverBlocksWithTasks(t *testing.T) {
	probes := 0
	selectNow := func() (int, error) {
		probes++
		return 0, nil
	}
	for _, s := range []SelectStrategy{DefaultSelectStrategy{}, BusyWaitStrategy{}} {
		n, err := s.CalculateStrategy(selectNow, true)
		require.NoError(t, err)
		assert.NotEqual(t, SelectBlock, n)
		assert.GreaterOrEqual(t, n, 0)
	}
	assert.Equal(t, 2, probes)
}

func TestSelectStrategy_IdleResults(t *testing.T) {
	never := func() (int, error) {
		t.Fatal("probe must not run without tasks")
		return 0, nil
	}
	n, err := DefaultSelectStrategy{}.CalculateStrategy(never, false)
	require.NoError(t, err)
	assert.Equal(t, SelectBlock, n)

	n, err = BusyWaitStrategy{}.CalculateStrategy(never, false)
	require.NoError(t, err)
	assert.Equal(t, SelectBusyWait, n)
}

func TestSelectStrategy_ProbeCountAndError(t *testing.T) {
	n, err := DefaultSelectStrategy{}.CalculateStrategy(func() (int, error) { return 4, nil }, true)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	boom := errors.New("probe failed")
	_, err = DefaultSelectStrategy{}.CalculateStrategy(func() (int, error) { return 0, boom }, true)
	assert.ErrorIs(t, err, boom)
}

func TestStrategyByName(t *testing.T) {
	s, ok := StrategyByName("busy-wait")
	require.True(t, ok)
	assert.IsType(t, BusyWaitStrategy{}, s)

	s, ok = StrategyByName("")
	require.True(t, ok)
	assert.IsType(t, DefaultSelectStrategy{}, s)

	_, ok = StrategyByName("spin-forever")
	assert.False(t, ok)
}
