package risk

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/rustyeddy/daytrader/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCapital(total float64) *CapitalManager {
	return NewCapitalManager(config.CapitalConfig{
		TotalCapital:     total,
		MaxPositionSize:  0.1,
		MaxTotalExposure: 0.8,
	}, nil)
}

func assertConserved(t *testing.T, cm *CapitalManager) {
	t.Helper()
	for _, a := range cm.Status().Allocations {
		assert.InDelta(t, a.Allocated, a.Used+a.Available, 1e-6, "allocation %s", a.Symbol)
	}
}

func TestAllocateCapital(t *testing.T) {
	t.Parallel()

	cm := newCapital(100000)

	require.NoError(t, cm.AllocateCapital("INFY", 10000))
	a, ok := cm.Allocation("INFY")
	require.True(t, ok)
	assert.Equal(t, 10000.0, a.Allocated)
	assert.Equal(t, 10000.0, a.Available)
	assert.Equal(t, 10000.0, a.MaxAllowed)

	require.NoError(t, cm.AllocateCapital("INFY", 5000))
	a, _ = cm.Allocation("INFY")
	assert.Equal(t, 15000.0, a.Allocated)
	assert.Equal(t, 15000.0, cm.Status().Allocated)
}

func TestAllocateCapitalRejects(t *testing.T) {
	t.Parallel()

	cm := newCapital(100000)

	assert.True(t, errors.Is(cm.AllocateCapital("INFY", 0), ErrInvalidAmount))
	assert.True(t, errors.Is(cm.AllocateCapital("INFY", -5), ErrInvalidAmount))

	require.NoError(t, cm.AllocateCapital("INFY", 70000))
	err := cm.AllocateCapital("TCS", 20000)
	assert.True(t, errors.Is(err, ErrExposureLimit))

	_, ok := cm.Allocation("TCS")
	assert.False(t, ok, "failed allocation must not create state")
	assert.Equal(t, 70000.0, cm.Status().Allocated)
}

func TestAllocateCapitalFreeCapital(t *testing.T) {
	t.Parallel()

	cm := NewCapitalManager(config.CapitalConfig{TotalCapital: 1000, MaxPositionSize: 1, MaxTotalExposure: 1}, nil)
	require.NoError(t, cm.AllocateCapital("A", 600))
	cm.AdjustForPnL(-500)

	// exposure limit is now 500 and 600 is already allocated
	err := cm.AllocateCapital("B", 100)
	assert.Error(t, err)
}

func TestUseAndReleaseCapital(t *testing.T) {
	t.Parallel()

	cm := newCapital(100000)
	require.NoError(t, cm.AllocateCapital("INFY", 10000))

	assert.True(t, errors.Is(cm.UseCapital("TCS", 100), ErrNoAllocation))
	assert.True(t, errors.Is(cm.UseCapital("INFY", 20000), ErrInsufficientAlloc))

	require.NoError(t, cm.UseCapital("INFY", 4000))
	a, _ := cm.Allocation("INFY")
	assert.Equal(t, 4000.0, a.Used)
	assert.Equal(t, 6000.0, a.Available)
	assert.Equal(t, 4000.0, cm.Status().Used)

	assert.True(t, errors.Is(cm.ReleaseCapital("INFY", 5000), ErrReleaseExceedsUsed))
	assert.True(t, errors.Is(cm.ReleaseCapital("INFY", 0), ErrInvalidAmount))
	assert.True(t, errors.Is(cm.ReleaseCapital("TCS", 10), ErrNoAllocation))

	require.NoError(t, cm.ReleaseCapital("INFY", 4000))
	a, _ = cm.Allocation("INFY")
	assert.Equal(t, 0.0, a.Used)
	assert.Equal(t, 10000.0, a.Available)
	assertConserved(t, cm)
}

func TestCapitalConservationRandomWalk(t *testing.T) {
	t.Parallel()

	cm := newCapital(100000)
	symbols := []string{"INFY", "TCS", "SBIN"}
	for _, s := range symbols {
		require.NoError(t, cm.AllocateCapital(s, 10000))
	}

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		s := symbols[r.Intn(len(symbols))]
		amt := float64(r.Intn(5000) + 1)
		switch r.Intn(4) {
		case 0:
			_ = cm.AllocateCapital(s, amt)
		case 1:
			_ = cm.UseCapital(s, amt)
		case 2:
			_ = cm.ReleaseCapital(s, amt)
		case 3:
			cm.AdjustForPnL(amt - 2500)
		}
		assertConserved(t, cm)
	}
}

func TestAdjustForPnL(t *testing.T) {
	t.Parallel()

	cm := newCapital(100000)
	require.NoError(t, cm.AllocateCapital("INFY", 10000))

	cm.AdjustForPnL(5000)
	assert.Equal(t, 105000.0, cm.Current())
	a, _ := cm.Allocation("INFY")
	assert.InDelta(t, 10500.0, a.MaxAllowed, 1e-9)

	assert.InDelta(t, 10500.0, cm.PositionCeiling(), 1e-9)

	cm.AdjustForPnL(-10000)
	a, _ = cm.Allocation("INFY")
	assert.InDelta(t, 9500.0, a.MaxAllowed, 1e-9)
	assert.Equal(t, 10000.0, a.Allocated, "pnl does not touch allocations")
}

func TestMarginAndExposure(t *testing.T) {
	t.Parallel()

	cm := newCapital(100000)
	require.NoError(t, cm.AllocateCapital("INFY", 50000))
	require.NoError(t, cm.UseCapital("INFY", 40000))

	assert.True(t, cm.CheckMarginRequirements(60000))
	assert.False(t, cm.CheckMarginRequirements(60001))

	assert.NoError(t, cm.UpdatePositionExposure("INFY", 50000))
	assert.True(t, errors.Is(cm.UpdatePositionExposure("TCS", 40000), ErrExposureLimit))
	assert.Equal(t, 90000.0, cm.Status().TotalExposure)

	assert.NoError(t, cm.UpdatePositionExposure("TCS", 0))
	assert.Equal(t, 50000.0, cm.Status().TotalExposure)
}

func TestCapitalReset(t *testing.T) {
	t.Parallel()

	cm := newCapital(100000)
	require.NoError(t, cm.AllocateCapital("INFY", 10000))
	require.NoError(t, cm.UseCapital("INFY", 1000))
	cm.AdjustForPnL(-300)

	cm.Reset()
	st := cm.Status()
	assert.Equal(t, 100000.0, st.Current)
	assert.Zero(t, st.Allocated)
	assert.Zero(t, st.Used)
	assert.Empty(t, st.Allocations)
}
