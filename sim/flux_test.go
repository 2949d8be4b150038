package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amrvect/amrvect/sim/comm"
)

// seedField fills a mesh with a deterministic non-uniform field.
func seedField(m Mesh, velocity [3]float64) {
	for i, c := range m.Cells() {
		c.Density = 0.1 + 0.05*float64(i%7)
		c.Velocity = velocity
	}
}

func TestCalculateFluxes_SplitEqualsUnified(t *testing.T) {
	// GIVEN two identical meshes, one treating every cell as inner and
	// one split into inner and outer subsets
	unified := ring1D(16, 16, 0)
	split := ring1D(16, 10, 0)
	seedField(unified, [3]float64{0.3, 0, 0})
	seedField(split, [3]float64{0.3, 0, 0})

	// WHEN the unified mesh runs one pass and the split mesh runs both
	CalculateFluxes(0.01, true, unified)
	CalculateFluxes(0.01, true, split)
	CalculateFluxes(0.01, false, split)

	// THEN the accumulated fluxes are identical cell by cell
	for i := range unified.cells {
		assert.Equal(t, unified.cells[i].Flux, split.cells[i].Flux, "cell %d", i+1)
	}
}

func TestCalculateFluxes_ZeroVelocity_NoChange(t *testing.T) {
	// GIVEN a non-uniform field with zero velocity everywhere
	m := ring1D(8, 8, 0)
	seedField(m, [3]float64{0, 0, 0})
	before := make([]float64, len(m.cells))
	for i, c := range m.cells {
		before[i] = c.Density
	}

	// WHEN fluxes are computed and applied over several steps
	for step := 0; step < 5; step++ {
		CalculateFluxes(0.1, true, m)
		ApplyFluxes(m)
	}

	// THEN the field is bit-for-bit unchanged
	for i, c := range m.cells {
		assert.Equal(t, before[i], c.Density, "cell %d", i+1)
	}
}

func TestCalculateFluxes_ConservesMass(t *testing.T) {
	// GIVEN a non-uniform field advected around the periodic ring
	m := ring1D(16, 16, 0)
	seedField(m, [3]float64{0.5, 0, 0})
	before := totalMass(m)

	// WHEN many steps run
	for step := 0; step < 50; step++ {
		CalculateFluxes(0.02, true, m)
		ApplyFluxes(m)
	}

	// THEN total mass is unchanged up to rounding
	assert.InDelta(t, before, totalMass(m), 1e-12)
}

func TestCalculateFluxes_UpwindDonor(t *testing.T) {
	// GIVEN flow in +x with all mass in one cell
	m := ring1D(4, 4, 0)
	for _, c := range m.cells {
		c.Velocity = [3]float64{1, 0, 0}
	}
	m.cells[1].Density = 1

	// WHEN one step runs
	CalculateFluxes(0.01, true, m)
	ApplyFluxes(m)

	// THEN mass moved only downstream, never upstream
	assert.Less(t, m.cells[1].Density, 1.0)
	assert.Greater(t, m.cells[2].Density, 0.0)
	assert.Equal(t, 0.0, m.cells[0].Density)
	assert.Equal(t, 0.0, m.cells[3].Density)
}

func TestApplyFluxes_ResetsAccumulators(t *testing.T) {
	m := ring1D(4, 4, 0)
	seedField(m, [3]float64{1, 0, 0})
	CalculateFluxes(0.01, true, m)
	ApplyFluxes(m)
	for _, c := range m.cells {
		assert.Equal(t, 0.0, c.Flux)
	}
}

func TestStableTimeStep_MinOverCellsAndAxes(t *testing.T) {
	// GIVEN cells with differing velocities on one rank
	m := ring1D(4, 4, 0)
	for _, c := range m.cells {
		c.Velocity = [3]float64{0.5, 0, 0}
	}
	m.cells[2].Velocity = [3]float64{0.5, 4, 0} // y axis dominates: 1/4

	c := comm.NewGroup(1).Rank(0)

	// WHEN the stable step is computed
	dt, err := StableTimeStep(m, c)

	// THEN it is the tightest constraint across all cells and axes
	require.NoError(t, err)
	assert.InDelta(t, 0.25, dt, 1e-15)
}

func TestStableTimeStep_ZeroVelocityEverywhere_Fails(t *testing.T) {
	// GIVEN a mesh with no velocity anywhere
	m := ring1D(4, 4, 0)
	c := comm.NewGroup(1).Rank(0)

	// WHEN the stable step is computed
	_, err := StableTimeStep(m, c)

	// THEN the unbounded step is reported as degeneracy
	assert.Error(t, err)
}

func TestStableTimeStep_ReducedAcrossRanks(t *testing.T) {
	// GIVEN two ranks whose local constraints differ
	results := make(chan float64, 2)
	g := comm.NewGroup(2)
	done := make(chan error, 2)
	for rank := 0; rank < 2; rank++ {
		go func(rank int) {
			m := ring1D(4, 4, 0)
			v := 1.0
			if rank == 1 {
				v = 4.0 // tighter: h/4
			}
			for _, c := range m.cells {
				c.Velocity = [3]float64{v, 0, 0}
			}
			dt, err := StableTimeStep(m, g.Rank(rank))
			results <- dt
			done <- err
		}(rank)
	}

	// THEN both ranks agree on the global minimum
	h := 1.0 / 4
	for i := 0; i < 2; i++ {
		require.NoError(t, <-done)
		assert.InDelta(t, h/4, <-results, 1e-15)
	}
}
