package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClassifier(maxLevel int) *Classifier {
	return NewClassifier(AdaptConfig{
		RelativeDiff:        0.1,
		DiffThreshold:       0.01,
		UnrefineSensitivity: 0.5,
	}, maxLevel)
}

func TestClassify_SmoothField_Unrefines(t *testing.T) {
	// GIVEN a refined cell in a perfectly uniform field
	m := ring1D(8, 8, 2)
	for _, c := range m.cells {
		c.Density = 1
		c.Level = 1
	}

	// WHEN classified
	decisions := testClassifier(2).Classify(m)

	// THEN every cell asks to coarsen
	for _, c := range m.cells {
		assert.Equal(t, Unrefine, decisions[c.ID])
	}
}

func TestClassify_SharpJump_Refines(t *testing.T) {
	// GIVEN a density jump well above both thresholds
	m := ring1D(8, 8, 2)
	for _, c := range m.cells {
		c.Density = 0.1
	}
	m.cells[3].Density = 1

	// WHEN classified
	decisions := testClassifier(2).Classify(m)

	// THEN the jump cell and its face neighbors refine
	assert.Equal(t, Refine, decisions[m.cells[2].ID])
	assert.Equal(t, Refine, decisions[m.cells[3].ID])
	assert.Equal(t, Refine, decisions[m.cells[4].ID])
}

func TestClassify_HysteresisBand_Keeps(t *testing.T) {
	// GIVEN level-1 cells whose metric falls strictly between the
	// unrefine threshold (0.5 * 0.05) and the refine threshold (0.05)
	cl := testClassifier(2)
	m := ring1D(8, 8, 2)
	for _, c := range m.cells {
		c.Density = 1
		c.Level = 1
	}
	// Alternate densities for a relative difference of ~0.04.
	for i, c := range m.cells {
		if i%2 == 0 {
			c.Density = 1.04
		}
	}

	// WHEN classified
	decisions := cl.Classify(m)

	// THEN the cells keep their level: neither refine nor unrefine
	for _, c := range m.cells {
		assert.Equal(t, Keep, decisions[c.ID], "cell %d", c.ID)
	}
}

func TestClassify_AtMaxLevel_RoughCellKeeps(t *testing.T) {
	// GIVEN a sharp jump on cells already at the maximum level
	m := ring1D(8, 8, 1)
	for _, c := range m.cells {
		c.Density = 0.1
		c.Level = 1
	}
	m.cells[3].Density = 1

	// WHEN classified with max level 1
	decisions := testClassifier(1).Classify(m)

	// THEN no cell refines past the cap and rough cells block coarsening
	for _, c := range m.cells {
		assert.NotEqual(t, Refine, decisions[c.ID])
	}
	assert.Equal(t, Keep, decisions[m.cells[3].ID])
}

func TestClassify_Level0NeverUnrefines(t *testing.T) {
	// GIVEN a uniform field at the base level
	m := ring1D(4, 4, 2)
	for _, c := range m.cells {
		c.Density = 1
	}

	// WHEN classified
	decisions := testClassifier(2).Classify(m)

	// THEN nothing coarsens below level 0
	for _, c := range m.cells {
		assert.Equal(t, Keep, decisions[c.ID])
	}
}

func TestClassify_Deterministic(t *testing.T) {
	// GIVEN the same field classified twice
	cl := testClassifier(2)
	m := ring1D(16, 16, 2)
	seedField(m, [3]float64{0, 0, 0})

	first := cl.Classify(m)
	second := cl.Classify(m)

	// THEN the decisions are identical and classification did not
	// change the field
	require.Equal(t, first, second)
}

func TestClassify_WritesSmoothnessMetric(t *testing.T) {
	// GIVEN a known density contrast
	m := ring1D(4, 4, 2)
	for _, c := range m.cells {
		c.Density = 1
	}
	m.cells[0].Density = 2

	// WHEN classified
	testClassifier(2).Classify(m)

	// THEN the jump cell records |2-1|/max(2,1) = 0.5
	assert.InDelta(t, 0.5, m.cells[0].MaxDiff, 1e-15)
}

func TestClassify_SmallAbsoluteNoise_DoesNotRefine(t *testing.T) {
	// GIVEN a large relative contrast in a near-vacuum region, below
	// the absolute difference floor
	m := ring1D(4, 4, 2)
	for _, c := range m.cells {
		c.Density = 1e-6
	}
	m.cells[1].Density = 1e-3

	// WHEN classified
	decisions := testClassifier(2).Classify(m)

	// THEN the noise does not trigger refinement
	for _, c := range m.cells {
		assert.NotEqual(t, Refine, decisions[c.ID], "cell %d", c.ID)
	}
}
