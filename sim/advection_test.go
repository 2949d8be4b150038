package sim_test

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amrvect/amrvect/sim"
	"github.com/amrvect/amrvect/sim/comm"
	"github.com/amrvect/amrvect/sim/dgrid"
)

func e2eConfig(t *testing.T) sim.Config {
	return sim.Config{
		Grid: sim.GridConfig{
			Cells:              16,
			MaxRefinementLevel: 1,
			LoadBalancer:       "RCB",
		},
		Adapt: sim.AdaptConfig{
			RelativeDiff:        0.025,
			DiffThreshold:       0.25,
			UnrefineSensitivity: 0.5,
		},
		CFL:          0.5,
		Tmax:         0.2,
		AdaptEvery:   1,
		BalanceEvery: 2,
		SaveEvery:    0,
		Procs:        2,
		Seed:         42,
		OutputPrefix: filepath.Join(t.TempDir(), "adv_"),
	}
}

func TestRunGroup_RotatingFlowEndToEnd(t *testing.T) {
	// GIVEN the standard rotating-disk scenario on two ranks with
	// adaptation, balancing and snapshots all enabled
	cfg := e2eConfig(t)

	// WHEN the full run executes
	report, err := sim.RunGroup(cfg, sim.RotatingFlow(), nil)
	require.NoError(t, err)

	// THEN it steps to completion and writes first and last snapshots
	assert.GreaterOrEqual(t, report.InitialCells, uint64(16))
	assert.GreaterOrEqual(t, report.Steps, uint64(1))
	assert.Equal(t, uint64(2), report.FilesSaved)
	assert.Equal(t, 2, report.Processes)

	header, err := sim.ReadSnapshotHeader(sim.SnapshotFileName(cfg.OutputPrefix, 0))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), header.Step)
	assert.Equal(t, [3]uint64{4, 4, 1}, header.Length)
}

func TestRunGroup_InvalidConfigRejectedUpFront(t *testing.T) {
	cfg := e2eConfig(t)
	cfg.CFL = 2
	_, err := sim.RunGroup(cfg, sim.RotatingFlow(), nil)
	assert.Error(t, err)
}

func TestRunGroup_DegenerateVelocityAborts(t *testing.T) {
	// GIVEN an initial condition with no velocity anywhere
	cfg := e2eConfig(t)
	cfg.SaveEvery = sim.CadenceNever

	// WHEN the run starts
	_, err := sim.RunGroup(cfg, sim.Uniform(1, [3]float64{0, 0, 0}), nil)

	// THEN the unbounded stable step is reported instead of looping
	assert.Error(t, err)
}

// TestAdvection_MassConservedAtWideNeighborhood pairs a Chebyshev
// neighborhood with refinement: the coarse side of a coarse-fine face must
// see the fine cells, or its half of the face flux is silently dropped.
func TestAdvection_MassConservedAtWideNeighborhood(t *testing.T) {
	opts := dgrid.Options{
		Length:             [3]uint64{4, 4, 1},
		Periodic:           [3]bool{true, true, false},
		MaxRefinementLevel: 1,
		NeighborhoodLength: 1,
		Start:              [3]float64{0, 0, 0},
		Level0CellLength:   [3]float64{0.25, 0.25, 1},
		Strategy:           "BLOCK",
	}
	g, err := dgrid.New(comm.NewGroup(1).Rank(0), opts)
	require.NoError(t, err)

	for _, c := range g.Cells() {
		c.Density = 0.1 * float64(c.ID)
		c.Velocity = [3]float64{0.7, 0.3, 0}
	}
	decisions := make(map[sim.CellID]sim.Classification, len(g.Cells()))
	for _, c := range g.Cells() {
		decisions[c.ID] = sim.Keep
	}
	decisions[1] = sim.Refine
	_, _, err = g.Adapt(decisions, sim.TransferAll)
	require.NoError(t, err)
	g.ResyncHalos()

	total := func() float64 {
		var mass float64
		for _, c := range g.Cells() {
			mass += c.Density * c.Volume()
		}
		return mass
	}
	before := total()

	for step := 0; step < 5; step++ {
		g.StartHaloExchange()
		sim.CalculateFluxes(0.01, true, g)
		g.WaitHaloReceives()
		sim.CalculateFluxes(0.01, false, g)
		g.WaitHaloSends()
		sim.ApplyFluxes(g)
	}

	assert.InDelta(t, before, total(), 1e-12)
}

// TestAdvection_MassConservedThroughAdaptAndBalance drives the kernel
// directly against the distributed grid: repeated stepping with periodic
// adaptation and migration must not create or destroy mass.
func TestAdvection_MassConservedThroughAdaptAndBalance(t *testing.T) {
	cfg := e2eConfig(t)
	opts := dgrid.DefaultOptions(cfg)
	opts.Strategy = "RANDOM"

	classifier := sim.NewClassifier(cfg.Adapt, cfg.Grid.MaxRefinementLevel)

	var mu sync.Mutex
	mass := make(map[string]float64)
	addMass := func(key string, m sim.Mesh) {
		var total float64
		for _, c := range m.Cells() {
			total += c.Density * c.Volume()
		}
		mu.Lock()
		mass[key] += total
		mu.Unlock()
	}

	group := comm.NewGroup(2)
	var wg sync.WaitGroup
	for rank := 0; rank < 2; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			c := group.Rank(rank)
			g, err := dgrid.New(c, opts)
			require.NoError(t, err)

			// A sharp blob in uniform flow, so adaptation triggers.
			for _, cell := range g.Cells() {
				cell.Density = 0.01
				if cell.Center[0] < 0.3 && cell.Center[1] < 0.3 {
					cell.Density = 1
				}
				cell.Velocity = [3]float64{0.7, 0.3, 0}
			}
			g.ResyncHalos()
			addMass("before", g)

			const dtFrac = 0.01
			for step := 0; step < 12; step++ {
				g.StartHaloExchange()
				sim.CalculateFluxes(dtFrac, true, g)
				g.WaitHaloReceives()
				sim.CalculateFluxes(dtFrac, false, g)
				g.WaitHaloSends()
				sim.ApplyFluxes(g)

				if step%3 == 0 {
					decisions := classifier.Classify(g)
					_, _, err := g.Adapt(decisions, sim.TransferAll)
					require.NoError(t, err)
					g.ResyncHalos()
				}
				if step%2 == 0 {
					require.NoError(t, g.Balance(sim.TransferAll))
					g.ResyncHalos()
				}
			}
			addMass("after", g)
		}(rank)
	}
	wg.Wait()

	assert.InDelta(t, mass["before"], mass["after"], 1e-9)
}
