package dgrid

import (
	"math"

	"github.com/amrvect/amrvect/sim"
	"github.com/amrvect/amrvect/sim/comm"
)

func init() {
	sim.NewMeshFromConfig = func(c *comm.Comm, cfg sim.Config) (sim.Mesh, error) {
		return New(c, DefaultOptions(cfg))
	}
}

// DefaultOptions maps a run configuration onto the standard scenario grid:
// a unit square of sqrt(cells) per side with one flat z layer, periodic in
// x and y, face neighborhoods only.
func DefaultOptions(cfg sim.Config) Options {
	side := uint64(math.Round(math.Sqrt(float64(cfg.Grid.Cells))))
	if side == 0 {
		side = 1
	}
	cellLength := 1 / float64(side)
	return Options{
		Length:             [3]uint64{side, side, 1},
		Periodic:           [3]bool{true, true, false},
		MaxRefinementLevel: cfg.Grid.MaxRefinementLevel,
		NeighborhoodLength: 0,
		Start:              [3]float64{0, 0, 0},
		Level0CellLength:   [3]float64{cellLength, cellLength, cellLength},
		Strategy:           cfg.Grid.LoadBalancer,
		Seed:               cfg.Seed,
	}
}
